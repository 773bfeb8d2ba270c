// Package documents gates workflow transitions on required document
// references. Documents live in an external store; the gate only ever sees
// opaque path/id strings, never bytes.
package documents

import (
	"fmt"
	"path"
	"strings"

	"github.com/sgal-dev/sgal/internal/shared"
)

// Kind names a required-document slot in a workflow.
type Kind string

const (
	// KindRUPEProof is the issued government payment reference document.
	KindRUPEProof Kind = "RUPE_PROOF"
	// KindPaymentReceipt is the subject's proof of payment.
	KindPaymentReceipt Kind = "PAYMENT_RECEIPT"
	// KindOpinion is the written technical opinion.
	KindOpinion Kind = "OPINION"
	// KindVisitReport is the site-visit report.
	KindVisitReport Kind = "VISIT_REPORT"
	// KindFinalDocument is the monitoring period's final document.
	KindFinalDocument Kind = "FINAL_DOCUMENT"
)

// pdfOnly lists the slots that must reference PDF files.
var pdfOnly = map[Kind]bool{
	KindRUPEProof:     true,
	KindFinalDocument: true,
}

// Gate validates document references before a transition may claim them.
type Gate struct{}

// NewGate constructs a Gate.
func NewGate() *Gate {
	return &Gate{}
}

// Require checks that ref is present and, for PDF-only slots, names a .pdf
// path. It returns the normalized reference.
func (g *Gate) Require(kind Kind, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: %s", shared.ErrMissingDocument, kind)
	}
	if pdfOnly[kind] && !strings.EqualFold(path.Ext(ref), ".pdf") {
		return "", fmt.Errorf("%w: %s must be a PDF", shared.ErrMissingDocument, kind)
	}
	return ref, nil
}
