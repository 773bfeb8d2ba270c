package documents

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgal-dev/sgal/internal/shared"
)

func TestGateRequiresReference(t *testing.T) {
	g := NewGate()
	_, err := g.Require(KindRUPEProof, "  ")
	require.ErrorIs(t, err, shared.ErrMissingDocument)
}

func TestGateRUPEMustBePDF(t *testing.T) {
	g := NewGate()

	_, err := g.Require(KindRUPEProof, "uploads/rupe/ref-123.docx")
	require.ErrorIs(t, err, shared.ErrMissingDocument)

	ref, err := g.Require(KindRUPEProof, "uploads/rupe/ref-123.PDF")
	require.NoError(t, err)
	require.Equal(t, "uploads/rupe/ref-123.PDF", ref)
}

func TestGateOpinionAcceptsAnyExtension(t *testing.T) {
	g := NewGate()
	ref, err := g.Require(KindOpinion, "uploads/opinions/parecer-9.docx")
	require.NoError(t, err)
	require.Equal(t, "uploads/opinions/parecer-9.docx", ref)
}
