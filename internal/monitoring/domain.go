package monitoring

import (
	"time"

	"github.com/google/uuid"

	"github.com/sgal-dev/sgal/internal/identity"
)

// Status is the monitoring process lifecycle state. The chain is linear;
// the only branch is the opinion outcome.
type Status string

const (
	StatusAwaitingOpinion      Status = "AWAITING_OPINION"
	StatusAwaitingRUPE         Status = "AWAITING_RUPE"
	StatusAwaitingPayment      Status = "AWAITING_PAYMENT"
	StatusAwaitingConfirmation Status = "AWAITING_PAYMENT_CONFIRMATION"
	StatusAwaitingTechnicians  Status = "AWAITING_TECHNICIAN_SELECTION"
	StatusAwaitingVisit        Status = "AWAITING_VISIT"
	StatusVisitRecorded        Status = "VISIT_RECORDED"
	StatusAwaitingFinalDoc     Status = "AWAITING_FINAL_DOCUMENT"
	StatusCompleted            Status = "COMPLETED"
	StatusRejected             Status = "REJECTED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Outcome is the technical opinion verdict.
type Outcome string

const (
	OutcomeApproved         Outcome = "APROVADO"
	OutcomeNeedsImprovement Outcome = "CARECE_MELHORIAS"
	OutcomeRejected         Outcome = "REJEITADO"
)

// ValidOutcome reports whether o is a known opinion outcome.
func ValidOutcome(o Outcome) bool {
	return o == OutcomeApproved || o == OutcomeNeedsImprovement || o == OutcomeRejected
}

// RequiredTechnicians is the exact size of a visit team.
const RequiredTechnicians = 3

// Process is the per-period monitoring obligation. The technician set holds
// exactly zero or three members and freezes once the visit is recorded.
type Process struct {
	ID                      uuid.UUID                `json:"id"`
	PeriodID                uuid.UUID                `json:"period_id"`
	SubjectID               int64                    `json:"subject_id"`
	Status                  Status                   `json:"status"`
	Opinion                 *Outcome                 `json:"opinion,omitempty"`
	OpinionNotes            *string                  `json:"opinion_notes,omitempty"`
	OpinionDocRef           *string                  `json:"opinion_doc_ref,omitempty"`
	PaymentRef              *string                  `json:"payment_ref,omitempty"`
	PaymentDocRef           *string                  `json:"payment_doc_ref,omitempty"`
	ReceiptRef              *string                  `json:"receipt_ref,omitempty"`
	PaymentConfirmedByUser  bool                     `json:"payment_confirmed_by_user"`
	PaymentValidatedByStaff bool                     `json:"payment_validated_by_staff"`
	Technicians             []identity.TechnicianRef `json:"technicians,omitempty"`
	ScheduledVisitDate      *time.Time               `json:"scheduled_visit_date,omitempty"`
	ActualVisitDate         *time.Time               `json:"actual_visit_date,omitempty"`
	VisitNotes              *string                  `json:"visit_notes,omitempty"`
	VisitReportRef          *string                  `json:"visit_report_ref,omitempty"`
	FinalDocumentRef        *string                  `json:"final_document_ref,omitempty"`
	RejectionReason         *string                  `json:"rejection_reason,omitempty"`
	CreatedAt               time.Time                `json:"created_at"`
	UpdatedAt               time.Time                `json:"updated_at"`
}

// AssignedTo reports whether the given account is on the visit team.
func (p Process) AssignedTo(accountID int64) bool {
	for _, t := range p.Technicians {
		if t.ID == accountID {
			return true
		}
	}
	return false
}
