package periods

import (
	"time"

	"github.com/google/uuid"
)

// State is the monitoring period's calendar state.
type State string

const (
	StateOpen             State = "ABERTO"
	StateClosed           State = "FECHADO"
	StateReopenRequested  State = "SOLICITADA_REABERTURA"
	StateAwaitingApproval State = "AGUARDANDO_APROVACAO_REABERTURA"
)

// ReopeningStatus tracks a reopening petition. The chief and board resolve
// petitions through distinct role-qualified values.
type ReopeningStatus string

const (
	ReopeningPending         ReopeningStatus = "PENDENTE"
	ReopeningAwaitingPayment ReopeningStatus = "AGUARDANDO_CONFIRMACAO_PAGAMENTO"
	ReopeningChiefApproved   ReopeningStatus = "APROVADA_CHEFE"
	ReopeningChiefRejected   ReopeningStatus = "REJEITADA_CHEFE"
	ReopeningApproved        ReopeningStatus = "APROVADA"
	ReopeningRejected        ReopeningStatus = "REJEITADA"
)

// Resolved reports whether the petition reached a terminal outcome.
func (s ReopeningStatus) Resolved() bool {
	return s == ReopeningApproved || s == ReopeningRejected || s == ReopeningChiefRejected
}

// Period is a fixed calendar window during which a monitoring obligation
// must be fulfilled.
type Period struct {
	ID             uuid.UUID  `json:"id"`
	SubjectID      int64      `json:"subject_id"`
	SequenceNumber int        `json:"sequence_number"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	State          State      `json:"state"`
	ReopenedUntil  *time.Time `json:"reopened_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Reopening is a payment-gated petition to reopen a closed period. A period
// holds at most one unresolved petition at a time.
type Reopening struct {
	ID            uuid.UUID       `json:"id"`
	PeriodID      uuid.UUID       `json:"period_id"`
	RequestedBy   int64           `json:"requested_by"`
	ReasonText    string          `json:"reason_text"`
	Status        ReopeningStatus `json:"status"`
	PaymentRef    *string         `json:"payment_ref,omitempty"`
	PaymentDocRef *string         `json:"payment_doc_ref,omitempty"`
	RequestedAt   time.Time       `json:"requested_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}
