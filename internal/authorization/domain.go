package authorization

import (
	"time"

	"github.com/google/uuid"
)

// Status is the authorization request lifecycle state.
type Status string

const (
	// StatusPending awaits technician and chief validation.
	StatusPending Status = "PENDING"
	// StatusValidRUPE is validated and awaiting RUPE issuance.
	StatusValidRUPE Status = "VALID_RUPE"
	// StatusAwaitingPayment has a RUPE issued and awaits the subject's payment.
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	// StatusPaymentConfirmed has staff-validated payment and awaits the board.
	StatusPaymentConfirmed Status = "PAYMENT_CONFIRMED"
	// StatusApproved is the terminal success state.
	StatusApproved Status = "APPROVED"
	// StatusRejected is the terminal failure state.
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// RequestType enumerates the authorization kinds.
type RequestType string

const (
	TypeImport   RequestType = "IMPORTACAO"
	TypeExport   RequestType = "EXPORTACAO"
	TypeReexport RequestType = "REEXPORTACAO"
)

// ValidType reports whether t is a known request type.
func ValidType(t RequestType) bool {
	return t == TypeImport || t == TypeExport || t == TypeReexport
}

// Request is an authorization request. Status flags form an implication
// chain: BoardApproved implies PaymentValidatedByStaff implies
// PaymentConfirmedByUser implies ChiefValidated implies
// TechnicianValidated, except on the rejected path.
type Request struct {
	ID                      uuid.UUID   `json:"id"`
	CaseNumber              string      `json:"case_number"`
	Type                    RequestType `json:"type"`
	Status                  Status      `json:"status"`
	RequesterID             int64       `json:"requester_id"`
	CurrencyID              int64       `json:"currency_id"`
	ExchangeRate            float64     `json:"exchange_rate"`
	TotalValueLocal         float64     `json:"total_value_local"`
	FeeOwed                 float64     `json:"fee_owed"`
	TechnicianValidated     bool        `json:"technician_validated"`
	ChiefValidated          bool        `json:"chief_validated"`
	BoardApproved           bool        `json:"board_approved"`
	PaymentRef              *string     `json:"payment_ref,omitempty"`
	PaymentDocRef           *string     `json:"payment_doc_ref,omitempty"`
	ReceiptRef              *string     `json:"receipt_ref,omitempty"`
	PaymentConfirmedByUser  bool        `json:"payment_confirmed_by_user"`
	PaymentValidatedByStaff bool        `json:"payment_validated_by_staff"`
	RejectionReason         *string     `json:"rejection_reason,omitempty"`
	CreatedAt               time.Time   `json:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at"`
	Items                   []Item      `json:"items,omitempty"`
}

// Item belongs to one request. Immutable once the request leaves PENDING.
type Item struct {
	ID             int64     `json:"id"`
	RequestID      uuid.UUID `json:"request_id"`
	Quantity       float64   `json:"quantity"`
	UnitPrice      float64   `json:"unit_price"`
	TariffCodeID   int64     `json:"tariff_code_id"`
	BaseValueLocal float64   `json:"base_value_local"`
	Fee            float64   `json:"fee"`
}
