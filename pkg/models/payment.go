package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is money received against a loan account.
type Payment struct {
	ID                     uuid.UUID       `json:"id"`
	PaymentReferenceNumber string          `json:"payment_reference_number"`
	LoanAccountID          uuid.UUID       `json:"loan_account_id"`
	CustomerID             uuid.UUID       `json:"customer_id"`
	CollectionCaseID       *uuid.UUID      `json:"collection_case_id,omitempty"`
	PTPID                  *uuid.UUID      `json:"ptp_id,omitempty"`
	FieldVisitID           *uuid.UUID      `json:"field_visit_id,omitempty"`
	PaymentLinkID          *uuid.UUID      `json:"payment_link_id,omitempty"`
	Amount                 decimal.Decimal `json:"amount"`
	Mode                   PaymentMode     `json:"mode"`
	Status                 PaymentStatus   `json:"status"`
	PaymentDate            time.Time       `json:"payment_date"`

	// How the amount was spread over the loan when it was applied.
	InterestAmount  decimal.Decimal `json:"interest_amount"`
	PenaltyAmount   decimal.Decimal `json:"penalty_amount"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	ExcessAmount    decimal.Decimal `json:"excess_amount"`

	TransactionID       string     `json:"transaction_id,omitempty"`
	BankReferenceNumber string     `json:"bank_reference_number,omitempty"`
	UPIReferenceNumber  string     `json:"upi_reference_number,omitempty"`
	ChequeNumber        string     `json:"cheque_number,omitempty"`
	ChequeDate          *time.Time `json:"cheque_date,omitempty"`
	CollectedByUserID   *uuid.UUID `json:"collected_by_user_id,omitempty"`

	IsReconciled     bool       `json:"is_reconciled"`
	ReconciledAt     *time.Time `json:"reconciled_at,omitempty"`
	SettlementAt     *time.Time `json:"settlement_at,omitempty"`
	ReversalReason   string     `json:"reversal_reason,omitempty"`
	ReversedAt       *time.Time `json:"reversed_at,omitempty"`
	BounceReason     string     `json:"bounce_reason,omitempty"`
	BouncedAt        *time.Time `json:"bounced_at,omitempty"`
	PostedToLMSAt    *time.Time `json:"posted_to_lms_at,omitempty"`
	LMSTransactionID string     `json:"lms_transaction_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentDetails carries optional instrument data and links for a new payment.
type PaymentDetails struct {
	TransactionID       string     `json:"transaction_id,omitempty"`
	BankReferenceNumber string     `json:"bank_reference_number,omitempty"`
	UPIReferenceNumber  string     `json:"upi_reference_number,omitempty"`
	ChequeNumber        string     `json:"cheque_number,omitempty"`
	ChequeDate          *time.Time `json:"cheque_date,omitempty"`
	PTPID               *uuid.UUID `json:"ptp_id,omitempty"`
	FieldVisitID        *uuid.UUID `json:"field_visit_id,omitempty"`
	CollectedByUserID   *uuid.UUID `json:"collected_by_user_id,omitempty"`
}

// PaymentLink is a time-bounded, single-use request for payment.
type PaymentLink struct {
	ID                  uuid.UUID       `json:"id"`
	LinkID              string          `json:"link_id"` // Public id, carried as the token's jti
	LoanAccountID       uuid.UUID       `json:"loan_account_id"`
	CustomerID          uuid.UUID       `json:"customer_id"`
	CollectionCaseID    *uuid.UUID      `json:"collection_case_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	AllowPartialPayment bool            `json:"allow_partial_payment"`
	URL                 string          `json:"url"`
	ValidFrom           time.Time       `json:"valid_from"`
	ValidTo             time.Time       `json:"valid_to"`
	IsActive            bool            `json:"is_active"`
	UsedAt              *time.Time      `json:"used_at,omitempty"`
	PaymentID           *uuid.UUID      `json:"payment_id,omitempty"`
	DeliveryChannel     string          `json:"delivery_channel,omitempty"`
	SentAt              *time.Time      `json:"sent_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}
