package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer is the borrower behind one or more loan accounts.
type Customer struct {
	ID           uuid.UUID `json:"id"`
	CustomerCode string    `json:"customer_code"` // Key in the external loan management system
	FullName     string    `json:"full_name"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoanAccount holds the outstanding balance split the ledger allocates against.
// TotalOutstanding is always PrincipalOutstanding + InterestOutstanding + PenaltyOutstanding.
type LoanAccount struct {
	ID                   uuid.UUID       `json:"id"`
	AccountNumber        string          `json:"account_number"`
	CustomerID           uuid.UUID       `json:"customer_id"`
	ProductVertical      string          `json:"product_vertical,omitempty"`
	PrincipalOutstanding decimal.Decimal `json:"principal_outstanding"`
	InterestOutstanding  decimal.Decimal `json:"interest_outstanding"`
	PenaltyOutstanding   decimal.Decimal `json:"penalty_outstanding"`
	TotalOutstanding     decimal.Decimal `json:"total_outstanding"`
	// Ceilings for reversals: a component is never restored above these.
	OriginalPrincipal decimal.Decimal `json:"original_principal"`
	OriginalInterest  decimal.Decimal `json:"original_interest"`
	OriginalPenalty   decimal.Decimal `json:"original_penalty"`
	DaysPastDue       int             `json:"days_past_due"`
	CurrentBucket     Bucket          `json:"current_bucket"`
	LastPaymentDate   *time.Time      `json:"last_payment_date,omitempty"`
	LastPaymentAmount decimal.Decimal `json:"last_payment_amount"`
	TotalAmountPaid   decimal.Decimal `json:"total_amount_paid"`
	LastSyncedAt      *time.Time      `json:"last_synced_at,omitempty"`
	Version           int64           `json:"version"` // Optimistic concurrency token
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RecomputeTotal sets TotalOutstanding from its three components.
func (l *LoanAccount) RecomputeTotal() {
	l.TotalOutstanding = l.PrincipalOutstanding.Add(l.InterestOutstanding).Add(l.PenaltyOutstanding)
}

// User is the flat view of a collections user. Credentials live elsewhere.
type User struct {
	ID                 uuid.UUID  `json:"id"`
	DisplayName        string     `json:"display_name"`
	Email              string     `json:"email,omitempty"`
	Role               UserRole   `json:"role"`
	ReportingManagerID *uuid.UUID `json:"reporting_manager_id,omitempty"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
