package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CollectionCase is the working unit of recovery effort against one loan account.
type CollectionCase struct {
	ID                   uuid.UUID       `json:"id"`
	CaseNumber           string          `json:"case_number"`
	LoanAccountID        uuid.UUID       `json:"loan_account_id"`
	CustomerID           uuid.UUID       `json:"customer_id"`
	Status               CaseStatus      `json:"status"`
	CurrentBucket        Bucket          `json:"current_bucket"`
	PreviousBucket       *Bucket         `json:"previous_bucket,omitempty"`
	LastBucketChangeAt   *time.Time      `json:"last_bucket_change_at,omitempty"`
	DaysPastDue          int             `json:"days_past_due"`
	TotalOutstanding     decimal.Decimal `json:"total_outstanding"`
	PrincipalOutstanding decimal.Decimal `json:"principal_outstanding"`
	InterestOutstanding  decimal.Decimal `json:"interest_outstanding"`
	PenaltyOutstanding   decimal.Decimal `json:"penalty_outstanding"`
	Priority             int             `json:"priority"`         // 0-100
	CollectionScore      decimal.Decimal `json:"collection_score"` // 0-100
	// Nil until first computed from PTP history.
	ProbabilityOfPayment *float64   `json:"probability_of_payment,omitempty"`
	AssignedToUserID     *uuid.UUID `json:"assigned_to_user_id,omitempty"`
	LastAssignedAt       *time.Time `json:"last_assigned_at,omitempty"`
	OpenedAt             time.Time  `json:"opened_at"`
	ClosedAt             *time.Time `json:"closed_at,omitempty"`
	ResolutionType       string     `json:"resolution_type,omitempty"`
	IsDeleted            bool       `json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// CaseStatusHistory is an append-only record of one status transition.
type CaseStatusHistory struct {
	ID               uuid.UUID  `json:"id"`
	CollectionCaseID uuid.UUID  `json:"collection_case_id"`
	FromStatus       CaseStatus `json:"from_status"`
	ToStatus         CaseStatus `json:"to_status"`
	Reason           string     `json:"reason,omitempty"`
	ChangedByUserID  *uuid.UUID `json:"changed_by_user_id,omitempty"`
	ChangedAt        time.Time  `json:"changed_at"`
}

// CaseAssignmentHistory is an append-only record of one assignment change.
type CaseAssignmentHistory struct {
	ID               uuid.UUID  `json:"id"`
	CollectionCaseID uuid.UUID  `json:"collection_case_id"`
	FromUserID       *uuid.UUID `json:"from_user_id,omitempty"`
	ToUserID         uuid.UUID  `json:"to_user_id"`
	AssignmentType   string     `json:"assignment_type"`
	Reason           string     `json:"reason,omitempty"`
	AssignedByUserID *uuid.UUID `json:"assigned_by_user_id,omitempty"`
	AssignedAt       time.Time  `json:"assigned_at"`
}

// CaseNote is a free-text note left on a case.
type CaseNote struct {
	ID               uuid.UUID  `json:"id"`
	CollectionCaseID uuid.UUID  `json:"collection_case_id"`
	Text             string     `json:"text"`
	NoteType         string     `json:"note_type,omitempty"`
	IsPinned         bool       `json:"is_pinned"`
	CreatedByUserID  *uuid.UUID `json:"created_by_user_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
