package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PromiseToPay is a customer's commitment to pay an amount by a date.
// Split sets are one parent whose PromisedAmount is the sum of its children.
type PromiseToPay struct {
	ID                  uuid.UUID        `json:"id"`
	PTPNumber           string           `json:"ptp_number"`
	CollectionCaseID    uuid.UUID        `json:"collection_case_id"`
	CustomerID          uuid.UUID        `json:"customer_id"`
	PromisedAmount      decimal.Decimal  `json:"promised_amount"`
	PromisedDate        time.Time        `json:"promised_date"`
	PaymentMode         PaymentMode      `json:"payment_mode"`
	Status              PTPStatus        `json:"status"`
	ParentPTPID         *uuid.UUID       `json:"parent_ptp_id,omitempty"`
	IsSplit             bool             `json:"is_split"`
	SplitSequence       int              `json:"split_sequence,omitempty"`
	TotalSplits         int              `json:"total_splits,omitempty"`
	ConfidenceLevel     int              `json:"confidence_level"`
	LinkedPaymentID     *uuid.UUID       `json:"linked_payment_id,omitempty"`
	ActualPaymentDate   *time.Time       `json:"actual_payment_date,omitempty"`
	ActualPaymentAmount *decimal.Decimal `json:"actual_payment_amount,omitempty"`
	RemindersSent       int              `json:"reminders_sent"`
	LastReminderAt      *time.Time       `json:"last_reminder_at,omitempty"`
	CancellationReason  string           `json:"cancellation_reason,omitempty"`
	CreatedByUserID     *uuid.UUID       `json:"created_by_user_id,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// IsParent reports whether the promise heads a split set.
func (p *PromiseToPay) IsParent() bool {
	return p.IsSplit && p.ParentPTPID == nil
}

// Follow-up states.
const (
	FollowUpPending   = "pending"
	FollowUpCompleted = "completed"
)

// PTPFollowUp is a scheduled check on a promise.
type PTPFollowUp struct {
	ID           uuid.UUID  `json:"id"`
	PTPID        uuid.UUID  `json:"ptp_id"`
	FollowUpDate time.Time  `json:"follow_up_date"`
	Channel      string     `json:"channel"`
	Status       string     `json:"status"`
	Notes        string     `json:"notes,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
