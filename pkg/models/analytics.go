package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CaseAnalytics summarises activity on one case.
type CaseAnalytics struct {
	TotalPTPs       int             `json:"total_ptps"`
	KeptPTPs        int             `json:"kept_ptps"`
	BrokenPTPs      int             `json:"broken_ptps"`
	TotalPayments   decimal.Decimal `json:"total_payments"`
	PaymentCount    int             `json:"payment_count"`
	LastPaymentDate *time.Time      `json:"last_payment_date,omitempty"`
	DaysSinceOpened int             `json:"days_since_opened"`
}

// PortfolioAnalytics summarises a set of cases.
type PortfolioAnalytics struct {
	TotalCases       int             `json:"total_cases"`
	ActiveCases      int             `json:"active_cases"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	TotalCollected   decimal.Decimal `json:"total_collected"`
	CollectionRate   decimal.Decimal `json:"collection_rate"` // percent
}

// BucketCount is one row of a bucket distribution.
type BucketCount struct {
	Bucket Bucket `json:"bucket"`
	Count  int    `json:"count"`
}

// PTPPerformance counts promises by outcome.
type PTPPerformance struct {
	TotalPTPs         int             `json:"total_ptps"`
	KeptPTPs          int             `json:"kept_ptps"`
	BrokenPTPs        int             `json:"broken_ptps"`
	PartiallyKeptPTPs int             `json:"partially_kept_ptps"`
	KeepRatio         decimal.Decimal `json:"keep_ratio"` // percent
}

// PTPCaseAnalytics is the amount-weighted view of one case's promises.
type PTPCaseAnalytics struct {
	TotalPTPs           int             `json:"total_ptps"`
	TotalPromisedAmount decimal.Decimal `json:"total_promised_amount"`
	KeptAmount          decimal.Decimal `json:"kept_amount"`
	KeepRatio           decimal.Decimal `json:"keep_ratio"` // percent
}

// PaymentAnalytics counts payments by outcome.
type PaymentAnalytics struct {
	TotalPayments      int             `json:"total_payments"`
	TotalAmount        decimal.Decimal `json:"total_amount"` // successful payments only
	SuccessfulPayments int             `json:"successful_payments"`
	BouncedPayments    int             `json:"bounced_payments"`
	SuccessRate        decimal.Decimal `json:"success_rate"` // percent
}

// ModeAmount is one row of a payment-mode distribution.
type ModeAmount struct {
	Mode   PaymentMode     `json:"mode"`
	Amount decimal.Decimal `json:"amount"`
}

// Percent returns part/whole*100, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100))
}
