package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBucketForDPD(t *testing.T) {
	tests := []struct {
		dpd  int
		want Bucket
	}{
		{0, Bucket0To30},
		{30, Bucket0To30},
		{31, Bucket31To60},
		{90, Bucket61To90},
		{91, Bucket91To120},
		{150, Bucket121To150},
		{180, Bucket151To180},
		{181, Bucket180Plus},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketForDPD(tt.dpd), "dpd %d", tt.dpd)
	}
	assert.False(t, Bucket("365+").Valid())
}

func TestRecomputeTotal(t *testing.T) {
	l := LoanAccount{
		PrincipalOutstanding: decimal.NewFromInt(1000),
		InterestOutstanding:  decimal.RequireFromString("12.50"),
		PenaltyOutstanding:   decimal.NewFromInt(5),
	}
	l.RecomputeTotal()
	assert.True(t, l.TotalOutstanding.Equal(decimal.RequireFromString("1017.50")))
}

func TestPercent(t *testing.T) {
	assert.True(t, Percent(decimal.NewFromInt(3), decimal.NewFromInt(4)).Equal(decimal.NewFromInt(75)))
	assert.True(t, Percent(decimal.NewFromInt(3), decimal.Zero).IsZero())
}

func TestValidate(t *testing.T) {
	type command struct {
		Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
		Confidence int             `json:"confidence_level" validate:"min=1,max=5"`
		Name       string          `json:"name" validate:"required"`
	}

	assert.NoError(t, Validate(command{Amount: decimal.NewFromInt(10), Confidence: 3, Name: "x"}))

	err := Validate(command{Amount: decimal.Zero, Confidence: 9})
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.ErrorContains(t, err, "amount must be greater than 0")
	assert.ErrorContains(t, err, "confidence_level must be at most 5")
	assert.ErrorContains(t, err, "name is required")
}

func TestPaymentStatusUndone(t *testing.T) {
	assert.True(t, PaymentStatusReversed.Undone())
	assert.True(t, PaymentStatusBounced.Undone())
	assert.False(t, PaymentStatusSuccess.Undone())
}

func TestPaymentModeValid(t *testing.T) {
	assert.True(t, PaymentModeUPI.Valid())
	assert.True(t, PaymentModePDC.Valid())
	assert.False(t, PaymentMode("barter").Valid())
	assert.False(t, PaymentMode("").Valid())
}
