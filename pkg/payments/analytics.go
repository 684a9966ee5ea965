package payments

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/shopspring/decimal"
)

// Date ranges are half-open: from inclusive, to exclusive.

// PaymentAnalytics counts payments in the range by outcome. Only successful
// payments contribute to TotalAmount.
func (r *Recorder) PaymentAnalytics(ctx context.Context, from, to *time.Time) (*models.PaymentAnalytics, error) {
	rows, _, err := r.storage.ListPayments(ctx, models.PaymentFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	out := &models.PaymentAnalytics{TotalPayments: len(rows), TotalAmount: decimal.Zero}
	for _, p := range rows {
		switch p.Status {
		case models.PaymentStatusSuccess:
			out.SuccessfulPayments++
			out.TotalAmount = out.TotalAmount.Add(p.Amount)
		case models.PaymentStatusBounced:
			out.BouncedPayments++
		}
	}
	out.SuccessRate = models.Percent(decimal.NewFromInt(int64(out.SuccessfulPayments)), decimal.NewFromInt(int64(out.TotalPayments)))
	return out, nil
}

// CollectionEfficiencyIndex is successful collections in the range as a
// percentage of the outstanding on cases opened in the same range.
func (r *Recorder) CollectionEfficiencyIndex(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	cs, _, err := r.storage.ListCases(ctx, models.CaseFilter{})
	if err != nil {
		return decimal.Zero, err
	}
	demand := decimal.Zero
	for _, c := range cs {
		if !c.CreatedAt.Before(from) && c.CreatedAt.Before(to) {
			demand = demand.Add(c.TotalOutstanding)
		}
	}

	rows, _, err := r.storage.ListPayments(ctx, models.PaymentFilter{Status: models.PaymentStatusSuccess, From: &from, To: &to})
	if err != nil {
		return decimal.Zero, err
	}
	collected := decimal.Zero
	for _, p := range rows {
		collected = collected.Add(p.Amount)
	}
	return models.Percent(collected, demand), nil
}

// PaymentModeDistribution sums successful payments in the range per mode,
// largest amount first.
func (r *Recorder) PaymentModeDistribution(ctx context.Context, from, to time.Time) ([]models.ModeAmount, error) {
	rows, _, err := r.storage.ListPayments(ctx, models.PaymentFilter{Status: models.PaymentStatusSuccess, From: &from, To: &to})
	if err != nil {
		return nil, err
	}
	byMode := map[models.PaymentMode]decimal.Decimal{}
	for _, p := range rows {
		byMode[p.Mode] = byMode[p.Mode].Add(p.Amount)
	}
	out := make([]models.ModeAmount, 0, len(byMode))
	for mode, amount := range byMode {
		out = append(out, models.ModeAmount{Mode: mode, Amount: amount})
	}
	slices.SortFunc(out, func(a, b models.ModeAmount) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.Mode, b.Mode)
	})
	return out, nil
}
