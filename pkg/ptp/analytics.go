package ptp

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/shopspring/decimal"
)

// Split heads are left out of every ratio; their instalments carry the outcome.

func keepRatio(ptps []*models.PromiseToPay) decimal.Decimal {
	kept := 0
	for _, p := range ptps {
		if p.Status == models.PTPStatusKept {
			kept++
		}
	}
	return models.Percent(decimal.NewFromInt(int64(kept)), decimal.NewFromInt(int64(len(ptps))))
}

// KeepRatioForCustomer is kept/total*100 over a customer's promises, 0 when there are none.
// Instalments count individually; split heads are not counted.
func (e *Engine) KeepRatioForCustomer(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	rows, _, err := e.storage.ListPTPs(ctx, models.PTPFilter{CustomerID: &customerID, ExcludeParents: true})
	if err != nil {
		return decimal.Zero, err
	}
	return keepRatio(rows), nil
}

// KeepRatioForCase is kept/total*100 over a case's promises, 0 when there are none.
func (e *Engine) KeepRatioForCase(ctx context.Context, caseID uuid.UUID) (decimal.Decimal, error) {
	rows, _, err := e.storage.ListPTPs(ctx, models.PTPFilter{CollectionCaseID: &caseID, ExcludeParents: true})
	if err != nil {
		return decimal.Zero, err
	}
	return keepRatio(rows), nil
}

// Performance counts promise outcomes, optionally for the user who took them.
func (e *Engine) Performance(ctx context.Context, createdBy *uuid.UUID) (*models.PTPPerformance, error) {
	rows, _, err := e.storage.ListPTPs(ctx, models.PTPFilter{CreatedByUserID: createdBy, ExcludeParents: true})
	if err != nil {
		return nil, err
	}
	out := &models.PTPPerformance{TotalPTPs: len(rows), KeepRatio: keepRatio(rows)}
	for _, p := range rows {
		switch p.Status {
		case models.PTPStatusKept:
			out.KeptPTPs++
		case models.PTPStatusBroken:
			out.BrokenPTPs++
		case models.PTPStatusPartiallyKept:
			out.PartiallyKeptPTPs++
		}
	}
	return out, nil
}

// CaseAnalytics weighs a case's promises by amount.
func (e *Engine) CaseAnalytics(ctx context.Context, caseID uuid.UUID) (*models.PTPCaseAnalytics, error) {
	rows, _, err := e.storage.ListPTPs(ctx, models.PTPFilter{CollectionCaseID: &caseID, ExcludeParents: true})
	if err != nil {
		return nil, err
	}
	out := &models.PTPCaseAnalytics{TotalPTPs: len(rows), TotalPromisedAmount: decimal.Zero, KeptAmount: decimal.Zero}
	for _, p := range rows {
		out.TotalPromisedAmount = out.TotalPromisedAmount.Add(p.PromisedAmount)
		if p.Status == models.PTPStatusKept {
			out.KeptAmount = out.KeptAmount.Add(p.PromisedAmount)
		}
	}
	out.KeepRatio = models.Percent(out.KeptAmount, out.TotalPromisedAmount)
	return out, nil
}
