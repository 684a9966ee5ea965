package cases

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/shopspring/decimal"
)

// collected sums the payments on a loan that still count as money received.
func collected(ctx context.Context, st store.Storage, loanAccountID uuid.UUID) (decimal.Decimal, []*models.Payment, error) {
	payments, _, err := st.ListPayments(ctx, models.PaymentFilter{LoanAccountID: &loanAccountID})
	if err != nil {
		return decimal.Zero, nil, err
	}
	sum := decimal.Zero
	counted := payments[:0]
	for _, p := range payments {
		if p.Status.Undone() || p.Status == models.PaymentStatusFailed {
			continue
		}
		sum = sum.Add(p.Amount)
		counted = append(counted, p)
	}
	return sum, counted, nil
}

// CaseAnalytics summarises promises and payments on one case.
func (m *Manager) CaseAnalytics(ctx context.Context, caseID uuid.UUID) (*models.CaseAnalytics, error) {
	c, err := loadCase(ctx, m.storage, caseID)
	if err != nil {
		return nil, err
	}
	total, kept, broken, err := promiseCounts(ctx, m.storage, caseID)
	if err != nil {
		return nil, err
	}
	sum, payments, err := collected(ctx, m.storage, c.LoanAccountID)
	if err != nil {
		return nil, err
	}

	out := &models.CaseAnalytics{
		TotalPTPs:       total,
		KeptPTPs:        kept,
		BrokenPTPs:      broken,
		TotalPayments:   sum,
		PaymentCount:    len(payments),
		DaysSinceOpened: int(m.clock.Now().Sub(c.OpenedAt).Hours() / 24),
	}
	for _, p := range payments {
		if out.LastPaymentDate == nil || p.PaymentDate.After(*out.LastPaymentDate) {
			d := p.PaymentDate
			out.LastPaymentDate = &d
		}
	}
	return out, nil
}

// PortfolioAnalytics summarises the cases of one assignee and/or product
// vertical. CollectionRate is collected over outstanding, as a percentage.
func (m *Manager) PortfolioAnalytics(ctx context.Context, userID *uuid.UUID, vertical string) (*models.PortfolioAnalytics, error) {
	rows, _, err := m.storage.ListCases(ctx, models.CaseFilter{AssignedToUserID: userID, ProductVertical: vertical})
	if err != nil {
		return nil, err
	}
	out := &models.PortfolioAnalytics{
		TotalCases:       len(rows),
		TotalOutstanding: decimal.Zero,
		TotalCollected:   decimal.Zero,
	}
	for _, c := range rows {
		if !c.Status.Terminal() {
			out.ActiveCases++
		}
		out.TotalOutstanding = out.TotalOutstanding.Add(c.TotalOutstanding)
		sum, _, err := collected(ctx, m.storage, c.LoanAccountID)
		if err != nil {
			return nil, err
		}
		out.TotalCollected = out.TotalCollected.Add(sum)
	}
	out.CollectionRate = models.Percent(out.TotalCollected, out.TotalOutstanding).Round(2)
	return out, nil
}
