package cases

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	tenLakh   = decimal.NewFromInt(1_000_000)
	fiveLakh  = decimal.NewFromInt(500_000)
	oneLakh   = decimal.NewFromInt(100_000)
	hundred   = decimal.NewFromInt(100)
	basePOP   = 0.5
	baseScore = decimal.NewFromInt(50)
)

// InitialPriority ranks a new case by how much is owed and how late it is, 0-100.
func InitialPriority(acc *models.LoanAccount) int {
	p := 0
	switch {
	case acc.TotalOutstanding.GreaterThan(tenLakh):
		p += 50
	case acc.TotalOutstanding.GreaterThan(fiveLakh):
		p += 30
	case acc.TotalOutstanding.GreaterThan(oneLakh):
		p += 20
	}
	switch {
	case acc.DaysPastDue > 90:
		p += 40
	case acc.DaysPastDue > 60:
		p += 30
	case acc.DaysPastDue > 30:
		p += 20
	}
	return min(p, 100)
}

// CollectionScore is 50, plus 20 past 90 DPD or 10 past 60, plus 15 above
// 500,000 outstanding, plus 15 times the probability of payment; at most 100.
func CollectionScore(c *models.CollectionCase) decimal.Decimal {
	score := baseScore
	switch {
	case c.DaysPastDue > 90:
		score = score.Add(decimal.NewFromInt(20))
	case c.DaysPastDue > 60:
		score = score.Add(decimal.NewFromInt(10))
	}
	if c.TotalOutstanding.GreaterThan(fiveLakh) {
		score = score.Add(decimal.NewFromInt(15))
	}
	if c.ProbabilityOfPayment != nil {
		score = score.Add(decimal.NewFromFloat(*c.ProbabilityOfPayment).Mul(decimal.NewFromInt(15)))
	}
	return decimal.Min(score, hundred).Round(2)
}

// ProbabilityOfPayment averages a 0.5 prior with the kept ratio of the case's promises.
func ProbabilityOfPayment(kept, total int) float64 {
	if total == 0 {
		return basePOP
	}
	return math.Min((basePOP+float64(kept)/float64(total))/2, 1.0)
}

// promiseCounts counts a case's promises. Split parents are left out since
// their children carry the outcome.
func promiseCounts(ctx context.Context, st store.Storage, caseID uuid.UUID) (total, kept, broken int, err error) {
	ptps, _, err := st.ListPTPs(ctx, models.PTPFilter{CollectionCaseID: &caseID, ExcludeParents: true})
	if err != nil {
		return 0, 0, 0, err
	}
	for _, p := range ptps {
		switch p.Status {
		case models.PTPStatusKept:
			kept++
		case models.PTPStatusBroken:
			broken++
		}
	}
	return len(ptps), kept, broken, nil
}

// UpdateCaseScore recomputes and stores the collection score.
func (m *Manager) UpdateCaseScore(ctx context.Context, caseID uuid.UUID) (*models.CollectionCase, error) {
	var c *models.CollectionCase
	err := m.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if c, err = loadCase(ctx, st, caseID); err != nil {
			return err
		}
		c.CollectionScore = CollectionScore(c)
		c.UpdatedAt = m.clock.Now()
		return st.UpdateCase(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	m.log.Debug("case score updated", zap.String("case_number", c.CaseNumber), zap.String("score", c.CollectionScore.String()))
	return c, nil
}

// UpdateCasePriority overrides the priority, which must be within 0-100.
func (m *Manager) UpdateCasePriority(ctx context.Context, caseID uuid.UUID, priority int) (*models.CollectionCase, error) {
	if priority < 0 || priority > 100 {
		return nil, fmt.Errorf("%w: priority must be between 0 and 100", models.ErrInvalidInput)
	}
	var c *models.CollectionCase
	err := m.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if c, err = loadCase(ctx, st, caseID); err != nil {
			return err
		}
		c.Priority = priority
		c.UpdatedAt = m.clock.Now()
		return st.UpdateCase(ctx, c)
	})
	return c, err
}

// RecalculateProbabilityOfPayment stores a fresh probability from the case's promise history.
func (m *Manager) RecalculateProbabilityOfPayment(ctx context.Context, caseID uuid.UUID) (*models.CollectionCase, error) {
	var c *models.CollectionCase
	err := m.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if c, err = loadCase(ctx, st, caseID); err != nil {
			return err
		}
		total, kept, _, err := promiseCounts(ctx, st, caseID)
		if err != nil {
			return err
		}
		pop := ProbabilityOfPayment(kept, total)
		c.ProbabilityOfPayment = &pop
		c.UpdatedAt = m.clock.Now()
		return st.UpdateCase(ctx, c)
	})
	return c, err
}
