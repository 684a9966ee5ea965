package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RollbackRestoresSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, acc := seedLoan(t, s, "LN-100")

	err := s.RunInTx(ctx, func(st Storage) error {
		a, err := st.GetLoanAccount(ctx, acc.ID)
		require.NoError(t, err)
		a.InterestOutstanding = decimal.Zero
		a.RecomputeTotal()
		require.NoError(t, st.UpdateLoanAccount(ctx, a))
		seedCase(t, st, a, "CASE202403000001", 10, t0)
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := s.GetLoanAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.InterestOutstanding.Equal(decimal.NewFromInt(100)))
	_, err = s.GetCaseByLoanAccount(ctx, acc.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, acc := seedLoan(t, s, "LN-101")

	a, err := s.GetLoanAccount(ctx, acc.ID)
	require.NoError(t, err)
	a.PrincipalOutstanding = decimal.Zero

	again, err := s.GetLoanAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, again.PrincipalOutstanding.Equal(decimal.NewFromInt(1000)))
}

func TestMemoryStore_VersionConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, acc := seedLoan(t, s, "LN-102")

	a, _ := s.GetLoanAccount(ctx, acc.ID)
	b, _ := s.GetLoanAccount(ctx, acc.ID)
	require.NoError(t, s.UpdateLoanAccount(ctx, a))
	assert.ErrorIs(t, s.UpdateLoanAccount(ctx, b), models.ErrConcurrentUpdate)
}

func TestMemoryStore_ListCasesFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	agent := uuid.New()
	_, a1 := seedLoan(t, s, "LN-110")
	_, a2 := seedLoan(t, s, "LN-111")
	c1 := seedCase(t, s, a1, "CASE202403000001", 40, t0)
	c2 := seedCase(t, s, a2, "CASE202403000002", 80, t0)

	c1.AssignedToUserID = &agent
	require.NoError(t, s.UpdateCase(ctx, c1))
	c2.Status = models.CaseStatusClosed
	require.NoError(t, s.UpdateCase(ctx, c2))

	mine, total, err := s.ListCases(ctx, models.CaseFilter{AssignedToUserID: &agent})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, c1.ID, mine[0].ID)

	open, _, err := s.ListCases(ctx, models.CaseFilter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, c1.ID, open[0].ID)

	byName, _, err := s.ListCases(ctx, models.CaseFilter{Search: "asha rao ln-111"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, c2.ID, byName[0].ID)
}

func TestMemoryStore_HistoryTiesKeepInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, acc := seedLoan(t, s, "LN-120")
	c := seedCase(t, s, acc, "CASE202403000001", 10, t0)

	for _, to := range []models.CaseStatus{models.CaseStatusNew, models.CaseStatusInProgress, models.CaseStatusEscalated} {
		require.NoError(t, s.CreateStatusHistory(ctx, &models.CaseStatusHistory{
			ID: uuid.New(), CollectionCaseID: c.ID, ToStatus: to, ChangedAt: t0,
		}))
	}
	hist, err := s.ListStatusHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, models.CaseStatusEscalated, hist[0].ToStatus)
	assert.Equal(t, models.CaseStatusNew, hist[2].ToStatus)
}

func TestMemoryStore_PendingFollowUps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, acc := seedLoan(t, s, "LN-130")
	c := seedCase(t, s, acc, "CASE202403000001", 10, t0)
	p := &models.PromiseToPay{
		ID: uuid.New(), PTPNumber: "PTP202403000001", CollectionCaseID: c.ID, CustomerID: acc.CustomerID,
		PromisedAmount: decimal.NewFromInt(100), PromisedDate: t0, Status: models.PTPStatusActive, ConfidenceLevel: 3,
	}
	require.NoError(t, s.CreatePTP(ctx, p))

	due := &models.PTPFollowUp{ID: uuid.New(), PTPID: p.ID, FollowUpDate: t0, Channel: "call", Status: models.FollowUpPending}
	later := &models.PTPFollowUp{ID: uuid.New(), PTPID: p.ID, FollowUpDate: t0.Add(48 * time.Hour), Channel: "sms", Status: models.FollowUpPending}
	require.NoError(t, s.CreateFollowUp(ctx, due))
	require.NoError(t, s.CreateFollowUp(ctx, later))

	pending, err := s.ListPendingFollowUps(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, due.ID, pending[0].ID)
}
