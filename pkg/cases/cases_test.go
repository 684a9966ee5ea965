package cases

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/ledger"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/mcclellann/fredCollect/pkg/users"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	st     store.Storage
	clock  *clock.Fixed
	ledger *ledger.Ledger
	users  *users.Directory
	cases  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	clk := clock.NewFixed(t0)
	dir := users.NewDirectory(st, clk, nil)
	return &fixture{
		st:     st,
		clock:  clk,
		ledger: ledger.NewLedger(st, clk, nil),
		users:  dir,
		cases:  NewManager(st, dir, clk, nil),
	}
}

func (f *fixture) loan(t *testing.T, number string, principal int64, dpd int) *models.LoanAccount {
	t.Helper()
	acc, err := f.ledger.OpenAccount(context.Background(), ledger.OpenAccountInput{
		AccountNumber:   number,
		CustomerCode:    "CUST-" + number,
		CustomerName:    "Vikram Shetty " + number,
		ProductVertical: "personal_loan",
		Principal:       decimal.NewFromInt(principal),
		Interest:        decimal.Zero,
		Penalty:         decimal.Zero,
		DaysPastDue:     dpd,
	})
	require.NoError(t, err)
	return acc
}

func (f *fixture) openCase(t *testing.T, number string, principal int64, dpd int) *models.CollectionCase {
	t.Helper()
	c, err := f.cases.CreateCase(context.Background(), f.loan(t, number, principal, dpd).ID, uuid.Nil)
	require.NoError(t, err)
	return c
}

func (f *fixture) user(t *testing.T, name string, role models.UserRole, manager *uuid.UUID) *models.User {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), users.CreateUserInput{DisplayName: name, Role: role, ReportingManagerID: manager})
	require.NoError(t, err)
	return u
}

func TestCreateCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.loan(t, "LN-1", 600_000, 95)

	c, err := f.cases.CreateCase(ctx, acc.ID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, "CASE202403000001", c.CaseNumber)
	assert.Equal(t, models.CaseStatusNew, c.Status)
	assert.Equal(t, 70, c.Priority)
	assert.Equal(t, models.Bucket91To120, c.CurrentBucket)
	assert.True(t, c.TotalOutstanding.Equal(decimal.NewFromInt(600_000)))

	hist, err := f.cases.StatusHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "case opened", hist[0].Reason)

	second := f.openCase(t, "LN-2", 1000, 0)
	assert.Equal(t, "CASE202403000002", second.CaseNumber)
}

func TestCreateCase_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.loan(t, "LN-1", 1000, 10)

	_, err := f.cases.CreateCase(ctx, acc.ID, uuid.Nil)
	require.NoError(t, err)

	_, err = f.cases.CreateCase(ctx, acc.ID, uuid.Nil)
	assert.ErrorIs(t, err, models.ErrDuplicateCase)

	_, err = f.cases.CreateCase(ctx, uuid.New(), uuid.Nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestInitialPriority(t *testing.T) {
	tests := []struct {
		outstanding int64
		dpd         int
		want        int
	}{
		{600_000, 95, 70},
		{2_000_000, 200, 90},
		{150_000, 45, 40},
		{50_000, 61, 30},
		{1_000_000, 30, 30},
		{10, 0, 0},
	}
	for _, tt := range tests {
		acc := &models.LoanAccount{TotalOutstanding: decimal.NewFromInt(tt.outstanding), DaysPastDue: tt.dpd}
		assert.Equal(t, tt.want, InitialPriority(acc), "outstanding %d dpd %d", tt.outstanding, tt.dpd)
	}
}

func TestUpdateStatus_WritesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.openCase(t, "LN-1", 1000, 10)
	agent := uuid.New()

	for _, s := range []models.CaseStatus{models.CaseStatusInProgress, models.CaseStatusPromiseToPay, models.CaseStatusEscalated} {
		f.clock.Advance(time.Minute)
		_, err := f.cases.UpdateStatus(ctx, c.ID, s, "follow up", agent)
		require.NoError(t, err)
	}

	got, err := f.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	hist, err := f.cases.StatusHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, got.Status, hist[0].ToStatus)
	assert.Equal(t, models.CaseStatusPromiseToPay, hist[0].FromStatus)
	assert.Equal(t, agent, *hist[0].ChangedByUserID)

	_, err = f.cases.UpdateStatus(ctx, c.ID, "lost", "", agent)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = f.cases.UpdateStatus(ctx, uuid.New(), models.CaseStatusOnHold, "", agent)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStatusHistory_SQLiteFrozenClock(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cases.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	clk := clock.NewFixed(t0)
	dir := users.NewDirectory(st, clk, nil)
	f := &fixture{st: st, clock: clk, ledger: ledger.NewLedger(st, clk, nil), users: dir, cases: NewManager(st, dir, clk, nil)}
	ctx := context.Background()
	c := f.openCase(t, "LN-1", 1000, 10)

	for _, s := range []models.CaseStatus{models.CaseStatusInProgress, models.CaseStatusEscalated, models.CaseStatusOnHold} {
		_, err := f.cases.UpdateStatus(ctx, c.ID, s, "", uuid.Nil)
		require.NoError(t, err)
	}

	got, err := f.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	hist, err := f.cases.StatusHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, models.CaseStatusOnHold, got.Status)
	assert.Equal(t, got.Status, hist[0].ToStatus)
	assert.Equal(t, models.CaseStatusEscalated, hist[0].FromStatus)
}

func TestCloseCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.openCase(t, "LN-1", 1000, 10)

	f.clock.Advance(time.Hour)
	closed, err := f.cases.CloseCase(ctx, c.ID, "full_recovery", uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusClosed, closed.Status)
	assert.Equal(t, "full_recovery", closed.ResolutionType)
	require.NotNil(t, closed.ClosedAt)

	hist, err := f.cases.StatusHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, models.CaseStatusClosed, hist[0].ToStatus)
}

func TestAssignCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.openCase(t, "LN-1", 1000, 10)
	first := f.user(t, "Asha", models.RoleRelationshipManager, nil)
	second := f.user(t, "Nikhil", models.RoleRelationshipManager, nil)

	got, err := f.cases.AssignCase(ctx, c.ID, first.ID, "", "", uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, *got.AssignedToUserID)

	f.clock.Advance(time.Minute)
	_, err = f.cases.AssignCase(ctx, c.ID, second.ID, "", "workload", first.ID)
	require.NoError(t, err)

	hist, err := f.cases.AssignmentHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, models.AssignmentReassignment, hist[0].AssignmentType)
	assert.Equal(t, first.ID, *hist[0].FromUserID)
	assert.Equal(t, models.AssignmentInitial, hist[1].AssignmentType)
	assert.Nil(t, hist[1].FromUserID)

	require.NoError(t, f.users.Deactivate(ctx, first.ID))
	_, err = f.cases.AssignCase(ctx, c.ID, first.ID, "", "", uuid.Nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = f.cases.AssignCase(ctx, c.ID, uuid.New(), "", "", uuid.Nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestAssignCasesBulk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.user(t, "Asha", models.RoleExternalRecoveryAgent, nil)
	c1 := f.openCase(t, "LN-1", 1000, 10)
	c2 := f.openCase(t, "LN-2", 1000, 10)
	missing := uuid.New()

	results := f.cases.AssignCasesBulk(ctx, []uuid.UUID{c1.ID, missing, c2.ID}, agent.ID, "monthly allocation", uuid.Nil)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, models.ErrNotFound)
	assert.NoError(t, results[2].Err)

	mine, err := f.cases.MyCases(ctx, agent.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	hist, err := f.cases.AssignmentHistory(ctx, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentBulk, hist[0].AssignmentType)
}

func TestTeamCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := f.user(t, "Lead", models.RoleTeamLeader, nil)
	member := f.user(t, "Member", models.RoleRelationshipManager, &lead.ID)
	outsider := f.user(t, "Outsider", models.RoleRelationshipManager, nil)

	for i, u := range []*models.User{lead, member, outsider} {
		c := f.openCase(t, "LN-"+string(rune('A'+i)), 1000, 10)
		_, err := f.cases.AssignCase(ctx, c.ID, u.ID, "", "", uuid.Nil)
		require.NoError(t, err)
	}

	team, err := f.cases.TeamCases(ctx, lead.ID)
	require.NoError(t, err)
	assert.Len(t, team, 2)
}

func TestUpdateDelinquencyBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	moving := f.openCase(t, "LN-1", 1000, 25)
	steady := f.openCase(t, "LN-2", 1000, 70)

	_, err := f.ledger.SyncAccount(ctx, moving.LoanAccountID, ledger.SyncInput{Principal: decimal.NewFromInt(1000), DaysPastDue: 190})
	require.NoError(t, err)

	n, err := f.cases.UpdateDelinquencyBuckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.cases.GetCase(ctx, moving.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Bucket180Plus, got.CurrentBucket)
	assert.Equal(t, models.Bucket0To30, *got.PreviousBucket)
	assert.Equal(t, 190, got.DaysPastDue)

	same, err := f.cases.GetCase(ctx, steady.ID)
	require.NoError(t, err)
	assert.Nil(t, same.PreviousBucket)

	dist, err := f.cases.BucketDistribution(ctx, nil)
	require.NoError(t, err)
	require.Len(t, dist, len(models.Buckets))
	assert.Equal(t, models.BucketCount{Bucket: models.Bucket61To90, Count: 1}, dist[2])
	assert.Equal(t, models.BucketCount{Bucket: models.Bucket180Plus, Count: 1}, dist[6])
}

func TestMoveCaseToBucket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.openCase(t, "LN-1", 1000, 10)

	got, err := f.cases.MoveCaseToBucket(ctx, c.ID, models.Bucket31To60)
	require.NoError(t, err)
	assert.Equal(t, models.Bucket31To60, got.CurrentBucket)
	require.NotNil(t, got.LastBucketChangeAt)

	_, err = f.cases.MoveCaseToBucket(ctx, c.ID, "200+")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestScoreAndProbability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.openCase(t, "LN-1", 600_000, 95)

	for i, status := range []models.PTPStatus{models.PTPStatusKept, models.PTPStatusKept, models.PTPStatusBroken, models.PTPStatusKept} {
		require.NoError(t, f.st.CreatePTP(ctx, &models.PromiseToPay{
			ID: uuid.New(), PTPNumber: "PTP20240300000" + string(rune('1'+i)), CollectionCaseID: c.ID, CustomerID: c.CustomerID,
			PromisedAmount: decimal.NewFromInt(100), PromisedDate: t0, Status: status, ConfidenceLevel: 3,
		}))
	}

	got, err := f.cases.RecalculateProbabilityOfPayment(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ProbabilityOfPayment)
	assert.InDelta(t, 0.625, *got.ProbabilityOfPayment, 1e-9)

	scored, err := f.cases.UpdateCaseScore(ctx, c.ID)
	require.NoError(t, err)
	// 50 + 20 (DPD) + 15 (outstanding) + 0.625*15
	assert.Equal(t, "94.38", scored.CollectionScore.StringFixed(2))

	_, err = f.cases.UpdateCasePriority(ctx, c.ID, 101)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	p, err := f.cases.UpdateCasePriority(ctx, c.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, 99, p.Priority)
}

func TestCollectionScore_Caps(t *testing.T) {
	pop := 1.0
	c := &models.CollectionCase{DaysPastDue: 120, TotalOutstanding: decimal.NewFromInt(900_000), ProbabilityOfPayment: &pop}
	assert.True(t, CollectionScore(c).Equal(decimal.NewFromInt(100)))

	assert.InDelta(t, 0.5, ProbabilityOfPayment(0, 0), 1e-9)
	assert.InDelta(t, 0.75, ProbabilityOfPayment(5, 5), 1e-9)
	assert.InDelta(t, 0.25, ProbabilityOfPayment(0, 3), 1e-9)
}

func TestNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.openCase(t, "LN-1", 1000, 10)

	_, err := f.cases.AddNote(ctx, c.ID, NoteInput{Text: "called, no answer"}, uuid.Nil)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	pinned, err := f.cases.AddNote(ctx, c.ID, NoteInput{Text: "customer disputes penalty", IsPinned: true}, uuid.Nil)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	latest, err := f.cases.AddNote(ctx, c.ID, NoteInput{Text: "promised to call back"}, uuid.Nil)
	require.NoError(t, err)

	notes, err := f.cases.Notes(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, pinned.ID, notes[0].ID)
	assert.Equal(t, latest.ID, notes[1].ID)

	_, err = f.cases.AddNote(ctx, c.ID, NoteInput{}, uuid.Nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSoftDeleteCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.openCase(t, "LN-1", 1000, 10)
	f.openCase(t, "LN-2", 1000, 10)

	require.NoError(t, f.cases.SoftDeleteCase(ctx, c.ID))

	_, err := f.cases.GetCase(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	rows, total, err := f.cases.ListCases(ctx, models.CaseFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.NotEqual(t, c.ID, rows[0].ID)

	// The loan still has its one case, so a new one cannot be opened.
	_, err = f.cases.CreateCase(ctx, c.LoanAccountID, uuid.Nil)
	assert.ErrorIs(t, err, models.ErrDuplicateCase)
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := f.user(t, "Asha", models.RoleRelationshipManager, nil)
	c := f.openCase(t, "LN-1", 1000, 10)
	_, err := f.cases.AssignCase(ctx, c.ID, agent.ID, "", "", uuid.Nil)
	require.NoError(t, err)

	paid := t0.Add(24 * time.Hour)
	for i, p := range []struct {
		amount int64
		status models.PaymentStatus
	}{{200, models.PaymentStatusSuccess}, {50, models.PaymentStatusReversed}, {50, models.PaymentStatusPending}} {
		require.NoError(t, f.st.CreatePayment(ctx, &models.Payment{
			ID: uuid.New(), PaymentReferenceNumber: "PAY2024031600000" + string(rune('1'+i)),
			LoanAccountID: c.LoanAccountID, CustomerID: c.CustomerID, CollectionCaseID: &c.ID,
			Amount: decimal.NewFromInt(p.amount), Mode: models.PaymentModeUPI, Status: p.status, PaymentDate: paid,
		}))
	}
	f.clock.Advance(72 * time.Hour)

	ca, err := f.cases.CaseAnalytics(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, ca.PaymentCount)
	assert.True(t, ca.TotalPayments.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 3, ca.DaysSinceOpened)
	require.NotNil(t, ca.LastPaymentDate)

	pa, err := f.cases.PortfolioAnalytics(ctx, &agent.ID, "personal_loan")
	require.NoError(t, err)
	assert.Equal(t, 1, pa.TotalCases)
	assert.Equal(t, 1, pa.ActiveCases)
	assert.True(t, pa.CollectionRate.Equal(decimal.NewFromInt(25)), pa.CollectionRate.String())
}
