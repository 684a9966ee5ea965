package ptp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/ledger"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/notify"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func day(offset int) time.Time { return clock.StartOfDay(t0).AddDate(0, 0, offset) }

type recordingMessenger struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (r *recordingMessenger) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

type fixture struct {
	st     store.Storage
	clock  *clock.Fixed
	msgr   *recordingMessenger
	engine *Engine
	c      *models.CollectionCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	clk := clock.NewFixed(t0)
	msgr := &recordingMessenger{}
	f := &fixture{st: st, clock: clk, msgr: msgr, engine: NewEngine(st, msgr, clk, nil)}
	f.c = f.newCase(t, "LN-1")
	return f
}

func (f *fixture) newCase(t *testing.T, number string) *models.CollectionCase {
	t.Helper()
	ctx := context.Background()
	acc, err := ledger.NewLedger(f.st, f.clock, nil).OpenAccount(ctx, ledger.OpenAccountInput{
		AccountNumber: number, CustomerCode: "CUST-" + number, CustomerName: "Rahul Das",
		CustomerEmail: "rahul@example.com", Principal: d(50_000), DaysPastDue: 40,
	})
	require.NoError(t, err)
	c := &models.CollectionCase{
		ID: uuid.New(), CaseNumber: "CASE-" + number, LoanAccountID: acc.ID, CustomerID: acc.CustomerID,
		Status: models.CaseStatusNew, CurrentBucket: acc.CurrentBucket, OpenedAt: t0, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, f.st.CreateCase(ctx, c))
	return c
}

func (f *fixture) promise(t *testing.T, amount int64, due time.Time) *models.PromiseToPay {
	t.Helper()
	p, err := f.engine.CreatePTP(context.Background(), CreateInput{
		CollectionCaseID: f.c.ID, PromisedAmount: d(amount), PromisedDate: due, PaymentMode: models.PaymentModeUPI, ConfidenceLevel: 3,
	}, uuid.Nil)
	require.NoError(t, err)
	return p
}

func (f *fixture) split(t *testing.T, amounts ...int64) (*models.PromiseToPay, []*models.PromiseToPay) {
	t.Helper()
	splits := make([]Split, len(amounts))
	for i, a := range amounts {
		splits[i] = Split{Amount: d(a), Date: day(7 * (i + 1)), PaymentMode: models.PaymentModeNEFT}
	}
	parent, children, err := f.engine.CreateSplitPTP(context.Background(), SplitInput{CollectionCaseID: f.c.ID, Splits: splits, ConfidenceLevel: 4}, uuid.Nil)
	require.NoError(t, err)
	return parent, children
}

func (f *fixture) payment(t *testing.T, amount int64) *models.Payment {
	t.Helper()
	p := &models.Payment{
		ID: uuid.New(), PaymentReferenceNumber: "PAY-" + uuid.NewString(), LoanAccountID: f.c.LoanAccountID,
		CustomerID: f.c.CustomerID, Amount: d(amount), Mode: models.PaymentModeUPI, Status: models.PaymentStatusSuccess, PaymentDate: t0,
	}
	require.NoError(t, f.st.CreatePayment(context.Background(), p))
	return p
}

func (f *fixture) status(t *testing.T, id uuid.UUID) models.PTPStatus {
	t.Helper()
	p, err := f.engine.GetPTP(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func TestCreatePTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.promise(t, 5000, day(5))
	assert.Equal(t, "PTP202403000001", p.PTPNumber)
	assert.Equal(t, models.PTPStatusActive, p.Status)
	assert.Equal(t, f.c.CustomerID, p.CustomerID)

	byNumber, err := f.engine.GetPTPByNumber(ctx, p.PTPNumber)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byNumber.ID)

	tests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"zero amount", CreateInput{CollectionCaseID: f.c.ID, PromisedAmount: d(0), PromisedDate: day(1), ConfidenceLevel: 3}, models.ErrInvalidInput},
		{"negative amount", CreateInput{CollectionCaseID: f.c.ID, PromisedAmount: d(-5), PromisedDate: day(1), ConfidenceLevel: 3}, models.ErrInvalidInput},
		{"no date", CreateInput{CollectionCaseID: f.c.ID, PromisedAmount: d(5), ConfidenceLevel: 3}, models.ErrInvalidInput},
		{"confidence too high", CreateInput{CollectionCaseID: f.c.ID, PromisedAmount: d(5), PromisedDate: day(1), ConfidenceLevel: 6}, models.ErrInvalidInput},
		{"confidence missing", CreateInput{CollectionCaseID: f.c.ID, PromisedAmount: d(5), PromisedDate: day(1)}, models.ErrInvalidInput},
		{"unknown case", CreateInput{CollectionCaseID: uuid.New(), PromisedAmount: d(5), PromisedDate: day(1), ConfidenceLevel: 3}, models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreatePTP(ctx, tt.in, uuid.Nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateSplitPTP(t *testing.T) {
	f := newFixture(t)
	parent, children := f.split(t, 1000, 2500, 1500)

	require.Len(t, children, 3)
	assert.True(t, parent.IsParent())
	assert.True(t, parent.PromisedAmount.Equal(d(5000)))
	assert.Equal(t, children[0].PromisedDate, parent.PromisedDate)
	assert.Equal(t, models.PaymentModeNEFT, parent.PaymentMode)

	sum := decimal.Zero
	for i, c := range children {
		sum = sum.Add(c.PromisedAmount)
		assert.Equal(t, parent.ID, *c.ParentPTPID)
		assert.Equal(t, i+1, c.SplitSequence)
		assert.Equal(t, 3, c.TotalSplits)
		assert.Equal(t, models.PTPStatusActive, c.Status)
	}
	assert.True(t, sum.Equal(parent.PromisedAmount))

	_, _, err := f.engine.CreateSplitPTP(context.Background(), SplitInput{
		CollectionCaseID: f.c.ID, Splits: []Split{{Amount: d(10), Date: day(1)}}, ConfidenceLevel: 3,
	}, uuid.Nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestCreateSplitPTP_RejectsNonPositiveSplit(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.engine.CreateSplitPTP(context.Background(), SplitInput{
		CollectionCaseID: f.c.ID, Splits: []Split{{Amount: d(10), Date: day(1)}, {Amount: d(0), Date: day(2)}}, ConfidenceLevel: 3,
	}, uuid.Nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	rows, err := f.engine.ListByCase(context.Background(), f.c.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreatePTP_ParentRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent, children := f.split(t, 1000, 1000)
	plain := f.promise(t, 300, day(2))

	child, err := f.engine.CreatePTP(ctx, CreateInput{
		CollectionCaseID: f.c.ID, PromisedAmount: d(500), PromisedDate: day(30), ConfidenceLevel: 2, ParentPTPID: &parent.ID,
	}, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 3, child.SplitSequence)
	updated, err := f.engine.GetPTP(ctx, parent.ID)
	require.NoError(t, err)
	assert.True(t, updated.PromisedAmount.Equal(d(2500)))
	assert.Equal(t, 3, updated.TotalSplits)

	other := f.newCase(t, "LN-2")
	tests := []struct {
		name   string
		caseID uuid.UUID
		parent uuid.UUID
		want   error
	}{
		{"parent is a child", f.c.ID, children[0].ID, models.ErrInvalidInput},
		{"parent is not split", f.c.ID, plain.ID, models.ErrInvalidInput},
		{"parent on another case", other.ID, parent.ID, models.ErrInvalidInput},
		{"parent missing", f.c.ID, uuid.New(), models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreatePTP(ctx, CreateInput{
				CollectionCaseID: tt.caseID, PromisedAmount: d(10), PromisedDate: day(3), ConfidenceLevel: 3, ParentPTPID: &tt.parent,
			}, uuid.Nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMarkTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pay := f.payment(t, 400)

	kept := f.promise(t, 400, day(1))
	got, err := f.engine.MarkKept(ctx, kept.ID, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PTPStatusKept, got.Status)
	assert.Equal(t, pay.ID, *got.LinkedPaymentID)
	require.NotNil(t, got.ActualPaymentDate)
	assert.True(t, got.ActualPaymentAmount.Equal(d(400)))

	_, err = f.engine.MarkBroken(ctx, kept.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = f.engine.Cancel(ctx, kept.ID, "changed mind")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	partial := f.promise(t, 1000, day(2))
	got, err = f.engine.MarkPartiallyKept(ctx, partial.ID, pay.ID, d(250))
	require.NoError(t, err)
	assert.Equal(t, models.PTPStatusPartiallyKept, got.Status)
	assert.True(t, got.ActualPaymentAmount.Equal(d(250)))

	broken := f.promise(t, 1000, day(3))
	got, err = f.engine.MarkBroken(ctx, broken.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LinkedPaymentID)

	open := f.promise(t, 1000, day(4))
	_, err = f.engine.MarkKept(ctx, open.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, models.PTPStatusActive, f.status(t, open.ID))

	cancelled, err := f.engine.Cancel(ctx, open.ID, "loan restructured")
	require.NoError(t, err)
	assert.Equal(t, "loan restructured", cancelled.CancellationReason)

	_, err = f.engine.MarkBroken(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestParentResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("mixed outcome is partially kept", func(t *testing.T) {
		f := newFixture(t)
		pay := f.payment(t, 1000)
		parent, children := f.split(t, 1000, 1000, 1000)

		_, err := f.engine.MarkKept(ctx, children[0].ID, pay.ID)
		require.NoError(t, err)
		_, err = f.engine.MarkBroken(ctx, children[1].ID)
		require.NoError(t, err)
		assert.Equal(t, models.PTPStatusActive, f.status(t, parent.ID))

		_, err = f.engine.Cancel(ctx, children[2].ID, "")
		require.NoError(t, err)
		resolved, err := f.engine.GetPTP(ctx, parent.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PTPStatusPartiallyKept, resolved.Status)
		assert.True(t, resolved.ActualPaymentAmount.Equal(d(1000)))
	})

	t.Run("all kept", func(t *testing.T) {
		f := newFixture(t)
		pay := f.payment(t, 500)
		parent, children := f.split(t, 500, 500)
		for _, c := range children {
			_, err := f.engine.MarkKept(ctx, c.ID, pay.ID)
			require.NoError(t, err)
		}
		assert.Equal(t, models.PTPStatusKept, f.status(t, parent.ID))
	})

	t.Run("all broken", func(t *testing.T) {
		f := newFixture(t)
		parent, children := f.split(t, 500, 500)
		for _, c := range children {
			_, err := f.engine.MarkBroken(ctx, c.ID)
			require.NoError(t, err)
		}
		assert.Equal(t, models.PTPStatusBroken, f.status(t, parent.ID))
	})

	t.Run("cancelling the head cancels open instalments", func(t *testing.T) {
		f := newFixture(t)
		parent, children := f.split(t, 500, 500)
		got, err := f.engine.Cancel(ctx, parent.ID, "settled offline")
		require.NoError(t, err)
		assert.Equal(t, models.PTPStatusCancelled, got.Status)
		for _, c := range children {
			assert.Equal(t, models.PTPStatusCancelled, f.status(t, c.ID))
		}
	})

	t.Run("heads cannot be marked directly", func(t *testing.T) {
		f := newFixture(t)
		parent, _ := f.split(t, 500, 500)
		_, err := f.engine.MarkBroken(ctx, parent.ID)
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})
}

func TestFulfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pay := f.payment(t, 600)
	full := f.promise(t, 600, day(1))
	short := f.promise(t, 1000, day(1))
	parent, children := f.split(t, 200, 300)

	err := f.st.RunInTx(ctx, func(st store.Storage) error {
		p, err := f.engine.Fulfill(ctx, st, full.ID, pay.ID, d(600))
		require.NoError(t, err)
		assert.Equal(t, models.PTPStatusKept, p.Status)

		p, err = f.engine.Fulfill(ctx, st, short.ID, pay.ID, d(600))
		require.NoError(t, err)
		assert.Equal(t, models.PTPStatusPartiallyKept, p.Status)

		p, err = f.engine.Fulfill(ctx, st, parent.ID, pay.ID, d(200))
		require.NoError(t, err)
		assert.Equal(t, children[0].ID, p.ID)
		assert.Equal(t, models.PTPStatusKept, p.Status)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.PTPStatusActive, f.status(t, children[1].ID))
	assert.Equal(t, models.PTPStatusActive, f.status(t, parent.ID))
}

func TestProcessExpiredPTPs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	yesterday := f.promise(t, 100, day(-1))
	today := f.promise(t, 100, day(0))
	tomorrow := f.promise(t, 100, day(1))
	parent, children := f.split(t, 100, 100)
	// Pull the first instalment and the head into the past.
	for _, p := range []*models.PromiseToPay{parent, children[0]} {
		cur, err := f.st.GetPTP(ctx, p.ID)
		require.NoError(t, err)
		cur.PromisedDate = day(-2)
		require.NoError(t, f.st.UpdatePTP(ctx, cur))
	}

	n, err := f.engine.ProcessExpiredPTPs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, models.PTPStatusBroken, f.status(t, yesterday.ID))
	assert.Equal(t, models.PTPStatusActive, f.status(t, today.ID))
	assert.Equal(t, models.PTPStatusActive, f.status(t, tomorrow.ID))
	assert.Equal(t, models.PTPStatusBroken, f.status(t, children[0].ID))
	assert.Equal(t, models.PTPStatusActive, f.status(t, parent.ID))

	n, err = f.engine.ProcessExpiredPTPs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKeepRatios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ratio, err := f.engine.KeepRatioForCase(ctx, f.c.ID)
	require.NoError(t, err)
	assert.True(t, ratio.IsZero())

	pay := f.payment(t, 100)
	for i := 0; i < 4; i++ {
		p := f.promise(t, 100*int64(i+1), day(i))
		if i < 3 {
			_, err := f.engine.MarkKept(ctx, p.ID, pay.ID)
			require.NoError(t, err)
		}
	}

	ratio, err = f.engine.KeepRatioForCase(ctx, f.c.ID)
	require.NoError(t, err)
	assert.True(t, ratio.Equal(d(75)), ratio.String())
	ratio, err = f.engine.KeepRatioForCustomer(ctx, f.c.CustomerID)
	require.NoError(t, err)
	assert.True(t, ratio.Equal(d(75)), ratio.String())

	perf, err := f.engine.Performance(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, perf.TotalPTPs)
	assert.Equal(t, 3, perf.KeptPTPs)

	ca, err := f.engine.CaseAnalytics(ctx, f.c.ID)
	require.NoError(t, err)
	// Kept 100+200+300 of 1000 promised.
	assert.True(t, ca.KeptAmount.Equal(d(600)))
	assert.True(t, ca.KeepRatio.Equal(d(60)), ca.KeepRatio.String())
}

func TestSendReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := []*models.PromiseToPay{f.promise(t, 100, day(0)), f.promise(t, 100, day(3))}
	tooLate := f.promise(t, 100, day(4))
	past := f.promise(t, 100, day(-1))

	n, err := f.engine.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, f.msgr.sent, 2)
	assert.Equal(t, "rahul@example.com", f.msgr.sent[0].To)

	for _, p := range due {
		got, err := f.engine.GetPTP(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.RemindersSent)
		require.NotNil(t, got.LastReminderAt)
	}
	for _, p := range []*models.PromiseToPay{tooLate, past} {
		got, err := f.engine.GetPTP(ctx, p.ID)
		require.NoError(t, err)
		assert.Zero(t, got.RemindersSent)
	}
}

func TestSendReminder_DeliveryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.promise(t, 100, day(1))
	f.msgr.err = errors.New("smtp unavailable")

	_, err := f.engine.SendReminder(ctx, p.ID)
	assert.ErrorContains(t, err, "smtp unavailable")
	got, err := f.engine.GetPTP(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RemindersSent)

	n, err := f.engine.SendReminders(ctx)
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestFollowUps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.promise(t, 100, day(2))

	due, err := f.engine.CreateFollowUp(ctx, p.ID, t0.Add(-time.Hour), "call")
	require.NoError(t, err)
	_, err = f.engine.CreateFollowUp(ctx, p.ID, t0.Add(48*time.Hour), "visit")
	require.NoError(t, err)
	_, err = f.engine.CreateFollowUp(ctx, p.ID, t0, "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	pending, err := f.engine.PendingFollowUps(ctx, t0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, due.ID, pending[0].ID)

	done, err := f.engine.CompleteFollowUp(ctx, due.ID, "customer confirmed")
	require.NoError(t, err)
	assert.Equal(t, models.FollowUpCompleted, done.Status)
	_, err = f.engine.CompleteFollowUp(ctx, due.ID, "again")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	pending, err = f.engine.PendingFollowUps(ctx, t0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
