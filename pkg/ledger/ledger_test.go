package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestLedger(t *testing.T) (*Ledger, store.Storage) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewLedger(s, clock.NewFixed(t0), nil), s
}

func openAccount(t *testing.T, l *Ledger, number string, principal, interest, penalty int64) *models.LoanAccount {
	t.Helper()
	acc, err := l.OpenAccount(context.Background(), OpenAccountInput{
		AccountNumber: number,
		CustomerCode:  "CUST-" + number,
		CustomerName:  "Meera Iyer",
		Principal:     d(principal),
		Interest:      d(interest),
		Penalty:       d(penalty),
		DaysPastDue:   45,
	})
	require.NoError(t, err)
	return acc
}

func assertBalances(t *testing.T, acc *models.LoanAccount, interest, penalty, principal, total int64) {
	t.Helper()
	assert.True(t, acc.InterestOutstanding.Equal(d(interest)), "interest %s", acc.InterestOutstanding)
	assert.True(t, acc.PenaltyOutstanding.Equal(d(penalty)), "penalty %s", acc.PenaltyOutstanding)
	assert.True(t, acc.PrincipalOutstanding.Equal(d(principal)), "principal %s", acc.PrincipalOutstanding)
	assert.True(t, acc.TotalOutstanding.Equal(d(total)), "total %s", acc.TotalOutstanding)
}

func TestOpenAccount(t *testing.T) {
	l, s := newTestLedger(t)
	acc := openAccount(t, l, "LN-1", 1000, 100, 50)

	assertBalances(t, acc, 100, 50, 1000, 1150)
	assert.Equal(t, models.Bucket31To60, acc.CurrentBucket)
	assert.True(t, acc.OriginalInterest.Equal(d(100)))

	cust, err := s.GetCustomerByCode(context.Background(), "CUST-LN-1")
	require.NoError(t, err)
	assert.Equal(t, cust.ID, acc.CustomerID)

	_, err = l.OpenAccount(context.Background(), OpenAccountInput{AccountNumber: "LN-2", CustomerCode: "C", CustomerName: "X", Principal: d(-1)})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestApply_Waterfall(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	acc := openAccount(t, l, "LN-10", 1000, 100, 50)

	alloc, err := l.Apply(ctx, s, acc.ID, d(120))
	require.NoError(t, err)
	assert.True(t, alloc.Interest.Equal(d(100)))
	assert.True(t, alloc.Penalty.Equal(d(20)))
	assert.True(t, alloc.Principal.IsZero())
	assert.True(t, alloc.Excess.IsZero())

	got, err := l.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assertBalances(t, got, 0, 30, 1000, 1030)
}

func TestApply_Excess(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	acc := openAccount(t, l, "LN-11", 1000, 100, 50)

	alloc, err := l.Apply(ctx, s, acc.ID, d(1200))
	require.NoError(t, err)
	assert.True(t, alloc.Applied().Equal(d(1150)))
	assert.True(t, alloc.Excess.Equal(d(50)))

	got, _ := l.GetAccount(ctx, acc.ID)
	assertBalances(t, got, 0, 0, 0, 0)
}

func TestApply_NegativeClampsAtOriginal(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	acc := openAccount(t, l, "LN-12", 1000, 100, 50)

	_, err := l.Apply(ctx, s, acc.ID, d(120))
	require.NoError(t, err)

	alloc, err := l.Apply(ctx, s, acc.ID, d(-500))
	require.NoError(t, err)
	assert.True(t, alloc.Interest.Equal(d(-100)))
	assert.True(t, alloc.Penalty.Equal(d(-20)))
	assert.True(t, alloc.Principal.IsZero())
	assert.True(t, alloc.Excess.Equal(d(-380)))

	got, _ := l.GetAccount(ctx, acc.ID)
	assertBalances(t, got, 100, 50, 1000, 1150)
}

func TestReverse_RestoresExactComponents(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	acc := openAccount(t, l, "LN-13", 1000, 100, 50)

	applied, err := l.Apply(ctx, s, acc.ID, d(400))
	require.NoError(t, err)
	_, err = l.Apply(ctx, s, acc.ID, d(10))
	require.NoError(t, err)

	reversed, err := l.Reverse(ctx, s, acc.ID, applied)
	require.NoError(t, err)
	assert.True(t, reversed.Applied().Equal(d(-400)))
	assert.True(t, reversed.Excess.IsZero())

	got, _ := l.GetAccount(ctx, acc.ID)
	// 10 went to principal after the first payment cleared interest and penalty.
	assertBalances(t, got, 100, 50, 990, 1140)
}

func TestApply_BalanceSumInvariant(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	acc := openAccount(t, l, "LN-14", 5000, 700, 300)

	for _, amt := range []int64{250, -100, 900, 3000, -2000, 4500, -50} {
		_, err := l.Apply(ctx, s, acc.ID, d(amt))
		require.NoError(t, err)
		got, err := l.GetAccount(ctx, acc.ID)
		require.NoError(t, err)
		sum := got.PrincipalOutstanding.Add(got.InterestOutstanding).Add(got.PenaltyOutstanding)
		assert.True(t, got.TotalOutstanding.Equal(sum), "after %d", amt)
		for _, c := range []decimal.Decimal{got.PrincipalOutstanding, got.InterestOutstanding, got.PenaltyOutstanding} {
			assert.False(t, c.IsNegative(), "after %d", amt)
		}
	}
}

func TestApply_UnknownAccount(t *testing.T) {
	l, s := newTestLedger(t)
	_, err := l.Apply(context.Background(), s, uuid.New(), d(10))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestApply_ConcurrentUpdateRollsBack(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	acc := openAccount(t, l, "LN-15", 1000, 100, 50)

	err := s.RunInTx(ctx, func(st store.Storage) error {
		stale, err := st.GetLoanAccount(ctx, acc.ID)
		require.NoError(t, err)
		if _, err := l.Apply(ctx, st, acc.ID, d(60)); err != nil {
			return err
		}
		return st.UpdateLoanAccount(ctx, stale)
	})
	assert.ErrorIs(t, err, models.ErrConcurrentUpdate)

	got, _ := l.GetAccount(ctx, acc.ID)
	assertBalances(t, got, 100, 50, 1000, 1150)
}

func TestSyncAccount_RaisesCeilings(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	acc := openAccount(t, l, "LN-16", 1000, 100, 50)

	synced, err := l.SyncAccount(ctx, acc.ID, SyncInput{Principal: d(900), Interest: d(180), Penalty: d(20), DaysPastDue: 95})
	require.NoError(t, err)
	assert.Equal(t, models.Bucket91To120, synced.CurrentBucket)
	assert.True(t, synced.OriginalInterest.Equal(d(180)))
	assert.True(t, synced.OriginalPenalty.Equal(d(50)))
	assert.True(t, synced.TotalOutstanding.Equal(d(1100)))

	_, err = l.Apply(ctx, s, acc.ID, d(-1000))
	require.NoError(t, err)
	got, _ := l.GetAccount(ctx, acc.ID)
	assertBalances(t, got, 180, 50, 1000, 1230)
}
