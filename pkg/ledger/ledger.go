package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger owns loan account balances: it allocates payments across interest,
// penalty and principal and restores them on reversal.
type Ledger struct {
	storage store.Storage
	clock   clock.Clock
	log     *zap.Logger
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, clk clock.Clock, log *zap.Logger) *Ledger {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{storage: s, clock: clk, log: log.Named("ledger")}
}

// component is one balance bucket in waterfall order.
type component struct {
	name        string
	outstanding *decimal.Decimal
	ceiling     decimal.Decimal
	applied     *decimal.Decimal
}

// waterfall lists the components in allocation order: interest, penalty, principal.
func waterfall(acc *models.LoanAccount, alloc *models.Allocation) []component {
	return []component{
		{"interest", &acc.InterestOutstanding, acc.OriginalInterest, &alloc.Interest},
		{"penalty", &acc.PenaltyOutstanding, acc.OriginalPenalty, &alloc.Penalty},
		{"principal", &acc.PrincipalOutstanding, acc.OriginalPrincipal, &alloc.Principal},
	}
}

// Apply posts a signed amount to the loan through st, which should be the
// caller's unit of work. Positive amounts pay down interest, penalty and then
// principal; negative amounts re-add in the same order without exceeding the
// original balances. Whatever cannot be placed is returned as Excess.
func (l *Ledger) Apply(ctx context.Context, st store.Storage, loanAccountID uuid.UUID, amount decimal.Decimal) (models.Allocation, error) {
	acc, err := st.GetLoanAccount(ctx, loanAccountID)
	if err != nil {
		return models.Allocation{}, err
	}

	alloc := zeroAllocation()
	switch amount.Sign() {
	case 0:
		return alloc, nil
	case 1:
		remaining := amount
		for _, c := range waterfall(acc, &alloc) {
			take := decimal.Min(remaining, *c.outstanding)
			*c.outstanding = c.outstanding.Sub(take)
			*c.applied = take
			remaining = remaining.Sub(take)
		}
		alloc.Excess = remaining
	default:
		remaining := amount.Neg()
		for _, c := range waterfall(acc, &alloc) {
			add := decimal.Min(remaining, headroom(*c.outstanding, c.ceiling))
			*c.outstanding = c.outstanding.Add(add)
			*c.applied = add.Neg()
			remaining = remaining.Sub(add)
		}
		alloc.Excess = remaining.Neg()
	}

	if err := l.save(ctx, st, acc); err != nil {
		return models.Allocation{}, err
	}
	l.warnExcess(acc, amount, alloc)
	return alloc, nil
}

// Reverse takes back a previously applied allocation component by component,
// clamped at the original balances. The returned allocation has negative
// components; anything that could not be restored is a negative Excess.
func (l *Ledger) Reverse(ctx context.Context, st store.Storage, loanAccountID uuid.UUID, applied models.Allocation) (models.Allocation, error) {
	acc, err := st.GetLoanAccount(ctx, loanAccountID)
	if err != nil {
		return models.Allocation{}, err
	}

	wanted := []decimal.Decimal{applied.Interest, applied.Penalty, applied.Principal}
	out := zeroAllocation()
	unrestored := decimal.Zero
	for i, c := range waterfall(acc, &out) {
		want := wanted[i]
		if want.IsNegative() {
			return models.Allocation{}, fmt.Errorf("%w: reversal of negative %s amount", models.ErrInvalidInput, c.name)
		}
		add := decimal.Min(want, headroom(*c.outstanding, c.ceiling))
		*c.outstanding = c.outstanding.Add(add)
		*c.applied = add.Neg()
		unrestored = unrestored.Add(want.Sub(add))
	}
	out.Excess = unrestored.Neg()

	if err := l.save(ctx, st, acc); err != nil {
		return models.Allocation{}, err
	}
	l.warnExcess(acc, applied.Applied().Neg(), out)
	return out, nil
}

func (l *Ledger) save(ctx context.Context, st store.Storage, acc *models.LoanAccount) error {
	acc.RecomputeTotal()
	acc.UpdatedAt = l.clock.Now()
	if err := st.UpdateLoanAccount(ctx, acc); err != nil {
		return fmt.Errorf("failed to update loan account %s: %w", acc.AccountNumber, err)
	}
	return nil
}

func (l *Ledger) warnExcess(acc *models.LoanAccount, amount decimal.Decimal, alloc models.Allocation) {
	if alloc.Excess.IsZero() {
		return
	}
	l.log.Warn("amount could not be fully allocated",
		zap.String("account_number", acc.AccountNumber),
		zap.String("amount", amount.String()),
		zap.String("excess", alloc.Excess.String()),
		zap.String("total_outstanding", acc.TotalOutstanding.String()))
}

func headroom(outstanding, ceiling decimal.Decimal) decimal.Decimal {
	room := ceiling.Sub(outstanding)
	if room.IsNegative() {
		return decimal.Zero
	}
	return room
}

func zeroAllocation() models.Allocation {
	return models.Allocation{Interest: decimal.Zero, Penalty: decimal.Zero, Principal: decimal.Zero, Excess: decimal.Zero}
}

// OpenAccountInput registers a loan account pulled from the loan management system.
type OpenAccountInput struct {
	AccountNumber   string          `json:"account_number" validate:"required"`
	CustomerCode    string          `json:"customer_code" validate:"required"`
	CustomerName    string          `json:"customer_name" validate:"required"`
	CustomerEmail   string          `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone   string          `json:"customer_phone"`
	ProductVertical string          `json:"product_vertical"`
	Principal       decimal.Decimal `json:"principal" validate:"gte=0"`
	Interest        decimal.Decimal `json:"interest" validate:"gte=0"`
	Penalty         decimal.Decimal `json:"penalty" validate:"gte=0"`
	DaysPastDue     int             `json:"days_past_due" validate:"gte=0"`
}

// OpenAccount creates the loan account, and its customer if the customer code
// is new. Opening balances become the reversal ceilings.
func (l *Ledger) OpenAccount(ctx context.Context, in OpenAccountInput) (*models.LoanAccount, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	now := l.clock.Now()
	acc := &models.LoanAccount{
		ID:                   uuid.New(),
		AccountNumber:        in.AccountNumber,
		ProductVertical:      in.ProductVertical,
		PrincipalOutstanding: in.Principal,
		InterestOutstanding:  in.Interest,
		PenaltyOutstanding:   in.Penalty,
		OriginalPrincipal:    in.Principal,
		OriginalInterest:     in.Interest,
		OriginalPenalty:      in.Penalty,
		DaysPastDue:          in.DaysPastDue,
		CurrentBucket:        models.BucketForDPD(in.DaysPastDue),
		LastPaymentAmount:    decimal.Zero,
		TotalAmountPaid:      decimal.Zero,
		LastSyncedAt:         &now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	acc.RecomputeTotal()

	err := l.storage.RunInTx(ctx, func(st store.Storage) error {
		cust, err := st.GetCustomerByCode(ctx, in.CustomerCode)
		switch {
		case errors.Is(err, models.ErrNotFound):
			cust = &models.Customer{
				ID:           uuid.New(),
				CustomerCode: in.CustomerCode,
				FullName:     in.CustomerName,
				Email:        in.CustomerEmail,
				Phone:        in.CustomerPhone,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := st.CreateCustomer(ctx, cust); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		acc.CustomerID = cust.ID
		return st.CreateLoanAccount(ctx, acc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open loan account %s: %w", in.AccountNumber, err)
	}
	l.log.Info("loan account opened",
		zap.String("account_number", acc.AccountNumber),
		zap.String("total_outstanding", acc.TotalOutstanding.String()),
		zap.String("bucket", string(acc.CurrentBucket)))
	return acc, nil
}

// SyncInput is a balance refresh from the loan management system.
type SyncInput struct {
	Principal   decimal.Decimal `json:"principal" validate:"gte=0"`
	Interest    decimal.Decimal `json:"interest" validate:"gte=0"`
	Penalty     decimal.Decimal `json:"penalty" validate:"gte=0"`
	DaysPastDue int             `json:"days_past_due" validate:"gte=0"`
}

// SyncAccount overwrites balances and DPD. Ceilings are raised to at least the
// synced values so later reversals stay bounded by what was ever owed.
func (l *Ledger) SyncAccount(ctx context.Context, loanAccountID uuid.UUID, in SyncInput) (*models.LoanAccount, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	var acc *models.LoanAccount
	err := l.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		acc, err = st.GetLoanAccount(ctx, loanAccountID)
		if err != nil {
			return err
		}
		now := l.clock.Now()
		acc.PrincipalOutstanding = in.Principal
		acc.InterestOutstanding = in.Interest
		acc.PenaltyOutstanding = in.Penalty
		acc.OriginalPrincipal = decimal.Max(acc.OriginalPrincipal, in.Principal)
		acc.OriginalInterest = decimal.Max(acc.OriginalInterest, in.Interest)
		acc.OriginalPenalty = decimal.Max(acc.OriginalPenalty, in.Penalty)
		acc.DaysPastDue = in.DaysPastDue
		acc.CurrentBucket = models.BucketForDPD(in.DaysPastDue)
		acc.LastSyncedAt = &now
		return l.save(ctx, st, acc)
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// GetAccount retrieves a loan account by id.
func (l *Ledger) GetAccount(ctx context.Context, id uuid.UUID) (*models.LoanAccount, error) {
	return l.storage.GetLoanAccount(ctx, id)
}

// GetAccountByNumber retrieves a loan account by its account number.
func (l *Ledger) GetAccountByNumber(ctx context.Context, number string) (*models.LoanAccount, error) {
	return l.storage.GetLoanAccountByNumber(ctx, number)
}

// ListAccounts returns all loan accounts.
func (l *Ledger) ListAccounts(ctx context.Context) ([]*models.LoanAccount, error) {
	return l.storage.ListLoanAccounts(ctx)
}
