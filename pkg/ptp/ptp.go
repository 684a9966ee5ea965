// Package ptp tracks promises to pay: single and split promises, their
// fulfilment against payments, expiry, reminders and keep ratios.
package ptp

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/notify"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Engine owns promise-to-pay state.
type Engine struct {
	storage   store.Storage
	messenger notify.Messenger
	clock     clock.Clock
	log       *zap.Logger
}

// NewEngine creates an Engine. Reminders are delivered through msgr.
func NewEngine(s store.Storage, msgr notify.Messenger, clk clock.Clock, log *zap.Logger) *Engine {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if msgr == nil {
		msgr = notify.NewLogMessenger(log)
	}
	return &Engine{storage: s, messenger: msgr, clock: clk, log: log.Named("ptp")}
}

// CreateInput describes a single promise. ParentPTPID attaches it to an existing split set.
type CreateInput struct {
	CollectionCaseID uuid.UUID          `json:"collection_case_id" validate:"required"`
	PromisedAmount   decimal.Decimal    `json:"promised_amount" validate:"gt=0"`
	PromisedDate     time.Time          `json:"promised_date" validate:"required"`
	PaymentMode      models.PaymentMode `json:"payment_mode"`
	ConfidenceLevel  int                `json:"confidence_level" validate:"min=1,max=5"`
	ParentPTPID      *uuid.UUID         `json:"parent_ptp_id"`
}

// Split is one instalment of a split promise.
type Split struct {
	Amount      decimal.Decimal    `json:"amount" validate:"gt=0"`
	Date        time.Time          `json:"date" validate:"required"`
	PaymentMode models.PaymentMode `json:"payment_mode"`
}

// SplitInput describes a promise paid in instalments.
type SplitInput struct {
	CollectionCaseID uuid.UUID `json:"collection_case_id" validate:"required"`
	Splits           []Split   `json:"splits" validate:"min=2,dive"`
	ConfidenceLevel  int       `json:"confidence_level" validate:"min=1,max=5"`
}

func (e *Engine) nextNumber(ctx context.Context, st store.Storage) (string, error) {
	prefix := "PTP" + e.clock.Now().Format("200601")
	n, err := st.CountPTPNumbers(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%06d", prefix, n+1), nil
}

func liveCase(ctx context.Context, st store.Storage, id uuid.UUID) (*models.CollectionCase, error) {
	c, err := st.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsDeleted {
		return nil, fmt.Errorf("%w: collection case %s", models.ErrNotFound, id)
	}
	return c, nil
}

func (e *Engine) newPTP(ctx context.Context, st store.Storage, c *models.CollectionCase, amount decimal.Decimal, date time.Time, mode models.PaymentMode, confidence int, actor uuid.UUID) (*models.PromiseToPay, error) {
	number, err := e.nextNumber(ctx, st)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	p := &models.PromiseToPay{
		ID:               uuid.New(),
		PTPNumber:        number,
		CollectionCaseID: c.ID,
		CustomerID:       c.CustomerID,
		PromisedAmount:   amount,
		PromisedDate:     date.UTC(),
		PaymentMode:      mode,
		Status:           models.PTPStatusActive,
		ConfidenceLevel:  confidence,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if actor != uuid.Nil {
		p.CreatedByUserID = &actor
	}
	return p, nil
}

// CreatePTP records a promise on a case. With a parent id, the promise joins
// that split set: the parent must be an active split head on the same case.
func (e *Engine) CreatePTP(ctx context.Context, in CreateInput, actor uuid.UUID) (*models.PromiseToPay, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	var p *models.PromiseToPay
	err := e.storage.RunInTx(ctx, func(st store.Storage) error {
		c, err := liveCase(ctx, st, in.CollectionCaseID)
		if err != nil {
			return err
		}
		if p, err = e.newPTP(ctx, st, c, in.PromisedAmount, in.PromisedDate, in.PaymentMode, in.ConfidenceLevel, actor); err != nil {
			return err
		}
		if in.ParentPTPID != nil {
			parent, err := st.GetPTP(ctx, *in.ParentPTPID)
			if err != nil {
				return fmt.Errorf("parent promise: %w", err)
			}
			if err := checkParent(parent, c.ID); err != nil {
				return err
			}
			parent.TotalSplits++
			parent.PromisedAmount = parent.PromisedAmount.Add(p.PromisedAmount)
			parent.UpdatedAt = p.CreatedAt
			if err := st.UpdatePTP(ctx, parent); err != nil {
				return err
			}
			p.ParentPTPID = &parent.ID
			p.IsSplit = true
			p.SplitSequence = parent.TotalSplits
			p.TotalSplits = parent.TotalSplits
		}
		return st.CreatePTP(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("promise to pay created",
		zap.String("ptp_number", p.PTPNumber),
		zap.String("amount", p.PromisedAmount.String()),
		zap.Time("promised_date", p.PromisedDate))
	return p, nil
}

// checkParent enforces the one-level split tree.
func checkParent(parent *models.PromiseToPay, caseID uuid.UUID) error {
	switch {
	case parent.ParentPTPID != nil:
		return fmt.Errorf("%w: promise %s is itself a split child", models.ErrInvalidInput, parent.PTPNumber)
	case !parent.IsSplit:
		return fmt.Errorf("%w: promise %s is not a split set", models.ErrInvalidInput, parent.PTPNumber)
	case parent.CollectionCaseID != caseID:
		return fmt.Errorf("%w: parent promise belongs to another case", models.ErrInvalidInput)
	case parent.Status.Terminal():
		return fmt.Errorf("%w: parent promise is %s", models.ErrInvalidState, parent.Status)
	}
	return nil
}

// CreateSplitPTP records a promise paid in instalments: a parent carrying the
// total, with date and mode from the first split, and one child per split.
func (e *Engine) CreateSplitPTP(ctx context.Context, in SplitInput, actor uuid.UUID) (*models.PromiseToPay, []*models.PromiseToPay, error) {
	if err := models.Validate(in); err != nil {
		return nil, nil, err
	}
	var parent *models.PromiseToPay
	children := make([]*models.PromiseToPay, 0, len(in.Splits))
	err := e.storage.RunInTx(ctx, func(st store.Storage) error {
		c, err := liveCase(ctx, st, in.CollectionCaseID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, s := range in.Splits {
			total = total.Add(s.Amount)
		}
		first := in.Splits[0]
		if parent, err = e.newPTP(ctx, st, c, total, first.Date, first.PaymentMode, in.ConfidenceLevel, actor); err != nil {
			return err
		}
		parent.IsSplit = true
		parent.TotalSplits = len(in.Splits)
		if err := st.CreatePTP(ctx, parent); err != nil {
			return err
		}

		for i, s := range in.Splits {
			child, err := e.newPTP(ctx, st, c, s.Amount, s.Date, s.PaymentMode, in.ConfidenceLevel, actor)
			if err != nil {
				return err
			}
			child.ParentPTPID = &parent.ID
			child.IsSplit = true
			child.SplitSequence = i + 1
			child.TotalSplits = len(in.Splits)
			if err := st.CreatePTP(ctx, child); err != nil {
				return err
			}
			children = append(children, child)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	e.log.Info("split promise created",
		zap.String("ptp_number", parent.PTPNumber),
		zap.Int("splits", len(children)),
		zap.String("amount", parent.PromisedAmount.String()))
	return parent, children, nil
}

// transition moves an active, non-parent promise to a terminal status and
// resolves its parent when that was the last open child.
func (e *Engine) transition(ctx context.Context, st store.Storage, p *models.PromiseToPay, to models.PTPStatus, mutate func(p *models.PromiseToPay)) error {
	if p.Status.Terminal() {
		return fmt.Errorf("%w: promise %s is already %s", models.ErrInvalidState, p.PTPNumber, p.Status)
	}
	p.Status = to
	p.UpdatedAt = e.clock.Now()
	if mutate != nil {
		mutate(p)
	}
	if err := st.UpdatePTP(ctx, p); err != nil {
		return err
	}
	if p.ParentPTPID != nil {
		return e.resolveParent(ctx, st, *p.ParentPTPID)
	}
	return nil
}

// resolveParent settles a split head once no child is active: all kept is
// kept, all cancelled is cancelled, any kept or partially kept child makes it
// partially kept, anything else is broken.
func (e *Engine) resolveParent(ctx context.Context, st store.Storage, parentID uuid.UUID) error {
	parent, err := st.GetPTP(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.Status.Terminal() {
		return nil
	}
	children, _, err := st.ListPTPs(ctx, models.PTPFilter{ParentPTPID: &parentID})
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return nil
	}

	var kept, partial, cancelled int
	paid := decimal.Zero
	var lastPaid *time.Time
	for _, c := range children {
		switch c.Status {
		case models.PTPStatusActive:
			return nil
		case models.PTPStatusKept:
			kept++
		case models.PTPStatusPartiallyKept:
			partial++
		case models.PTPStatusCancelled:
			cancelled++
		}
		if c.ActualPaymentAmount != nil {
			paid = paid.Add(*c.ActualPaymentAmount)
		}
		if c.ActualPaymentDate != nil && (lastPaid == nil || c.ActualPaymentDate.After(*lastPaid)) {
			lastPaid = c.ActualPaymentDate
		}
	}

	switch {
	case kept == len(children):
		parent.Status = models.PTPStatusKept
	case cancelled == len(children):
		parent.Status = models.PTPStatusCancelled
	case kept+partial > 0:
		parent.Status = models.PTPStatusPartiallyKept
	default:
		parent.Status = models.PTPStatusBroken
	}
	if !paid.IsZero() {
		parent.ActualPaymentAmount = &paid
		parent.ActualPaymentDate = lastPaid
	}
	parent.UpdatedAt = e.clock.Now()
	e.log.Info("split promise resolved", zap.String("ptp_number", parent.PTPNumber), zap.String("status", string(parent.Status)))
	return st.UpdatePTP(ctx, parent)
}

// load reads a promise for a direct status change. Split heads only move
// through their children, so they are rejected here.
func load(ctx context.Context, st store.Storage, id uuid.UUID) (*models.PromiseToPay, error) {
	p, err := st.GetPTP(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsParent() {
		return nil, fmt.Errorf("%w: split promise %s resolves from its instalments", models.ErrInvalidState, p.PTPNumber)
	}
	return p, nil
}

func (e *Engine) mark(ctx context.Context, ptpID uuid.UUID, to models.PTPStatus, paymentID *uuid.UUID, paid *decimal.Decimal) (*models.PromiseToPay, error) {
	var p *models.PromiseToPay
	err := e.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if p, err = load(ctx, st, ptpID); err != nil {
			return err
		}
		var pay *models.Payment
		if paymentID != nil {
			if pay, err = st.GetPayment(ctx, *paymentID); err != nil {
				return err
			}
		}
		return e.transition(ctx, st, p, to, func(p *models.PromiseToPay) {
			if pay == nil {
				return
			}
			now := e.clock.Now()
			amount := pay.Amount
			if paid != nil {
				amount = *paid
			}
			p.LinkedPaymentID = &pay.ID
			p.ActualPaymentDate = &now
			p.ActualPaymentAmount = &amount
		})
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("promise status changed", zap.String("ptp_number", p.PTPNumber), zap.String("status", string(to)))
	return p, nil
}

// MarkKept records that the promise was met by paymentID.
func (e *Engine) MarkKept(ctx context.Context, ptpID, paymentID uuid.UUID) (*models.PromiseToPay, error) {
	return e.mark(ctx, ptpID, models.PTPStatusKept, &paymentID, nil)
}

// MarkPartiallyKept records that paymentID covered paidAmount of the promise.
func (e *Engine) MarkPartiallyKept(ctx context.Context, ptpID, paymentID uuid.UUID, paidAmount decimal.Decimal) (*models.PromiseToPay, error) {
	if !paidAmount.IsPositive() {
		return nil, fmt.Errorf("%w: paid amount must be positive", models.ErrInvalidInput)
	}
	return e.mark(ctx, ptpID, models.PTPStatusPartiallyKept, &paymentID, &paidAmount)
}

// MarkBroken records that the promise was not met.
func (e *Engine) MarkBroken(ctx context.Context, ptpID uuid.UUID) (*models.PromiseToPay, error) {
	return e.mark(ctx, ptpID, models.PTPStatusBroken, nil, nil)
}

// Cancel withdraws a promise. Cancelling a split head cancels its active
// instalments, and the head then resolves from them.
func (e *Engine) Cancel(ctx context.Context, ptpID uuid.UUID, reason string) (*models.PromiseToPay, error) {
	var p *models.PromiseToPay
	err := e.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if p, err = st.GetPTP(ctx, ptpID); err != nil {
			return err
		}
		if p.Status.Terminal() {
			return fmt.Errorf("%w: promise %s is already %s", models.ErrInvalidState, p.PTPNumber, p.Status)
		}
		setReason := func(p *models.PromiseToPay) { p.CancellationReason = reason }
		if !p.IsParent() {
			return e.transition(ctx, st, p, models.PTPStatusCancelled, setReason)
		}

		children, _, err := st.ListPTPs(ctx, models.PTPFilter{ParentPTPID: &p.ID, Status: models.PTPStatusActive})
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := e.transition(ctx, st, c, models.PTPStatusCancelled, setReason); err != nil {
				return err
			}
		}
		if p, err = st.GetPTP(ctx, ptpID); err != nil {
			return err
		}
		p.CancellationReason = reason
		p.UpdatedAt = e.clock.Now()
		return st.UpdatePTP(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("promise cancelled", zap.String("ptp_number", p.PTPNumber), zap.String("reason", reason))
	return p, nil
}

// Fulfill settles a promise from a payment inside the caller's unit of work:
// kept when amount covers the promise, partially kept otherwise. A payment
// against a split head goes to its earliest active instalment.
func (e *Engine) Fulfill(ctx context.Context, st store.Storage, ptpID, paymentID uuid.UUID, amount decimal.Decimal) (*models.PromiseToPay, error) {
	p, err := st.GetPTP(ctx, ptpID)
	if err != nil {
		return nil, err
	}
	if p.IsParent() {
		children, _, err := st.ListPTPs(ctx, models.PTPFilter{ParentPTPID: &p.ID, Status: models.PTPStatusActive})
		if err != nil {
			return nil, err
		}
		if len(children) == 0 {
			return nil, fmt.Errorf("%w: split promise %s has no open instalment", models.ErrInvalidState, p.PTPNumber)
		}
		slices.SortFunc(children, func(a, b *models.PromiseToPay) int { return a.SplitSequence - b.SplitSequence })
		p = children[0]
	}

	to := models.PTPStatusPartiallyKept
	if amount.GreaterThanOrEqual(p.PromisedAmount) {
		to = models.PTPStatusKept
	}
	err = e.transition(ctx, st, p, to, func(p *models.PromiseToPay) {
		now := e.clock.Now()
		p.LinkedPaymentID = &paymentID
		p.ActualPaymentDate = &now
		p.ActualPaymentAmount = &amount
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Unfulfill takes back the settlement a payment made once that payment is
// reversed or bounced: the promise it kept becomes broken and a split head is
// resolved again. It returns nil when the payment settled nothing.
func (e *Engine) Unfulfill(ctx context.Context, st store.Storage, ptpID, paymentID uuid.UUID) (*models.PromiseToPay, error) {
	p, err := st.GetPTP(ctx, ptpID)
	if err != nil {
		return nil, err
	}
	if p.IsParent() {
		children, _, err := st.ListPTPs(ctx, models.PTPFilter{ParentPTPID: &p.ID})
		if err != nil {
			return nil, err
		}
		i := slices.IndexFunc(children, func(c *models.PromiseToPay) bool {
			return c.LinkedPaymentID != nil && *c.LinkedPaymentID == paymentID
		})
		if i < 0 {
			return nil, nil
		}
		p = children[i]
	}
	if p.LinkedPaymentID == nil || *p.LinkedPaymentID != paymentID {
		return nil, nil
	}
	if p.Status != models.PTPStatusKept && p.Status != models.PTPStatusPartiallyKept {
		return nil, nil
	}

	now := e.clock.Now()
	p.Status = models.PTPStatusBroken
	p.ActualPaymentAmount = nil
	p.ActualPaymentDate = nil
	p.UpdatedAt = now
	if err := st.UpdatePTP(ctx, p); err != nil {
		return nil, err
	}
	if p.ParentPTPID != nil {
		parent, err := st.GetPTP(ctx, *p.ParentPTPID)
		if err != nil {
			return nil, err
		}
		if parent.Status.Terminal() {
			parent.Status = models.PTPStatusActive
			parent.ActualPaymentAmount = nil
			parent.ActualPaymentDate = nil
			parent.UpdatedAt = now
			if err := st.UpdatePTP(ctx, parent); err != nil {
				return nil, err
			}
		}
		if err := e.resolveParent(ctx, st, parent.ID); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ProcessExpiredPTPs breaks every active instalment or single promise whose
// date is before today (UTC). Each promise commits on its own; failures are
// collected and the rest still run.
func (e *Engine) ProcessExpiredPTPs(ctx context.Context) (int, error) {
	today := clock.StartOfDay(e.clock.Now())
	due, _, err := e.storage.ListPTPs(ctx, models.PTPFilter{Status: models.PTPStatusActive, ExcludeParents: true, DueTo: &today})
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue promises: %w", err)
	}

	var errs error
	broken := 0
	for _, p := range due {
		changed := false
		err := e.storage.RunInTx(ctx, func(st store.Storage) error {
			cur, err := st.GetPTP(ctx, p.ID)
			if err != nil {
				return err
			}
			if cur.Status != models.PTPStatusActive {
				return nil
			}
			changed = true
			return e.transition(ctx, st, cur, models.PTPStatusBroken, nil)
		})
		if err != nil {
			e.log.Error("failed to expire promise", zap.String("ptp_number", p.PTPNumber), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("promise %s: %w", p.PTPNumber, err))
			continue
		}
		if changed {
			broken++
		}
	}
	e.log.Info("expired promises processed", zap.Int("due", len(due)), zap.Int("broken", broken))
	return broken, errs
}

// GetPTP retrieves a promise by id.
func (e *Engine) GetPTP(ctx context.Context, id uuid.UUID) (*models.PromiseToPay, error) {
	return e.storage.GetPTP(ctx, id)
}

// GetPTPByNumber retrieves a promise by its number.
func (e *Engine) GetPTPByNumber(ctx context.Context, number string) (*models.PromiseToPay, error) {
	return e.storage.GetPTPByNumber(ctx, number)
}

// ListByCase returns every promise on a case, split heads included, by promised date.
func (e *Engine) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*models.PromiseToPay, error) {
	rows, _, err := e.storage.ListPTPs(ctx, models.PTPFilter{CollectionCaseID: &caseID})
	return rows, err
}

// ListByCustomer returns every promise made by a customer.
func (e *Engine) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.PromiseToPay, error) {
	rows, _, err := e.storage.ListPTPs(ctx, models.PTPFilter{CustomerID: &customerID})
	return rows, err
}

// ListPTPs returns one page of promises and the total match count.
func (e *Engine) ListPTPs(ctx context.Context, f models.PTPFilter) ([]*models.PromiseToPay, int, error) {
	f.Page = f.Page.Normalize()
	return e.storage.ListPTPs(ctx, f)
}
