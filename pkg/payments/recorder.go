// Package payments records money received against loan accounts and keeps
// the ledger, the case snapshot and promises to pay in step with it.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/cases"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/ledger"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/notify"
	"github.com/mcclellann/fredCollect/pkg/ptp"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Recorder is the payment service.
type Recorder struct {
	storage   store.Storage
	ledger    *ledger.Ledger
	ptps      *ptp.Engine
	messenger notify.Messenger
	lms       LMSPoster
	links     LinkConfig
	clock     clock.Clock
	log       *zap.Logger
}

// NewRecorder wires a Recorder. A nil messenger or poster falls back to the
// logging implementations.
func NewRecorder(s store.Storage, l *ledger.Ledger, engine *ptp.Engine, msgr notify.Messenger, lms LMSPoster, links LinkConfig, clk clock.Clock, log *zap.Logger) *Recorder {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if msgr == nil {
		msgr = notify.NewLogMessenger(log)
	}
	if lms == nil {
		lms = NewLogPoster(log)
	}
	return &Recorder{
		storage:   s,
		ledger:    l,
		ptps:      engine,
		messenger: msgr,
		lms:       lms,
		links:     links,
		clock:     clk,
		log:       log.Named("payments"),
	}
}

func (r *Recorder) nextReference(ctx context.Context, st store.Storage) (string, error) {
	prefix := "PAY" + r.clock.Now().Format("20060102")
	n, err := st.CountPaymentReferences(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%06d", prefix, n+1), nil
}

// RecordPayment records a payment and applies it to the loan in one unit of
// work: the allocation breakdown is stored on the payment, the loan's
// last-payment fields and the case snapshot are refreshed, and the promise
// named in details is fulfilled. Any failure leaves nothing behind.
func (r *Recorder) RecordPayment(ctx context.Context, loanAccountID uuid.UUID, amount decimal.Decimal, mode models.PaymentMode, details *models.PaymentDetails) (*models.Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", models.ErrInvalidInput)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown payment mode %q", models.ErrInvalidInput, mode)
	}
	var p *models.Payment
	err := r.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		p, err = r.record(ctx, st, loanAccountID, amount, mode, details)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("payment recorded",
		zap.String("payment_reference", p.PaymentReferenceNumber),
		zap.String("amount", p.Amount.String()),
		zap.String("mode", string(p.Mode)))
	return p, nil
}

func (r *Recorder) record(ctx context.Context, st store.Storage, loanAccountID uuid.UUID, amount decimal.Decimal, mode models.PaymentMode, details *models.PaymentDetails) (*models.Payment, error) {
	acc, err := st.GetLoanAccount(ctx, loanAccountID)
	if err != nil {
		return nil, err
	}
	c, err := st.GetCaseByLoanAccount(ctx, loanAccountID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		c = nil
	case err != nil:
		return nil, err
	case c.IsDeleted:
		c = nil
	}

	ref, err := r.nextReference(ctx, st)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	p := &models.Payment{
		ID:                     uuid.New(),
		PaymentReferenceNumber: ref,
		LoanAccountID:          acc.ID,
		CustomerID:             acc.CustomerID,
		Amount:                 amount,
		Mode:                   mode,
		Status:                 models.PaymentStatusPending,
		PaymentDate:            now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if c != nil {
		p.CollectionCaseID = &c.ID
	}
	if details != nil {
		p.TransactionID = details.TransactionID
		p.BankReferenceNumber = details.BankReferenceNumber
		p.UPIReferenceNumber = details.UPIReferenceNumber
		p.ChequeNumber = details.ChequeNumber
		p.ChequeDate = details.ChequeDate
		p.FieldVisitID = details.FieldVisitID
		p.CollectedByUserID = details.CollectedByUserID
		p.PTPID = details.PTPID
	}
	if err := st.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	alloc, err := r.ledger.Apply(ctx, st, acc.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to apply payment %s: %w", ref, err)
	}
	p.InterestAmount = alloc.Interest
	p.PenaltyAmount = alloc.Penalty
	p.PrincipalAmount = alloc.Principal
	p.ExcessAmount = alloc.Excess
	if err := st.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	if acc, err = st.GetLoanAccount(ctx, acc.ID); err != nil {
		return nil, err
	}
	acc.LastPaymentDate = &now
	acc.LastPaymentAmount = amount
	acc.TotalAmountPaid = acc.TotalAmountPaid.Add(amount)
	acc.UpdatedAt = now
	if err := st.UpdateLoanAccount(ctx, acc); err != nil {
		return nil, err
	}
	if err := r.refreshCase(ctx, st, c, acc); err != nil {
		return nil, err
	}

	if p.PTPID != nil {
		if err := r.fulfil(ctx, st, p, c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (r *Recorder) refreshCase(ctx context.Context, st store.Storage, c *models.CollectionCase, acc *models.LoanAccount) error {
	if c == nil {
		return nil
	}
	cases.SyncFromLoan(c, acc)
	c.UpdatedAt = r.clock.Now()
	return st.UpdateCase(ctx, c)
}

// fulfil settles the promise a payment was made against. The promise must sit
// on the loan's case. A promise that is already resolved (typically broken by
// the expiry job) keeps the link on the payment and is left as it is.
func (r *Recorder) fulfil(ctx context.Context, st store.Storage, p *models.Payment, c *models.CollectionCase) error {
	promise, err := st.GetPTP(ctx, *p.PTPID)
	if err != nil {
		return fmt.Errorf("promise for payment %s: %w", p.PaymentReferenceNumber, err)
	}
	if c == nil || promise.CollectionCaseID != c.ID {
		return fmt.Errorf("%w: promise %s is not on this loan's case", models.ErrInvalidInput, promise.PTPNumber)
	}
	settled, err := r.ptps.Fulfill(ctx, st, promise.ID, p.ID, p.Amount)
	if errors.Is(err, models.ErrInvalidState) {
		r.log.Warn("payment made against a resolved promise",
			zap.String("payment_reference", p.PaymentReferenceNumber),
			zap.String("ptp_number", promise.PTPNumber),
			zap.String("ptp_status", string(promise.Status)))
		return nil
	}
	if err != nil {
		return err
	}
	r.log.Info("promise fulfilled by payment",
		zap.String("payment_reference", p.PaymentReferenceNumber),
		zap.String("ptp_number", settled.PTPNumber),
		zap.String("status", string(settled.Status)))
	return nil
}

// UpdatePaymentStatus moves a payment through its settlement states. Success
// stamps the settlement time. Statuses that undo the payment's money are
// reached through ReversePayment and MarkBounced instead.
func (r *Recorder) UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, status models.PaymentStatus) (*models.Payment, error) {
	switch status {
	case models.PaymentStatusReversed, models.PaymentStatusBounced, models.PaymentStatusRefunded, models.PaymentStatusFailed:
		return nil, fmt.Errorf("%w: %s must go through reversal", models.ErrInvalidInput, status)
	case models.PaymentStatusInitiated, models.PaymentStatusPending, models.PaymentStatusSuccess,
		models.PaymentStatusUnderReconciliation, models.PaymentStatusReconciled:
	default:
		return nil, fmt.Errorf("%w: unknown payment status %q", models.ErrInvalidInput, status)
	}

	var p *models.Payment
	err := r.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if p, err = st.GetPayment(ctx, paymentID); err != nil {
			return err
		}
		if p.Status.Undone() {
			return fmt.Errorf("%w: payment %s is %s", models.ErrInvalidState, p.PaymentReferenceNumber, p.Status)
		}
		now := r.clock.Now()
		p.Status = status
		p.UpdatedAt = now
		if status == models.PaymentStatusSuccess {
			p.SettlementAt = &now
		}
		return st.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("payment status updated", zap.String("payment_reference", p.PaymentReferenceNumber), zap.String("status", string(status)))
	return p, nil
}

// ReversePayment takes a payment back out of the loan, restoring exactly the
// components it paid down.
func (r *Recorder) ReversePayment(ctx context.Context, paymentID uuid.UUID, reason string) (*models.Payment, error) {
	return r.undo(ctx, paymentID, models.PaymentStatusReversed, func(p *models.Payment, now time.Time) {
		p.ReversalReason = reason
		p.ReversedAt = &now
	})
}

// MarkBounced records a returned instrument and undoes the payment the same
// way as a reversal.
func (r *Recorder) MarkBounced(ctx context.Context, paymentID uuid.UUID, reason string) (*models.Payment, error) {
	return r.undo(ctx, paymentID, models.PaymentStatusBounced, func(p *models.Payment, now time.Time) {
		p.BounceReason = reason
		p.BouncedAt = &now
	})
}

func (r *Recorder) undo(ctx context.Context, paymentID uuid.UUID, to models.PaymentStatus, stamp func(p *models.Payment, now time.Time)) (*models.Payment, error) {
	var p *models.Payment
	err := r.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if p, err = st.GetPayment(ctx, paymentID); err != nil {
			return err
		}
		if p.Status.Undone() {
			return fmt.Errorf("%w: payment %s is already %s", models.ErrAlreadyReversed, p.PaymentReferenceNumber, p.Status)
		}

		if _, err := r.ledger.Reverse(ctx, st, p.LoanAccountID, models.AllocationOf(p)); err != nil {
			return fmt.Errorf("failed to reverse payment %s: %w", p.PaymentReferenceNumber, err)
		}
		acc, err := st.GetLoanAccount(ctx, p.LoanAccountID)
		if err != nil {
			return err
		}
		now := r.clock.Now()
		acc.TotalAmountPaid = decimal.Max(acc.TotalAmountPaid.Sub(p.Amount), decimal.Zero)
		acc.UpdatedAt = now
		if err := st.UpdateLoanAccount(ctx, acc); err != nil {
			return err
		}
		if p.CollectionCaseID != nil {
			c, err := st.GetCase(ctx, *p.CollectionCaseID)
			if err != nil {
				return err
			}
			if err := r.refreshCase(ctx, st, c, acc); err != nil {
				return err
			}
		}

		if p.PTPID != nil {
			undone, err := r.ptps.Unfulfill(ctx, st, *p.PTPID, p.ID)
			if err != nil {
				return err
			}
			if undone != nil {
				r.log.Info("promise broken by undone payment",
					zap.String("payment_reference", p.PaymentReferenceNumber),
					zap.String("ptp_number", undone.PTPNumber))
			}
		}

		p.Status = to
		p.UpdatedAt = now
		stamp(p, now)
		return st.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("payment undone",
		zap.String("payment_reference", p.PaymentReferenceNumber),
		zap.String("status", string(to)),
		zap.String("amount", p.Amount.String()))
	return p, nil
}

// GetPayment retrieves a payment by id.
func (r *Recorder) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.storage.GetPayment(ctx, id)
}

// GetPaymentByReference retrieves a payment by its PAY reference.
func (r *Recorder) GetPaymentByReference(ctx context.Context, ref string) (*models.Payment, error) {
	return r.storage.GetPaymentByReference(ctx, ref)
}

// ListByLoanAccount returns a loan's payments, newest first.
func (r *Recorder) ListByLoanAccount(ctx context.Context, loanAccountID uuid.UUID) ([]*models.Payment, error) {
	rows, _, err := r.storage.ListPayments(ctx, models.PaymentFilter{LoanAccountID: &loanAccountID})
	return rows, err
}

// ListByCustomer returns a customer's payments, newest first.
func (r *Recorder) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Payment, error) {
	rows, _, err := r.storage.ListPayments(ctx, models.PaymentFilter{CustomerID: &customerID})
	return rows, err
}

// ListPayments returns one page of payments and the total match count.
func (r *Recorder) ListPayments(ctx context.Context, f models.PaymentFilter) ([]*models.Payment, int, error) {
	f.Page = f.Page.Normalize()
	return r.storage.ListPayments(ctx, f)
}

// UnreconciledPayments lists every payment not yet matched to a bank record.
func (r *Recorder) UnreconciledPayments(ctx context.Context) ([]*models.Payment, error) {
	rows, _, err := r.storage.ListPayments(ctx, models.PaymentFilter{Unreconciled: true})
	return rows, err
}

// ReconcilePayment marks a payment as matched.
func (r *Recorder) ReconcilePayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var p *models.Payment
	err := r.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if p, err = st.GetPayment(ctx, paymentID); err != nil {
			return err
		}
		if p.IsReconciled {
			return nil
		}
		now := r.clock.Now()
		p.IsReconciled = true
		p.ReconciledAt = &now
		p.UpdatedAt = now
		return st.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ReconcilePendingPayments reconciles every successful, unreconciled payment.
// Each payment commits on its own.
func (r *Recorder) ReconcilePendingPayments(ctx context.Context) (int, error) {
	pending, _, err := r.storage.ListPayments(ctx, models.PaymentFilter{Unreconciled: true, Status: models.PaymentStatusSuccess})
	if err != nil {
		return 0, fmt.Errorf("failed to list unreconciled payments: %w", err)
	}
	var errs error
	done := 0
	for _, p := range pending {
		if _, err := r.ReconcilePayment(ctx, p.ID); err != nil {
			r.log.Error("failed to reconcile payment", zap.String("payment_reference", p.PaymentReferenceNumber), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", p.PaymentReferenceNumber, err))
			continue
		}
		done++
	}
	r.log.Info("payments reconciled", zap.Int("pending", len(pending)), zap.Int("reconciled", done))
	return done, errs
}
