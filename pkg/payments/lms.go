package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/store"
	"go.uber.org/zap"
)

// LMSPoster pushes a payment to the loan management system and returns the
// transaction id it was booked under.
type LMSPoster interface {
	PostPayment(ctx context.Context, p models.Payment) (string, error)
}

// LogPoster is an LMSPoster that only logs. It stands in until an LMS is wired.
type LogPoster struct {
	log *zap.Logger
}

// NewLogPoster creates a LogPoster.
func NewLogPoster(log *zap.Logger) *LogPoster {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPoster{log: log.Named("lms")}
}

func (lp *LogPoster) PostPayment(_ context.Context, p models.Payment) (string, error) {
	lp.log.Info("payment posted",
		zap.String("payment_reference", p.PaymentReferenceNumber),
		zap.String("amount", p.Amount.String()))
	return "LMS-" + p.PaymentReferenceNumber, nil
}

// PostPaymentToLMS books a payment in the LMS and stores the returned
// transaction id. Undone or already posted payments are rejected.
func (r *Recorder) PostPaymentToLMS(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	p, err := r.storage.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.PostedToLMSAt != nil {
		return nil, fmt.Errorf("%w: payment %s already posted", models.ErrInvalidState, p.PaymentReferenceNumber)
	}
	if p.Status.Undone() {
		return nil, fmt.Errorf("%w: payment %s is %s", models.ErrInvalidState, p.PaymentReferenceNumber, p.Status)
	}

	txnID, err := r.lms.PostPayment(ctx, *p)
	if err != nil {
		r.log.Error("failed to post payment to LMS", zap.String("payment_reference", p.PaymentReferenceNumber), zap.Error(err))
		return nil, fmt.Errorf("failed to post payment %s: %w", p.PaymentReferenceNumber, err)
	}

	err = r.storage.RunInTx(ctx, func(st store.Storage) error {
		if p, err = st.GetPayment(ctx, paymentID); err != nil {
			return err
		}
		now := r.clock.Now()
		p.LMSTransactionID = txnID
		p.PostedToLMSAt = &now
		p.UpdatedAt = now
		return st.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
