package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/notify"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// LinkConfig configures payment-link tokens.
type LinkConfig struct {
	Secret          string
	BaseURL         string
	DefaultValidity time.Duration
}

// linkClaims is the payload of a payment-link token. The registered jti is the link id.
type linkClaims struct {
	jwt.RegisteredClaims
	LoanAccountID string `json:"loan_account_id"`
}

// LinkInput describes a payment link. A zero Validity uses the configured default.
type LinkInput struct {
	LoanAccountID   uuid.UUID       `json:"loan_account_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"gt=0"`
	Validity        time.Duration   `json:"validity" validate:"gte=0"`
	AllowPartial    bool            `json:"allow_partial_payment"`
	DeliverTo       string          `json:"deliver_to,omitempty"`
	DeliveryChannel string          `json:"delivery_channel,omitempty"`
}

func (r *Recorder) signLink(l *models.PaymentLink) (string, error) {
	claims := linkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        l.LinkID,
			Subject:   l.CustomerID.String(),
			IssuedAt:  jwt.NewNumericDate(l.CreatedAt),
			NotBefore: jwt.NewNumericDate(l.ValidFrom),
			ExpiresAt: jwt.NewNumericDate(l.ValidTo),
		},
		LoanAccountID: l.LoanAccountID.String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(r.links.Secret))
}

// parseLink verifies a token's signature and time window against the service clock.
func (r *Recorder) parseLink(token string) (*linkClaims, error) {
	claims := &linkClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(r.links.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(r.clock.Now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// GeneratePaymentLink creates a single-use link for paying amount against a
// loan. It returns the link and its signed token. When DeliverTo is set the
// link is sent through the messenger; a failed delivery is logged and the
// link stays usable.
func (r *Recorder) GeneratePaymentLink(ctx context.Context, in LinkInput) (*models.PaymentLink, string, error) {
	if err := models.Validate(in); err != nil {
		return nil, "", err
	}
	if r.links.Secret == "" {
		return nil, "", fmt.Errorf("%w: payment links are not configured", models.ErrInvalidState)
	}
	validity := in.Validity
	if validity == 0 {
		validity = r.links.DefaultValidity
	}

	var (
		link  *models.PaymentLink
		token string
	)
	err := r.storage.RunInTx(ctx, func(st store.Storage) error {
		acc, err := st.GetLoanAccount(ctx, in.LoanAccountID)
		if err != nil {
			return err
		}
		now := r.clock.Now()
		link = &models.PaymentLink{
			ID:                  uuid.New(),
			LinkID:              strings.ReplaceAll(uuid.NewString(), "-", ""),
			LoanAccountID:       acc.ID,
			CustomerID:          acc.CustomerID,
			Amount:              in.Amount,
			AllowPartialPayment: in.AllowPartial,
			ValidFrom:           now,
			ValidTo:             now.Add(validity),
			IsActive:            true,
			DeliveryChannel:     in.DeliveryChannel,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		c, err := st.GetCaseByLoanAccount(ctx, acc.ID)
		if err == nil && !c.IsDeleted {
			link.CollectionCaseID = &c.ID
		}
		if token, err = r.signLink(link); err != nil {
			return fmt.Errorf("failed to sign payment link: %w", err)
		}
		link.URL = strings.TrimSuffix(r.links.BaseURL, "/") + "/pay/" + token
		return st.CreatePaymentLink(ctx, link)
	})
	if err != nil {
		return nil, "", err
	}
	r.log.Info("payment link generated",
		zap.String("link_id", link.LinkID),
		zap.String("amount", link.Amount.String()),
		zap.Time("valid_to", link.ValidTo))

	if in.DeliverTo != "" {
		r.deliverLink(ctx, link, in.DeliverTo)
	}
	return link, token, nil
}

func (r *Recorder) deliverLink(ctx context.Context, link *models.PaymentLink, to string) {
	msg := notify.Message{
		To:      to,
		Subject: "Your payment link",
		Body: fmt.Sprintf("Pay %s using the link below before %s.\n\n%s\n",
			link.Amount.StringFixed(2), link.ValidTo.Format("02 Jan 2006 15:04 MST"), link.URL),
		Reference: link.LinkID,
	}
	if err := r.messenger.Send(ctx, msg); err != nil {
		r.log.Warn("failed to deliver payment link", zap.String("link_id", link.LinkID), zap.Error(err))
		return
	}
	err := r.storage.RunInTx(ctx, func(st store.Storage) error {
		cur, err := st.GetPaymentLink(ctx, link.LinkID)
		if err != nil {
			return err
		}
		now := r.clock.Now()
		cur.SentAt = &now
		cur.UpdatedAt = now
		if err := st.UpdatePaymentLink(ctx, cur); err != nil {
			return err
		}
		*link = *cur
		return nil
	})
	if err != nil {
		r.log.Error("failed to stamp payment link delivery", zap.String("link_id", link.LinkID), zap.Error(err))
	}
}

// GetPaymentLink retrieves a link by its public id.
func (r *Recorder) GetPaymentLink(ctx context.Context, linkID string) (*models.PaymentLink, error) {
	return r.storage.GetPaymentLink(ctx, linkID)
}

// ProcessPaymentLinkPayment redeems a link token. It reports false, without
// error, when the token does not verify or the link is inactive, used or out
// of its window. Otherwise exactly one payment is recorded for the link amount
// and the link is closed in the same unit of work.
func (r *Recorder) ProcessPaymentLinkPayment(ctx context.Context, token, transactionID string) (bool, error) {
	claims, err := r.parseLink(token)
	if err != nil {
		r.log.Info("payment link rejected", zap.Error(err))
		return false, nil
	}

	var p *models.Payment
	redeemed := false
	err = r.storage.RunInTx(ctx, func(st store.Storage) error {
		link, err := st.GetPaymentLink(ctx, claims.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			return err
		}
		now := r.clock.Now()
		if !link.IsActive || link.UsedAt != nil || now.Before(link.ValidFrom) || !now.Before(link.ValidTo) {
			return nil
		}

		if p, err = r.record(ctx, st, link.LoanAccountID, link.Amount, models.PaymentModePaymentLink,
			&models.PaymentDetails{TransactionID: transactionID}); err != nil {
			return err
		}
		p.PaymentLinkID = &link.ID
		if err := st.UpdatePayment(ctx, p); err != nil {
			return err
		}

		link.IsActive = false
		link.UsedAt = &now
		link.PaymentID = &p.ID
		link.UpdatedAt = now
		redeemed = true
		return st.UpdatePaymentLink(ctx, link)
	})
	if err != nil {
		return false, err
	}
	if redeemed {
		r.log.Info("payment link redeemed",
			zap.String("link_id", claims.ID),
			zap.String("payment_reference", p.PaymentReferenceNumber))
	}
	return redeemed, nil
}

// ActivePaymentLinks lists a loan's links that can still be paid.
func (r *Recorder) ActivePaymentLinks(ctx context.Context, loanAccountID uuid.UUID) ([]*models.PaymentLink, error) {
	rows, err := r.storage.ListPaymentLinks(ctx, models.PaymentLinkFilter{LoanAccountID: &loanAccountID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	out := rows[:0]
	for _, l := range rows {
		if now.Before(l.ValidTo) {
			out = append(out, l)
		}
	}
	return out, nil
}

// ExpirePaymentLinks deactivates active links past their validity. Each link
// commits on its own.
func (r *Recorder) ExpirePaymentLinks(ctx context.Context) (int, error) {
	active, err := r.storage.ListPaymentLinks(ctx, models.PaymentLinkFilter{ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list payment links: %w", err)
	}
	now := r.clock.Now()
	var errs error
	expired := 0
	for _, l := range active {
		if now.Before(l.ValidTo) {
			continue
		}
		err := r.storage.RunInTx(ctx, func(st store.Storage) error {
			cur, err := st.GetPaymentLink(ctx, l.LinkID)
			if err != nil {
				return err
			}
			cur.IsActive = false
			cur.UpdatedAt = now
			return st.UpdatePaymentLink(ctx, cur)
		})
		if err != nil {
			r.log.Error("failed to expire payment link", zap.String("link_id", l.LinkID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("link %s: %w", l.LinkID, err))
			continue
		}
		expired++
	}
	r.log.Info("payment links expired", zap.Int("expired", expired))
	return expired, errs
}
