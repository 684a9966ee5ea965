package ptp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/notify"
	"github.com/mcclellann/fredCollect/pkg/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// reminderWindow is how many days ahead of the promised date reminders start.
const reminderWindow = 3

// SendReminders reminds customers of active promises due from today through
// today+3 (UTC). It returns the number of reminders delivered.
func (e *Engine) SendReminders(ctx context.Context) (int, error) {
	from := clock.StartOfDay(e.clock.Now())
	to := from.AddDate(0, 0, reminderWindow+1)
	due, _, err := e.storage.ListPTPs(ctx, models.PTPFilter{
		Status:         models.PTPStatusActive,
		ExcludeParents: true,
		DueFrom:        &from,
		DueTo:          &to,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list upcoming promises: %w", err)
	}

	var errs error
	sent := 0
	for _, p := range due {
		if _, err := e.SendReminder(ctx, p.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("promise %s: %w", p.PTPNumber, err))
			continue
		}
		sent++
	}
	e.log.Info("promise reminders sent", zap.Int("due", len(due)), zap.Int("sent", sent))
	return sent, errs
}

// SendReminder delivers one reminder and then counts it on the promise.
// A failed delivery leaves the counter unchanged.
func (e *Engine) SendReminder(ctx context.Context, ptpID uuid.UUID) (*models.PromiseToPay, error) {
	p, err := e.storage.GetPTP(ctx, ptpID)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return nil, fmt.Errorf("%w: promise %s is %s", models.ErrInvalidState, p.PTPNumber, p.Status)
	}
	cust, err := e.storage.GetCustomer(ctx, p.CustomerID)
	if err != nil {
		return nil, err
	}

	msg := reminderMessage(cust, p)
	if err := e.messenger.Send(ctx, msg); err != nil {
		e.log.Error("failed to deliver promise reminder", zap.String("ptp_number", p.PTPNumber), zap.Error(err))
		return nil, fmt.Errorf("failed to deliver reminder for %s: %w", p.PTPNumber, err)
	}

	err = e.storage.RunInTx(ctx, func(st store.Storage) error {
		cur, err := st.GetPTP(ctx, ptpID)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		cur.RemindersSent++
		cur.LastReminderAt = &now
		cur.UpdatedAt = now
		p = cur
		return st.UpdatePTP(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func reminderMessage(c *models.Customer, p *models.PromiseToPay) notify.Message {
	to := c.Email
	if to == "" {
		to = c.Phone
	}
	return notify.Message{
		To:      to,
		Subject: "Payment reminder " + p.PTPNumber,
		Body: fmt.Sprintf("Dear %s,\n\nThis is a reminder of your promise to pay %s on %s.\n",
			c.FullName, p.PromisedAmount.StringFixed(2), p.PromisedDate.Format("02 Jan 2006")),
		Reference: p.PTPNumber,
	}
}

// CreateFollowUp schedules a check on a promise.
func (e *Engine) CreateFollowUp(ctx context.Context, ptpID uuid.UUID, date time.Time, channel string) (*models.PTPFollowUp, error) {
	if channel == "" || date.IsZero() {
		return nil, fmt.Errorf("%w: follow-up needs a date and a channel", models.ErrInvalidInput)
	}
	now := e.clock.Now()
	fu := &models.PTPFollowUp{
		ID:           uuid.New(),
		PTPID:        ptpID,
		FollowUpDate: date.UTC(),
		Channel:      channel,
		Status:       models.FollowUpPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := e.storage.RunInTx(ctx, func(st store.Storage) error {
		if _, err := st.GetPTP(ctx, ptpID); err != nil {
			return err
		}
		return st.CreateFollowUp(ctx, fu)
	})
	if err != nil {
		return nil, err
	}
	return fu, nil
}

// PendingFollowUps lists follow-ups due at or before now.
func (e *Engine) PendingFollowUps(ctx context.Context, now time.Time) ([]*models.PTPFollowUp, error) {
	return e.storage.ListPendingFollowUps(ctx, now)
}

// CompleteFollowUp closes a pending follow-up with notes.
func (e *Engine) CompleteFollowUp(ctx context.Context, id uuid.UUID, notes string) (*models.PTPFollowUp, error) {
	var fu *models.PTPFollowUp
	err := e.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if fu, err = st.GetFollowUp(ctx, id); err != nil {
			return err
		}
		if fu.Status == models.FollowUpCompleted {
			return fmt.Errorf("%w: follow-up already completed", models.ErrInvalidState)
		}
		now := e.clock.Now()
		fu.Status = models.FollowUpCompleted
		fu.Notes = notes
		fu.CompletedAt = &now
		fu.UpdatedAt = now
		return st.UpdateFollowUp(ctx, fu)
	})
	if err != nil {
		return nil, err
	}
	return fu, nil
}
