package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/shopspring/decimal"
)

const ptpColumns = `id, ptp_number, collection_case_id, customer_id, promised_amount, promised_date,
	payment_mode, status, parent_ptp_id, is_split, split_sequence, total_splits, confidence_level,
	linked_payment_id, actual_payment_date, actual_payment_amount, reminders_sent, last_reminder_at,
	cancellation_reason, created_by_user_id, created_at, updated_at`

// CreatePTP inserts a new promise to pay.
func (s *SQLStore) CreatePTP(ctx context.Context, p *models.PromiseToPay) error {
	_, err := s.exec(ctx,
		`INSERT INTO promises_to_pay (`+ptpColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PTPNumber, p.CollectionCaseID, p.CustomerID, p.PromisedAmount, p.PromisedDate,
		string(p.PaymentMode), string(p.Status), nullUUID(p.ParentPTPID), p.IsSplit, p.SplitSequence, p.TotalSplits, p.ConfidenceLevel,
		nullUUID(p.LinkedPaymentID), nullTime(p.ActualPaymentDate), nullDecimal(p.ActualPaymentAmount), p.RemindersSent, nullTime(p.LastReminderAt),
		p.CancellationReason, nullUUID(p.CreatedByUserID), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ptp: %w", err)
	}
	return nil
}

func scanPTP(row rowScanner) (*models.PromiseToPay, error) {
	var (
		p                    models.PromiseToPay
		mode, status         string
		parent, payment, by  uuid.NullUUID
		actualDate, reminded sql.NullTime
		actualAmount         decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.PTPNumber, &p.CollectionCaseID, &p.CustomerID, &p.PromisedAmount, &p.PromisedDate,
		&mode, &status, &parent, &p.IsSplit, &p.SplitSequence, &p.TotalSplits, &p.ConfidenceLevel,
		&payment, &actualDate, &actualAmount, &p.RemindersSent, &reminded,
		&p.CancellationReason, &by, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.PaymentMode = models.PaymentMode(mode)
	p.Status = models.PTPStatus(status)
	p.ParentPTPID = uuidPtr(parent)
	p.LinkedPaymentID = uuidPtr(payment)
	p.ActualPaymentDate = timePtr(actualDate)
	p.ActualPaymentAmount = decimalPtr(actualAmount)
	p.LastReminderAt = timePtr(reminded)
	p.CreatedByUserID = uuidPtr(by)
	p.PromisedDate = p.PromisedDate.UTC()
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

// GetPTP retrieves a promise by id.
func (s *SQLStore) GetPTP(ctx context.Context, id uuid.UUID) (*models.PromiseToPay, error) {
	p, err := scanPTP(s.queryRow(ctx, `SELECT `+ptpColumns+` FROM promises_to_pay WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "ptp")
	}
	return p, nil
}

// GetPTPByNumber retrieves a promise by its PTP number.
func (s *SQLStore) GetPTPByNumber(ctx context.Context, number string) (*models.PromiseToPay, error) {
	p, err := scanPTP(s.queryRow(ctx, `SELECT `+ptpColumns+` FROM promises_to_pay WHERE ptp_number = ?`, number))
	if err != nil {
		return nil, notFound(err, "ptp")
	}
	return p, nil
}

// UpdatePTP writes the mutable fields of a promise.
func (s *SQLStore) UpdatePTP(ctx context.Context, p *models.PromiseToPay) error {
	return s.execOne(ctx, "ptp",
		`UPDATE promises_to_pay SET promised_amount = ?, promised_date = ?, payment_mode = ?, status = ?,
			linked_payment_id = ?, actual_payment_date = ?, actual_payment_amount = ?, reminders_sent = ?, last_reminder_at = ?,
			cancellation_reason = ?, updated_at = ?
		WHERE id = ?`,
		p.PromisedAmount, p.PromisedDate, string(p.PaymentMode), string(p.Status),
		nullUUID(p.LinkedPaymentID), nullTime(p.ActualPaymentDate), nullDecimal(p.ActualPaymentAmount), p.RemindersSent, nullTime(p.LastReminderAt),
		p.CancellationReason, p.UpdatedAt,
		p.ID,
	)
}

// ListPTPs returns one page of promises matching f, ordered by promised date.
func (s *SQLStore) ListPTPs(ctx context.Context, f models.PTPFilter) ([]*models.PromiseToPay, int, error) {
	w := &whereBuilder{}
	if f.CollectionCaseID != nil {
		w.add("collection_case_id = ?", *f.CollectionCaseID)
	}
	if f.CustomerID != nil {
		w.add("customer_id = ?", *f.CustomerID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.CreatedByUserID != nil {
		w.add("created_by_user_id = ?", *f.CreatedByUserID)
	}
	if f.ParentPTPID != nil {
		w.add("parent_ptp_id = ?", *f.ParentPTPID)
	}
	if f.ExcludeParents {
		w.add("NOT (is_split = ? AND parent_ptp_id IS NULL)", true)
	}
	if f.DueFrom != nil {
		w.add("promised_date >= ?", f.DueFrom.UTC())
	}
	if f.DueTo != nil {
		w.add("promised_date < ?", f.DueTo.UTC())
	}

	total, err := s.count(ctx, `SELECT COUNT(*) FROM promises_to_pay`+w.String(), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count ptps: %w", err)
	}
	rows, err := s.query(ctx, `SELECT `+ptpColumns+` FROM promises_to_pay`+w.String()+
		` ORDER BY promised_date, split_sequence`+limitClause(f.Page), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list ptps: %w", err)
	}
	defer rows.Close()

	var out []*models.PromiseToPay
	for rows.Next() {
		p, err := scanPTP(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan ptp: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// CountPTPNumbers counts PTP numbers starting with prefix.
func (s *SQLStore) CountPTPNumbers(ctx context.Context, prefix string) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM promises_to_pay WHERE ptp_number LIKE ?`, prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to count ptp numbers: %w", err)
	}
	return n, nil
}

const followUpColumns = `id, ptp_id, follow_up_date, channel, status, notes, completed_at, created_at, updated_at`

// CreateFollowUp inserts a follow-up for a promise.
func (s *SQLStore) CreateFollowUp(ctx context.Context, fu *models.PTPFollowUp) error {
	_, err := s.exec(ctx,
		`INSERT INTO ptp_follow_ups (`+followUpColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fu.ID, fu.PTPID, fu.FollowUpDate, fu.Channel, fu.Status, fu.Notes, nullTime(fu.CompletedAt), fu.CreatedAt, fu.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create follow-up: %w", err)
	}
	return nil
}

func scanFollowUp(row rowScanner) (*models.PTPFollowUp, error) {
	var (
		fu        models.PTPFollowUp
		completed sql.NullTime
	)
	if err := row.Scan(&fu.ID, &fu.PTPID, &fu.FollowUpDate, &fu.Channel, &fu.Status, &fu.Notes, &completed, &fu.CreatedAt, &fu.UpdatedAt); err != nil {
		return nil, err
	}
	fu.CompletedAt = timePtr(completed)
	fu.FollowUpDate = fu.FollowUpDate.UTC()
	fu.CreatedAt, fu.UpdatedAt = fu.CreatedAt.UTC(), fu.UpdatedAt.UTC()
	return &fu, nil
}

// GetFollowUp retrieves a follow-up by id.
func (s *SQLStore) GetFollowUp(ctx context.Context, id uuid.UUID) (*models.PTPFollowUp, error) {
	fu, err := scanFollowUp(s.queryRow(ctx, `SELECT `+followUpColumns+` FROM ptp_follow_ups WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "follow-up")
	}
	return fu, nil
}

// UpdateFollowUp writes a follow-up's status and notes.
func (s *SQLStore) UpdateFollowUp(ctx context.Context, fu *models.PTPFollowUp) error {
	return s.execOne(ctx, "follow-up",
		`UPDATE ptp_follow_ups SET follow_up_date = ?, channel = ?, status = ?, notes = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		fu.FollowUpDate, fu.Channel, fu.Status, fu.Notes, nullTime(fu.CompletedAt), fu.UpdatedAt, fu.ID,
	)
}

// ListPendingFollowUps returns pending follow-ups due at or before dueBy, oldest first.
func (s *SQLStore) ListPendingFollowUps(ctx context.Context, dueBy time.Time) ([]*models.PTPFollowUp, error) {
	rows, err := s.query(ctx,
		`SELECT `+followUpColumns+` FROM ptp_follow_ups WHERE status = ? AND follow_up_date <= ? ORDER BY follow_up_date`,
		models.FollowUpPending, dueBy.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list follow-ups: %w", err)
	}
	defer rows.Close()

	var out []*models.PTPFollowUp
	for rows.Next() {
		fu, err := scanFollowUp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan follow-up: %w", err)
		}
		out = append(out, fu)
	}
	return out, rows.Err()
}
