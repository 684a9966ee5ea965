package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
)

const paymentColumns = `id, payment_reference_number, loan_account_id, customer_id,
	collection_case_id, ptp_id, field_visit_id, payment_link_id,
	amount, mode, status, payment_date,
	interest_amount, penalty_amount, principal_amount, excess_amount,
	transaction_id, bank_reference_number, upi_reference_number, cheque_number, cheque_date, collected_by_user_id,
	is_reconciled, reconciled_at, settlement_at, reversal_reason, reversed_at, bounce_reason, bounced_at,
	posted_to_lms_at, lms_transaction_id, created_at, updated_at`

// CreatePayment inserts a new payment.
func (s *SQLStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := s.exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PaymentReferenceNumber, p.LoanAccountID, p.CustomerID,
		nullUUID(p.CollectionCaseID), nullUUID(p.PTPID), nullUUID(p.FieldVisitID), nullUUID(p.PaymentLinkID),
		p.Amount, string(p.Mode), string(p.Status), p.PaymentDate,
		p.InterestAmount, p.PenaltyAmount, p.PrincipalAmount, p.ExcessAmount,
		p.TransactionID, p.BankReferenceNumber, p.UPIReferenceNumber, p.ChequeNumber, nullTime(p.ChequeDate), nullUUID(p.CollectedByUserID),
		p.IsReconciled, nullTime(p.ReconciledAt), nullTime(p.SettlementAt), p.ReversalReason, nullTime(p.ReversedAt), p.BounceReason, nullTime(p.BouncedAt),
		nullTime(p.PostedToLMSAt), p.LMSTransactionID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p                               models.Payment
		mode, status                    string
		caseID, ptpID, visitID, link    uuid.NullUUID
		collector                       uuid.NullUUID
		chequeDate, reconciled, settled sql.NullTime
		reversed, bounced, posted       sql.NullTime
	)
	err := row.Scan(&p.ID, &p.PaymentReferenceNumber, &p.LoanAccountID, &p.CustomerID,
		&caseID, &ptpID, &visitID, &link,
		&p.Amount, &mode, &status, &p.PaymentDate,
		&p.InterestAmount, &p.PenaltyAmount, &p.PrincipalAmount, &p.ExcessAmount,
		&p.TransactionID, &p.BankReferenceNumber, &p.UPIReferenceNumber, &p.ChequeNumber, &chequeDate, &collector,
		&p.IsReconciled, &reconciled, &settled, &p.ReversalReason, &reversed, &p.BounceReason, &bounced,
		&posted, &p.LMSTransactionID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Mode = models.PaymentMode(mode)
	p.Status = models.PaymentStatus(status)
	p.CollectionCaseID = uuidPtr(caseID)
	p.PTPID = uuidPtr(ptpID)
	p.FieldVisitID = uuidPtr(visitID)
	p.PaymentLinkID = uuidPtr(link)
	p.CollectedByUserID = uuidPtr(collector)
	p.ChequeDate = timePtr(chequeDate)
	p.ReconciledAt = timePtr(reconciled)
	p.SettlementAt = timePtr(settled)
	p.ReversedAt = timePtr(reversed)
	p.BouncedAt = timePtr(bounced)
	p.PostedToLMSAt = timePtr(posted)
	p.PaymentDate = p.PaymentDate.UTC()
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

// GetPayment retrieves a payment by id.
func (s *SQLStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := scanPayment(s.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return p, nil
}

// GetPaymentByReference retrieves a payment by its reference number.
func (s *SQLStore) GetPaymentByReference(ctx context.Context, ref string) (*models.Payment, error) {
	p, err := scanPayment(s.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_reference_number = ?`, ref))
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return p, nil
}

// UpdatePayment writes the mutable fields of a payment.
func (s *SQLStore) UpdatePayment(ctx context.Context, p *models.Payment) error {
	return s.execOne(ctx, "payment",
		`UPDATE payments SET collection_case_id = ?, ptp_id = ?, payment_link_id = ?, status = ?,
			interest_amount = ?, penalty_amount = ?, principal_amount = ?, excess_amount = ?,
			is_reconciled = ?, reconciled_at = ?, settlement_at = ?, reversal_reason = ?, reversed_at = ?,
			bounce_reason = ?, bounced_at = ?, posted_to_lms_at = ?, lms_transaction_id = ?, updated_at = ?
		WHERE id = ?`,
		nullUUID(p.CollectionCaseID), nullUUID(p.PTPID), nullUUID(p.PaymentLinkID), string(p.Status),
		p.InterestAmount, p.PenaltyAmount, p.PrincipalAmount, p.ExcessAmount,
		p.IsReconciled, nullTime(p.ReconciledAt), nullTime(p.SettlementAt), p.ReversalReason, nullTime(p.ReversedAt),
		p.BounceReason, nullTime(p.BouncedAt), nullTime(p.PostedToLMSAt), p.LMSTransactionID, p.UpdatedAt,
		p.ID,
	)
}

// ListPayments returns one page of payments matching f, newest first.
func (s *SQLStore) ListPayments(ctx context.Context, f models.PaymentFilter) ([]*models.Payment, int, error) {
	w := &whereBuilder{}
	if f.LoanAccountID != nil {
		w.add("loan_account_id = ?", *f.LoanAccountID)
	}
	if f.CustomerID != nil {
		w.add("customer_id = ?", *f.CustomerID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Mode != "" {
		w.add("mode = ?", string(f.Mode))
	}
	if f.Unreconciled {
		w.add("is_reconciled = ?", false)
	}
	if f.From != nil {
		w.add("payment_date >= ?", f.From.UTC())
	}
	if f.To != nil {
		w.add("payment_date < ?", f.To.UTC())
	}

	total, err := s.count(ctx, `SELECT COUNT(*) FROM payments`+w.String(), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}
	rows, err := s.query(ctx, `SELECT `+paymentColumns+` FROM payments`+w.String()+
		` ORDER BY payment_date DESC, payment_reference_number DESC`+limitClause(f.Page), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// CountPaymentReferences counts payment references starting with prefix.
func (s *SQLStore) CountPaymentReferences(ctx context.Context, prefix string) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM payments WHERE payment_reference_number LIKE ?`, prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to count payment references: %w", err)
	}
	return n, nil
}

const linkColumns = `id, link_id, loan_account_id, customer_id, collection_case_id, amount, allow_partial_payment,
	url, valid_from, valid_to, is_active, used_at, payment_id, delivery_channel, sent_at, created_at, updated_at`

// CreatePaymentLink inserts a new payment link.
func (s *SQLStore) CreatePaymentLink(ctx context.Context, l *models.PaymentLink) error {
	_, err := s.exec(ctx,
		`INSERT INTO payment_links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.LinkID, l.LoanAccountID, l.CustomerID, nullUUID(l.CollectionCaseID), l.Amount, l.AllowPartialPayment,
		l.URL, l.ValidFrom, l.ValidTo, l.IsActive, nullTime(l.UsedAt), nullUUID(l.PaymentID), l.DeliveryChannel, nullTime(l.SentAt), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment link: %w", err)
	}
	return nil
}

func scanLink(row rowScanner) (*models.PaymentLink, error) {
	var (
		l                 models.PaymentLink
		caseID, paymentID uuid.NullUUID
		usedAt, sentAt    sql.NullTime
	)
	err := row.Scan(&l.ID, &l.LinkID, &l.LoanAccountID, &l.CustomerID, &caseID, &l.Amount, &l.AllowPartialPayment,
		&l.URL, &l.ValidFrom, &l.ValidTo, &l.IsActive, &usedAt, &paymentID, &l.DeliveryChannel, &sentAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.CollectionCaseID = uuidPtr(caseID)
	l.PaymentID = uuidPtr(paymentID)
	l.UsedAt = timePtr(usedAt)
	l.SentAt = timePtr(sentAt)
	l.ValidFrom, l.ValidTo = l.ValidFrom.UTC(), l.ValidTo.UTC()
	l.CreatedAt, l.UpdatedAt = l.CreatedAt.UTC(), l.UpdatedAt.UTC()
	return &l, nil
}

// GetPaymentLink retrieves a payment link by its public link id.
func (s *SQLStore) GetPaymentLink(ctx context.Context, linkID string) (*models.PaymentLink, error) {
	l, err := scanLink(s.queryRow(ctx, `SELECT `+linkColumns+` FROM payment_links WHERE link_id = ?`, linkID))
	if err != nil {
		return nil, notFound(err, "payment link")
	}
	return l, nil
}

// UpdatePaymentLink writes the mutable fields of a payment link.
func (s *SQLStore) UpdatePaymentLink(ctx context.Context, l *models.PaymentLink) error {
	return s.execOne(ctx, "payment link",
		`UPDATE payment_links SET is_active = ?, used_at = ?, payment_id = ?, delivery_channel = ?, sent_at = ?, updated_at = ? WHERE id = ?`,
		l.IsActive, nullTime(l.UsedAt), nullUUID(l.PaymentID), l.DeliveryChannel, nullTime(l.SentAt), l.UpdatedAt, l.ID,
	)
}

// ListPaymentLinks returns payment links matching f, newest first.
func (s *SQLStore) ListPaymentLinks(ctx context.Context, f models.PaymentLinkFilter) ([]*models.PaymentLink, error) {
	w := &whereBuilder{}
	if f.LoanAccountID != nil {
		w.add("loan_account_id = ?", *f.LoanAccountID)
	}
	if f.ActiveOnly {
		w.add("is_active = ?", true)
	}
	rows, err := s.query(ctx, `SELECT `+linkColumns+` FROM payment_links`+w.String()+` ORDER BY created_at DESC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment links: %w", err)
	}
	defer rows.Close()

	var out []*models.PaymentLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
