package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/models"
)

const caseColumns = `c.id, c.case_number, c.loan_account_id, c.customer_id, c.status,
	c.current_bucket, c.previous_bucket, c.last_bucket_change_at, c.days_past_due,
	c.total_outstanding, c.principal_outstanding, c.interest_outstanding, c.penalty_outstanding,
	c.priority, c.collection_score, c.probability_of_payment, c.assigned_to_user_id, c.last_assigned_at,
	c.opened_at, c.closed_at, c.resolution_type, c.is_deleted, c.created_at, c.updated_at`

// CreateCase inserts a new collection case. The loan_account_id unique
// constraint rejects a second case for the same loan.
func (s *SQLStore) CreateCase(ctx context.Context, c *models.CollectionCase) error {
	_, err := s.exec(ctx,
		`INSERT INTO collection_cases (id, case_number, loan_account_id, customer_id, status,
			current_bucket, previous_bucket, last_bucket_change_at, days_past_due,
			total_outstanding, principal_outstanding, interest_outstanding, penalty_outstanding,
			priority, collection_score, probability_of_payment, assigned_to_user_id, last_assigned_at,
			opened_at, closed_at, resolution_type, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CaseNumber, c.LoanAccountID, c.CustomerID, string(c.Status),
		string(c.CurrentBucket), nullBucket(c.PreviousBucket), nullTime(c.LastBucketChangeAt), c.DaysPastDue,
		c.TotalOutstanding, c.PrincipalOutstanding, c.InterestOutstanding, c.PenaltyOutstanding,
		c.Priority, c.CollectionScore, nullFloat(c.ProbabilityOfPayment), nullUUID(c.AssignedToUserID), nullTime(c.LastAssignedAt),
		c.OpenedAt, nullTime(c.ClosedAt), c.ResolutionType, c.IsDeleted, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func scanCase(row rowScanner) (*models.CollectionCase, error) {
	var (
		c                                   models.CollectionCase
		status, bucket                      string
		prevBucket                          sql.NullString
		bucketChanged, assignedAt, closedAt sql.NullTime
		pop                                 sql.NullFloat64
		assignee                            uuid.NullUUID
	)
	err := row.Scan(&c.ID, &c.CaseNumber, &c.LoanAccountID, &c.CustomerID, &status,
		&bucket, &prevBucket, &bucketChanged, &c.DaysPastDue,
		&c.TotalOutstanding, &c.PrincipalOutstanding, &c.InterestOutstanding, &c.PenaltyOutstanding,
		&c.Priority, &c.CollectionScore, &pop, &assignee, &assignedAt,
		&c.OpenedAt, &closedAt, &c.ResolutionType, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.CaseStatus(status)
	c.CurrentBucket = models.Bucket(bucket)
	if prevBucket.Valid {
		b := models.Bucket(prevBucket.String)
		c.PreviousBucket = &b
	}
	c.LastBucketChangeAt = timePtr(bucketChanged)
	if pop.Valid {
		v := pop.Float64
		c.ProbabilityOfPayment = &v
	}
	c.AssignedToUserID = uuidPtr(assignee)
	c.LastAssignedAt = timePtr(assignedAt)
	c.ClosedAt = timePtr(closedAt)
	c.OpenedAt = c.OpenedAt.UTC()
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return &c, nil
}

func (s *SQLStore) getCase(ctx context.Context, where string, arg any) (*models.CollectionCase, error) {
	c, err := scanCase(s.queryRow(ctx, `SELECT `+caseColumns+` FROM collection_cases c WHERE `+where, arg))
	if err != nil {
		return nil, notFound(err, "collection case")
	}
	return c, nil
}

// GetCase retrieves a case by id, including soft-deleted ones.
func (s *SQLStore) GetCase(ctx context.Context, id uuid.UUID) (*models.CollectionCase, error) {
	return s.getCase(ctx, "c.id = ?", id)
}

// GetCaseByNumber retrieves a case by its case number.
func (s *SQLStore) GetCaseByNumber(ctx context.Context, number string) (*models.CollectionCase, error) {
	return s.getCase(ctx, "c.case_number = ?", number)
}

// GetCaseByLoanAccount retrieves the case opened for a loan account.
func (s *SQLStore) GetCaseByLoanAccount(ctx context.Context, loanAccountID uuid.UUID) (*models.CollectionCase, error) {
	return s.getCase(ctx, "c.loan_account_id = ?", loanAccountID)
}

// UpdateCase writes every mutable field of a case.
func (s *SQLStore) UpdateCase(ctx context.Context, c *models.CollectionCase) error {
	return s.execOne(ctx, "collection case",
		`UPDATE collection_cases SET status = ?, current_bucket = ?, previous_bucket = ?, last_bucket_change_at = ?,
			days_past_due = ?, total_outstanding = ?, principal_outstanding = ?, interest_outstanding = ?, penalty_outstanding = ?,
			priority = ?, collection_score = ?, probability_of_payment = ?, assigned_to_user_id = ?, last_assigned_at = ?,
			closed_at = ?, resolution_type = ?, is_deleted = ?, updated_at = ?
		WHERE id = ?`,
		string(c.Status), string(c.CurrentBucket), nullBucket(c.PreviousBucket), nullTime(c.LastBucketChangeAt),
		c.DaysPastDue, c.TotalOutstanding, c.PrincipalOutstanding, c.InterestOutstanding, c.PenaltyOutstanding,
		c.Priority, c.CollectionScore, nullFloat(c.ProbabilityOfPayment), nullUUID(c.AssignedToUserID), nullTime(c.LastAssignedAt),
		nullTime(c.ClosedAt), c.ResolutionType, c.IsDeleted, c.UpdatedAt,
		c.ID,
	)
}

// ListCases returns one page of non-deleted cases matching f, highest priority first.
func (s *SQLStore) ListCases(ctx context.Context, f models.CaseFilter) ([]*models.CollectionCase, int, error) {
	from := ` FROM collection_cases c
		JOIN loan_accounts la ON la.id = c.loan_account_id
		JOIN customers cu ON cu.id = c.customer_id`
	w := &whereBuilder{}
	w.add("c.is_deleted = ?", false)
	if f.Search != "" {
		like := "%" + f.Search + "%"
		op := s.likeOp()
		w.add(fmt.Sprintf("(c.case_number %[1]s ? OR la.account_number %[1]s ? OR cu.full_name %[1]s ?)", op), like, like, like)
	}
	if f.Bucket != "" {
		w.add("c.current_bucket = ?", string(f.Bucket))
	}
	if f.Status != "" {
		w.add("c.status = ?", string(f.Status))
	}
	if f.AssignedToUserID != nil {
		w.add("c.assigned_to_user_id = ?", *f.AssignedToUserID)
	}
	if len(f.AssignedTo) > 0 {
		cond := "c.assigned_to_user_id IN ("
		args := make([]any, 0, len(f.AssignedTo))
		for i, id := range f.AssignedTo {
			if i > 0 {
				cond += ", "
			}
			cond += "?"
			args = append(args, id)
		}
		w.add(cond+")", args...)
	}
	if f.CustomerID != nil {
		w.add("c.customer_id = ?", *f.CustomerID)
	}
	if f.ProductVertical != "" {
		w.add("la.product_vertical = ?", f.ProductVertical)
	}
	if f.OpenOnly {
		w.add("c.status NOT IN (?, ?)", string(models.CaseStatusClosed), string(models.CaseStatusWrittenOff))
	}

	total, err := s.count(ctx, `SELECT COUNT(*)`+from+w.String(), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count cases: %w", err)
	}

	rows, err := s.query(ctx, `SELECT `+caseColumns+from+w.String()+
		` ORDER BY c.priority DESC, c.created_at DESC`+limitClause(f.Page), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var out []*models.CollectionCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan case: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// CountCaseNumbers counts case numbers starting with prefix.
func (s *SQLStore) CountCaseNumbers(ctx context.Context, prefix string) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM collection_cases WHERE case_number LIKE ?`, prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to count case numbers: %w", err)
	}
	return n, nil
}

// CreateStatusHistory appends a status transition.
func (s *SQLStore) CreateStatusHistory(ctx context.Context, h *models.CaseStatusHistory) error {
	_, err := s.exec(ctx,
		`INSERT INTO case_status_history (id, collection_case_id, from_status, to_status, reason, changed_by_user_id, changed_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM case_status_history WHERE collection_case_id = ?))`,
		h.ID, h.CollectionCaseID, string(h.FromStatus), string(h.ToStatus), h.Reason, nullUUID(h.ChangedByUserID), h.ChangedAt, h.CollectionCaseID,
	)
	if err != nil {
		return fmt.Errorf("failed to create status history: %w", err)
	}
	return nil
}

// ListStatusHistory returns a case's status transitions, newest first.
func (s *SQLStore) ListStatusHistory(ctx context.Context, caseID uuid.UUID) ([]*models.CaseStatusHistory, error) {
	rows, err := s.query(ctx,
		`SELECT id, collection_case_id, from_status, to_status, reason, changed_by_user_id, changed_at
		FROM case_status_history WHERE collection_case_id = ? ORDER BY changed_at DESC, seq DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer rows.Close()

	var out []*models.CaseStatusHistory
	for rows.Next() {
		var (
			h        models.CaseStatusHistory
			from, to string
			by       uuid.NullUUID
		)
		if err := rows.Scan(&h.ID, &h.CollectionCaseID, &from, &to, &h.Reason, &by, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		h.FromStatus, h.ToStatus = models.CaseStatus(from), models.CaseStatus(to)
		h.ChangedByUserID = uuidPtr(by)
		h.ChangedAt = h.ChangedAt.UTC()
		out = append(out, &h)
	}
	return out, rows.Err()
}

// CreateAssignmentHistory appends an assignment change.
func (s *SQLStore) CreateAssignmentHistory(ctx context.Context, h *models.CaseAssignmentHistory) error {
	_, err := s.exec(ctx,
		`INSERT INTO case_assignment_history (id, collection_case_id, from_user_id, to_user_id, assignment_type, reason, assigned_by_user_id, assigned_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM case_assignment_history WHERE collection_case_id = ?))`,
		h.ID, h.CollectionCaseID, nullUUID(h.FromUserID), h.ToUserID, h.AssignmentType, h.Reason, nullUUID(h.AssignedByUserID), h.AssignedAt, h.CollectionCaseID,
	)
	if err != nil {
		return fmt.Errorf("failed to create assignment history: %w", err)
	}
	return nil
}

// ListAssignmentHistory returns a case's assignment changes, newest first.
func (s *SQLStore) ListAssignmentHistory(ctx context.Context, caseID uuid.UUID) ([]*models.CaseAssignmentHistory, error) {
	rows, err := s.query(ctx,
		`SELECT id, collection_case_id, from_user_id, to_user_id, assignment_type, reason, assigned_by_user_id, assigned_at
		FROM case_assignment_history WHERE collection_case_id = ? ORDER BY assigned_at DESC, seq DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignment history: %w", err)
	}
	defer rows.Close()

	var out []*models.CaseAssignmentHistory
	for rows.Next() {
		var (
			h        models.CaseAssignmentHistory
			from, by uuid.NullUUID
		)
		if err := rows.Scan(&h.ID, &h.CollectionCaseID, &from, &h.ToUserID, &h.AssignmentType, &h.Reason, &by, &h.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment history: %w", err)
		}
		h.FromUserID = uuidPtr(from)
		h.AssignedByUserID = uuidPtr(by)
		h.AssignedAt = h.AssignedAt.UTC()
		out = append(out, &h)
	}
	return out, rows.Err()
}

// CreateNote inserts a case note.
func (s *SQLStore) CreateNote(ctx context.Context, n *models.CaseNote) error {
	_, err := s.exec(ctx,
		`INSERT INTO case_notes (id, collection_case_id, text, note_type, is_pinned, created_by_user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.CollectionCaseID, n.Text, n.NoteType, n.IsPinned, nullUUID(n.CreatedByUserID), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

// ListNotes returns a case's notes, pinned first and then newest first.
func (s *SQLStore) ListNotes(ctx context.Context, caseID uuid.UUID) ([]*models.CaseNote, error) {
	rows, err := s.query(ctx,
		`SELECT id, collection_case_id, text, note_type, is_pinned, created_by_user_id, created_at
		FROM case_notes WHERE collection_case_id = ? ORDER BY is_pinned DESC, created_at DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var out []*models.CaseNote
	for rows.Next() {
		var (
			n  models.CaseNote
			by uuid.NullUUID
		)
		if err := rows.Scan(&n.ID, &n.CollectionCaseID, &n.Text, &n.NoteType, &n.IsPinned, &by, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n.CreatedByUserID = uuidPtr(by)
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, &n)
	}
	return out, rows.Err()
}

func nullBucket(b *models.Bucket) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*b), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
