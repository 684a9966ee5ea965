// Package cases manages the lifecycle of collection cases: creation,
// status changes, assignment, bucketing, scoring and notes.
package cases

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/mcclellann/fredCollect/pkg/users"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Manager is the case lifecycle service.
type Manager struct {
	storage store.Storage
	users   *users.Directory
	clock   clock.Clock
	log     *zap.Logger
}

// NewManager creates a Manager. dir is used to resolve teams.
func NewManager(s store.Storage, dir *users.Directory, clk clock.Clock, log *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{storage: s, users: dir, clock: clk, log: log.Named("cases")}
}

// actorRef turns an acting user id into the optional column value; uuid.Nil is the system.
func actorRef(actor uuid.UUID) *uuid.UUID {
	if actor == uuid.Nil {
		return nil
	}
	return &actor
}

// loadCase reads a live case through st. Soft-deleted cases read as not found.
func loadCase(ctx context.Context, st store.Storage, id uuid.UUID) (*models.CollectionCase, error) {
	c, err := st.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsDeleted {
		return nil, fmt.Errorf("%w: collection case %s", models.ErrNotFound, id)
	}
	return c, nil
}

func live(c *models.CollectionCase, err error) (*models.CollectionCase, error) {
	if err != nil {
		return nil, err
	}
	if c.IsDeleted {
		return nil, fmt.Errorf("%w: collection case %s", models.ErrNotFound, c.ID)
	}
	return c, nil
}

// SyncFromLoan copies the loan's balances and delinquency onto the case snapshot.
func SyncFromLoan(c *models.CollectionCase, acc *models.LoanAccount) {
	c.TotalOutstanding = acc.TotalOutstanding
	c.PrincipalOutstanding = acc.PrincipalOutstanding
	c.InterestOutstanding = acc.InterestOutstanding
	c.PenaltyOutstanding = acc.PenaltyOutstanding
	c.DaysPastDue = acc.DaysPastDue
}

// CreateCase opens the single collection case for a loan account.
func (m *Manager) CreateCase(ctx context.Context, loanAccountID uuid.UUID, actor uuid.UUID) (*models.CollectionCase, error) {
	var c *models.CollectionCase
	err := m.storage.RunInTx(ctx, func(st store.Storage) error {
		acc, err := st.GetLoanAccount(ctx, loanAccountID)
		if err != nil {
			return err
		}
		switch _, err := st.GetCaseByLoanAccount(ctx, loanAccountID); {
		case err == nil:
			return models.ErrDuplicateCase
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		now := m.clock.Now()
		prefix := "CASE" + now.Format("200601")
		n, err := st.CountCaseNumbers(ctx, prefix)
		if err != nil {
			return err
		}
		c = &models.CollectionCase{
			ID:            uuid.New(),
			CaseNumber:    fmt.Sprintf("%s%06d", prefix, n+1),
			LoanAccountID: acc.ID,
			CustomerID:    acc.CustomerID,
			Status:        models.CaseStatusNew,
			CurrentBucket: acc.CurrentBucket,
			Priority:      InitialPriority(acc),
			OpenedAt:      now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		SyncFromLoan(c, acc)
		if err := st.CreateCase(ctx, c); err != nil {
			if errors.Is(err, models.ErrDuplicateKey) {
				return fmt.Errorf("%w: %v", models.ErrDuplicateCase, err)
			}
			return err
		}
		return st.CreateStatusHistory(ctx, &models.CaseStatusHistory{
			ID:               uuid.New(),
			CollectionCaseID: c.ID,
			FromStatus:       models.CaseStatusNew,
			ToStatus:         models.CaseStatusNew,
			Reason:           "case opened",
			ChangedByUserID:  actorRef(actor),
			ChangedAt:        now,
		})
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("collection case created",
		zap.String("case_number", c.CaseNumber),
		zap.Int("priority", c.Priority),
		zap.String("bucket", string(c.CurrentBucket)))
	return c, nil
}

// GetCase retrieves a case by id.
func (m *Manager) GetCase(ctx context.Context, id uuid.UUID) (*models.CollectionCase, error) {
	return loadCase(ctx, m.storage, id)
}

// GetCaseByNumber retrieves a case by its case number.
func (m *Manager) GetCaseByNumber(ctx context.Context, number string) (*models.CollectionCase, error) {
	return live(m.storage.GetCaseByNumber(ctx, number))
}

// GetCaseByLoanAccount retrieves the case opened for a loan account.
func (m *Manager) GetCaseByLoanAccount(ctx context.Context, loanAccountID uuid.UUID) (*models.CollectionCase, error) {
	return live(m.storage.GetCaseByLoanAccount(ctx, loanAccountID))
}

// ListCasesByCustomer returns every live case of a customer.
func (m *Manager) ListCasesByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.CollectionCase, error) {
	rows, _, err := m.storage.ListCases(ctx, models.CaseFilter{CustomerID: &customerID})
	return rows, err
}

// ListCases returns one page of cases, highest priority first, and the total match count.
func (m *Manager) ListCases(ctx context.Context, f models.CaseFilter) ([]*models.CollectionCase, int, error) {
	f.Page = f.Page.Normalize()
	return m.storage.ListCases(ctx, f)
}

// MyCases returns the open cases assigned to userID.
func (m *Manager) MyCases(ctx context.Context, userID uuid.UUID) ([]*models.CollectionCase, error) {
	rows, _, err := m.storage.ListCases(ctx, models.CaseFilter{AssignedToUserID: &userID, OpenOnly: true})
	return rows, err
}

// TeamCases returns cases assigned to the leader or any direct report.
func (m *Manager) TeamCases(ctx context.Context, leaderID uuid.UUID) ([]*models.CollectionCase, error) {
	reports, err := m.users.DirectReports(ctx, leaderID)
	if err != nil {
		return nil, err
	}
	team := []uuid.UUID{leaderID}
	for _, u := range reports {
		team = append(team, u.ID)
	}
	rows, _, err := m.storage.ListCases(ctx, models.CaseFilter{AssignedTo: team})
	return rows, err
}

// changeStatus moves c to status and appends the history row.
func (m *Manager) changeStatus(ctx context.Context, st store.Storage, c *models.CollectionCase, to models.CaseStatus, reason string, actor uuid.UUID) error {
	now := m.clock.Now()
	h := &models.CaseStatusHistory{
		ID:               uuid.New(),
		CollectionCaseID: c.ID,
		FromStatus:       c.Status,
		ToStatus:         to,
		Reason:           reason,
		ChangedByUserID:  actorRef(actor),
		ChangedAt:        now,
	}
	c.Status = to
	c.UpdatedAt = now
	if err := st.UpdateCase(ctx, c); err != nil {
		return err
	}
	return st.CreateStatusHistory(ctx, h)
}

// UpdateStatus sets a case's status and records the transition.
func (m *Manager) UpdateStatus(ctx context.Context, caseID uuid.UUID, status models.CaseStatus, reason string, actor uuid.UUID) (*models.CollectionCase, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown case status %q", models.ErrInvalidInput, status)
	}
	var c *models.CollectionCase
	err := m.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if c, err = loadCase(ctx, st, caseID); err != nil {
			return err
		}
		return m.changeStatus(ctx, st, c, status, reason, actor)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("case status changed", zap.String("case_number", c.CaseNumber), zap.String("status", string(status)))
	return c, nil
}

// CloseCase closes a case with a resolution type such as "full_recovery" or "settlement".
func (m *Manager) CloseCase(ctx context.Context, caseID uuid.UUID, resolutionType string, actor uuid.UUID) (*models.CollectionCase, error) {
	var c *models.CollectionCase
	err := m.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if c, err = loadCase(ctx, st, caseID); err != nil {
			return err
		}
		now := m.clock.Now()
		c.ClosedAt = &now
		c.ResolutionType = resolutionType
		return m.changeStatus(ctx, st, c, models.CaseStatusClosed, "closed: "+resolutionType, actor)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("case closed", zap.String("case_number", c.CaseNumber), zap.String("resolution", resolutionType))
	return c, nil
}

// AssignCase hands a case to toUserID, who must be an active user. An empty
// assignmentType means initial for unassigned cases and reassignment otherwise.
func (m *Manager) AssignCase(ctx context.Context, caseID, toUserID uuid.UUID, assignmentType, reason string, actor uuid.UUID) (*models.CollectionCase, error) {
	var c *models.CollectionCase
	err := m.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if c, err = loadCase(ctx, st, caseID); err != nil {
			return err
		}
		u, err := st.GetUser(ctx, toUserID)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: assignee %s does not exist", models.ErrInvalidInput, toUserID)
		}
		if err != nil {
			return err
		}
		if !u.IsActive {
			return fmt.Errorf("%w: assignee %s is inactive", models.ErrInvalidInput, toUserID)
		}

		if assignmentType == "" {
			assignmentType = models.AssignmentInitial
			if c.AssignedToUserID != nil {
				assignmentType = models.AssignmentReassignment
			}
		}
		now := m.clock.Now()
		h := &models.CaseAssignmentHistory{
			ID:               uuid.New(),
			CollectionCaseID: c.ID,
			FromUserID:       c.AssignedToUserID,
			ToUserID:         toUserID,
			AssignmentType:   assignmentType,
			Reason:           reason,
			AssignedByUserID: actorRef(actor),
			AssignedAt:       now,
		}
		c.AssignedToUserID = &toUserID
		c.LastAssignedAt = &now
		c.UpdatedAt = now
		if err := st.UpdateCase(ctx, c); err != nil {
			return err
		}
		return st.CreateAssignmentHistory(ctx, h)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("case assigned",
		zap.String("case_number", c.CaseNumber),
		zap.String("assigned_to", toUserID.String()),
		zap.String("assignment_type", assignmentType))
	return c, nil
}

// AssignResult is the outcome of assigning one case in a bulk request.
type AssignResult struct {
	CaseID uuid.UUID
	Err    error
}

// AssignCasesBulk assigns each case separately; one failure does not undo the others.
func (m *Manager) AssignCasesBulk(ctx context.Context, caseIDs []uuid.UUID, toUserID uuid.UUID, reason string, actor uuid.UUID) []AssignResult {
	results := make([]AssignResult, 0, len(caseIDs))
	for _, id := range caseIDs {
		_, err := m.AssignCase(ctx, id, toUserID, models.AssignmentBulk, reason, actor)
		if err != nil {
			m.log.Error("bulk assignment failed", zap.String("case_id", id.String()), zap.Error(err))
		}
		results = append(results, AssignResult{CaseID: id, Err: err})
	}
	return results
}

// MoveCaseToBucket places a case in bucket, remembering the previous one.
func (m *Manager) MoveCaseToBucket(ctx context.Context, caseID uuid.UUID, bucket models.Bucket) (*models.CollectionCase, error) {
	if !bucket.Valid() {
		return nil, fmt.Errorf("%w: unknown bucket %q", models.ErrInvalidInput, bucket)
	}
	var c *models.CollectionCase
	err := m.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if c, err = loadCase(ctx, st, caseID); err != nil {
			return err
		}
		return m.moveBucket(ctx, st, c, bucket)
	})
	return c, err
}

func (m *Manager) moveBucket(ctx context.Context, st store.Storage, c *models.CollectionCase, bucket models.Bucket) error {
	now := m.clock.Now()
	if c.CurrentBucket != bucket {
		prev := c.CurrentBucket
		c.PreviousBucket = &prev
		c.LastBucketChangeAt = &now
		c.CurrentBucket = bucket
	}
	c.UpdatedAt = now
	return st.UpdateCase(ctx, c)
}

// UpdateDelinquencyBuckets refreshes every open case's DPD from its loan and
// rebuckets it. Cases are committed one at a time; failures are collected and
// the rest still run. It returns the number of cases changed.
func (m *Manager) UpdateDelinquencyBuckets(ctx context.Context) (int, error) {
	open, _, err := m.storage.ListCases(ctx, models.CaseFilter{OpenOnly: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list open cases: %w", err)
	}

	var errs error
	updated := 0
	for _, oc := range open {
		changed := false
		err := m.storage.RunInTx(ctx, func(st store.Storage) error {
			c, err := loadCase(ctx, st, oc.ID)
			if err != nil {
				return err
			}
			acc, err := st.GetLoanAccount(ctx, c.LoanAccountID)
			if err != nil {
				return err
			}
			bucket := models.BucketForDPD(acc.DaysPastDue)
			if bucket == c.CurrentBucket && acc.DaysPastDue == c.DaysPastDue {
				return nil
			}
			SyncFromLoan(c, acc)
			changed = true
			return m.moveBucket(ctx, st, c, bucket)
		})
		if err != nil {
			m.log.Error("failed to update bucket", zap.String("case_number", oc.CaseNumber), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("case %s: %w", oc.CaseNumber, err))
			continue
		}
		if changed {
			updated++
		}
	}
	m.log.Info("delinquency buckets updated", zap.Int("cases", len(open)), zap.Int("changed", updated))
	return updated, errs
}

// BucketDistribution counts open cases per bucket, optionally for one assignee.
// Every bucket is present, in ascending DPD order.
func (m *Manager) BucketDistribution(ctx context.Context, userID *uuid.UUID) ([]models.BucketCount, error) {
	rows, _, err := m.storage.ListCases(ctx, models.CaseFilter{AssignedToUserID: userID, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	counts := map[models.Bucket]int{}
	for _, c := range rows {
		counts[c.CurrentBucket]++
	}
	out := make([]models.BucketCount, 0, len(models.Buckets))
	for _, b := range models.Buckets {
		out = append(out, models.BucketCount{Bucket: b, Count: counts[b]})
	}
	return out, nil
}

// StatusHistory lists status transitions, newest first.
func (m *Manager) StatusHistory(ctx context.Context, caseID uuid.UUID) ([]*models.CaseStatusHistory, error) {
	if _, err := loadCase(ctx, m.storage, caseID); err != nil {
		return nil, err
	}
	return m.storage.ListStatusHistory(ctx, caseID)
}

// AssignmentHistory lists assignment changes, newest first.
func (m *Manager) AssignmentHistory(ctx context.Context, caseID uuid.UUID) ([]*models.CaseAssignmentHistory, error) {
	if _, err := loadCase(ctx, m.storage, caseID); err != nil {
		return nil, err
	}
	return m.storage.ListAssignmentHistory(ctx, caseID)
}

// NoteInput is a note to attach to a case.
type NoteInput struct {
	Text     string `json:"text" validate:"required"`
	NoteType string `json:"note_type"`
	IsPinned bool   `json:"is_pinned"`
}

// AddNote attaches a note to a case.
func (m *Manager) AddNote(ctx context.Context, caseID uuid.UUID, in NoteInput, actor uuid.UUID) (*models.CaseNote, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	n := &models.CaseNote{
		ID:               uuid.New(),
		CollectionCaseID: caseID,
		Text:             in.Text,
		NoteType:         in.NoteType,
		IsPinned:         in.IsPinned,
		CreatedByUserID:  actorRef(actor),
		CreatedAt:        m.clock.Now(),
	}
	err := m.storage.RunInTx(ctx, func(st store.Storage) error {
		if _, err := loadCase(ctx, st, caseID); err != nil {
			return err
		}
		return st.CreateNote(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Notes lists a case's notes, pinned first, then newest first.
func (m *Manager) Notes(ctx context.Context, caseID uuid.UUID) ([]*models.CaseNote, error) {
	if _, err := loadCase(ctx, m.storage, caseID); err != nil {
		return nil, err
	}
	notes, err := m.storage.ListNotes(ctx, caseID)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(notes, func(a, b *models.CaseNote) int {
		switch {
		case a.IsPinned == b.IsPinned:
			return 0
		case a.IsPinned:
			return -1
		default:
			return 1
		}
	})
	return notes, nil
}

// SoftDeleteCase hides a case from every read. Its history is kept.
func (m *Manager) SoftDeleteCase(ctx context.Context, caseID uuid.UUID) error {
	return m.storage.RunInTx(ctx, func(st store.Storage) error {
		c, err := loadCase(ctx, st, caseID)
		if err != nil {
			return err
		}
		c.IsDeleted = true
		c.UpdatedAt = m.clock.Now()
		return st.UpdateCase(ctx, c)
	})
}
