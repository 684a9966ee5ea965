// Package users is the flat directory of collections staff used for case assignment.
package users

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/store"
	"go.uber.org/zap"
)

// Directory manages users and their reporting lines.
type Directory struct {
	storage store.Storage
	clock   clock.Clock
	log     *zap.Logger
}

// NewDirectory creates a Directory over s.
func NewDirectory(s store.Storage, clk clock.Clock, log *zap.Logger) *Directory {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{storage: s, clock: clk, log: log.Named("users")}
}

// CreateUserInput describes a new user.
type CreateUserInput struct {
	DisplayName        string          `json:"display_name" validate:"required"`
	Email              string          `json:"email" validate:"omitempty,email"`
	Role               models.UserRole `json:"role" validate:"required,oneof=relationship_manager external_recovery_agent team_leader vertical_head senior_management system_admin"`
	ReportingManagerID *uuid.UUID      `json:"reporting_manager_id"`
}

// CreateUser adds an active user. A reporting manager, when given, must exist.
func (d *Directory) CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error) {
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	now := d.clock.Now()
	u := &models.User{
		ID:                 uuid.New(),
		DisplayName:        in.DisplayName,
		Email:              in.Email,
		Role:               in.Role,
		ReportingManagerID: in.ReportingManagerID,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := d.storage.RunInTx(ctx, func(st store.Storage) error {
		if in.ReportingManagerID != nil {
			if _, err := st.GetUser(ctx, *in.ReportingManagerID); err != nil {
				return fmt.Errorf("reporting manager: %w", err)
			}
		}
		return st.CreateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	d.log.Info("user created", zap.String("user_id", u.ID.String()), zap.String("role", string(u.Role)))
	return u, nil
}

// GetUser retrieves a user by id.
func (d *Directory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return d.storage.GetUser(ctx, id)
}

// SetReportingManager points userID at managerID. Self-reference and any
// cycle in the manager chain are rejected with ErrInvalidInput.
func (d *Directory) SetReportingManager(ctx context.Context, userID, managerID uuid.UUID) (*models.User, error) {
	if userID == managerID {
		return nil, fmt.Errorf("%w: user cannot report to themselves", models.ErrInvalidInput)
	}
	var u *models.User
	err := d.storage.RunInTx(ctx, func(st store.Storage) error {
		var err error
		if u, err = st.GetUser(ctx, userID); err != nil {
			return err
		}
		// Walk up from the new manager; meeting userID means a cycle.
		seen := map[uuid.UUID]bool{}
		for cur := &managerID; cur != nil; {
			if *cur == userID {
				return fmt.Errorf("%w: reporting line would form a cycle", models.ErrInvalidInput)
			}
			if seen[*cur] {
				break
			}
			seen[*cur] = true
			m, err := st.GetUser(ctx, *cur)
			if err != nil {
				return fmt.Errorf("reporting manager: %w", err)
			}
			cur = m.ReportingManagerID
		}
		u.ReportingManagerID = &managerID
		u.UpdatedAt = d.clock.Now()
		return st.UpdateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Deactivate marks a user inactive. Inactive users cannot receive new assignments.
func (d *Directory) Deactivate(ctx context.Context, userID uuid.UUID) error {
	return d.storage.RunInTx(ctx, func(st store.Storage) error {
		u, err := st.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		u.IsActive = false
		u.UpdatedAt = d.clock.Now()
		return st.UpdateUser(ctx, u)
	})
}

// DirectReports lists users whose reporting manager is managerID.
func (d *Directory) DirectReports(ctx context.Context, managerID uuid.UUID) ([]*models.User, error) {
	return d.storage.ListUsersByManager(ctx, managerID)
}
