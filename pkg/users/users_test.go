package users

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/models"
	"github.com/mcclellann/fredCollect/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory() *Directory {
	return NewDirectory(store.NewMemoryStore(), clock.NewFixed(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)), nil)
}

func mustCreate(t *testing.T, d *Directory, name string, role models.UserRole, manager *uuid.UUID) *models.User {
	t.Helper()
	u, err := d.CreateUser(context.Background(), CreateUserInput{DisplayName: name, Role: role, ReportingManagerID: manager})
	require.NoError(t, err)
	return u
}

func TestCreateUser(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()

	lead := mustCreate(t, d, "Kiran", models.RoleTeamLeader, nil)
	agent := mustCreate(t, d, "Farah", models.RoleRelationshipManager, &lead.ID)
	assert.True(t, agent.IsActive)

	got, err := d.GetUser(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.ID, *got.ReportingManagerID)

	_, err = d.CreateUser(ctx, CreateUserInput{DisplayName: "X", Role: "janitor"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	missing := uuid.New()
	_, err = d.CreateUser(ctx, CreateUserInput{DisplayName: "Y", Role: models.RoleRelationshipManager, ReportingManagerID: &missing})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetReportingManager_RejectsCycles(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()

	head := mustCreate(t, d, "Head", models.RoleVerticalHead, nil)
	lead := mustCreate(t, d, "Lead", models.RoleTeamLeader, &head.ID)
	agent := mustCreate(t, d, "Agent", models.RoleRelationshipManager, &lead.ID)

	_, err := d.SetReportingManager(ctx, head.ID, head.ID)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = d.SetReportingManager(ctx, head.ID, agent.ID)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	other := mustCreate(t, d, "Other lead", models.RoleTeamLeader, &head.ID)
	moved, err := d.SetReportingManager(ctx, agent.ID, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, *moved.ReportingManagerID)

	reports, err := d.DirectReports(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, agent.ID, reports[0].ID)
}

func TestDeactivate(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()
	u := mustCreate(t, d, "Agent", models.RoleExternalRecoveryAgent, nil)

	require.NoError(t, d.Deactivate(ctx, u.ID))
	got, err := d.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, d.Deactivate(ctx, uuid.New()), models.ErrNotFound)
}
