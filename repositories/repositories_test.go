package repositories

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogem/nms-gateway/database"
	"github.com/blogem/nms-gateway/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	// Initialize test database using the actual migration system
	if err := database.InitializeDatabase(dbPath); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() {
		database.CloseDB()
	})

	return database.GetDB()
}

func TestAuditRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	entries := []*models.AuditLogEntry{
		{
			CreatedAt:       base,
			ActingUserID:    "u1",
			ActingUserEmail: "ops@acme.example",
			Organization:    "acme",
			MutationType:    models.MutationCreate,
			ObjectID:        "gw1",
			ObjectType:      "gateway",
			MutationData:    `{"id":"gw1"}`,
			URL:             "/magma/v1/networks/n1/gateways",
			IPAddress:       "10.0.0.1",
			Status:          models.StatusSuccess,
			StatusCode:      201,
		},
		{
			CreatedAt:    base.Add(time.Minute),
			Organization: "acme",
			MutationType: models.MutationDelete,
			ObjectID:     "gw1",
			ObjectType:   "gateway",
			URL:          "/magma/v1/networks/n1/gateways/gw1",
			Status:       models.StatusFailure,
			StatusCode:   500,
		},
		{
			CreatedAt:    base.Add(2 * time.Minute),
			Organization: "other",
			MutationType: models.MutationUpdate,
			ObjectID:     "p1",
			ObjectType:   "policy",
			URL:          "/magma/v1/networks/n2/policies/rules/p1",
			Status:       models.StatusSuccess,
			StatusCode:   204,
		},
	}

	// Test Create
	for _, e := range entries {
		require.NoError(t, repo.Create(ctx, e))
		assert.NotZero(t, e.ID)
	}

	// Test List, newest first
	all, err := repo.List(ctx, models.AuditLogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p1", all[0].ObjectID)
	assert.Equal(t, models.MutationUpdate, all[0].MutationType)
	assert.Equal(t, models.StatusSuccess, all[0].Status)

	// Test the oldest entry round-trips every field
	first := all[2]
	assert.Equal(t, entries[0].ActingUserEmail, first.ActingUserEmail)
	assert.Equal(t, entries[0].MutationData, first.MutationData)
	assert.Equal(t, entries[0].IPAddress, first.IPAddress)
	assert.Equal(t, 201, first.StatusCode)
	assert.True(t, base.Equal(first.CreatedAt))

	// Test filters
	acme, err := repo.List(ctx, models.AuditLogFilter{Organization: "acme"})
	require.NoError(t, err)
	assert.Len(t, acme, 2)

	deletes, err := repo.List(ctx, models.AuditLogFilter{Organization: "acme", MutationType: models.MutationDelete})
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	assert.Equal(t, 500, deletes[0].StatusCode)

	// Test paging
	page, err := repo.List(ctx, models.AuditLogFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, entries[1].ID, page[0].ID)

	// Test Count
	count, err := repo.Count(ctx, models.AuditLogFilter{ObjectType: "gateway"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAuditRepository_RejectsUnknownMutationType(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepository(db)

	err := repo.Create(context.Background(), &models.AuditLogEntry{
		MutationType: "READ",
		ObjectID:     "x",
		ObjectType:   "y",
		URL:          "/",
		Status:       models.StatusSuccess,
	})
	assert.Error(t, err)
}

func TestOrganizationRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrganizationRepository(db)
	ctx := context.Background()

	// Test Create
	org := &models.Organization{Name: "acme", Networks: []string{"lte1", "feg1"}}
	require.NoError(t, repo.Create(ctx, org))
	assert.NotZero(t, org.ID)

	require.NoError(t, repo.Create(ctx, &models.Organization{Name: "master", IsSuperuser: true}))

	// Test duplicate names are rejected
	assert.Error(t, repo.Create(ctx, &models.Organization{Name: "acme"}))

	// Test GetByName
	got, err := repo.GetByName(ctx, "acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"lte1", "feg1"}, got.Networks)
	assert.False(t, got.IsSuperuser)

	master, err := repo.GetByName(ctx, "master")
	require.NoError(t, err)
	assert.True(t, master.IsSuperuser)
	assert.Empty(t, master.Networks)

	// Test GetAll
	orgs, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, "acme", orgs[0].Name)

	// Test Delete cascades network links
	require.NoError(t, repo.Delete(ctx, "acme"))
	_, err = repo.GetByName(ctx, "acme")
	assert.True(t, errors.Is(err, ErrNotFound))

	var links int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM organization_networks").Scan(&links))
	assert.Zero(t, links)

	err = repo.Delete(ctx, "acme")
	assert.ErrorIs(t, err, ErrNotFound)
}
