//go:build integration

// internal/store/store_integration_test.go
package store

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"package-registry/internal/apperrors"
	"package-registry/internal/model"
)

func setupTestStore(ctx context.Context, t *testing.T) (*Store, func()) {
	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://../../migrations", connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	dbpool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	teardown := func() {
		dbpool.Close()
		require.NoError(t, pgContainer.Terminate(ctx))
	}
	return New(dbpool, logger), teardown
}

func testRecord(name, version string) model.PackageRecord {
	return model.PackageRecord{
		Name:    name,
		Version: version,
		Content: "UEsDBA==",
		Scores: model.ScoreSet{
			BusFactor:            0.5,
			Correctness:          1,
			RampUp:               0.25,
			ResponsiveMaintainer: 0.75,
			LicenseScore:         1,
			VersionPinning:       1,
			PullRequest:          0.6,
			NetScore:             0.73,
		},
		CostMB: 0.01,
	}
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s, teardown := setupTestStore(ctx, t)
	defer teardown()

	t.Run("insert and read back", func(t *testing.T) {
		id, err := s.InsertIfAbsent(ctx, testRecord("left-pad", "1.0.0"))
		require.NoError(t, err)
		require.NotZero(t, id)

		rec, err := s.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "left-pad", rec.Name)
		assert.Equal(t, "1.0.0", rec.Version)
		assert.Equal(t, 0.73, rec.Scores.NetScore)
		assert.False(t, rec.UploadedByURL)
	})

	t.Run("duplicate name and version conflicts", func(t *testing.T) {
		_, err := s.InsertIfAbsent(ctx, testRecord("left-pad", "1.0.0"))
		var conflict *apperrors.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "left-pad", conflict.Name)
	})

	t.Run("versions by name in insertion order", func(t *testing.T) {
		_, err := s.InsertIfAbsent(ctx, testRecord("left-pad", "1.0.1"))
		require.NoError(t, err)

		versions, err := s.VersionsByName(ctx, "left-pad")
		require.NoError(t, err)
		assert.Equal(t, []string{"1.0.0", "1.0.1"}, versions)
	})

	t.Run("enumeration pages in id order", func(t *testing.T) {
		page, err := s.ListPage(ctx, "left-pad", 10, 0)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "1.0.0", page[0].Version)
		assert.Equal(t, "1.0.1", page[1].Version)

		wildcard, err := s.ListPage(ctx, "*", 1, 1)
		require.NoError(t, err)
		require.Len(t, wildcard, 1)
		assert.Equal(t, "1.0.1", wildcard[0].Version)

		missing, err := s.ListPage(ctx, "no-such-package", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("update overwrites scores and version", func(t *testing.T) {
		id, err := s.InsertIfAbsent(ctx, testRecord("express", "4.0.0"))
		require.NoError(t, err)

		rec, err := s.GetByID(ctx, id)
		require.NoError(t, err)
		rec.Version = "4.0.1"
		rec.Scores.NetScore = 0.9
		require.NoError(t, s.Update(ctx, rec))

		updated, err := s.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "4.0.1", updated.Version)
		assert.Equal(t, 0.9, updated.Scores.NetScore)
	})

	t.Run("missing id is not found", func(t *testing.T) {
		_, err := s.GetByID(ctx, 999999)
		var notFound *apperrors.NotFoundError
		assert.ErrorAs(t, err, &notFound)

		assert.ErrorAs(t, s.Delete(ctx, 999999), &notFound)
	})

	t.Run("delete and reset", func(t *testing.T) {
		id, err := s.InsertIfAbsent(ctx, testRecord("doomed", "0.0.1"))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, id))

		require.NoError(t, s.DeleteAll(ctx))
		records, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}
