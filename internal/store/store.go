// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"package-registry/internal/apperrors"
	"package-registry/internal/model"
)

const uniqueViolationCode = "23505"

const (
	insertQuery = `
		INSERT INTO packages (
			name, version, url, content, uploaded_by_url,
			bus_factor_score, correctness_score, ramp_up_score,
			responsive_maintainer_score, license_score, pinned_practice_score,
			pull_request_score, net_score, cost_mb
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id`

	selectByIDQuery = `
		SELECT id, name, version, url, content, uploaded_by_url,
			bus_factor_score, correctness_score, ramp_up_score,
			responsive_maintainer_score, license_score, pinned_practice_score,
			pull_request_score, net_score, cost_mb
		FROM packages WHERE id = $1`

	selectVersionsQuery = `SELECT version FROM packages WHERE name = $1 ORDER BY id`

	selectPageQuery = `
		SELECT id, name, version FROM packages
		WHERE ($1 = '*' OR name = $1)
		ORDER BY id LIMIT $2 OFFSET $3`

	selectAllQuery = `
		SELECT id, name, version, url, content, uploaded_by_url,
			bus_factor_score, correctness_score, ramp_up_score,
			responsive_maintainer_score, license_score, pinned_practice_score,
			pull_request_score, net_score, cost_mb
		FROM packages ORDER BY id`

	updateQuery = `
		UPDATE packages SET
			name = $2, version = $3, url = $4, content = $5,
			bus_factor_score = $6, correctness_score = $7, ramp_up_score = $8,
			responsive_maintainer_score = $9, license_score = $10,
			pinned_practice_score = $11, pull_request_score = $12,
			net_score = $13, cost_mb = $14, updated_at = NOW()
		WHERE id = $1`

	deleteQuery    = `DELETE FROM packages WHERE id = $1`
	deleteAllQuery = `DELETE FROM packages`
)

// Store persists package records in postgres. The unique (name, version)
// index is the serialization point for concurrent creates of the same
// package.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given pool.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// InsertIfAbsent inserts the record and returns its assigned id. A duplicate
// (name, version) pair yields a ConflictError; the uniqueness check is atomic
// with the insert.
func (s *Store) InsertIfAbsent(ctx context.Context, rec model.PackageRecord) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, insertQuery,
		rec.Name, rec.Version, rec.URL, rec.Content, rec.UploadedByURL,
		rec.Scores.BusFactor, rec.Scores.Correctness, rec.Scores.RampUp,
		rec.Scores.ResponsiveMaintainer, rec.Scores.LicenseScore,
		rec.Scores.VersionPinning, rec.Scores.PullRequest,
		rec.Scores.NetScore, rec.CostMB,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return 0, &apperrors.ConflictError{Name: rec.Name, Version: rec.Version}
		}
		s.logger.Error("Failed to insert package", "name", rec.Name, "version", rec.Version, "error", err)
		return 0, fmt.Errorf("insert package: %w", err)
	}
	return id, nil
}

// GetByID returns the stored record, or NotFoundError.
func (s *Store) GetByID(ctx context.Context, id int64) (model.PackageRecord, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, selectByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PackageRecord{}, &apperrors.NotFoundError{ID: id}
		}
		return model.PackageRecord{}, fmt.Errorf("get package: %w", err)
	}
	return rec, nil
}

// VersionsByName returns every stored version of the named package in
// insertion order.
func (s *Store) VersionsByName(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.Query(ctx, selectVersionsQuery, name)
	if err != nil {
		return nil, fmt.Errorf("select versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ListPage returns one enumeration page of package identifiers in id order.
// The "*" name matches every package.
func (s *Store) ListPage(ctx context.Context, name string, limit, offset int) ([]model.Metadata, error) {
	rows, err := s.db.Query(ctx, selectPageQuery, name, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select package page: %w", err)
	}
	defer rows.Close()

	var page []model.Metadata
	for rows.Next() {
		var m model.Metadata
		if err := rows.Scan(&m.ID, &m.Name, &m.Version); err != nil {
			return nil, err
		}
		page = append(page, m)
	}
	return page, rows.Err()
}

// List returns all stored records.
func (s *Store) List(ctx context.Context) ([]model.PackageRecord, error) {
	rows, err := s.db.Query(ctx, selectAllQuery)
	if err != nil {
		return nil, fmt.Errorf("select packages: %w", err)
	}
	defer rows.Close()

	var records []model.PackageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Update overwrites the stored record's mutable fields. The provenance flag
// is deliberately not in the update list; it is immutable after creation.
func (s *Store) Update(ctx context.Context, rec model.PackageRecord) error {
	tag, err := s.db.Exec(ctx, updateQuery,
		rec.ID, rec.Name, rec.Version, rec.URL, rec.Content,
		rec.Scores.BusFactor, rec.Scores.Correctness, rec.Scores.RampUp,
		rec.Scores.ResponsiveMaintainer, rec.Scores.LicenseScore,
		rec.Scores.VersionPinning, rec.Scores.PullRequest,
		rec.Scores.NetScore, rec.CostMB,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return &apperrors.ConflictError{Name: rec.Name, Version: rec.Version}
		}
		return fmt.Errorf("update package: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.NotFoundError{ID: rec.ID}
	}
	return nil
}

// Delete removes the record by id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, deleteQuery, id)
	if err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.NotFoundError{ID: id}
	}
	return nil
}

// DeleteAll wipes the registry.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, deleteAllQuery); err != nil {
		return fmt.Errorf("reset registry: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (model.PackageRecord, error) {
	var rec model.PackageRecord
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Version, &rec.URL, &rec.Content, &rec.UploadedByURL,
		&rec.Scores.BusFactor, &rec.Scores.Correctness, &rec.Scores.RampUp,
		&rec.Scores.ResponsiveMaintainer, &rec.Scores.LicenseScore,
		&rec.Scores.VersionPinning, &rec.Scores.PullRequest,
		&rec.Scores.NetScore, &rec.CostMB,
	)
	return rec, err
}
