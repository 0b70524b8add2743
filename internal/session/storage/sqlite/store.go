// Package sqlite implements identity persistence over SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aquaguardian/guardian/internal/platform/storage/sqlitemigrate"
	"github.com/aquaguardian/guardian/internal/session/domain"
	"github.com/aquaguardian/guardian/internal/session/storage"
	"github.com/aquaguardian/guardian/internal/session/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// identitySlot pins the identity table to a single row.
const identitySlot = 1

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements identity persistence over SQLite.
//
// A single SQLite file holds the one identity record so restores survive
// process restarts.
type Store struct {
	sqlDB *sql.DB
}

// Open opens an identity SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutIdentity persists the current identity, replacing any previous record.
func (s *Store) PutIdentity(ctx context.Context, identity domain.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(identity.ID) == "" {
		return fmt.Errorf("identity id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO identity (slot, id, email, display_name, role, reports_submitted, clean_ups_joined, nfts_adopted, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (slot) DO UPDATE SET
    id = excluded.id,
    email = excluded.email,
    display_name = excluded.display_name,
    role = excluded.role,
    reports_submitted = excluded.reports_submitted,
    clean_ups_joined = excluded.clean_ups_joined,
    nfts_adopted = excluded.nfts_adopted,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at
`,
		identitySlot,
		identity.ID,
		identity.Email,
		identity.DisplayName,
		string(identity.Role),
		identity.ReportsSubmitted,
		identity.CleanUpsJoined,
		identity.NFTsAdopted,
		toMillis(identity.CreatedAt),
		toMillis(identity.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	return nil
}

// GetIdentity fetches the current identity record.
func (s *Store) GetIdentity(ctx context.Context) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Identity{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, display_name, role, reports_submitted, clean_ups_joined, nfts_adopted, created_at, updated_at
FROM identity
WHERE slot = ?
`, identitySlot)

	var (
		identity  domain.Identity
		role      string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.DisplayName,
		&role,
		&identity.ReportsSubmitted,
		&identity.CleanUpsJoined,
		&identity.NFTsAdopted,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Identity{}, storage.ErrNotFound
		}
		return domain.Identity{}, fmt.Errorf("get identity: %w", err)
	}

	identity.Role = domain.Role(role)
	identity.CreatedAt = fromMillis(createdAt)
	identity.UpdatedAt = fromMillis(updatedAt)
	return identity, nil
}

// DeleteIdentity removes the current identity record.
//
// Deleting an absent record is not an error: logout must leave the store
// empty regardless of its prior state.
func (s *Store) DeleteIdentity(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM identity WHERE slot = ?", identitySlot); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}
