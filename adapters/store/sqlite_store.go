package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/relier-id/relier/core"
	"github.com/relier-id/relier/ports"
)

// SQLiteStore implements both store interfaces on a single SQLite file,
// for single-node deployments that need associations and consumed
// nonces to survive restarts.
type SQLiteStore struct {
	db     *sql.DB
	window time.Duration
	now    func() time.Time
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store at path.
// The window is the nonce replay horizon.
func NewSQLiteStore(path string, window time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, window: window, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS associations (
			endpoint TEXT NOT NULL,
			handle TEXT NOT NULL,
			secret TEXT NOT NULL,
			assoc_type TEXT NOT NULL,
			issued_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (endpoint, handle)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_expiry ON associations(endpoint, expires_at)`,
		`CREATE TABLE IF NOT EXISTS nonces (
			endpoint TEXT NOT NULL,
			nonce TEXT NOT NULL,
			seen_at INTEGER NOT NULL,
			PRIMARY KEY (endpoint, nonce)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nonce_seen_at ON nonces(seen_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Save persists an association
func (s *SQLiteStore) Save(ctx context.Context, assoc *core.Association) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO associations (endpoint, handle, secret, assoc_type, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		assoc.Endpoint, assoc.Handle, base64.StdEncoding.EncodeToString(assoc.Secret),
		string(assoc.Type), assoc.IssuedAt.Unix(), assoc.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// Lookup returns the association for (endpoint, handle)
func (s *SQLiteStore) Lookup(ctx context.Context, endpoint, handle string) (*core.Association, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT secret, assoc_type, issued_at, expires_at FROM associations
		 WHERE endpoint = ? AND handle = ? AND expires_at > ?`,
		endpoint, handle, s.now().Unix())
	return s.scanAssociation(row, endpoint, handle)
}

// Latest returns the association for the endpoint with the furthest
// expiry still in the future
func (s *SQLiteStore) Latest(ctx context.Context, endpoint string) (*core.Association, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT handle, secret, assoc_type, issued_at, expires_at FROM associations
		 WHERE endpoint = ? AND expires_at > ? ORDER BY expires_at DESC LIMIT 1`,
		endpoint, s.now().Unix())

	var handle, secret, assocType string
	var issuedAt, expiresAt int64
	if err := row.Scan(&handle, &secret, &assocType, &issuedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrAssociationNotFound
		}
		return nil, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return buildStoredAssociation(endpoint, handle, secret, assocType, issuedAt, expiresAt)
}

func (s *SQLiteStore) scanAssociation(row *sql.Row, endpoint, handle string) (*core.Association, error) {
	var secret, assocType string
	var issuedAt, expiresAt int64
	if err := row.Scan(&secret, &assocType, &issuedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrAssociationNotFound
		}
		return nil, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return buildStoredAssociation(endpoint, handle, secret, assocType, issuedAt, expiresAt)
}

func buildStoredAssociation(endpoint, handle, secret, assocType string, issuedAt, expiresAt int64) (*core.Association, error) {
	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored secret: %w", err)
	}
	return &core.Association{
		Endpoint:  endpoint,
		Handle:    handle,
		Secret:    raw,
		Type:      core.AssocType(assocType),
		IssuedAt:  time.Unix(issuedAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
	}, nil
}

// Invalidate removes an association
func (s *SQLiteStore) Invalidate(ctx context.Context, endpoint, handle string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM associations WHERE endpoint = ? AND handle = ?`, endpoint, handle)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// CheckAndRecord atomically tests and records a nonce for an endpoint.
// The primary key rejects a second insertion of the same pair; stale
// rows get swept on each call.
func (s *SQLiteStore) CheckAndRecord(ctx context.Context, endpoint, nonce string) (bool, error) {
	now := s.now()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM nonces WHERE seen_at < ?`, now.Add(-s.window).Unix()); err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO nonces (endpoint, nonce, seen_at) VALUES (?, ?, ?)`,
		endpoint, nonce, now.Unix())
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return inserted > 0, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ ports.AssociationStore = (*SQLiteStore)(nil)
	_ ports.NonceStore       = (*SQLiteStore)(nil)
)
