// Package token issues, validates and revokes signed capability tokens.
// Every token is persisted in a SQLite ledger so revocations survive
// restarts and duplicate concurrent grants collapse to one token.
package token

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/skworld/advocate/internal/model"
	_ "modernc.org/sqlite"
)

// Ledger is the durable record of every issued token.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if needed) the token ledger at dbPath.
func OpenLedger(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	// WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize ledger schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS tokens (
		id         TEXT PRIMARY KEY,
		subject    TEXT NOT NULL,
		resource   TEXT NOT NULL,
		level      TEXT NOT NULL,
		issued_at  INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		signature  BLOB NOT NULL,
		revoked    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_grant ON tokens(subject, resource, level, expires_at);
	`
	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Insert records a freshly issued token.
func (l *Ledger) Insert(ctx context.Context, t *model.CapabilityToken) error {
	query := `
	INSERT INTO tokens (id, subject, resource, level, issued_at, expires_at, signature, revoked)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0)`

	_, err := l.db.ExecContext(ctx, query,
		t.ID, t.Subject, t.Scope.Resource, string(t.Scope.Level),
		t.IssuedAt.Unix(), t.ExpiresAt.Unix(), t.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Get retrieves a token by id. Returns (nil, nil) when unknown.
func (l *Ledger) Get(ctx context.Context, id string) (*model.CapabilityToken, error) {
	query := `
	SELECT id, subject, resource, level, issued_at, expires_at, signature, revoked
	FROM tokens WHERE id = ?`

	row := l.db.QueryRowContext(ctx, query, id)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan token: %w", err)
	}
	return t, nil
}

// FindLive returns an unrevoked, unexpired token for the exact grant, or
// (nil, nil) when none exists. Used to collapse duplicate concurrent
// requests onto a single token.
func (l *Ledger) FindLive(ctx context.Context, subject string, scope model.Scope, now time.Time) (*model.CapabilityToken, error) {
	query := `
	SELECT id, subject, resource, level, issued_at, expires_at, signature, revoked
	FROM tokens
	WHERE subject = ? AND resource = ? AND level = ? AND revoked = 0 AND expires_at > ?
	ORDER BY expires_at DESC LIMIT 1`

	row := l.db.QueryRowContext(ctx, query,
		subject, scope.Resource, string(scope.Level), now.Unix())
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan live token: %w", err)
	}
	return t, nil
}

// Revoke marks a token revoked. Revocation is permanent and idempotent;
// revoking an unknown id is not an error.
func (l *Ledger) Revoke(ctx context.Context, id string) error {
	_, err := l.db.ExecContext(ctx, `UPDATE tokens SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// ListActive returns all unrevoked, unexpired tokens.
func (l *Ledger) ListActive(ctx context.Context, now time.Time) ([]*model.CapabilityToken, error) {
	query := `
	SELECT id, subject, resource, level, issued_at, expires_at, signature, revoked
	FROM tokens WHERE revoked = 0 AND expires_at > ?
	ORDER BY issued_at`

	rows, err := l.db.QueryContext(ctx, query, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("query active tokens: %w", err)
	}
	defer rows.Close()

	var out []*model.CapabilityToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active token: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active tokens: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*model.CapabilityToken, error) {
	var t model.CapabilityToken
	var level string
	var issued, expires int64
	var revoked int

	err := row.Scan(&t.ID, &t.Subject, &t.Scope.Resource, &level,
		&issued, &expires, &t.Signature, &revoked)
	if err != nil {
		return nil, err
	}

	t.Scope.Level = model.PermissionLevel(level)
	t.IssuedAt = time.Unix(issued, 0).UTC()
	t.ExpiresAt = time.Unix(expires, 0).UTC()
	t.Revoked = revoked != 0
	return &t, nil
}
