package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx pool.
//
// Schema:
//
//	CREATE TABLE sessions (
//	    name           TEXT PRIMARY KEY,
//	    tenant_id      TEXT NOT NULL,
//	    status         TEXT NOT NULL DEFAULT 'disconnected',
//	    phone_identity TEXT NOT NULL DEFAULT '',
//	    auto_reconnect BOOLEAN NOT NULL DEFAULT true,
//	    pairing_code   TEXT NOT NULL DEFAULT '',
//	    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a session store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a session, ignoring duplicates.
func (s *PostgresStore) Create(ctx context.Context, sess Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (name, tenant_id, status, phone_identity, auto_reconnect, pairing_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO NOTHING
	`, sess.Name, sess.TenantID, sess.Status, sess.PhoneIdentity, sess.AutoReconnect, sess.PairingCode)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByName returns the session or ErrNotFound.
func (s *PostgresStore) GetByName(ctx context.Context, name string) (Session, error) {
	var sess Session
	err := s.db.QueryRow(ctx, `
		SELECT name, tenant_id, status, phone_identity, auto_reconnect, pairing_code, created_at, updated_at
		FROM sessions
		WHERE name = $1
	`, name).Scan(&sess.Name, &sess.TenantID, &sess.Status, &sess.PhoneIdentity,
		&sess.AutoReconnect, &sess.PairingCode, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

// UpdateStatus sets the lifecycle status.
func (s *PostgresStore) UpdateStatus(ctx context.Context, name string, status Status) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE sessions SET status = $2, updated_at = now() WHERE name = $1
	`, name, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePhoneIdentity records the provider account identity.
func (s *PostgresStore) UpdatePhoneIdentity(ctx context.Context, name, identity string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE sessions SET phone_identity = $2, updated_at = now() WHERE name = $1
	`, name, identity)
	if err != nil {
		return fmt.Errorf("update phone identity: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePairingCode stores the latest pairing code.
func (s *PostgresStore) SavePairingCode(ctx context.Context, name, code string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE sessions SET pairing_code = $2, updated_at = now() WHERE name = $1
	`, name, code)
	if err != nil {
		return fmt.Errorf("save pairing code: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAutoReconnect toggles automatic reconnection.
func (s *PostgresStore) SetAutoReconnect(ctx context.Context, name string, enabled bool) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE sessions SET auto_reconnect = $2, updated_at = now() WHERE name = $1
	`, name, enabled)
	if err != nil {
		return fmt.Errorf("set auto reconnect: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAutoReconnectEnabled returns names of sessions to resurrect.
func (s *PostgresStore) ListAutoReconnectEnabled(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT name FROM sessions WHERE auto_reconnect ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan session name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a session.
func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
