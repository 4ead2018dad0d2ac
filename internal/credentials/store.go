package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no credential exists for a session.
var ErrNotFound = errors.New("credential not found")

// Store persists credential blobs keyed by session name.
type Store interface {
	// Get returns the blob or ErrNotFound.
	Get(ctx context.Context, sessionName string) ([]byte, error)

	// Save upserts the blob.
	Save(ctx context.Context, sessionName string, blob []byte) error

	// Remove deletes the blob, reporting whether one existed.
	Remove(ctx context.Context, sessionName string) (bool, error)
}

// PostgresStore implements Store on a pgx pool.
//
// Schema:
//
//	CREATE TABLE session_credentials (
//	    session_name TEXT PRIMARY KEY,
//	    blob         BYTEA NOT NULL,
//	    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a credential store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the blob or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, sessionName string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(ctx, `
		SELECT blob FROM session_credentials WHERE session_name = $1
	`, sessionName).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	return blob, nil
}

// Save upserts the blob.
func (s *PostgresStore) Save(ctx context.Context, sessionName string, blob []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_credentials (session_name, blob, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_name) DO UPDATE SET blob = $2, updated_at = now()
	`, sessionName, blob)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Remove deletes the blob.
func (s *PostgresStore) Remove(ctx context.Context, sessionName string) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		DELETE FROM session_credentials WHERE session_name = $1
	`, sessionName)
	if err != nil {
		return false, fmt.Errorf("remove credential: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
