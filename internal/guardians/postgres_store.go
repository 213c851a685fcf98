package guardians

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists guardians in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed guardian store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, g *Guardian) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardians (identity, display_name, sealed_contact, added_at, verified, status, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, g.Identity, g.DisplayName, g.SealedContact, g.AddedAt, g.Verified, string(g.Status), g.LastActiveAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return ErrDuplicateGuardian
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, identity string) (*Guardian, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identity, COALESCE(display_name, ''), COALESCE(sealed_contact, ''), added_at, verified, status, last_active_at
		FROM guardians WHERE identity = $1
	`, identity)
	return scanGuardian(row)
}

func (s *PostgresStore) Update(ctx context.Context, g *Guardian) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE guardians
		SET display_name = $2, sealed_contact = $3, verified = $4, status = $5, last_active_at = $6
		WHERE identity = $1
	`, g.Identity, g.DisplayName, g.SealedContact, g.Verified, string(g.Status), g.LastActiveAt)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrGuardianNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Guardian, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, COALESCE(display_name, ''), COALESCE(sealed_contact, ''), added_at, verified, status, last_active_at
		FROM guardians ORDER BY added_at, identity
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Guardian
	for rows.Next() {
		g, err := scanGuardian(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGuardian(row rowScanner) (*Guardian, error) {
	g := &Guardian{}
	var status string
	var lastActive sql.NullTime
	err := row.Scan(&g.Identity, &g.DisplayName, &g.SealedContact, &g.AddedAt, &g.Verified, &status, &lastActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGuardianNotFound
		}
		return nil, err
	}
	g.Status = Status(status)
	if lastActive.Valid {
		t := lastActive.Time.UTC()
		g.LastActiveAt = &t
	}
	return g, nil
}
