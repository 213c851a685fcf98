package contacts

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists emergency contacts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed emergency contact store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c *EmergencyContact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emergency_contacts (id, name, sealed_contact, relationship, added_at, verified)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Name, c.SealedContact, c.Relationship, c.AddedAt, c.Verified)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*EmergencyContact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, sealed_contact, COALESCE(relationship, ''), added_at, verified
		FROM emergency_contacts WHERE id = $1
	`, id)

	c := &EmergencyContact{}
	err := row.Scan(&c.ID, &c.Name, &c.SealedContact, &c.Relationship, &c.AddedAt, &c.Verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*EmergencyContact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, sealed_contact, COALESCE(relationship, ''), added_at, verified
		FROM emergency_contacts ORDER BY added_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*EmergencyContact
	for rows.Next() {
		c := &EmergencyContact{}
		if err := rows.Scan(&c.ID, &c.Name, &c.SealedContact, &c.Relationship, &c.AddedAt, &c.Verified); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
