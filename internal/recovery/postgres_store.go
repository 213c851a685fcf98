package recovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists recovery requests and approvals in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed request store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `
	id, wallet_identity, proposed_new_owner, initiated_at, executes_at,
	status, cancelled_at, COALESCE(cancelled_by, ''), completed_at,
	COALESCE(transaction_hash, ''), test_mode, risk_score, fraud_indicators
`

func (s *PostgresStore) Create(ctx context.Context, req *Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_requests
			(id, wallet_identity, proposed_new_owner, initiated_at, executes_at,
			 status, cancelled_at, cancelled_by, completed_at, transaction_hash,
			 test_mode, risk_score, fraud_indicators)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, req.ID, req.WalletIdentity, req.ProposedNewOwner, req.InitiatedAt, req.ExecutesAt,
		string(req.Status), req.CancelledAt, req.CancelledBy, req.CompletedAt, req.TransactionHash,
		req.TestMode, req.RiskScore, pq.Array(req.FraudIndicators))
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM recovery_requests WHERE id = $1
	`, id)
	req, err := scanRequest(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadApprovals(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *PostgresStore) Update(ctx context.Context, req *Request) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recovery_requests
		SET status = $2, cancelled_at = $3, cancelled_by = $4,
		    completed_at = $5, transaction_hash = $6
		WHERE id = $1
	`, req.ID, string(req.Status), req.CancelledAt, req.CancelledBy,
		req.CompletedAt, req.TransactionHash)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (s *PostgresStore) AddApproval(ctx context.Context, approval *Approval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_approvals (id, request_id, guardian_identity, approved_at, proof, verified)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, approval.ID, approval.RequestID, approval.GuardianIdentity, approval.ApprovedAt,
		approval.Proof, approval.Verified)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case "23505": // unique_violation on (request_id, guardian_identity)
				return ErrDuplicateApproval
			case "23503": // foreign_key_violation
				return ErrRequestNotFound
			}
		}
		return err
	}
	return nil
}

func (s *PostgresStore) ActiveByWallet(ctx context.Context, walletIdentity string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM recovery_requests
		WHERE wallet_identity = $1 AND status IN ('PENDING', 'APPROVED')
		ORDER BY initiated_at DESC LIMIT 1
	`, walletIdentity)
	req, err := scanRequest(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadApprovals(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *PostgresStore) ListByWallet(ctx context.Context, walletIdentity string, limit int) ([]*Request, error) {
	return s.list(ctx, `
		SELECT `+requestColumns+` FROM recovery_requests
		WHERE wallet_identity = $1
		ORDER BY initiated_at DESC LIMIT $2
	`, walletIdentity, nullableLimit(limit))
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Request, error) {
	return s.list(ctx, `
		SELECT `+requestColumns+` FROM recovery_requests
		ORDER BY initiated_at DESC LIMIT $1
	`, nullableLimit(limit))
}

func (s *PostgresStore) ListPendingExpired(ctx context.Context, before time.Time, limit int) ([]*Request, error) {
	return s.list(ctx, `
		SELECT `+requestColumns+` FROM recovery_requests
		WHERE status = 'PENDING' AND executes_at < $1
		ORDER BY executes_at LIMIT $2
	`, before, nullableLimit(limit))
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...interface{}) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, req := range result {
		if err := s.loadApprovals(ctx, req); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *PostgresStore) loadApprovals(ctx context.Context, req *Request) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, guardian_identity, approved_at, COALESCE(proof, ''), verified
		FROM recovery_approvals WHERE request_id = $1
		ORDER BY approved_at, id
	`, req.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		a := &Approval{}
		if err := rows.Scan(&a.ID, &a.RequestID, &a.GuardianIdentity, &a.ApprovedAt, &a.Proof, &a.Verified); err != nil {
			return err
		}
		req.Approvals = append(req.Approvals, a)
	}
	return rows.Err()
}

func scanRequest(row rowScanner) (*Request, error) {
	req := &Request{}
	var status string
	var cancelledAt, completedAt sql.NullTime
	var indicators pq.StringArray
	err := row.Scan(&req.ID, &req.WalletIdentity, &req.ProposedNewOwner, &req.InitiatedAt,
		&req.ExecutesAt, &status, &cancelledAt, &req.CancelledBy, &completedAt,
		&req.TransactionHash, &req.TestMode, &req.RiskScore, &indicators)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	req.Status = Status(status)
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		req.CancelledAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		req.CompletedAt = &t
	}
	req.FraudIndicators = []string(indicators)
	return req, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nullableLimit turns a non-positive limit into SQL NULL (no limit).
func nullableLimit(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

// PostgresAuditStore persists audit entries in PostgreSQL.
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore creates a Postgres-backed audit store.
func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

func (s *PostgresAuditStore) Append(ctx context.Context, entry *AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recovery_audit_log (id, request_id, timestamp, action, actor, details)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.RequestID, entry.Timestamp, string(entry.Action), entry.Actor, details)
	return err
}

func (s *PostgresAuditStore) ListByRequest(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, timestamp, action, actor, details
		FROM recovery_audit_log WHERE request_id = $1
		ORDER BY timestamp, id
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var action string
		var details []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &action, &e.Actor, &details); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
