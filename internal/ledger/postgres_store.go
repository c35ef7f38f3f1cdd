package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/giftguard/internal/fraud"
	"github.com/mbd888/giftguard/internal/pagination"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transactions table. Amounts are NUMERIC(78,0) so any
// uint256-sized integer fits.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id             VARCHAR(128) PRIMARY KEY,
			amount         NUMERIC(78,0) NOT NULL CHECK (amount >= 0),
			created_at     BIGINT NOT NULL,
			sender_id      VARCHAR(128) NOT NULL DEFAULT '',
			receiver_id    VARCHAR(128) NOT NULL DEFAULT '',
			owner          VARCHAR(128) NOT NULL,
			status         VARCHAR(16) NOT NULL,
			type           VARCHAR(16) NOT NULL,
			tx_hash        VARCHAR(66) NOT NULL DEFAULT '',
			gift_id        VARCHAR(128) NOT NULL DEFAULT '',
			livestream_id  VARCHAR(128) NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_pending ON transactions(created_at) WHERE status = 'pending';
	`)
	return err
}

// PingContext reports whether the database is reachable.
func (p *PostgresStore) PingContext(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const recordColumns = `id, amount::TEXT, created_at, sender_id, receiver_id, owner, status, type, tx_hash, gift_id, livestream_id`

func (p *PostgresStore) Append(ctx context.Context, rec *fraud.RawTransaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, amount, created_at, sender_id, receiver_id, owner, status, type, tx_hash, gift_id, livestream_id)
		VALUES ($1, $2::NUMERIC(78,0), $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.Amount, rec.CreatedAt, rec.SenderID, rec.ReceiverID, rec.Owner,
		string(rec.Status), string(rec.Type), rec.TxHash, rec.GiftID, rec.LivestreamID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*fraud.RawTransaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM transactions WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return rec, nil
}

func (p *PostgresStore) List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*fraud.RawTransaction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+recordColumns+` FROM transactions
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+recordColumns+` FROM transactions
			WHERE (created_at, id) < ($1, $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*fraud.RawTransaction
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Snapshot(ctx context.Context, limit int) ([]fraud.RawTransaction, error) {
	if limit <= 0 {
		return []fraud.RawTransaction{}, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+recordColumns+` FROM transactions
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		) newest
		ORDER BY created_at ASC, id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]fraud.RawTransaction, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func (p *PostgresStore) DeletePendingBefore(ctx context.Context, cutoffMs int64) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM transactions WHERE status = 'pending' AND created_at < $1
	`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending transactions: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*fraud.RawTransaction, error) {
	var (
		rec          fraud.RawTransaction
		status, kind string
	)
	err := s.Scan(&rec.ID, &rec.Amount, &rec.CreatedAt, &rec.SenderID, &rec.ReceiverID, &rec.Owner,
		&status, &kind, &rec.TxHash, &rec.GiftID, &rec.LivestreamID)
	if err != nil {
		return nil, err
	}
	rec.Status = fraud.Status(status)
	rec.Type = fraud.TxType(kind)
	return &rec, nil
}
