package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps accounts in a token_accounts table.
type PostgresStore struct {
	db pgxConn
}

// NewPostgresPool opens and pings a pgx pool.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse ledger dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping ledger db: %w", err)
	}
	return pool, nil
}

func NewPostgresStore(db pgxConn) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (int, bool, error) {
	var balance int
	err := s.db.QueryRow(ctx, `SELECT token_count FROM token_accounts WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select token balance: %w", err)
	}
	return balance, true, nil
}

// CreateAccount inserts unless the user already has an account, then returns the stored row.
func (s *PostgresStore) CreateAccount(ctx context.Context, userID string, initialBalance int) (Account, error) {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO token_accounts (user_id, token_count, created_at, updated_at) VALUES ($1, $2, now(), now()) ON CONFLICT (user_id) DO NOTHING`,
		userID, initialBalance,
	); err != nil {
		return Account{}, fmt.Errorf("insert token account: %w", err)
	}

	acct := Account{UserID: userID}
	err := s.db.QueryRow(ctx,
		`SELECT token_count, created_at, updated_at FROM token_accounts WHERE user_id = $1`, userID,
	).Scan(&acct.TokenCount, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("select token account: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) SetBalance(ctx context.Context, userID string, expected, next int) (bool, error) {
	if next < 0 {
		return false, nil
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE token_accounts SET token_count = $3, updated_at = now() WHERE user_id = $1 AND token_count = $2`,
		userID, expected, next,
	)
	if err != nil {
		return false, fmt.Errorf("update token balance: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
