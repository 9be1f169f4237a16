package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openmind/core-gateway/internal/store"
	"github.com/openmind/core-gateway/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Accounts() store.AccountRepository {
	return &accountRepo{db: r.executor}
}

func (r *SqliteRepository) Usage() store.UsageRepository {
	return &usageRepo{db: r.executor}
}

type accountRepo struct {
	db DB
}

func (r *accountRepo) GetByHash(ctx context.Context, hash string) (*model.Account, error) {
	var acct model.Account
	// active check is part of the query for speed
	query := `SELECT * FROM accounts WHERE key_hash = ? AND is_active = 1`
	if err := r.db.GetContext(ctx, &acct, query, hash); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *accountRepo) Create(ctx context.Context, acct *model.Account) error {
	query := `
	INSERT INTO accounts (id, name, key_hash, key_prefix, plan, rps, burst, balance, cycle_started_at, is_active, created_at, updated_at)
	VALUES (:id, :name, :key_hash, :key_prefix, :plan, :rps, :burst, :balance, :cycle_started_at, :is_active, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, acct)
	return err
}

func (r *accountRepo) UpdateBalance(ctx context.Context, id string, balance int64) error {
	query := `UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, balance, time.Now(), id)
	return err
}

func (r *accountRepo) Touch(ctx context.Context, id string) error {
	query := `UPDATE accounts SET last_used_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, time.Now(), id)
	return err
}

func (r *accountRepo) List(ctx context.Context) ([]model.Account, error) {
	var accts []model.Account
	err := r.db.SelectContext(ctx, &accts, `SELECT * FROM accounts WHERE is_active = 1`)
	return accts, err
}

type usageRepo struct {
	db DB
}

func (r *usageRepo) Log(ctx context.Context, rec *model.UsageRecord) error {
	query := `
	INSERT INTO usage_records (
		id, account_id, provider, model,
		prompt_tokens, completion_tokens, total_tokens,
		estimated_units, units,
		latency_ms, ttft_ms, status_code, is_streamed, finish_reason, created_at
	) VALUES (
		:id, :account_id, :provider, :model,
		:prompt_tokens, :completion_tokens, :total_tokens,
		:estimated_units, :units,
		:latency_ms, :ttft_ms, :status_code, :is_streamed, :finish_reason, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, rec)
	return err
}

func (r *usageRepo) GetRecent(ctx context.Context, accountID string, limit int) ([]model.UsageRecord, error) {
	var recs []model.UsageRecord
	query := `SELECT * FROM usage_records WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &recs, query, accountID, limit)
	return recs, err
}

func (r *usageRepo) SumUnits(ctx context.Context, accountID string) (int64, error) {
	var total sql.NullInt64
	query := `SELECT SUM(units) FROM usage_records WHERE account_id = ?`
	if err := r.db.GetContext(ctx, &total, query, accountID); err != nil {
		return 0, err
	}
	return total.Int64, nil
}
