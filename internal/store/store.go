package store

import (
	"context"

	"github.com/openmind/core-gateway/internal/store/model"
)

type contextKey string

const (
	// ContextKeyAccount carries the resolved *model.Account for a request.
	ContextKeyAccount contextKey = "account"
)

// Repository is the main contract for the data layer.
type Repository interface {
	Accounts() AccountRepository
	Usage() UsageRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type AccountRepository interface {
	// GetByHash retrieves an account by its hashed API key (for auth).
	GetByHash(ctx context.Context, hash string) (*model.Account, error)
	// Create issues a new account row.
	Create(ctx context.Context, acct *model.Account) error
	// UpdateBalance persists the remaining cycle balance.
	UpdateBalance(ctx context.Context, id string, balance int64) error
	// Touch updates the last-used timestamp.
	Touch(ctx context.Context, id string) error
	// List returns all active accounts.
	List(ctx context.Context) ([]model.Account, error)
}

type UsageRepository interface {
	// Log stores a completed request's usage.
	Log(ctx context.Context, rec *model.UsageRecord) error
	// GetRecent returns the last N usage records for an account.
	GetRecent(ctx context.Context, accountID string, limit int) ([]model.UsageRecord, error)
	// SumUnits totals committed units for an account over the current rows.
	SumUnits(ctx context.Context, accountID string) (int64, error)
}
