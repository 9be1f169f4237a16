package usage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openmind/core-gateway/internal/store"
	"github.com/openmind/core-gateway/internal/store/model"
)

// Entry pairs a finished request's usage row with the account balance
// after reconciliation, so both land in the store together.
type Entry struct {
	Record *model.UsageRecord
	// BalanceAfter < 0 means the balance is unknown and left untouched
	BalanceAfter int64
}

// Ingestor handles the asynchronous persistence of usage records.
type Ingestor interface {
	Log(e Entry)
	Start(ctx context.Context)
	Stop()
}

type ingestor struct {
	logger    *zap.Logger
	repo      store.Repository
	ch        chan Entry
	batchSize int
	flushTime time.Duration
}

func NewIngestor(logger *zap.Logger, repo store.Repository) Ingestor {
	return &ingestor{
		logger:    logger,
		repo:      repo,
		ch:        make(chan Entry, 10000),
		batchSize: 50,
		flushTime: 5 * time.Second,
	}
}

func (i *ingestor) Log(e Entry) {
	select {
	case i.ch <- e:
	default:
		i.logger.Warn("Usage buffer full, dropping record", zap.String("request_id", e.Record.ID))
	}
}

func (i *ingestor) Start(ctx context.Context) {
	go i.worker(ctx)
}

func (i *ingestor) Stop() {
	close(i.ch)
}

func (i *ingestor) worker(ctx context.Context) {
	batch := make([]Entry, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		for _, e := range batch {
			if err := i.repo.Usage().Log(context.Background(), e.Record); err != nil {
				i.logger.Error("Failed to persist usage record",
					zap.String("id", e.Record.ID), zap.Error(err))
				continue
			}
			if e.BalanceAfter >= 0 {
				if err := i.repo.Accounts().UpdateBalance(context.Background(), e.Record.AccountID, e.BalanceAfter); err != nil {
					i.logger.Error("Failed to persist account balance",
						zap.String("account", e.Record.AccountID), zap.Error(err))
				}
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-i.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}
