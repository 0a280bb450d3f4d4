// Package ledger commits allocation plans against live batch stock.
// Every decrement is conditional on enough stock remaining, so two
// commits racing over the same batch can never drive it negative: the
// loser's transaction rolls back untouched and the caller may re-plan.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/pharmalink/pharmalink-backend/internal/supply/allocator"
	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/pkg/database"
)

// ErrConflict is returned when a concurrent commit consumed stock the
// plan counted on. The plan is stale; allocate again from a fresh
// snapshot and retry.
var ErrConflict = errors.New("stock changed since allocation")

// BatchNotFoundError is returned when a planned batch no longer exists.
type BatchNotFoundError struct {
	BatchID string
}

func (e *BatchNotFoundError) Error() string {
	return fmt.Sprintf("batch %s not found", e.BatchID)
}

// StockLedger applies allocation plans to stored batch quantities.
type StockLedger struct {
	db      *database.DB
	batches *repository.BatchRepository
	logger  zerolog.Logger
}

// New creates a stock ledger
func New(db *database.DB, batches *repository.BatchRepository, logger zerolog.Logger) *StockLedger {
	return &StockLedger{
		db:      db,
		batches: batches,
		logger:  logger.With().Str("component", "stock_ledger").Logger(),
	}
}

// Commit decrements every batch in the plan inside one transaction, and
// runs inTx (when non-nil) in the same transaction so callers can record
// work that must land atomically with the stock movement. Any failed
// decrement aborts the whole commit.
func (l *StockLedger) Commit(ctx context.Context, plan *allocator.Plan, inTx func(tx *sqlx.Tx) error) error {
	return l.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, line := range plan.Lines {
			rows, err := l.batches.DecrementQuantityTx(ctx, tx, line.BatchID, line.Quantity)
			if err != nil {
				return err
			}
			if rows == 0 {
				exists, err := l.batches.ExistsTx(ctx, tx, line.BatchID)
				if err != nil {
					return err
				}
				if !exists {
					return &BatchNotFoundError{BatchID: line.BatchID}
				}
				l.logger.Debug().
					Str("batch_id", line.BatchID).
					Int("quantity", line.Quantity).
					Msg("commit lost race for batch stock")
				return ErrConflict
			}
		}
		if inTx != nil {
			return inTx(tx)
		}
		return nil
	})
}
