package ledger

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink-backend/internal/supply/allocator"
	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
	"github.com/pharmalink/pharmalink-backend/pkg/testutil"
)

func twoLinePlan() *allocator.Plan {
	return &allocator.Plan{
		Requested: 60,
		Lines: []allocator.Line{
			{BatchID: "batch-1", Quantity: 50, UnitPrice: decimal.NewFromInt(10)},
			{BatchID: "batch-2", Quantity: 10, UnitPrice: decimal.NewFromInt(12)},
		},
		TotalPrice: decimal.NewFromInt(620),
	}
}

func TestStockLedgerCommit(t *testing.T) {
	log := logger.New("test", "test")

	t.Run("commits every line in one transaction", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		l := New(db, repository.NewBatchRepository(db), log.Logger)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE medicine_batches`).
			WithArgs("batch-1", 50).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE medicine_batches`).
			WithArgs("batch-2", 10).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := l.Commit(context.Background(), twoLinePlan(), nil)
		require.NoError(t, err)
	})

	t.Run("stale plan rolls back with conflict", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		l := New(db, repository.NewBatchRepository(db), log.Logger)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE medicine_batches`).
			WithArgs("batch-1", 50).
			WillReturnResult(sqlmock.NewResult(0, 1))
		// batch-2 lost stock to a concurrent commit
		mock.ExpectExec(`UPDATE medicine_batches`).
			WithArgs("batch-2", 10).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("batch-2").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := l.Commit(context.Background(), twoLinePlan(), nil)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("missing batch surfaces as not found", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		l := New(db, repository.NewBatchRepository(db), log.Logger)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE medicine_batches`).
			WithArgs("batch-1", 50).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("batch-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		err := l.Commit(context.Background(), twoLinePlan(), nil)

		var notFound *BatchNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "batch-1", notFound.BatchID)
	})

	t.Run("inTx work lands in the same transaction", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		l := New(db, repository.NewBatchRepository(db), log.Logger)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE medicine_batches`).
			WithArgs("batch-1", 50).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE medicine_batches`).
			WithArgs("batch-2", 10).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE orders`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		called := false
		err := l.Commit(context.Background(), twoLinePlan(), func(tx *sqlx.Tx) error {
			called = true
			_, err := tx.Exec(`UPDATE orders SET status = 'out_for_delivery'`)
			return err
		})
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("inTx failure rolls back the stock movement", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		l := New(db, repository.NewBatchRepository(db), log.Logger)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE medicine_batches`).
			WithArgs("batch-1", 50).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE medicine_batches`).
			WithArgs("batch-2", 10).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		err := l.Commit(context.Background(), twoLinePlan(), func(tx *sqlx.Tx) error {
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
	})
}
