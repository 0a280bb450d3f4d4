package repository

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/testutil"
)

func batchColumns() []string {
	return []string{
		"id", "medicine_id", "vendor_id", "batch_number", "manufacturing_date",
		"expiry_date", "quantity_on_hand", "unit_price", "list_price",
		"created_at", "updated_at",
	}
}

func batchRow(id string, qty int, expiry time.Time) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "med-1", "vendor-1", "LOT-1", now.AddDate(-1, 0, 0),
		expiry, qty, "10.00", "15.00", now, now,
	}
}

func TestBatchRepositoryCreate(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewBatchRepository(db)

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO medicine_batches`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	batch := &Batch{
		MedicineID:        "med-1",
		VendorID:          "vendor-1",
		BatchNumber:       "LOT-1",
		ManufacturingDate: now.AddDate(-1, 0, 0),
		ExpiryDate:        now.AddDate(1, 0, 0),
		QuantityOnHand:    100,
		UnitPrice:         decimal.RequireFromString("10.00"),
		ListPrice:         decimal.RequireFromString("15.00"),
	}
	err := repo.Create(context.Background(), batch)
	require.NoError(t, err)
	assert.NotEmpty(t, batch.ID, "create assigns an ID")
	assert.Equal(t, now, batch.CreatedAt)
}

func TestBatchRepositoryGetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		repo := NewBatchRepository(db)

		expiry := time.Now().AddDate(1, 0, 0)
		mock.ExpectQuery(`SELECT \* FROM medicine_batches WHERE id`).
			WithArgs("batch-1").
			WillReturnRows(sqlmock.NewRows(batchColumns()).AddRow(batchRow("batch-1", 40, expiry)...))

		batch, err := repo.GetByID(context.Background(), "batch-1")
		require.NoError(t, err)
		assert.Equal(t, "batch-1", batch.ID)
		assert.Equal(t, 40, batch.QuantityOnHand)
		assert.True(t, batch.UnitPrice.Equal(decimal.RequireFromString("10.00")))
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		repo := NewBatchRepository(db)

		mock.ExpectQuery(`SELECT \* FROM medicine_batches WHERE id`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(batchColumns()))

		_, err := repo.GetByID(context.Background(), "missing")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestBatchRepositoryListAllocatable(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewBatchRepository(db)

	asOf := time.Now()
	soon := asOf.AddDate(0, 1, 0)
	later := asOf.AddDate(0, 2, 0)

	mock.ExpectQuery(`FROM medicine_batches\s+WHERE medicine_id`).
		WithArgs("med-1", "vendor-1", asOf).
		WillReturnRows(sqlmock.NewRows(batchColumns()).
			AddRow(batchRow("soonest", 10, soon)...).
			AddRow(batchRow("later", 20, later)...))

	batches, err := repo.ListAllocatable(context.Background(), "med-1", "vendor-1", asOf)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "soonest", batches[0].ID)
	assert.Equal(t, "later", batches[1].ID)
}
