package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink-backend/pkg/testutil"
)

func TestOrderRepositoryCreate(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewOrderRepository(db)

	fixtures := testutil.NewFixtureFactory()
	batch := fixtures.Batch()
	fx := fixtures.Order(
		testutil.ForBatch(batch),
		testutil.WithOrderQuantity(25),
		testutil.WithRequester("req-1", "hospital", "General Hospital"),
	)

	order := &Order{
		ID:            fx.ID,
		MedicineID:    fx.MedicineID,
		VendorID:      fx.VendorID,
		RequesterID:   fx.RequesterID,
		RequesterKind: fx.RequesterKind,
		RequesterName: fx.RequesterName,
		Quantity:      fx.Quantity,
		Status:        fx.Status,
		DeliveryDate:  fx.DeliveryDate,
	}

	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs(fx.ID, fx.MedicineID, fx.VendorID, fx.RequesterID,
			fx.RequesterKind, fx.RequesterName, fx.Quantity,
			order.TotalValue, fx.Status, fx.DeliveryDate).
		WillReturnRows(sqlmock.NewRows([]string{"order_date", "created_at", "updated_at"}).
			AddRow(now, now, now))

	require.NoError(t, repo.Create(context.Background(), order))
	assert.Equal(t, StatusPending, order.Status)
	assert.Equal(t, now, order.OrderDate)
}

func TestOrderRepositoryUpdateStatus(t *testing.T) {
	t.Run("wins when the order is in the expected status", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		repo := NewOrderRepository(db)

		mock.ExpectExec(`UPDATE orders SET status`).
			WithArgs("order-1", StatusPending, StatusRequestedForDelivery).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.UpdateStatus(context.Background(), "order-1", StatusPending, StatusRequestedForDelivery)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("loses when the status moved underneath", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		repo := NewOrderRepository(db)

		mock.ExpectExec(`UPDATE orders SET status`).
			WithArgs("order-1", StatusPending, StatusRequestedForDelivery).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.UpdateStatus(context.Background(), "order-1", StatusPending, StatusRequestedForDelivery)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestOrderRepositoryReject(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectExec(`UPDATE orders SET status`).
		WithArgs("order-1", "no capacity", StatusRejected, StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Reject(context.Background(), "order-1", "no capacity")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOrderRepositoryMarkDelivered(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	repo := NewOrderRepository(db)

	deliveredAt := time.Now().UTC()
	mock.ExpectExec(`UPDATE orders SET status`).
		WithArgs("order-1", StatusDelivered, deliveredAt, StatusOutForDelivery).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkDelivered(context.Background(), "order-1", deliveredAt)
	require.NoError(t, err)
	assert.True(t, ok)
}
