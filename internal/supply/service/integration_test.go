package service_test

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink-backend/internal/supply/allocator"
	"github.com/pharmalink/pharmalink-backend/internal/supply/ledger"
	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/internal/supply/service"
	"github.com/pharmalink/pharmalink-backend/pkg/actor"
	"github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}

	ctx := context.Background()
	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to set up integration suite: %v", err)
	}

	code := m.Run()
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

type services struct {
	orders    *service.OrderService
	batches   *service.BatchService
	inventory *service.InventoryService

	orderRepo    *repository.OrderRepository
	batchRepo    *repository.BatchRepository
	medicineRepo *repository.MedicineCacheRepository
}

func newServices(t *testing.T) *services {
	t.Helper()

	batchRepo := repository.NewBatchRepository(suite.DB)
	orderRepo := repository.NewOrderRepository(suite.DB)
	consumptionRepo := repository.NewConsumptionRepository(suite.DB)
	medicineRepo := repository.NewMedicineCacheRepository(suite.DB)

	stockLedger := ledger.New(suite.DB, batchRepo, suite.Logger.Logger)

	return &services{
		orders:       service.NewOrderService(orderRepo, batchRepo, medicineRepo, stockLedger, nil, suite.Logger, 3),
		batches:      service.NewBatchService(batchRepo, medicineRepo, nil, suite.Logger),
		inventory:    service.NewInventoryService(orderRepo, consumptionRepo, suite.Logger),
		orderRepo:    orderRepo,
		batchRepo:    batchRepo,
		medicineRepo: medicineRepo,
	}
}

func vendorActor(id string) *actor.Actor {
	return &actor.Actor{ID: id, Organization: "Test Vendor GmbH", Kind: actor.KindVendor}
}

func pharmacyActor(id string) *actor.Actor {
	return &actor.Actor{ID: id, Organization: "Test Pharmacy", Kind: actor.KindPharmacy}
}

// seedMedicine puts a medicine in the cache and returns its ID with the
// owning vendor's ID
func seedMedicine(t *testing.T, svc *services) (string, string) {
	t.Helper()

	medicineID := uuid.New().String()
	vendorID := uuid.New().String()
	err := svc.medicineRepo.Upsert(context.Background(), &repository.Medicine{
		ID:          medicineID,
		VendorID:    vendorID,
		BrandName:   "Paracetamol 500mg",
		GenericName: "paracetamol",
	})
	require.NoError(t, err)
	return medicineID, vendorID
}

func seedBatch(t *testing.T, svc *services, medicineID, vendorID string, qty int, expiry time.Time, price string) *repository.Batch {
	t.Helper()

	fx := suite.Fixtures.Batch(
		testutil.WithMedicine(medicineID, vendorID),
		testutil.WithQuantity(qty),
		testutil.WithExpiry(expiry),
		testutil.WithUnitPrice(price),
	)
	batch := &repository.Batch{
		ID:                fx.ID,
		MedicineID:        fx.MedicineID,
		VendorID:          fx.VendorID,
		BatchNumber:       fx.BatchNumber,
		ManufacturingDate: fx.ManufacturingDate,
		ExpiryDate:        fx.ExpiryDate,
		QuantityOnHand:    fx.QuantityOnHand,
		UnitPrice:         fx.UnitPrice,
		ListPrice:         fx.ListPrice,
	}
	require.NoError(t, svc.batchRepo.Create(context.Background(), batch))
	return batch
}

// deliveryDate is a target delivery date comfortably in the future
func deliveryDate() string {
	return time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")
}

// placeRequested places an order and walks it to requested_for_delivery
func placeRequested(t *testing.T, svc *services, requester *actor.Actor, medicineID string, qty int) *repository.Order {
	t.Helper()
	ctx := context.Background()

	order, err := svc.orders.PlaceOrder(ctx, requester, &service.PlaceOrderInput{
		MedicineID:   medicineID,
		Quantity:     qty,
		DeliveryDate: deliveryDate(),
	})
	require.NoError(t, err)
	require.Equal(t, repository.StatusPending, order.Status)

	order, err = svc.orders.RequestDelivery(ctx, requester, order.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusRequestedForDelivery, order.Status)
	return order
}

func TestDispatchDrainsBatchesByExpiry(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	future := time.Now().UTC()
	b1 := seedBatch(t, svc, medicineID, vendorID, 50, future.AddDate(0, 7, 0), "10")
	b2 := seedBatch(t, svc, medicineID, vendorID, 30, future.AddDate(0, 8, 0), "12")

	requester := pharmacyActor(uuid.New().String())
	order := placeRequested(t, svc, requester, medicineID, 60)

	dispatched, err := svc.orders.DispatchOrder(ctx, vendorActor(vendorID), order.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusOutForDelivery, dispatched.Status)

	require.Len(t, dispatched.Batches, 2)
	assert.Equal(t, b1.ID, dispatched.Batches[0].BatchID)
	assert.Equal(t, 50, dispatched.Batches[0].Quantity)
	assert.Equal(t, b2.ID, dispatched.Batches[1].BatchID)
	assert.Equal(t, 10, dispatched.Batches[1].Quantity)
	assert.True(t, dispatched.TotalValue.Equal(decimal.NewFromInt(620)),
		"expected total 620, got %s", dispatched.TotalValue)

	b1After, err := svc.batchRepo.GetByID(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, b1After.QuantityOnHand)
	b2After, err := svc.batchRepo.GetByID(ctx, b2.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, b2After.QuantityOnHand)
}

func TestDispatchInsufficientStockLeavesEverythingUntouched(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	now := time.Now().UTC()
	b1 := seedBatch(t, svc, medicineID, vendorID, 50, now.AddDate(0, 7, 0), "10")
	b2 := seedBatch(t, svc, medicineID, vendorID, 30, now.AddDate(0, 8, 0), "12")

	requester := pharmacyActor(uuid.New().String())
	order := placeRequested(t, svc, requester, medicineID, 100)

	_, err := svc.orders.DispatchOrder(ctx, vendorActor(vendorID), order.ID)
	require.Error(t, err)

	var insufficient *allocator.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 100, insufficient.Requested)
	assert.Equal(t, 80, insufficient.Available)

	// nothing moved
	b1After, err := svc.batchRepo.GetByID(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, b1After.QuantityOnHand)
	b2After, err := svc.batchRepo.GetByID(ctx, b2.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, b2After.QuantityOnHand)

	orderAfter, err := svc.orderRepo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRequestedForDelivery, orderAfter.Status)
	assert.Empty(t, orderAfter.Batches)
}

func TestDispatchSkipsExpiredStock(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	now := time.Now().UTC()
	expired := seedBatch(t, svc, medicineID, vendorID, 100, now.AddDate(0, 0, -1), "5")
	fresh := seedBatch(t, svc, medicineID, vendorID, 20, now.AddDate(0, 6, 0), "10")

	requester := pharmacyActor(uuid.New().String())
	order := placeRequested(t, svc, requester, medicineID, 20)

	dispatched, err := svc.orders.DispatchOrder(ctx, vendorActor(vendorID), order.ID)
	require.NoError(t, err)
	require.Len(t, dispatched.Batches, 1)
	assert.Equal(t, fresh.ID, dispatched.Batches[0].BatchID)

	expiredAfter, err := svc.batchRepo.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, expiredAfter.QuantityOnHand)
}

func TestPlaceOrderStoresTargetDeliveryDate(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, _ := seedMedicine(t, svc)
	requester := pharmacyActor(uuid.New().String())

	target := time.Now().UTC().AddDate(0, 0, 14).Format("2006-01-02")
	order, err := svc.orders.PlaceOrder(ctx, requester, &service.PlaceOrderInput{
		MedicineID:   medicineID,
		Quantity:     10,
		DeliveryDate: target,
	})
	require.NoError(t, err)
	assert.Equal(t, target, order.DeliveryDate.Format("2006-01-02"))

	reloaded, err := svc.orderRepo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, target, reloaded.DeliveryDate.Format("2006-01-02"))

	// a target in the past is refused
	_, err = svc.orders.PlaceOrder(ctx, requester, &service.PlaceOrderInput{
		MedicineID:   medicineID,
		Quantity:     10,
		DeliveryDate: "2020-01-01",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestRejectOrder(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	vendor := vendorActor(vendorID)
	requester := pharmacyActor(uuid.New().String())

	order, err := svc.orders.PlaceOrder(ctx, requester, &service.PlaceOrderInput{
		MedicineID:   medicineID,
		Quantity:     10,
		DeliveryDate: deliveryDate(),
	})
	require.NoError(t, err)

	rejected, err := svc.orders.RejectOrder(ctx, vendor, order.ID, "out of business area")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "out of business area", *rejected.RejectReason)

	// rejected is terminal: rejecting again fails and changes nothing
	_, err = svc.orders.RejectOrder(ctx, vendor, order.ID, "still no")
	var invalidRepeat *service.InvalidTransitionError
	require.ErrorAs(t, err, &invalidRepeat)
	assert.Equal(t, repository.StatusRejected, invalidRepeat.From)

	after, err := svc.orderRepo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, after.Status)
	assert.Equal(t, "out of business area", *after.RejectReason)

	// a requested order can no longer be rejected either
	order2 := placeRequested(t, svc, requester, medicineID, 5)
	_, err = svc.orders.RejectOrder(ctx, vendor, order2.ID, "too late")
	var invalid *service.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, repository.StatusRequestedForDelivery, invalid.From)
}

func TestConfirmDeliveredTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	seedBatch(t, svc, medicineID, vendorID, 50, time.Now().UTC().AddDate(0, 7, 0), "10")

	requester := pharmacyActor(uuid.New().String())
	order := placeRequested(t, svc, requester, medicineID, 10)

	_, err := svc.orders.DispatchOrder(ctx, vendorActor(vendorID), order.ID)
	require.NoError(t, err)

	delivered, err := svc.orders.ConfirmDelivered(ctx, requester, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)
	firstStamp := *delivered.DeliveredAt

	// delivered is terminal: confirming again fails and the order is
	// unchanged by the rejected call
	_, err = svc.orders.ConfirmDelivered(ctx, requester, order.ID)
	var invalid *service.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, repository.StatusDelivered, invalid.From)
	assert.Equal(t, repository.StatusDelivered, invalid.To)

	after, err := svc.orderRepo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusDelivered, after.Status)
	require.NotNil(t, after.DeliveredAt)
	assert.WithinDuration(t, firstStamp, *after.DeliveredAt, time.Millisecond)
}

func TestLifecycleRejectsSkippedSteps(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	seedBatch(t, svc, medicineID, vendorID, 50, time.Now().UTC().AddDate(0, 7, 0), "10")

	vendor := vendorActor(vendorID)
	requester := pharmacyActor(uuid.New().String())

	order, err := svc.orders.PlaceOrder(ctx, requester, &service.PlaceOrderInput{
		MedicineID:   medicineID,
		Quantity:     10,
		DeliveryDate: deliveryDate(),
	})
	require.NoError(t, err)

	// pending cannot be dispatched or delivered
	_, err = svc.orders.DispatchOrder(ctx, vendor, order.ID)
	var invalid *service.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	_, err = svc.orders.ConfirmDelivered(ctx, requester, order.ID)
	require.ErrorAs(t, err, &invalid)

	// stock is untouched by the failed attempts
	total, err := svc.batchRepo.GetTotalStock(ctx, medicineID, vendorID)
	require.NoError(t, err)
	assert.Equal(t, 50, total)
}

func TestConcurrentDispatchNeverOversells(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	batch := seedBatch(t, svc, medicineID, vendorID, 100, time.Now().UTC().AddDate(0, 7, 0), "10")

	vendor := vendorActor(vendorID)
	requester := pharmacyActor(uuid.New().String())

	const orders = 10
	const perOrder = 20
	orderIDs := make([]string, orders)
	for i := range orderIDs {
		orderIDs[i] = placeRequested(t, svc, requester, medicineID, perOrder).ID
	}

	var wg sync.WaitGroup
	results := make([]error, orders)
	for i, id := range orderIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, results[i] = svc.orders.DispatchOrder(ctx, vendor, id)
		}(i, id)
	}
	wg.Wait()

	dispatched := 0
	for i, err := range results {
		if err == nil {
			order, getErr := svc.orderRepo.GetByID(ctx, orderIDs[i])
			require.NoError(t, getErr)
			assert.Equal(t, repository.StatusOutForDelivery, order.Status)
			lineTotal := 0
			for _, line := range order.Batches {
				lineTotal += line.Quantity
			}
			assert.Equal(t, perOrder, lineTotal)
			dispatched++
			continue
		}
		// losers fail cleanly with insufficient stock or exhausted retries
		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Contains(t, []string{"INSUFFICIENT_STOCK", "STOCK_CONTENTION"}, appErr.Code)
	}

	after, err := svc.batchRepo.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 100-dispatched*perOrder, after.QuantityOnHand)
	assert.GreaterOrEqual(t, after.QuantityOnHand, 0)
	assert.LessOrEqual(t, dispatched, 100/perOrder)
}

func TestDoubleDispatchOnlyMovesStockOnce(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	batch := seedBatch(t, svc, medicineID, vendorID, 100, time.Now().UTC().AddDate(0, 7, 0), "10")

	vendor := vendorActor(vendorID)
	requester := pharmacyActor(uuid.New().String())
	order := placeRequested(t, svc, requester, medicineID, 30)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.orders.DispatchOrder(ctx, vendor, order.ID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			var invalid *service.InvalidTransitionError
			assert.ErrorAs(t, err, &invalid)
		}
	}
	assert.Equal(t, 1, successes)

	after, err := svc.batchRepo.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, after.QuantityOnHand)
}

func TestSnapshotAndValuation(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	now := time.Now().UTC()
	seedBatch(t, svc, medicineID, vendorID, 50, now.AddDate(0, 7, 0), "10")
	seedBatch(t, svc, medicineID, vendorID, 30, now.AddDate(0, 8, 0), "12")

	vendor := vendorActor(vendorID)
	requester := pharmacyActor(uuid.New().String())
	order := placeRequested(t, svc, requester, medicineID, 60)

	_, err := svc.orders.DispatchOrder(ctx, vendor, order.ID)
	require.NoError(t, err)
	_, err = svc.orders.ConfirmDelivered(ctx, requester, order.ID)
	require.NoError(t, err)

	// full delivery on hand, valued at the dispatch prices
	valuation, err := svc.inventory.GetValuation(ctx, requester, "")
	require.NoError(t, err)
	require.Len(t, valuation.Items, 1)
	assert.Equal(t, 60, valuation.Items[0].OnHand)
	assert.True(t, valuation.TotalValue.Equal(decimal.NewFromInt(620)),
		"expected 620, got %s", valuation.TotalValue)

	// consumption draws down the earliest-expiry units first
	_, err = svc.inventory.RecordConsumption(ctx, requester, &service.RecordConsumptionInput{
		MedicineID: medicineID,
		Quantity:   55,
	})
	require.NoError(t, err)

	snapshot, err := svc.inventory.GetSnapshot(ctx, requester, medicineID)
	require.NoError(t, err)
	require.Len(t, snapshot.Items, 1)
	assert.Equal(t, 60, snapshot.Items[0].Delivered)
	assert.Equal(t, 55, snapshot.Items[0].Consumed)
	assert.Equal(t, 5, snapshot.Items[0].OnHand)

	// 5 units left, all from the later batch at 12
	valuation, err = svc.inventory.GetValuation(ctx, requester, medicineID)
	require.NoError(t, err)
	assert.True(t, valuation.TotalValue.Equal(decimal.NewFromInt(60)),
		"expected 60, got %s", valuation.TotalValue)

	// consuming more than on hand is refused
	_, err = svc.inventory.RecordConsumption(ctx, requester, &service.RecordConsumptionInput{
		MedicineID: medicineID,
		Quantity:   6,
	})
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INSUFFICIENT_INVENTORY", appErr.Code)
}

func TestRegisterBatchValidation(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	vendor := vendorActor(vendorID)

	batch, err := svc.batches.RegisterBatch(ctx, vendor, &service.RegisterBatchInput{
		MedicineID:        medicineID,
		BatchNumber:       "LOT-0001",
		ManufacturingDate: "2024-01-01",
		ExpiryDate:        "2026-01-01",
		Quantity:          100,
		UnitPrice:         "9.50",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, batch.QuantityOnHand)
	assert.True(t, batch.UnitPrice.Equal(decimal.RequireFromString("9.50")))

	// expiry must follow manufacturing
	_, err = svc.batches.RegisterBatch(ctx, vendor, &service.RegisterBatchInput{
		MedicineID:        medicineID,
		BatchNumber:       "LOT-0002",
		ManufacturingDate: "2024-01-01",
		ExpiryDate:        "2023-01-01",
		Quantity:          100,
		UnitPrice:         "9.50",
	})
	require.Error(t, err)

	// only the owning vendor may register stock
	_, err = svc.batches.RegisterBatch(ctx, vendorActor(uuid.New().String()), &service.RegisterBatchInput{
		MedicineID:        medicineID,
		BatchNumber:       "LOT-0003",
		ManufacturingDate: "2024-01-01",
		ExpiryDate:        "2026-01-01",
		Quantity:          100,
		UnitPrice:         "9.50",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	// requesters cannot register stock at all
	_, err = svc.batches.RegisterBatch(ctx, pharmacyActor(uuid.New().String()), &service.RegisterBatchInput{
		MedicineID:        medicineID,
		BatchNumber:       "LOT-0004",
		ManufacturingDate: "2024-01-01",
		ExpiryDate:        "2026-01-01",
		Quantity:          100,
		UnitPrice:         "9.50",
	})
	require.Error(t, err)
}

func TestExpiryReportingIsVendorScoped(t *testing.T) {
	ctx := context.Background()
	suite.Reset(t, ctx)
	svc := newServices(t)

	medicineID, vendorID := seedMedicine(t, svc)
	otherMedicineID, otherVendorID := seedMedicine(t, svc)
	vendor := vendorActor(vendorID)

	soon := seedBatch(t, svc, medicineID, vendorID, 40, time.Now().AddDate(0, 0, 10), "10.00")
	far := seedBatch(t, svc, medicineID, vendorID, 60, time.Now().AddDate(1, 0, 0), "10.00")
	stale := seedBatch(t, svc, medicineID, vendorID, 20, time.Now().AddDate(0, 0, -5), "8.00")
	seedBatch(t, svc, otherMedicineID, otherVendorID, 30, time.Now().AddDate(0, 0, 10), "12.00")

	expiring, err := svc.batches.ListExpiring(ctx, vendor, 30)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, soon.ID, expiring[0].ID)

	expiring, err = svc.batches.ListExpiring(ctx, vendor, 400)
	require.NoError(t, err)
	require.Len(t, expiring, 2)

	expired, err := svc.batches.ListExpired(ctx, vendor)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
	assert.NotEqual(t, far.ID, expired[0].ID)

	_, err = svc.batches.ListExpiring(ctx, pharmacyActor(uuid.New().String()), 30)
	require.Error(t, err)
}
