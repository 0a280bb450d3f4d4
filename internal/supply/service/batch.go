package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/internal/supply/events"
	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/pkg/actor"
	"github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
)

// BatchService manages vendor stock batches
type BatchService struct {
	batches   *repository.BatchRepository
	medicines *repository.MedicineCacheRepository
	publisher *events.SupplyEventPublisher
	logger    *logger.Logger
}

// NewBatchService creates a new batch service
func NewBatchService(
	batches *repository.BatchRepository,
	medicines *repository.MedicineCacheRepository,
	publisher *events.SupplyEventPublisher,
	log *logger.Logger,
) *BatchService {
	return &BatchService{
		batches:   batches,
		medicines: medicines,
		publisher: publisher,
		logger:    log.WithComponent("batch_service"),
	}
}

// RegisterBatchInput is the data needed to register a batch
type RegisterBatchInput struct {
	MedicineID        string `json:"medicine_id" validate:"required,uuid"`
	BatchNumber       string `json:"batch_number" validate:"required,max=100"`
	ManufacturingDate string `json:"manufacturing_date" validate:"required,datetime=2006-01-02"`
	ExpiryDate        string `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	Quantity          int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice         string `json:"unit_price" validate:"required"`
	ListPrice         string `json:"list_price,omitempty"`
}

// RegisterBatch registers a new stock batch for the acting vendor.
// Batches with a past expiry date can be registered (for record keeping)
// but will never be allocated.
func (s *BatchService) RegisterBatch(ctx context.Context, act *actor.Actor, input *RegisterBatchInput) (*repository.Batch, error) {
	if act.Kind != actor.KindVendor {
		return nil, errors.Forbidden("only vendors can register batches")
	}

	medicine, err := s.medicines.GetByID(ctx, input.MedicineID)
	if err != nil {
		return nil, err
	}
	if medicine.VendorID != act.ID {
		return nil, errors.Forbidden("medicine belongs to another vendor")
	}

	manufactured, err := time.Parse("2006-01-02", input.ManufacturingDate)
	if err != nil {
		return nil, errors.BadRequest("invalid manufacturing date")
	}
	expiry, err := time.Parse("2006-01-02", input.ExpiryDate)
	if err != nil {
		return nil, errors.BadRequest("invalid expiry date")
	}
	if !expiry.After(manufactured) {
		return nil, errors.Validation(map[string]string{
			"expiry_date": "must be after the manufacturing date",
		})
	}

	unitPrice, err := decimal.NewFromString(input.UnitPrice)
	if err != nil || unitPrice.IsNegative() {
		return nil, errors.Validation(map[string]string{
			"unit_price": "must be a non-negative decimal",
		})
	}
	listPrice := unitPrice
	if input.ListPrice != "" {
		listPrice, err = decimal.NewFromString(input.ListPrice)
		if err != nil || listPrice.IsNegative() {
			return nil, errors.Validation(map[string]string{
				"list_price": "must be a non-negative decimal",
			})
		}
	}

	batch := &repository.Batch{
		MedicineID:        medicine.ID,
		VendorID:          act.ID,
		BatchNumber:       input.BatchNumber,
		ManufacturingDate: manufactured,
		ExpiryDate:        expiry,
		QuantityOnHand:    input.Quantity,
		UnitPrice:         unitPrice,
		ListPrice:         listPrice,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("medicine_id", batch.MedicineID).
		Int("quantity", batch.QuantityOnHand).
		Time("expiry_date", batch.ExpiryDate).
		Msg("batch registered")
	s.publisher.PublishBatchRegistered(ctx, batch)

	return batch, nil
}

// GetBatch returns a batch owned by the acting vendor
func (s *BatchService) GetBatch(ctx context.Context, act *actor.Actor, batchID string) (*repository.Batch, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if act.Kind == actor.KindVendor && batch.VendorID != act.ID {
		return nil, errors.Forbidden("batch belongs to another vendor")
	}
	return batch, nil
}

// ListBatches lists a medicine's batches, soonest expiry first
func (s *BatchService) ListBatches(ctx context.Context, medicineID string) ([]*repository.Batch, error) {
	return s.batches.ListByMedicine(ctx, medicineID)
}

// ListExpiring returns the acting vendor's batches with stock expiring
// within the given number of days
func (s *BatchService) ListExpiring(ctx context.Context, act *actor.Actor, withinDays int) ([]*repository.Batch, error) {
	if act.Kind != actor.KindVendor {
		return nil, errors.Forbidden("only vendors hold batch stock")
	}
	if withinDays < 1 {
		withinDays = 30
	}

	batches, err := s.batches.GetExpiringBatches(ctx, withinDays)
	if err != nil {
		return nil, err
	}
	return filterByVendor(batches, act.ID), nil
}

// ListExpired returns the acting vendor's expired batches that still
// carry stock
func (s *BatchService) ListExpired(ctx context.Context, act *actor.Actor) ([]*repository.Batch, error) {
	if act.Kind != actor.KindVendor {
		return nil, errors.Forbidden("only vendors hold batch stock")
	}

	batches, err := s.batches.GetExpiredBatches(ctx)
	if err != nil {
		return nil, err
	}
	return filterByVendor(batches, act.ID), nil
}

func filterByVendor(batches []*repository.Batch, vendorID string) []*repository.Batch {
	filtered := make([]*repository.Batch, 0, len(batches))
	for _, b := range batches {
		if b.VendorID == vendorID {
			filtered = append(filtered, b)
		}
	}
	return filtered
}

// GetAvailableStock returns the total allocatable stock for a medicine
// from its vendor
func (s *BatchService) GetAvailableStock(ctx context.Context, medicineID string) (int, error) {
	medicine, err := s.medicines.GetByID(ctx, medicineID)
	if err != nil {
		return 0, err
	}
	return s.batches.GetTotalStock(ctx, medicine.ID, medicine.VendorID)
}
