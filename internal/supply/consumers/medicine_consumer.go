package consumers

import (
	"context"

	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
	"github.com/pharmalink/pharmalink-backend/pkg/messaging"
)

// MedicineConsumer keeps the local medicine read model in sync with the
// catalog service by consuming its events.
type MedicineConsumer struct {
	consumer  *messaging.Consumer
	medicines *repository.MedicineCacheRepository
	logger    *logger.Logger
}

// NewMedicineConsumer creates a consumer bound to the catalog events
// exchange
func NewMedicineConsumer(rmq *messaging.RabbitMQ, medicines *repository.MedicineCacheRepository, log *logger.Logger) (*MedicineConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "supply-service.medicine-cache", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeCatalogEvents, "catalog.medicine.*"); err != nil {
		return nil, err
	}

	c := &MedicineConsumer{
		consumer:  consumer,
		medicines: medicines,
		logger:    log.WithComponent("medicine_consumer"),
	}

	consumer.RegisterHandler(messaging.EventMedicineCreated, c.handleUpsert)
	consumer.RegisterHandler(messaging.EventMedicineUpdated, c.handleUpsert)
	consumer.RegisterHandler(messaging.EventMedicineDeleted, c.handleDelete)

	return c, nil
}

// Start starts consuming catalog events
func (c *MedicineConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *MedicineConsumer) handleUpsert(ctx context.Context, event *messaging.Event) error {
	var data messaging.MedicineEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	medicine := &repository.Medicine{
		ID:          data.MedicineID,
		VendorID:    data.VendorID,
		BrandName:   data.BrandName,
		GenericName: data.GenericName,
	}
	if err := c.medicines.Upsert(ctx, medicine); err != nil {
		return err
	}

	c.logger.Debug().
		Str("medicine_id", data.MedicineID).
		Str("event_type", event.Type).
		Msg("medicine cache refreshed")
	return nil
}

func (c *MedicineConsumer) handleDelete(ctx context.Context, event *messaging.Event) error {
	var data messaging.MedicineEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	if err := c.medicines.Delete(ctx, data.MedicineID); err != nil {
		return err
	}

	c.logger.Debug().Str("medicine_id", data.MedicineID).Msg("medicine removed from cache")
	return nil
}
