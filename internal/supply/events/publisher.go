package events

import (
	"context"
	"time"

	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
	"github.com/pharmalink/pharmalink-backend/pkg/messaging"
)

// SupplyEventPublisher publishes supply-related events. A nil publisher
// is safe to call; events are simply dropped, which keeps the service
// usable without a broker in local setups.
type SupplyEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewSupplyEventPublisher creates a new supply event publisher
func NewSupplyEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*SupplyEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeSupplyEvents, "supply-service", log)
	if err != nil {
		return nil, err
	}

	return &SupplyEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishOrderPlaced publishes an order placed event
func (p *SupplyEventPublisher) PublishOrderPlaced(ctx context.Context, order *repository.Order) {
	if p == nil {
		return
	}

	data := messaging.OrderPlacedEvent{
		OrderID:       order.ID,
		MedicineID:    order.MedicineID,
		VendorID:      order.VendorID,
		RequesterID:   order.RequesterID,
		RequesterKind: order.RequesterKind,
		Quantity:      order.Quantity,
	}

	if err := p.publisher.Publish(ctx, messaging.EventOrderPlaced, data); err != nil {
		p.logger.Error().Err(err).Str("order_id", order.ID).Msg("failed to publish order placed event")
	}
}

// PublishOrderRejected publishes an order rejected event
func (p *SupplyEventPublisher) PublishOrderRejected(ctx context.Context, order *repository.Order) {
	if p == nil {
		return
	}

	reason := ""
	if order.RejectReason != nil {
		reason = *order.RejectReason
	}

	data := messaging.OrderRejectedEvent{
		OrderID:    order.ID,
		MedicineID: order.MedicineID,
		VendorID:   order.VendorID,
		Reason:     reason,
	}

	if err := p.publisher.Publish(ctx, messaging.EventOrderRejected, data); err != nil {
		p.logger.Error().Err(err).Str("order_id", order.ID).Msg("failed to publish order rejected event")
	}
}

// PublishOrderDispatched publishes an order dispatched event carrying
// the batch lines the order went out with
func (p *SupplyEventPublisher) PublishOrderDispatched(ctx context.Context, order *repository.Order) {
	if p == nil {
		return
	}

	batches := make([]messaging.DispatchedBatchEvent, 0, len(order.Batches))
	for _, line := range order.Batches {
		batches = append(batches, messaging.DispatchedBatchEvent{
			BatchID:   line.BatchID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.String(),
		})
	}

	data := messaging.OrderDispatchedEvent{
		OrderID:    order.ID,
		MedicineID: order.MedicineID,
		VendorID:   order.VendorID,
		TotalValue: order.TotalValue.String(),
		Batches:    batches,
	}

	if err := p.publisher.Publish(ctx, messaging.EventOrderDispatched, data); err != nil {
		p.logger.Error().Err(err).Str("order_id", order.ID).Msg("failed to publish order dispatched event")
	}
}

// PublishStockCommitted publishes a stock committed event mirroring the
// batch decrements applied for an order
func (p *SupplyEventPublisher) PublishStockCommitted(ctx context.Context, order *repository.Order) {
	if p == nil {
		return
	}

	batches := make([]messaging.DispatchedBatchEvent, 0, len(order.Batches))
	for _, line := range order.Batches {
		batches = append(batches, messaging.DispatchedBatchEvent{
			BatchID:   line.BatchID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.String(),
		})
	}

	data := messaging.StockCommittedEvent{
		OrderID: order.ID,
		Batches: batches,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockCommitted, data); err != nil {
		p.logger.Error().Err(err).Str("order_id", order.ID).Msg("failed to publish stock committed event")
	}
}

// PublishOrderDelivered publishes an order delivered event
func (p *SupplyEventPublisher) PublishOrderDelivered(ctx context.Context, order *repository.Order) {
	if p == nil {
		return
	}

	var deliveredAt time.Time
	if order.DeliveredAt != nil {
		deliveredAt = order.DeliveredAt.UTC()
	}

	data := messaging.OrderDeliveredEvent{
		OrderID:     order.ID,
		MedicineID:  order.MedicineID,
		RequesterID: order.RequesterID,
		DeliveredAt: deliveredAt,
	}

	if err := p.publisher.Publish(ctx, messaging.EventOrderDelivered, data); err != nil {
		p.logger.Error().Err(err).Str("order_id", order.ID).Msg("failed to publish order delivered event")
	}
}

// PublishBatchRegistered publishes a batch registered event
func (p *SupplyEventPublisher) PublishBatchRegistered(ctx context.Context, batch *repository.Batch) {
	if p == nil {
		return
	}

	data := messaging.BatchRegisteredEvent{
		BatchID:     batch.ID,
		MedicineID:  batch.MedicineID,
		VendorID:    batch.VendorID,
		BatchNumber: batch.BatchNumber,
		Quantity:    batch.QuantityOnHand,
		ExpiryDate:  batch.ExpiryDate.Format("2006-01-02"),
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchRegistered, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish batch registered event")
	}
}

// PublishBatchExpiring publishes an expiring batch alert event
func (p *SupplyEventPublisher) PublishBatchExpiring(ctx context.Context, batch *repository.Batch) {
	p.publishExpiryEvent(ctx, messaging.EventBatchExpiring, batch)
}

// PublishBatchExpired publishes an expired batch alert event
func (p *SupplyEventPublisher) PublishBatchExpired(ctx context.Context, batch *repository.Batch) {
	p.publishExpiryEvent(ctx, messaging.EventBatchExpired, batch)
}

func (p *SupplyEventPublisher) publishExpiryEvent(ctx context.Context, eventType string, batch *repository.Batch) {
	if p == nil {
		return
	}

	days := int(time.Until(batch.ExpiryDate).Hours() / 24)
	if days < 0 {
		days = 0
	}

	data := messaging.BatchExpiryEvent{
		BatchID:         batch.ID,
		MedicineID:      batch.MedicineID,
		VendorID:        batch.VendorID,
		BatchNumber:     batch.BatchNumber,
		QuantityOnHand:  batch.QuantityOnHand,
		ExpiryDate:      batch.ExpiryDate.Format("2006-01-02"),
		DaysUntilExpiry: days,
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish batch expiry event")
	}
}
