package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/internal/supply/allocator"
	"github.com/pharmalink/pharmalink-backend/internal/supply/events"
	"github.com/pharmalink/pharmalink-backend/internal/supply/ledger"
	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/pkg/actor"
	"github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
)

// OrderService drives the order lifecycle. Placing, requesting delivery
// and rejecting are plain status moves; dispatch is where stock actually
// leaves the vendor's batches.
type OrderService struct {
	orders    *repository.OrderRepository
	batches   *repository.BatchRepository
	medicines *repository.MedicineCacheRepository
	ledger    *ledger.StockLedger
	publisher *events.SupplyEventPublisher
	logger    *logger.Logger

	maxDispatchAttempts int
	now                 func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	orders *repository.OrderRepository,
	batches *repository.BatchRepository,
	medicines *repository.MedicineCacheRepository,
	stockLedger *ledger.StockLedger,
	publisher *events.SupplyEventPublisher,
	log *logger.Logger,
	maxDispatchAttempts int,
) *OrderService {
	if maxDispatchAttempts < 1 {
		maxDispatchAttempts = 3
	}
	return &OrderService{
		orders:              orders,
		batches:             batches,
		medicines:           medicines,
		ledger:              stockLedger,
		publisher:           publisher,
		logger:              log.WithComponent("order_service"),
		maxDispatchAttempts: maxDispatchAttempts,
		now:                 time.Now,
	}
}

// PlaceOrderInput is the data needed to place an order
type PlaceOrderInput struct {
	MedicineID   string `json:"medicine_id" validate:"required,uuid"`
	Quantity     int    `json:"quantity" validate:"required,gt=0"`
	DeliveryDate string `json:"delivery_date" validate:"required,datetime=2006-01-02"`
}

// PlaceOrder creates a pending order for the acting requester. Stock is
// not touched or reserved here; availability is only decided at dispatch.
func (s *OrderService) PlaceOrder(ctx context.Context, act *actor.Actor, input *PlaceOrderInput) (*repository.Order, error) {
	if !act.Kind.IsRequester() {
		return nil, errors.Forbidden("only hospitals and pharmacies can place orders")
	}

	medicine, err := s.medicines.GetByID(ctx, input.MedicineID)
	if err != nil {
		return nil, err
	}

	deliveryDate, err := time.Parse("2006-01-02", input.DeliveryDate)
	if err != nil {
		return nil, errors.BadRequest("invalid delivery date")
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if deliveryDate.Before(today) {
		return nil, errors.Validation(map[string]string{
			"delivery_date": "must not be in the past",
		})
	}

	order := &repository.Order{
		MedicineID:    medicine.ID,
		VendorID:      medicine.VendorID,
		RequesterID:   act.ID,
		RequesterKind: string(act.Kind),
		RequesterName: act.Organization,
		Quantity:      input.Quantity,
		TotalValue:    decimal.Zero,
		Status:        repository.StatusPending,
		DeliveryDate:  deliveryDate,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("order_id", order.ID).
		Str("medicine_id", order.MedicineID).
		Int("quantity", order.Quantity).
		Msg("order placed")
	s.publisher.PublishOrderPlaced(ctx, order)

	return order, nil
}

// GetOrder returns an order visible to the actor: vendors see orders
// aimed at them, requesters see their own.
func (s *OrderService) GetOrder(ctx context.Context, act *actor.Actor, orderID string) (*repository.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(act, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders lists orders scoped to the actor's side of the exchange
func (s *OrderService) ListOrders(ctx context.Context, act *actor.Actor, params repository.OrderListParams) ([]*repository.Order, int, error) {
	if act.Kind == actor.KindVendor {
		params.VendorID = act.ID
		params.RequesterID = ""
	} else {
		params.RequesterID = act.ID
		params.VendorID = ""
	}
	return s.orders.List(ctx, params)
}

// RequestDelivery moves a pending order to requested_for_delivery
func (s *OrderService) RequestDelivery(ctx context.Context, act *actor.Actor, orderID string) (*repository.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RequesterID != act.ID {
		return nil, errors.Forbidden("order belongs to another requester")
	}

	ok, err := s.orders.UpdateStatus(ctx, orderID, repository.StatusPending, repository.StatusRequestedForDelivery)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, orderID, repository.StatusRequestedForDelivery)
	}

	s.logger.Info().Str("order_id", orderID).Msg("delivery requested")
	return s.orders.GetByID(ctx, orderID)
}

// RejectOrder moves a pending order to rejected. Rejected is terminal:
// repeating the call fails like any other invalid transition.
func (s *OrderService) RejectOrder(ctx context.Context, act *actor.Actor, orderID, reason string) (*repository.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.VendorID != act.ID {
		return nil, errors.Forbidden("order is not aimed at this vendor")
	}

	ok, err := s.orders.Reject(ctx, orderID, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, orderID, repository.StatusRejected)
	}

	order, err = s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("order_id", orderID).Str("reason", reason).Msg("order rejected")
	s.publisher.PublishOrderRejected(ctx, order)
	return order, nil
}

// DispatchOrder allocates batches for a requested order and commits the
// decrements, moving the order to out_for_delivery. Allocation runs
// against a fresh snapshot; if a concurrent dispatch consumes stock the
// plan counted on, the commit rolls back and the whole cycle retries a
// bounded number of times before surfacing the contention.
func (s *OrderService) DispatchOrder(ctx context.Context, act *actor.Actor, orderID string) (*repository.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.VendorID != act.ID {
		return nil, errors.Forbidden("order is not aimed at this vendor")
	}
	if order.Status != repository.StatusRequestedForDelivery {
		return nil, s.wrapTransition(&InvalidTransitionError{
			OrderID: orderID,
			From:    order.Status,
			To:      repository.StatusOutForDelivery,
		})
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxDispatchAttempts; attempt++ {
		asOf := s.now().UTC()

		snapshot, err := s.batches.ListAllocatable(ctx, order.MedicineID, order.VendorID, asOf)
		if err != nil {
			return nil, err
		}

		plan, err := allocator.Allocate(snapshot, order.Quantity, asOf)
		if err != nil {
			var insufficient *allocator.InsufficientStockError
			if errors.As(err, &insufficient) {
				return nil, errors.Wrap(err, "INSUFFICIENT_STOCK", insufficient.Error(), 422)
			}
			return nil, err
		}

		lines := make([]*repository.OrderBatch, 0, len(plan.Lines))
		for _, line := range plan.Lines {
			lines = append(lines, &repository.OrderBatch{
				BatchID:   line.BatchID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
			})
		}

		err = s.ledger.Commit(ctx, plan, func(tx *sqlx.Tx) error {
			ok, err := s.orders.DispatchTx(ctx, tx, orderID, plan.TotalPrice, lines)
			if err != nil {
				return err
			}
			if !ok {
				// another dispatch already won the status guard
				return &InvalidTransitionError{
					OrderID: orderID,
					From:    repository.StatusOutForDelivery,
					To:      repository.StatusOutForDelivery,
				}
			}
			return nil
		})
		if err == nil {
			dispatched, err := s.orders.GetByID(ctx, orderID)
			if err != nil {
				return nil, err
			}
			s.logger.Info().
				Str("order_id", orderID).
				Int("attempt", attempt).
				Str("total_value", dispatched.TotalValue.String()).
				Msg("order dispatched")
			s.publisher.PublishOrderDispatched(ctx, dispatched)
			s.publisher.PublishStockCommitted(ctx, dispatched)
			return dispatched, nil
		}

		if errors.Is(err, ledger.ErrConflict) {
			s.logger.Warn().
				Str("order_id", orderID).
				Int("attempt", attempt).
				Msg("dispatch lost stock race, retrying")
			lastErr = err
			continue
		}

		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			return nil, s.wrapTransition(invalid)
		}
		var notFound *ledger.BatchNotFoundError
		if errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "BATCH_NOT_FOUND", notFound.Error(), 404)
		}
		return nil, err
	}

	return nil, errors.Wrap(lastErr, "STOCK_CONTENTION",
		"could not dispatch due to concurrent stock movements, try again", 409)
}

// ConfirmDelivered moves an out-for-delivery order to delivered and
// stamps the delivery time. Delivered is terminal: repeating the call
// fails like any other invalid transition, without touching the order.
func (s *OrderService) ConfirmDelivered(ctx context.Context, act *actor.Actor, orderID string) (*repository.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RequesterID != act.ID {
		return nil, errors.Forbidden("order belongs to another requester")
	}

	ok, err := s.orders.MarkDelivered(ctx, orderID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, orderID, repository.StatusDelivered)
	}

	order, err = s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("order_id", orderID).Msg("delivery confirmed")
	s.publisher.PublishOrderDelivered(ctx, order)
	return order, nil
}

func (s *OrderService) authorize(act *actor.Actor, order *repository.Order) error {
	if act.Kind == actor.KindVendor {
		if order.VendorID != act.ID {
			return errors.Forbidden("order is not aimed at this vendor")
		}
		return nil
	}
	if order.RequesterID != act.ID {
		return errors.Forbidden("order belongs to another requester")
	}
	return nil
}

// transitionError reloads the order to report its actual status after a
// conditional update found it in an unexpected one.
func (s *OrderService) transitionError(ctx context.Context, orderID, to string) error {
	from := "unknown"
	if order, err := s.orders.GetByID(ctx, orderID); err == nil {
		from = order.Status
	}
	return s.wrapTransition(&InvalidTransitionError{OrderID: orderID, From: from, To: to})
}

func (s *OrderService) wrapTransition(invalid *InvalidTransitionError) error {
	return errors.Wrap(invalid, "INVALID_TRANSITION", invalid.Error(), 409)
}
