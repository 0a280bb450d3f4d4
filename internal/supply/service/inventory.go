package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/pkg/actor"
	"github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
)

// InventoryService derives a requester's inventory from its delivered
// orders and consumption log. Nothing is stored: every snapshot and
// valuation is recomputed from those two sources, so the numbers can
// never drift from the order history.
type InventoryService struct {
	orders      *repository.OrderRepository
	consumption *repository.ConsumptionRepository
	logger      *logger.Logger
	now         func() time.Time
}

// NewInventoryService creates a new inventory service
func NewInventoryService(
	orders *repository.OrderRepository,
	consumption *repository.ConsumptionRepository,
	log *logger.Logger,
) *InventoryService {
	return &InventoryService{
		orders:      orders,
		consumption: consumption,
		logger:      log.WithComponent("inventory_service"),
		now:         time.Now,
	}
}

// SnapshotItem is one medicine's derived position
type SnapshotItem struct {
	MedicineID string `json:"medicine_id"`
	Delivered  int    `json:"delivered"`
	Consumed   int    `json:"consumed"`
	OnHand     int    `json:"on_hand"`
	Expired    int    `json:"expired"`
}

// Snapshot is a requester's derived inventory at a point in time
type Snapshot struct {
	RequesterID string         `json:"requester_id"`
	AsOf        time.Time      `json:"as_of"`
	Items       []SnapshotItem `json:"items"`
}

// ValuationItem is one medicine's derived stock value
type ValuationItem struct {
	MedicineID string          `json:"medicine_id"`
	OnHand     int             `json:"on_hand"`
	Value      decimal.Decimal `json:"value"`
}

// Valuation is a requester's derived inventory value at a point in time
type Valuation struct {
	RequesterID string          `json:"requester_id"`
	AsOf        time.Time       `json:"as_of"`
	Items       []ValuationItem `json:"items"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

// GetSnapshot derives the actor's current inventory, optionally narrowed
// to one medicine
func (s *InventoryService) GetSnapshot(ctx context.Context, act *actor.Actor, medicineID string) (*Snapshot, error) {
	if !act.Kind.IsRequester() {
		return nil, errors.Forbidden("only hospitals and pharmacies hold derived inventory")
	}

	holdings, asOf, err := s.holdings(ctx, act.ID, medicineID)
	if err != nil {
		return nil, err
	}

	items := make([]SnapshotItem, 0, len(holdings))
	for _, h := range holdings {
		items = append(items, SnapshotItem{
			MedicineID: h.medicineID,
			Delivered:  h.delivered,
			Consumed:   h.consumed,
			OnHand:     h.onHand,
			Expired:    h.expired,
		})
	}
	return &Snapshot{RequesterID: act.ID, AsOf: asOf, Items: items}, nil
}

// GetValuation derives the value of the actor's current inventory.
// Expired units are held at zero.
func (s *InventoryService) GetValuation(ctx context.Context, act *actor.Actor, medicineID string) (*Valuation, error) {
	if !act.Kind.IsRequester() {
		return nil, errors.Forbidden("only hospitals and pharmacies hold derived inventory")
	}

	holdings, asOf, err := s.holdings(ctx, act.ID, medicineID)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	items := make([]ValuationItem, 0, len(holdings))
	for _, h := range holdings {
		items = append(items, ValuationItem{
			MedicineID: h.medicineID,
			OnHand:     h.onHand,
			Value:      h.value,
		})
		total = total.Add(h.value)
	}
	return &Valuation{RequesterID: act.ID, AsOf: asOf, Items: items, TotalValue: total}, nil
}

// RecordConsumptionInput is the data needed to log consumption
type RecordConsumptionInput struct {
	MedicineID string  `json:"medicine_id" validate:"required,uuid"`
	Quantity   int     `json:"quantity" validate:"required,gt=0"`
	Reference  *string `json:"reference,omitempty" validate:"omitempty,max=255"`
}

// RecordConsumption logs units drawn from the actor's delivered stock.
// Hospitals dispense, pharmacies sell; the kind follows the actor. The
// quantity may not exceed the current non-expired on-hand position.
func (s *InventoryService) RecordConsumption(ctx context.Context, act *actor.Actor, input *RecordConsumptionInput) (*repository.ConsumptionEntry, error) {
	if !act.Kind.IsRequester() {
		return nil, errors.Forbidden("only hospitals and pharmacies consume stock")
	}

	kind := repository.ConsumptionSold
	if act.Kind == actor.KindHospital {
		kind = repository.ConsumptionDispense
	}

	holdings, _, err := s.holdings(ctx, act.ID, input.MedicineID)
	if err != nil {
		return nil, err
	}
	onHand := 0
	for _, h := range holdings {
		if h.medicineID == input.MedicineID {
			onHand = h.onHand
		}
	}
	if input.Quantity > onHand {
		return nil, errors.Unprocessable("INSUFFICIENT_INVENTORY",
			"consumption exceeds on-hand stock")
	}

	entry := &repository.ConsumptionEntry{
		RequesterID: act.ID,
		MedicineID:  input.MedicineID,
		Quantity:    input.Quantity,
		Kind:        kind,
		Reference:   input.Reference,
	}
	if err := s.consumption.Create(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("medicine_id", entry.MedicineID).
		Str("kind", entry.Kind).
		Int("quantity", entry.Quantity).
		Msg("consumption recorded")
	return entry, nil
}

// ListConsumption lists the actor's consumption entries, newest first
func (s *InventoryService) ListConsumption(ctx context.Context, act *actor.Actor, limit int) ([]*repository.ConsumptionEntry, error) {
	if !act.Kind.IsRequester() {
		return nil, errors.Forbidden("only hospitals and pharmacies consume stock")
	}
	return s.consumption.ListByRequester(ctx, act.ID, limit)
}

type holding struct {
	medicineID string
	delivered  int
	consumed   int
	onHand     int
	expired    int
	value      decimal.Decimal
}

func (s *InventoryService) holdings(ctx context.Context, requesterID, medicineID string) ([]holding, time.Time, error) {
	asOf := s.now().UTC()

	lines, err := s.orders.ListDeliveredLines(ctx, requesterID, medicineID)
	if err != nil {
		return nil, asOf, err
	}
	consumed, err := s.consumption.TotalsByMedicine(ctx, requesterID, medicineID)
	if err != nil {
		return nil, asOf, err
	}

	return computeHoldings(lines, consumed, asOf), asOf, nil
}

// computeHoldings folds delivered batch lines and consumption totals
// into per-medicine positions. Consumption draws down the lines in the
// same first-expiry-first-out order the stock was allocated in, so the
// units still on hand are the ones with the latest expiry dates. What
// remains on an expired line counts as expired and is valued at zero;
// the rest is valued at the unit price frozen at dispatch.
func computeHoldings(lines []*repository.DeliveredLine, consumed map[string]int, asOf time.Time) []holding {
	// expiry is a calendar date: units expiring today still count on hand
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)

	byMedicine := make(map[string][]*repository.DeliveredLine)
	order := make([]string, 0)
	for _, line := range lines {
		if _, seen := byMedicine[line.MedicineID]; !seen {
			order = append(order, line.MedicineID)
		}
		byMedicine[line.MedicineID] = append(byMedicine[line.MedicineID], line)
	}
	sort.Strings(order)

	holdings := make([]holding, 0, len(order))
	for _, medicineID := range order {
		medicineLines := byMedicine[medicineID]
		// lines arrive ordered by expiry already; keep it guaranteed
		sort.SliceStable(medicineLines, func(i, j int) bool {
			return medicineLines[i].ExpiryDate.Before(medicineLines[j].ExpiryDate)
		})

		h := holding{medicineID: medicineID, value: decimal.Zero}
		remaining := consumed[medicineID]
		h.consumed = remaining

		for _, line := range medicineLines {
			h.delivered += line.Quantity

			left := line.Quantity
			if remaining > 0 {
				take := left
				if take > remaining {
					take = remaining
				}
				left -= take
				remaining -= take
			}
			if left == 0 {
				continue
			}
			if line.ExpiryDate.Before(day) {
				h.expired += left
				continue
			}
			h.onHand += left
			h.value = h.value.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(left))))
		}

		holdings = append(holdings, h)
	}
	return holdings
}
