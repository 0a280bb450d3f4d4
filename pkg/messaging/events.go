package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	// Order lifecycle events
	EventOrderPlaced     = "supply.order.placed"
	EventOrderRejected   = "supply.order.rejected"
	EventOrderDispatched = "supply.order.dispatched"
	EventOrderDelivered  = "supply.order.delivered"

	// Stock events
	EventStockCommitted  = "supply.stock.committed"
	EventBatchRegistered = "supply.batch.registered"
	EventBatchExpiring   = "supply.batch.expiring"
	EventBatchExpired    = "supply.batch.expired"

	// Catalog events (consumed; published by the medicine catalog service)
	EventMedicineCreated = "catalog.medicine.created"
	EventMedicineUpdated = "catalog.medicine.updated"
	EventMedicineDeleted = "catalog.medicine.deleted"
)

// Exchange names
const (
	ExchangeSupplyEvents  = "supply.events"
	ExchangeCatalogEvents = "catalog.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Order events

// OrderPlacedEvent is published when a requester places an order
type OrderPlacedEvent struct {
	OrderID       string `json:"order_id"`
	MedicineID    string `json:"medicine_id"`
	VendorID      string `json:"vendor_id"`
	RequesterID   string `json:"requester_id"`
	RequesterKind string `json:"requester_kind"`
	Quantity      int    `json:"quantity"`
}

// OrderRejectedEvent is published when a vendor rejects a pending order
type OrderRejectedEvent struct {
	OrderID    string `json:"order_id"`
	MedicineID string `json:"medicine_id"`
	VendorID   string `json:"vendor_id"`
	Reason     string `json:"reason,omitempty"`
}

// OrderDispatchedEvent is published after batches have been allocated and
// committed for an order
type OrderDispatchedEvent struct {
	OrderID    string                 `json:"order_id"`
	MedicineID string                 `json:"medicine_id"`
	VendorID   string                 `json:"vendor_id"`
	TotalValue string                 `json:"total_value"`
	Batches    []DispatchedBatchEvent `json:"batches"`
}

// DispatchedBatchEvent is one batch line of a dispatched order
type DispatchedBatchEvent struct {
	BatchID   string `json:"batch_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// OrderDeliveredEvent is published when receipt of an order is confirmed
type OrderDeliveredEvent struct {
	OrderID     string    `json:"order_id"`
	MedicineID  string    `json:"medicine_id"`
	RequesterID string    `json:"requester_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Stock events

// StockCommittedEvent is published when the stock ledger decrements batches
type StockCommittedEvent struct {
	OrderID string                 `json:"order_id"`
	Batches []DispatchedBatchEvent `json:"batches"`
}

// BatchRegisteredEvent is published when a vendor registers new stock
type BatchRegisteredEvent struct {
	BatchID     string `json:"batch_id"`
	MedicineID  string `json:"medicine_id"`
	VendorID    string `json:"vendor_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    int    `json:"quantity"`
	ExpiryDate  string `json:"expiry_date"`
}

// BatchExpiryEvent is published by the expiry scanner for batches that are
// expiring soon or already expired with stock remaining
type BatchExpiryEvent struct {
	BatchID         string `json:"batch_id"`
	MedicineID      string `json:"medicine_id"`
	VendorID        string `json:"vendor_id"`
	BatchNumber     string `json:"batch_number"`
	QuantityOnHand  int    `json:"quantity_on_hand"`
	ExpiryDate      string `json:"expiry_date"`
	DaysUntilExpiry int    `json:"days_until_expiry"`
}

// Catalog events (consumed)

// MedicineEvent carries the catalog service's view of a medicine
type MedicineEvent struct {
	MedicineID  string `json:"medicine_id"`
	VendorID    string `json:"vendor_id"`
	BrandName   string `json:"brand_name"`
	GenericName string `json:"generic_name"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
