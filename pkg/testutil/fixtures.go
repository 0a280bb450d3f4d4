package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchFixture represents test batch data
type BatchFixture struct {
	ID                string
	MedicineID        string
	VendorID          string
	BatchNumber       string
	ManufacturingDate time.Time
	ExpiryDate        time.Time
	QuantityOnHand    int
	UnitPrice         decimal.Decimal
	ListPrice         decimal.Decimal
}

// OrderFixture represents test order data
type OrderFixture struct {
	ID            string
	MedicineID    string
	VendorID      string
	RequesterID   string
	RequesterKind string
	RequesterName string
	Quantity      int
	Status        string
	DeliveryDate  time.Time
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Batch creates a batch fixture with defaults: fresh for a year, 100
// units on hand, priced at 10.00
func (f *FixtureFactory) Batch(opts ...func(*BatchFixture)) BatchFixture {
	seq := f.nextSeq()
	now := time.Now().UTC()

	batch := BatchFixture{
		ID:                uuid.New().String(),
		MedicineID:        uuid.New().String(),
		VendorID:          uuid.New().String(),
		BatchNumber:       fmt.Sprintf("LOT-%04d", seq),
		ManufacturingDate: now.AddDate(0, -1, 0),
		ExpiryDate:        now.AddDate(1, 0, 0),
		QuantityOnHand:    100,
		UnitPrice:         decimal.RequireFromString("10.00"),
		ListPrice:         decimal.RequireFromString("15.00"),
	}

	for _, opt := range opts {
		opt(&batch)
	}

	return batch
}

// WithMedicine sets the batch's medicine and vendor
func WithMedicine(medicineID, vendorID string) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.MedicineID = medicineID
		b.VendorID = vendorID
	}
}

// WithQuantity sets the batch's quantity on hand
func WithQuantity(qty int) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.QuantityOnHand = qty
	}
}

// WithExpiry sets the batch's expiry date
func WithExpiry(expiry time.Time) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.ExpiryDate = expiry
	}
}

// WithUnitPrice sets the batch's unit price
func WithUnitPrice(price string) func(*BatchFixture) {
	return func(b *BatchFixture) {
		b.UnitPrice = decimal.RequireFromString(price)
	}
}

// Order creates an order fixture with defaults: a pending pharmacy
// order for 10 units due in a week
func (f *FixtureFactory) Order(opts ...func(*OrderFixture)) OrderFixture {
	seq := f.nextSeq()

	order := OrderFixture{
		ID:            uuid.New().String(),
		MedicineID:    uuid.New().String(),
		VendorID:      uuid.New().String(),
		RequesterID:   uuid.New().String(),
		RequesterKind: "pharmacy",
		RequesterName: fmt.Sprintf("Test Pharmacy %d", seq),
		Quantity:      10,
		Status:        "pending",
		DeliveryDate:  time.Now().UTC().AddDate(0, 0, 7).Truncate(24 * time.Hour),
	}

	for _, opt := range opts {
		opt(&order)
	}

	return order
}

// ForBatch points the order at a batch's medicine and vendor
func ForBatch(b BatchFixture) func(*OrderFixture) {
	return func(o *OrderFixture) {
		o.MedicineID = b.MedicineID
		o.VendorID = b.VendorID
	}
}

// WithOrderQuantity sets the order quantity
func WithOrderQuantity(qty int) func(*OrderFixture) {
	return func(o *OrderFixture) {
		o.Quantity = qty
	}
}

// WithRequester sets the order's requester
func WithRequester(id, kind, name string) func(*OrderFixture) {
	return func(o *OrderFixture) {
		o.RequesterID = id
		o.RequesterKind = kind
		o.RequesterName = name
	}
}
