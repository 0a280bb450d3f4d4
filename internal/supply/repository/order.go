package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/pkg/database"
	"github.com/pharmalink/pharmalink-backend/pkg/errors"
)

// Order statuses
const (
	StatusPending              = "pending"
	StatusRequestedForDelivery = "requested_for_delivery"
	StatusOutForDelivery       = "out_for_delivery"
	StatusDelivered            = "delivered"
	StatusRejected             = "rejected"
)

// Order is a requester's order for a quantity of one medicine from one
// vendor. Stock is untouched until dispatch; the dispatched batch lines
// are recorded on order_batches when the order goes out for delivery.
type Order struct {
	ID            string          `db:"id" json:"id"`
	MedicineID    string          `db:"medicine_id" json:"medicine_id"`
	VendorID      string          `db:"vendor_id" json:"vendor_id"`
	RequesterID   string          `db:"requester_id" json:"requester_id"`
	RequesterKind string          `db:"requester_kind" json:"requester_kind"`
	RequesterName string          `db:"requester_name" json:"requester_name"`
	Quantity      int             `db:"quantity" json:"quantity"`
	TotalValue    decimal.Decimal `db:"total_value" json:"total_value"`
	Status        string          `db:"status" json:"status"`
	RejectReason  *string         `db:"reject_reason" json:"reject_reason,omitempty"`
	OrderDate     time.Time       `db:"order_date" json:"order_date"`
	DeliveryDate  time.Time       `db:"delivery_date" json:"delivery_date"`
	DeliveredAt   *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`

	Batches []*OrderBatch `db:"-" json:"batches,omitempty"`
}

// OrderBatch is one line of a dispatched order: the quantity taken from
// one batch and the unit price frozen at dispatch time.
type OrderBatch struct {
	ID        string          `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	BatchID   string          `db:"batch_id" json:"batch_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Position  int             `db:"position" json:"position"`
}

// DeliveredLine is one dispatched line of a delivered order joined with
// its batch's expiry date, for snapshot and valuation queries.
type DeliveredLine struct {
	OrderID    string          `db:"order_id"`
	MedicineID string          `db:"medicine_id"`
	BatchID    string          `db:"batch_id"`
	Quantity   int             `db:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price"`
	ExpiryDate time.Time       `db:"expiry_date"`
}

// OrderListParams filters order listings
type OrderListParams struct {
	RequesterID string
	VendorID    string
	MedicineID  string
	Status      string
	Page        int
	PerPage     int
}

// OrderRepository handles order persistence
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new pending order
func (r *OrderRepository) Create(ctx context.Context, order *Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.Status == "" {
		order.Status = StatusPending
	}

	query := `
		INSERT INTO orders (
			id, medicine_id, vendor_id, requester_id, requester_kind,
			requester_name, quantity, total_value, status, order_date,
			delivery_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), $10)
		RETURNING order_date, created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		order.ID, order.MedicineID, order.VendorID, order.RequesterID,
		order.RequesterKind, order.RequesterName, order.Quantity,
		order.TotalValue, order.Status, order.DeliveryDate,
	).Scan(&order.OrderDate, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets an order with its dispatched batch lines
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	var order Order
	query := `SELECT * FROM orders WHERE id = $1`
	if err := r.db.GetContext(ctx, &order, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("order")
		}
		return nil, err
	}

	batches, err := r.getOrderBatches(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Batches = batches
	return &order, nil
}

func (r *OrderRepository) getOrderBatches(ctx context.Context, orderID string) ([]*OrderBatch, error) {
	var batches []*OrderBatch
	query := `SELECT * FROM order_batches WHERE order_id = $1 ORDER BY position`
	if err := r.db.SelectContext(ctx, &batches, query, orderID); err != nil {
		return nil, err
	}
	return batches, nil
}

// List lists orders matching params, newest first
func (r *OrderRepository) List(ctx context.Context, params OrderListParams) ([]*Order, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	addFilter := func(clause, value string) {
		if value == "" {
			return
		}
		where += clause + " = $" + strconv.Itoa(argNum)
		args = append(args, value)
		argNum++
	}
	addFilter(" AND requester_id", params.RequesterID)
	addFilter(" AND vendor_id", params.VendorID)
	addFilter(" AND medicine_id", params.MedicineID)
	addFilter(" AND status", params.Status)

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders"+where, args...); err != nil {
		return nil, 0, err
	}

	if params.Page < 1 {
		params.Page = 1
	}
	if params.PerPage < 1 || params.PerPage > 100 {
		params.PerPage = 20
	}
	offset := (params.Page - 1) * params.PerPage

	query := "SELECT * FROM orders" + where +
		" ORDER BY order_date DESC LIMIT $" + strconv.Itoa(argNum) + " OFFSET $" + strconv.Itoa(argNum+1)
	args = append(args, params.PerPage, offset)

	var orders []*Order
	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateStatus flips an order from one status to another. The update is
// conditional on the current status so that concurrent transitions race
// safely: exactly one caller wins. Returns false when the order was not
// in the expected status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID, from, to string) (bool, error) {
	query := `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query, orderID, from, to)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Reject flips a pending order to rejected and stores the reason
func (r *OrderRepository) Reject(ctx context.Context, orderID, reason string) (bool, error) {
	query := `
		UPDATE orders SET status = $3, reject_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, orderID, reason, StatusRejected, StatusPending)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkDelivered flips an out-for-delivery order to delivered and stamps
// the delivery time
func (r *OrderRepository) MarkDelivered(ctx context.Context, orderID string, deliveredAt time.Time) (bool, error) {
	query := `
		UPDATE orders SET status = $2, delivered_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, orderID, StatusDelivered, deliveredAt, StatusOutForDelivery)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DispatchTx records a dispatch within a transaction: flips the order to
// out_for_delivery (conditional on it still being requested_for_delivery),
// stores the total value, and inserts the dispatched batch lines. Returns
// false without writing lines when the status guard loses.
func (r *OrderRepository) DispatchTx(ctx context.Context, tx *sqlx.Tx, orderID string, totalValue decimal.Decimal, lines []*OrderBatch) (bool, error) {
	query := `
		UPDATE orders SET status = $2, total_value = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := tx.ExecContext(ctx, query, orderID, StatusOutForDelivery, totalValue, StatusRequestedForDelivery)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	insert := `
		INSERT INTO order_batches (id, order_id, batch_id, quantity, unit_price, position)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i, line := range lines {
		if line.ID == "" {
			line.ID = uuid.New().String()
		}
		line.OrderID = orderID
		line.Position = i
		if _, err := tx.ExecContext(ctx, insert,
			line.ID, line.OrderID, line.BatchID, line.Quantity, line.UnitPrice, line.Position,
		); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ListDeliveredLines returns the dispatched lines of all delivered orders
// for a requester, joined with the source batch's expiry date. A non-empty
// medicineID narrows the result to one medicine.
func (r *OrderRepository) ListDeliveredLines(ctx context.Context, requesterID, medicineID string) ([]*DeliveredLine, error) {
	query := `
		SELECT o.id AS order_id, o.medicine_id, ob.batch_id, ob.quantity,
			ob.unit_price, mb.expiry_date
		FROM orders o
		JOIN order_batches ob ON ob.order_id = o.id
		JOIN medicine_batches mb ON mb.id = ob.batch_id
		WHERE o.status = $1 AND o.requester_id = $2
	`
	args := []interface{}{StatusDelivered, requesterID}
	if medicineID != "" {
		query += " AND o.medicine_id = $3"
		args = append(args, medicineID)
	}
	query += " ORDER BY mb.expiry_date, ob.position"

	var lines []*DeliveredLine
	if err := r.db.SelectContext(ctx, &lines, query, args...); err != nil {
		return nil, err
	}
	return lines, nil
}
