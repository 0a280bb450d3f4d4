package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/pkg/database"
	"github.com/pharmalink/pharmalink-backend/pkg/errors"
)

// Batch represents one manufactured lot of one medicine owned by one vendor.
// Batches are never deleted; expired or fully consumed batches remain as
// history for expiry reporting and valuation.
type Batch struct {
	ID                string          `db:"id" json:"id"`
	MedicineID        string          `db:"medicine_id" json:"medicine_id"`
	VendorID          string          `db:"vendor_id" json:"vendor_id"`
	BatchNumber       string          `db:"batch_number" json:"batch_number"`
	ManufacturingDate time.Time       `db:"manufacturing_date" json:"manufacturing_date"`
	ExpiryDate        time.Time       `db:"expiry_date" json:"expiry_date"`
	QuantityOnHand    int             `db:"quantity_on_hand" json:"quantity_on_hand"`
	UnitPrice         decimal.Decimal `db:"unit_price" json:"unit_price"`
	ListPrice         decimal.Decimal `db:"list_price" json:"list_price"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the batch is expired relative to asOf. Expiry
// is a calendar date: a batch expiring today is still usable.
func (b *Batch) Expired(asOf time.Time) bool {
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	return b.ExpiryDate.Before(day)
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create registers a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medicine_batches (
			id, medicine_id, vendor_id, batch_number, manufacturing_date,
			expiry_date, quantity_on_hand, unit_price, list_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		batch.ID, batch.MedicineID, batch.VendorID, batch.BatchNumber,
		batch.ManufacturingDate, batch.ExpiryDate, batch.QuantityOnHand,
		batch.UnitPrice, batch.ListPrice,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM medicine_batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListByMedicine lists all batches for a medicine, including expired and
// exhausted ones, soonest expiry first.
func (r *BatchRepository) ListByMedicine(ctx context.Context, medicineID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM medicine_batches
		WHERE medicine_id = $1
		ORDER BY expiry_date, created_at
	`
	if err := r.db.SelectContext(ctx, &batches, query, medicineID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListAllocatable returns the allocation snapshot for (medicine, vendor):
// non-expired batches with stock remaining, ordered soonest expiry first
// with creation order breaking ties.
func (r *BatchRepository) ListAllocatable(ctx context.Context, medicineID, vendorID string, asOf time.Time) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM medicine_batches
		WHERE medicine_id = $1 AND vendor_id = $2
		AND expiry_date >= ($3)::date AND quantity_on_hand > 0
		ORDER BY expiry_date, created_at
	`
	if err := r.db.SelectContext(ctx, &batches, query, medicineID, vendorID, asOf); err != nil {
		return nil, err
	}
	return batches, nil
}

// GetByIDs returns batches by ID, keyed by ID
func (r *BatchRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*Batch, error) {
	result := make(map[string]*Batch, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM medicine_batches WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var batches []*Batch
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, err
	}
	for _, b := range batches {
		result[b.ID] = b
	}
	return result, nil
}

// GetExpiringBatches gets batches with stock expiring within days
func (r *BatchRepository) GetExpiringBatches(ctx context.Context, withinDays int) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM medicine_batches
		WHERE quantity_on_hand > 0
		AND expiry_date >= CURRENT_DATE
		AND expiry_date <= CURRENT_DATE + $1
		ORDER BY expiry_date
	`
	if err := r.db.SelectContext(ctx, &batches, query, withinDays); err != nil {
		return nil, err
	}
	return batches, nil
}

// GetExpiredBatches gets expired batches that still carry stock
func (r *BatchRepository) GetExpiredBatches(ctx context.Context) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM medicine_batches
		WHERE quantity_on_hand > 0 AND expiry_date < CURRENT_DATE
		ORDER BY expiry_date
	`
	if err := r.db.SelectContext(ctx, &batches, query); err != nil {
		return nil, err
	}
	return batches, nil
}

// GetTotalStock gets the total non-expired stock for (medicine, vendor)
func (r *BatchRepository) GetTotalStock(ctx context.Context, medicineID, vendorID string) (int, error) {
	var total sql.NullInt64
	query := `
		SELECT SUM(quantity_on_hand) FROM medicine_batches
		WHERE medicine_id = $1 AND vendor_id = $2
		AND expiry_date >= CURRENT_DATE AND quantity_on_hand > 0
	`
	if err := r.db.GetContext(ctx, &total, query, medicineID, vendorID); err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return int(total.Int64), nil
}

// DecrementQuantityTx decrements a batch's quantity within a transaction,
// guarded so the quantity can never go below zero. Returns the number of
// rows updated: zero means the batch either no longer has qty units or
// does not exist, and the caller must abort the transaction.
func (r *BatchRepository) DecrementQuantityTx(ctx context.Context, tx *sqlx.Tx, batchID string, qty int) (int64, error) {
	query := `
		UPDATE medicine_batches
		SET quantity_on_hand = quantity_on_hand - $2, updated_at = NOW()
		WHERE id = $1 AND quantity_on_hand >= $2
	`
	result, err := tx.ExecContext(ctx, query, batchID, qty)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ExistsTx reports whether a batch exists, within a transaction
func (r *BatchRepository) ExistsTx(ctx context.Context, tx *sqlx.Tx, batchID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM medicine_batches WHERE id = $1)`
	if err := tx.GetContext(ctx, &exists, query, batchID); err != nil {
		return false, err
	}
	return exists, nil
}
