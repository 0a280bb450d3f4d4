package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pharmalink/pharmalink-backend/pkg/database"
	"github.com/pharmalink/pharmalink-backend/pkg/errors"
)

// Medicine is a local read model of the catalog service's medicine,
// kept current by consuming catalog events. Only the fields the supply
// flows need are mirrored.
type Medicine struct {
	ID          string    `db:"id" json:"id"`
	VendorID    string    `db:"vendor_id" json:"vendor_id"`
	BrandName   string    `db:"brand_name" json:"brand_name"`
	GenericName string    `db:"generic_name" json:"generic_name"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// MedicineCacheRepository handles the medicine read model
type MedicineCacheRepository struct {
	db *database.DB
}

// NewMedicineCacheRepository creates a new medicine cache repository
func NewMedicineCacheRepository(db *database.DB) *MedicineCacheRepository {
	return &MedicineCacheRepository{db: db}
}

// Upsert inserts or refreshes a cached medicine
func (r *MedicineCacheRepository) Upsert(ctx context.Context, m *Medicine) error {
	query := `
		INSERT INTO medicine_cache (id, vendor_id, brand_name, generic_name, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			vendor_id = EXCLUDED.vendor_id,
			brand_name = EXCLUDED.brand_name,
			generic_name = EXCLUDED.generic_name,
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.VendorID, m.BrandName, m.GenericName)
	return err
}

// GetByID gets a cached medicine by ID
func (r *MedicineCacheRepository) GetByID(ctx context.Context, id string) (*Medicine, error) {
	var m Medicine
	query := `SELECT * FROM medicine_cache WHERE id = $1`
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medicine")
		}
		return nil, err
	}
	return &m, nil
}

// Delete removes a cached medicine
func (r *MedicineCacheRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM medicine_cache WHERE id = $1`, id)
	return err
}
