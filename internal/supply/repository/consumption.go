package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pharmalink/pharmalink-backend/pkg/database"
)

// Consumption kinds. Hospitals dispense to patients, pharmacies sell;
// both draw down the requester's delivered stock the same way.
const (
	ConsumptionDispense = "dispense"
	ConsumptionSold     = "sold"
)

// ConsumptionEntry records units a requester consumed from its delivered
// stock of one medicine.
type ConsumptionEntry struct {
	ID          string    `db:"id" json:"id"`
	RequesterID string    `db:"requester_id" json:"requester_id"`
	MedicineID  string    `db:"medicine_id" json:"medicine_id"`
	Quantity    int       `db:"quantity" json:"quantity"`
	Kind        string    `db:"kind" json:"kind"`
	Reference   *string   `db:"reference" json:"reference,omitempty"`
	ConsumedAt  time.Time `db:"consumed_at" json:"consumed_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ConsumptionRepository handles consumption log persistence
type ConsumptionRepository struct {
	db *database.DB
}

// NewConsumptionRepository creates a new consumption repository
func NewConsumptionRepository(db *database.DB) *ConsumptionRepository {
	return &ConsumptionRepository{db: db}
}

// Create appends a consumption entry
func (r *ConsumptionRepository) Create(ctx context.Context, entry *ConsumptionEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.ConsumedAt.IsZero() {
		entry.ConsumedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO consumption_log (id, requester_id, medicine_id, quantity, kind, reference, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		entry.ID, entry.RequesterID, entry.MedicineID, entry.Quantity,
		entry.Kind, entry.Reference, entry.ConsumedAt,
	).Scan(&entry.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// ListByRequester lists a requester's consumption entries, newest first
func (r *ConsumptionRepository) ListByRequester(ctx context.Context, requesterID string, limit int) ([]*ConsumptionEntry, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	var entries []*ConsumptionEntry
	query := `
		SELECT * FROM consumption_log
		WHERE requester_id = $1
		ORDER BY consumed_at DESC
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &entries, query, requesterID, limit); err != nil {
		return nil, err
	}
	return entries, nil
}

// TotalsByMedicine returns a requester's consumed units grouped by
// medicine. A non-empty medicineID narrows the result to one medicine.
func (r *ConsumptionRepository) TotalsByMedicine(ctx context.Context, requesterID, medicineID string) (map[string]int, error) {
	query := `
		SELECT medicine_id, SUM(quantity) AS total
		FROM consumption_log
		WHERE requester_id = $1
	`
	args := []interface{}{requesterID}
	if medicineID != "" {
		query += " AND medicine_id = $2"
		args = append(args, medicineID)
	}
	query += " GROUP BY medicine_id"

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var id string
		var total int
		if err := rows.Scan(&id, &total); err != nil {
			return nil, err
		}
		totals[id] = total
	}
	return totals, rows.Err()
}
