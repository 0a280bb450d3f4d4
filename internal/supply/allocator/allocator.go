// Package allocator plans which batches satisfy an order. Allocation is
// first-expiry-first-out: batches closer to expiry are drained first so
// stock does not rot on the shelf. Planning is pure; committing the plan
// against live stock is the ledger's job.
package allocator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
)

// ErrInvalidQuantity is returned when the requested quantity is not positive.
var ErrInvalidQuantity = errors.New("requested quantity must be positive")

// InsufficientStockError is returned when the non-expired stock across all
// candidate batches cannot cover the requested quantity. No partial plan is
// produced.
type InsufficientStockError struct {
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: requested %d, available %d", e.Requested, e.Available)
}

// Line is one slice of a plan: take Quantity units from batch BatchID at
// the batch's current unit price.
type Line struct {
	BatchID   string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Plan is a complete FEFO allocation. Lines appear in drain order and
// always sum to the requested quantity: planning is all or nothing.
type Plan struct {
	Lines      []Line
	TotalPrice decimal.Decimal
	Requested  int
}

// Allocate plans requested units out of the given batches as of asOf.
// Expired and empty batches are skipped. Remaining batches are drained
// soonest expiry first, earlier registration breaking ties. If total
// available stock falls short, an InsufficientStockError is returned and
// no plan is produced.
func Allocate(batches []*repository.Batch, requested int, asOf time.Time) (*Plan, error) {
	if requested <= 0 {
		return nil, ErrInvalidQuantity
	}

	candidates := make([]*repository.Batch, 0, len(batches))
	for _, b := range batches {
		if b.Expired(asOf) || b.QuantityOnHand <= 0 {
			continue
		}
		candidates = append(candidates, b)
	}

	// Stable keeps registration order for batches sharing an expiry date.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ExpiryDate.Before(candidates[j].ExpiryDate)
	})

	available := 0
	for _, b := range candidates {
		available += b.QuantityOnHand
	}
	if available < requested {
		return nil, &InsufficientStockError{Requested: requested, Available: available}
	}

	plan := &Plan{Requested: requested, TotalPrice: decimal.Zero}
	remaining := requested
	for _, b := range candidates {
		if remaining == 0 {
			break
		}
		take := b.QuantityOnHand
		if take > remaining {
			take = remaining
		}
		plan.Lines = append(plan.Lines, Line{
			BatchID:   b.ID,
			Quantity:  take,
			UnitPrice: b.UnitPrice,
		})
		plan.TotalPrice = plan.TotalPrice.Add(b.UnitPrice.Mul(decimal.NewFromInt(int64(take))))
		remaining -= take
	}
	return plan, nil
}
