package lots

import (
	"context"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// Store defines persistence operations for inventory lots.
// All mutating operations are expected to run inside a transaction managed
// by the calling service; the store re-validates its own invariants even
// when callers have already checked them.
type Store interface {
	// LotsExistFor reports whether any lot exists for the purchase order.
	// This is the idempotency guard for arrival posting.
	LotsExistFor(ctx context.Context, orderID id.ID) (bool, error)

	// InsertLots inserts the full lot set of an order as one atomic batch.
	// Fails with DuplicateLots if any lot already exists for the order.
	InsertLots(ctx context.Context, orderID id.ID, batch []InventoryLot) error

	// GetByOrder retrieves all lots of a purchase order.
	GetByOrder(ctx context.Context, orderID id.ID) ([]InventoryLot, error)

	// GetByIDs retrieves lots by id (for recost checks).
	GetByIDs(ctx context.Context, ids []id.ID) ([]InventoryLot, error)

	// FindAvailable returns lots with qty_remaining > 0 for a variant,
	// ordered by received_at ascending with lot id as tiebreak (FIFO).
	FindAvailable(ctx context.Context, variantID id.ID) ([]InventoryLot, error)

	// DecrementRemaining reduces a lot's remaining quantity.
	// Fails with Overconsumption if qty exceeds qty_remaining.
	DecrementRemaining(ctx context.Context, lotID id.ID, qty int64) error

	// UpdateUnitCost stores a corrected landed cost for every lot created
	// from the given line item and sets its pending flag.
	UpdateUnitCost(ctx context.Context, lineItemID id.ID, newCost types.Money, pending bool) error

	// DeleteByOrder removes the order's lot set (undo posting only).
	DeleteByOrder(ctx context.Context, orderID id.ID) error

	// SumRemainingByVariant returns remaining quantity summed per variant
	// across all lots, including zero and negative sums.
	SumRemainingByVariant(ctx context.Context) ([]VariantRemaining, error)

	// FindCorrupt returns lots violating 0 <= qty_remaining <= qty_received.
	FindCorrupt(ctx context.Context) ([]InventoryLot, error)
}

// ConsumptionStore defines persistence for the per-lot consumption trail.
type ConsumptionStore interface {
	// Insert persists consumption records; one row per contributing lot,
	// never merged.
	Insert(ctx context.Context, records []Consumption) error

	// GetBySaleItems retrieves consumption rows for the given sale items.
	GetBySaleItems(ctx context.Context, saleItemIDs []id.ID) ([]Consumption, error)
}
