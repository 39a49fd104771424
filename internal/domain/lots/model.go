// Package lots owns the inventory lot entity and its invariants.
// A lot is a cost-homogeneous batch of stock derived from one purchase
// line item; its landed unit cost carries the item's share of the order's
// freight, extra fees and arrival tax.
package lots

import (
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// InventoryLot is one cost batch of a sellable variant.
//
// Invariants:
//   - QtyReceived is immutable once set and always > 0
//   - 0 <= QtyRemaining <= QtyReceived
//   - at most one lot set exists per purchase order (idempotent posting)
type InventoryLot struct {
	ID id.ID `db:"id" json:"id"`

	PurchaseOrderID id.ID `db:"purchase_order_id" json:"purchaseOrderId"`
	LineItemID      id.ID `db:"purchase_line_item_id" json:"purchaseLineItemId"`
	VariantID       id.ID `db:"variant_id" json:"variantId"`

	QtyReceived  int64 `db:"qty_received" json:"qtyReceived"`
	QtyRemaining int64 `db:"qty_remaining" json:"qtyRemaining"`

	// UnitCost is the landed cost: converted unit price plus the per-piece
	// share of order-level costs.
	UnitCost types.Money `db:"unit_cost" json:"unitCost"`

	// CostPending is true while the order's arrival tax is unknown.
	CostPending bool `db:"cost_pending" json:"costPending"`

	// ReceivedAt is the FIFO order key; ties are broken by lot id.
	ReceivedAt time.Time `db:"received_at" json:"receivedAt"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewLot creates a lot for a freshly arrived line item. The full received
// quantity is available for consumption.
func NewLot(orderID, lineItemID, variantID id.ID, qty int64, unitCost types.Money, costPending bool, receivedAt time.Time) InventoryLot {
	now := time.Now().UTC()
	return InventoryLot{
		ID:              id.New(),
		PurchaseOrderID: orderID,
		LineItemID:      lineItemID,
		VariantID:       variantID,
		QtyReceived:     qty,
		QtyRemaining:    qty,
		UnitCost:        unitCost,
		CostPending:     costPending,
		ReceivedAt:      receivedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Untouched reports whether no sale has consumed from this lot.
// Undo posting is only permitted while every lot of the order is untouched.
func (l *InventoryLot) Untouched() bool {
	return l.QtyRemaining == l.QtyReceived
}

// Corrupt reports structural corruption of the remaining quantity.
func (l *InventoryLot) Corrupt() bool {
	return l.QtyRemaining < 0 || l.QtyRemaining > l.QtyReceived
}

// Validate checks lot invariants before insertion.
func (l *InventoryLot) Validate() error {
	if id.IsNil(l.PurchaseOrderID) {
		return apperror.NewValidation("purchase order id is required")
	}
	if id.IsNil(l.VariantID) {
		return apperror.NewValidation("lot must be attributable to a sellable variant").
			WithDetail("lot_id", l.ID.String())
	}
	if l.QtyReceived <= 0 {
		return apperror.NewValidation("qty_received must be positive").
			WithDetail("lot_id", l.ID.String())
	}
	if l.Corrupt() {
		return apperror.NewValidation("qty_remaining out of range").
			WithDetail("lot_id", l.ID.String()).
			WithDetail("qty_remaining", l.QtyRemaining).
			WithDetail("qty_received", l.QtyReceived)
	}
	return nil
}

// Consumption is the audit trail of one sale item drawing from one lot.
// UnitCost is frozen at consumption time and stays independent of later
// lot cost corrections; it is the historical truth for realized COGS.
type Consumption struct {
	ID         id.ID `db:"id" json:"id"`
	SaleItemID id.ID `db:"sale_item_id" json:"saleItemId"`
	LotID      id.ID `db:"inventory_lot_id" json:"inventoryLotId"`

	QtyConsumed int64       `db:"qty_consumed" json:"qtyConsumed"`
	UnitCost    types.Money `db:"unit_cost_at_consumption" json:"unitCostAtConsumption"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NewConsumption freezes the lot's current unit cost into an audit record.
func NewConsumption(saleItemID, lotID id.ID, qty int64, unitCost types.Money) Consumption {
	return Consumption{
		ID:          id.New(),
		SaleItemID:  saleItemID,
		LotID:       lotID,
		QtyConsumed: qty,
		UnitCost:    unitCost,
		CreatedAt:   time.Now().UTC(),
	}
}

// TotalCost returns qty × frozen unit cost for this record.
func (c *Consumption) TotalCost() types.Money {
	return c.UnitCost.Mul(types.NewMoneyFromInt(c.QtyConsumed))
}

// VariantRemaining is the per-variant sum of remaining lot quantities,
// used by the audit pass.
type VariantRemaining struct {
	VariantID id.ID `db:"variant_id" json:"variantId"`
	Quantity  int64 `db:"quantity" json:"quantity"`
}
