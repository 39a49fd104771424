// Package allocation computes landed unit costs for purchase order items.
// The allocator is a pure function over the order's shared costs and line
// quantities; it performs no I/O and no rounding until final money output.
package allocation

import (
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/purchase"
)

// ItemCost carries the landed unit cost computed for one line item.
type ItemCost struct {
	LineItemID id.ID
	VariantID  id.ID
	Quantity   int64

	// LandedUnitCost = converted unit price + per-piece surcharge
	LandedUnitCost types.Money
}

// Result is the order-wide allocation outcome.
type Result struct {
	Items []ItemCost

	// PerPieceSurcharge = (freight + extra fees + arrival tax or zero) / total pieces
	PerPieceSurcharge types.Money

	TotalPieces int64

	// CostPending is true when the order expects an arrival tax that is not
	// yet known. The unknown tax is treated as zero for allocation, and every
	// lot created from this result carries the pending flag.
	CostPending bool
}

// Allocate spreads the order's shared costs evenly across all received
// pieces and returns one landed unit cost per line item.
//
// A zero-piece order is a degenerate allocation: the result is empty, not
// pending, and not an error. This also guards the division below.
func Allocate(order *purchase.PurchaseOrder) Result {
	totalPieces := order.TotalPieces()
	if totalPieces == 0 {
		return Result{PerPieceSurcharge: types.Zero()}
	}

	shared := order.Freight.
		Add(order.ExtraFees).
		Add(order.ArrivalTaxOrZero())

	perPiece := shared.Div(types.NewMoneyFromInt(totalPieces))

	items := make([]ItemCost, 0, len(order.Items))
	for _, li := range order.Items {
		items = append(items, ItemCost{
			LineItemID:     li.ID,
			VariantID:      li.VariantID,
			Quantity:       li.Quantity,
			LandedUnitCost: li.BaseUnitPrice().Add(perPiece),
		})
	}

	return Result{
		Items:             items,
		PerPieceSurcharge: perPiece,
		TotalPieces:       totalPieces,
		CostPending:       order.ArrivalTax == nil && order.ArrivalTaxDeferred(),
	}
}

// AllocateWithTax recomputes the allocation as if the order's arrival tax
// were the given amount. Used by tax recalculation to reprice existing lots;
// the result is never pending because the tax is, by definition, known.
func AllocateWithTax(order *purchase.PurchaseOrder, tax types.Money) Result {
	corrected := *order
	corrected.ArrivalTax = &tax
	return Allocate(&corrected)
}
