// Package purchase provides the purchase order read model consumed by the
// cost ledger. Order editing screens and status workflow live outside this
// subsystem; only the fields that drive allocation and the lots-posted
// marker are owned here.
package purchase

import (
	"context"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// Origin identifies where a purchase order was sourced.
type Origin string

const (
	// OriginDomestic - local supplier, arrival tax never applies
	OriginDomestic Origin = "domestic"
	// OriginForeign - imported goods, arrival tax applies on customs clearance
	OriginForeign Origin = "foreign"
)

// ShippingMode determines when customs invoices the arrival tax.
type ShippingMode string

const (
	// ShippingModeCourier - customs invoiced upfront, tax known at arrival
	ShippingModeCourier ShippingMode = "courier"
	// ShippingModePostal - customs invoicing is deferred; the tax amount
	// typically becomes known weeks after the goods arrive
	ShippingModePostal ShippingMode = "postal"
)

// PurchaseOrder is the read model of an order whose shared costs are
// allocated across received units. ArrivalTax is nil while unknown,
// which is distinct from a known zero.
type PurchaseOrder struct {
	ID id.ID `db:"id" json:"id"`

	// Shared costs in base currency
	Freight    types.Money  `db:"freight" json:"freight"`
	ExtraFees  types.Money  `db:"extra_fees" json:"extraFees"`
	ArrivalTax *types.Money `db:"arrival_tax" json:"arrivalTax,omitempty"`

	// Provenance
	Origin       Origin       `db:"origin" json:"origin"`
	ShippingMode ShippingMode `db:"shipping_mode" json:"shippingMode"`

	// LotsPosted marks that inventory lots were created for this order.
	// Owned by this subsystem.
	LotsPosted bool `db:"lots_posted" json:"lotsPosted"`

	Items []LineItem `db:"-" json:"items"`
}

// LineItem is one purchased position. Items without a resolved variant are
// excluded from lot creation: a lot must be attributable to exactly one
// sellable SKU.
type LineItem struct {
	ID        id.ID `db:"id" json:"id"`
	OrderID   id.ID `db:"purchase_order_id" json:"purchaseOrderId"`
	VariantID id.ID `db:"variant_id" json:"variantId"` // Nil when unresolved

	Quantity  int64          `db:"quantity" json:"quantity"`
	UnitPrice types.Money    `db:"unit_price" json:"unitPrice"`
	Currency  types.Currency `db:"currency" json:"currency"`

	// FXRate converts UnitPrice to base currency for foreign-currency items.
	FXRate types.Money `db:"fx_rate" json:"fxRate"`
}

// HasVariant reports whether the line item is linked to a sellable SKU.
func (li *LineItem) HasVariant() bool {
	return !id.IsNil(li.VariantID)
}

// BaseUnitPrice returns the unit price converted to base currency.
func (li *LineItem) BaseUnitPrice() types.Money {
	if li.Currency.IsBase() {
		return li.UnitPrice
	}
	return li.UnitPrice.Mul(li.FXRate)
}

// TotalPieces returns the total unit count across all line items,
// including items without a resolved variant (they still absorb their
// share of order-level costs).
func (o *PurchaseOrder) TotalPieces() int64 {
	var total int64
	for _, li := range o.Items {
		total += li.Quantity
	}
	return total
}

// ArrivalTaxDeferred reports whether the order is expected to receive its
// arrival tax after the goods arrive: foreign origin shipped through a mode
// that defers customs invoicing.
func (o *PurchaseOrder) ArrivalTaxDeferred() bool {
	return o.Origin == OriginForeign && o.ShippingMode == ShippingModePostal
}

// ArrivalTaxOrZero returns the arrival tax, treating unknown as zero for
// allocation purposes.
func (o *PurchaseOrder) ArrivalTaxOrZero() types.Money {
	if o.ArrivalTax == nil {
		return types.Zero()
	}
	return *o.ArrivalTax
}

// Validate checks order invariants before posting.
func (o *PurchaseOrder) Validate(ctx context.Context) error {
	if id.IsNil(o.ID) {
		return apperror.NewValidation("purchase order id is required")
	}

	if o.Freight.IsNegative() || o.ExtraFees.IsNegative() {
		return apperror.NewValidation("shared costs must not be negative").
			WithDetail("purchase_order_id", o.ID.String())
	}

	if o.ArrivalTax != nil && o.ArrivalTax.IsNegative() {
		return apperror.NewValidation("arrival tax must not be negative").
			WithDetail("purchase_order_id", o.ID.String())
	}

	for i, li := range o.Items {
		if li.Quantity <= 0 {
			return apperror.NewValidation("quantity must be positive").
				WithDetail("field", "items").
				WithDetail("lineNo", i+1)
		}
		if !li.Currency.IsValid() {
			return apperror.NewValidation("unsupported currency").
				WithDetail("field", "items").
				WithDetail("lineNo", i+1).
				WithDetail("currency", string(li.Currency))
		}
		if !li.Currency.IsBase() && !li.FXRate.IsPositive() {
			return apperror.NewValidation("fx rate is required for foreign currency items").
				WithDetail("field", "items").
				WithDetail("lineNo", i+1)
		}
	}

	return nil
}

// Repository defines read and marker operations on purchase orders.
// The order lifecycle itself (editing, status workflow) belongs to the
// calling layer.
type Repository interface {
	// GetByID retrieves an order with its line items
	GetByID(ctx context.Context, orderID id.ID) (*PurchaseOrder, error)

	// SetLotsPosted flips the lots-posted marker
	SetLotsPosted(ctx context.Context, orderID id.ID, posted bool) error

	// SetArrivalTax stores a known or corrected arrival tax amount
	SetArrivalTax(ctx context.Context, orderID id.ID, tax types.Money) error
}
