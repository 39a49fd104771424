package dto

// ConsumeLine is one sale position to cost.
type ConsumeLine struct {
	SaleItemID string `json:"saleItemId" binding:"required"`
	VariantID  string `json:"variantId" binding:"required"`
	Quantity   int64  `json:"quantity" binding:"required,gt=0"`
}

// ConsumeRequest costs a whole sale against inventory lots.
type ConsumeRequest struct {
	SaleID string        `json:"saleId" binding:"required"`
	Lines  []ConsumeLine `json:"lines" binding:"required,min=1,dive"`
}

// ConsumptionRecordResponse is one lot draw within a sale line.
type ConsumptionRecordResponse struct {
	ID          string `json:"id"`
	SaleItemID  string `json:"saleItemId"`
	LotID       string `json:"lotId"`
	QtyConsumed int64  `json:"qtyConsumed"`
	UnitCost    string `json:"unitCost"`
}

// ConsumeLineResponse is the costing outcome of one sale line.
type ConsumeLineResponse struct {
	TotalCost    string                      `json:"totalCost"`
	Pending      bool                        `json:"pending"`
	ShortfallQty int64                       `json:"shortfallQty,omitempty"`
	Consumptions []ConsumptionRecordResponse `json:"consumptions,omitempty"`
}

// ConsumeResponse is the costing outcome of a whole sale.
type ConsumeResponse struct {
	TotalCost string                `json:"totalCost"`
	Pending   bool                  `json:"pending"`
	Lines     []ConsumeLineResponse `json:"lines"`
}

// RecostRequest limits a pending-sale rescan to the given variants.
// Empty means rescan all pending sales.
type RecostRequest struct {
	VariantIDs []string `json:"variantIds"`
}

// RecostResponse reports how many sales were cleared.
type RecostResponse struct {
	SalesCleared int `json:"salesCleared"`
}
