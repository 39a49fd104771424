package dto

// PostArrivalResponse reports what arrival posting did.
type PostArrivalResponse struct {
	Skipped     bool     `json:"skipped"`
	CostPending bool     `json:"costPending"`
	LotIDs      []string `json:"lotIds,omitempty"`
}

// ArrivalTaxRequest carries the true arrival tax for an order.
// Amounts travel as decimal strings to avoid float rounding on the wire.
type ArrivalTaxRequest struct {
	ArrivalTax string `json:"arrivalTax" binding:"required"`
}

// ArrivalTaxResponse reports what a tax correction did.
type ArrivalTaxResponse struct {
	Posted       bool `json:"posted"`
	LotsRepriced int  `json:"lotsRepriced"`
	SalesCleared int  `json:"salesCleared"`
}

// ChangeLogEntryResponse is one posting change log row.
type ChangeLogEntryResponse struct {
	ID              string `json:"id"`
	Action          string `json:"action"`
	PurchaseOrderID string `json:"purchaseOrderId"`
	Payload         any    `json:"payload,omitempty"`
	CreatedAt       string `json:"createdAt"`
}
