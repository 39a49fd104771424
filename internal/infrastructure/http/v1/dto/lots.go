package dto

import (
	"time"

	"lotledger/internal/domain/lots"
)

// LotResponse is the API view of an inventory lot.
type LotResponse struct {
	ID              string `json:"id"`
	PurchaseOrderID string `json:"purchaseOrderId"`
	LineItemID      string `json:"purchaseLineItemId"`
	VariantID       string `json:"variantId"`
	QtyReceived     int64  `json:"qtyReceived"`
	QtyRemaining    int64  `json:"qtyRemaining"`
	UnitCost        string `json:"unitCost"`
	CostPending     bool   `json:"costPending"`
	ReceivedAt      string `json:"receivedAt"`
}

// NewLotResponse maps a domain lot to its API view.
func NewLotResponse(lot lots.InventoryLot) LotResponse {
	return LotResponse{
		ID:              lot.ID.String(),
		PurchaseOrderID: lot.PurchaseOrderID.String(),
		LineItemID:      lot.LineItemID.String(),
		VariantID:       lot.VariantID.String(),
		QtyReceived:     lot.QtyReceived,
		QtyRemaining:    lot.QtyRemaining,
		UnitCost:        lot.UnitCost.String(),
		CostPending:     lot.CostPending,
		ReceivedAt:      lot.ReceivedAt.Format(time.RFC3339),
	}
}

// LotListResponse wraps a lot collection.
type LotListResponse struct {
	Lots []LotResponse `json:"lots"`
}

// MovementResponse is the API view of a ledger movement.
type MovementResponse struct {
	LineID          string `json:"lineId"`
	RecorderID      string `json:"recorderId"`
	RecorderType    string `json:"recorderType"`
	RecorderVersion int    `json:"recorderVersion"`
	Period          string `json:"period"`
	RecordType      string `json:"recordType"`
	VariantID       string `json:"variantId"`
	Quantity        int64  `json:"quantity"`
}

// MovementListResponse wraps a movement collection.
type MovementListResponse struct {
	Movements []MovementResponse `json:"movements"`
}

// BalanceResponse is a variant balance derived from the movement ledger.
type BalanceResponse struct {
	VariantID string `json:"variantId"`
	Quantity  int64  `json:"quantity"`
}
