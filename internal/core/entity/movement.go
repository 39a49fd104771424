// Package entity provides core domain entities shared across the ledger.
package entity

import (
	"time"

	"lotledger/internal/core/id"
)

// RecordType defines movement direction in the movement ledger.
type RecordType string

const (
	// RecordTypeReceipt increases variant balance (inbound goods)
	RecordTypeReceipt RecordType = "receipt"
	// RecordTypeExpense decreases variant balance (sold goods)
	RecordTypeExpense RecordType = "expense"
)

// MovementBase contains common fields for all ledger movements.
// Movements are immutable and append-only; they are never updated,
// only deleted and recreated when a recorder document is re-posted.
type MovementBase struct {
	// LineID is unique identifier for this movement line (UUIDv7)
	LineID id.ID `db:"line_id" json:"lineId"`

	// RecorderID is the document that created this movement
	// (purchase order for receipts, sale item for expenses)
	RecorderID id.ID `db:"recorder_id" json:"recorderId"`

	// RecorderType is the document type (e.g., "PurchaseArrival", "SaleConsumption")
	RecorderType string `db:"recorder_type" json:"recorderType"`

	// RecorderVersion tracks which posting iteration created this movement.
	// Allows efficient cleanup: DELETE WHERE recorder_id = X AND recorder_version < Y
	RecorderVersion int `db:"recorder_version" json:"recorderVersion"`

	// Period is the business date for the movement
	Period time.Time `db:"period" json:"period"`

	// RecordType: receipt or expense
	RecordType RecordType `db:"record_type" json:"recordType"`

	// CreatedAt is when the movement was recorded
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NewMovementBase creates a new movement base with generated LineID.
func NewMovementBase(recorderID id.ID, recorderType string, recorderVersion int, period time.Time, recordType RecordType) MovementBase {
	return MovementBase{
		LineID:          id.New(),
		RecorderID:      recorderID,
		RecorderType:    recorderType,
		RecorderVersion: recorderVersion,
		Period:          period,
		RecordType:      recordType,
		CreatedAt:       time.Now().UTC(),
	}
}

// LedgerMovement represents a movement in the variant movement ledger.
// Quantity is whole pieces; the reseller sells discrete units only.
type LedgerMovement struct {
	MovementBase

	// Dimensions
	VariantID id.ID `db:"variant_id" json:"variantId"`

	// Resources
	Quantity int64 `db:"quantity" json:"quantity"`
}

// NewLedgerMovement creates a new ledger movement.
func NewLedgerMovement(
	recorderID id.ID,
	recorderType string,
	recorderVersion int,
	period time.Time,
	recordType RecordType,
	variantID id.ID,
	quantity int64,
) LedgerMovement {
	return LedgerMovement{
		MovementBase: NewMovementBase(recorderID, recorderType, recorderVersion, period, recordType),
		VariantID:    variantID,
		Quantity:     quantity,
	}
}

// SignedQuantity returns quantity with sign based on record type.
// Receipt = positive, Expense = negative.
func (m *LedgerMovement) SignedQuantity() int64 {
	if m.RecordType == RecordTypeExpense {
		return -m.Quantity
	}
	return m.Quantity
}

// VariantBalance represents a per-variant balance derived purely from the
// movement ledger. The audit pass compares it against the lot ledger.
type VariantBalance struct {
	VariantID id.ID `db:"variant_id" json:"variantId"`
	Quantity  int64 `db:"quantity" json:"quantity"`
}
