// Package ledger provides the append-only variant movement ledger.
package ledger

import (
	"context"
	"time"

	"lotledger/internal/core/entity"
	"lotledger/internal/core/id"
)

// Repository defines operations for the movement ledger.
type Repository interface {
	// CreateMovements batch inserts movements (used during posting)
	CreateMovements(ctx context.Context, movements []entity.LedgerMovement) error

	// DeleteMovementsByRecorder removes all movements for a recorder version.
	// Used during undo posting or re-posting.
	DeleteMovementsByRecorder(ctx context.Context, recorderID id.ID, beforeVersion int) error

	// GetMovementsByRecorder retrieves all movements for a document
	GetMovementsByRecorder(ctx context.Context, recorderID id.ID) ([]entity.LedgerMovement, error)

	// BalancesFromMovements derives per-variant balances purely from the
	// movement rows (+receipt, -expense). The audit pass uses this as the
	// independent second source of truth.
	BalancesFromMovements(ctx context.Context) ([]entity.VariantBalance, error)

	// GetBalance derives the balance of a single variant from movements.
	GetBalance(ctx context.Context, variantID id.ID) (int64, error)

	// GetMovementHistory returns movement history for a variant
	GetMovementHistory(ctx context.Context, variantID id.ID, filter MovementFilter) ([]entity.LedgerMovement, error)
}

// MovementFilter for filtering movement history.
type MovementFilter struct {
	RecordType *entity.RecordType
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
	Offset     int
}
