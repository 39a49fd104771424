package ledger

import (
	"context"
	"fmt"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/entity"
	"lotledger/internal/core/id"
	"lotledger/pkg/logger"
)

// Service provides business operations for the movement ledger.
// Transactions are managed by the caller (arrival and consumption services).
type Service struct {
	repo Repository
}

// NewService creates a new ledger service.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
	}
}

// RecordMovements records ledger movements from a posting operation.
// Called within the posting transaction.
func (s *Service) RecordMovements(ctx context.Context, movements []entity.LedgerMovement) error {
	if len(movements) == 0 {
		return nil
	}

	for i, m := range movements {
		if m.Quantity <= 0 {
			return apperror.NewValidation(fmt.Sprintf("movement %d: quantity must be positive", i))
		}
		if id.IsNil(m.RecorderID) {
			return apperror.NewValidation(fmt.Sprintf("movement %d: recorder_id is required", i))
		}
		if id.IsNil(m.VariantID) {
			return apperror.NewValidation(fmt.Sprintf("movement %d: variant_id is required", i))
		}
	}

	if err := s.repo.CreateMovements(ctx, movements); err != nil {
		return fmt.Errorf("create movements: %w", err)
	}

	logger.Info(ctx, "recorded ledger movements",
		"count", len(movements),
		"recorder_id", movements[0].RecorderID,
	)

	return nil
}

// ReverseMovements removes movements for a recorder (used during undo posting).
func (s *Service) ReverseMovements(ctx context.Context, recorderID id.ID, beforeVersion int) error {
	if err := s.repo.DeleteMovementsByRecorder(ctx, recorderID, beforeVersion); err != nil {
		return fmt.Errorf("delete movements: %w", err)
	}

	logger.Info(ctx, "reversed ledger movements",
		"recorder_id", recorderID,
		"before_version", beforeVersion,
	)

	return nil
}

// GetVariantBalance derives a variant's balance from the movement rows.
func (s *Service) GetVariantBalance(ctx context.Context, variantID id.ID) (int64, error) {
	balance, err := s.repo.GetBalance(ctx, variantID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// GetMovementHistory returns movement history for a variant.
func (s *Service) GetMovementHistory(ctx context.Context, variantID id.ID, filter MovementFilter) ([]entity.LedgerMovement, error) {
	return s.repo.GetMovementHistory(ctx, variantID, filter)
}
