// Package consumption draws cost of goods sold from inventory lots in FIFO
// order and keeps the sale-level cogs_pending flag in sync.
package consumption

import (
	"context"
	"fmt"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/entity"
	"lotledger/internal/core/id"
	"lotledger/internal/core/tx"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/lots"
	"lotledger/pkg/logger"
)

// RecorderTypeSale identifies expense movements written by consumption.
const RecorderTypeSale = "SaleConsumption"

// SaleStore is the narrow view of the sales subsystem this service needs:
// the cogs_pending flag and the sale-item links behind it.
type SaleStore interface {
	// FindCogsPending returns sales flagged cogs_pending. When variantIDs is
	// non-empty, only sales touching those variants are returned.
	FindCogsPending(ctx context.Context, variantIDs []id.ID) ([]PendingSale, error)

	// SetCogsPending updates a sale's cogs_pending flag.
	SetCogsPending(ctx context.Context, saleID id.ID, pending bool) error
}

// PendingSale links a cogs-pending sale to its item ids.
type PendingSale struct {
	SaleID      id.ID
	SaleItemIDs []id.ID
}

// Result is the outcome of consuming lots for one sale item.
type Result struct {
	// TotalCost reflects only the lots actually found; the unmet portion
	// contributes zero.
	TotalCost types.Money

	// Pending is true when any consumed lot is cost_pending, or when lots
	// ran out before the requested quantity was satisfied.
	Pending bool

	// ShortfallQty is the requested quantity that no lot could cover.
	ShortfallQty int64

	Consumptions []lots.Consumption
}

// SaleLine is one sale position to cost.
type SaleLine struct {
	SaleItemID id.ID
	VariantID  id.ID
	Quantity   int64
}

// SaleResult aggregates per-line results for a whole sale.
type SaleResult struct {
	TotalCost types.Money
	Pending   bool
	Lines     []Result
}

// Service implements FIFO consumption and sale recost.
type Service struct {
	lots         lots.Store
	consumptions lots.ConsumptionStore
	ledger       *ledger.Service
	sales        SaleStore
	txManager    tx.Manager
}

// NewService creates a new consumption service.
func NewService(
	lotStore lots.Store,
	consumptionStore lots.ConsumptionStore,
	ledgerService *ledger.Service,
	saleStore SaleStore,
	txManager tx.Manager,
) *Service {
	return &Service{
		lots:         lotStore,
		consumptions: consumptionStore,
		ledger:       ledgerService,
		sales:        saleStore,
		txManager:    txManager,
	}
}

// Consume satisfies a sale item from the variant's lots, oldest first.
//
// Each contributing lot produces a distinct consumption record with the
// lot's unit cost frozen at this moment; records are never merged, so
// COGS stays attributable per purchase order even if lot costs are later
// corrected. Running out of lots is not an error: the shortfall is
// reported as pending with zero cost and the caller must flag the sale.
func (s *Service) Consume(ctx context.Context, variantID id.ID, qty int64, saleItemID id.ID) (Result, error) {
	if qty <= 0 {
		return Result{}, apperror.NewValidation("quantity must be positive")
	}
	if id.IsNil(variantID) || id.IsNil(saleItemID) {
		return Result{}, apperror.NewValidation("variant and sale item are required")
	}

	var result Result
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.consumeInTx(ctx, variantID, qty, saleItemID)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	logger.Info(ctx, "consumed lots for sale item",
		"sale_item_id", saleItemID,
		"variant_id", variantID,
		"qty", qty,
		"shortfall", result.ShortfallQty,
		"pending", result.Pending,
	)

	return result, nil
}

func (s *Service) consumeInTx(ctx context.Context, variantID id.ID, qty int64, saleItemID id.ID) (Result, error) {
	result := Result{TotalCost: types.Zero()}

	available, err := s.lots.FindAvailable(ctx, variantID)
	if err != nil {
		return result, fmt.Errorf("find available lots: %w", err)
	}

	need := qty
	for _, lot := range available {
		if need == 0 {
			break
		}

		take := need
		if lot.QtyRemaining < take {
			take = lot.QtyRemaining
		}

		// The store re-checks remaining quantity inside the same
		// transaction; Overconsumption here aborts the whole sale.
		if err := s.lots.DecrementRemaining(ctx, lot.ID, take); err != nil {
			return result, err
		}

		record := lots.NewConsumption(saleItemID, lot.ID, take, lot.UnitCost)
		result.Consumptions = append(result.Consumptions, record)
		result.TotalCost = result.TotalCost.Add(record.TotalCost())
		if lot.CostPending {
			result.Pending = true
		}

		need -= take
	}

	if need > 0 {
		result.Pending = true
		result.ShortfallQty = need
	}

	if len(result.Consumptions) == 0 {
		return result, nil
	}

	if err := s.consumptions.Insert(ctx, result.Consumptions); err != nil {
		return result, fmt.Errorf("insert consumptions: %w", err)
	}

	consumed := qty - need
	movement := entity.NewLedgerMovement(
		saleItemID,
		RecorderTypeSale,
		1,
		time.Now().UTC(),
		entity.RecordTypeExpense,
		variantID,
		consumed,
	)
	if err := s.ledger.RecordMovements(ctx, []entity.LedgerMovement{movement}); err != nil {
		return result, err
	}

	return result, nil
}

// ConsumeSale costs every line of a sale in one transaction and flags the
// sale cogs_pending when any line could not be fully costed.
func (s *Service) ConsumeSale(ctx context.Context, saleID id.ID, lines []SaleLine) (SaleResult, error) {
	if id.IsNil(saleID) {
		return SaleResult{}, apperror.NewValidation("sale id is required")
	}
	if len(lines) == 0 {
		return SaleResult{}, apperror.NewValidation("at least one sale line is required")
	}

	saleResult := SaleResult{TotalCost: types.Zero()}
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, line := range lines {
			if line.Quantity <= 0 {
				return apperror.NewValidation("quantity must be positive").
					WithDetail("sale_item_id", line.SaleItemID.String())
			}

			res, err := s.consumeInTx(ctx, line.VariantID, line.Quantity, line.SaleItemID)
			if err != nil {
				return err
			}

			saleResult.Lines = append(saleResult.Lines, res)
			saleResult.TotalCost = saleResult.TotalCost.Add(res.TotalCost)
			if res.Pending {
				saleResult.Pending = true
			}
		}

		if saleResult.Pending {
			if err := s.sales.SetCogsPending(ctx, saleID, true); err != nil {
				return fmt.Errorf("flag sale cogs_pending: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}

	return saleResult, nil
}

// RescanPendingSales clears cogs_pending on sales whose consumed lots are
// all fully priced. It never re-runs FIFO consumption: lots already
// decremented are not re-selected, only the flag is updated. Sales with no
// consumption records at all (pure shortfall) stay pending until lots exist
// and the caller re-derives COGS.
func (s *Service) RescanPendingSales(ctx context.Context, variantIDs []id.ID) (int, error) {
	cleared := 0

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		pending, err := s.sales.FindCogsPending(ctx, variantIDs)
		if err != nil {
			return fmt.Errorf("find pending sales: %w", err)
		}

		for _, sale := range pending {
			records, err := s.consumptions.GetBySaleItems(ctx, sale.SaleItemIDs)
			if err != nil {
				return fmt.Errorf("get consumptions for sale %s: %w", sale.SaleID, err)
			}
			if len(records) == 0 {
				continue
			}

			lotIDs := uniqueLotIDs(records)
			lotRows, err := s.lots.GetByIDs(ctx, lotIDs)
			if err != nil {
				return fmt.Errorf("get lots for sale %s: %w", sale.SaleID, err)
			}

			stillPending := false
			for _, lot := range lotRows {
				if lot.CostPending {
					stillPending = true
					break
				}
			}
			if stillPending {
				continue
			}

			if err := s.sales.SetCogsPending(ctx, sale.SaleID, false); err != nil {
				return fmt.Errorf("clear cogs_pending for sale %s: %w", sale.SaleID, err)
			}
			cleared++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	if cleared > 0 {
		logger.Info(ctx, "cleared cogs_pending sales", "count", cleared)
	}

	return cleared, nil
}

func uniqueLotIDs(records []lots.Consumption) []id.ID {
	seen := make(map[id.ID]struct{}, len(records))
	ids := make([]id.ID, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.LotID]; ok {
			continue
		}
		seen[r.LotID] = struct{}{}
		ids = append(ids, r.LotID)
	}
	return ids
}
