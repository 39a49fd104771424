// Package arrival orchestrates lot creation when purchased goods arrive,
// the inverse unposting, and retroactive arrival tax corrections.
package arrival

import (
	"context"
	"fmt"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/entity"
	"lotledger/internal/core/id"
	"lotledger/internal/core/tx"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/allocation"
	"lotledger/internal/domain/consumption"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/lots"
	"lotledger/internal/domain/purchase"
	"lotledger/pkg/logger"
)

// RecorderTypeArrival identifies receipt movements written by arrival posting.
const RecorderTypeArrival = "PurchaseArrival"

// Change log action names.
const (
	ActionPostArrival   = "post_arrival"
	ActionUndoPosting   = "undo_posting"
	ActionTaxCorrection = "tax_correction"
)

// ChangeLogger records before/after snapshots of posting operations.
// Implementations must tolerate being called inside the posting transaction.
type ChangeLogger interface {
	Log(ctx context.Context, action string, orderID id.ID, payload any) error
}

// Service owns the arrival posting lifecycle of purchase orders.
type Service struct {
	orders      purchase.Repository
	lots        lots.Store
	ledger      *ledger.Service
	consumption *consumption.Service
	changes     ChangeLogger
	txManager   tx.Manager
}

// NewService creates a new arrival service. changes may be nil, in which
// case no change log is written.
func NewService(
	orders purchase.Repository,
	lotStore lots.Store,
	ledgerService *ledger.Service,
	consumptionService *consumption.Service,
	changes ChangeLogger,
	txManager tx.Manager,
) *Service {
	return &Service{
		orders:      orders,
		lots:        lotStore,
		ledger:      ledgerService,
		consumption: consumptionService,
		changes:     changes,
		txManager:   txManager,
	}
}

// PostResult reports what arrival posting did.
type PostResult struct {
	// Skipped is true when lots already existed and posting was a no-op.
	Skipped bool

	// Pending is true when the created lots carry a provisional cost.
	Pending bool

	LotIDs []id.ID
}

// PostArrival creates the inventory lot set for an arrived purchase order.
//
// Posting is idempotent: if any lot already exists for the order the call
// succeeds without touching anything. The serializable transaction closes
// the gap between the existence check and the insert, and the store's own
// duplicate guard backs it up; a duplicate surfacing there is also treated
// as an already-posted order.
func (s *Service) PostArrival(ctx context.Context, orderID id.ID) (PostResult, error) {
	if id.IsNil(orderID) {
		return PostResult{}, apperror.NewValidation("purchase order id is required")
	}

	var result PostResult
	err := s.txManager.RunSerializable(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.postInTx(ctx, orderID)
		return err
	})
	if err != nil {
		if apperror.IsDuplicateLots(err) {
			logger.Info(ctx, "arrival already posted", "purchase_order_id", orderID)
			return PostResult{Skipped: true}, nil
		}
		return PostResult{}, err
	}

	if result.Skipped {
		logger.Info(ctx, "arrival already posted", "purchase_order_id", orderID)
	} else {
		logger.Info(ctx, "posted arrival",
			"purchase_order_id", orderID,
			"lots", len(result.LotIDs),
			"cost_pending", result.Pending,
		)
	}

	return result, nil
}

func (s *Service) postInTx(ctx context.Context, orderID id.ID) (PostResult, error) {
	exists, err := s.lots.LotsExistFor(ctx, orderID)
	if err != nil {
		return PostResult{}, fmt.Errorf("check existing lots: %w", err)
	}
	if exists {
		return PostResult{Skipped: true}, nil
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return PostResult{}, err
	}
	if err := order.Validate(ctx); err != nil {
		return PostResult{}, err
	}

	alloc := allocation.Allocate(order)
	if alloc.TotalPieces == 0 {
		// Nothing arrived; an empty order posts to an empty lot set.
		return PostResult{}, nil
	}

	receivedAt := time.Now().UTC()
	batch := make([]lots.InventoryLot, 0, len(alloc.Items))
	movements := make([]entity.LedgerMovement, 0, len(alloc.Items))
	for _, item := range alloc.Items {
		if id.IsNil(item.VariantID) {
			// Unresolved line items absorb shared costs but produce no lot.
			continue
		}
		lot := lots.NewLot(
			orderID,
			item.LineItemID,
			item.VariantID,
			item.Quantity,
			item.LandedUnitCost,
			alloc.CostPending,
			receivedAt,
		)
		batch = append(batch, lot)
		movements = append(movements, entity.NewLedgerMovement(
			orderID,
			RecorderTypeArrival,
			1,
			receivedAt,
			entity.RecordTypeReceipt,
			item.VariantID,
			item.Quantity,
		))
	}

	result := PostResult{Pending: alloc.CostPending}

	if len(batch) > 0 {
		if err := s.lots.InsertLots(ctx, orderID, batch); err != nil {
			return PostResult{}, err
		}
		if err := s.ledger.RecordMovements(ctx, movements); err != nil {
			return PostResult{}, err
		}
		for _, lot := range batch {
			result.LotIDs = append(result.LotIDs, lot.ID)
		}
	}

	if err := s.orders.SetLotsPosted(ctx, orderID, true); err != nil {
		return PostResult{}, fmt.Errorf("mark lots posted: %w", err)
	}

	if err := s.logChange(ctx, ActionPostArrival, orderID, postArrivalLog{
		PerPieceSurcharge: alloc.PerPieceSurcharge,
		TotalPieces:       alloc.TotalPieces,
		CostPending:       alloc.CostPending,
		Lots:              batch,
	}); err != nil {
		return PostResult{}, err
	}

	return result, nil
}

// UndoPosting removes an order's lot set and its receipt movements.
//
// Permitted only while every lot is untouched; once any sale has drawn
// from the order's stock the posting is part of realized COGS history and
// cannot be reversed.
func (s *Service) UndoPosting(ctx context.Context, orderID id.ID) error {
	if id.IsNil(orderID) {
		return apperror.NewValidation("purchase order id is required")
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		orderLots, err := s.lots.GetByOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get lots: %w", err)
		}
		if len(orderLots) == 0 {
			// Never posted, or an empty order; unposting is a no-op.
			return s.orders.SetLotsPosted(ctx, orderID, false)
		}

		for _, lot := range orderLots {
			if !lot.Untouched() {
				return apperror.NewLotsConsumed(orderID.String()).
					WithDetail("lot_id", lot.ID.String())
			}
		}

		if err := s.lots.DeleteByOrder(ctx, orderID); err != nil {
			return fmt.Errorf("delete lots: %w", err)
		}
		if err := s.ledger.ReverseMovements(ctx, orderID, 0); err != nil {
			return err
		}
		if err := s.orders.SetLotsPosted(ctx, orderID, false); err != nil {
			return fmt.Errorf("clear lots posted: %w", err)
		}

		return s.logChange(ctx, ActionUndoPosting, orderID, undoPostingLog{
			DeletedLots: orderLots,
		})
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "undid arrival posting", "purchase_order_id", orderID)
	return nil
}

// TaxResult reports what a tax correction did.
type TaxResult struct {
	// Posted is true when the correction arrived before any posting and
	// triggered initial lot creation instead of a recost.
	Posted bool

	// LotsRepriced is the number of lots whose unit cost was corrected.
	LotsRepriced int

	// SalesCleared is the number of sales whose cogs_pending flag was
	// cleared after the correction.
	SalesCleared int
}

// ApplyArrivalTax records the true arrival tax for an order and recomputes
// the landed cost of its lots.
//
// Already-consumed quantities keep their frozen consumption cost; only the
// lots' unit cost changes, so the correction applies prospectively. After
// repricing, sales waiting on this cost are rescanned and cleared when no
// pending lot remains behind them.
func (s *Service) ApplyArrivalTax(ctx context.Context, orderID id.ID, tax types.Money) (TaxResult, error) {
	if id.IsNil(orderID) {
		return TaxResult{}, apperror.NewValidation("purchase order id is required")
	}
	if tax.IsNegative() {
		return TaxResult{}, apperror.NewValidation("arrival tax must not be negative")
	}

	var result TaxResult
	var variants []id.ID
	err := s.txManager.RunSerializable(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		applied := order.ArrivalTax != nil && order.ArrivalTax.Equal(tax)
		if !applied {
			if err := s.orders.SetArrivalTax(ctx, orderID, tax); err != nil {
				return fmt.Errorf("set arrival tax: %w", err)
			}
		}

		orderLots, err := s.lots.GetByOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("get lots: %w", err)
		}

		if len(orderLots) == 0 {
			// Tax became known before posting; post now with the final cost.
			post, err := s.postInTx(ctx, orderID)
			if err != nil {
				return err
			}
			result = TaxResult{Posted: !post.Skipped}
			return nil
		}

		if applied {
			// Same tax as already on record; the lots carry the right cost
			// and a repeated correction entry would only add noise.
			return nil
		}

		alloc := allocation.AllocateWithTax(order, tax)
		costByLine := make(map[id.ID]types.Money, len(alloc.Items))
		for _, item := range alloc.Items {
			costByLine[item.LineItemID] = item.LandedUnitCost
		}

		corrections := make([]taxCorrectionEntry, 0, len(orderLots))
		seenLines := make(map[id.ID]struct{}, len(orderLots))
		for _, lot := range orderLots {
			newCost, ok := costByLine[lot.LineItemID]
			if !ok {
				return apperror.NewInternal(
					fmt.Errorf("lot %s references line item %s absent from order %s", lot.ID, lot.LineItemID, orderID),
				)
			}
			corrections = append(corrections, taxCorrectionEntry{
				LotID:   lot.ID,
				OldCost: lot.UnitCost,
				NewCost: newCost,
			})
			if _, done := seenLines[lot.LineItemID]; done {
				continue
			}
			seenLines[lot.LineItemID] = struct{}{}
			if err := s.lots.UpdateUnitCost(ctx, lot.LineItemID, newCost, false); err != nil {
				return err
			}
			variants = append(variants, lot.VariantID)
		}

		result = TaxResult{LotsRepriced: len(corrections)}

		return s.logChange(ctx, ActionTaxCorrection, orderID, taxCorrectionLog{
			ArrivalTax:  tax,
			Corrections: corrections,
		})
	})
	if err != nil {
		return TaxResult{}, err
	}

	if result.LotsRepriced > 0 {
		cleared, err := s.consumption.RescanPendingSales(ctx, variants)
		if err != nil {
			return TaxResult{}, err
		}
		result.SalesCleared = cleared
	}

	logger.Info(ctx, "applied arrival tax",
		"purchase_order_id", orderID,
		"arrival_tax", tax,
		"lots_repriced", result.LotsRepriced,
		"sales_cleared", result.SalesCleared,
	)

	return result, nil
}

func (s *Service) logChange(ctx context.Context, action string, orderID id.ID, payload any) error {
	if s.changes == nil {
		return nil
	}
	if err := s.changes.Log(ctx, action, orderID, payload); err != nil {
		return fmt.Errorf("write change log: %w", err)
	}
	return nil
}

type postArrivalLog struct {
	PerPieceSurcharge types.Money         `json:"perPieceSurcharge"`
	TotalPieces       int64               `json:"totalPieces"`
	CostPending       bool                `json:"costPending"`
	Lots              []lots.InventoryLot `json:"lots"`
}

type undoPostingLog struct {
	DeletedLots []lots.InventoryLot `json:"deletedLots"`
}

type taxCorrectionEntry struct {
	LotID   id.ID       `json:"lotId"`
	OldCost types.Money `json:"oldCost"`
	NewCost types.Money `json:"newCost"`
}

type taxCorrectionLog struct {
	ArrivalTax  types.Money          `json:"arrivalTax"`
	Corrections []taxCorrectionEntry `json:"corrections"`
}
