// Package lot_repo provides PostgreSQL implementations for the inventory
// lot store and the consumption trail.
package lot_repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/lots"
	"lotledger/internal/infrastructure/storage/postgres"
)

const lotsTable = "inventory_lots"

var lotColumns = []string{
	"id", "purchase_order_id", "purchase_line_item_id", "variant_id",
	"qty_received", "qty_remaining",
	"unit_cost", "cost_pending",
	"received_at", "created_at", "updated_at",
}

// LotRepo implements lots.Store.
type LotRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewLotRepo creates a new inventory lot repository.
func NewLotRepo(txManager *postgres.TxManager) *LotRepo {
	return &LotRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// LotsExistFor reports whether any lot exists for the purchase order.
func (r *LotRepo) LotsExistFor(ctx context.Context, orderID id.ID) (bool, error) {
	sql := `SELECT EXISTS (SELECT 1 FROM inventory_lots WHERE purchase_order_id = $1)`

	var exists bool
	querier := r.txManager.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, sql, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check lots exist: %w", err)
	}

	return exists, nil
}

// InsertLots inserts the full lot set of an order as one atomic batch.
// The duplicate guard re-runs here even though the service checked first;
// the store is the last line of defense for the one-lot-set invariant.
func (r *LotRepo) InsertLots(ctx context.Context, orderID id.ID, batch []lots.InventoryLot) error {
	if len(batch) == 0 {
		return nil
	}

	for i := range batch {
		if batch[i].PurchaseOrderID != orderID {
			return apperror.NewValidation("lot belongs to a different purchase order").
				WithDetail("lot_id", batch[i].ID.String())
		}
		if err := batch[i].Validate(); err != nil {
			return err
		}
	}

	exists, err := r.LotsExistFor(ctx, orderID)
	if err != nil {
		return err
	}
	if exists {
		return apperror.NewDuplicateLots(orderID.String())
	}

	// Fast path: COPY when inside a transaction.
	if tx := r.txManager.GetTx(ctx); tx != nil {
		inserter := postgres.NewBatchInserter(r.txManager)
		rows := make([][]any, 0, len(batch))
		for _, lot := range batch {
			rows = append(rows, lotValues(lot))
		}
		if _, err := inserter.CopyFromSlice(ctx, lotsTable, lotColumns, rows); err != nil {
			return fmt.Errorf("copy lots: %w", err)
		}
		return nil
	}

	q := r.builder.Insert(lotsTable).Columns(lotColumns...)
	for _, lot := range batch {
		q = q.Values(lotValues(lot)...)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert lots: %w", err)
	}

	return nil
}

func lotValues(lot lots.InventoryLot) []any {
	return []any{
		lot.ID, lot.PurchaseOrderID, lot.LineItemID, lot.VariantID,
		lot.QtyReceived, lot.QtyRemaining,
		lot.UnitCost, lot.CostPending,
		lot.ReceivedAt, lot.CreatedAt, lot.UpdatedAt,
	}
}

// GetByOrder retrieves all lots of a purchase order.
func (r *LotRepo) GetByOrder(ctx context.Context, orderID id.ID) ([]lots.InventoryLot, error) {
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"purchase_order_id": orderID}).
		OrderBy("received_at", "id")

	return r.selectLots(ctx, q)
}

// GetByIDs retrieves lots by id.
func (r *LotRepo) GetByIDs(ctx context.Context, ids []id.ID) ([]lots.InventoryLot, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"id": ids})

	return r.selectLots(ctx, q)
}

// FindAvailable returns lots with remaining stock for a variant in FIFO
// order. UUIDv7 lot ids are time-ordered, so the id tiebreak keeps lots
// received in the same instant in creation order.
func (r *LotRepo) FindAvailable(ctx context.Context, variantID id.ID) ([]lots.InventoryLot, error) {
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Eq{"variant_id": variantID}).
		Where(squirrel.Gt{"qty_remaining": 0}).
		OrderBy("received_at", "id")

	return r.selectLots(ctx, q)
}

// DecrementRemaining reduces a lot's remaining quantity. The WHERE clause
// carries the overconsumption guard so concurrent decrements cannot drive
// qty_remaining negative.
func (r *LotRepo) DecrementRemaining(ctx context.Context, lotID id.ID, qty int64) error {
	if qty <= 0 {
		return apperror.NewValidation("decrement quantity must be positive").
			WithDetail("lot_id", lotID.String())
	}

	sql := `
		UPDATE inventory_lots
		SET qty_remaining = qty_remaining - $2,
			updated_at = now()
		WHERE id = $1 AND qty_remaining >= $2
	`

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, lotID, qty)
	if err != nil {
		return fmt.Errorf("decrement lot: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a missing lot from an insufficient one.
	var remaining int64
	err = querier.QueryRow(ctx, `SELECT qty_remaining FROM inventory_lots WHERE id = $1`, lotID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.NewNotFound("inventory lot", lotID.String())
		}
		return fmt.Errorf("check lot remaining: %w", err)
	}

	return apperror.NewOverconsumption(lotID.String(), qty, remaining)
}

// UpdateUnitCost stores a corrected landed cost for every lot created from
// the given line item and sets its pending flag.
func (r *LotRepo) UpdateUnitCost(ctx context.Context, lineItemID id.ID, newCost types.Money, pending bool) error {
	q := r.builder.Update(lotsTable).
		Set("unit_cost", newCost).
		Set("cost_pending", pending).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"purchase_line_item_id": lineItemID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update unit cost: %w", err)
	}

	return nil
}

// DeleteByOrder removes the order's lot set.
func (r *LotRepo) DeleteByOrder(ctx context.Context, orderID id.ID) error {
	q := r.builder.Delete(lotsTable).
		Where(squirrel.Eq{"purchase_order_id": orderID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete lots: %w", err)
	}

	return nil
}

// SumRemainingByVariant returns remaining quantity summed per variant.
// Variants whose lots are all empty still appear with a zero sum.
func (r *LotRepo) SumRemainingByVariant(ctx context.Context) ([]lots.VariantRemaining, error) {
	sql := `
		SELECT variant_id, COALESCE(SUM(qty_remaining), 0) AS quantity
		FROM inventory_lots
		GROUP BY variant_id
		ORDER BY variant_id
	`

	var sums []lots.VariantRemaining
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &sums, sql); err != nil {
		return nil, fmt.Errorf("sum remaining: %w", err)
	}

	return sums, nil
}

// FindCorrupt returns lots violating 0 <= qty_remaining <= qty_received.
func (r *LotRepo) FindCorrupt(ctx context.Context) ([]lots.InventoryLot, error) {
	q := r.builder.Select(lotColumns...).
		From(lotsTable).
		Where(squirrel.Or{
			squirrel.Lt{"qty_remaining": 0},
			squirrel.Expr("qty_remaining > qty_received"),
		}).
		OrderBy("received_at", "id")

	return r.selectLots(ctx, q)
}

func (r *LotRepo) selectLots(ctx context.Context, q squirrel.SelectBuilder) ([]lots.InventoryLot, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var result []lots.InventoryLot
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &result, sql, args...); err != nil {
		return nil, fmt.Errorf("select lots: %w", err)
	}

	return result, nil
}

// Ensure interface compliance.
var _ lots.Store = (*LotRepo)(nil)
