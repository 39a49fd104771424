package lot_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/lots"
	"lotledger/internal/infrastructure/storage/postgres"
)

const consumptionsTable = "sale_item_lot_consumptions"

var consumptionColumns = []string{
	"id", "sale_item_id", "inventory_lot_id",
	"qty_consumed", "unit_cost_at_consumption", "created_at",
}

// ConsumptionRepo implements lots.ConsumptionStore.
type ConsumptionRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewConsumptionRepo creates a new consumption trail repository.
func NewConsumptionRepo(txManager *postgres.TxManager) *ConsumptionRepo {
	return &ConsumptionRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Insert persists consumption records.
func (r *ConsumptionRepo) Insert(ctx context.Context, records []lots.Consumption) error {
	if len(records) == 0 {
		return nil
	}

	q := r.builder.Insert(consumptionsTable).Columns(consumptionColumns...)
	for _, c := range records {
		q = q.Values(c.ID, c.SaleItemID, c.LotID, c.QtyConsumed, c.UnitCost, c.CreatedAt)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert consumptions: %w", err)
	}

	return nil
}

// GetBySaleItems retrieves consumption rows for the given sale items.
func (r *ConsumptionRepo) GetBySaleItems(ctx context.Context, saleItemIDs []id.ID) ([]lots.Consumption, error) {
	if len(saleItemIDs) == 0 {
		return nil, nil
	}

	q := r.builder.Select(consumptionColumns...).
		From(consumptionsTable).
		Where(squirrel.Eq{"sale_item_id": saleItemIDs}).
		OrderBy("created_at", "id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var records []lots.Consumption
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &records, sql, args...); err != nil {
		return nil, fmt.Errorf("select consumptions: %w", err)
	}

	return records, nil
}

// Ensure interface compliance.
var _ lots.ConsumptionStore = (*ConsumptionRepo)(nil)
