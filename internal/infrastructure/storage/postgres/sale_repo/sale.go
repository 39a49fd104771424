// Package sale_repo provides the PostgreSQL view of sales needed by the
// cost ledger: the cogs_pending flag and the sale-item links behind it.
package sale_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/consumption"
	"lotledger/internal/infrastructure/storage/postgres"
)

const (
	salesTable     = "sales"
	saleItemsTable = "sale_items"
)

// SaleRepo implements consumption.SaleStore.
type SaleRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewSaleRepo creates a new sale repository.
func NewSaleRepo(txManager *postgres.TxManager) *SaleRepo {
	return &SaleRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// FindCogsPending returns sales flagged cogs_pending together with their
// item ids. With variantIDs set, only sales holding an item of one of
// those variants are returned; a tax correction touches few variants and
// should not rescan the whole backlog.
func (r *SaleRepo) FindCogsPending(ctx context.Context, variantIDs []id.ID) ([]consumption.PendingSale, error) {
	q := r.builder.Select("si.sale_id", "si.id AS sale_item_id").
		From(saleItemsTable + " si").
		Join(salesTable + " s ON s.id = si.sale_id").
		Where(squirrel.Eq{"s.cogs_pending": true})

	if len(variantIDs) > 0 {
		q = q.Where(`si.sale_id IN (
			SELECT DISTINCT sale_id FROM sale_items WHERE variant_id = ANY(?)
		)`, variantIDs)
	}

	q = q.OrderBy("si.sale_id", "si.id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	type row struct {
		SaleID     id.ID `db:"sale_id"`
		SaleItemID id.ID `db:"sale_item_id"`
	}
	var rows []row
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select pending sales: %w", err)
	}

	var result []consumption.PendingSale
	index := make(map[id.ID]int)
	for _, rw := range rows {
		i, ok := index[rw.SaleID]
		if !ok {
			i = len(result)
			index[rw.SaleID] = i
			result = append(result, consumption.PendingSale{SaleID: rw.SaleID})
		}
		result[i].SaleItemIDs = append(result[i].SaleItemIDs, rw.SaleItemID)
	}

	return result, nil
}

// SetCogsPending updates a sale's cogs_pending flag.
func (r *SaleRepo) SetCogsPending(ctx context.Context, saleID id.ID, pending bool) error {
	q := r.builder.Update(salesTable).
		Set("cogs_pending", pending).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": saleID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("sale", saleID.String())
	}

	return nil
}

// Ensure interface compliance.
var _ consumption.SaleStore = (*SaleRepo)(nil)
