// Package purchase_repo provides the PostgreSQL implementation of the
// purchase order read model.
package purchase_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/purchase"
	"lotledger/internal/infrastructure/storage/postgres"
)

const (
	ordersTable    = "purchase_orders"
	lineItemsTable = "purchase_line_items"
)

// PurchaseRepo implements purchase.Repository.
type PurchaseRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewPurchaseRepo creates a new purchase order repository.
func NewPurchaseRepo(txManager *postgres.TxManager) *PurchaseRepo {
	return &PurchaseRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetByID retrieves an order with its line items.
func (r *PurchaseRepo) GetByID(ctx context.Context, orderID id.ID) (*purchase.PurchaseOrder, error) {
	q := r.builder.Select(
		"id", "freight", "extra_fees", "arrival_tax",
		"origin", "shipping_mode", "lots_posted",
	).From(ordersTable).
		Where(squirrel.Eq{"id": orderID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var order purchase.PurchaseOrder
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &order, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("purchase order", orderID.String())
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.getLineItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (r *PurchaseRepo) getLineItems(ctx context.Context, orderID id.ID) ([]purchase.LineItem, error) {
	q := r.builder.Select(
		"id", "purchase_order_id", "variant_id",
		"quantity", "unit_price", "currency", "fx_rate",
	).From(lineItemsTable).
		Where(squirrel.Eq{"purchase_order_id": orderID}).
		OrderBy("id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []purchase.LineItem
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &items, sql, args...); err != nil {
		return nil, fmt.Errorf("select line items: %w", err)
	}

	return items, nil
}

// SetLotsPosted flips the lots-posted marker.
func (r *PurchaseRepo) SetLotsPosted(ctx context.Context, orderID id.ID, posted bool) error {
	return r.updateOrder(ctx, orderID, map[string]any{"lots_posted": posted})
}

// SetArrivalTax stores a known or corrected arrival tax amount.
func (r *PurchaseRepo) SetArrivalTax(ctx context.Context, orderID id.ID, tax types.Money) error {
	return r.updateOrder(ctx, orderID, map[string]any{"arrival_tax": tax})
}

func (r *PurchaseRepo) updateOrder(ctx context.Context, orderID id.ID, values map[string]any) error {
	q := r.builder.Update(ordersTable).
		SetMap(values).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": orderID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("purchase order", orderID.String())
	}

	return nil
}

// Ensure interface compliance.
var _ purchase.Repository = (*PurchaseRepo)(nil)
