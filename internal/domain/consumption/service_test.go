package consumption

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/entity"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/lots"
)

// --- Fakes ---

type fakeTxManager struct{}

func (fakeTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (fakeTxManager) RunSerializable(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeLotStore struct {
	lots map[id.ID]*lots.InventoryLot
}

func newFakeLotStore(rows ...lots.InventoryLot) *fakeLotStore {
	s := &fakeLotStore{lots: make(map[id.ID]*lots.InventoryLot)}
	for i := range rows {
		lot := rows[i]
		s.lots[lot.ID] = &lot
	}
	return s
}

func (s *fakeLotStore) LotsExistFor(ctx context.Context, orderID id.ID) (bool, error) {
	for _, lot := range s.lots {
		if lot.PurchaseOrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeLotStore) InsertLots(ctx context.Context, orderID id.ID, batch []lots.InventoryLot) error {
	for i := range batch {
		lot := batch[i]
		s.lots[lot.ID] = &lot
	}
	return nil
}

func (s *fakeLotStore) GetByOrder(ctx context.Context, orderID id.ID) ([]lots.InventoryLot, error) {
	var result []lots.InventoryLot
	for _, lot := range s.lots {
		if lot.PurchaseOrderID == orderID {
			result = append(result, *lot)
		}
	}
	sortLots(result)
	return result, nil
}

func (s *fakeLotStore) GetByIDs(ctx context.Context, ids []id.ID) ([]lots.InventoryLot, error) {
	var result []lots.InventoryLot
	for _, lotID := range ids {
		if lot, ok := s.lots[lotID]; ok {
			result = append(result, *lot)
		}
	}
	return result, nil
}

func (s *fakeLotStore) FindAvailable(ctx context.Context, variantID id.ID) ([]lots.InventoryLot, error) {
	var result []lots.InventoryLot
	for _, lot := range s.lots {
		if lot.VariantID == variantID && lot.QtyRemaining > 0 {
			result = append(result, *lot)
		}
	}
	sortLots(result)
	return result, nil
}

func (s *fakeLotStore) DecrementRemaining(ctx context.Context, lotID id.ID, qty int64) error {
	lot, ok := s.lots[lotID]
	if !ok {
		return apperror.NewNotFound("inventory lot", lotID.String())
	}
	if lot.QtyRemaining < qty {
		return apperror.NewOverconsumption(lotID.String(), qty, lot.QtyRemaining)
	}
	lot.QtyRemaining -= qty
	return nil
}

func (s *fakeLotStore) UpdateUnitCost(ctx context.Context, lineItemID id.ID, newCost types.Money, pending bool) error {
	for _, lot := range s.lots {
		if lot.LineItemID == lineItemID {
			lot.UnitCost = newCost
			lot.CostPending = pending
		}
	}
	return nil
}

func (s *fakeLotStore) DeleteByOrder(ctx context.Context, orderID id.ID) error {
	for lotID, lot := range s.lots {
		if lot.PurchaseOrderID == orderID {
			delete(s.lots, lotID)
		}
	}
	return nil
}

func (s *fakeLotStore) SumRemainingByVariant(ctx context.Context) ([]lots.VariantRemaining, error) {
	sums := make(map[id.ID]int64)
	for _, lot := range s.lots {
		sums[lot.VariantID] += lot.QtyRemaining
	}
	var result []lots.VariantRemaining
	for variantID, qty := range sums {
		result = append(result, lots.VariantRemaining{VariantID: variantID, Quantity: qty})
	}
	return result, nil
}

func (s *fakeLotStore) FindCorrupt(ctx context.Context) ([]lots.InventoryLot, error) {
	var result []lots.InventoryLot
	for _, lot := range s.lots {
		if lot.Corrupt() {
			result = append(result, *lot)
		}
	}
	return result, nil
}

func sortLots(rows []lots.InventoryLot) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].ReceivedAt.Equal(rows[j].ReceivedAt) {
			return rows[i].ReceivedAt.Before(rows[j].ReceivedAt)
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
}

type fakeConsumptionStore struct {
	records []lots.Consumption
}

func (s *fakeConsumptionStore) Insert(ctx context.Context, records []lots.Consumption) error {
	s.records = append(s.records, records...)
	return nil
}

func (s *fakeConsumptionStore) GetBySaleItems(ctx context.Context, saleItemIDs []id.ID) ([]lots.Consumption, error) {
	wanted := make(map[id.ID]bool, len(saleItemIDs))
	for _, itemID := range saleItemIDs {
		wanted[itemID] = true
	}
	var result []lots.Consumption
	for _, rec := range s.records {
		if wanted[rec.SaleItemID] {
			result = append(result, rec)
		}
	}
	return result, nil
}

type fakeLedgerRepo struct {
	movements []entity.LedgerMovement
}

func (r *fakeLedgerRepo) CreateMovements(ctx context.Context, movements []entity.LedgerMovement) error {
	r.movements = append(r.movements, movements...)
	return nil
}

func (r *fakeLedgerRepo) DeleteMovementsByRecorder(ctx context.Context, recorderID id.ID, beforeVersion int) error {
	var kept []entity.LedgerMovement
	for _, m := range r.movements {
		if m.RecorderID != recorderID {
			kept = append(kept, m)
		}
	}
	r.movements = kept
	return nil
}

func (r *fakeLedgerRepo) GetMovementsByRecorder(ctx context.Context, recorderID id.ID) ([]entity.LedgerMovement, error) {
	var result []entity.LedgerMovement
	for _, m := range r.movements {
		if m.RecorderID == recorderID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (r *fakeLedgerRepo) BalancesFromMovements(ctx context.Context) ([]entity.VariantBalance, error) {
	sums := make(map[id.ID]int64)
	for _, m := range r.movements {
		sums[m.VariantID] += m.SignedQuantity()
	}
	var result []entity.VariantBalance
	for variantID, qty := range sums {
		result = append(result, entity.VariantBalance{VariantID: variantID, Quantity: qty})
	}
	return result, nil
}

func (r *fakeLedgerRepo) GetBalance(ctx context.Context, variantID id.ID) (int64, error) {
	var balance int64
	for _, m := range r.movements {
		if m.VariantID == variantID {
			balance += m.SignedQuantity()
		}
	}
	return balance, nil
}

func (r *fakeLedgerRepo) GetMovementHistory(ctx context.Context, variantID id.ID, filter ledger.MovementFilter) ([]entity.LedgerMovement, error) {
	var result []entity.LedgerMovement
	for _, m := range r.movements {
		if m.VariantID == variantID {
			result = append(result, m)
		}
	}
	return result, nil
}

type fakeSaleStore struct {
	pending map[id.ID][]id.ID // saleID -> saleItemIDs, present while cogs_pending
	history []id.ID           // SetCogsPending(false) calls
}

func newFakeSaleStore() *fakeSaleStore {
	return &fakeSaleStore{pending: make(map[id.ID][]id.ID)}
}

func (s *fakeSaleStore) FindCogsPending(ctx context.Context, variantIDs []id.ID) ([]PendingSale, error) {
	var result []PendingSale
	for saleID, itemIDs := range s.pending {
		result = append(result, PendingSale{SaleID: saleID, SaleItemIDs: itemIDs})
	}
	return result, nil
}

func (s *fakeSaleStore) SetCogsPending(ctx context.Context, saleID id.ID, pending bool) error {
	if pending {
		if _, ok := s.pending[saleID]; !ok {
			s.pending[saleID] = nil
		}
		return nil
	}
	delete(s.pending, saleID)
	s.history = append(s.history, saleID)
	return nil
}

// staleLotStore serves an outdated availability view, as seen by a
// transaction racing another sale that already decremented the lot.
type staleLotStore struct {
	*fakeLotStore
	staleQty int64
}

func (s *staleLotStore) FindAvailable(ctx context.Context, variantID id.ID) ([]lots.InventoryLot, error) {
	rows, err := s.fakeLotStore.FindAvailable(ctx, variantID)
	for i := range rows {
		rows[i].QtyRemaining = s.staleQty
	}
	return rows, err
}

func newTestService(lotStore lots.Store, sales *fakeSaleStore) (*Service, *fakeConsumptionStore, *fakeLedgerRepo) {
	consumptions := &fakeConsumptionStore{}
	ledgerRepo := &fakeLedgerRepo{}
	svc := NewService(lotStore, consumptions, ledger.NewService(ledgerRepo), sales, fakeTxManager{})
	return svc, consumptions, ledgerRepo
}

// --- Tests ---

func TestConsume_FIFOAcrossLots(t *testing.T) {
	variantID := id.New()
	older := lots.NewLot(id.New(), id.New(), variantID, 5, types.MustMoney("54"), false, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	newer := lots.NewLot(id.New(), id.New(), variantID, 5, types.MustMoney("60"), false, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	store := newFakeLotStore(older, newer)

	svc, consumptions, ledgerRepo := newTestService(store, newFakeSaleStore())

	saleItemID := id.New()
	result, err := svc.Consume(context.Background(), variantID, 7, saleItemID)
	require.NoError(t, err)

	// One record per contributing lot: 5 from the older, 2 from the newer.
	require.Len(t, result.Consumptions, 2)
	assert.Equal(t, older.ID, result.Consumptions[0].LotID)
	assert.Equal(t, int64(5), result.Consumptions[0].QtyConsumed)
	assert.Equal(t, newer.ID, result.Consumptions[1].LotID)
	assert.Equal(t, int64(2), result.Consumptions[1].QtyConsumed)

	// 5*54 + 2*60 = 390
	assert.True(t, result.TotalCost.Equal(types.MustMoney("390")), "got %s", result.TotalCost)
	assert.False(t, result.Pending)
	assert.Zero(t, result.ShortfallQty)

	assert.Equal(t, int64(0), store.lots[older.ID].QtyRemaining)
	assert.Equal(t, int64(3), store.lots[newer.ID].QtyRemaining)
	assert.Len(t, consumptions.records, 2)

	// One expense movement for the consumed quantity.
	require.Len(t, ledgerRepo.movements, 1)
	assert.Equal(t, entity.RecordTypeExpense, ledgerRepo.movements[0].RecordType)
	assert.Equal(t, int64(7), ledgerRepo.movements[0].Quantity)
	assert.Equal(t, saleItemID, ledgerRepo.movements[0].RecorderID)
}

func TestConsume_ShortfallIsPendingNotError(t *testing.T) {
	variantID := id.New()
	lot := lots.NewLot(id.New(), id.New(), variantID, 3, types.MustMoney("54"), false, time.Now().UTC())
	store := newFakeLotStore(lot)

	svc, _, ledgerRepo := newTestService(store, newFakeSaleStore())

	result, err := svc.Consume(context.Background(), variantID, 10, id.New())
	require.NoError(t, err)

	assert.True(t, result.Pending)
	assert.Equal(t, int64(7), result.ShortfallQty)
	assert.True(t, result.TotalCost.Equal(types.MustMoney("162")), "unmet portion costs zero")

	// Only the satisfied quantity hits the ledger.
	require.Len(t, ledgerRepo.movements, 1)
	assert.Equal(t, int64(3), ledgerRepo.movements[0].Quantity)
}

func TestConsume_NoLotsAtAll(t *testing.T) {
	svc, consumptions, ledgerRepo := newTestService(newFakeLotStore(), newFakeSaleStore())

	result, err := svc.Consume(context.Background(), id.New(), 4, id.New())
	require.NoError(t, err)

	assert.True(t, result.Pending)
	assert.Equal(t, int64(4), result.ShortfallQty)
	assert.True(t, result.TotalCost.IsZero())
	assert.Empty(t, consumptions.records)
	assert.Empty(t, ledgerRepo.movements)
}

func TestConsume_PendingLotPropagates(t *testing.T) {
	variantID := id.New()
	lot := lots.NewLot(id.New(), id.New(), variantID, 5, types.MustMoney("54"), true, time.Now().UTC())
	store := newFakeLotStore(lot)

	svc, _, _ := newTestService(store, newFakeSaleStore())

	result, err := svc.Consume(context.Background(), variantID, 2, id.New())
	require.NoError(t, err)

	assert.True(t, result.Pending, "provisional lot cost marks the sale pending")
	assert.Zero(t, result.ShortfallQty)
}

func TestConsume_ConcurrentDecrementAbortsSale(t *testing.T) {
	variantID := id.New()
	lot := lots.NewLot(id.New(), id.New(), variantID, 5, types.MustMoney("54"), false, time.Now().UTC())
	lot.QtyRemaining = 1 // another sale drew 4 units after our snapshot
	store := &staleLotStore{fakeLotStore: newFakeLotStore(lot), staleQty: 5}

	svc, consumptions, ledgerRepo := newTestService(store, newFakeSaleStore())

	_, err := svc.Consume(context.Background(), variantID, 3, id.New())
	require.Error(t, err)
	assert.True(t, apperror.IsOverconsumption(err), "got %v", err)

	// The store-level guard fired before anything was written.
	assert.Empty(t, consumptions.records)
	assert.Empty(t, ledgerRepo.movements)
}

func TestConsume_RejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(newFakeLotStore(), newFakeSaleStore())

	_, err := svc.Consume(context.Background(), id.New(), 0, id.New())
	assert.Error(t, err)

	_, err = svc.Consume(context.Background(), id.Nil(), 1, id.New())
	assert.Error(t, err)
}

func TestConsumeSale_FlagsSalePending(t *testing.T) {
	variantID := id.New()
	lot := lots.NewLot(id.New(), id.New(), variantID, 2, types.MustMoney("54"), false, time.Now().UTC())
	store := newFakeLotStore(lot)
	sales := newFakeSaleStore()

	svc, _, _ := newTestService(store, sales)

	saleID := id.New()
	result, err := svc.ConsumeSale(context.Background(), saleID, []SaleLine{
		{SaleItemID: id.New(), VariantID: variantID, Quantity: 5},
	})
	require.NoError(t, err)

	assert.True(t, result.Pending)
	_, flagged := sales.pending[saleID]
	assert.True(t, flagged, "sale must be flagged cogs_pending")
}

func TestConsumeSale_MultipleLinesAggregate(t *testing.T) {
	variantA := id.New()
	variantB := id.New()
	store := newFakeLotStore(
		lots.NewLot(id.New(), id.New(), variantA, 5, types.MustMoney("10"), false, time.Now().UTC()),
		lots.NewLot(id.New(), id.New(), variantB, 5, types.MustMoney("20"), false, time.Now().UTC()),
	)
	sales := newFakeSaleStore()

	svc, _, _ := newTestService(store, sales)

	saleID := id.New()
	result, err := svc.ConsumeSale(context.Background(), saleID, []SaleLine{
		{SaleItemID: id.New(), VariantID: variantA, Quantity: 2},
		{SaleItemID: id.New(), VariantID: variantB, Quantity: 1},
	})
	require.NoError(t, err)

	require.Len(t, result.Lines, 2)
	assert.True(t, result.TotalCost.Equal(types.MustMoney("40")))
	assert.False(t, result.Pending)
	_, flagged := sales.pending[saleID]
	assert.False(t, flagged)
}

func TestRescanPendingSales_ClearsOnlyFullyPriced(t *testing.T) {
	variantID := id.New()
	pricedLot := lots.NewLot(id.New(), id.New(), variantID, 5, types.MustMoney("60"), false, time.Now().UTC())
	pendingLot := lots.NewLot(id.New(), id.New(), variantID, 5, types.MustMoney("54"), true, time.Now().UTC())
	store := newFakeLotStore(pricedLot, pendingLot)
	sales := newFakeSaleStore()

	svc, consumptions, _ := newTestService(store, sales)

	// Sale A consumed from the priced lot, sale B from the still-pending one.
	itemA, itemB := id.New(), id.New()
	consumptions.records = []lots.Consumption{
		lots.NewConsumption(itemA, pricedLot.ID, 2, pricedLot.UnitCost),
		lots.NewConsumption(itemB, pendingLot.ID, 2, pendingLot.UnitCost),
	}
	saleA, saleB := id.New(), id.New()
	sales.pending[saleA] = []id.ID{itemA}
	sales.pending[saleB] = []id.ID{itemB}

	cleared, err := svc.RescanPendingSales(context.Background(), []id.ID{variantID})
	require.NoError(t, err)

	assert.Equal(t, 1, cleared)
	_, stillPendingA := sales.pending[saleA]
	_, stillPendingB := sales.pending[saleB]
	assert.False(t, stillPendingA)
	assert.True(t, stillPendingB)
}

func TestRescanPendingSales_ShortfallSaleStaysPending(t *testing.T) {
	sales := newFakeSaleStore()
	saleID := id.New()
	sales.pending[saleID] = []id.ID{id.New()} // no consumption records exist

	svc, _, _ := newTestService(newFakeLotStore(), sales)

	cleared, err := svc.RescanPendingSales(context.Background(), nil)
	require.NoError(t, err)

	assert.Zero(t, cleared)
	_, stillPending := sales.pending[saleID]
	assert.True(t, stillPending)
}
