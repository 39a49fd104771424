package arrival

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
	"lotledger/internal/domain/consumption"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/lots"
	"lotledger/internal/domain/purchase"
)

// --- Fakes ---

type fakeTxManager struct{}

func (fakeTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (fakeTxManager) RunSerializable(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeOrderRepo struct {
	orders map[id.ID]*purchase.PurchaseOrder
}

func newFakeOrderRepo(orders ...*purchase.PurchaseOrder) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[id.ID]*purchase.PurchaseOrder)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *fakeOrderRepo) GetByID(ctx context.Context, orderID id.ID) (*purchase.PurchaseOrder, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return nil, apperror.NewNotFound("purchase order", orderID.String())
	}
	copied := *order
	copied.Items = append([]purchase.LineItem(nil), order.Items...)
	return &copied, nil
}

func (r *fakeOrderRepo) SetLotsPosted(ctx context.Context, orderID id.ID, posted bool) error {
	order, ok := r.orders[orderID]
	if !ok {
		return apperror.NewNotFound("purchase order", orderID.String())
	}
	order.LotsPosted = posted
	return nil
}

func (r *fakeOrderRepo) SetArrivalTax(ctx context.Context, orderID id.ID, tax types.Money) error {
	order, ok := r.orders[orderID]
	if !ok {
		return apperror.NewNotFound("purchase order", orderID.String())
	}
	order.ArrivalTax = &tax
	return nil
}

type fakeLotStore struct {
	lots map[id.ID]*lots.InventoryLot
}

func newFakeLotStore() *fakeLotStore {
	return &fakeLotStore{lots: make(map[id.ID]*lots.InventoryLot)}
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
	exists, _ := s.LotsExistFor(ctx, orderID)
	if exists {
		return apperror.NewDuplicateLots(orderID.String())
	}
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return err
		}
	}
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

type fakeSaleStore struct {
	pending map[id.ID][]id.ID
}

func newFakeSaleStore() *fakeSaleStore {
	return &fakeSaleStore{pending: make(map[id.ID][]id.ID)}
}

func (s *fakeSaleStore) FindCogsPending(ctx context.Context, variantIDs []id.ID) ([]consumption.PendingSale, error) {
	var result []consumption.PendingSale
	for saleID, itemIDs := range s.pending {
		result = append(result, consumption.PendingSale{SaleID: saleID, SaleItemIDs: itemIDs})
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
	return nil
}

// racingLotStore reports no lots even when they exist, reproducing the
// window where another posting commits between the existence check and
// the insert. The underlying store's duplicate guard still fires.
type racingLotStore struct {
	*fakeLotStore
}

func (s *racingLotStore) LotsExistFor(ctx context.Context, orderID id.ID) (bool, error) {
	return false, nil
}

type fakeChangeLogger struct {
	actions []string
}

func (l *fakeChangeLogger) Log(ctx context.Context, action string, orderID id.ID, payload any) error {
	l.actions = append(l.actions, action)
	return nil
}

// --- Fixture ---

type fixture struct {
	orders       *fakeOrderRepo
	lotStore     *fakeLotStore
	ledgerRepo   *fakeLedgerRepo
	consumptions *fakeConsumptionStore
	sales        *fakeSaleStore
	changes      *fakeChangeLogger
	consumption  *consumption.Service
	service      *Service
}

func newFixture(orders ...*purchase.PurchaseOrder) *fixture {
	f := &fixture{
		orders:       newFakeOrderRepo(orders...),
		lotStore:     newFakeLotStore(),
		ledgerRepo:   &fakeLedgerRepo{},
		consumptions: &fakeConsumptionStore{},
		sales:        newFakeSaleStore(),
		changes:      &fakeChangeLogger{},
	}
	ledgerService := ledger.NewService(f.ledgerRepo)
	f.consumption = consumption.NewService(f.lotStore, f.consumptions, ledgerService, f.sales, fakeTxManager{})
	f.service = NewService(f.orders, f.lotStore, ledgerService, f.consumption, f.changes, fakeTxManager{})
	return f
}

// pendingOrder builds the foreign postal order with 3 units at R$50 and
// 2 units at $10 (fx 5.0), freight R$20, tax unknown.
func pendingOrder() *purchase.PurchaseOrder {
	return &purchase.PurchaseOrder{
		ID:           id.New(),
		Freight:      types.MustMoney("20"),
		ExtraFees:    types.Zero(),
		Origin:       purchase.OriginForeign,
		ShippingMode: purchase.ShippingModePostal,
		Items: []purchase.LineItem{
			{
				ID:        id.New(),
				VariantID: id.New(),
				Quantity:  3,
				UnitPrice: types.MustMoney("50"),
				Currency:  types.CurrencyBRL,
			},
			{
				ID:        id.New(),
				VariantID: id.New(),
				Quantity:  2,
				UnitPrice: types.MustMoney("10"),
				Currency:  types.CurrencyUSD,
				FXRate:    types.MustMoney("5.0"),
			},
		},
	}
}

// --- Tests ---

func TestPostArrival_CreatesLotsWithLandedCosts(t *testing.T) {
	order := pendingOrder()
	f := newFixture(order)

	result, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.True(t, result.Pending, "deferred tax makes the lot set provisional")
	require.Len(t, result.LotIDs, 2)

	created, err := f.lotStore.GetByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, created, 2)
	for _, lot := range created {
		assert.True(t, lot.UnitCost.Equal(types.MustMoney("54")), "landed cost = %s", lot.UnitCost)
		assert.True(t, lot.CostPending)
		assert.Equal(t, lot.QtyReceived, lot.QtyRemaining)
	}

	// One receipt movement per lot, recorded against the order.
	require.Len(t, f.ledgerRepo.movements, 2)
	for _, m := range f.ledgerRepo.movements {
		assert.Equal(t, entity.RecordTypeReceipt, m.RecordType)
		assert.Equal(t, order.ID, m.RecorderID)
		assert.Equal(t, RecorderTypeArrival, m.RecorderType)
	}

	assert.True(t, f.orders.orders[order.ID].LotsPosted)
	assert.Equal(t, []string{ActionPostArrival}, f.changes.actions)
}

func TestPostArrival_SecondPostIsNoOp(t *testing.T) {
	order := pendingOrder()
	f := newFixture(order)

	first, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	created, _ := f.lotStore.GetByOrder(context.Background(), order.ID)
	assert.Len(t, created, 2, "no duplicate lot set")
	assert.Len(t, f.ledgerRepo.movements, 2, "no duplicate movements")
}

func TestPostArrival_ConcurrentInsertSurfacesAsSkipped(t *testing.T) {
	order := pendingOrder()
	f := newFixture(order)

	_, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)

	// A second poster whose existence check saw the pre-commit state; the
	// store-level duplicate guard is its only line of defense.
	racing := &racingLotStore{fakeLotStore: f.lotStore}
	svc := NewService(f.orders, racing, ledger.NewService(f.ledgerRepo), f.consumption, f.changes, fakeTxManager{})

	result, err := svc.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, result.LotIDs)

	created, _ := f.lotStore.GetByOrder(context.Background(), order.ID)
	assert.Len(t, created, 2, "no duplicate lot set")
	assert.Len(t, f.ledgerRepo.movements, 2, "no duplicate movements")
}

func TestPostArrival_VariantlessLineAbsorbsCostsButGetsNoLot(t *testing.T) {
	order := pendingOrder()
	order.Items[1].VariantID = id.Nil()
	f := newFixture(order)

	result, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)

	// The 2 variantless pieces still dilute the surcharge: 20/5 = 4.
	require.Len(t, result.LotIDs, 1)
	created, _ := f.lotStore.GetByOrder(context.Background(), order.ID)
	require.Len(t, created, 1)
	assert.Equal(t, int64(3), created[0].QtyReceived)
	assert.True(t, created[0].UnitCost.Equal(types.MustMoney("54")))
}

func TestPostArrival_ZeroPiecesIsNoOp(t *testing.T) {
	order := &purchase.PurchaseOrder{
		ID:      id.New(),
		Freight: types.MustMoney("35"),
	}
	f := newFixture(order)

	result, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)

	assert.Empty(t, result.LotIDs)
	assert.False(t, result.Pending)
	created, _ := f.lotStore.GetByOrder(context.Background(), order.ID)
	assert.Empty(t, created)
}

func TestPostArrival_UnknownOrder(t *testing.T) {
	f := newFixture()

	_, err := f.service.PostArrival(context.Background(), id.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestUndoPosting_RemovesUntouchedLotSet(t *testing.T) {
	order := pendingOrder()
	f := newFixture(order)

	_, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)

	err = f.service.UndoPosting(context.Background(), order.ID)
	require.NoError(t, err)

	created, _ := f.lotStore.GetByOrder(context.Background(), order.ID)
	assert.Empty(t, created)
	assert.Empty(t, f.ledgerRepo.movements)
	assert.False(t, f.orders.orders[order.ID].LotsPosted)
	assert.Equal(t, []string{ActionPostArrival, ActionUndoPosting}, f.changes.actions)
}

func TestUndoPosting_BlockedAfterConsumption(t *testing.T) {
	order := pendingOrder()
	f := newFixture(order)

	_, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)

	// A sale draws one unit from the order's stock.
	_, err = f.consumption.Consume(context.Background(), order.Items[0].VariantID, 1, id.New())
	require.NoError(t, err)

	err = f.service.UndoPosting(context.Background(), order.ID)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeLotsConsumed, appErr.Code)

	// Nothing was deleted.
	created, _ := f.lotStore.GetByOrder(context.Background(), order.ID)
	assert.Len(t, created, 2)
}

func TestApplyArrivalTax_RepricesLotsProspectively(t *testing.T) {
	order := pendingOrder()
	f := newFixture(order)

	_, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)

	// A sale consumes 2 units at the provisional cost and goes pending.
	saleID := id.New()
	saleRes, err := f.consumption.ConsumeSale(context.Background(), saleID, []consumption.SaleLine{
		{SaleItemID: id.New(), VariantID: order.Items[0].VariantID, Quantity: 2},
	})
	require.NoError(t, err)
	require.True(t, saleRes.Pending)
	f.sales.pending[saleID] = []id.ID{saleRes.Lines[0].Consumptions[0].SaleItemID}

	result, err := f.service.ApplyArrivalTax(context.Background(), order.ID, types.MustMoney("30"))
	require.NoError(t, err)

	assert.False(t, result.Posted)
	assert.Equal(t, 2, result.LotsRepriced)
	assert.Equal(t, 1, result.SalesCleared)

	// Lots carry the corrected landed cost: (20+30)/5 = 10 per piece.
	created, _ := f.lotStore.GetByOrder(context.Background(), order.ID)
	for _, lot := range created {
		assert.True(t, lot.UnitCost.Equal(types.MustMoney("60")), "got %s", lot.UnitCost)
		assert.False(t, lot.CostPending)
	}

	// Frozen consumption costs are historical truth and stay at 54.
	require.Len(t, f.consumptions.records, 1)
	assert.True(t, f.consumptions.records[0].UnitCost.Equal(types.MustMoney("54")))

	// The pending sale was cleared.
	_, stillPending := f.sales.pending[saleID]
	assert.False(t, stillPending)

	assert.Contains(t, f.changes.actions, ActionTaxCorrection)
}

func TestApplyArrivalTax_BeforePostingPostsWithFinalCost(t *testing.T) {
	order := pendingOrder()
	f := newFixture(order)

	result, err := f.service.ApplyArrivalTax(context.Background(), order.ID, types.MustMoney("30"))
	require.NoError(t, err)

	assert.True(t, result.Posted)
	assert.Zero(t, result.LotsRepriced)

	created, _ := f.lotStore.GetByOrder(context.Background(), order.ID)
	require.Len(t, created, 2)
	for _, lot := range created {
		assert.True(t, lot.UnitCost.Equal(types.MustMoney("60")))
		assert.False(t, lot.CostPending, "tax is known, nothing provisional")
	}
}

func TestApplyArrivalTax_SameTaxIsNoOp(t *testing.T) {
	order := pendingOrder()
	f := newFixture(order)

	_, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)

	first, err := f.service.ApplyArrivalTax(context.Background(), order.ID, types.MustMoney("30"))
	require.NoError(t, err)
	require.Equal(t, 2, first.LotsRepriced)

	second, err := f.service.ApplyArrivalTax(context.Background(), order.ID, types.MustMoney("30"))
	require.NoError(t, err)

	assert.Zero(t, second.LotsRepriced)
	assert.Zero(t, second.SalesCleared)

	corrections := 0
	for _, action := range f.changes.actions {
		if action == ActionTaxCorrection {
			corrections++
		}
	}
	assert.Equal(t, 1, corrections, "repeating the same tax logs no second correction")
}

func TestApplyArrivalTax_RejectsNegative(t *testing.T) {
	order := pendingOrder()
	f := newFixture(order)

	_, err := f.service.ApplyArrivalTax(context.Background(), order.ID, types.MustMoney("-1"))
	assert.Error(t, err)
}

func TestPostArrival_ReceivedAtSharedAcrossLotSet(t *testing.T) {
	order := pendingOrder()
	f := newFixture(order)

	before := time.Now().UTC()
	_, err := f.service.PostArrival(context.Background(), order.ID)
	require.NoError(t, err)

	created, _ := f.lotStore.GetByOrder(context.Background(), order.ID)
	require.Len(t, created, 2)
	assert.True(t, created[0].ReceivedAt.Equal(created[1].ReceivedAt))
	assert.False(t, created[0].ReceivedAt.Before(before))
}
