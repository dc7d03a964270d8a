package ledger

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryState struct {
	movements map[uuid.UUID]Movement
	entries   map[Key][]Entry
	balances  map[Key]Balance
}

func (s memoryState) clone() memoryState {
	next := memoryState{
		movements: make(map[uuid.UUID]Movement, len(s.movements)),
		entries:   make(map[Key][]Entry, len(s.entries)),
		balances:  make(map[Key]Balance, len(s.balances)),
	}
	for id, m := range s.movements {
		next.movements[id] = m
	}
	for k, entries := range s.entries {
		next.entries[k] = append([]Entry(nil), entries...)
	}
	for k, bal := range s.balances {
		next.balances[k] = bal
	}
	return next
}

// memoryRepo emulates the repository including rollback on error: a failing
// callback leaves the visible state untouched.
type memoryRepo struct {
	state    memoryState
	failures int
}

type memoryTx struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		movements: make(map[uuid.UUID]Movement),
		entries:   make(map[Key][]Entry),
		balances:  make(map[Key]Balance),
	}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.failures > 0 {
		r.failures--
		return &pgconn.PgError{Code: "40001"}
	}
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) GetMovement(ctx context.Context, id uuid.UUID) (Movement, error) {
	if m, ok := r.state.movements[id]; ok {
		return m, nil
	}
	return Movement{}, ErrMovementNotFound
}

func (r *memoryRepo) GetBalance(ctx context.Context, itemID, warehouseID int64) (Balance, error) {
	if bal, ok := r.state.balances[Key{ItemID: itemID, WarehouseID: warehouseID}]; ok {
		return bal, nil
	}
	return Balance{}, ErrBalanceNotFound
}

func (r *memoryRepo) AggregateBalance(ctx context.Context, itemID int64) (Balance, error) {
	agg := Balance{ItemID: itemID}
	for k, bal := range r.state.balances {
		if k.ItemID != itemID {
			continue
		}
		agg.Quantity = agg.Quantity.Add(bal.Quantity)
		agg.TotalValue = agg.TotalValue.Add(bal.TotalValue)
	}
	if agg.Quantity.IsPositive() {
		agg.AverageCost = agg.TotalValue.DivRound(agg.Quantity, avgCostScale)
	}
	return agg, nil
}

func (r *memoryRepo) ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error) {
	var out []Balance
	for k, bal := range r.state.balances {
		if warehouseID == 0 || k.WarehouseID == warehouseID {
			out = append(out, bal)
		}
	}
	return out, nil
}

func (r *memoryRepo) Kardex(ctx context.Context, filter KardexFilter) ([]Entry, error) {
	var out []Entry
	for key, entries := range r.state.entries {
		if key.ItemID != filter.ItemID {
			continue
		}
		if filter.WarehouseID != 0 && key.WarehouseID != filter.WarehouseID {
			continue
		}
		for _, e := range entries {
			if !filter.From.IsZero() && e.EffectiveDate.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && e.EffectiveDate.After(filter.To) {
				continue
			}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EffectiveDate.Equal(out[j].EffectiveDate) {
			return out[i].EffectiveDate.Before(out[j].EffectiveDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].MovementID[:], out[j].MovementID[:]) < 0
	})
	return out, nil
}

func (r *memoryRepo) OpeningPosition(ctx context.Context, itemID, warehouseID int64, before time.Time) (Position, error) {
	var pos Position
	for key, entries := range r.state.entries {
		if key.ItemID != itemID {
			continue
		}
		if warehouseID != 0 && key.WarehouseID != warehouseID {
			continue
		}
		var last *Entry
		for i := range entries {
			if entries[i].EffectiveDate.Before(before) {
				last = &entries[i]
			}
		}
		if last != nil {
			pos.Quantity = pos.Quantity.Add(last.RunningBalance)
			pos.Value = pos.Value.Add(last.RunningValue)
		}
	}
	if pos.Quantity.IsPositive() {
		pos.AverageCost = pos.Value.DivRound(pos.Quantity, avgCostScale)
	}
	return pos, nil
}

func (r *memoryRepo) ListKeys(ctx context.Context) ([]Key, error) {
	var keys []Key
	for k := range r.state.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (r *memoryRepo) ConsumptionSince(ctx context.Context, itemID, warehouseID int64, since time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range r.state.entries[Key{ItemID: itemID, WarehouseID: warehouseID}] {
		if !e.EffectiveDate.Before(since) {
			total = total.Add(e.QuantityOut)
		}
	}
	return total, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) error {
	tx.state.movements[m.ID] = m
	return nil
}

func (tx *memoryTx) UpdateMovement(ctx context.Context, m Movement) error {
	if _, ok := tx.state.movements[m.ID]; !ok {
		return ErrMovementNotFound
	}
	tx.state.movements[m.ID] = m
	return nil
}

func (tx *memoryTx) DeleteMovement(ctx context.Context, id uuid.UUID) error {
	if _, ok := tx.state.movements[id]; !ok {
		return ErrMovementNotFound
	}
	delete(tx.state.movements, id)
	return nil
}

func (tx *memoryTx) GetMovementForUpdate(ctx context.Context, id uuid.UUID) (Movement, error) {
	if m, ok := tx.state.movements[id]; ok {
		return m, nil
	}
	return Movement{}, ErrMovementNotFound
}

func (tx *memoryTx) ListMovements(ctx context.Context, itemID, warehouseID int64) ([]Movement, error) {
	var out []Movement
	for _, m := range tx.state.movements {
		if m.ItemID == itemID && m.WarehouseID == warehouseID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, itemID, warehouseID int64) (Balance, error) {
	key := Key{ItemID: itemID, WarehouseID: warehouseID}
	if bal, ok := tx.state.balances[key]; ok {
		return bal, nil
	}
	bal := Balance{ItemID: itemID, WarehouseID: warehouseID}
	tx.state.balances[key] = bal
	return bal, nil
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance Balance) error {
	key := Key{ItemID: balance.ItemID, WarehouseID: balance.WarehouseID}
	balance.Version = tx.state.balances[key].Version + 1
	tx.state.balances[key] = balance
	return nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) error {
	key := Key{ItemID: entry.ItemID, WarehouseID: entry.WarehouseID}
	tx.state.entries[key] = append(tx.state.entries[key], entry)
	return nil
}

func (tx *memoryTx) ReplaceEntries(ctx context.Context, itemID, warehouseID int64, entries []Entry) error {
	tx.state.entries[Key{ItemID: itemID, WarehouseID: warehouseID}] = append([]Entry(nil), entries...)
	return nil
}

func (tx *memoryTx) RefreshItemMirror(ctx context.Context, itemID int64) error {
	return nil
}

type stubMaster struct {
	backorder map[int64]bool
	unknownWh map[int64]bool
}

func (m stubMaster) ItemPolicy(ctx context.Context, itemID int64) (ItemPolicy, error) {
	return ItemPolicy{AllowBackorder: m.backorder[itemID]}, nil
}

func (m stubMaster) WarehouseExists(ctx context.Context, warehouseID int64) (bool, error) {
	return !m.unknownWh[warehouseID], nil
}

type stubScheduler struct {
	enqueued []Key
}

func (s *stubScheduler) EnqueueReplay(ctx context.Context, itemID, warehouseID int64) error {
	s.enqueued = append(s.enqueued, Key{ItemID: itemID, WarehouseID: warehouseID})
	return nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, stubMaster{backorder: map[int64]bool{}}, nil, nil, nil, nil, ServiceConfig{})
}

func record(t *testing.T, svc *Service, qty, cost string, effective time.Time) Movement {
	t.Helper()
	typ := MovementPurchase
	if dec(qty).IsNegative() {
		typ = MovementSale
	}
	m, err := svc.Record(context.Background(), RecordInput{
		ItemID: 1, WarehouseID: 1, Type: typ,
		Quantity: dec(qty), UnitCost: dec(cost), EffectiveDate: effective,
	})
	require.NoError(t, err)
	return m
}

func TestRecordFastPath(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	record(t, svc, "100", "100", day(1))
	record(t, svc, "-40", "0", day(2))
	record(t, svc, "50", "130", day(3))

	bal, err := svc.GetBalance(context.Background(), 1, 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec("110")))
	require.True(t, bal.TotalValue.Equal(dec("12500")))
	require.True(t, bal.AverageCost.Equal(dec("113.636364")))
	require.Equal(t, int64(3), bal.Version, "each write bumps the version")

	entries := repo.state.entries[Key{ItemID: 1, WarehouseID: 1}]
	require.Len(t, entries, 3)
	require.True(t, entries[2].RunningValue.Equal(dec("12500")))
}

func TestRecordBackdatedReplaysStream(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	record(t, svc, "100", "100", day(5))
	record(t, svc, "-40", "0", day(6))
	record(t, svc, "50", "130", day(7))
	// Back-dated: sorts before everything above, so the stream replays.
	record(t, svc, "20", "90", day(1))

	bal, err := svc.GetBalance(context.Background(), 1, 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec("130")))

	var all []Movement
	for _, m := range repo.state.movements {
		all = append(all, m)
	}
	_, fromScratch, err := Fold(all, false)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(fromScratch.Quantity))
	require.True(t, bal.TotalValue.Equal(fromScratch.Value))
	require.True(t, bal.AverageCost.Equal(fromScratch.AverageCost))

	entries := repo.state.entries[Key{ItemID: 1, WarehouseID: 1}]
	require.Len(t, entries, 4)
	require.True(t, entries[0].EffectiveDate.Equal(day(1)), "replay reorders the kardex")
}

func TestRecordInsufficientStockLeavesStateUntouched(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	record(t, svc, "5", "10", day(1))

	_, err := svc.Record(context.Background(), RecordInput{
		ItemID: 1, WarehouseID: 1, Type: MovementSale,
		Quantity: dec("-8"), EffectiveDate: day(2),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.Len(t, repo.state.movements, 1, "rejected movement is not persisted")
	bal, err := svc.GetBalance(context.Background(), 1, 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec("5")))
}

func TestRecordBackorderAllowsNegative(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, stubMaster{backorder: map[int64]bool{1: true}}, nil, nil, nil, nil, ServiceConfig{})

	_, err := svc.Record(context.Background(), RecordInput{
		ItemID: 1, WarehouseID: 1, Type: MovementSale,
		Quantity: dec("-8"), EffectiveDate: day(1),
	})
	require.NoError(t, err)

	bal, err := svc.GetBalance(context.Background(), 1, 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec("-8")))
	require.True(t, bal.AverageCost.IsZero())
}

func TestRecordValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 1, Type: "BOGUS", Quantity: dec("1")})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 1, Type: MovementPurchase, Quantity: dec("-1")})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 1, Type: MovementSale, Quantity: dec("1")})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 1, Type: MovementPurchase, Quantity: dec("1"), UnitCost: dec("-2")})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 1, Type: MovementAdjustment, Quantity: decimal.Zero})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 1, Type: MovementTransferIn, Quantity: dec("1"), PriceFromSource: true})
	require.ErrorIs(t, err, ErrValidation, "source pricing needs the issue in the same batch")
}

func TestRecordRejectsUnknownWarehouse(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, stubMaster{unknownWh: map[int64]bool{999: true}}, nil, nil, nil, nil, ServiceConfig{})

	_, err := svc.Record(context.Background(), RecordInput{
		ItemID: 1, WarehouseID: 999, Type: MovementPurchase,
		Quantity: dec("10"), UnitCost: dec("4"), EffectiveDate: day(1),
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, repo.state.movements, "no phantom stream opens for a mistyped warehouse")
}

func TestRecordBatchRejectsUnknownWarehouse(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, stubMaster{backorder: map[int64]bool{1: true}, unknownWh: map[int64]bool{999: true}}, nil, nil, nil, nil, ServiceConfig{})

	_, err := svc.RecordBatch(context.Background(), []RecordInput{
		{ItemID: 1, WarehouseID: 1, Type: MovementTransferOut, Quantity: dec("-1"), EffectiveDate: day(1)},
		{ItemID: 1, WarehouseID: 999, Type: MovementTransferIn, Quantity: dec("1"), UnitCost: dec("4"), EffectiveDate: day(1)},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, repo.state.movements, "whole batch rejected before any write")
}

func TestEditMovementReplays(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	first := record(t, svc, "100", "100", day(1))
	record(t, svc, "-40", "0", day(2))

	newCost := dec("80")
	_, err := svc.EditMovement(context.Background(), first.ID, MovementPatch{UnitCost: &newCost})
	require.NoError(t, err)

	bal, err := svc.GetBalance(context.Background(), 1, 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec("60")))
	require.True(t, bal.TotalValue.Equal(dec("4800")), "downstream issue recosted at 80")
	require.True(t, bal.AverageCost.Equal(dec("80")))
}

func TestEditMovementRejectsNegativeHistory(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	first := record(t, svc, "100", "100", day(1))
	record(t, svc, "-40", "0", day(2))

	small := dec("30")
	_, err := svc.EditMovement(context.Background(), first.ID, MovementPatch{Quantity: &small})
	require.ErrorIs(t, err, ErrInsufficientStock)

	got, err := svc.GetMovement(context.Background(), first.ID)
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(dec("100")), "failed edit rolls back")
}

func TestDeleteMovementReplays(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	record(t, svc, "100", "100", day(1))
	second := record(t, svc, "50", "130", day(2))

	require.NoError(t, svc.DeleteMovement(context.Background(), second.ID))

	bal, err := svc.GetBalance(context.Background(), 1, 1)
	require.NoError(t, err)
	require.True(t, bal.Quantity.Equal(dec("100")))
	require.True(t, bal.AverageCost.Equal(dec("100")))
	require.Len(t, repo.state.entries[Key{ItemID: 1, WarehouseID: 1}], 1)

	require.ErrorIs(t, svc.DeleteMovement(context.Background(), second.ID), ErrMovementNotFound)
}

func TestReplayMatchesIncrementalState(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	record(t, svc, "9", "3.333333", day(1))
	record(t, svc, "-5", "0", day(2))
	record(t, svc, "7", "4.1", day(3))

	before, err := svc.GetBalance(context.Background(), 1, 1)
	require.NoError(t, err)
	entriesBefore := append([]Entry(nil), repo.state.entries[Key{ItemID: 1, WarehouseID: 1}]...)

	require.NoError(t, svc.Replay(context.Background(), 1, 1))
	require.NoError(t, svc.Replay(context.Background(), 1, 1))

	after, err := svc.GetBalance(context.Background(), 1, 1)
	require.NoError(t, err)
	require.True(t, before.Quantity.Equal(after.Quantity))
	require.True(t, before.TotalValue.Equal(after.TotalValue))
	require.True(t, before.AverageCost.Equal(after.AverageCost))
	require.Equal(t, entriesBefore, repo.state.entries[Key{ItemID: 1, WarehouseID: 1}])
}

func TestReplayFailureEnqueuesRetry(t *testing.T) {
	repo := newMemoryRepo()
	scheduler := &stubScheduler{}
	svc := NewService(repo, stubMaster{}, nil, nil, scheduler, nil, ServiceConfig{ConflictRetries: 1})

	record(t, svc, "10", "5", day(1))
	repo.failures = 5

	err := svc.Replay(context.Background(), 1, 1)
	require.ErrorIs(t, err, ErrReplayFailed)
	require.Equal(t, []Key{{ItemID: 1, WarehouseID: 1}}, scheduler.enqueued)
}

func TestConflictRetriesThenSucceeds(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	repo.failures = 2

	record(t, svc, "10", "5", day(1))
	require.Len(t, repo.state.movements, 1)
}

func TestConflictRetriesExhausted(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	repo.failures = 10

	_, err := svc.Record(context.Background(), RecordInput{
		ItemID: 1, WarehouseID: 1, Type: MovementPurchase,
		Quantity: dec("10"), UnitCost: dec("5"), EffectiveDate: day(1),
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestGetKardexCarriesOpeningForward(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	record(t, svc, "100", "100", day(1))
	record(t, svc, "-40", "0", day(2))
	record(t, svc, "50", "130", day(5))

	view, err := svc.GetKardex(context.Background(), KardexFilter{ItemID: 1, WarehouseID: 1, From: day(4)})
	require.NoError(t, err)
	require.True(t, view.HasOpening)
	require.True(t, view.Opening.Quantity.Equal(dec("60")))
	require.True(t, view.Opening.Value.Equal(dec("6000")))
	require.Len(t, view.Entries, 1)

	closing := view.Opening.Quantity.Add(view.Entries[0].QuantityIn).Sub(view.Entries[0].QuantityOut)
	require.True(t, closing.Equal(dec("110")), "windowed view reconciles against the opening")
}

func TestGetKardexAllWarehouses(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 1, Type: MovementPurchase, Quantity: dec("10"), UnitCost: dec("4"), EffectiveDate: day(1)})
	require.NoError(t, err)
	_, err = svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 2, Type: MovementPurchase, Quantity: dec("5"), UnitCost: dec("6"), EffectiveDate: day(2)})
	require.NoError(t, err)
	_, err = svc.Record(ctx, RecordInput{ItemID: 2, WarehouseID: 1, Type: MovementPurchase, Quantity: dec("3"), UnitCost: dec("1"), EffectiveDate: day(3)})
	require.NoError(t, err)

	view, err := svc.GetKardex(ctx, KardexFilter{ItemID: 1})
	require.NoError(t, err)
	require.Len(t, view.Entries, 2, "other items stay out of the merged view")
	require.Equal(t, int64(1), view.Entries[0].WarehouseID)
	require.Equal(t, int64(2), view.Entries[1].WarehouseID)

	windowed, err := svc.GetKardex(ctx, KardexFilter{ItemID: 1, From: day(3)})
	require.NoError(t, err)
	require.True(t, windowed.HasOpening)
	require.True(t, windowed.Opening.Quantity.Equal(dec("15")), "opening sums the item's streams")
	require.Empty(t, windowed.Entries)

	_, err = svc.GetKardex(ctx, KardexFilter{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestGetBalanceUnknownStreamReadsZero(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	bal, err := svc.GetBalance(context.Background(), 42, 7)
	require.NoError(t, err)
	require.True(t, bal.Quantity.IsZero())
	require.True(t, bal.AverageCost.IsZero())
}

func TestGetBalanceAggregate(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 1, Type: MovementPurchase, Quantity: dec("10"), UnitCost: dec("4"), EffectiveDate: day(1)})
	require.NoError(t, err)
	_, err = svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 2, Type: MovementPurchase, Quantity: dec("30"), UnitCost: dec("8"), EffectiveDate: day(1)})
	require.NoError(t, err)

	agg, err := svc.GetBalanceAggregate(ctx, 1)
	require.NoError(t, err)
	require.True(t, agg.Quantity.Equal(dec("40")))
	require.True(t, agg.TotalValue.Equal(dec("280")))
	require.True(t, agg.AverageCost.Equal(dec("7")), "aggregate average is value over quantity, not a mean of averages")
}

func TestRebuildAllReplaysEveryStream(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{ItemID: 1, WarehouseID: 1, Type: MovementPurchase, Quantity: dec("10"), UnitCost: dec("4"), EffectiveDate: day(1)})
	require.NoError(t, err)
	_, err = svc.Record(ctx, RecordInput{ItemID: 2, WarehouseID: 1, Type: MovementPurchase, Quantity: dec("3"), UnitCost: dec("9"), EffectiveDate: day(1)})
	require.NoError(t, err)

	require.NoError(t, svc.RebuildAll(ctx))

	for _, key := range []Key{{1, 1}, {2, 1}} {
		bal := repo.state.balances[key]
		require.False(t, bal.Quantity.IsZero())
	}
}

func TestRecordBatchAtomicAcrossStreams(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	record(t, svc, "10", "4", day(1))

	movements, err := svc.RecordBatch(ctx, []RecordInput{
		{ItemID: 1, WarehouseID: 1, Type: MovementTransferOut, Quantity: dec("-6"), EffectiveDate: day(2)},
		{ItemID: 1, WarehouseID: 2, Type: MovementTransferIn, Quantity: dec("6"), UnitCost: dec("4"), EffectiveDate: day(2)},
	})
	require.NoError(t, err)
	require.Len(t, movements, 2)

	src, _ := svc.GetBalance(ctx, 1, 1)
	dst, _ := svc.GetBalance(ctx, 1, 2)
	require.True(t, src.Quantity.Equal(dec("4")))
	require.True(t, dst.Quantity.Equal(dec("6")))
	require.True(t, dst.AverageCost.Equal(dec("4")), "destination receives at source cost")
}

func TestRecordBatchPricesReceiptFromSource(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	record(t, svc, "10", "4", day(1))

	movements, err := svc.RecordBatch(ctx, []RecordInput{
		{ItemID: 1, WarehouseID: 1, Type: MovementPurchase, Quantity: dec("10"), UnitCost: dec("8"), EffectiveDate: day(2), DocumentRef: "TRF-1"},
		{ItemID: 1, WarehouseID: 1, Type: MovementTransferOut, Quantity: dec("-5"), EffectiveDate: day(2), DocumentRef: "TRF-1"},
		{ItemID: 1, WarehouseID: 2, Type: MovementTransferIn, Quantity: dec("5"), PriceFromSource: true, EffectiveDate: day(2), DocumentRef: "TRF-1"},
	})
	require.NoError(t, err)
	require.Len(t, movements, 3)

	// The in-batch purchase blends the source average to 6, so the receipt
	// prices at 6, not at the pre-batch average of 4.
	var in Movement
	for _, m := range movements {
		if m.Type == MovementTransferIn {
			in = m
		}
	}
	require.True(t, in.UnitCost.Equal(dec("6")))
	require.True(t, repo.state.movements[in.ID].UnitCost.Equal(dec("6")), "resolved cost persists for later replays")

	src, err := svc.GetBalance(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, src.Quantity.Equal(dec("15")))
	require.True(t, src.TotalValue.Equal(dec("90")))

	dst, err := svc.GetBalance(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, dst.Quantity.Equal(dec("5")))
	require.True(t, dst.AverageCost.Equal(dec("6")), "no value leaks between the warehouses")
}

func TestRecordBatchReceiptWithoutIssueRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	_, err := svc.RecordBatch(context.Background(), []RecordInput{
		{ItemID: 1, WarehouseID: 2, Type: MovementTransferIn, Quantity: dec("5"), PriceFromSource: true, EffectiveDate: day(1)},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, repo.state.movements)
}

func TestRecordBatchRollsBackOnFailedLeg(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	record(t, svc, "3", "4", day(1))

	// Second leg overdraws its stream, so the whole batch must roll back.
	_, err := svc.RecordBatch(ctx, []RecordInput{
		{ItemID: 1, WarehouseID: 1, Type: MovementTransferOut, Quantity: dec("-2"), EffectiveDate: day(2)},
		{ItemID: 2, WarehouseID: 1, Type: MovementTransferOut, Quantity: dec("-5"), EffectiveDate: day(2)},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	bal, _ := svc.GetBalance(ctx, 1, 1)
	require.True(t, bal.Quantity.Equal(dec("3")), "first leg rolled back with the batch")
	require.Len(t, repo.state.movements, 1)
}

func TestReplayErrorIsRetryableDetection(t *testing.T) {
	require.True(t, retryableTxError(&pgconn.PgError{Code: "40001"}))
	require.True(t, retryableTxError(&pgconn.PgError{Code: "40P01"}))
	require.False(t, retryableTxError(&pgconn.PgError{Code: "23505"}))
	require.False(t, retryableTxError(errors.New("boom")))
}
