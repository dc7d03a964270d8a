package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/larder-erp/larder-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, id uuid.UUID) (Movement, error)
	GetBalance(ctx context.Context, itemID, warehouseID int64) (Balance, error)
	AggregateBalance(ctx context.Context, itemID int64) (Balance, error)
	ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error)
	Kardex(ctx context.Context, filter KardexFilter) ([]Entry, error)
	OpeningPosition(ctx context.Context, itemID, warehouseID int64, before time.Time) (Position, error)
	ListKeys(ctx context.Context) ([]Key, error)
	ConsumptionSince(ctx context.Context, itemID, warehouseID int64, since time.Time) (decimal.Decimal, error)
}

// ItemPolicy is the slice of item master data the engine needs.
type ItemPolicy struct {
	AllowBackorder bool
}

// MasterPort resolves the master data the engine depends on: the per-item
// policy and whether a warehouse is on the catalog at all.
type MasterPort interface {
	ItemPolicy(ctx context.Context, itemID int64) (ItemPolicy, error)
	WarehouseExists(ctx context.Context, warehouseID int64) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReplayScheduler enqueues a deferred replay retry after a failed replay.
type ReplayScheduler interface {
	EnqueueReplay(ctx context.Context, itemID, warehouseID int64) error
}

// MetricsPort receives engine counters.
type MetricsPort interface {
	MovementRecorded(movementType string)
	ReplayCompleted(d time.Duration)
}

// ServiceConfig groups tunables.
type ServiceConfig struct {
	ConflictRetries int
	ReplayTimeout   time.Duration
	RebuildParallel int
}

// Service coordinates ledger operations: movement recording, balance and
// kardex reads, and replays. All writes to one (item, warehouse) stream
// serialize on the balance row lock.
type Service struct {
	repo        RepositoryPort
	master      MasterPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	scheduler   ReplayScheduler
	metrics     MetricsPort
	cfg         ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, master MasterPort, audit AuditPort, idem *shared.IdempotencyStore, scheduler ReplayScheduler, metrics MetricsPort, cfg ServiceConfig) *Service {
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	if cfg.ReplayTimeout <= 0 {
		cfg.ReplayTimeout = 30 * time.Second
	}
	if cfg.RebuildParallel <= 0 {
		cfg.RebuildParallel = 4
	}
	return &Service{repo: repo, master: master, audit: audit, idempotency: idem, scheduler: scheduler, metrics: metrics, cfg: cfg}
}

// RecordInput carries one movement to record.
type RecordInput struct {
	ItemID         int64
	WarehouseID    int64
	Type           MovementType
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	EffectiveDate  time.Time
	DocumentRef    string
	IdempotencyKey string
	Force          bool
	// PriceFromSource values a transfer receipt at the cost its paired issue
	// carries once that issue applies inside the same batch. Only valid on
	// TRANSFER_IN inputs posted through RecordBatch alongside their issue.
	PriceFromSource bool
}

func (in RecordInput) validate() error {
	if in.ItemID == 0 || in.WarehouseID == 0 {
		return fmt.Errorf("%w: item and warehouse required", ErrValidation)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown movement type %q", ErrValidation, in.Type)
	}
	if in.Quantity.IsZero() {
		return fmt.Errorf("%w: quantity must be non-zero", ErrValidation)
	}
	if in.Type.Inbound() && !in.Quantity.IsPositive() {
		return fmt.Errorf("%w: %s requires positive quantity", ErrValidation, in.Type)
	}
	if in.Type.Outbound() && !in.Quantity.IsNegative() {
		return fmt.Errorf("%w: %s requires negative quantity", ErrValidation, in.Type)
	}
	if in.UnitCost.IsNegative() {
		return fmt.Errorf("%w: unit cost must not be negative", ErrValidation)
	}
	if in.PriceFromSource && in.Type != MovementTransferIn {
		return fmt.Errorf("%w: only transfer receipts may price from source", ErrValidation)
	}
	return nil
}

// Record validates and persists one movement. When the movement lands at the
// end of canonical order the balance advances with a single fold step;
// otherwise the whole stream replays inside the same transaction. Either way
// the movement, its kardex entry, the balance and the item mirror commit
// atomically.
func (s *Service) Record(ctx context.Context, input RecordInput) (Movement, error) {
	if err := input.validate(); err != nil {
		return Movement{}, err
	}
	if input.PriceFromSource {
		return Movement{}, fmt.Errorf("%w: source-priced receipts post with their issue in one batch", ErrValidation)
	}
	if err := s.ensureWarehouse(ctx, input.WarehouseID); err != nil {
		return Movement{}, err
	}
	allowNeg, err := s.allowNegative(ctx, input.ItemID, input.Force)
	if err != nil {
		return Movement{}, err
	}
	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "ledger"); err != nil {
			return Movement{}, err
		}
		insertedKey = true
	}

	now := time.Now().UTC()
	effective := input.EffectiveDate
	if effective.IsZero() {
		effective = now
	}
	movement := Movement{
		ID:            uuid.New(),
		ItemID:        input.ItemID,
		WarehouseID:   input.WarehouseID,
		Type:          input.Type,
		Quantity:      input.Quantity,
		UnitCost:      input.UnitCost,
		EffectiveDate: effective,
		DocumentRef:   input.DocumentRef,
		CreatedAt:     now,
	}

	err = s.withRetries(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, movement.ItemID, movement.WarehouseID)
		if err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, movement); err != nil {
			return err
		}
		// Append fast path only when the movement sorts after everything
		// already recorded; CreatedAt breaks same-date ties in our favor.
		if !movement.EffectiveDate.Before(balance.LastMovementAt) {
			pos := Position{Quantity: balance.Quantity, Value: balance.TotalValue, AverageCost: balance.AverageCost}
			entry, next := Step(pos, movement)
			if next.Quantity.IsNegative() && !allowNeg {
				return fmt.Errorf("%w: movement %s would drive balance to %s",
					ErrInsufficientStock, movement.ID, next.Quantity)
			}
			if err := tx.InsertEntry(ctx, entry); err != nil {
				return err
			}
			balance.Quantity = next.Quantity
			balance.TotalValue = next.Value
			balance.AverageCost = next.AverageCost
			balance.LastMovementAt = movement.EffectiveDate
			if err := tx.UpsertBalance(ctx, balance); err != nil {
				return err
			}
			return tx.RefreshItemMirror(ctx, movement.ItemID)
		}
		_, err = s.replayTx(ctx, tx, Key{ItemID: movement.ItemID, WarehouseID: movement.WarehouseID}, allowNeg)
		return err
	})
	if err != nil {
		if insertedKey && !errors.Is(err, shared.ErrIdempotencyConflict) {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Movement{}, err
	}
	if s.metrics != nil {
		s.metrics.MovementRecorded(string(movement.Type))
	}
	s.recordAudit(ctx, "ledger.movement.record", movement.ID.String())
	return movement, nil
}

// RecordBatch persists several movements in one transaction, so paired
// document postings (a transfer's out and in legs, a count's corrections)
// commit or roll back together. Balance rows lock in ascending key order to
// keep concurrent batches deadlock-free; streams then settle issuing side
// first, so a source-priced receipt picks up the cost its issue actually
// carried inside this same transaction.
func (s *Service) RecordBatch(ctx context.Context, inputs []RecordInput) ([]Movement, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrValidation)
	}
	for _, input := range inputs {
		if err := input.validate(); err != nil {
			return nil, err
		}
	}
	pairs, err := matchPricedReceipts(inputs)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	movements := make([]Movement, len(inputs))
	byKey := make(map[Key][]int)
	allowNeg := make(map[Key]bool)
	for i, input := range inputs {
		effective := input.EffectiveDate
		if effective.IsZero() {
			effective = now
		}
		movements[i] = Movement{
			ID:            uuid.New(),
			ItemID:        input.ItemID,
			WarehouseID:   input.WarehouseID,
			Type:          input.Type,
			Quantity:      input.Quantity,
			UnitCost:      input.UnitCost,
			EffectiveDate: effective,
			DocumentRef:   input.DocumentRef,
			CreatedAt:     now,
		}
		key := Key{ItemID: input.ItemID, WarehouseID: input.WarehouseID}
		byKey[key] = append(byKey[key], i)
		if _, seen := allowNeg[key]; !seen {
			neg, err := s.allowNegative(ctx, input.ItemID, input.Force)
			if err != nil {
				return nil, err
			}
			allowNeg[key] = neg
		}
	}
	keys := make([]Key, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ItemID != keys[j].ItemID {
			return keys[i].ItemID < keys[j].ItemID
		}
		return keys[i].WarehouseID < keys[j].WarehouseID
	})
	checkedWh := make(map[int64]bool)
	for _, key := range keys {
		if checkedWh[key.WarehouseID] {
			continue
		}
		if err := s.ensureWarehouse(ctx, key.WarehouseID); err != nil {
			return nil, err
		}
		checkedWh[key.WarehouseID] = true
	}
	deps := make(map[Key][]Key)
	for in, out := range pairs {
		inKey := Key{ItemID: movements[in].ItemID, WarehouseID: movements[in].WarehouseID}
		outKey := Key{ItemID: movements[out].ItemID, WarehouseID: movements[out].WarehouseID}
		deps[inKey] = append(deps[inKey], outKey)
	}
	order, err := batchOrder(keys, deps)
	if err != nil {
		return nil, err
	}

	err = s.withRetries(ctx, func(ctx context.Context, tx TxRepository) error {
		balances := make(map[Key]Balance, len(keys))
		for _, key := range keys {
			balance, err := tx.GetBalanceForUpdate(ctx, key.ItemID, key.WarehouseID)
			if err != nil {
				return err
			}
			balances[key] = balance
		}
		costByMovement := make(map[uuid.UUID]decimal.Decimal)
		for _, key := range order {
			balance := balances[key]
			appendOnly := true
			last := balance.LastMovementAt
			for _, i := range byKey[key] {
				if out, ok := pairs[i]; ok {
					cost, priced := costByMovement[movements[out].ID]
					if !priced {
						return fmt.Errorf("%w: issue for receipt %s settled after the receipt", ErrValidation, movements[i].ID)
					}
					movements[i].UnitCost = cost
				}
				if err := tx.InsertMovement(ctx, movements[i]); err != nil {
					return err
				}
				if movements[i].EffectiveDate.Before(last) {
					appendOnly = false
				} else {
					last = movements[i].EffectiveDate
				}
			}
			if !appendOnly {
				entries, err := s.replayTx(ctx, tx, key, allowNeg[key])
				if err != nil {
					return err
				}
				for _, entry := range entries {
					costByMovement[entry.MovementID] = entry.UnitCost
				}
				continue
			}
			pos := Position{Quantity: balance.Quantity, Value: balance.TotalValue, AverageCost: balance.AverageCost}
			for _, i := range byKey[key] {
				entry, next := Step(pos, movements[i])
				if next.Quantity.IsNegative() && !allowNeg[key] {
					return fmt.Errorf("%w: movement %s would drive balance to %s",
						ErrInsufficientStock, movements[i].ID, next.Quantity)
				}
				if err := tx.InsertEntry(ctx, entry); err != nil {
					return err
				}
				costByMovement[entry.MovementID] = entry.UnitCost
				pos = next
			}
			balance.Quantity = pos.Quantity
			balance.TotalValue = pos.Value
			balance.AverageCost = pos.AverageCost
			balance.LastMovementAt = last
			if err := tx.UpsertBalance(ctx, balance); err != nil {
				return err
			}
			if err := tx.RefreshItemMirror(ctx, key.ItemID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		for _, m := range movements {
			s.metrics.MovementRecorded(string(m.Type))
		}
	}
	return movements, nil
}

// EditMovement patches a recorded movement and replays its stream. Historical
// edits revalidate every intermediate balance unless the item allows
// backorders.
func (s *Service) EditMovement(ctx context.Context, id uuid.UUID, patch MovementPatch) (Movement, error) {
	var updated Movement
	err := s.withRetries(ctx, func(ctx context.Context, tx TxRepository) error {
		movement, err := tx.GetMovementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.GetBalanceForUpdate(ctx, movement.ItemID, movement.WarehouseID); err != nil {
			return err
		}
		if patch.Quantity != nil {
			movement.Quantity = *patch.Quantity
		}
		if patch.UnitCost != nil {
			movement.UnitCost = *patch.UnitCost
		}
		if patch.EffectiveDate != nil {
			movement.EffectiveDate = *patch.EffectiveDate
		}
		if patch.DocumentRef != nil {
			movement.DocumentRef = *patch.DocumentRef
		}
		if err := (RecordInput{
			ItemID:      movement.ItemID,
			WarehouseID: movement.WarehouseID,
			Type:        movement.Type,
			Quantity:    movement.Quantity,
			UnitCost:    movement.UnitCost,
		}).validate(); err != nil {
			return err
		}
		allowNeg, err := s.allowNegative(ctx, movement.ItemID, false)
		if err != nil {
			return err
		}
		if err := tx.UpdateMovement(ctx, movement); err != nil {
			return err
		}
		updated = movement
		_, err = s.replayTx(ctx, tx, Key{ItemID: movement.ItemID, WarehouseID: movement.WarehouseID}, allowNeg)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, "ledger.movement.edit", id.String())
	return updated, nil
}

// DeleteMovement removes a movement and replays its stream.
func (s *Service) DeleteMovement(ctx context.Context, id uuid.UUID) error {
	err := s.withRetries(ctx, func(ctx context.Context, tx TxRepository) error {
		movement, err := tx.GetMovementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.GetBalanceForUpdate(ctx, movement.ItemID, movement.WarehouseID); err != nil {
			return err
		}
		allowNeg, err := s.allowNegative(ctx, movement.ItemID, false)
		if err != nil {
			return err
		}
		if err := tx.DeleteMovement(ctx, id); err != nil {
			return err
		}
		_, err = s.replayTx(ctx, tx, Key{ItemID: movement.ItemID, WarehouseID: movement.WarehouseID}, allowNeg)
		return err
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "ledger.movement.delete", id.String())
	return nil
}

// Replay rebuilds one stream from its full movement history. Already-recorded
// history always folds, so negative intermediate balances are tolerated here.
// On failure the transaction rolls back, prior state stays intact and a retry
// task is enqueued.
func (s *Service) Replay(ctx context.Context, itemID, warehouseID int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReplayTimeout)
	defer cancel()

	started := time.Now()
	err := s.withRetries(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetBalanceForUpdate(ctx, itemID, warehouseID); err != nil {
			return err
		}
		_, err := s.replayTx(ctx, tx, Key{ItemID: itemID, WarehouseID: warehouseID}, true)
		return err
	})
	if err != nil {
		if s.scheduler != nil {
			if enqErr := s.scheduler.EnqueueReplay(context.WithoutCancel(ctx), itemID, warehouseID); enqErr != nil {
				return fmt.Errorf("%w: %v (retry enqueue failed: %v)", ErrReplayFailed, err, enqErr)
			}
		}
		return fmt.Errorf("%w: %v", ErrReplayFailed, err)
	}
	if s.metrics != nil {
		s.metrics.ReplayCompleted(time.Since(started))
	}
	return nil
}

// RebuildAll replays every stream. Distinct streams proceed in parallel;
// replays of one stream serialize on its balance row lock.
func (s *Service) RebuildAll(ctx context.Context) error {
	keys, err := s.repo.ListKeys(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RebuildParallel)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return s.Replay(ctx, key.ItemID, key.WarehouseID)
		})
	}
	return g.Wait()
}

// replayTx rebuilds one stream inside an open transaction: fold from zero,
// overwrite every kardex entry and the balance. The rebuilt entries are
// returned so batch callers can read the costs issues settled at.
func (s *Service) replayTx(ctx context.Context, tx TxRepository, key Key, allowNegative bool) ([]Entry, error) {
	movements, err := tx.ListMovements(ctx, key.ItemID, key.WarehouseID)
	if err != nil {
		return nil, err
	}
	entries, pos, err := Fold(movements, allowNegative)
	if err != nil {
		return nil, err
	}
	if err := tx.ReplaceEntries(ctx, key.ItemID, key.WarehouseID, entries); err != nil {
		return nil, err
	}
	balance := Balance{
		ItemID:      key.ItemID,
		WarehouseID: key.WarehouseID,
		Quantity:    pos.Quantity,
		TotalValue:  pos.Value,
		AverageCost: pos.AverageCost,
	}
	if len(entries) > 0 {
		balance.LastMovementAt = entries[len(entries)-1].EffectiveDate
	}
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return nil, err
	}
	return entries, tx.RefreshItemMirror(ctx, key.ItemID)
}

// matchPricedReceipts pairs each source-priced receipt with the issue in the
// same batch that it is priced from: same item, same document, opposite
// quantity.
func matchPricedReceipts(inputs []RecordInput) (map[int]int, error) {
	var pairs map[int]int
	for i, in := range inputs {
		if !in.PriceFromSource {
			continue
		}
		matched := -1
		for j, cand := range inputs {
			if cand.Type == MovementTransferOut && cand.ItemID == in.ItemID &&
				cand.DocumentRef == in.DocumentRef && cand.Quantity.Equal(in.Quantity.Neg()) {
				matched = j
				break
			}
		}
		if matched < 0 {
			return nil, fmt.Errorf("%w: receipt of item %d has no matching issue in the batch", ErrValidation, in.ItemID)
		}
		if pairs == nil {
			pairs = make(map[int]int)
		}
		pairs[i] = matched
	}
	return pairs, nil
}

// batchOrder sequences the batch's streams so every stream issuing
// transferred stock settles before the stream receiving it.
func batchOrder(keys []Key, deps map[Key][]Key) ([]Key, error) {
	if len(deps) == 0 {
		return keys, nil
	}
	ordered := make([]Key, 0, len(keys))
	done := make(map[Key]bool, len(keys))
	for len(ordered) < len(keys) {
		progressed := false
		for _, key := range keys {
			if done[key] {
				continue
			}
			ready := true
			for _, dep := range deps[key] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			ordered = append(ordered, key)
			done[key] = true
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("%w: transfer pricing is circular", ErrValidation)
		}
	}
	return ordered, nil
}

// GetBalance returns the materialized balance for one stream. A stream that
// never moved reads as an all-zero balance.
func (s *Service) GetBalance(ctx context.Context, itemID, warehouseID int64) (Balance, error) {
	balance, err := s.repo.GetBalance(ctx, itemID, warehouseID)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return Balance{ItemID: itemID, WarehouseID: warehouseID}, nil
		}
		return Balance{}, err
	}
	return balance, nil
}

// GetBalanceAggregate sums an item's balances across warehouses.
func (s *Service) GetBalanceAggregate(ctx context.Context, itemID int64) (Balance, error) {
	return s.repo.AggregateBalance(ctx, itemID)
}

// KardexView is an ordered slice of the ledger, optionally headed by the
// position carried forward from before the requested window.
type KardexView struct {
	Opening    Position
	HasOpening bool
	Entries    []Entry
}

// GetKardex returns the ledger view for one item: a single stream when the
// filter names a warehouse, or every stream of the item merged in canonical
// order when it does not. When the filter has a From date the position just
// before it is carried forward as the opening line, so windowed views still
// reconcile; without a warehouse the opening sums the item's streams.
func (s *Service) GetKardex(ctx context.Context, filter KardexFilter) (KardexView, error) {
	if filter.ItemID == 0 {
		return KardexView{}, fmt.Errorf("%w: item required", ErrValidation)
	}
	entries, err := s.repo.Kardex(ctx, filter)
	if err != nil {
		return KardexView{}, err
	}
	view := KardexView{Entries: entries}
	if !filter.From.IsZero() {
		opening, err := s.repo.OpeningPosition(ctx, filter.ItemID, filter.WarehouseID, filter.From)
		if err != nil {
			return KardexView{}, err
		}
		view.Opening = opening
		view.HasOpening = true
	}
	return view, nil
}

// GetMovement fetches one movement.
func (s *Service) GetMovement(ctx context.Context, id uuid.UUID) (Movement, error) {
	return s.repo.GetMovement(ctx, id)
}

// ListBalances returns every balance, optionally restricted to one warehouse.
func (s *Service) ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error) {
	return s.repo.ListBalances(ctx, warehouseID)
}

// ConsumptionSince sums outbound quantities for one stream from the given date.
func (s *Service) ConsumptionSince(ctx context.Context, itemID, warehouseID int64, since time.Time) (decimal.Decimal, error) {
	return s.repo.ConsumptionSince(ctx, itemID, warehouseID, since)
}

// withRetries runs the transactional callback, retrying bounded times on
// serialization failures before surfacing ErrConflict.
func (s *Service) withRetries(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt < s.cfg.ConflictRetries; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if err == nil || !retryableTxError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

// allowNegative resolves the item's policy even when force is set, so a
// forced movement against an unknown item still fails before any write.
func (s *Service) allowNegative(ctx context.Context, itemID int64, force bool) (bool, error) {
	if s.master == nil {
		return force, nil
	}
	policy, err := s.master.ItemPolicy(ctx, itemID)
	if err != nil {
		return false, err
	}
	return force || policy.AllowBackorder, nil
}

func (s *Service) ensureWarehouse(ctx context.Context, warehouseID int64) error {
	if s.master == nil {
		return nil
	}
	known, err := s.master.WarehouseExists(ctx, warehouseID)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: unknown warehouse %d", ErrValidation, warehouseID)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "stock_movement",
		EntityID: entityID,
	})
}
