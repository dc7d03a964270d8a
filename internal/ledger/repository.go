package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/larder-erp/larder-erp/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. All
// mutations of one (item, warehouse) stream happen behind the FOR UPDATE
// lock taken by GetBalanceForUpdate.
type TxRepository interface {
	InsertMovement(ctx context.Context, m Movement) error
	UpdateMovement(ctx context.Context, m Movement) error
	DeleteMovement(ctx context.Context, id uuid.UUID) error
	GetMovementForUpdate(ctx context.Context, id uuid.UUID) (Movement, error)
	ListMovements(ctx context.Context, itemID, warehouseID int64) ([]Movement, error)
	GetBalanceForUpdate(ctx context.Context, itemID, warehouseID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertEntry(ctx context.Context, entry Entry) error
	ReplaceEntries(ctx context.Context, itemID, warehouseID int64, entries []Entry) error
	RefreshItemMirror(ctx context.Context, itemID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// retryableTxError reports serialization and deadlock failures that a caller
// may safely retry with a fresh transaction.
func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return errors.Is(err, ErrConflict)
}

const movementColumns = `id, item_id, warehouse_id, movement_type, quantity, unit_cost, effective_date, document_ref, created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.ItemID, &m.WarehouseID, &m.Type, &m.Quantity,
		&m.UnitCost, &m.EffectiveDate, &m.DocumentRef, &m.CreatedAt)
	return m, err
}

// GetMovement fetches one movement by id.
func (r *Repository) GetMovement(ctx context.Context, id uuid.UUID) (Movement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1`, id)
	m, err := scanMovement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	return m, nil
}

// GetBalance fetches the balance for one (item, warehouse) pair.
func (r *Repository) GetBalance(ctx context.Context, itemID, warehouseID int64) (Balance, error) {
	row := r.pool.QueryRow(ctx, `SELECT item_id, warehouse_id, quantity, total_value, avg_cost, last_movement_at, version
FROM stock_balances WHERE item_id=$1 AND warehouse_id=$2`, itemID, warehouseID)
	var bal Balance
	err := row.Scan(&bal.ItemID, &bal.WarehouseID, &bal.Quantity, &bal.TotalValue,
		&bal.AverageCost, &bal.LastMovementAt, &bal.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{ItemID: itemID, WarehouseID: warehouseID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

// AggregateBalance sums an item's balances across all warehouses. The
// aggregate average cost is total value over total quantity, not an average
// of per-warehouse averages.
func (r *Repository) AggregateBalance(ctx context.Context, itemID int64) (Balance, error) {
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0), COALESCE(SUM(total_value), 0), COALESCE(MAX(last_movement_at), 'epoch')
FROM stock_balances WHERE item_id=$1`, itemID)
	bal := Balance{ItemID: itemID}
	if err := row.Scan(&bal.Quantity, &bal.TotalValue, &bal.LastMovementAt); err != nil {
		return Balance{}, err
	}
	if bal.Quantity.IsPositive() {
		bal.AverageCost = bal.TotalValue.DivRound(bal.Quantity, avgCostScale)
	}
	return bal, nil
}

// ListBalances returns every balance, optionally restricted to one warehouse.
func (r *Repository) ListBalances(ctx context.Context, warehouseID int64) ([]Balance, error) {
	query := `SELECT item_id, warehouse_id, quantity, total_value, avg_cost, last_movement_at, version FROM stock_balances`
	args := []any{}
	if warehouseID != 0 {
		query += ` WHERE warehouse_id=$1`
		args = append(args, warehouseID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []Balance
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.ItemID, &bal.WarehouseID, &bal.Quantity, &bal.TotalValue,
			&bal.AverageCost, &bal.LastMovementAt, &bal.Version); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// Kardex lists ledger entries in canonical order: one stream when the filter
// names a warehouse, all of the item's streams merged when it does not.
func (r *Repository) Kardex(ctx context.Context, filter KardexFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT movement_id, item_id, warehouse_id, movement_type, qty_in, qty_out, unit_cost, running_balance, running_value, avg_cost, effective_date, created_at, document_ref
FROM kardex_entries
WHERE item_id=$1 AND ($2::bigint = 0 OR warehouse_id=$2)
  AND effective_date BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY effective_date, created_at, movement_id
LIMIT $5`, filter.ItemID, filter.WarehouseID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.MovementID, &e.ItemID, &e.WarehouseID, &e.Type, &e.QuantityIn,
			&e.QuantityOut, &e.UnitCost, &e.RunningBalance, &e.RunningValue, &e.AverageCost,
			&e.EffectiveDate, &e.CreatedAt, &e.DocumentRef); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// OpeningPosition returns the position just before the given date, used to
// seed the carried-forward opening row of a partial kardex view. With
// warehouseID zero it sums the last position of every stream of the item.
func (r *Repository) OpeningPosition(ctx context.Context, itemID, warehouseID int64, before time.Time) (Position, error) {
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(running_balance), 0), COALESCE(SUM(running_value), 0)
FROM (SELECT DISTINCT ON (warehouse_id) running_balance, running_value
      FROM kardex_entries
      WHERE item_id=$1 AND ($2::bigint = 0 OR warehouse_id=$2) AND effective_date < $3
      ORDER BY warehouse_id, effective_date DESC, created_at DESC, movement_id DESC) last_per_stream`,
		itemID, warehouseID, before)
	var pos Position
	if err := row.Scan(&pos.Quantity, &pos.Value); err != nil {
		return Position{}, err
	}
	if pos.Quantity.IsPositive() {
		pos.AverageCost = pos.Value.DivRound(pos.Quantity, avgCostScale)
	}
	return pos, nil
}

// ListKeys enumerates every (item, warehouse) stream present in the ledger.
func (r *Repository) ListKeys(ctx context.Context) ([]Key, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT item_id, warehouse_id FROM stock_movements ORDER BY item_id, warehouse_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.ItemID, &k.WarehouseID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ConsumptionSince sums outbound quantities for one stream from the given
// date, the input of the days-of-cover estimate.
func (r *Repository) ConsumptionSince(ctx context.Context, itemID, warehouseID int64, since time.Time) (decimal.Decimal, error) {
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty_out), 0)
FROM kardex_entries WHERE item_id=$1 AND warehouse_id=$2 AND effective_date >= $3`, itemID, warehouseID, since)
	var total decimal.Decimal
	if err := row.Scan(&total); err != nil {
		return decimal.Decimal{}, err
	}
	return total, nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_movements (`+movementColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.ItemID, m.WarehouseID, string(m.Type), m.Quantity, m.UnitCost,
		m.EffectiveDate, m.DocumentRef, m.CreatedAt)
	return err
}

func (r *txRepository) UpdateMovement(ctx context.Context, m Movement) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_movements
SET quantity=$2, unit_cost=$3, effective_date=$4, document_ref=$5
WHERE id=$1`, m.ID, m.Quantity, m.UnitCost, m.EffectiveDate, m.DocumentRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

func (r *txRepository) DeleteMovement(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_movements WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

func (r *txRepository) GetMovementForUpdate(ctx context.Context, id uuid.UUID) (Movement, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1 FOR UPDATE`, id)
	m, err := scanMovement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	return m, nil
}

func (r *txRepository) ListMovements(ctx context.Context, itemID, warehouseID int64) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE item_id=$1 AND warehouse_id=$2
ORDER BY effective_date, created_at, id`, itemID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, itemID, warehouseID int64) (Balance, error) {
	// The balance row is the per-key linearization point: insert it on first
	// touch, then lock it for the remainder of the transaction.
	if _, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (item_id, warehouse_id, quantity, total_value, avg_cost, last_movement_at, version)
VALUES ($1,$2,0,0,0,'epoch',0) ON CONFLICT (item_id, warehouse_id) DO NOTHING`, itemID, warehouseID); err != nil {
		return Balance{}, err
	}
	row := r.tx.QueryRow(ctx, `SELECT item_id, warehouse_id, quantity, total_value, avg_cost, last_movement_at, version
FROM stock_balances WHERE item_id=$1 AND warehouse_id=$2 FOR UPDATE`, itemID, warehouseID)
	var bal Balance
	err := row.Scan(&bal.ItemID, &bal.WarehouseID, &bal.Quantity, &bal.TotalValue,
		&bal.AverageCost, &bal.LastMovementAt, &bal.Version)
	if err != nil {
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (item_id, warehouse_id, quantity, total_value, avg_cost, last_movement_at, version)
VALUES ($1,$2,$3,$4,$5,$6,1)
ON CONFLICT (item_id, warehouse_id) DO UPDATE
SET quantity=EXCLUDED.quantity, total_value=EXCLUDED.total_value, avg_cost=EXCLUDED.avg_cost,
    last_movement_at=EXCLUDED.last_movement_at, version=stock_balances.version + 1`,
		balance.ItemID, balance.WarehouseID, balance.Quantity, balance.TotalValue,
		balance.AverageCost, balance.LastMovementAt)
	return err
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO kardex_entries (movement_id, item_id, warehouse_id, movement_type, qty_in, qty_out, unit_cost, running_balance, running_value, avg_cost, effective_date, created_at, document_ref)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		entry.MovementID, entry.ItemID, entry.WarehouseID, string(entry.Type),
		entry.QuantityIn, entry.QuantityOut, entry.UnitCost, entry.RunningBalance,
		entry.RunningValue, entry.AverageCost, entry.EffectiveDate, entry.CreatedAt, entry.DocumentRef)
	return err
}

func (r *txRepository) ReplaceEntries(ctx context.Context, itemID, warehouseID int64, entries []Entry) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM kardex_entries WHERE item_id=$1 AND warehouse_id=$2`, itemID, warehouseID); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := r.InsertEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// RefreshItemMirror recomputes the denormalized stock columns kept on the
// item master record for legacy readers. The balance table stays the source
// of truth.
func (r *txRepository) RefreshItemMirror(ctx context.Context, itemID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_items i
SET current_stock = s.qty,
    total_value   = s.value,
    unit_price    = CASE WHEN s.qty > 0 THEN ROUND(s.value / s.qty, 6) ELSE 0 END,
    is_low_stock  = (s.qty <= i.min_stock)
FROM (SELECT COALESCE(SUM(quantity), 0) AS qty, COALESCE(SUM(total_value), 0) AS value
      FROM stock_balances WHERE item_id=$1) s
WHERE i.id=$1`, itemID)
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
