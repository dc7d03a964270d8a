package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists master data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, sku, name, unit, min_stock, max_stock, valuation_method, allow_backorder,
current_stock, unit_price, total_value, is_low_stock, is_active, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.SKU, &it.Name, &it.Unit, &it.MinStock, &it.MaxStock,
		&it.ValuationMethod, &it.AllowBackorder, &it.CurrentStock, &it.UnitPrice,
		&it.TotalValue, &it.IsLowStock, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

// InsertItem stores a new item and returns its id.
func (r *Repository) InsertItem(ctx context.Context, item Item) (int64, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO inventory_items
(sku, name, unit, min_stock, max_stock, valuation_method, allow_backorder, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,NOW(),NOW()) RETURNING id`,
		item.SKU, item.Name, item.Unit, item.MinStock, item.MaxStock,
		item.ValuationMethod, item.AllowBackorder)
	var id int64
	if err := row.Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateSKU
		}
		return 0, err
	}
	return id, nil
}

// UpdateItem stores mutable item fields.
func (r *Repository) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.pool.Exec(ctx, `UPDATE inventory_items
SET name=$2, unit=$3, min_stock=$4, max_stock=$5, allow_backorder=$6, is_active=$7, updated_at=NOW()
WHERE id=$1`, item.ID, item.Name, item.Unit, item.MinStock, item.MaxStock, item.AllowBackorder, item.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// GetItem fetches one item by id.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// ListItems lists items matching the filter.
func (r *Repository) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE ($1 = '' OR sku ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')
  AND (NOT $2 OR is_active)
ORDER BY sku LIMIT $3 OFFSET $4`, filter.Search, filter.OnlyActive, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountItems counts items matching the filter.
func (r *Repository) CountItems(ctx context.Context, filter ItemFilter) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_items
WHERE ($1 = '' OR sku ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')
  AND (NOT $2 OR is_active)`, filter.Search, filter.OnlyActive).Scan(&total)
	return total, err
}

// ListItemsByIDs fetches a batch of items keyed by id.
func (r *Repository) ListItemsByIDs(ctx context.Context, ids []int64) (map[int64]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make(map[int64]Item, len(ids))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items[item.ID] = item
	}
	return items, rows.Err()
}

// InsertWarehouse stores a new warehouse and returns its id.
func (r *Repository) InsertWarehouse(ctx context.Context, wh Warehouse) (int64, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO warehouses (code, name, address, is_active, created_at)
VALUES ($1,$2,$3,TRUE,NOW()) RETURNING id`, wh.Code, wh.Name, wh.Address)
	var id int64
	if err := row.Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, errors.New("masterdata: warehouse code already exists")
		}
		return 0, err
	}
	return id, nil
}

// GetWarehouse fetches one warehouse.
func (r *Repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, code, name, address, is_active, created_at FROM warehouses WHERE id=$1`, id)
	var wh Warehouse
	if err := row.Scan(&wh.ID, &wh.Code, &wh.Name, &wh.Address, &wh.IsActive, &wh.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, ErrWarehouseNotFound
		}
		return Warehouse{}, err
	}
	return wh, nil
}

// ListWarehouses lists every warehouse.
func (r *Repository) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, address, is_active, created_at FROM warehouses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	warehouses := []Warehouse{}
	for rows.Next() {
		var wh Warehouse
		if err := rows.Scan(&wh.ID, &wh.Code, &wh.Name, &wh.Address, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, err
		}
		warehouses = append(warehouses, wh)
	}
	return warehouses, rows.Err()
}
