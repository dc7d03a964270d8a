package documents

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists posting documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertAdjustment stores a draft adjustment with its lines.
func (r *Repository) InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO stock_adjustments (ref, status, reason, created_by, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, adj.Ref, string(adj.Status), adj.Reason, adj.CreatedBy).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, line := range adj.Lines {
		_, err = tx.Exec(ctx, `INSERT INTO stock_adjustment_lines (adjustment_id, item_id, warehouse_id, quantity, unit_cost)
VALUES ($1,$2,$3,$4,$5)`, id, line.ItemID, line.WarehouseID, line.Quantity, line.UnitCost)
		if err != nil {
			return 0, err
		}
	}
	return id, tx.Commit(ctx)
}

// GetAdjustment fetches one adjustment with lines.
func (r *Repository) GetAdjustment(ctx context.Context, id int64) (Adjustment, error) {
	var adj Adjustment
	err := r.pool.QueryRow(ctx, `SELECT id, ref, status, reason, created_by, COALESCE(approved_by, 0), created_at, COALESCE(posted_at, 'epoch')
FROM stock_adjustments WHERE id=$1`, id).Scan(&adj.ID, &adj.Ref, &adj.Status, &adj.Reason, &adj.CreatedBy, &adj.ApprovedBy, &adj.CreatedAt, &adj.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, ErrNotFound
		}
		return Adjustment{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, warehouse_id, quantity, unit_cost
FROM stock_adjustment_lines WHERE adjustment_id=$1 ORDER BY id`, id)
	if err != nil {
		return Adjustment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line AdjustmentLine
		if err := rows.Scan(&line.ID, &line.ItemID, &line.WarehouseID, &line.Quantity, &line.UnitCost); err != nil {
			return Adjustment{}, err
		}
		adj.Lines = append(adj.Lines, line)
	}
	return adj, rows.Err()
}

// ListAdjustments lists adjustments newest first, without lines.
func (r *Repository) ListAdjustments(ctx context.Context, limit int) ([]Adjustment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, ref, status, reason, created_by, COALESCE(approved_by, 0), created_at, COALESCE(posted_at, 'epoch')
FROM stock_adjustments ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Adjustment{}
	for rows.Next() {
		var adj Adjustment
		if err := rows.Scan(&adj.ID, &adj.Ref, &adj.Status, &adj.Reason, &adj.CreatedBy, &adj.ApprovedBy, &adj.CreatedAt, &adj.PostedAt); err != nil {
			return nil, err
		}
		out = append(out, adj)
	}
	return out, rows.Err()
}

// MarkAdjustmentPosted flips draft to posted; returns ErrInvalidState when
// the document already left draft.
func (r *Repository) MarkAdjustmentPosted(ctx context.Context, id, approvedBy int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_adjustments SET status=$2, approved_by=$3, posted_at=$4
WHERE id=$1 AND status=$5`, id, string(AdjustmentPosted), approvedBy, at, string(AdjustmentDraft))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// InsertTransfer stores a pending transfer with its lines.
func (r *Repository) InsertTransfer(ctx context.Context, tr Transfer) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO stock_transfers (ref, status, from_warehouse_id, to_warehouse_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`, tr.Ref, string(tr.Status), tr.FromWarehouseID, tr.ToWarehouseID, tr.CreatedBy).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, line := range tr.Lines {
		_, err = tx.Exec(ctx, `INSERT INTO stock_transfer_lines (transfer_id, item_id, quantity)
VALUES ($1,$2,$3)`, id, line.ItemID, line.Quantity)
		if err != nil {
			return 0, err
		}
	}
	return id, tx.Commit(ctx)
}

// GetTransfer fetches one transfer with lines.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	var tr Transfer
	err := r.pool.QueryRow(ctx, `SELECT id, ref, status, from_warehouse_id, to_warehouse_id, created_by, created_at, COALESCE(completed_at, 'epoch')
FROM stock_transfers WHERE id=$1`, id).Scan(&tr.ID, &tr.Ref, &tr.Status, &tr.FromWarehouseID, &tr.ToWarehouseID, &tr.CreatedBy, &tr.CreatedAt, &tr.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, quantity FROM stock_transfer_lines WHERE transfer_id=$1 ORDER BY id`, id)
	if err != nil {
		return Transfer{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line TransferLine
		if err := rows.Scan(&line.ID, &line.ItemID, &line.Quantity); err != nil {
			return Transfer{}, err
		}
		tr.Lines = append(tr.Lines, line)
	}
	return tr, rows.Err()
}

// ListTransfers lists transfers newest first, without lines.
func (r *Repository) ListTransfers(ctx context.Context, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, ref, status, from_warehouse_id, to_warehouse_id, created_by, created_at, COALESCE(completed_at, 'epoch')
FROM stock_transfers ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Transfer{}
	for rows.Next() {
		var tr Transfer
		if err := rows.Scan(&tr.ID, &tr.Ref, &tr.Status, &tr.FromWarehouseID, &tr.ToWarehouseID, &tr.CreatedBy, &tr.CreatedAt, &tr.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// UpdateTransferStatus flips a transfer between states; the expected current
// status guards against racing transitions.
func (r *Repository) UpdateTransferStatus(ctx context.Context, id int64, from, to TransferStatus, completedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_transfers SET status=$2, completed_at=COALESCE(NULLIF($3, 'epoch'::timestamptz), completed_at)
WHERE id=$1 AND status=$4`, id, string(to), completedAt, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// InsertCount stores a draft inventory count with its lines.
func (r *Repository) InsertCount(ctx context.Context, count InventoryCount) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO inventory_counts (ref, status, warehouse_id, created_by, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, count.Ref, string(count.Status), count.WarehouseID, count.CreatedBy).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, line := range count.Lines {
		_, err = tx.Exec(ctx, `INSERT INTO inventory_count_lines (count_id, item_id, system_quantity, unit_cost)
VALUES ($1,$2,$3,$4)`, id, line.ItemID, line.SystemQuantity, line.UnitCost)
		if err != nil {
			return 0, err
		}
	}
	return id, tx.Commit(ctx)
}

// GetCount fetches one inventory count with lines.
func (r *Repository) GetCount(ctx context.Context, id int64) (InventoryCount, error) {
	var count InventoryCount
	err := r.pool.QueryRow(ctx, `SELECT id, ref, status, warehouse_id, created_by, COALESCE(approved_by, 0), created_at, COALESCE(approved_at, 'epoch')
FROM inventory_counts WHERE id=$1`, id).Scan(&count.ID, &count.Ref, &count.Status, &count.WarehouseID, &count.CreatedBy, &count.ApprovedBy, &count.CreatedAt, &count.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryCount{}, ErrNotFound
		}
		return InventoryCount{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, system_quantity, counted_quantity, unit_cost
FROM inventory_count_lines WHERE count_id=$1 ORDER BY id`, id)
	if err != nil {
		return InventoryCount{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line CountLine
		if err := rows.Scan(&line.ID, &line.ItemID, &line.SystemQuantity, &line.CountedQuantity, &line.UnitCost); err != nil {
			return InventoryCount{}, err
		}
		count.Lines = append(count.Lines, line)
	}
	return count, rows.Err()
}

// ListCounts lists inventory counts newest first, without lines.
func (r *Repository) ListCounts(ctx context.Context, limit int) ([]InventoryCount, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, ref, status, warehouse_id, created_by, COALESCE(approved_by, 0), created_at, COALESCE(approved_at, 'epoch')
FROM inventory_counts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []InventoryCount{}
	for rows.Next() {
		var count InventoryCount
		if err := rows.Scan(&count.ID, &count.Ref, &count.Status, &count.WarehouseID, &count.CreatedBy, &count.ApprovedBy, &count.CreatedAt, &count.ApprovedAt); err != nil {
			return nil, err
		}
		out = append(out, count)
	}
	return out, rows.Err()
}

// UpdateCountStatus flips a count between states guarded by the expected
// current status.
func (r *Repository) UpdateCountStatus(ctx context.Context, id int64, from, to CountStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE inventory_counts SET status=$2 WHERE id=$1 AND status=$3`,
		id, string(to), string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkCountApproved flips ready_for_approval to approved with the approver.
func (r *Repository) MarkCountApproved(ctx context.Context, id, approvedBy int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE inventory_counts SET status=$2, approved_by=$3, approved_at=$4
WHERE id=$1 AND status=$5`, id, string(CountApproved), approvedBy, at, string(CountReadyForApproval))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// UpdateCountLine stores a counted figure on one line.
func (r *Repository) UpdateCountLine(ctx context.Context, countID, lineID int64, counted CountLinePatch) error {
	tag, err := r.pool.Exec(ctx, `UPDATE inventory_count_lines SET counted_quantity=$3
WHERE id=$2 AND count_id=$1`, countID, lineID, counted.CountedQuantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCountSystemQuantities freezes system quantities when counting starts.
func (r *Repository) SetCountSystemQuantities(ctx context.Context, countID int64, lines []CountLine) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, line := range lines {
		_, err = tx.Exec(ctx, `UPDATE inventory_count_lines SET system_quantity=$3, unit_cost=$4
WHERE id=$2 AND count_id=$1`, countID, line.ID, line.SystemQuantity, line.UnitCost)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
