// Package documents holds the posting documents that feed the stock ledger:
// adjustments, transfers and inventory counts. Documents orchestrate; every
// stock effect goes through the ledger service.
package documents

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AdjustmentStatus is the lifecycle of a stock adjustment.
type AdjustmentStatus string

const (
	AdjustmentDraft  AdjustmentStatus = "draft"
	AdjustmentPosted AdjustmentStatus = "posted"
)

// Adjustment is a manual stock correction document.
type Adjustment struct {
	ID         int64            `json:"id"`
	Ref        string           `json:"ref"`
	Status     AdjustmentStatus `json:"status"`
	Reason     string           `json:"reason"`
	Lines      []AdjustmentLine `json:"lines"`
	CreatedBy  int64            `json:"createdBy"`
	ApprovedBy int64            `json:"approvedBy,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	PostedAt   time.Time        `json:"postedAt,omitempty"`
}

// AdjustmentLine is one item correction inside an adjustment.
type AdjustmentLine struct {
	ID          int64           `json:"id"`
	ItemID      int64           `json:"itemId"`
	WarehouseID int64           `json:"warehouseId"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unitCost"`
}

// TransferStatus is the lifecycle of a stock transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferInTransit TransferStatus = "in_transit"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

// CanStart reports whether the transfer may begin moving.
func (s TransferStatus) CanStart() bool { return s == TransferPending }

// CanComplete reports whether the transfer may be received.
func (s TransferStatus) CanComplete() bool { return s == TransferInTransit }

// CanCancel reports whether the transfer may still be cancelled.
func (s TransferStatus) CanCancel() bool {
	return s == TransferPending || s == TransferInTransit
}

// Transfer moves stock between two warehouses.
type Transfer struct {
	ID              int64          `json:"id"`
	Ref             string         `json:"ref"`
	Status          TransferStatus `json:"status"`
	FromWarehouseID int64          `json:"fromWarehouseId"`
	ToWarehouseID   int64          `json:"toWarehouseId"`
	Lines           []TransferLine `json:"lines"`
	CreatedBy       int64          `json:"createdBy"`
	CreatedAt       time.Time      `json:"createdAt"`
	CompletedAt     time.Time      `json:"completedAt,omitempty"`
}

// TransferLine is one item inside a transfer.
type TransferLine struct {
	ID       int64           `json:"id"`
	ItemID   int64           `json:"itemId"`
	Quantity decimal.Decimal `json:"quantity"`
}

// CountStatus is the lifecycle of an inventory count.
type CountStatus string

const (
	CountDraft            CountStatus = "draft"
	CountCounting         CountStatus = "counting"
	CountReadyForApproval CountStatus = "ready_for_approval"
	CountApproved         CountStatus = "approved"
	CountClosed           CountStatus = "closed"
	CountCancelled        CountStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s CountStatus) Terminal() bool {
	return s == CountClosed || s == CountCancelled
}

// InventoryCount is a physical stock take. SystemQuantity freezes the
// balance at the moment counting starts; CountedQuantity is filled in by
// the counters.
type InventoryCount struct {
	ID          int64       `json:"id"`
	Ref         string      `json:"ref"`
	Status      CountStatus `json:"status"`
	WarehouseID int64       `json:"warehouseId"`
	Lines       []CountLine `json:"lines"`
	CreatedBy   int64       `json:"createdBy"`
	ApprovedBy  int64       `json:"approvedBy,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	ApprovedAt  time.Time   `json:"approvedAt,omitempty"`
}

// CountLine is one item in a stock take. CountedQuantity stays nil until a
// counter submits a figure.
type CountLine struct {
	ID              int64            `json:"id"`
	ItemID          int64            `json:"itemId"`
	SystemQuantity  decimal.Decimal  `json:"systemQuantity"`
	CountedQuantity *decimal.Decimal `json:"countedQuantity,omitempty"`
	UnitCost        decimal.Decimal  `json:"unitCost"`
}

// CountLinePatch carries a counter's submission for one line.
type CountLinePatch struct {
	CountedQuantity *decimal.Decimal
}

// Discrepancy is counted minus system; zero when nothing was counted.
func (l CountLine) Discrepancy() decimal.Decimal {
	if l.CountedQuantity == nil {
		return decimal.Zero
	}
	return l.CountedQuantity.Sub(l.SystemQuantity)
}

var (
	// ErrInvalidState indicates an illegal document state transition.
	ErrInvalidState = errors.New("documents: invalid state transition")
	// ErrValidation indicates malformed document input.
	ErrValidation = errors.New("documents: invalid input")
	// ErrNotFound indicates a missing document.
	ErrNotFound = errors.New("documents: not found")
	// ErrIncompleteCount indicates a submit with uncounted lines.
	ErrIncompleteCount = errors.New("documents: count has uncounted lines")
)
