package ledger

import (
	"bytes"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementPurchase represents goods received from a supplier.
	MovementPurchase MovementType = "PURCHASE"
	// MovementSale represents goods issued to a sale.
	MovementSale MovementType = "SALE"
	// MovementTransferIn credits the destination warehouse of a transfer.
	MovementTransferIn MovementType = "TRANSFER_IN"
	// MovementTransferOut debits the source warehouse of a transfer.
	MovementTransferOut MovementType = "TRANSFER_OUT"
	// MovementAdjustment is a manual correction, positive or negative.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementInitial seeds an opening balance.
	MovementInitial MovementType = "INITIAL"
	// MovementCountCorrection reconciles a counted discrepancy.
	MovementCountCorrection MovementType = "COUNT_CORRECTION"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementTransferIn, MovementTransferOut,
		MovementAdjustment, MovementInitial, MovementCountCorrection:
		return true
	}
	return false
}

// Inbound reports whether the type only admits positive quantities.
func (t MovementType) Inbound() bool {
	switch t {
	case MovementPurchase, MovementTransferIn, MovementInitial:
		return true
	}
	return false
}

// Outbound reports whether the type only admits negative quantities.
func (t MovementType) Outbound() bool {
	switch t {
	case MovementSale, MovementTransferOut:
		return true
	}
	return false
}

// Movement is the append-only stock fact. Its business fields never change
// after recording except through the explicit back-dated correction path,
// which always triggers a replay of the affected key.
type Movement struct {
	ID            uuid.UUID
	ItemID        int64
	WarehouseID   int64
	Type          MovementType
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	EffectiveDate time.Time
	DocumentRef   string
	CreatedAt     time.Time
}

// Entry is the kardex row derived from one movement: the movement's in/out
// split plus the running balance, running value and average cost as of that
// movement in canonical order. Running columns are overwritten by replay;
// the identifying fields never are.
type Entry struct {
	MovementID     uuid.UUID
	ItemID         int64
	WarehouseID    int64
	Type           MovementType
	QuantityIn     decimal.Decimal
	QuantityOut    decimal.Decimal
	UnitCost       decimal.Decimal
	RunningBalance decimal.Decimal
	RunningValue   decimal.Decimal
	AverageCost    decimal.Decimal
	EffectiveDate  time.Time
	CreatedAt      time.Time
	DocumentRef    string
}

// Balance is the materialized aggregate per (item, warehouse). It always
// mirrors the running columns of the last kardex entry in canonical order
// and is rebuildable from the movement history.
type Balance struct {
	ItemID         int64
	WarehouseID    int64
	Quantity       decimal.Decimal
	TotalValue     decimal.Decimal
	AverageCost    decimal.Decimal
	LastMovementAt time.Time
	Version        int64
}

// Key identifies one balance/ledger stream.
type Key struct {
	ItemID      int64
	WarehouseID int64
}

// KardexFilter bounds a kardex query.
type KardexFilter struct {
	ItemID      int64
	WarehouseID int64
	From        time.Time
	To          time.Time
	Limit       int
}

// MovementPatch carries the editable fields of a back-dated correction.
// Nil fields are left untouched.
type MovementPatch struct {
	Quantity      *decimal.Decimal
	UnitCost      *decimal.Decimal
	EffectiveDate *time.Time
	DocumentRef   *string
}

// CanonicalLess orders movements by (effectiveDate, createdAt, movementID),
// the only ordering under which the valuation fold is well defined.
func CanonicalLess(a, b Movement) bool {
	if !a.EffectiveDate.Equal(b.EffectiveDate) {
		return a.EffectiveDate.Before(b.EffectiveDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

var (
	// ErrValidation indicates malformed movement input, rejected before any write.
	ErrValidation = errors.New("ledger: invalid movement input")
	// ErrInsufficientStock triggered when a movement would drive quantity negative.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrConflict indicates a concurrent update lost the optimistic race after retries.
	ErrConflict = errors.New("ledger: concurrent balance update conflict")
	// ErrReplayFailed indicates an interrupted replay; prior state is intact and the replay is retryable.
	ErrReplayFailed = errors.New("ledger: replay failed")
	// ErrMovementNotFound indicates a missing movement row.
	ErrMovementNotFound = errors.New("ledger: movement not found")
	// ErrBalanceNotFound indicates a missing balance row.
	ErrBalanceNotFound = errors.New("ledger: balance not found")
)
