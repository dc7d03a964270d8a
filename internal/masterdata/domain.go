// Package masterdata manages the item and warehouse catalogs the ledger
// engine runs against.
package masterdata

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ValuationWeightedAverage is the only valuation method the engine supports.
const ValuationWeightedAverage = "WEIGHTED_AVERAGE"

// Item is a stock-keeping unit. CurrentStock, UnitPrice, TotalValue and
// IsLowStock are mirrors refreshed by the ledger engine; the balance table
// is the source of truth.
type Item struct {
	ID              int64           `json:"id"`
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	Unit            string          `json:"unit"`
	MinStock        decimal.Decimal `json:"minStock"`
	MaxStock        decimal.Decimal `json:"maxStock"`
	ValuationMethod string          `json:"valuationMethod"`
	AllowBackorder  bool            `json:"allowBackorder"`
	CurrentStock    decimal.Decimal `json:"currentStock"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	TotalValue      decimal.Decimal `json:"totalValue"`
	IsLowStock      bool            `json:"isLowStock"`
	IsActive        bool            `json:"isActive"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Warehouse is a physical stock location.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// ItemFilter bounds an item list query.
type ItemFilter struct {
	Search     string
	OnlyActive bool
	Limit      int
	Offset     int
}

var (
	// ErrItemNotFound indicates a missing item.
	ErrItemNotFound = errors.New("masterdata: item not found")
	// ErrWarehouseNotFound indicates a missing warehouse.
	ErrWarehouseNotFound = errors.New("masterdata: warehouse not found")
	// ErrDuplicateSKU indicates a SKU collision.
	ErrDuplicateSKU = errors.New("masterdata: sku already exists")
	// ErrValidation indicates malformed master data input.
	ErrValidation = errors.New("masterdata: invalid input")
)
