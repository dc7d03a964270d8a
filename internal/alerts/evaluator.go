// Package alerts derives stock-level signals from ledger balances. Alerts
// are ephemeral: recomputed from balances and thresholds, never stored as a
// source of truth.
package alerts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/larder-erp/larder-erp/internal/ledger"
	"github.com/larder-erp/larder-erp/internal/masterdata"
)

// AlertType classifies one stock signal.
type AlertType string

const (
	AlertOutOfStock AlertType = "out_of_stock"
	AlertCritical   AlertType = "critical"
	AlertLow        AlertType = "low"
	AlertOverstock  AlertType = "overstock"
)

// StockAlert is one derived signal for an (item, warehouse) balance.
type StockAlert struct {
	ItemID      int64           `json:"itemId"`
	WarehouseID int64           `json:"warehouseId"`
	SKU         string          `json:"sku"`
	Type        AlertType       `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	MinStock    decimal.Decimal `json:"minStock"`
	MaxStock    decimal.Decimal `json:"maxStock"`
	DaysOfCover decimal.Decimal `json:"daysOfCover"`
	EvaluatedAt time.Time       `json:"evaluatedAt"`
}

// criticalCoverDays is the days-of-cover floor below which a low alert
// escalates to critical.
var criticalCoverDays = decimal.NewFromInt(3)

// Classify maps one balance against its item thresholds. DailyConsumption
// is the trailing-window average daily outflow; zero means unknown. Returns
// false when the balance is healthy.
func Classify(balance ledger.Balance, item masterdata.Item, dailyConsumption decimal.Decimal, now time.Time) (StockAlert, bool) {
	alert := StockAlert{
		ItemID:      balance.ItemID,
		WarehouseID: balance.WarehouseID,
		SKU:         item.SKU,
		Quantity:    balance.Quantity,
		MinStock:    item.MinStock,
		MaxStock:    item.MaxStock,
		EvaluatedAt: now,
	}
	if dailyConsumption.IsPositive() {
		alert.DaysOfCover = balance.Quantity.DivRound(dailyConsumption, 1)
	}

	switch {
	case !balance.Quantity.IsPositive():
		alert.Type = AlertOutOfStock
	case item.MinStock.IsPositive() && balance.Quantity.LessThanOrEqual(item.MinStock.Div(decimal.NewFromInt(2))):
		alert.Type = AlertCritical
	case item.MinStock.IsPositive() && balance.Quantity.LessThanOrEqual(item.MinStock):
		alert.Type = AlertLow
		if dailyConsumption.IsPositive() && alert.DaysOfCover.LessThanOrEqual(criticalCoverDays) {
			alert.Type = AlertCritical
		}
	case item.MaxStock.IsPositive() && balance.Quantity.GreaterThanOrEqual(item.MaxStock):
		alert.Type = AlertOverstock
	default:
		return StockAlert{}, false
	}
	return alert, true
}

// Evaluate classifies every balance against its item master record. Unknown
// items are skipped.
func Evaluate(balances []ledger.Balance, items map[int64]masterdata.Item, consumption map[ledger.Key]decimal.Decimal, now time.Time) []StockAlert {
	alerts := []StockAlert{}
	for _, balance := range balances {
		item, ok := items[balance.ItemID]
		if !ok || !item.IsActive {
			continue
		}
		daily := consumption[ledger.Key{ItemID: balance.ItemID, WarehouseID: balance.WarehouseID}]
		if alert, flagged := Classify(balance, item, daily, now); flagged {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}
