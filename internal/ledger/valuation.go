package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// avgCostScale is the rounding scale of the stored average cost. Issues are
// costed at this rounded average, so replays converge to identical output.
const avgCostScale = 6

// Position is a running (quantity, value, average cost) triple: the state of
// one (item, warehouse) stream after some prefix of its canonical history.
type Position struct {
	Quantity    decimal.Decimal
	Value       decimal.Decimal
	AverageCost decimal.Decimal
}

// Apply advances the position by one movement using moving weighted-average
// valuation: receipts blend their unit cost into the average, issues are
// costed at the average prevailing at the moment of issue. Quantity and
// value reset to zero together when the stream empties.
func (p Position) Apply(m Movement) Position {
	qty := p.Quantity.Add(m.Quantity)
	var value decimal.Decimal
	if m.Quantity.IsPositive() {
		value = p.Value.Add(m.Quantity.Mul(m.UnitCost))
	} else {
		value = p.Value.Add(m.Quantity.Mul(p.AverageCost))
	}
	next := Position{Quantity: qty, Value: value}
	switch {
	case qty.IsZero():
		next.Value = decimal.Zero
		next.AverageCost = decimal.Zero
	case qty.IsNegative():
		// Backordered stock carries no cost basis until receipts catch up.
		next.AverageCost = decimal.Zero
	default:
		next.AverageCost = value.DivRound(qty, avgCostScale)
	}
	return next
}

// Step applies one movement and materializes its kardex entry.
func Step(p Position, m Movement) (Entry, Position) {
	next := p.Apply(m)
	entry := Entry{
		MovementID:     m.ID,
		ItemID:         m.ItemID,
		WarehouseID:    m.WarehouseID,
		Type:           m.Type,
		EffectiveDate:  m.EffectiveDate,
		CreatedAt:      m.CreatedAt,
		DocumentRef:    m.DocumentRef,
		RunningBalance: next.Quantity,
		RunningValue:   next.Value,
		AverageCost:    next.AverageCost,
	}
	if m.Quantity.IsPositive() {
		entry.QuantityIn = m.Quantity
		entry.UnitCost = m.UnitCost
	} else {
		entry.QuantityOut = m.Quantity.Neg()
		entry.UnitCost = p.AverageCost
	}
	return entry, next
}

// Fold rebuilds the full kardex for one stream from scratch: movements are
// sorted into canonical order and folded from an empty position. When
// allowNegative is false the fold rejects any movement that would drive the
// running balance below zero, leaving the caller's state untouched.
func Fold(movements []Movement, allowNegative bool) ([]Entry, Position, error) {
	sorted := make([]Movement, len(movements))
	copy(sorted, movements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return CanonicalLess(sorted[i], sorted[j])
	})

	entries := make([]Entry, 0, len(sorted))
	var pos Position
	for _, m := range sorted {
		entry, next := Step(pos, m)
		if next.Quantity.IsNegative() && !allowNegative {
			return nil, Position{}, fmt.Errorf("%w: movement %s would drive balance to %s",
				ErrInsufficientStock, m.ID, next.Quantity)
		}
		entries = append(entries, entry)
		pos = next
	}
	return entries, pos, nil
}
