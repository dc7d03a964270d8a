package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(n int) time.Time {
	return time.Date(2026, time.March, n, 0, 0, 0, 0, time.UTC)
}

func mv(t MovementType, qty, cost string, effective time.Time, created time.Time) Movement {
	return Movement{
		ID:            uuid.New(),
		ItemID:        1,
		WarehouseID:   1,
		Type:          t,
		Quantity:      dec(qty),
		UnitCost:      dec(cost),
		EffectiveDate: effective,
		CreatedAt:     created,
	}
}

func TestApplyWeightedAverage(t *testing.T) {
	var pos Position

	pos = pos.Apply(mv(MovementPurchase, "100", "100", day(1), day(1)))
	require.True(t, pos.Quantity.Equal(dec("100")))
	require.True(t, pos.Value.Equal(dec("10000")))
	require.True(t, pos.AverageCost.Equal(dec("100")))

	pos = pos.Apply(mv(MovementSale, "-40", "0", day(2), day(2)))
	require.True(t, pos.Quantity.Equal(dec("60")))
	require.True(t, pos.Value.Equal(dec("6000")))
	require.True(t, pos.AverageCost.Equal(dec("100")), "issues leave the average untouched")

	pos = pos.Apply(mv(MovementPurchase, "50", "130", day(3), day(3)))
	require.True(t, pos.Quantity.Equal(dec("110")))
	require.True(t, pos.Value.Equal(dec("12500")))
	require.True(t, pos.AverageCost.Equal(dec("113.636364")))
}

func TestApplyZeroQuantityResetsValue(t *testing.T) {
	var pos Position
	pos = pos.Apply(mv(MovementPurchase, "3", "33.33", day(1), day(1)))
	pos = pos.Apply(mv(MovementSale, "-3", "0", day(2), day(2)))

	require.True(t, pos.Quantity.IsZero())
	require.True(t, pos.Value.IsZero(), "value resets with quantity")
	require.True(t, pos.AverageCost.IsZero())
}

func TestApplyNegativeQuantityDropsAverage(t *testing.T) {
	var pos Position
	pos = pos.Apply(mv(MovementPurchase, "5", "10", day(1), day(1)))
	pos = pos.Apply(mv(MovementAdjustment, "-8", "0", day(2), day(2)))

	require.True(t, pos.Quantity.Equal(dec("-3")))
	require.True(t, pos.AverageCost.IsZero(), "backordered stock carries no cost basis")
}

func TestStepSplitsInOutAndCostsIssuesAtAverage(t *testing.T) {
	var pos Position
	entry, pos := Step(pos, mv(MovementPurchase, "10", "4", day(1), day(1)))
	require.True(t, entry.QuantityIn.Equal(dec("10")))
	require.True(t, entry.QuantityOut.IsZero())
	require.True(t, entry.UnitCost.Equal(dec("4")))

	entry, _ = Step(pos, mv(MovementSale, "-6", "0", day(2), day(2)))
	require.True(t, entry.QuantityIn.IsZero())
	require.True(t, entry.QuantityOut.Equal(dec("6")))
	require.True(t, entry.UnitCost.Equal(dec("4")), "issue carries the prevailing average")
	require.True(t, entry.RunningBalance.Equal(dec("4")))
	require.True(t, entry.RunningValue.Equal(dec("16")))
}

func TestFoldBackdatedReceiptReshapesHistory(t *testing.T) {
	history := []Movement{
		mv(MovementPurchase, "100", "100", day(5), day(5)),
		mv(MovementSale, "-40", "0", day(6), day(6)),
		mv(MovementPurchase, "50", "130", day(7), day(7)),
	}
	// Back-dated receipt recorded later but effective first.
	backdated := mv(MovementPurchase, "20", "90", day(1), day(8))

	entries, pos, err := Fold(append(history, backdated), false)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, backdated.ID, entries[0].MovementID, "canonical order puts the back-dated receipt first")

	// Blended opening: (20*90 + 100*100) / 120 = 98.333333.
	require.True(t, entries[1].AverageCost.Equal(dec("98.333333")))
	// The issue is now costed at the blended average.
	require.True(t, entries[2].QuantityOut.Equal(dec("40")))
	require.True(t, entries[2].UnitCost.Equal(dec("98.333333")))

	require.True(t, pos.Quantity.Equal(dec("130")))
	// 120*avg... value path: 11800 - 40*98.333333 + 50*130 = 14366.66668
	require.True(t, pos.Value.Equal(dec("14366.66668")))
	require.True(t, pos.AverageCost.Equal(dec("110.512821")))
}

func TestFoldInsertionOrderIndependence(t *testing.T) {
	movements := []Movement{
		mv(MovementInitial, "12", "7.5", day(1), day(1)),
		mv(MovementSale, "-4", "0", day(3), day(3)),
		mv(MovementPurchase, "6", "9", day(2), day(4)),
		mv(MovementAdjustment, "-2", "0", day(4), day(5)),
	}
	shuffled := []Movement{movements[3], movements[1], movements[0], movements[2]}

	a, posA, err := Fold(movements, false)
	require.NoError(t, err)
	b, posB, err := Fold(shuffled, false)
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Equal(t, posA, posB)
}

func TestFoldIdempotent(t *testing.T) {
	movements := []Movement{
		mv(MovementPurchase, "9", "3.333333", day(1), day(1)),
		mv(MovementSale, "-5", "0", day(2), day(2)),
		mv(MovementPurchase, "7", "4.1", day(3), day(3)),
		mv(MovementSale, "-8", "0", day(4), day(4)),
	}
	a, posA, err := Fold(movements, false)
	require.NoError(t, err)
	b, posB, err := Fold(movements, false)
	require.NoError(t, err)

	require.Equal(t, a, b, "refolding identical history yields identical entries")
	require.Equal(t, posA, posB)
}

func TestFoldBalanceEqualsMovementSum(t *testing.T) {
	movements := []Movement{
		mv(MovementInitial, "30", "2", day(1), day(1)),
		mv(MovementPurchase, "10", "2.4", day(2), day(2)),
		mv(MovementSale, "-15", "0", day(3), day(3)),
		mv(MovementTransferOut, "-5", "0", day(4), day(4)),
		mv(MovementCountCorrection, "-3", "0", day(5), day(5)),
	}
	entries, pos, err := Fold(movements, false)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, m := range movements {
		sum = sum.Add(m.Quantity)
	}
	require.True(t, pos.Quantity.Equal(sum))
	require.True(t, entries[len(entries)-1].RunningBalance.Equal(sum))
	require.True(t, pos.AverageCost.Equal(pos.Value.DivRound(pos.Quantity, 6)))
}

func TestFoldRejectsNegativeBalance(t *testing.T) {
	movements := []Movement{
		mv(MovementPurchase, "5", "10", day(1), day(1)),
		mv(MovementSale, "-8", "0", day(2), day(2)),
	}
	_, _, err := Fold(movements, false)
	require.ErrorIs(t, err, ErrInsufficientStock)

	entries, pos, err := Fold(movements, true)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, pos.Quantity.Equal(dec("-3")))
}

func TestCanonicalLessTieBreaks(t *testing.T) {
	a := mv(MovementPurchase, "1", "1", day(1), day(2))
	b := mv(MovementPurchase, "1", "1", day(1), day(3))
	require.True(t, CanonicalLess(a, b), "createdAt breaks effective-date ties")

	c := mv(MovementPurchase, "1", "1", day(1), day(2))
	c.ID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	d := c
	d.ID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	require.True(t, CanonicalLess(c, d), "movement id breaks full ties")
	require.False(t, CanonicalLess(d, c))
}
