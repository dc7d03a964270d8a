package alerts

import (
	"context"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/larder-erp/larder-erp/internal/ledger"
	"github.com/larder-erp/larder-erp/internal/masterdata"
)

type stubLedger struct {
	balances    []ledger.Balance
	consumption map[ledger.Key]decimal.Decimal
	listCalls   int
}

func (s *stubLedger) ListBalances(ctx context.Context, warehouseID int64) ([]ledger.Balance, error) {
	s.listCalls++
	if warehouseID == 0 {
		return s.balances, nil
	}
	var out []ledger.Balance
	for _, bal := range s.balances {
		if bal.WarehouseID == warehouseID {
			out = append(out, bal)
		}
	}
	return out, nil
}

func (s *stubLedger) ConsumptionSince(ctx context.Context, itemID, warehouseID int64, since time.Time) (decimal.Decimal, error) {
	total := s.consumption[ledger.Key{ItemID: itemID, WarehouseID: warehouseID}]
	return total, nil
}

type stubMaster struct {
	items map[int64]masterdata.Item
}

func (s stubMaster) ItemsByIDs(ctx context.Context, ids []int64) (map[int64]masterdata.Item, error) {
	return s.items, nil
}

func newCacheClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func fixture() (*stubLedger, stubMaster) {
	lg := &stubLedger{
		balances: []ledger.Balance{
			{ItemID: 1, WarehouseID: 1, Quantity: dec("0")},
			{ItemID: 2, WarehouseID: 1, Quantity: dec("50")},
		},
		consumption: map[ledger.Key]decimal.Decimal{},
	}
	master := stubMaster{items: map[int64]masterdata.Item{
		1: {SKU: "TOMATO", MinStock: dec("5"), IsActive: true},
		2: {SKU: "RICE", MinStock: dec("5"), MaxStock: dec("40"), IsActive: true},
	}}
	return lg, master
}

func TestListEvaluatesAndFilters(t *testing.T) {
	lg, master := fixture()
	svc := NewService(slog.Default(), lg, master, nil, ServiceConfig{})
	ctx := context.Background()

	alerts, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	oos, err := svc.List(ctx, Filter{Type: AlertOutOfStock})
	require.NoError(t, err)
	require.Len(t, oos, 1)
	require.Equal(t, "TOMATO", oos[0].SKU)
}

func TestListServesFromCache(t *testing.T) {
	lg, master := fixture()
	svc := NewService(slog.Default(), lg, master, newCacheClient(t), ServiceConfig{CacheTTL: time.Minute})
	ctx := context.Background()

	_, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, lg.listCalls)

	alerts, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, 1, lg.listCalls, "second read hits the cache")
}

func TestListPerWarehouseSnapshotsAreIndependent(t *testing.T) {
	lg, master := fixture()
	lg.balances = append(lg.balances, ledger.Balance{ItemID: 1, WarehouseID: 2, Quantity: dec("100")})
	svc := NewService(slog.Default(), lg, master, newCacheClient(t), ServiceConfig{CacheTTL: time.Minute})
	ctx := context.Background()

	all, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	wh2, err := svc.List(ctx, Filter{WarehouseID: 2})
	require.NoError(t, err)

	require.Len(t, all, 2)
	require.Empty(t, wh2, "warehouse 2 has no alerting balance")
}

func TestRefreshRepopulatesCache(t *testing.T) {
	lg, master := fixture()
	svc := NewService(slog.Default(), lg, master, newCacheClient(t), ServiceConfig{CacheTTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx))
	require.Equal(t, 1, lg.listCalls)

	alerts, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, 1, lg.listCalls, "listing after refresh reads the cache")
}

func TestEvaluateDerivesDaysOfCover(t *testing.T) {
	lg, master := fixture()
	// 50 on hand, min 60: low. 600 consumed over the 30-day window is
	// 20/day, leaving 2.5 days of cover, which escalates to critical.
	lg.consumption[ledger.Key{ItemID: 2, WarehouseID: 1}] = dec("600")
	master.items[2] = masterdata.Item{SKU: "RICE", MinStock: dec("60"), IsActive: true}
	svc := NewService(slog.Default(), lg, master, nil, ServiceConfig{LookbackDays: 30})

	alerts, err := svc.List(context.Background(), Filter{Type: AlertCritical})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "RICE", alerts[0].SKU)
	require.True(t, alerts[0].DaysOfCover.Equal(dec("2.5")))
}
