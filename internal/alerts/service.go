package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/larder-erp/larder-erp/internal/ledger"
	"github.com/larder-erp/larder-erp/internal/masterdata"
)

// LedgerPort is the slice of the ledger service the evaluator reads.
type LedgerPort interface {
	ListBalances(ctx context.Context, warehouseID int64) ([]ledger.Balance, error)
	ConsumptionSince(ctx context.Context, itemID, warehouseID int64, since time.Time) (decimal.Decimal, error)
}

// MasterPort resolves item master records in bulk.
type MasterPort interface {
	ItemsByIDs(ctx context.Context, ids []int64) (map[int64]masterdata.Item, error)
}

// ServiceConfig groups tunables.
type ServiceConfig struct {
	CacheTTL     time.Duration
	LookbackDays int
}

// Service computes and caches stock alerts. Concurrent recomputes of the
// same snapshot collapse into one evaluation.
type Service struct {
	logger  *slog.Logger
	ledger  LedgerPort
	master  MasterPort
	cache   *redis.Client
	group   singleflight.Group
	cfg     ServiceConfig
	nowFunc func() time.Time
}

// NewService builds Service. cache may be nil; evaluation then always hits
// the ledger.
func NewService(logger *slog.Logger, ledgerSvc LedgerPort, master MasterPort, cache *redis.Client, cfg ServiceConfig) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 30
	}
	return &Service{logger: logger, ledger: ledgerSvc, master: master, cache: cache, cfg: cfg, nowFunc: time.Now}
}

// Filter bounds an alert listing.
type Filter struct {
	WarehouseID int64
	Type        AlertType
}

// List returns the current alerts, from cache when fresh.
func (s *Service) List(ctx context.Context, filter Filter) ([]StockAlert, error) {
	alerts, err := s.snapshot(ctx, filter.WarehouseID)
	if err != nil {
		return nil, err
	}
	if filter.Type == "" {
		return alerts, nil
	}
	filtered := []StockAlert{}
	for _, alert := range alerts {
		if alert.Type == filter.Type {
			filtered = append(filtered, alert)
		}
	}
	return filtered, nil
}

// Refresh recomputes the all-warehouse snapshot and repopulates the cache.
func (s *Service) Refresh(ctx context.Context) error {
	alerts, err := s.evaluate(ctx, 0)
	if err != nil {
		return err
	}
	return s.store(ctx, s.cacheKey(0), alerts)
}

func (s *Service) snapshot(ctx context.Context, warehouseID int64) ([]StockAlert, error) {
	key := s.cacheKey(warehouseID)
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key).Bytes()
		if err == nil {
			var alerts []StockAlert
			if err := json.Unmarshal(raw, &alerts); err == nil {
				return alerts, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn("alert cache read failed", "error", err)
		}
	}
	result, err, _ := s.group.Do(key, func() (any, error) {
		alerts, err := s.evaluate(ctx, warehouseID)
		if err != nil {
			return nil, err
		}
		if err := s.store(ctx, key, alerts); err != nil {
			s.logger.Warn("alert cache write failed", "error", err)
		}
		return alerts, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]StockAlert), nil
}

func (s *Service) evaluate(ctx context.Context, warehouseID int64) ([]StockAlert, error) {
	balances, err := s.ledger.ListBalances(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	if len(balances) == 0 {
		return []StockAlert{}, nil
	}
	ids := make([]int64, 0, len(balances))
	seen := make(map[int64]bool)
	for _, bal := range balances {
		if !seen[bal.ItemID] {
			seen[bal.ItemID] = true
			ids = append(ids, bal.ItemID)
		}
	}
	items, err := s.master.ItemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	now := s.nowFunc().UTC()
	lookback := decimal.NewFromInt(int64(s.cfg.LookbackDays))
	since := now.AddDate(0, 0, -s.cfg.LookbackDays)
	consumption := make(map[ledger.Key]decimal.Decimal, len(balances))
	for _, bal := range balances {
		total, err := s.ledger.ConsumptionSince(ctx, bal.ItemID, bal.WarehouseID, since)
		if err != nil {
			return nil, err
		}
		if total.IsPositive() {
			consumption[ledger.Key{ItemID: bal.ItemID, WarehouseID: bal.WarehouseID}] = total.DivRound(lookback, consumptionScale)
		}
	}
	return Evaluate(balances, items, consumption, now), nil
}

func (s *Service) store(ctx context.Context, key string, alerts []StockAlert) error {
	if s.cache == nil {
		return nil
	}
	raw, err := json.Marshal(alerts)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, key, raw, s.cfg.CacheTTL).Err()
}

func (s *Service) cacheKey(warehouseID int64) string {
	return fmt.Sprintf("alerts:snapshot:%d", warehouseID)
}

// consumptionScale is the rounding scale of the average daily outflow.
const consumptionScale = 6
