package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/larder-erp/larder-erp/internal/ledger"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
	CountItems(ctx context.Context, filter ItemFilter) (int, error)
	ListItemsByIDs(ctx context.Context, ids []int64) (map[int64]Item, error)
	InsertWarehouse(ctx context.Context, wh Warehouse) (int64, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the item and warehouse catalogs.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateItem validates and stores a new item.
func (s *Service) CreateItem(ctx context.Context, item Item) (Item, error) {
	if item.SKU == "" || item.Name == "" || item.Unit == "" {
		return Item{}, fmt.Errorf("%w: sku, name and unit required", ErrValidation)
	}
	if item.ValuationMethod == "" {
		item.ValuationMethod = ValuationWeightedAverage
	}
	if item.ValuationMethod != ValuationWeightedAverage {
		return Item{}, fmt.Errorf("%w: unsupported valuation method %q", ErrValidation, item.ValuationMethod)
	}
	if item.MinStock.IsNegative() || item.MaxStock.IsNegative() {
		return Item{}, fmt.Errorf("%w: thresholds must not be negative", ErrValidation)
	}
	if !item.MaxStock.IsZero() && item.MaxStock.LessThan(item.MinStock) {
		return Item{}, fmt.Errorf("%w: maxStock below minStock", ErrValidation)
	}
	id, err := s.repo.InsertItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	created, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, "masterdata.item.create", fmt.Sprint(id))
	return created, nil
}

// UpdateItem applies catalog changes to an existing item. The SKU and the
// valuation method are fixed after creation.
func (s *Service) UpdateItem(ctx context.Context, item Item) (Item, error) {
	current, err := s.repo.GetItem(ctx, item.ID)
	if err != nil {
		return Item{}, err
	}
	if item.Name == "" || item.Unit == "" {
		return Item{}, fmt.Errorf("%w: name and unit required", ErrValidation)
	}
	if item.MinStock.IsNegative() || item.MaxStock.IsNegative() {
		return Item{}, fmt.Errorf("%w: thresholds must not be negative", ErrValidation)
	}
	if !item.MaxStock.IsZero() && item.MaxStock.LessThan(item.MinStock) {
		return Item{}, fmt.Errorf("%w: maxStock below minStock", ErrValidation)
	}
	current.Name = item.Name
	current.Unit = item.Unit
	current.MinStock = item.MinStock
	current.MaxStock = item.MaxStock
	current.AllowBackorder = item.AllowBackorder
	current.IsActive = item.IsActive
	if err := s.repo.UpdateItem(ctx, current); err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, "masterdata.item.update", fmt.Sprint(item.ID))
	return s.repo.GetItem(ctx, item.ID)
}

// GetItem fetches one item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems lists items matching the filter.
func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	return s.repo.ListItems(ctx, filter)
}

// ListItemsPaged lists one page of items plus pagination metadata.
func (s *Service) ListItemsPaged(ctx context.Context, filter ItemFilter, page, perPage int) ([]Item, shared.Pagination, error) {
	if perPage <= 0 {
		perPage = shared.DefaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage
	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	total, err := s.repo.CountItems(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, perPage, total), nil
}

// ItemsByIDs fetches a batch of items keyed by id.
func (s *Service) ItemsByIDs(ctx context.Context, ids []int64) (map[int64]Item, error) {
	return s.repo.ListItemsByIDs(ctx, ids)
}

// ItemPolicy resolves the ledger-facing policy slice for one item.
func (s *Service) ItemPolicy(ctx context.Context, itemID int64) (ledger.ItemPolicy, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return ledger.ItemPolicy{}, err
	}
	return ledger.ItemPolicy{AllowBackorder: item.AllowBackorder}, nil
}

// WarehouseExists reports whether the warehouse is on the catalog. The
// ledger consults this before opening a balance stream, so mistyped
// warehouse ids are rejected instead of creating phantom stock.
func (s *Service) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	_, err := s.repo.GetWarehouse(ctx, id)
	if errors.Is(err, ErrWarehouseNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateWarehouse validates and stores a new warehouse.
func (s *Service) CreateWarehouse(ctx context.Context, wh Warehouse) (Warehouse, error) {
	if wh.Code == "" || wh.Name == "" {
		return Warehouse{}, fmt.Errorf("%w: code and name required", ErrValidation)
	}
	id, err := s.repo.InsertWarehouse(ctx, wh)
	if err != nil {
		return Warehouse{}, err
	}
	s.recordAudit(ctx, "masterdata.warehouse.create", fmt.Sprint(id))
	return s.repo.GetWarehouse(ctx, id)
}

// GetWarehouse fetches one warehouse.
func (s *Service) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	return s.repo.GetWarehouse(ctx, id)
}

// ListWarehouses lists every warehouse.
func (s *Service) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "masterdata",
		EntityID: entityID,
	})
}
