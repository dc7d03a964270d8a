package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larder-erp/larder-erp/internal/platform/httpx"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// Handler wires HTTP endpoints for the ledger module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleRecord)
	r.Get("/movements/{id}", h.handleGetMovement)
	r.Patch("/movements/{id}", h.handleEdit)
	r.Delete("/movements/{id}", h.handleDelete)
	r.Post("/replay", h.handleReplay)
	r.Get("/balances/{itemID}", h.handleBalance)
	r.Get("/kardex", h.handleKardex)
}

type recordRequest struct {
	ItemID        int64           `json:"itemId" validate:"required,gt=0"`
	WarehouseID   int64           `json:"warehouseId" validate:"required,gt=0"`
	Type          string          `json:"type" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"required"`
	UnitCost      decimal.Decimal `json:"unitCost"`
	EffectiveDate time.Time       `json:"effectiveDate"`
	DocumentRef   string          `json:"documentRef" validate:"max=128"`
	Force         bool            `json:"force"`
}

type movementResponse struct {
	ID            string          `json:"id"`
	ItemID        int64           `json:"itemId"`
	WarehouseID   int64           `json:"warehouseId"`
	Type          string          `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unitCost"`
	EffectiveDate time.Time       `json:"effectiveDate"`
	DocumentRef   string          `json:"documentRef,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func toMovementResponse(m Movement) movementResponse {
	return movementResponse{
		ID:            m.ID.String(),
		ItemID:        m.ItemID,
		WarehouseID:   m.WarehouseID,
		Type:          string(m.Type),
		Quantity:      m.Quantity,
		UnitCost:      m.UnitCost,
		EffectiveDate: m.EffectiveDate,
		DocumentRef:   m.DocumentRef,
		CreatedAt:     m.CreatedAt,
	}
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	movement, err := h.service.Record(r.Context(), RecordInput{
		ItemID:         req.ItemID,
		WarehouseID:    req.WarehouseID,
		Type:           MovementType(req.Type),
		Quantity:       req.Quantity,
		UnitCost:       req.UnitCost,
		EffectiveDate:  req.EffectiveDate,
		DocumentRef:    req.DocumentRef,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Force:          req.Force,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(movement))
}

func (h *Handler) handleGetMovement(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid movement id")
		return
	}
	movement, err := h.service.GetMovement(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMovementResponse(movement))
}

type editRequest struct {
	Quantity      *decimal.Decimal `json:"quantity"`
	UnitCost      *decimal.Decimal `json:"unitCost"`
	EffectiveDate *time.Time       `json:"effectiveDate"`
	DocumentRef   *string          `json:"documentRef"`
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid movement id")
		return
	}
	var req editRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if req.Quantity == nil && req.UnitCost == nil && req.EffectiveDate == nil && req.DocumentRef == nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "empty patch")
		return
	}
	movement, err := h.service.EditMovement(r.Context(), id, MovementPatch{
		Quantity:      req.Quantity,
		UnitCost:      req.UnitCost,
		EffectiveDate: req.EffectiveDate,
		DocumentRef:   req.DocumentRef,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMovementResponse(movement))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid movement id")
		return
	}
	if err := h.service.DeleteMovement(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type replayRequest struct {
	ItemID      int64 `json:"itemId"`
	WarehouseID int64 `json:"warehouseId"`
	All         bool  `json:"all"`
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	var err error
	if req.All {
		err = h.service.RebuildAll(r.Context())
	} else {
		if req.ItemID == 0 || req.WarehouseID == 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "itemId and warehouseId required unless all=true")
			return
		}
		err = h.service.Replay(r.Context(), req.ItemID, req.WarehouseID)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "replayed"})
}

type balanceResponse struct {
	ItemID         int64           `json:"itemId"`
	WarehouseID    int64           `json:"warehouseId,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	TotalValue     decimal.Decimal `json:"totalValue"`
	AverageCost    decimal.Decimal `json:"averageCost"`
	LastMovementAt time.Time       `json:"lastMovementAt"`
	Version        int64           `json:"version,omitempty"`
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || itemID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	var balance Balance
	if raw := r.URL.Query().Get("warehouse_id"); raw != "" {
		warehouseID, convErr := strconv.ParseInt(raw, 10, 64)
		if convErr != nil || warehouseID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid warehouse id")
			return
		}
		balance, err = h.service.GetBalance(r.Context(), itemID, warehouseID)
	} else {
		balance, err = h.service.GetBalanceAggregate(r.Context(), itemID)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{
		ItemID:         balance.ItemID,
		WarehouseID:    balance.WarehouseID,
		Quantity:       balance.Quantity,
		TotalValue:     balance.TotalValue,
		AverageCost:    balance.AverageCost,
		LastMovementAt: balance.LastMovementAt,
		Version:        balance.Version,
	})
}

type kardexEntryResponse struct {
	MovementID     string          `json:"movementId"`
	Type           string          `json:"type"`
	QuantityIn     decimal.Decimal `json:"quantityIn"`
	QuantityOut    decimal.Decimal `json:"quantityOut"`
	UnitCost       decimal.Decimal `json:"unitCost"`
	RunningBalance decimal.Decimal `json:"runningBalance"`
	RunningValue   decimal.Decimal `json:"runningValue"`
	AverageCost    decimal.Decimal `json:"averageCost"`
	EffectiveDate  time.Time       `json:"effectiveDate"`
	DocumentRef    string          `json:"documentRef,omitempty"`
}

type kardexResponse struct {
	Opening *openingResponse      `json:"opening,omitempty"`
	Entries []kardexEntryResponse `json:"entries"`
}

type openingResponse struct {
	Quantity    decimal.Decimal `json:"quantity"`
	Value       decimal.Decimal `json:"value"`
	AverageCost decimal.Decimal `json:"averageCost"`
}

func (h *Handler) handleKardex(w http.ResponseWriter, r *http.Request) {
	filter, err := parseKardexFilter(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	view, err := h.service.GetKardex(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := kardexResponse{Entries: make([]kardexEntryResponse, 0, len(view.Entries))}
	if view.HasOpening {
		resp.Opening = &openingResponse{
			Quantity:    view.Opening.Quantity,
			Value:       view.Opening.Value,
			AverageCost: view.Opening.AverageCost,
		}
	}
	for _, e := range view.Entries {
		resp.Entries = append(resp.Entries, kardexEntryResponse{
			MovementID:     e.MovementID.String(),
			Type:           string(e.Type),
			QuantityIn:     e.QuantityIn,
			QuantityOut:    e.QuantityOut,
			UnitCost:       e.UnitCost,
			RunningBalance: e.RunningBalance,
			RunningValue:   e.RunningValue,
			AverageCost:    e.AverageCost,
			EffectiveDate:  e.EffectiveDate,
			DocumentRef:    e.DocumentRef,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func parseKardexFilter(r *http.Request) (KardexFilter, error) {
	q := r.URL.Query()
	itemID, err := strconv.ParseInt(q.Get("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		return KardexFilter{}, errors.New("item_id required")
	}
	filter := KardexFilter{ItemID: itemID}
	if raw := q.Get("warehouse_id"); raw != "" {
		warehouseID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || warehouseID <= 0 {
			return KardexFilter{}, errors.New("invalid warehouse_id")
		}
		filter.WarehouseID = warehouseID
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return KardexFilter{}, errors.New("from must be YYYY-MM-DD")
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return KardexFilter{}, errors.New("to must be YYYY-MM-DD")
		}
		filter.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return KardexFilter{}, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrMovementNotFound), errors.Is(err, ErrBalanceNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrReplayFailed):
		httpx.Problem(w, http.StatusServiceUnavailable, "Replay Failed", "replay failed and was scheduled for retry")
	default:
		h.logger.Error("ledger request failed", "path", r.URL.Path, "error", err)
		httpx.RespondError(w, err)
	}
}
