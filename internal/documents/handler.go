package documents

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/larder-erp/larder-erp/internal/ledger"
	"github.com/larder-erp/larder-erp/internal/platform/httpx"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// Handler wires HTTP endpoints for the documents module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs documents handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/adjustments", func(r chi.Router) {
		r.Get("/", h.handleListAdjustments)
		r.Post("/", h.handleCreateAdjustment)
		r.Get("/{id}", h.handleGetAdjustment)
		r.Post("/{id}/post", h.handlePostAdjustment)
	})
	r.Route("/transfers", func(r chi.Router) {
		r.Get("/", h.handleListTransfers)
		r.Post("/", h.handleCreateTransfer)
		r.Get("/{id}", h.handleGetTransfer)
		r.Post("/{id}/start", h.handleStartTransfer)
		r.Post("/{id}/complete", h.handleCompleteTransfer)
		r.Post("/{id}/cancel", h.handleCancelTransfer)
	})
	r.Route("/counts", func(r chi.Router) {
		r.Get("/", h.handleListCounts)
		r.Post("/", h.handleCreateCount)
		r.Get("/{id}", h.handleGetCount)
		r.Post("/{id}/start", h.handleStartCounting)
		r.Put("/{id}/lines/{lineID}", h.handleRecordCountLine)
		r.Post("/{id}/submit", h.handleSubmitCount)
		r.Post("/{id}/approve", h.handleApproveCount)
		r.Post("/{id}/close", h.handleCloseCount)
		r.Post("/{id}/cancel", h.handleCancelCount)
	})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func listLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

type adjustmentLineRequest struct {
	ItemID      int64           `json:"itemId" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouseId" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	UnitCost    decimal.Decimal `json:"unitCost"`
}

type adjustmentRequest struct {
	Reason string                  `json:"reason" validate:"max=512"`
	Lines  []adjustmentLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	adj := Adjustment{Reason: req.Reason}
	for _, line := range req.Lines {
		adj.Lines = append(adj.Lines, AdjustmentLine{
			ItemID:      line.ItemID,
			WarehouseID: line.WarehouseID,
			Quantity:    line.Quantity,
			UnitCost:    line.UnitCost,
		})
	}
	created, err := h.service.CreateAdjustment(r.Context(), adj)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	adj, err := h.service.GetAdjustment(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	adjustments, err := h.service.ListAdjustments(r.Context(), listLimit(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adjustments)
}

func (h *Handler) handlePostAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	adj, err := h.service.PostAdjustment(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

type transferLineRequest struct {
	ItemID   int64           `json:"itemId" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity" validate:"required"`
}

type transferRequest struct {
	FromWarehouseID int64                 `json:"fromWarehouseId" validate:"required,gt=0"`
	ToWarehouseID   int64                 `json:"toWarehouseId" validate:"required,gt=0"`
	Lines           []transferLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	tr := Transfer{FromWarehouseID: req.FromWarehouseID, ToWarehouseID: req.ToWarehouseID}
	for _, line := range req.Lines {
		tr.Lines = append(tr.Lines, TransferLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	created, err := h.service.CreateTransfer(r.Context(), tr)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	tr, err := h.service.GetTransfer(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tr)
}

func (h *Handler) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.service.ListTransfers(r.Context(), listLimit(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfers)
}

func (h *Handler) transferTransition(w http.ResponseWriter, r *http.Request, fn func(r *http.Request, id int64) (Transfer, error)) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	tr, err := fn(r, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tr)
}

func (h *Handler) handleStartTransfer(w http.ResponseWriter, r *http.Request) {
	h.transferTransition(w, r, func(r *http.Request, id int64) (Transfer, error) {
		return h.service.StartTransfer(r.Context(), id)
	})
}

func (h *Handler) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	h.transferTransition(w, r, func(r *http.Request, id int64) (Transfer, error) {
		return h.service.CompleteTransfer(r.Context(), id)
	})
}

func (h *Handler) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	h.transferTransition(w, r, func(r *http.Request, id int64) (Transfer, error) {
		return h.service.CancelTransfer(r.Context(), id)
	})
}

type countLineRequest struct {
	ItemID int64 `json:"itemId" validate:"required,gt=0"`
}

type countRequest struct {
	WarehouseID int64              `json:"warehouseId" validate:"required,gt=0"`
	Lines       []countLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateCount(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	count := InventoryCount{WarehouseID: req.WarehouseID}
	for _, line := range req.Lines {
		count.Lines = append(count.Lines, CountLine{ItemID: line.ItemID})
	}
	created, err := h.service.CreateCount(r.Context(), count)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetCount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	count, err := h.service.GetCount(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, count)
}

func (h *Handler) handleListCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.ListCounts(r.Context(), listLimit(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, counts)
}

type countLinePatchRequest struct {
	CountedQuantity decimal.Decimal `json:"countedQuantity"`
}

func (h *Handler) handleRecordCountLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	lineID, ok := pathID(r, "lineID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid line id")
		return
	}
	var req countLinePatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.service.RecordCountLine(r.Context(), id, lineID, CountLinePatch{CountedQuantity: &req.CountedQuantity}); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) countTransition(w http.ResponseWriter, r *http.Request, fn func(r *http.Request, id int64) (InventoryCount, error)) {
	id, ok := pathID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	count, err := fn(r, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, count)
}

func (h *Handler) handleStartCounting(w http.ResponseWriter, r *http.Request) {
	h.countTransition(w, r, func(r *http.Request, id int64) (InventoryCount, error) {
		return h.service.StartCounting(r.Context(), id)
	})
}

func (h *Handler) handleSubmitCount(w http.ResponseWriter, r *http.Request) {
	h.countTransition(w, r, func(r *http.Request, id int64) (InventoryCount, error) {
		return h.service.SubmitCount(r.Context(), id)
	})
}

func (h *Handler) handleApproveCount(w http.ResponseWriter, r *http.Request) {
	h.countTransition(w, r, func(r *http.Request, id int64) (InventoryCount, error) {
		return h.service.ApproveCount(r.Context(), id, shared.ActorFromContext(r.Context()))
	})
}

func (h *Handler) handleCloseCount(w http.ResponseWriter, r *http.Request) {
	h.countTransition(w, r, func(r *http.Request, id int64) (InventoryCount, error) {
		return h.service.CloseCount(r.Context(), id)
	})
}

func (h *Handler) handleCancelCount(w http.ResponseWriter, r *http.Request) {
	h.countTransition(w, r, func(r *http.Request, id int64) (InventoryCount, error) {
		return h.service.CancelCount(r.Context(), id)
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ledger.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrIncompleteCount):
		httpx.Problem(w, http.StatusBadRequest, "Incomplete Count", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ledger.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ledger.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("documents request failed", "error", err)
		httpx.RespondError(w, err)
	}
}
