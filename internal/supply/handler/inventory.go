package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pharmalink/pharmalink-backend/internal/supply/service"
	"github.com/pharmalink/pharmalink-backend/pkg/actor"
	"github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/httputil"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
)

// InventoryHandler handles derived inventory HTTP requests
type InventoryHandler struct {
	inventory *service.InventoryService
	logger    *logger.Logger
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(inventory *service.InventoryService, log *logger.Logger) *InventoryHandler {
	return &InventoryHandler{
		inventory: inventory,
		logger:    log.WithComponent("inventory_handler"),
	}
}

// Routes registers inventory routes
func (h *InventoryHandler) Routes(r chi.Router) {
	r.Get("/inventory/snapshot", h.Snapshot)
	r.Get("/inventory/valuation", h.Valuation)
	r.Post("/consumption", h.RecordConsumption)
	r.Get("/consumption", h.ListConsumption)
}

// Snapshot handles GET /inventory/snapshot
func (h *InventoryHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	snapshot, err := h.inventory.GetSnapshot(r.Context(), act, r.URL.Query().Get("medicine_id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, snapshot)
}

// Valuation handles GET /inventory/valuation
func (h *InventoryHandler) Valuation(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	valuation, err := h.inventory.GetValuation(r.Context(), act, r.URL.Query().Get("medicine_id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, valuation)
}

// RecordConsumption handles POST /consumption
func (h *InventoryHandler) RecordConsumption(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	var input service.RecordConsumptionInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	entry, err := h.inventory.RecordConsumption(r.Context(), act, &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, entry)
}

// ListConsumption handles GET /consumption
func (h *InventoryHandler) ListConsumption(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.inventory.ListConsumption(r.Context(), act, limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, entries)
}
