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

// BatchHandler handles batch HTTP requests
type BatchHandler struct {
	batches *service.BatchService
	logger  *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batches *service.BatchService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		batches: batches,
		logger:  log.WithComponent("batch_handler"),
	}
}

// Routes registers batch routes
func (h *BatchHandler) Routes(r chi.Router) {
	r.Post("/batches", h.Register)
	r.Get("/batches/expiring", h.Expiring)
	r.Get("/batches/expired", h.Expired)
	r.Get("/batches/{id}", h.Get)
	r.Get("/medicines/{medicineID}/batches", h.ListForMedicine)
	r.Get("/medicines/{medicineID}/stock", h.AvailableStock)
}

// Register handles POST /batches
func (h *BatchHandler) Register(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	var input service.RegisterBatchInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.batches.RegisterBatch(r.Context(), act, &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, batch)
}

// Get handles GET /batches/{id}
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	batch, err := h.batches.GetBatch(r.Context(), act, chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, batch)
}

// ListForMedicine handles GET /medicines/{medicineID}/batches
func (h *BatchHandler) ListForMedicine(w http.ResponseWriter, r *http.Request) {
	batches, err := h.batches.ListBatches(r.Context(), chi.URLParam(r, "medicineID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, batches)
}

// Expiring handles GET /batches/expiring
func (h *BatchHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	withinDays := 0
	if raw := r.URL.Query().Get("within_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.Error(w, errors.BadRequest("within_days must be a positive integer"))
			return
		}
		withinDays = n
	}

	batches, err := h.batches.ListExpiring(r.Context(), act, withinDays)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, batches)
}

// Expired handles GET /batches/expired
func (h *BatchHandler) Expired(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	batches, err := h.batches.ListExpired(r.Context(), act)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, batches)
}

// AvailableStock handles GET /medicines/{medicineID}/stock
func (h *BatchHandler) AvailableStock(w http.ResponseWriter, r *http.Request) {
	medicineID := chi.URLParam(r, "medicineID")
	total, err := h.batches.GetAvailableStock(r.Context(), medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"medicine_id": medicineID,
		"available":   total,
	})
}
