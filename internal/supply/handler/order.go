package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pharmalink/pharmalink-backend/internal/supply/repository"
	"github.com/pharmalink/pharmalink-backend/internal/supply/service"
	"github.com/pharmalink/pharmalink-backend/pkg/actor"
	"github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/httputil"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
)

// OrderHandler handles order HTTP requests
type OrderHandler struct {
	orders *service.OrderService
	logger *logger.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders *service.OrderService, log *logger.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: log.WithComponent("order_handler"),
	}
}

// Routes registers order routes
func (h *OrderHandler) Routes(r chi.Router) {
	r.Post("/orders", h.Place)
	r.Get("/orders", h.List)
	r.Get("/orders/{id}", h.Get)
	r.Post("/orders/{id}/request-delivery", h.RequestDelivery)
	r.Post("/orders/{id}/reject", h.Reject)
	r.Post("/orders/{id}/dispatch", h.Dispatch)
	r.Post("/orders/{id}/confirm-delivered", h.ConfirmDelivered)
}

// Place handles POST /orders
func (h *OrderHandler) Place(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	var input service.PlaceOrderInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	order, err := h.orders.PlaceOrder(r.Context(), act, &input)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, order)
}

// List handles GET /orders
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	params := repository.OrderListParams{
		MedicineID: r.URL.Query().Get("medicine_id"),
		Status:     r.URL.Query().Get("status"),
	}
	params.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	params.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	orders, total, err := h.orders.ListOrders(r.Context(), act, params)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if params.Page < 1 {
		params.Page = 1
	}
	if params.PerPage < 1 || params.PerPage > 100 {
		params.PerPage = 20
	}
	totalPages := (total + params.PerPage - 1) / params.PerPage
	httputil.JSONWithMeta(w, http.StatusOK, orders, &httputil.Meta{
		Page:       params.Page,
		PerPage:    params.PerPage,
		Total:      int64(total),
		TotalPages: totalPages,
	})
}

// Get handles GET /orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	order, err := h.orders.GetOrder(r.Context(), act, chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, order)
}

// RequestDelivery handles POST /orders/{id}/request-delivery
func (h *OrderHandler) RequestDelivery(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.RequestDelivery)
}

// Dispatch handles POST /orders/{id}/dispatch
func (h *OrderHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.DispatchOrder)
}

// ConfirmDelivered handles POST /orders/{id}/confirm-delivered
func (h *OrderHandler) ConfirmDelivered(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.ConfirmDelivered)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Reject handles POST /orders/{id}/reject
func (h *OrderHandler) Reject(w http.ResponseWriter, r *http.Request) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	var input rejectRequest
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&input); err != nil {
		httputil.Error(w, err)
		return
	}

	order, err := h.orders.RejectOrder(r.Context(), act, chi.URLParam(r, "id"), input.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, order)
}

func (h *OrderHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, act *actor.Actor, orderID string) (*repository.Order, error),
) {
	act := actor.FromContext(r.Context())
	if act == nil {
		httputil.Error(w, errors.Unauthorized("missing identity"))
		return
	}

	order, err := fn(r.Context(), act, chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, order)
}
