package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/tradekeeper/internal/auth"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// OrderService is the order ledger surface the API needs.
type OrderService interface {
	Create(ctx context.Context, req domain.CreateOrderRequest) (domain.ConditionalOrder, error)
	Cancel(ctx context.Context, caller domain.Address, id uint64) (domain.ConditionalOrder, error)
	Execute(ctx context.Context, executor domain.Address, id uint64, observed domain.Price) (domain.ConditionalOrder, error)
	Get(id uint64) (domain.ConditionalOrder, error)
	List(f domain.OrderFilter) []domain.ConditionalOrder
	PendingCount() uint64
}

// OrderHandler serves conditional order endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger.With(slog.String("handler", "orders"))}
}

// createOrderRequest caps duration_seconds at ten years so the conversion to
// time.Duration cannot overflow.
type createOrderRequest struct {
	TokenIn         string               `json:"token_in" validate:"required,max=16"`
	TokenOut        string               `json:"token_out" validate:"required,max=16"`
	AmountIn        uint64               `json:"amount_in"`
	MinAmountOut    uint64               `json:"min_amount_out"`
	Condition       domain.ConditionType `json:"condition_type" validate:"required"`
	TargetPrice     domain.Price         `json:"target_price" validate:"gte=0"`
	DurationSeconds int64                `json:"duration_seconds" validate:"gt=0,lte=315360000"`
}

type executeRequest struct {
	ObservedPrice domain.Price `json:"observed_price" validate:"gt=0"`
}

// Create POST /api/orders
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orders.Create(r.Context(), domain.CreateOrderRequest{
		Owner:        p.Address,
		TokenIn:      req.TokenIn,
		TokenOut:     req.TokenOut,
		AmountIn:     req.AmountIn,
		MinAmountOut: req.MinAmountOut,
		Condition:    req.Condition,
		TargetPrice:  req.TargetPrice,
		Duration:     time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// List returns the caller's orders.
// GET /api/orders?status=PENDING&limit=50&offset=0
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	f := domain.OrderFilter{Owner: &p.Address}
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = domain.OrderStatus(strings.ToUpper(s))
		if f.Status != domain.OrderStatusPending && !f.Status.Terminal() {
			writeError(w, http.StatusBadRequest, "unknown status "+s)
			return
		}
	}
	f.Limit, f.Offset = pageParams(r)

	orders := h.orders.List(f)
	if orders == nil {
		orders = []domain.ConditionalOrder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// Get is visible to the owner and to keepers.
// GET /api/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orders.Get(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}
	if o.Owner != p.Address && !p.HasRole(auth.RoleKeeper) {
		writeError(w, http.StatusNotFound, domain.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Cancel DELETE /api/orders/{id}
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orders.Cancel(r.Context(), p.Address, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Execute submits the order on behalf of the caller at observed_price.
// POST /api/orders/{id}/execute
func (h *OrderHandler) Execute(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req executeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orders.Execute(r.Context(), p.Address, id, req.ObservedPrice)
	if err != nil {
		writeServiceError(w, r, h.logger, "execute order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// PendingCount GET /api/orders/pending/count
func (h *OrderHandler) PendingCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"pending_orders": h.orders.PendingCount()})
}
