package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// AlertService is the alert registry surface the API needs.
type AlertService interface {
	Create(ctx context.Context, req domain.CreateAlertRequest) (domain.PriceAlert, error)
	Cancel(ctx context.Context, caller domain.Address, id uint64) (domain.PriceAlert, error)
	Trigger(ctx context.Context, executor, owner domain.Address, id uint64, observed domain.Price) (domain.PriceAlert, error)
	Delete(ctx context.Context, caller domain.Address, id uint64) error
	Get(id uint64) (domain.PriceAlert, error)
	List(f domain.AlertFilter) []domain.PriceAlert
}

// AlertHandler serves price alert endpoints.
type AlertHandler struct {
	alerts AlertService
	logger *slog.Logger
}

func NewAlertHandler(alerts AlertService, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: logger.With(slog.String("handler", "alerts"))}
}

type createAlertRequest struct {
	Token       string               `json:"token" validate:"required,max=16"`
	Condition   domain.ConditionType `json:"condition_type" validate:"required"`
	TargetPrice domain.Price         `json:"target_price" validate:"gt=0"`
	Message     string               `json:"message" validate:"max=280"`
}

type triggerRequest struct {
	Owner         string       `json:"owner" validate:"required,eth_addr"`
	ObservedPrice domain.Price `json:"observed_price" validate:"gt=0"`
}

// Create POST /api/alerts
func (h *AlertHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req createAlertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.alerts.Create(r.Context(), domain.CreateAlertRequest{
		Owner:       p.Address,
		Token:       req.Token,
		Condition:   req.Condition,
		TargetPrice: req.TargetPrice,
		Message:     req.Message,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create alert", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// List GET /api/alerts?active_only=true
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only"))
	f := domain.AlertFilter{Owner: &p.Address, ActiveOnly: activeOnly}
	f.Limit, f.Offset = pageParams(r)

	alerts := h.alerts.List(f)
	if alerts == nil {
		alerts = []domain.PriceAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// Get GET /api/alerts/{id}
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.alerts.Get(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get alert", err)
		return
	}
	if a.Owner != p.Address {
		writeError(w, http.StatusNotFound, domain.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Delete removes the alert, or only deactivates it with cancel_only=true.
// DELETE /api/alerts/{id}
func (h *AlertHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cancelOnly, _ := strconv.ParseBool(r.URL.Query().Get("cancel_only")); cancelOnly {
		a, err := h.alerts.Cancel(r.Context(), p.Address, id)
		if err != nil {
			writeServiceError(w, r, h.logger, "cancel alert", err)
			return
		}
		writeJSON(w, http.StatusOK, a)
		return
	}
	if err := h.alerts.Delete(r.Context(), p.Address, id); err != nil {
		writeServiceError(w, r, h.logger, "delete alert", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Trigger POST /api/alerts/{id}/trigger
func (h *AlertHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req triggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.alerts.Trigger(r.Context(), p.Address, common.HexToAddress(req.Owner), id, req.ObservedPrice)
	if err != nil {
		writeServiceError(w, r, h.logger, "trigger alert", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
