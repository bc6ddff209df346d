package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// PriceService is the price cache surface the API needs.
type PriceService interface {
	UpdatePrice(ctx context.Context, keeper domain.Address, token string, price, confidence domain.Price) error
	BatchUpdatePrices(ctx context.Context, keeper domain.Address, tokens []string, prices, confidences []domain.Price) error
	GetPrice(ctx context.Context, token string) (domain.PriceFeedEntry, error)
	GetPriceSafe(ctx context.Context, token string) (domain.Price, bool, error)
	All(ctx context.Context) ([]domain.PriceFeedEntry, error)
	Tokens(ctx context.Context) ([]string, error)
}

// PriceHandler serves cached prices and keeper price pushes.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger.With(slog.String("handler", "prices"))}
}

type priceResponse struct {
	Token      string       `json:"token"`
	Price      domain.Price `json:"price"`
	Confidence domain.Price `json:"confidence"`
	LastUpdate *time.Time   `json:"last_update,omitempty"`
	IsFresh    bool         `json:"is_fresh"`
}

type updatePriceRequest struct {
	Token      string       `json:"token" validate:"required,max=16"`
	Price      domain.Price `json:"price" validate:"gt=0"`
	Confidence domain.Price `json:"confidence" validate:"gte=0"`
}

type batchUpdateRequest struct {
	Tokens      []string       `json:"tokens" validate:"required,min=1,max=100,dive,required,max=16"`
	Prices      []domain.Price `json:"prices" validate:"required"`
	Confidences []domain.Price `json:"confidences"`
}

// List GET /api/prices
func (h *PriceHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.prices.All(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list prices", err)
		return
	}
	if entries == nil {
		entries = []domain.PriceFeedEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": entries})
}

// Tokens GET /api/tokens
func (h *PriceHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.prices.Tokens(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

// Get answers get_price_safe. A token that was never priced reports a zero
// price that is not fresh.
// GET /api/prices/{token}
func (h *PriceHandler) Get(w http.ResponseWriter, r *http.Request) {
	token := domain.NormalizeToken(r.PathValue("token"))
	price, fresh, err := h.prices.GetPriceSafe(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, h.logger, "get price", err)
		return
	}
	entry, err := h.prices.GetPrice(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, h.logger, "get price", err)
		return
	}
	resp := priceResponse{Token: token, Price: price, Confidence: entry.Confidence, IsFresh: fresh}
	if entry.Exists() {
		at := entry.UpdatedAt
		resp.LastUpdate = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

// Update POST /api/prices
func (h *PriceHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req updatePriceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.prices.UpdatePrice(r.Context(), p.Address, req.Token, req.Price, req.Confidence); err != nil {
		writeServiceError(w, r, h.logger, "update price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": 1})
}

// Batch is all-or-nothing. Omitted confidences default to zero.
// POST /api/prices/batch
func (h *PriceHandler) Batch(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req batchUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Confidences == nil {
		req.Confidences = make([]domain.Price, len(req.Tokens))
	}
	if err := h.prices.BatchUpdatePrices(r.Context(), p.Address, req.Tokens, req.Prices, req.Confidences); err != nil {
		writeServiceError(w, r, h.logger, "batch update prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(req.Tokens)})
}
