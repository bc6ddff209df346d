package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tradekeeper/internal/auth"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// LoginService issues sessions for signed wallet challenges.
type LoginService interface {
	Challenge(addr domain.Address) (string, int64)
	Login(req auth.LoginRequest) (auth.LoginResponse, error)
}

// AuthHandler serves the wallet login flow.
type AuthHandler struct {
	svc    LoginService
	logger *slog.Logger
}

func NewAuthHandler(svc LoginService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger.With(slog.String("handler", "auth"))}
}

// Challenge returns the message the wallet must personal_sign.
// GET /api/auth/challenge?address=0x...
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "address query parameter must be a hex address")
		return
	}
	addr := common.HexToAddress(raw)
	msg, ts := h.svc.Challenge(addr)
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr.Hex(),
		"message":   msg,
		"timestamp": ts,
	})
}

// Login POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.svc.Login(req)
	if err != nil {
		h.logger.InfoContext(r.Context(), "login rejected",
			slog.String("address", req.Address),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, r, h.logger, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
