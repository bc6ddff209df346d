package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// StatsService reads the aggregate counters.
type StatsService interface {
	UserStats(owner domain.Address) domain.UserStats
	ProtocolStats() domain.ProtocolStats
}

type StatsHandler struct {
	stats StatsService
}

func NewStatsHandler(stats StatsService) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// User GET /api/stats/users/{owner}
func (h *StatsHandler) User(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("owner")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "owner must be a hex address")
		return
	}
	writeJSON(w, http.StatusOK, h.stats.UserStats(common.HexToAddress(raw)))
}

// Protocol GET /api/stats/protocol
func (h *StatsHandler) Protocol(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.ProtocolStats())
}
