package handler

import (
	"log/slog"
	"net/http"

	"github.com/darkbet/darkbet/internal/domain"
)

// AccountService defines the engine methods the account handler requires.
type AccountService interface {
	Position(owner, marketID string) (domain.Position, error)
	Balance(owner string) domain.Balance
}

// AccountHandler serves the caller's own position and balance. There is no
// endpoint that exposes another user's holdings.
type AccountHandler struct {
	engine AccountService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(engine AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		engine: engine,
		logger: logHandler(logger, "account"),
	}
}

// GetPosition returns the caller's position in one market. Unknown owners
// get a zero position, not an error.
// GET /api/positions/{marketID}
func (h *AccountHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}

	p, err := h.engine.Position(addr, pathParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":  p.MarketID,
		"yes_shares": p.YesShares,
		"no_shares":  p.NoShares,
		"total_cost": p.TotalCost,
		"settled":    p.Settled,
	})
}

// GetBalance returns the caller's internal collateral balance.
// GET /api/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}

	b := h.engine.Balance(addr)
	writeJSON(w, http.StatusOK, map[string]any{
		"available": b.Available,
		"locked":    b.Locked,
	})
}
