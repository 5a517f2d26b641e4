package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// TreasuryService defines the engine methods the admin handler requires.
type TreasuryService interface {
	CreditBalance(ctx context.Context, caller, owner string, amount int64) error
	DebitBalance(ctx context.Context, caller, owner string, amount int64) error
}

// AdminHandler serves manual balance adjustments. Routes are mounted behind
// the admin API key; the engine additionally checks the caller address
// against its admin allowlist.
type AdminHandler struct {
	engine TreasuryService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(engine TreasuryService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		engine: engine,
		logger: logHandler(logger, "admin"),
	}
}

// balanceAdjustRequest is the credit/debit payload.
type balanceAdjustRequest struct {
	Owner  string `json:"owner"`
	Amount int64  `json:"amount"`
}

// Credit adds to a user's available balance.
// POST /api/admin/credit
func (h *AdminHandler) Credit(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "credit", h.engine.CreditBalance)
}

// Debit removes from a user's available balance.
// POST /api/admin/debit
func (h *AdminHandler) Debit(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "debit", h.engine.DebitBalance)
}

func (h *AdminHandler) adjust(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(ctx context.Context, caller, owner string, amount int64) error,
) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}

	var req balanceAdjustRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	if err := fn(r.Context(), addr, req.Owner, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "balance adjusted",
		slog.String("op", op),
		slog.String("owner", req.Owner),
		slog.Int64("amount", req.Amount),
		slog.String("caller", addr),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
