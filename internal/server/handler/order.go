package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/darkbet/darkbet/internal/domain"
)

// OrderService defines the engine methods the order handler requires.
type OrderService interface {
	SubmitOrder(ctx context.Context, owner, marketID string, side domain.Side, price, amount int64) (string, error)
	Orders(owner, marketID string) ([]domain.Order, error)
}

// OrderHandler serves plaintext order submission and the caller's own
// resting orders. Encrypted submission lives in IntentHandler.
type OrderHandler struct {
	engine OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(engine OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		engine: engine,
		logger: logHandler(logger, "order"),
	}
}

// placeOrderRequest is the plaintext order payload. Plaintext submission
// carries the same semantics as an encrypted intent; it exists for trusted
// clients and testing.
type placeOrderRequest struct {
	MarketID string `json:"market_id"`
	Side     string `json:"side"`
	Price    int64  `json:"price"`
	Amount   int64  `json:"amount"`
}

// PlaceOrder submits a limit order for the authenticated caller.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	orderID, err := h.engine.SubmitOrder(r.Context(), addr, req.MarketID, domain.Side(req.Side), req.Price, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "order placed",
		slog.String("order_id", orderID),
		slog.String("market_id", req.MarketID),
	)
	writeJSON(w, http.StatusCreated, map[string]string{"order_id": orderID})
}

// ListOrders returns the caller's resting orders in one market. Owners only
// ever see their own orders.
// GET /api/orders?market_id=...
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}

	marketID := r.URL.Query().Get("market_id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market_id query parameter is required")
		return
	}

	orders, err := h.engine.Orders(addr, marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type orderView struct {
		ID        string `json:"id"`
		MarketID  string `json:"market_id"`
		Side      string `json:"side"`
		Price     int64  `json:"price"`
		Amount    int64  `json:"amount"`
		CreatedAt string `json:"created_at"`
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView{
			ID:        o.ID,
			MarketID:  o.MarketID,
			Side:      string(o.Side),
			Price:     o.Price,
			Amount:    o.Amount,
			CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}
