package handler

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/darkbet/darkbet/internal/domain"
)

// IntentService defines the engine methods the intent handler requires.
type IntentService interface {
	SubmitIntent(ctx context.Context, owner string, intent domain.EncryptedIntent) (string, error)
	PublicKey() []byte
	LegacyPublicKey() []byte
}

// IntentHandler serves the engine's encryption keys and accepts sealed
// order intents. Ciphertext and nonce travel as hex strings.
type IntentHandler struct {
	engine IntentService
	logger *slog.Logger
}

// NewIntentHandler creates an IntentHandler.
func NewIntentHandler(engine IntentService, logger *slog.Logger) *IntentHandler {
	return &IntentHandler{
		engine: engine,
		logger: logHandler(logger, "intent"),
	}
}

// GetKeys returns the public keys clients seal intents against.
// GET /api/engine/keys
func (h *IntentHandler) GetKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"public_key":        "0x" + hex.EncodeToString(h.engine.PublicKey()),
		"legacy_public_key": "0x" + hex.EncodeToString(h.engine.LegacyPublicKey()),
	})
}

// submitIntentRequest is the sealed intent payload.
type submitIntentRequest struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// SubmitIntent decrypts and executes a sealed order intent for the
// authenticated caller.
// POST /api/intents
func (h *IntentHandler) SubmitIntent(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}

	var req submitIntentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ciphertext, err := hex.DecodeString(strings.TrimPrefix(req.Ciphertext, "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ciphertext is not valid hex")
		return
	}
	nonce, err := hex.DecodeString(strings.TrimPrefix(req.Nonce, "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "nonce is not valid hex")
		return
	}

	orderID, err := h.engine.SubmitIntent(r.Context(), addr, domain.EncryptedIntent{
		Ciphertext: ciphertext,
		Nonce:      nonce,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "intent executed",
		slog.String("order_id", orderID),
	)
	writeJSON(w, http.StatusCreated, map[string]string{"order_id": orderID})
}
