package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/agentrelay/relay/internal/api/middleware"
	"github.com/agentrelay/relay/internal/metrics"
	"github.com/agentrelay/relay/internal/models"
	"github.com/agentrelay/relay/internal/store"
)

// SendRequest represents the send request body. The exact bytes of this
// body are what the sender signed, so the handler keeps the raw form as the
// stored payload.
type SendRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"messageId"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// SendResponse acknowledges an accepted message.
type SendResponse struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId"`
}

// Send accepts a signed message and queues it for the recipient.
//
// Validation runs in a fixed order and leaves no record on any failure
// path: the nonce is recorded only after every prior check passes, so a
// rejected request never burns its nonce.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	sender := middleware.GetAgentFromContext(r.Context())
	if sender == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req SendRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// The signature already binds the body to the sender's key; this guard
	// stops an active agent from naming someone else in its own payload.
	if req.From != sender.Name {
		h.Error(w, http.StatusForbidden, "from must match authenticated agent")
		return
	}

	if req.To == "" || req.Type == "" || req.MessageID == "" || req.Nonce == "" || req.Timestamp == 0 {
		h.Error(w, http.StatusBadRequest, "to, type, messageId, nonce and timestamp are required")
		return
	}

	drift := time.Since(time.UnixMilli(req.Timestamp))
	if drift < 0 {
		drift = -drift
	}
	if drift > timestampWindow {
		h.Error(w, http.StatusBadRequest, "timestamp outside acceptance window")
		return
	}

	// Existence only: a pending or revoked recipient still queues, so a
	// mailbox can fill while its owner awaits approval.
	recipient, err := h.store.GetAgent(r.Context(), req.To)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if recipient == nil {
		h.Error(w, http.StatusNotFound, "recipient not found")
		return
	}

	// Atomic insert-or-reject: two concurrent sends with the same nonce
	// cannot both pass.
	if err := h.store.RecordNonce(r.Context(), req.Nonce, time.Now()); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			metrics.ReplaysRejected.Inc()
			h.Error(w, http.StatusConflict, "nonce already used")
			return
		}
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	msg := &models.Message{
		ID:        req.MessageID,
		From:      req.From,
		To:        req.To,
		Type:      req.Type,
		Text:      req.Text,
		Payload:   string(raw),
		Signature: r.Header.Get(middleware.HeaderSignature),
		CreatedAt: time.Now(),
	}

	evicted, err := h.store.InsertMessage(r.Context(), msg, maxQueueDepth)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	metrics.MessagesAccepted.Inc()
	if evicted > 0 {
		metrics.MessagesEvicted.Add(float64(evicted))
		h.logger.Warn().
			Str("recipient", req.To).
			Int64("evicted", evicted).
			Msg("recipient queue at cap, oldest messages dropped")
	}

	// Opportunistic TTL cleanup piggybacks on accepted sends.
	if err := h.store.Cleanup(r.Context(), messageTTL, nonceTTL); err != nil {
		h.logger.Warn().Err(err).Msg("cleanup failed")
	}

	h.JSON(w, http.StatusOK, SendResponse{OK: true, MessageID: req.MessageID})
}
