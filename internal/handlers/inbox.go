package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentrelay/relay/internal/api/middleware"
	"github.com/agentrelay/relay/internal/metrics"
	"github.com/agentrelay/relay/internal/models"
)

// AckRequest lists message ids to delete from the caller's own queue.
type AckRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// AckResponse reports how many messages were actually deleted.
type AckResponse struct {
	OK      bool  `json:"ok"`
	Deleted int64 `json:"deleted"`
}

// Inbox returns up to 50 pending messages for the authenticated agent,
// oldest first. Each entry carries the original signed payload and
// signature so the recipient can re-verify authenticity itself rather than
// trusting the relay.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")

	messages, err := h.store.ListInbox(r.Context(), agent, inboxLimit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	h.JSON(w, http.StatusOK, messages)
}

// Ack deletes acknowledged messages from the authenticated agent's queue.
// Ids already gone are skipped, so retrying an ack is safe.
func (h *Handler) Ack(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")

	// Self-access is enforced by middleware; the authenticated identity is
	// only consulted here for the scoping sanity check.
	if auth := middleware.GetAgentFromContext(r.Context()); auth == nil || auth.Name != agent {
		h.Error(w, http.StatusForbidden, "cannot acknowledge another agent's mailbox")
		return
	}

	var req AckRequest
	if err := decodeStrict(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MessageIDs == nil {
		h.Error(w, http.StatusBadRequest, "messageIds is required")
		return
	}

	deleted, err := h.store.DeleteMessages(r.Context(), agent, req.MessageIDs)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	metrics.MessagesAcked.Add(float64(deleted))

	h.JSON(w, http.StatusOK, AckResponse{OK: true, Deleted: deleted})
}
