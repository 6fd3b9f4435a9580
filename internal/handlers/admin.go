package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentrelay/relay/internal/store"
)

// StatusResponse reports an agent's lifecycle state after an admin action.
type StatusResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Approve sets an agent's status to active. Idempotent when already active.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	agent, err := h.store.ApproveAgent(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "agent not found")
			return
		}
		if errors.Is(err, store.ErrRevoked) {
			h.Error(w, http.StatusConflict, "agent is revoked")
			return
		}
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, StatusResponse{Name: agent.Name, Status: agent.Status})
}

// Revoke sets an agent's status to revoked. Unconditional and irreversible:
// there is no path back to active.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	agent, err := h.store.RevokeAgent(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "agent not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	h.JSON(w, http.StatusOK, StatusResponse{Name: agent.Name, Status: agent.Status})
}
