package handlers

import (
	"net/http"
	"time"
)

// StatsResponse summarizes relay activity for operators.
type StatsResponse struct {
	TotalAgents    int64            `json:"totalAgents"`
	AgentsByStatus map[string]int64 `json:"agentsByStatus"`
	QueuedMessages int64            `json:"queuedMessages"`
	OldestQueued   string           `json:"oldestQueued,omitempty"`
}

// Stats returns aggregate relay statistics. Unauthenticated: the figures
// reveal nothing beyond what the public directory already does.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	byStatus, err := h.store.CountAgentsByStatus(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count agents")
		return
	}

	var total int64
	for _, n := range byStatus {
		total += n
	}

	queued, err := h.store.CountMessages(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count messages")
		return
	}

	resp := StatsResponse{
		TotalAgents:    total,
		AgentsByStatus: byStatus,
		QueuedMessages: queued,
	}

	oldest, err := h.store.OldestMessageAt(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to inspect queue")
		return
	}
	if oldest != nil {
		resp.OldestQueued = time.Since(*oldest).Round(time.Second).String()
	}

	h.JSON(w, http.StatusOK, resp)
}
