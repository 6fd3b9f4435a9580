package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/agentrelay/relay/internal/crypto"
	"github.com/agentrelay/relay/internal/metrics"
	"github.com/agentrelay/relay/internal/store"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name       string   `json:"name"`
	PublicKey  string   `json:"publicKey"`
	OwnerEmail string   `json:"ownerEmail,omitempty"`
	Teams      []string `json:"teams,omitempty"`
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Register handles self-service agent registration. No authentication is
// required: the identity starts as pending and cannot sign anything the
// relay will accept until an administrator approves it.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeStrict(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !isValidName(req.Name) {
		h.Error(w, http.StatusBadRequest, "name must match [A-Za-z0-9_-]{1,64}")
		return
	}

	if req.PublicKey == "" {
		h.Error(w, http.StatusBadRequest, "publicKey is required")
		return
	}
	if _, err := crypto.ValidatePublicKey(req.PublicKey); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid publicKey: must be base64-encoded Ed25519 public key (32 bytes)")
		return
	}

	if !isValidEmail(req.OwnerEmail) {
		h.Error(w, http.StatusBadRequest, "invalid ownerEmail format")
		return
	}

	agent, err := h.store.CreateAgent(r.Context(), req.Name, req.PublicKey, req.OwnerEmail, req.Teams)
	if err != nil {
		// A taken name conflicts regardless of the public key supplied.
		if errors.Is(err, store.ErrDuplicate) {
			h.Error(w, http.StatusConflict, "agent name already registered")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	metrics.AgentsRegistered.Inc()

	h.JSON(w, http.StatusCreated, RegisterResponse{
		Name:   agent.Name,
		Status: agent.Status,
	})
}

// DirectoryEntry is an agent row as published by the public directory. The
// owner email is deliberately absent: it is operator contact data, not part
// of the public identity.
type DirectoryEntry struct {
	Name         string     `json:"name"`
	PublicKey    string     `json:"publicKey"`
	Status       string     `json:"status"`
	Teams        []string   `json:"teams"`
	RegisteredAt time.Time  `json:"registeredAt"`
	ApprovedAt   *time.Time `json:"approvedAt,omitempty"`
}

// Directory handles the public agent directory listing. Unauthenticated by
// design: only the public identity fields are published.
func (h *Handler) Directory(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	entries := make([]DirectoryEntry, 0, len(agents))
	for _, a := range agents {
		entries = append(entries, DirectoryEntry{
			Name:         a.Name,
			PublicKey:    a.PublicKey,
			Status:       a.Status,
			Teams:        a.Teams,
			RegisteredAt: a.RegisteredAt,
			ApprovedAt:   a.ApprovedAt,
		})
	}
	h.JSON(w, http.StatusOK, entries)
}
