package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentrelay/relay/internal/store"
)

// Relay limits. Message and nonce TTLs bound storage growth; the timestamp
// window bounds how stale a signed send may be.
const (
	maxQueueDepth   = 100
	inboxLimit      = 50
	timestampWindow = 5 * time.Minute
	messageTTL      = 7 * 24 * time.Hour
	nonceTTL        = 5 * time.Minute
)

// nameRegex restricts agent names to slug-safe characters.
var nameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store     store.DataStore
	logger    zerolog.Logger
	startedAt time.Time
}

// NewHandler creates a new Handler backed by the given store.
func NewHandler(st store.DataStore, logger zerolog.Logger) *Handler {
	return &Handler{store: st, logger: logger, startedAt: time.Now()}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// decodeStrict decodes a JSON request body into dst, rejecting unknown
// fields so malformed or mistyped requests fail at the boundary.
func decodeStrict(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// isValidName reports whether name is an acceptable agent slug.
func isValidName(name string) bool {
	return nameRegex.MatchString(name)
}

// isValidEmail validates email addresses. Empty is valid (optional field).
func isValidEmail(email string) bool {
	if email == "" {
		return true
	}
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
