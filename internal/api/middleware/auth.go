package middleware

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentrelay/relay/internal/crypto"
	"github.com/agentrelay/relay/internal/metrics"
	"github.com/agentrelay/relay/internal/models"
	"github.com/agentrelay/relay/internal/store"
)

// Auth headers.
const (
	HeaderAgent       = "X-Relay-Agent"
	HeaderSignature   = "X-Relay-Signature"
	HeaderTimestamp   = "X-Relay-Timestamp"
	HeaderAdminSecret = "X-Relay-Admin-Secret"
)

type contextKey string

const AgentContextKey contextKey = "agent"

// AuthMiddleware handles signature verification for agent endpoints and
// shared-secret verification for administrator endpoints.
type AuthMiddleware struct {
	store       store.DataStore
	adminSecret string
	window      time.Duration
}

// NewAuthMiddleware creates a new auth middleware. The window bounds how far
// a bodyless request's timestamp may drift from server time.
func NewAuthMiddleware(st store.DataStore, adminSecret string, window time.Duration) *AuthMiddleware {
	return &AuthMiddleware{
		store:       st,
		adminSecret: adminSecret,
		window:      window,
	}
}

// RequireAgent verifies the Ed25519 signature on a request against the
// claimed agent's registered public key.
//
// The canonical payload is the exact body bytes for body-bearing requests,
// or "METHOD PATH TIMESTAMP" for bodyless ones, with the timestamp taken
// from the X-Relay-Timestamp header and required to be fresh. Binding
// method and path prevents a captured signature from being replayed against
// a different endpoint.
//
// Only active agents pass: an unknown identity or a bad signature is an
// authentication failure (401); a known but pending or revoked identity is
// an authorization failure (403).
func (m *AuthMiddleware) RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentName := r.Header.Get(HeaderAgent)
		signature := r.Header.Get(HeaderSignature)

		if agentName == "" || signature == "" {
			m.fail(w, http.StatusUnauthorized, "missing_headers", "missing auth headers")
			return
		}

		agent, err := m.store.GetAgent(r.Context(), agentName)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "database error")
			return
		}
		if agent == nil {
			m.fail(w, http.StatusUnauthorized, "unknown_agent", "unknown agent")
			return
		}

		pubkey, err := crypto.ValidatePublicKey(agent.PublicKey)
		if err != nil {
			m.fail(w, http.StatusUnauthorized, "bad_stored_key", "invalid agent public key")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			// A chunked request has no Content-Length for the size cap to
			// check up front, so the limit trips here instead.
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				jsonError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			jsonError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body)) // reset for handler

		var payload []byte
		if len(body) > 0 {
			payload = body
		} else {
			ts := r.Header.Get(HeaderTimestamp)
			if ts == "" {
				m.fail(w, http.StatusUnauthorized, "missing_timestamp", "missing timestamp header")
				return
			}
			millis, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				m.fail(w, http.StatusUnauthorized, "bad_timestamp", "invalid timestamp format")
				return
			}
			if !m.fresh(millis) {
				m.fail(w, http.StatusUnauthorized, "stale_timestamp", "timestamp outside acceptance window")
				return
			}
			payload = crypto.CanonicalRequest(r.Method, r.URL.Path, millis)
		}

		if err := crypto.VerifySignature(pubkey, payload, signature); err != nil {
			m.fail(w, http.StatusUnauthorized, "bad_signature", "invalid signature")
			return
		}

		// Signature is good, but only approved identities may relay.
		if agent.Status != models.StatusActive {
			m.fail(w, http.StatusForbidden, "not_active", "agent is "+agent.Status)
			return
		}

		ctx := context.WithValue(r.Context(), AgentContextKey, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin verifies the administrator shared secret. The comparison is
// constant-time to avoid leaking the secret through timing.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.adminSecret == "" {
			m.fail(w, http.StatusUnauthorized, "admin_disabled", "admin secret not configured")
			return
		}
		provided := r.Header.Get(HeaderAdminSecret)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(m.adminSecret)) != 1 {
			m.fail(w, http.StatusUnauthorized, "bad_admin_secret", "invalid admin secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSelf restricts an endpoint scoped to an {agent} path parameter to
// the authenticated identity itself. This holds even for structurally valid
// signatures: agent A must never read or acknowledge agent B's mailbox.
func (m *AuthMiddleware) RequireSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent := GetAgentFromContext(r.Context())
		if agent == nil {
			m.fail(w, http.StatusUnauthorized, "no_identity", "authentication required")
			return
		}
		if chi.URLParam(r, "agent") != agent.Name {
			m.fail(w, http.StatusForbidden, "cross_agent", "cannot access another agent's mailbox")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) fresh(millis int64) bool {
	drift := time.Since(time.UnixMilli(millis))
	if drift < 0 {
		drift = -drift
	}
	return drift <= m.window
}

func (m *AuthMiddleware) fail(w http.ResponseWriter, status int, reason, message string) {
	metrics.AuthFailures.WithLabelValues(reason).Inc()
	jsonError(w, status, message)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetAgentFromContext retrieves the authenticated agent from the request context.
func GetAgentFromContext(ctx context.Context) *models.Agent {
	agent, ok := ctx.Value(AgentContextKey).(*models.Agent)
	if !ok {
		return nil
	}
	return agent
}
