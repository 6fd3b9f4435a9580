package models

import "time"

// Agent lifecycle states. Revoked is terminal: there is no path back to active.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// Agent represents a registered agent identity. The name is assigned exactly
// once at registration and never changes; only the status moves.
type Agent struct {
	Name         string     `json:"name"`
	PublicKey    string     `json:"publicKey"`
	OwnerEmail   string     `json:"ownerEmail,omitempty"`
	Status       string     `json:"status"`
	Teams        []string   `json:"teams"`
	RegisteredAt time.Time  `json:"registeredAt"`
	ApprovedAt   *time.Time `json:"approvedAt,omitempty"`
}
