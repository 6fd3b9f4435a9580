package models

import "time"

// Message is a queued delivery awaiting acknowledgment by its recipient.
// Payload holds the exact signed request body and Signature the sender's
// signature over it, so the recipient can re-verify authenticity without
// trusting the relay.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	Payload   string    `json:"payload"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"createdAt"`
}
