// Package relay provides a client for the agent relay service.
package relay

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Auth headers understood by the relay.
const (
	headerAgent     = "X-Relay-Agent"
	headerSignature = "X-Relay-Signature"
	headerTimestamp = "X-Relay-Timestamp"
)

// Client is an agent relay API client. It signs requests with the agent's
// Ed25519 private key; the key never leaves the client.
type Client struct {
	BaseURL    string
	AgentName  string
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client
}

// NewClient creates a new relay client for the given agent identity.
func NewClient(baseURL, agentName string, privateKey ed25519.PrivateKey) *Client {
	return &Client{
		BaseURL:    baseURL,
		AgentName:  agentName,
		PrivateKey: privateKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// signBody returns auth headers for a body-bearing request. The signature
// covers the exact body bytes, so the caller must send body unmodified.
func (c *Client) signBody(body []byte) http.Header {
	sig := ed25519.Sign(c.PrivateKey, body)

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set(headerAgent, c.AgentName)
	headers.Set(headerSignature, base64.StdEncoding.EncodeToString(sig))
	return headers
}

// signCanonical returns auth headers for a bodyless request, signing the
// canonical "METHOD PATH TIMESTAMP" string.
func (c *Client) signCanonical(method, path string) http.Header {
	timestamp := time.Now().UnixMilli()
	payload := fmt.Sprintf("%s %s %d", method, path, timestamp)
	sig := ed25519.Sign(c.PrivateKey, []byte(payload))

	headers := http.Header{}
	headers.Set(headerAgent, c.AgentName)
	headers.Set(headerTimestamp, strconv.FormatInt(timestamp, 10))
	headers.Set(headerSignature, base64.StdEncoding.EncodeToString(sig))
	return headers
}

// doRequest performs an HTTP request with the given headers.
func (c *Client) doRequest(method, path string, body []byte, headers http.Header) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if headers != nil {
		req.Header = headers
	} else {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("relay error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// Agent mirrors the public directory entry returned by the relay.
type Agent struct {
	Name         string     `json:"name"`
	PublicKey    string     `json:"publicKey"`
	Status       string     `json:"status"`
	Teams        []string   `json:"teams"`
	RegisteredAt time.Time  `json:"registeredAt"`
	ApprovedAt   *time.Time `json:"approvedAt,omitempty"`
}

// Message mirrors an inbox entry returned by the relay.
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

// RegisterResponse is the response from agent registration.
type RegisterResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Register registers this client's identity with the relay. The resulting
// agent is pending until an administrator approves it.
func (c *Client) Register(ownerEmail string, teams []string) (*RegisterResponse, error) {
	pub, ok := c.PrivateKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("client has no Ed25519 private key")
	}

	body, err := json.Marshal(map[string]any{
		"name":       c.AgentName,
		"publicKey":  base64.StdEncoding.EncodeToString(pub),
		"ownerEmail": ownerEmail,
		"teams":      teams,
	})
	if err != nil {
		return nil, err
	}

	respBody, err := c.doRequest(http.MethodPost, "/registry/agents", body, nil)
	if err != nil {
		return nil, err
	}

	var resp RegisterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Directory fetches the public agent directory.
func (c *Client) Directory() ([]Agent, error) {
	respBody, err := c.doRequest(http.MethodGet, "/registry/agents", nil, nil)
	if err != nil {
		return nil, err
	}
	var agents []Agent
	if err := json.Unmarshal(respBody, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// SendResponse acknowledges an accepted message.
type SendResponse struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId"`
}

// Send delivers a signed message to another agent. A fresh message id
// (ULID) and nonce (UUID) are generated for every call, and the signature
// covers the exact marshalled body.
func (c *Client) Send(to, msgType, text string) (*SendResponse, error) {
	messageID := ulid.Make().String()

	body, err := json.Marshal(map[string]any{
		"from":      c.AgentName,
		"to":        to,
		"type":      msgType,
		"text":      text,
		"messageId": messageID,
		"nonce":     uuid.NewString(),
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	respBody, err := c.doRequest(http.MethodPost, "/relay/send", body, c.signBody(body))
	if err != nil {
		return nil, err
	}

	var resp SendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Inbox polls this agent's mailbox and re-verifies each message's payload
// signature against the sender's directory key. The relay is trusted for
// delivery, not for authenticity: messages that fail verification are
// returned with Verified=false so the caller can decide what to do.
func (c *Client) Inbox() ([]VerifiedMessage, error) {
	path := "/relay/inbox/" + c.AgentName
	respBody, err := c.doRequest(http.MethodGet, path, nil, c.signCanonical(http.MethodGet, path))
	if err != nil {
		return nil, err
	}

	var messages []Message
	if err := json.Unmarshal(respBody, &messages); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}

	directory, err := c.Directory()
	if err != nil {
		return nil, err
	}
	keys := make(map[string]string, len(directory))
	for _, a := range directory {
		keys[a.Name] = a.PublicKey
	}

	verified := make([]VerifiedMessage, len(messages))
	for i, msg := range messages {
		verified[i] = VerifiedMessage{
			Message:  msg,
			Verified: verifyPayload(msg, keys[msg.From]),
		}
	}
	return verified, nil
}

// VerifiedMessage is an inbox entry with the outcome of local signature
// verification.
type VerifiedMessage struct {
	Message
	Verified bool
}

// verifyPayload checks the message's stored signature over its original
// payload bytes using the sender's base64 public key.
func verifyPayload(msg Message, senderKeyB64 string) bool {
	if senderKeyB64 == "" {
		return false
	}
	pub, err := base64.StdEncoding.DecodeString(senderKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(msg.Payload), sig)
}

// AckResponse reports how many messages the relay deleted.
type AckResponse struct {
	OK      bool  `json:"ok"`
	Deleted int64 `json:"deleted"`
}

// Ack acknowledges (and deletes) the given message ids from this agent's
// mailbox. Safe to retry: already-deleted ids are skipped.
func (c *Client) Ack(messageIDs []string) (*AckResponse, error) {
	body, err := json.Marshal(map[string]any{"messageIds": messageIDs})
	if err != nil {
		return nil, err
	}

	path := "/relay/inbox/" + c.AgentName + "/ack"
	respBody, err := c.doRequest(http.MethodPost, path, body, c.signBody(body))
	if err != nil {
		return nil, err
	}

	var resp AckResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateKeypair generates a new Ed25519 keypair for a fresh identity.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}
