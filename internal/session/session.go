package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// idBytes is the entropy of a session ID (256 bits).
const idBytes = 32

// ErrNotFound is returned for unknown, deleted or expired sessions.
var ErrNotFound = errors.New("session not found")

// Session binds a cookie to a signed-in operator.
type Session struct {
	ID         string    `json:"id"`
	OperatorID string    `json:"operator_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at t.
func (s *Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Store persists sessions. Implementations are safe for concurrent use.
type Store interface {
	// Create starts a new session for the operator with a fresh ID.
	Create(ctx context.Context, operatorID string) (*Session, error)
	// Get returns a live session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	// Touch slides the expiry of a live session forward by the store TTL.
	Touch(ctx context.Context, id string) error
	// Delete removes a session. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error
}

// NewID returns a random hex session identifier.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
