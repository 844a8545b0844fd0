package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a remote-control session
type Status string

const (
	StatusPending Status = "pending" // Created, waiting for both parties to authenticate
	StatusActive  Status = "active"  // Both parties connected and activation confirmed
	StatusClosed  Status = "closed"  // Terminated; rejects all further operations
)

// Role identifies which side of a session a connection claims to be
type Role string

const (
	RoleUser     Role = "user"     // The party whose screen is shared
	RoleOperator Role = "operator" // The party viewing the screen and injecting input
)

// tokenBytes is the entropy of each join token before encoding
const tokenBytes = 32

// Session is a single remote-control session between an end user and an
// operator. All fields are guarded by the owning registry's mutex; callers
// outside the package only ever see Snapshot copies.
type Session struct {
	ID                string
	TicketID          int64
	UserName          string
	OperatorName      string
	UserToken         string
	OperatorToken     string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	LastActivityAt    time.Time
	Status            Status
	UserConnected     bool
	OperatorConnected bool
}

// expired reports whether the session's fixed lifetime has passed.
// Expiry is independent of status and of activity.
func (s *Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// snapshot returns a detached copy safe to hand outside the registry lock.
// Join tokens are deliberately not part of it.
func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:                s.ID,
		TicketID:          s.TicketID,
		UserName:          s.UserName,
		OperatorName:      s.OperatorName,
		CreatedAt:         s.CreatedAt,
		ExpiresAt:         s.ExpiresAt,
		LastActivityAt:    s.LastActivityAt,
		Status:            s.Status,
		UserConnected:     s.UserConnected,
		OperatorConnected: s.OperatorConnected,
	}
}

// Snapshot is the read-only view of a session returned by registry lookups
type Snapshot struct {
	ID                string    `json:"session_id"`
	TicketID          int64     `json:"ticket_id"`
	UserName          string    `json:"user_name"`
	OperatorName      string    `json:"operator_name"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	LastActivityAt    time.Time `json:"last_activity"`
	Status            Status    `json:"status"`
	UserConnected     bool      `json:"user_connected"`
	OperatorConnected bool      `json:"operator_connected"`
}

// Created is returned once, at creation time. It is the only moment the two
// join tokens leave the registry; they are handed out-of-band to each party
// and never echoed by any later lookup.
type Created struct {
	Snapshot
	UserToken     string `json:"user_token"`
	OperatorToken string `json:"operator_token"`
}

// newToken generates a URL-safe random join token
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// tokenMatches compares a presented token against the stored one in constant time
func tokenMatches(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
