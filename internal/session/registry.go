package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ferrovax/deskrelay/internal/config"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

// Registry owns every live remote-control session. Sessions exist in memory
// only; a process restart drops them all, which is an accepted tradeoff for
// this subsystem (tickets, by contrast, are persisted).
type Registry struct {
	ttl           time.Duration
	sweepInterval time.Duration
	logger        *logger.Logger

	// mu guards sessions and ticketIndex together; the two maps must stay
	// consistent as a pair
	mu          sync.RWMutex
	sessions    map[string]*Session
	ticketIndex map[int64]string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry creates a new session registry
func NewRegistry(cfg *config.SessionsConfig, log *logger.Logger) *Registry {
	return &Registry{
		ttl:           time.Duration(cfg.TTLMinutes) * time.Minute,
		sweepInterval: time.Duration(cfg.SweepIntervalMinutes) * time.Minute,
		logger:        log.Named("sessions"),
		sessions:      make(map[string]*Session),
		ticketIndex:   make(map[int64]string),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the periodic expiry sweep
func (r *Registry) Start(ctx context.Context) error {
	r.logger.Info("Starting session registry",
		logger.Duration("ttl", r.ttl),
		logger.Duration("sweep_interval", r.sweepInterval),
	)
	r.wg.Add(1)
	go r.sweepLoop(ctx)
	return nil
}

// Stop terminates the sweep and waits for it to finish
func (r *Registry) Stop() {
	r.logger.Info("Stopping session registry")
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("Session registry stopped")
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.SweepExpired()
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Create allocates a session for the given ticket. A ticket has at most one
// live session: any existing one is closed and unlinked from both maps before
// the replacement is inserted, so a stale token pair can never resurface.
func (r *Registry) Create(ticketID int64, userName, operatorName string) (*Created, error) {
	userToken, err := newToken()
	if err != nil {
		return nil, err
	}
	operatorToken, err := newToken()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if oldID, ok := r.ticketIndex[ticketID]; ok {
		if old, exists := r.sessions[oldID]; exists {
			old.Status = StatusClosed
			old.UserConnected = false
			old.OperatorConnected = false
			delete(r.sessions, oldID)
		}
		delete(r.ticketIndex, ticketID)
		r.logger.Info("Replaced existing session for ticket",
			logger.String("old_session_id", oldID),
			logger.Int64("ticket_id", ticketID),
		)
	}

	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		TicketID:       ticketID,
		UserName:       userName,
		OperatorName:   operatorName,
		UserToken:      userToken,
		OperatorToken:  operatorToken,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.ttl),
		LastActivityAt: now,
		Status:         StatusPending,
	}
	r.sessions[s.ID] = s
	r.ticketIndex[ticketID] = s.ID

	r.logger.Info("Created remote session",
		logger.String("session_id", s.ID),
		logger.Int64("ticket_id", ticketID),
		logger.String("user", userName),
		logger.String("operator", operatorName),
		logger.Time("expires_at", s.ExpiresAt),
	)

	return &Created{Snapshot: s.snapshot(), UserToken: userToken, OperatorToken: operatorToken}, nil
}

// live returns the session only if it is present, unexpired and not closed.
// Expired-but-unswept entries look absent to every caller. Callers hold mu.
func (r *Registry) live(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	if !ok || s.Status == StatusClosed || s.expired(time.Now().UTC()) {
		return nil, false
	}
	return s, true
}

// Get returns a snapshot of the session, or false if the id is unknown,
// expired or closed
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.live(id)
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// GetByTicket returns a snapshot of the live session for a ticket, if any
func (r *Registry) GetByTicket(ticketID int64) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.ticketIndex[ticketID]
	if !ok {
		return Snapshot{}, false
	}
	s, ok := r.live(id)
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// AuthenticateUser verifies the presented token against the session's user
// token. Success marks the user connected and refreshes activity. Closed and
// expired sessions fail exactly like unknown ids.
func (r *Registry) AuthenticateUser(id, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.live(id)
	if !ok || !tokenMatches(s.UserToken, token) {
		return false
	}
	s.UserConnected = true
	s.LastActivityAt = time.Now().UTC()
	return true
}

// AuthenticateOperator verifies the presented token against the session's
// operator token. The two tokens are never interchangeable.
func (r *Registry) AuthenticateOperator(id, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.live(id)
	if !ok || !tokenMatches(s.OperatorToken, token) {
		return false
	}
	s.OperatorConnected = true
	s.LastActivityAt = time.Now().UTC()
	return true
}

// Activate flips a session to active. Both parties must currently be
// connected; activation is an explicit step, never inferred from a single
// connection event, so one stale token alone never yields a live channel.
func (r *Registry) Activate(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.live(id)
	if !ok || !s.UserConnected || !s.OperatorConnected {
		return false
	}
	s.Status = StatusActive
	s.LastActivityAt = time.Now().UTC()
	r.logger.Info("Session activated", logger.String("session_id", id))
	return true
}

// RecordActivity refreshes the activity timestamp. Unknown, expired and
// closed sessions are silently ignored.
func (r *Registry) RecordActivity(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.live(id); ok {
		s.LastActivityAt = time.Now().UTC()
	}
}

// DisconnectUser clears the user's connected flag. An active session is
// demoted back to pending; it only becomes active again through a fresh
// Activate once both sides are connected anew.
func (r *Registry) DisconnectUser(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Status == StatusClosed {
		return
	}
	s.UserConnected = false
	if s.Status == StatusActive {
		s.Status = StatusPending
	}
	r.logger.Info("User disconnected from session", logger.String("session_id", id))
}

// DisconnectOperator clears the operator's connected flag, demoting an
// active session to pending
func (r *Registry) DisconnectOperator(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Status == StatusClosed {
		return
	}
	s.OperatorConnected = false
	if s.Status == StatusActive {
		s.Status = StatusPending
	}
	r.logger.Info("Operator disconnected from session", logger.String("session_id", id))
}

// Close terminates a session. The ticket mapping is removed inline; the
// forward entry stays behind until the sweep prunes it, so a sweep iterating
// the forward map never has entries deleted out from under it by a close.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Status == StatusClosed {
		return false
	}
	s.Status = StatusClosed
	s.UserConnected = false
	s.OperatorConnected = false
	if current, exists := r.ticketIndex[s.TicketID]; exists && current == id {
		delete(r.ticketIndex, s.TicketID)
	}
	r.logger.Info("Closed remote session",
		logger.String("session_id", id),
		logger.Int64("ticket_id", s.TicketID),
	)
	return true
}

// SweepExpired closes and removes every session whose lifetime has passed.
// It runs on the sweep ticker for the life of the process and never fails.
func (r *Registry) SweepExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	var expired []string
	for id, s := range r.sessions {
		if s.expired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s := r.sessions[id]
		s.Status = StatusClosed
		s.UserConnected = false
		s.OperatorConnected = false
		delete(r.sessions, id)
		if current, exists := r.ticketIndex[s.TicketID]; exists && current == id {
			delete(r.ticketIndex, s.TicketID)
		}
	}
	if len(expired) > 0 {
		r.logger.Info("Swept expired sessions", logger.Int("count", len(expired)))
	}
}

// Stats summarizes registry contents by status
type Stats struct {
	Total   int `json:"total_sessions"`
	Pending int `json:"pending"`
	Active  int `json:"active"`
	Closed  int `json:"closed"`
}

// Stats returns session counts by status
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var st Stats
	for _, s := range r.sessions {
		st.Total++
		switch s.Status {
		case StatusPending:
			st.Pending++
		case StatusActive:
			st.Active++
		case StatusClosed:
			st.Closed++
		}
	}
	return st
}
