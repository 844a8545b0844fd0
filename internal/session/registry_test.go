package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrovax/deskrelay/internal/config"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := &config.SessionsConfig{TTLMinutes: 60, SweepIntervalMinutes: 5}
	return NewRegistry(cfg, logger.NewNop())
}

// expire rewinds a session's deadline so it is already past
func expire(r *Registry, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.ExpiresAt = time.Now().UTC().Add(-time.Second)
	}
}

func TestCreateReturnsPendingSessionWithTokens(t *testing.T) {
	r := newTestRegistry(t)

	created, err := r.Create(42, "alice", "it-bob")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, StatusPending, created.Status)
	require.Equal(t, int64(42), created.TicketID)
	require.False(t, created.UserConnected)
	require.False(t, created.OperatorConnected)

	require.NotEmpty(t, created.UserToken)
	require.NotEmpty(t, created.OperatorToken)
	require.NotEqual(t, created.UserToken, created.OperatorToken)

	require.WithinDuration(t, created.CreatedAt.Add(60*time.Minute), created.ExpiresAt, time.Second)
}

func TestTokensAreRoleBound(t *testing.T) {
	r := newTestRegistry(t)
	created, err := r.Create(1, "alice", "it-bob")
	require.NoError(t, err)

	// Swapped tokens must never authenticate
	require.False(t, r.AuthenticateUser(created.ID, created.OperatorToken))
	require.False(t, r.AuthenticateOperator(created.ID, created.UserToken))

	require.True(t, r.AuthenticateUser(created.ID, created.UserToken))
	require.True(t, r.AuthenticateOperator(created.ID, created.OperatorToken))

	snap, ok := r.Get(created.ID)
	require.True(t, ok)
	require.True(t, snap.UserConnected)
	require.True(t, snap.OperatorConnected)
}

func TestAuthenticateUnknownSession(t *testing.T) {
	r := newTestRegistry(t)
	require.False(t, r.AuthenticateUser("no-such-session", "token"))
	require.False(t, r.AuthenticateOperator("no-such-session", "token"))
}

func TestCreateReplacesLiveSessionForTicket(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Create(7, "alice", "it-bob")
	require.NoError(t, err)
	second, err := r.Create(7, "alice", "it-carol")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// The old session is gone from both indexes and its tokens are dead
	_, ok := r.Get(first.ID)
	require.False(t, ok)
	require.False(t, r.AuthenticateUser(first.ID, first.UserToken))

	byTicket, ok := r.GetByTicket(7)
	require.True(t, ok)
	require.Equal(t, second.ID, byTicket.ID)
}

func TestActivateRequiresBothParties(t *testing.T) {
	r := newTestRegistry(t)
	created, err := r.Create(1, "alice", "it-bob")
	require.NoError(t, err)

	require.False(t, r.Activate(created.ID))

	require.True(t, r.AuthenticateUser(created.ID, created.UserToken))
	require.False(t, r.Activate(created.ID))

	require.True(t, r.AuthenticateOperator(created.ID, created.OperatorToken))
	require.True(t, r.Activate(created.ID))

	snap, ok := r.Get(created.ID)
	require.True(t, ok)
	require.Equal(t, StatusActive, snap.Status)
}

func TestDisconnectDemotesActiveSession(t *testing.T) {
	r := newTestRegistry(t)
	created, err := r.Create(1, "alice", "it-bob")
	require.NoError(t, err)
	require.True(t, r.AuthenticateUser(created.ID, created.UserToken))
	require.True(t, r.AuthenticateOperator(created.ID, created.OperatorToken))
	require.True(t, r.Activate(created.ID))

	r.DisconnectOperator(created.ID)

	snap, ok := r.Get(created.ID)
	require.True(t, ok)
	require.Equal(t, StatusPending, snap.Status)
	require.True(t, snap.UserConnected)
	require.False(t, snap.OperatorConnected)

	// One party alone cannot re-activate; a fresh dual handshake can
	require.False(t, r.Activate(created.ID))
	require.True(t, r.AuthenticateOperator(created.ID, created.OperatorToken))
	require.True(t, r.Activate(created.ID))
}

func TestExpiredSessionBehavesAsAbsent(t *testing.T) {
	r := newTestRegistry(t)
	created, err := r.Create(5, "alice", "it-bob")
	require.NoError(t, err)

	expire(r, created.ID)

	// Every read path treats it as gone even before the sweep runs
	_, ok := r.Get(created.ID)
	require.False(t, ok)
	_, ok = r.GetByTicket(5)
	require.False(t, ok)
	require.False(t, r.AuthenticateUser(created.ID, created.UserToken))
	require.False(t, r.Activate(created.ID))
	r.RecordActivity(created.ID)

	// The entry itself lingers until the sweep removes it
	r.mu.RLock()
	_, present := r.sessions[created.ID]
	r.mu.RUnlock()
	require.True(t, present)
}

func TestSweepRemovesExpiredFromBothMaps(t *testing.T) {
	r := newTestRegistry(t)
	stale, err := r.Create(9, "alice", "it-bob")
	require.NoError(t, err)
	fresh, err := r.Create(10, "carol", "it-bob")
	require.NoError(t, err)

	expire(r, stale.ID)
	r.SweepExpired()

	r.mu.RLock()
	_, stalePresent := r.sessions[stale.ID]
	_, staleIndexed := r.ticketIndex[9]
	_, freshPresent := r.sessions[fresh.ID]
	r.mu.RUnlock()
	require.False(t, stalePresent)
	require.False(t, staleIndexed)
	require.True(t, freshPresent)

	_, ok := r.Get(fresh.ID)
	require.True(t, ok)
}

func TestCloseRejectsEverythingAfterwards(t *testing.T) {
	r := newTestRegistry(t)
	created, err := r.Create(3, "alice", "it-bob")
	require.NoError(t, err)
	require.True(t, r.AuthenticateUser(created.ID, created.UserToken))

	require.True(t, r.Close(created.ID))
	require.False(t, r.Close(created.ID))

	_, ok := r.Get(created.ID)
	require.False(t, ok)
	_, ok = r.GetByTicket(3)
	require.False(t, ok)
	require.False(t, r.AuthenticateUser(created.ID, created.UserToken))
	require.False(t, r.AuthenticateOperator(created.ID, created.OperatorToken))
	require.False(t, r.Activate(created.ID))
	r.RecordActivity(created.ID)

	// Closed entries stay in the forward map (visible in stats) until expiry
	st := r.Stats()
	require.Equal(t, 1, st.Total)
	require.Equal(t, 1, st.Closed)
}

func TestRecordActivityRefreshesTimestamp(t *testing.T) {
	r := newTestRegistry(t)
	created, err := r.Create(1, "alice", "it-bob")
	require.NoError(t, err)

	before, ok := r.Get(created.ID)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	r.RecordActivity(created.ID)

	after, ok := r.Get(created.ID)
	require.True(t, ok)
	require.True(t, after.LastActivityAt.After(before.LastActivityAt))
}

func TestStatsCountsByStatus(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create(1, "a", "op")
	require.NoError(t, err)

	active, err := r.Create(2, "b", "op")
	require.NoError(t, err)
	require.True(t, r.AuthenticateUser(active.ID, active.UserToken))
	require.True(t, r.AuthenticateOperator(active.ID, active.OperatorToken))
	require.True(t, r.Activate(active.ID))

	closed, err := r.Create(3, "c", "op")
	require.NoError(t, err)
	require.True(t, r.Close(closed.ID))

	st := r.Stats()
	require.Equal(t, 3, st.Total)
	require.Equal(t, 1, st.Pending)
	require.Equal(t, 1, st.Active)
	require.Equal(t, 1, st.Closed)
}

func TestStartStop(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Start(context.Background()))
	r.Stop()
}
