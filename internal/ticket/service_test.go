package ticket

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrovax/deskrelay/internal/config"
	"github.com/ferrovax/deskrelay/internal/mailer"
	"github.com/ferrovax/deskrelay/internal/session"
	"github.com/ferrovax/deskrelay/internal/storage/sqlite"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *session.Registry) {
	t.Helper()
	log := logger.NewNop()

	storage, err := sqlite.NewTicketStorage(filepath.Join(t.TempDir(), "helpdesk.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	registry := session.NewRegistry(&config.SessionsConfig{TTLMinutes: 60, SweepIntervalMinutes: 5}, log)

	mail, err := mailer.New(&config.SMTPConfig{}, log)
	require.NoError(t, err)

	return NewService(storage, registry, mail, log), registry
}

func validRequest() *SubmitRequest {
	return &SubmitRequest{
		UserName:              "Alice Jensen",
		UserEmail:             "alice@example.org",
		PCLocation:            "Room 101",
		ProblemDescription:    "Screen flickers after login",
		RemoteAccessRequested: true,
	}
}

func TestSubmitStoresTicket(t *testing.T) {
	svc, _ := newTestService(t)

	record, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotZero(t, record.ID)
	require.Equal(t, sqlite.TicketStatusNew, record.Status)

	detail, err := svc.Get(record.ID)
	require.NoError(t, err)
	require.Equal(t, "Alice Jensen", detail.Ticket.UserName)
	require.Nil(t, detail.Session)
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newTestService(t)

	cases := map[string]func(*SubmitRequest){
		"short name":        func(r *SubmitRequest) { r.UserName = "A" },
		"bad email":         func(r *SubmitRequest) { r.UserEmail = "not-an-address" },
		"short location":    func(r *SubmitRequest) { r.PCLocation = "X" },
		"short description": func(r *SubmitRequest) { r.ProblemDescription = "broken" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			mutate(req)
			_, err := svc.Submit(context.Background(), req)
			require.Error(t, err)
		})
	}
}

func TestUpdateChangesStatusAndAppendsNote(t *testing.T) {
	svc, _ := newTestService(t)

	record, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), record.ID, "admin", &UpdateRequest{
		Status: sqlite.TicketStatusInProgress,
		Notes:  "Swapped the display cable",
	})
	require.NoError(t, err)
	require.Equal(t, sqlite.TicketStatusInProgress, updated.Status)
	require.Contains(t, updated.Notes, " - admin]: Swapped the display cable")
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	svc, _ := newTestService(t)

	record, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), record.ID, "admin", &UpdateRequest{Status: "Escalated"})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateMissingTicket(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Update(context.Background(), 99, "admin", &UpdateRequest{Notes: "x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetMissingTicket(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStartRemoteRequiresAuthorization(t *testing.T) {
	svc, _ := newTestService(t)

	req := validRequest()
	req.RemoteAccessRequested = false
	record, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.StartRemote(context.Background(), record.ID, "it-bob")
	require.ErrorIs(t, err, ErrRemoteNotRequested)
}

func TestStartRemoteCreatesSessionAndStampsTicket(t *testing.T) {
	svc, registry := newTestService(t)

	record, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	created, err := svc.StartRemote(context.Background(), record.ID, "it-bob")
	require.NoError(t, err)
	require.NotEmpty(t, created.UserToken)
	require.NotEmpty(t, created.OperatorToken)
	require.Equal(t, record.ID, created.TicketID)
	require.Equal(t, "Alice Jensen", created.UserName)
	require.Equal(t, "it-bob", created.OperatorName)

	snap, ok := registry.Get(created.ID)
	require.True(t, ok)
	require.Equal(t, session.StatusPending, snap.Status)

	detail, err := svc.Get(record.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, detail.Ticket.RemoteSessionID)
	require.Equal(t, sqlite.RemoteStatusPending, detail.Ticket.RemoteSessionStatus)
	require.NotNil(t, detail.Session)
	require.Equal(t, created.ID, detail.Session.ID)
}

func TestStartRemoteReplacesExistingSession(t *testing.T) {
	svc, registry := newTestService(t)

	record, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	first, err := svc.StartRemote(context.Background(), record.ID, "it-bob")
	require.NoError(t, err)
	second, err := svc.StartRemote(context.Background(), record.ID, "it-bob")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	_, ok := registry.Get(first.ID)
	require.False(t, ok)
	_, ok = registry.Get(second.ID)
	require.True(t, ok)

	detail, err := svc.Get(record.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, detail.Ticket.RemoteSessionID)
}

func TestEndRemoteClosesSession(t *testing.T) {
	svc, registry := newTestService(t)

	record, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	created, err := svc.StartRemote(context.Background(), record.ID, "it-bob")
	require.NoError(t, err)

	require.NoError(t, svc.EndRemote(record.ID))

	_, ok := registry.Get(created.ID)
	require.False(t, ok)

	detail, err := svc.Get(record.ID)
	require.NoError(t, err)
	require.Equal(t, sqlite.RemoteStatusClosed, detail.Ticket.RemoteSessionStatus)
	require.Nil(t, detail.Session)
}
