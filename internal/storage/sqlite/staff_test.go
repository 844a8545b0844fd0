package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrovax/deskrelay/pkg/logger"
)

func newTestStaffStorage(t *testing.T) *StaffStorage {
	t.Helper()
	tickets, err := NewTicketStorage(filepath.Join(t.TempDir(), "helpdesk.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { tickets.Close() })
	return NewStaffStorage(tickets.GetDB(), logger.NewNop())
}

func TestStaffInsertAndGetByUsername(t *testing.T) {
	storage := newTestStaffStorage(t)

	count, err := storage.Count()
	require.NoError(t, err)
	require.Zero(t, count)

	record := &StaffRecord{
		Username:     "admin",
		PasswordHash: "$2a$10$notarealhash",
		Email:        "it@example.org",
	}
	id, err := storage.Insert(record)
	require.NoError(t, err)
	require.Equal(t, id, record.ID)

	got, err := storage.GetByUsername("admin")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "admin", got.Username)
	require.Equal(t, "$2a$10$notarealhash", got.PasswordHash)
	require.Equal(t, "it@example.org", got.Email)
	require.False(t, got.CreatedAt.IsZero())

	count, err = storage.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestStaffGetByUsernameMissing(t *testing.T) {
	storage := newTestStaffStorage(t)

	got, err := storage.GetByUsername("ghost")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStaffUsernameIsUnique(t *testing.T) {
	storage := newTestStaffStorage(t)

	_, err := storage.Insert(&StaffRecord{Username: "admin", PasswordHash: "x", Email: "a@b.c"})
	require.NoError(t, err)

	_, err = storage.Insert(&StaffRecord{Username: "admin", PasswordHash: "y", Email: "d@e.f"})
	require.Error(t, err)
}
