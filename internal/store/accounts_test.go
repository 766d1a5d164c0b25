package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/pkg/models"
)

func newTestAccountStore(t *testing.T) *AccountStore {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAccountStore(db)
}

func TestAccountCreateGet(t *testing.T) {
	s := newTestAccountStore(t)
	ctx := context.Background()

	acct, err := s.Create(ctx, "user-1", models.PlatformTwitter, models.AuthCookies, "@alice", []byte(`{"iv":"..","encrypted":"..","authTag":".."}`))
	require.NoError(t, err)

	got, err := s.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, models.AuthCookies, got.AuthMethod)
	assert.True(t, got.IsActive)
	assert.NotEmpty(t, got.Payload)
}

func TestAccountDeactivateHidesAccount(t *testing.T) {
	s := newTestAccountStore(t)
	ctx := context.Background()

	acct, err := s.Create(ctx, "user-1", models.PlatformLinkedIn, models.AuthCredentials, "", []byte("blob"))
	require.NoError(t, err)

	require.NoError(t, s.Deactivate(ctx, acct.ID))

	_, err = s.Get(ctx, acct.ID)
	assert.ErrorIs(t, err, faults.ErrNotFound)

	// double deactivate is rejected
	assert.ErrorIs(t, s.Deactivate(ctx, acct.ID), faults.ErrNotFound)
}

func TestAccountListByUser(t *testing.T) {
	s := newTestAccountStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "user-1", models.PlatformTwitter, models.AuthCookies, "", []byte("a"))
	require.NoError(t, err)
	_, err = s.Create(ctx, "user-1", models.PlatformThreads, models.AuthExtension, "", nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "user-2", models.PlatformTwitter, models.AuthCookies, "", []byte("b"))
	require.NoError(t, err)

	accts, err := s.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, accts, 2)
}

func TestAccountUpdatePayload(t *testing.T) {
	s := newTestAccountStore(t)
	ctx := context.Background()

	acct, err := s.Create(ctx, "user-1", models.PlatformTwitter, models.AuthCookies, "", []byte("old"))
	require.NoError(t, err)

	require.NoError(t, s.UpdatePayload(ctx, acct.ID, []byte("new")))

	got, err := s.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got.Payload)
}
