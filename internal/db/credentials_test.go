package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeUser_Conflict(t *testing.T) {
	ctx := context.Background()
	store := NewCredentialStore(newTestDB(t))

	cred, err := store.InitializeUser(ctx, "alice", 1)
	require.NoError(t, err)
	assert.False(t, cred.Authenticated())

	_, err = store.InitializeUser(ctx, "alice", 1)
	assert.ErrorIs(t, err, ErrConflict)

	// Same chat user on another server is an independent identity.
	_, err = store.InitializeUser(ctx, "alice", 2)
	assert.NoError(t, err)
}

func TestSetInitialTokens_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewCredentialStore(newTestDB(t))

	err := store.SetInitialTokens(ctx, "ghost", 1, "", "a", "r")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.InitializeUser(ctx, "alice", 1)
	require.NoError(t, err)

	_, err = store.GetAccessToken(ctx, "alice", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetRefreshToken(ctx, "alice", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SetInitialTokens(ctx, "alice", 1, "alice_codes", "a1", "r1"))

	err = store.SetInitialTokens(ctx, "alice", 1, "", "a2", "r2")
	assert.ErrorIs(t, err, ErrConflict)

	cred, err := store.Get(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, "a1", cred.AccessTokenValue())
	assert.Equal(t, "r1", cred.RefreshTokenValue())
	require.NotNil(t, cred.RemoteUsername)
	assert.Equal(t, "alice_codes", *cred.RemoteUsername)
}

func TestRotateTokens_RejectsStaleRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := NewCredentialStore(newTestDB(t))
	_, err := store.InitializeUser(ctx, "alice", 1)
	require.NoError(t, err)
	require.NoError(t, store.SetInitialTokens(ctx, "alice", 1, "", "a1", "r1"))

	require.NoError(t, store.RotateTokens(ctx, "alice", 1, "r1", "a2", "r2"))

	err = store.RotateTokens(ctx, "alice", 1, "r1", "a3", "r3")
	assert.ErrorIs(t, err, ErrTokenRotated)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = store.RotateTokens(ctx, "ghost", 1, "r1", "a3", "r3")
	assert.ErrorIs(t, err, ErrNotFound)

	access, err := store.GetAccessToken(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, "a2", access)
	refresh, err := store.GetRefreshToken(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, "r2", refresh)

	assert.ErrorIs(t, store.RotateTokens(ctx, "alice", 1, "", "a", "r"), ErrNotFound)
}

func TestRotateTokens_MatchesOnlyItsOwnRow(t *testing.T) {
	ctx := context.Background()
	store := NewCredentialStore(newTestDB(t))
	for _, server := range []int64{1, 2} {
		_, err := store.InitializeUser(ctx, "alice", server)
		require.NoError(t, err)
		require.NoError(t, store.SetInitialTokens(ctx, "alice", server, "", "a", "shared"))
	}

	require.NoError(t, store.RotateTokens(ctx, "alice", 1, "shared", "a1", "r1"))

	other, err := store.GetRefreshToken(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, "shared", other)
}

func TestListAuthenticatedUsers(t *testing.T) {
	ctx := context.Background()
	store := NewCredentialStore(newTestDB(t))

	seed := []struct {
		user   string
		server int64
		authed bool
	}{
		{"alice", 1, true},
		{"bob", 1, false},
		{"carol", 1, true},
		{"dave", 2, true},
	}
	for _, s := range seed {
		_, err := store.InitializeUser(ctx, s.user, s.server)
		require.NoError(t, err)
		if s.authed {
			require.NoError(t, store.SetInitialTokens(ctx, s.user, s.server, "", "a-"+s.user, "r-"+s.user))
		}
	}

	creds, err := store.ListAuthenticatedUsers(ctx, 1)
	require.NoError(t, err)
	var users []string
	for _, c := range creds {
		assert.Equal(t, int64(1), c.ServerID)
		assert.True(t, c.Authenticated())
		users = append(users, c.UserID)
	}
	assert.ElementsMatch(t, []string{"alice", "carol"}, users)

	all, err := store.ListServerUsers(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	servers, err := store.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, servers)

	empty, err := store.ListAuthenticatedUsers(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
