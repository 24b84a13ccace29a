package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUserStore(t *testing.T) *UserStore {
	t.Helper()
	return NewUserStore(openSQLite(t), DialectSQLite)
}

func TestUserStoreCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := newTestUserStore(t)

	user := User{ID: "u1", DisplayName: "Amal", Email: "Amal@Example.com", PasswordHash: "hash", Role: "editor"}
	require.NoError(t, s.CreateUser(ctx, user))

	got, err := s.GetUserByEmail(ctx, "amal@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "amal@example.com", got.Email)
	assert.False(t, got.CreatedAt.IsZero())

	got, err = s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Amal", got.DisplayName)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.CreateUser(ctx, User{ID: "u2", DisplayName: "Other", Email: "amal@example.com", PasswordHash: "h", Role: "viewer"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestUserStoreRefreshSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestUserStore(t)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.CreateUser(ctx, User{ID: "u1", DisplayName: "Amal", Email: "a@x.io", PasswordHash: "h", Role: "admin"}))
	require.NoError(t, s.SaveRefreshSession(ctx, "hash-1", "u1", now.Add(time.Hour)))

	user, err := s.LookupRefreshSession(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "admin", user.Role)

	require.NoError(t, s.RevokeRefreshSession(ctx, "hash-1"))
	_, err = s.LookupRefreshSession(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Saving again reinstates the session.
	require.NoError(t, s.SaveRefreshSession(ctx, "hash-1", "u1", now.Add(time.Hour)))
	_, err = s.LookupRefreshSession(ctx, "hash-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = s.LookupRefreshSession(ctx, "hash-1")
	assert.ErrorIs(t, err, ErrNotFound)

	purged, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestUserStoreRevokedAccessTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestUserStore(t)

	revoked, err := s.IsAccessTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	exp := time.Now().Add(time.Minute)
	require.NoError(t, s.RevokeAccessToken(ctx, "jti-1", exp))
	require.NoError(t, s.RevokeAccessToken(ctx, "jti-1", exp))

	revoked, err = s.IsAccessTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestBindRewritesPlaceholdersForSQLite(t *testing.T) {
	s := &UserStore{dialect: DialectSQLite}
	assert.Equal(t, "a = ? AND b = ?", s.bind("a = $1 AND b = $12"))

	pg := &UserStore{dialect: DialectPostgres}
	assert.Equal(t, "a = $1", pg.bind("a = $1"))
}
