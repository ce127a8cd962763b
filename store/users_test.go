package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadi/qsa-engrave/models"
)

func TestEnsureAdminIsIdempotent(t *testing.T) {
	s := NewUserStore(testDB(t), testLog())
	ctx := context.Background()

	require.NoError(t, s.EnsureAdmin(ctx, "first-password"))
	// Second call must not overwrite the existing password.
	require.NoError(t, s.EnsureAdmin(ctx, "other-password"))

	_, u, err := s.Login(ctx, "admin", "first-password")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Role)

	_, _, err = s.Login(ctx, "admin", "other-password")
	assert.True(t, models.IsCode(err, models.CodeNotLoggedIn))
}

func TestLoginAndSessions(t *testing.T) {
	s := NewUserStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "alice", "hunter22", "Alice", "operator")
	require.NoError(t, err)

	_, _, err = s.Login(ctx, "alice", "wrong")
	assert.True(t, models.IsCode(err, models.CodeNotLoggedIn))
	_, _, err = s.Login(ctx, "nobody", "hunter22")
	assert.True(t, models.IsCode(err, models.CodeNotLoggedIn))

	token, u, err := s.Login(ctx, "alice", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "operator", u.Role)
	assert.Equal(t, "Alice", u.DisplayName)

	got, err := s.SessionUser(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.SessionUser(ctx, "no-such-token")
	assert.True(t, models.IsCode(err, models.CodeNotLoggedIn))
	_, err = s.SessionUser(ctx, "")
	assert.True(t, models.IsCode(err, models.CodeNotLoggedIn))

	require.NoError(t, s.Logout(ctx, token))
	_, err = s.SessionUser(ctx, token)
	assert.True(t, models.IsCode(err, models.CodeNotLoggedIn))

	// Unknown tokens log out without error.
	require.NoError(t, s.Logout(ctx, "no-such-token"))
}
