package users_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/stretchr/testify/require"
)

func TestProfile_Name(t *testing.T) {
	t.Run("display name", func(t *testing.T) {
		p := users.Profile{Email: "jane@example.com", DisplayName: utils.Ptr("Jane Doe")}
		require.Equal(t, "Jane Doe", p.Name())
	})

	t.Run("falls back to email local part", func(t *testing.T) {
		p := users.Profile{Email: "jane@example.com", DisplayName: utils.Ptr("  ")}
		require.Equal(t, "jane", p.Name())
	})
}

func TestProfile_WithFallbacks(t *testing.T) {
	cached := &users.Profile{ID: "u1", Email: "jane@example.com", Role: users.RoleAdmin, DisplayName: utils.Ptr("Jane")}

	t.Run("role preserved from cached profile", func(t *testing.T) {
		p := users.Profile{ID: "u1", Email: "jane@example.com"}.WithFallbacks(cached)
		require.Equal(t, users.RoleAdmin, p.Role)
		require.Equal(t, "Jane", p.Name())
	})

	t.Run("backend role wins", func(t *testing.T) {
		p := users.Profile{ID: "u1", Email: "jane@example.com", Role: users.RoleUser}.WithFallbacks(cached)
		require.Equal(t, users.RoleUser, p.Role)
	})

	t.Run("default role without cache", func(t *testing.T) {
		p := users.Profile{ID: "u2", Email: "bob@example.com"}.WithFallbacks(nil)
		require.Equal(t, users.RoleUser, p.Role)
		require.False(t, p.IsAdmin())
	})

	t.Run("display name not borrowed from another user", func(t *testing.T) {
		p := users.Profile{ID: "u2", Email: "bob@example.com"}.WithFallbacks(cached)
		require.Nil(t, p.DisplayName)
	})
}

func TestProfile_Equal(t *testing.T) {
	a := &users.Profile{ID: "u1", Email: "a@example.com", Role: users.RoleUser}
	b := &users.Profile{ID: "u1", Email: "a@example.com", Role: users.RoleUser}
	require.True(t, a.Equal(b))

	b.DisplayName = utils.Ptr("A")
	require.False(t, a.Equal(b))

	var nilProfile *users.Profile
	require.True(t, nilProfile.Equal(nil))
	require.False(t, nilProfile.Valid())
}
