package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	user, err := h.users.Register(ctx, "  alice ", "correct horse")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.NotEqual(t, "correct horse", user.PasswordHash)
	require.False(t, user.IsAdmin)

	tests := []struct {
		name               string
		username, password string
		want               error
	}{
		{name: "taken", username: "ALICE", password: "correct horse", want: ErrUsernameTaken},
		{name: "short password", username: "bob", password: "1234567", want: ErrWeakPassword},
		{name: "blank username", username: "   ", password: "correct horse", want: ErrInvalidRequest},
		{name: "long username", username: strings.Repeat("a", maxUsernameLength+1), password: "correct horse", want: ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.users.Register(ctx, tt.username, tt.password)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice", "correct horse")
	require.NoError(t, h.users.RequirePasswordReset(ctx, alice.ID))

	require.ErrorIs(t, h.users.ChangePassword(ctx, alice.ID, "short"), ErrWeakPassword)
	require.NoError(t, h.users.ChangePassword(ctx, alice.ID, "battery staple"))

	got, err := h.users.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	require.False(t, got.ForceReset)

	_, err = checkPassword(ctx, &UserCredentials{Store: h.store}, "alice", "battery staple")
	require.NoError(t, err)
}
