package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/stretchr/testify/require"
)

func TestChallengeManager(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.challenges

	t.Run("consumed exactly once", func(t *testing.T) {
		c, err := m.Issue(ctx, domain.PurposeAuthentication, "", "", []byte("payload"))
		require.NoError(t, err)
		require.NotEmpty(t, c.Value)
		require.Equal(t, c.CreatedAt.Add(DefaultChallengeTTL), c.ExpiresAt)

		got, err := m.Consume(ctx, c.ID, domain.PurposeAuthentication)
		require.NoError(t, err)
		require.Equal(t, c.Value, got.Value)
		require.Equal(t, []byte("payload"), got.Payload)

		_, err = m.Consume(ctx, c.ID, domain.PurposeAuthentication)
		require.ErrorIs(t, err, ErrChallengeNotFound)
	})

	t.Run("distinct references", func(t *testing.T) {
		a, err := m.Issue(ctx, domain.PurposeRegistration, "u1", "", nil)
		require.NoError(t, err)
		b, err := m.Issue(ctx, domain.PurposeRegistration, "u1", "", nil)
		require.NoError(t, err)
		require.NotEqual(t, a.ID, b.ID)
		require.NotEqual(t, a.Value, b.Value)
	})

	t.Run("wrong purpose", func(t *testing.T) {
		c, err := m.Issue(ctx, domain.PurposeRegistration, "u1", "value", nil)
		require.NoError(t, err)

		_, err = m.Consume(ctx, c.ID, domain.PurposeAuthentication)
		require.ErrorIs(t, err, ErrChallengeNotFound)
	})

	t.Run("expired then gone", func(t *testing.T) {
		c, err := m.Issue(ctx, domain.PurposeAuthentication, "", "", nil)
		require.NoError(t, err)

		h.clock.Advance(DefaultChallengeTTL + time.Millisecond)
		_, err = m.Consume(ctx, c.ID, domain.PurposeAuthentication)
		require.ErrorIs(t, err, ErrChallengeExpired)

		_, err = m.Consume(ctx, c.ID, domain.PurposeAuthentication)
		require.ErrorIs(t, err, ErrChallengeNotFound)
	})

	t.Run("empty reference", func(t *testing.T) {
		_, err := m.Consume(ctx, "", domain.PurposeAuthentication)
		require.ErrorIs(t, err, ErrChallengeNotFound)
	})
}
