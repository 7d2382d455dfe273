package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/aussiebroadwan/securevault/internal/vault/store"
	"github.com/aussiebroadwan/securevault/pkg/cryptox"
)

const DefaultChallengeTTL = 5 * time.Minute

// ChallengeManager issues and consumes single-use ceremony challenges.
// Every ceremony gets its own reference, so concurrent ceremonies for the
// same user or session never share state.
type ChallengeManager struct {
	Store store.Challenges
	TTL   time.Duration
	Now   func() time.Time
}

func (m *ChallengeManager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *ChallengeManager) ttl() time.Duration {
	if m.TTL > 0 {
		return m.TTL
	}
	return DefaultChallengeTTL
}

// Issue stores a new challenge under a random 128-bit reference. An empty
// value gets 32 random bytes.
func (m *ChallengeManager) Issue(ctx context.Context, purpose domain.ChallengePurpose, userID, value string, payload []byte) (domain.Challenge, error) {
	id, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("failed to generate challenge id: %w", err)
	}
	if value == "" {
		if value, err = cryptox.GenerateToken(cryptox.TokenSize256); err != nil {
			return domain.Challenge{}, fmt.Errorf("failed to generate challenge: %w", err)
		}
	}
	return m.put(ctx, id, purpose, userID, value, payload, m.ttl())
}

func (m *ChallengeManager) put(ctx context.Context, id string, purpose domain.ChallengePurpose, userID, value string, payload []byte, ttl time.Duration) (domain.Challenge, error) {
	now := m.now()
	c := domain.Challenge{
		ID:        id,
		Value:     value,
		Purpose:   purpose,
		UserID:    userID,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.Store.PutChallenge(ctx, c); err != nil {
		return domain.Challenge{}, fmt.Errorf("failed to store challenge: %w", err)
	}
	return c, nil
}

// Consume atomically takes the challenge. It is gone afterwards whatever
// the outcome, so a second call always fails with ErrChallengeNotFound.
func (m *ChallengeManager) Consume(ctx context.Context, id string, purpose domain.ChallengePurpose) (domain.Challenge, error) {
	if id == "" {
		return domain.Challenge{}, ErrChallengeNotFound
	}

	c, err := m.Store.TakeChallenge(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("failed to take challenge: %w", err)
	}

	if c.Expired(m.now()) {
		return domain.Challenge{}, ErrChallengeExpired
	}
	if c.Purpose != purpose {
		return domain.Challenge{}, ErrChallengeNotFound
	}
	return c, nil
}

// peek reads a challenge without consuming it. Expired records are removed.
func (m *ChallengeManager) peek(ctx context.Context, id string, purpose domain.ChallengePurpose) (domain.Challenge, error) {
	c, err := m.Store.GetChallenge(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("failed to load challenge: %w", err)
	}
	if c.Expired(m.now()) {
		_ = m.Store.DeleteChallenge(ctx, id)
		return domain.Challenge{}, ErrChallengeExpired
	}
	if c.Purpose != purpose {
		return domain.Challenge{}, ErrChallengeNotFound
	}
	return c, nil
}

func (m *ChallengeManager) discard(ctx context.Context, id string) error {
	return m.Store.DeleteChallenge(ctx, id)
}
