// Package redis keeps ceremony challenges in Redis for deployments that
// want them outside the sqlite file.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/aussiebroadwan/securevault/internal/vault/store"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "vault:challenge:"

// expiryGrace keeps a record in Redis past its ExpiresAt so a late take is
// reported as expired instead of missing.
const expiryGrace = time.Minute

type record struct {
	ID        string `json:"id"`
	Value     string `json:"value"`
	Purpose   string `json:"purpose"`
	UserID    string `json:"user_id,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// ChallengeStore implements store.Challenges on Redis. Takes use GETDEL so a
// challenge can be received by one caller only.
type ChallengeStore struct {
	rdb *goredis.Client
}

func NewChallengeStore(rdb *goredis.Client) *ChallengeStore {
	return &ChallengeStore{rdb: rdb}
}

func key(id string) string { return keyPrefix + id }

func (s *ChallengeStore) PutChallenge(ctx context.Context, c domain.Challenge) error {
	data, err := json.Marshal(record{
		ID:        c.ID,
		Value:     c.Value,
		Purpose:   string(c.Purpose),
		UserID:    c.UserID,
		Payload:   c.Payload,
		CreatedAt: c.CreatedAt.UnixMilli(),
		ExpiresAt: c.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}

	ttl := time.Until(c.ExpiresAt) + expiryGrace
	if ttl <= 0 {
		ttl = expiryGrace
	}
	return s.rdb.Set(ctx, key(c.ID), data, ttl).Err()
}

func (s *ChallengeStore) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	return decode(s.rdb.Get(ctx, key(id)).Bytes())
}

func (s *ChallengeStore) TakeChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	return decode(s.rdb.GetDel(ctx, key(id)).Bytes())
}

func (s *ChallengeStore) DeleteChallenge(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, key(id)).Err()
}

// DeleteExpiredChallenges is a no-op; Redis evicts keys by TTL.
func (s *ChallengeStore) DeleteExpiredChallenges(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping reports whether Redis is reachable.
func (s *ChallengeStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func decode(data []byte, err error) (domain.Challenge, error) {
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.Challenge{}, store.ErrNotFound
		}
		return domain.Challenge{}, err
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	return domain.Challenge{
		ID:        r.ID,
		Value:     r.Value,
		Purpose:   domain.ChallengePurpose(r.Purpose),
		UserID:    r.UserID,
		Payload:   r.Payload,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		ExpiresAt: time.UnixMilli(r.ExpiresAt).UTC(),
	}, nil
}

var _ store.Challenges = (*ChallengeStore)(nil)
