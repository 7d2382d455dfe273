package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/securevault/internal/vault/domain"
	"github.com/aussiebroadwan/securevault/internal/vault/store"
	vaultredis "github.com/aussiebroadwan/securevault/internal/vault/store/drivers/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniredisStore(t *testing.T) (*vaultredis.ChallengeStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return vaultredis.NewChallengeStore(rdb), mr
}

func exampleChallenge(id string, ttl time.Duration) domain.Challenge {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.Challenge{
		ID:        id,
		Value:     "value-" + id,
		Purpose:   domain.PurposeRegistration,
		UserID:    "user-1",
		Payload:   []byte(`{"challenge":"value"}`),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestChallengeStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisStore(t)

	c := exampleChallenge("ref-1", 5*time.Minute)
	require.NoError(t, s.PutChallenge(ctx, c))
	require.True(t, mr.Exists("vault:challenge:ref-1"))
	require.Greater(t, mr.TTL("vault:challenge:ref-1"), 5*time.Minute)

	got, err := s.GetChallenge(ctx, "ref-1")
	require.NoError(t, err)
	require.Equal(t, c, got)

	got, err = s.TakeChallenge(ctx, "ref-1")
	require.NoError(t, err)
	require.Equal(t, c.Value, got.Value)

	_, err = s.TakeChallenge(ctx, "ref-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestChallengeStoreTakeIsExclusive(t *testing.T) {
	ctx := context.Background()
	s, _ := newMiniredisStore(t)
	require.NoError(t, s.PutChallenge(ctx, exampleChallenge("ref-2", time.Minute)))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TakeChallenge(ctx, "ref-2"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestChallengeStoreEviction(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisStore(t)
	require.NoError(t, s.PutChallenge(ctx, exampleChallenge("ref-3", time.Minute)))

	mr.FastForward(3 * time.Minute)

	_, err := s.GetChallenge(ctx, "ref-3")
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err := s.DeleteExpiredChallenges(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestChallengeStoreKeepsExpiredRecordForGrace(t *testing.T) {
	ctx := context.Background()
	s, _ := newMiniredisStore(t)

	c := exampleChallenge("ref-4", -time.Second)
	require.NoError(t, s.PutChallenge(ctx, c))

	got, err := s.TakeChallenge(ctx, "ref-4")
	require.NoError(t, err)
	require.True(t, got.Expired(time.Now()))
}
