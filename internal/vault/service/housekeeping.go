package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/securevault/internal/vault/store"
)

// HousekeepingService periodically removes expired challenges and pending
// logins. Expiry is always enforced at use time; this only bounds growth.
type HousekeepingService struct {
	Store      store.Store
	Challenges store.Challenges
	Logger     *slog.Logger
	Interval   time.Duration
	Now        func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. challenges may be
// a store other than st, e.g. Redis. A non-positive interval means 1 hour.
func NewHousekeepingService(st store.Store, challenges store.Challenges, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if challenges == nil {
		challenges = st.Challenges()
	}

	return &HousekeepingService{
		Store:      st,
		Challenges: challenges,
		Logger:     logger,
		Interval:   interval,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the worker in the background. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress sweep has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sweep deletes expired records once. Each deletion is independent, so a
// failure in one does not stop the other. It returns the number of rows
// removed.
func (s *HousekeepingService) Sweep(ctx context.Context) int64 {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	var total int64

	if n, err := s.Challenges.DeleteExpiredChallenges(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired challenges", "error", err)
	} else {
		s.Logger.Debug("deleted expired challenges", "count", n)
		total += n
	}

	if n, err := s.Store.PendingLogins().DeleteExpiredPendingLogins(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired pending logins", "error", err)
	} else {
		s.Logger.Debug("deleted expired pending logins", "count", n)
		total += n
	}

	s.Logger.Info("housekeeping sweep completed", "deleted", total)
	return total
}
