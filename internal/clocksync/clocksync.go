// Package clocksync estimates the offset between the local clock and the
// store's clock. Every countdown and expiry decision in the engine reads
// time through here, never from the raw local clock.
package clocksync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TimeSource is the single remote call the sync needs.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Sync owns the clock offset. Until the first successful sync the offset
// is zero, so Now falls back to local time rather than blocking anyone.
type Sync struct {
	src      TimeSource
	clock    clockwork.Clock
	interval time.Duration

	mu     sync.RWMutex
	offset time.Duration
	synced bool
}

func New(src TimeSource, interval time.Duration, clock clockwork.Clock) *Sync {
	return &Sync{
		src:      src,
		clock:    clock,
		interval: interval,
	}
}

// Offset returns the current serverTime − localTime estimate.
func (s *Sync) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Now returns the server-adjusted notion of now.
func (s *Sync) Now() time.Time {
	return s.clock.Now().Add(s.Offset())
}

// Synced reports whether at least one sync has succeeded.
func (s *Sync) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// SyncNow performs one sync round trip. A later successful sync always
// replaces the offset, even if it moves time backward relative to a
// stale estimate.
func (s *Sync) SyncNow(ctx context.Context) error {
	local := s.clock.Now()
	server, err := s.src.ServerTime(ctx)
	if err != nil {
		return err
	}

	offset := server.Sub(local)

	s.mu.Lock()
	s.offset = offset
	s.synced = true
	s.mu.Unlock()

	log.Debug().
		Dur("offset", offset).
		Msg("clock synchronized")
	return nil
}

// Run syncs on a fixed interval until ctx is cancelled. Failures are
// logged and retried on the next tick; nothing downstream blocks on an
// unsynchronized clock.
func (s *Sync) Run(ctx context.Context) {
	if err := s.SyncNow(ctx); err != nil {
		log.Debug().Err(err).Msg("initial clock sync failed")
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.SyncNow(ctx); err != nil {
				log.Debug().Err(err).Msg("clock sync failed, retrying next interval")
			}
		}
	}
}
