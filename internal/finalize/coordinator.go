// Package finalize coordinates the at-most-once finalization of expired
// auctions. Any number of independent triggers (local expiry check, push
// notification, manual force-finish) may suspect an auction has ended;
// exactly one of them owns the remote finalize call and the local win
// side effects.
package finalize

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lks90/transfermarket/internal/notify"
	"github.com/lks90/transfermarket/internal/store"
	"github.com/lks90/transfermarket/internal/view"
)

// Finalizer is the single store call the coordinator issues. The remote
// procedure is idempotent; the client-side gate only avoids redundant
// network calls and duplicate local side effects.
type Finalizer interface {
	FinalizeAuction(ctx context.Context, auctionID uuid.UUID) (store.FinalizeResult, error)
}

// Reservations receives the win-path side effects.
type Reservations interface {
	Debit(auctionID uuid.UUID)
	Refresh(ctx context.Context, force bool) error
}

// ServerClock provides the server-adjusted now used for expiry checks.
type ServerClock interface {
	Now() time.Time
}

// Config bounds the coordinator's timers.
type Config struct {
	CheckInterval  time.Duration // periodic expiry scan cadence
	Cooldown       time.Duration // how long a settled attempt absorbs duplicate triggers
	AttemptTimeout time.Duration // per-attempt budget for the remote call and for waiters
	WaitPoll       time.Duration // how often a losing trigger re-checks the owning attempt
	QueueSize      int
	NumWorkers     int
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:  time.Second,
		Cooldown:       5 * time.Second,
		AttemptTimeout: 30 * time.Second,
		WaitPoll:       100 * time.Millisecond,
		QueueSize:      64,
		NumWorkers:     4,
	}
}

// attempt is the per-auction finalization record. inFlight guards the
// remote call; processedLocally guards the local side effects even if
// the remote call is idempotently re-confirmed.
type attempt struct {
	inFlight         bool
	processedLocally bool
	settledAt        time.Time
}

// Coordinator runs the Idle → Claiming → Finalizing → Settled state
// machine per auction. Triggers communicate by message passing on the
// trigger queue, never by reaching into shared globals.
type Coordinator struct {
	store        Finalizer
	cache        *view.Cache
	reservations Reservations
	dispatcher   *notify.Dispatcher
	server       ServerClock
	clock        clockwork.Clock
	teamID       uuid.UUID
	cfg          Config

	mu       sync.Mutex
	attempts map[uuid.UUID]*attempt

	triggerCh chan uuid.UUID
}

func NewCoordinator(
	finalizer Finalizer,
	cache *view.Cache,
	reservations Reservations,
	dispatcher *notify.Dispatcher,
	server ServerClock,
	clock clockwork.Clock,
	teamID uuid.UUID,
	cfg Config,
) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = DefaultConfig().NumWorkers
	}
	return &Coordinator{
		store:        finalizer,
		cache:        cache,
		reservations: reservations,
		dispatcher:   dispatcher,
		server:       server,
		clock:        clock,
		teamID:       teamID,
		cfg:          cfg,
		attempts:     make(map[uuid.UUID]*attempt),
		triggerCh:    make(chan uuid.UUID, cfg.QueueSize),
	}
}

// Trigger enqueues a candidate-expired auction. Non-blocking: if the
// queue is full the trigger is dropped, and the periodic expiry check
// re-raises it on its next tick.
func (c *Coordinator) Trigger(auctionID uuid.UUID) {
	select {
	case c.triggerCh <- auctionID:
	default:
		log.Warn().
			Str("auction_id", auctionID.String()).
			Msg("finalize trigger queue full, dropping")
	}
}

// Run drains the trigger queue with a small worker pool and raises
// triggers itself from the periodic expiry check. Blocks until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case auctionID := <-c.triggerCh:
					c.handle(ctx, auctionID)
				}
			}
		}()
	}

	ticker := c.clock.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.Chan():
			c.checkExpired()
			c.sweepSettled()
		}
	}
}

// checkExpired scans the view for active auctions whose countdown hit
// zero on the server-adjusted clock and triggers them.
func (c *Coordinator) checkExpired() {
	now := c.server.Now()
	for _, a := range c.cache.Active() {
		if a.EndTime == nil {
			continue
		}
		if a.TimeRemaining(now) == 0 {
			c.Trigger(a.ID)
		}
	}
}

// sweepSettled clears attempt records whose cooldown has elapsed, and
// stale records left behind by errored attempts.
func (c *Coordinator) sweepSettled() {
	now := c.clock.Now()
	c.mu.Lock()
	for id, at := range c.attempts {
		if at.inFlight {
			continue
		}
		if at.settledAt.IsZero() || now.Sub(at.settledAt) >= c.cfg.Cooldown {
			delete(c.attempts, id)
		}
	}
	c.mu.Unlock()
}

// handle is one trigger observing a condition implying the auction
// should end. Claiming is a check-and-set on the attempt's inFlight
// flag; the losing trigger waits on the owning attempt instead of
// re-attempting.
func (c *Coordinator) handle(ctx context.Context, auctionID uuid.UUID) {
	c.mu.Lock()
	at, ok := c.attempts[auctionID]
	if !ok {
		at = &attempt{}
		c.attempts[auctionID] = at
	}
	if at.inFlight {
		c.mu.Unlock()
		c.waitForSettle(ctx, auctionID)
		return
	}
	if !at.settledAt.IsZero() {
		// Settled within the cooldown window: a near-simultaneous
		// duplicate trigger, absorbed as a no-op.
		c.mu.Unlock()
		return
	}
	at.inFlight = true
	c.mu.Unlock()

	c.finalize(ctx, auctionID, at)
}

// finalize is the Finalizing state: the single owning trigger issues the
// atomic remote call under a bounded budget so a hung call cannot wedge
// the auction past the next trigger.
func (c *Coordinator) finalize(ctx context.Context, auctionID uuid.UUID, at *attempt) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	res, err := c.store.FinalizeAuction(attemptCtx, auctionID)
	if err != nil {
		// Clear inFlight, keep processedLocally: a later trigger may
		// retry the call without repeating side effects.
		c.mu.Lock()
		at.inFlight = false
		c.mu.Unlock()
		log.Error().
			Err(err).
			Str("auction_id", auctionID.String()).
			Msg("finalize call failed")
		return
	}

	c.mu.Lock()
	at.inFlight = false
	at.settledAt = c.clock.Now()
	won := res.Success &&
		res.WinnerTeamID != nil &&
		*res.WinnerTeamID == c.teamID &&
		!at.processedLocally
	if won {
		at.processedLocally = true
	}
	c.mu.Unlock()

	log.Info().
		Str("auction_id", auctionID.String()).
		Bool("already_processed", res.AlreadyProcessed).
		Bool("won", won).
		Msg("auction settled")

	if !won {
		return
	}
	c.applyWin(ctx, auctionID, res)
}

// applyWin runs the exactly-once local side effects for a won auction.
func (c *Coordinator) applyWin(ctx context.Context, auctionID uuid.UUID, res store.FinalizeResult) {
	c.reservations.Debit(auctionID)

	payload := notify.WinPayload{FinalAmount: res.FinalAmount}
	if a, ok := c.cache.Get(auctionID); ok {
		payload.PlayerID = a.PlayerID
	}
	c.dispatcher.Publish(notify.KindWin, auctionID, payload)

	if err := c.reservations.Refresh(ctx, true); err != nil {
		log.Error().Err(err).Msg("post-win reservation refresh failed")
	}
}

// waitForSettle polls the owning attempt at a short fixed interval,
// bounded by the attempt budget, and then treats the auction as settled
// rather than re-attempting.
func (c *Coordinator) waitForSettle(ctx context.Context, auctionID uuid.UUID) {
	deadline := c.clock.Now().Add(c.cfg.AttemptTimeout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.cfg.WaitPoll):
		}

		c.mu.Lock()
		at, ok := c.attempts[auctionID]
		settled := !ok || !at.inFlight
		c.mu.Unlock()
		if settled {
			return
		}

		if c.clock.Now().After(deadline) {
			log.Warn().
				Str("auction_id", auctionID.String()).
				Msg("gave up waiting on in-flight finalize attempt")
			return
		}
	}
}

// Settled reports whether an attempt record exists for the auction and
// has resolved. Exposed for the engine's status queries.
func (c *Coordinator) Settled(auctionID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.attempts[auctionID]
	return ok && !at.inFlight && !at.settledAt.IsZero()
}
