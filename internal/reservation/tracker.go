// Package reservation tracks the team's unprocessed bid reservations and
// derives the available balance from them. Reservations are a
// store-owned projection: every refresh replaces the local map wholesale
// so stale entries cannot survive a missed release event.
package reservation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lks90/transfermarket/internal/models"
)

// Store is the row fetch the tracker needs.
type Store interface {
	ListPendingReservations(ctx context.Context, teamID uuid.UUID) ([]models.Reservation, error)
}

// DefaultDebounce collapses redundant refreshes triggered in quick
// succession by multiple callers.
const DefaultDebounce = 300 * time.Millisecond

// Tracker holds at most one unprocessed reservation per auction for the
// owning team.
type Tracker struct {
	store    Store
	teamID   uuid.UUID
	clock    clockwork.Clock
	debounce time.Duration
	interval time.Duration

	// refreshMu serializes refreshes so concurrent callers cannot stack
	// remote fetches.
	refreshMu   sync.Mutex
	lastAttempt time.Time

	mu           sync.RWMutex
	reservations map[uuid.UUID]models.Reservation
	refreshed    bool
}

func NewTracker(store Store, teamID uuid.UUID, pollInterval time.Duration, clock clockwork.Clock) *Tracker {
	return &Tracker{
		store:        store,
		teamID:       teamID,
		clock:        clock,
		debounce:     DefaultDebounce,
		interval:     pollInterval,
		reservations: make(map[uuid.UUID]models.Reservation),
	}
}

// Refresh fetches all unprocessed reservations for the team's active
// auctions and replaces the local map wholesale. Non-forced calls inside
// the debounce window are coalesced into a no-op; the preceding refresh
// already covers them.
func (t *Tracker) Refresh(ctx context.Context, force bool) error {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	now := t.clock.Now()
	if !force && now.Sub(t.lastAttempt) < t.debounce {
		return nil
	}
	t.lastAttempt = now

	rows, err := t.store.ListPendingReservations(ctx, t.teamID)
	if err != nil {
		return fmt.Errorf("failed to refresh reservations: %w", err)
	}

	next := make(map[uuid.UUID]models.Reservation, len(rows))
	for _, r := range rows {
		next[r.AuctionID] = r
	}

	t.mu.Lock()
	t.reservations = next
	t.refreshed = true
	t.mu.Unlock()

	log.Debug().
		Int("reservations", len(next)).
		Str("team_id", t.teamID.String()).
		Msg("reservation map replaced")
	return nil
}

// Available derives the spendable balance from the given total.
func (t *Tracker) Available(totalBalance int64) int64 {
	return totalBalance - t.Reserved()
}

// Reserved sums the tracked unprocessed reservation amounts.
func (t *Tracker) Reserved() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var sum int64
	for _, r := range t.reservations {
		sum += r.Amount
	}
	return sum
}

// Release optimistically drops the reservation held against an auction,
// e.g. when another team covers our bid. The next Refresh is
// authoritative and may resurrect the entry if the store disagrees.
func (t *Tracker) Release(auctionID uuid.UUID) {
	t.remove(auctionID, "released")
}

// Debit optimistically drops the reservation for a won auction so the
// balance display reacts before the store's debit lands in a refresh.
func (t *Tracker) Debit(auctionID uuid.UUID) {
	t.remove(auctionID, "debited")
}

func (t *Tracker) remove(auctionID uuid.UUID, reason string) {
	t.mu.Lock()
	_, ok := t.reservations[auctionID]
	delete(t.reservations, auctionID)
	t.mu.Unlock()

	if ok {
		log.Debug().
			Str("auction_id", auctionID.String()).
			Str("reason", reason).
			Msg("reservation removed locally")
	}
}

// Get returns the tracked reservation for an auction, if any.
func (t *Tracker) Get(auctionID uuid.UUID) (models.Reservation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.reservations[auctionID]
	return r, ok
}

// Snapshot returns a copy of the tracked reservations for display.
func (t *Tracker) Snapshot() []models.Reservation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Reservation, 0, len(t.reservations))
	for _, r := range t.reservations {
		out = append(out, r)
	}
	return out
}

// Refreshed reports whether at least one refresh has succeeded, i.e.
// whether the derived available balance can be trusted.
func (t *Tracker) Refreshed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refreshed
}

// Run refreshes on a fixed interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	if err := t.Refresh(ctx, true); err != nil {
		log.Error().Err(err).Msg("initial reservation refresh failed")
	}

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := t.Refresh(ctx, false); err != nil {
				log.Error().Err(err).Msg("reservation refresh failed")
			}
		}
	}
}
