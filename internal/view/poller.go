package view

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lks90/transfermarket/internal/models"
)

// Lister is the row fetch the poller needs from the store.
type Lister interface {
	ListAuctions(ctx context.Context, statuses ...models.AuctionStatus) ([]models.Auction, error)
	ListFinishedSince(ctx context.Context, cutoff time.Time) ([]models.Auction, error)
}

// DefaultFinishedHorizon bounds how far back each poll re-fetches
// finished auctions. Anything older is settled history; re-fetching the
// whole finished backlog would grow every tick without bound.
const DefaultFinishedHorizon = time.Minute

// Poller periodically pulls the store's auction rows into the cache.
// Poll failures are transient: logged and retried next tick.
type Poller struct {
	store           Lister
	cache           *Cache
	clock           clockwork.Clock
	interval        time.Duration
	finishedHorizon time.Duration

	// OnApplied, when set, observes every admitted record along with the
	// previously cached one. The engine uses it to route auctions that
	// transitioned to finished into the finalization coordinator.
	OnApplied func(prev, cur models.Auction, hadPrev bool)
}

func NewPoller(store Lister, cache *Cache, interval time.Duration, clock clockwork.Clock) *Poller {
	return &Poller{
		store:           store,
		cache:           cache,
		clock:           clock,
		interval:        interval,
		finishedHorizon: DefaultFinishedHorizon,
	}
}

// PollOnce fetches the live auctions plus the recently finished ones
// and applies the rows.
func (p *Poller) PollOnce(ctx context.Context) error {
	live, err := p.store.ListAuctions(ctx,
		models.AuctionStatusPending,
		models.AuctionStatusActive,
	)
	if err != nil {
		return err
	}
	finished, err := p.store.ListFinishedSince(ctx, p.clock.Now().Add(-p.finishedHorizon))
	if err != nil {
		return err
	}

	for _, a := range append(live, finished...) {
		prev, had := p.cache.Get(a.ID)
		if p.cache.Apply(a) && p.OnApplied != nil {
			p.OnApplied(prev, a, had)
		}
	}
	return nil
}

func (p *Poller) Run(ctx context.Context) {
	if err := p.PollOnce(ctx); err != nil {
		log.Error().Err(err).Msg("initial auction poll failed")
	}

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := p.PollOnce(ctx); err != nil {
				log.Error().Err(err).Msg("auction poll failed")
			}
		}
	}
}
