// Package engine wires the auction coordination components into one
// client session: a handful of independently scheduled periodic tasks
// plus the push change feed, all reconciling into the shared view.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lks90/transfermarket/internal/bid"
	"github.com/lks90/transfermarket/internal/clocksync"
	"github.com/lks90/transfermarket/internal/feed"
	"github.com/lks90/transfermarket/internal/finalize"
	"github.com/lks90/transfermarket/internal/models"
	"github.com/lks90/transfermarket/internal/notify"
	"github.com/lks90/transfermarket/internal/reservation"
	"github.com/lks90/transfermarket/internal/store"
	"github.com/lks90/transfermarket/internal/view"
)

// Tables the engine subscribes to on the change feed.
const (
	TableAuctions     = "auctions"
	TableTransactions = "transactions"
	TableTeams        = "teams"
)

// Config holds the cadences for the engine's periodic tasks and the
// bounds on finalization attempts.
type Config struct {
	ClockSyncInterval       time.Duration
	AuctionPollInterval     time.Duration
	ReservationPollInterval time.Duration
	ExpiryCheckInterval     time.Duration
	FinalizeCooldown        time.Duration
	FinalizeTimeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		ClockSyncInterval:       time.Minute,
		AuctionPollInterval:     10 * time.Second,
		ReservationPollInterval: 15 * time.Second,
		ExpiryCheckInterval:     time.Second,
		FinalizeCooldown:        5 * time.Second,
		FinalizeTimeout:         30 * time.Second,
	}
}

// Engine is one team's auction coordination session.
type Engine struct {
	store      store.Gateway
	feed       feed.Feed
	teamID     uuid.UUID
	clock      clockwork.Clock
	clocks     *clocksync.Sync
	cache      *view.Cache
	poller     *view.Poller
	tracker    *reservation.Tracker
	bids       *bid.Coordinator
	finalizer  *finalize.Coordinator
	dispatcher *notify.Dispatcher

	balanceMu       sync.RWMutex
	totalBalance    int64
	balanceInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(gw store.Gateway, fd feed.Feed, teamID uuid.UUID, cfg Config, clock clockwork.Clock) *Engine {
	e := &Engine{
		store:           gw,
		feed:            fd,
		teamID:          teamID,
		clock:           clock,
		balanceInterval: cfg.ReservationPollInterval,
	}

	e.clocks = clocksync.New(gw, cfg.ClockSyncInterval, clock)
	e.cache = view.NewCache()
	e.poller = view.NewPoller(gw, e.cache, cfg.AuctionPollInterval, clock)
	e.tracker = reservation.NewTracker(gw, teamID, cfg.ReservationPollInterval, clock)
	e.dispatcher = notify.NewDispatcher(clock)

	finCfg := finalize.DefaultConfig()
	finCfg.CheckInterval = cfg.ExpiryCheckInterval
	finCfg.Cooldown = cfg.FinalizeCooldown
	finCfg.AttemptTimeout = cfg.FinalizeTimeout
	e.finalizer = finalize.NewCoordinator(gw, e.cache, e.tracker, e.dispatcher, e.clocks, clock, teamID, finCfg)

	e.bids = bid.NewCoordinator(gw, e, e.cache, e.tracker, e.dispatcher, teamID)

	// Poll results route finished auctions into the finalizer, same as
	// push notifications do. Only the transition counts: re-observed
	// finished rows must not keep re-raising triggers.
	e.poller.OnApplied = func(prev, cur models.Auction, hadPrev bool) {
		if cur.Status == models.AuctionStatusFinished &&
			hadPrev && prev.Status != models.AuctionStatusFinished {
			e.finalizer.Trigger(cur.ID)
		}
	}

	return e
}

// Start launches the session's periodic tasks and the feed pump.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	if err := e.refreshBalance(ctx); err != nil {
		return fmt.Errorf("failed to load team: %w", err)
	}

	changes, err := e.feed.Subscribe(ctx, TableAuctions, TableTransactions, TableTeams)
	if err != nil {
		return fmt.Errorf("failed to subscribe to change feed: %w", err)
	}

	for _, task := range []func(context.Context){
		e.clocks.Run,
		e.poller.Run,
		e.tracker.Run,
		e.finalizer.Run,
		e.pollBalance,
	} {
		e.wg.Add(1)
		go func(run func(context.Context)) {
			defer e.wg.Done()
			run(ctx)
		}(task)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pumpFeed(ctx, changes)
	}()

	log.Info().
		Str("team_id", e.teamID.String()).
		Msg("engine session started")
	return nil
}

// Close tears the session down: timers cancelled, feed unsubscribed.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	err := e.feed.Close()
	e.wg.Wait()
	log.Info().Str("team_id", e.teamID.String()).Msg("engine session closed")
	return err
}

// pumpFeed routes change notifications. Everything here is a hint:
// decode failures and unknown tables are logged and skipped, the
// periodic polls self-heal whatever the feed missed.
func (e *Engine) pumpFeed(ctx context.Context, changes <-chan feed.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			e.handleChange(ctx, ch)
		}
	}
}

func (e *Engine) handleChange(ctx context.Context, ch feed.Change) {
	switch ch.Table {
	case TableAuctions:
		e.handleAuctionChange(ctx, ch)
	case TableTransactions:
		if err := e.tracker.Refresh(ctx, false); err != nil {
			log.Error().Err(err).Msg("reservation refresh after transaction change failed")
		}
	case TableTeams:
		e.handleTeamChange(ch)
	default:
		log.Debug().Str("table", ch.Table).Msg("ignoring change for unknown table")
	}
}

func (e *Engine) handleAuctionChange(ctx context.Context, ch feed.Change) {
	if ch.Op == feed.OpDelete {
		var row struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(ch.Row, &row); err != nil {
			log.Error().Err(err).Msg("failed to decode auction delete")
			return
		}
		e.cache.Delete(row.ID)
		e.tracker.Release(row.ID)
		if err := e.tracker.Refresh(ctx, false); err != nil {
			log.Error().Err(err).Msg("reservation refresh after auction delete failed")
		}
		return
	}

	var a models.Auction
	if err := json.Unmarshal(ch.Row, &a); err != nil {
		log.Error().Err(err).Msg("failed to decode auction change")
		return
	}

	prev, had := e.cache.Get(a.ID)
	if !e.cache.Apply(a) {
		// Older than the cached record: a delayed or duplicated
		// notification, dropped by the freshness rule.
		return
	}

	// Covered detection: we led before this store-confirmed record and
	// another team leads now. Reading the pre-Apply snapshot makes a
	// duplicated notification a no-op, since the cache already shows the
	// new leader.
	if had && prev.LedBy(e.teamID) && !a.LedBy(e.teamID) && a.CurrentBidderID != nil {
		e.tracker.Release(a.ID)
		e.dispatcher.Publish(notify.KindCovered, a.ID, notify.CoveredPayload{
			PlayerID:      a.PlayerID,
			CoveredAmount: prev.CurrentBid,
			NewBid:        a.CurrentBid,
		})
		if err := e.tracker.Refresh(ctx, false); err != nil {
			log.Error().Err(err).Msg("reservation refresh after covered bid failed")
		}
	}

	if a.Status == models.AuctionStatusFinished &&
		(!had || prev.Status != models.AuctionStatusFinished) {
		e.finalizer.Trigger(a.ID)
	}
}

func (e *Engine) handleTeamChange(ch feed.Change) {
	var t models.Team
	if err := json.Unmarshal(ch.Row, &t); err != nil {
		log.Error().Err(err).Msg("failed to decode team change")
		return
	}
	if t.ID != e.teamID {
		return
	}
	e.setTotalBalance(t.Balance)
}

// refreshBalance re-fetches the team row. The feed's teams events are a
// hint only; a dropped one must not skew the derived available balance
// past the next poll cycle.
func (e *Engine) refreshBalance(ctx context.Context) error {
	team, err := e.store.GetTeam(ctx, e.teamID)
	if err != nil {
		return err
	}
	e.setTotalBalance(team.Balance)
	return nil
}

func (e *Engine) pollBalance(ctx context.Context) {
	ticker := e.clock.NewTicker(e.balanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := e.refreshBalance(ctx); err != nil {
				log.Error().Err(err).Msg("balance refresh failed")
			}
		}
	}
}

func (e *Engine) setTotalBalance(balance int64) {
	e.balanceMu.Lock()
	e.totalBalance = balance
	e.balanceMu.Unlock()
}

// TotalBalance returns the last known total balance for the team.
func (e *Engine) TotalBalance() int64 {
	e.balanceMu.RLock()
	defer e.balanceMu.RUnlock()
	return e.totalBalance
}

// Available reports the balance the team can still commit. Until the
// first reservation refresh lands the derived value cannot be trusted,
// so the server-computed fallback is used instead.
func (e *Engine) Available(ctx context.Context) (int64, error) {
	if e.tracker.Refreshed() {
		return e.tracker.Available(e.TotalBalance()), nil
	}
	return e.store.AvailableBalance(ctx, e.teamID)
}

// PlaceBid submits a bid through the coordinator. User-initiated, so
// errors propagate to the caller.
func (e *Engine) PlaceBid(ctx context.Context, auctionID uuid.UUID, amount int64) (store.BidResult, error) {
	return e.bids.PlaceBid(ctx, auctionID, amount)
}

// CancelAuction releases all pending reservations held against an
// auction and drops it from the local view. User-initiated.
func (e *Engine) CancelAuction(ctx context.Context, auctionID uuid.UUID) error {
	if err := e.store.ReleasePendingTransactions(ctx, auctionID); err != nil {
		return err
	}
	e.cache.Delete(auctionID)
	e.tracker.Release(auctionID)
	return e.tracker.Refresh(ctx, true)
}

// ForceFinalize raises a manual finalize trigger for an auction.
func (e *Engine) ForceFinalize(auctionID uuid.UUID) {
	e.finalizer.Trigger(auctionID)
}

// Auction returns one auction, re-fetching it from the store when the
// local view has not seen it yet.
func (e *Engine) Auction(ctx context.Context, auctionID uuid.UUID) (models.Auction, error) {
	if a, ok := e.cache.Get(auctionID); ok {
		return a, nil
	}
	a, err := e.store.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, err
	}
	e.cache.Apply(a)
	return a, nil
}

// Auctions returns the current view ordered by end time.
func (e *Engine) Auctions() []models.Auction {
	return e.cache.List()
}

// TimeRemaining computes an auction's countdown on the server-adjusted
// clock.
func (e *Engine) TimeRemaining(auctionID uuid.UUID) time.Duration {
	return e.cache.TimeRemaining(auctionID, e.clocks.Now())
}

// Reservations returns the tracked reservation snapshot.
func (e *Engine) Reservations() []models.Reservation {
	return e.tracker.Snapshot()
}

// SetDraftBid records a locally selected amount for an auction's bid
// dialog; cleared automatically when a bid on that auction resolves.
func (e *Engine) SetDraftBid(auctionID uuid.UUID, amount int64) {
	e.bids.SetDraft(auctionID, amount)
}

// DraftBid returns the locally selected amount for an auction, if any.
func (e *Engine) DraftBid(auctionID uuid.UUID) (int64, bool) {
	return e.bids.Draft(auctionID)
}

// Dispatcher exposes the notification dispatcher for sink registration.
func (e *Engine) Dispatcher() *notify.Dispatcher {
	return e.dispatcher
}

// Clock exposes the synchronized clock.
func (e *Engine) Clock() *clocksync.Sync {
	return e.clocks
}
