// Package bid submits bids to the store's atomic bid procedure. One bid
// attempt may be outstanding per client at a time, across all auctions:
// nothing else orders bid submission, so the client never races itself.
package bid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lks90/transfermarket/internal/models"
	"github.com/lks90/transfermarket/internal/notify"
	"github.com/lks90/transfermarket/internal/store"
	"github.com/lks90/transfermarket/internal/view"
)

// Local validation errors; none of these reach the store.
var (
	ErrInvalidAmount     = errors.New("bid amount must be positive")
	ErrBidTooLow         = errors.New("bid does not exceed current bid")
	ErrInsufficientFunds = errors.New("insufficient available balance")
	ErrBidInFlight       = errors.New("another bid is already in flight")
	ErrUnknownAuction    = errors.New("auction not in local view")
)

// Submitter is the single store call the coordinator issues.
type Submitter interface {
	PlaceBid(ctx context.Context, auctionID, teamID uuid.UUID, amount int64) (store.BidResult, error)
}

// Funds reports the balance the team can still commit.
type Funds interface {
	Available(ctx context.Context) (int64, error)
}

// Reservations is the refresh hook triggered after an accepted bid.
type Reservations interface {
	Refresh(ctx context.Context, force bool) error
}

// Coordinator validates candidate bids locally, submits them atomically,
// and keeps optimistic state honest on the way back.
type Coordinator struct {
	store      Submitter
	funds      Funds
	cache      *view.Cache
	tracker    Reservations
	dispatcher *notify.Dispatcher
	teamID     uuid.UUID

	mu       sync.Mutex
	inFlight bool

	draftMu sync.Mutex
	drafts  map[uuid.UUID]int64
}

func NewCoordinator(
	submitter Submitter,
	funds Funds,
	cache *view.Cache,
	tracker Reservations,
	dispatcher *notify.Dispatcher,
	teamID uuid.UUID,
) *Coordinator {
	return &Coordinator{
		store:      submitter,
		funds:      funds,
		cache:      cache,
		tracker:    tracker,
		dispatcher: dispatcher,
		teamID:     teamID,
		drafts:     make(map[uuid.UUID]int64),
	}
}

// PlaceBid validates amount against the locally known view, then issues
// exactly one atomic remote call. Rejections (local or remote) are
// final: bidding is not idempotent, so no retry is ever attempted here.
// Whatever the outcome, the locally drafted amount for the auction is
// cleared so stale UI state cannot be resubmitted.
func (c *Coordinator) PlaceBid(ctx context.Context, auctionID uuid.UUID, amount int64) (store.BidResult, error) {
	defer c.ClearDraft(auctionID)

	// Single-flight per client, not per auction.
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return store.BidResult{}, ErrBidInFlight
	}
	c.inFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	if err := c.validate(ctx, auctionID, amount); err != nil {
		return store.BidResult{}, err
	}

	res, err := c.store.PlaceBid(ctx, auctionID, c.teamID, amount)
	if err != nil {
		// Remote rejections carry the store's reason verbatim; local
		// optimistic state stays rolled back either way.
		log.Warn().
			Err(err).
			Str("auction_id", auctionID.String()).
			Int64("amount", amount).
			Msg("bid not accepted")
		return res, err
	}

	log.Info().
		Str("auction_id", auctionID.String()).
		Int64("amount", amount).
		Int64("final_price", res.FinalPrice).
		Msg("bid accepted")

	if res.TimeExtended && res.NewEndTime != nil {
		// The store extended the auction for a late bid: adopt the
		// returned end time immediately rather than waiting for a poll.
		c.cache.Patch(auctionID, func(a *models.Auction) {
			end := *res.NewEndTime
			a.EndTime = &end
		})
		c.dispatcher.Publish(notify.KindInfo, auctionID, map[string]interface{}{
			"reason":       "time_extended",
			"new_end_time": res.NewEndTime,
		})
	}

	if err := c.tracker.Refresh(ctx, true); err != nil {
		log.Error().Err(err).Msg("post-bid reservation refresh failed")
	}

	return res, nil
}

func (c *Coordinator) validate(ctx context.Context, auctionID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	auction, ok := c.cache.Get(auctionID)
	if !ok {
		return ErrUnknownAuction
	}
	if amount <= auction.CurrentBid {
		return fmt.Errorf("%w: current bid is %d", ErrBidTooLow, auction.CurrentBid)
	}

	available, err := c.funds.Available(ctx)
	if err != nil {
		return fmt.Errorf("failed to determine available balance: %w", err)
	}
	if available < amount {
		return fmt.Errorf("%w: %d available", ErrInsufficientFunds, available)
	}
	return nil
}

// SetDraft records the locally selected amount for an auction.
func (c *Coordinator) SetDraft(auctionID uuid.UUID, amount int64) {
	c.draftMu.Lock()
	c.drafts[auctionID] = amount
	c.draftMu.Unlock()
}

// Draft returns the locally selected amount for an auction, if any.
func (c *Coordinator) Draft(auctionID uuid.UUID) (int64, bool) {
	c.draftMu.Lock()
	defer c.draftMu.Unlock()
	amount, ok := c.drafts[auctionID]
	return amount, ok
}

// ClearDraft forgets the locally selected amount for an auction.
func (c *Coordinator) ClearDraft(auctionID uuid.UUID) {
	c.draftMu.Lock()
	delete(c.drafts, auctionID)
	c.draftMu.Unlock()
}
