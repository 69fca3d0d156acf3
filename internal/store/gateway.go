package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lks90/transfermarket/internal/models"
)

// BidResult is the outcome of the store's atomic bid procedure. When the
// remote side extends the auction because the bid landed close to expiry,
// TimeExtended is set and NewEndTime carries the authoritative end time.
type BidResult struct {
	Success      bool       `json:"success"`
	Message      string     `json:"message"`
	FinalPrice   int64      `json:"final_price"`
	TimeExtended bool       `json:"time_extended"`
	NewEndTime   *time.Time `json:"new_end_time,omitempty"`
}

// FinalizeResult is the outcome of the store's atomic finalize procedure.
// The procedure is idempotent: finalizing an already-finished auction
// returns the existing result with AlreadyProcessed set.
type FinalizeResult struct {
	Success          bool       `json:"success"`
	WinnerTeamID     *uuid.UUID `json:"winner_team_id,omitempty"`
	FinalAmount      int64      `json:"final_amount"`
	AlreadyProcessed bool       `json:"already_processed"`
}

// Gateway is the engine's view of the remote store. Every call is a
// single request/response round trip; validation and state changes happen
// atomically inside the store's procedures and are never re-derived here.
type Gateway interface {
	// ServerTime returns the store's notion of "now".
	ServerTime(ctx context.Context) (time.Time, error)

	// PlaceBid runs the atomic bid procedure. A store-side rejection is
	// returned as a *BidRejectedError carrying the store's message
	// verbatim.
	PlaceBid(ctx context.Context, auctionID, teamID uuid.UUID, amount int64) (BidResult, error)

	// FinalizeAuction runs the atomic finalize procedure. Safe to call
	// more than once for the same auction.
	FinalizeAuction(ctx context.Context, auctionID uuid.UUID) (FinalizeResult, error)

	// AvailableBalance is the server-computed fallback used when the
	// locally derived available balance cannot be trusted yet.
	AvailableBalance(ctx context.Context, teamID uuid.UUID) (int64, error)

	// ReleasePendingTransactions releases all unprocessed reservations
	// held against an auction, used on cancellation.
	ReleasePendingTransactions(ctx context.Context, auctionID uuid.UUID) error

	GetAuction(ctx context.Context, id uuid.UUID) (models.Auction, error)
	ListAuctions(ctx context.Context, statuses ...models.AuctionStatus) ([]models.Auction, error)

	// ListFinishedSince returns finished auctions whose end time is at
	// or after cutoff. Older finished rows are settled history and never
	// re-fetched.
	ListFinishedSince(ctx context.Context, cutoff time.Time) ([]models.Auction, error)
	ListPendingReservations(ctx context.Context, teamID uuid.UUID) ([]models.Reservation, error)
	GetTeam(ctx context.Context, teamID uuid.UUID) (models.Team, error)
}
