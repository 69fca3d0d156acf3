package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// AuctionStatus defines the lifecycle status of a transfer auction.
// Only the store's atomic operations transition it; the engine never
// writes status directly.
type AuctionStatus string

const (
	AuctionStatusPending  AuctionStatus = "pending"
	AuctionStatusActive   AuctionStatus = "active"
	AuctionStatusFinished AuctionStatus = "finished"
)

// Auction is the engine's cached copy of a store-owned auction row.
// UpdatedAt is the store-side timestamp used for freshness comparison;
// it is never treated as "now".
type Auction struct {
	ID              uuid.UUID             `json:"id"`
	PlayerID        uuid.UUID             `json:"player_id"`
	StartPrice      int64                 `json:"start_price"`
	CurrentBid      int64                 `json:"current_bid"`
	CurrentBidderID *uuid.UUID            `json:"current_bidder,omitempty"`
	Status          AuctionStatus         `json:"status"`
	StartTime       *time.Time            `json:"start_time,omitempty"`
	EndTime         *time.Time            `json:"end_time,omitempty"`
	UpdatedAt       time.Time             `json:"updated_at"`
	Meta            pqtype.NullRawMessage `json:"meta,omitempty"` // opaque display fields, passed through untouched
}

// TimeRemaining computes the countdown against the supplied notion of
// "now" (server-adjusted time). Never stored, recomputed on every read.
func (a Auction) TimeRemaining(now time.Time) time.Duration {
	if a.EndTime == nil {
		return 0
	}
	rem := a.EndTime.Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

// LedBy reports whether teamID currently leads the auction.
func (a Auction) LedBy(teamID uuid.UUID) bool {
	return a.CurrentBidderID != nil && *a.CurrentBidderID == teamID
}
