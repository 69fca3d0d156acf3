package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionTypeBidPending marks the reservation rows the engine cares
// about; every other transaction type is settled history.
const TransactionTypeBidPending = "bid_pending"

// Reservation is an amount of a team's balance provisionally set aside
// against an active bid. The store owns these rows; the engine's copy is
// a derived projection, replaced wholesale on every refresh.
type Reservation struct {
	AuctionID   uuid.UUID `json:"auction_id"`
	TeamID      uuid.UUID `json:"team_id"`
	Amount      int64     `json:"amount"`
	Type        string    `json:"type"`
	IsProcessed bool      `json:"is_processed"`
	CreatedAt   time.Time `json:"created_at"`
}
