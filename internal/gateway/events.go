package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MarketEvent is the envelope pushed to every connected UI client.
type MarketEvent struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of market event.
type EventType string

const (
	EventTypeNotification EventType = "Notification"
	EventTypeSnapshot     EventType = "MarketSnapshot"
)

// SnapshotEntry is one auction in a MarketSnapshot payload, with the
// countdown already computed on the server-adjusted clock.
type SnapshotEntry struct {
	AuctionID        uuid.UUID `json:"auction_id"`
	PlayerID         uuid.UUID `json:"player_id"`
	CurrentBid       int64     `json:"current_bid"`
	Status           string    `json:"status"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
}

// NewMarketEvent wraps a payload into the event envelope.
func NewMarketEvent(eventType EventType, payload interface{}) (MarketEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return MarketEvent{}, err
	}
	return MarketEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}
