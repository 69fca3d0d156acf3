// Package notify surfaces engine events to the presentation layer. The
// dispatcher performs no deduplication by design: idempotency lives
// upstream (the finalization coordinator's processed-locally flag), so
// each kind must have exactly one authorized caller.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Kind is the category of a user-facing notification.
type Kind string

const (
	KindWin     Kind = "win"
	KindCovered Kind = "covered"
	KindInfo    Kind = "info"
)

// Notification is one user-facing event.
type Notification struct {
	ID        uuid.UUID   `json:"id"`
	Kind      Kind        `json:"kind"`
	AuctionID uuid.UUID   `json:"auction_id"`
	Payload   interface{} `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// WinPayload accompanies a KindWin notification.
type WinPayload struct {
	PlayerID    uuid.UUID `json:"player_id"`
	FinalAmount int64     `json:"final_amount"`
}

// CoveredPayload accompanies a KindCovered notification.
type CoveredPayload struct {
	PlayerID      uuid.UUID `json:"player_id"`
	CoveredAmount int64     `json:"covered_amount"`
	NewBid        int64     `json:"new_bid"`
}

// Sink receives every published notification. Sinks must not block.
type Sink interface {
	Notify(n Notification)
}

// Dispatcher keeps at most one active notification per kind; a new one
// for the same kind replaces the previous rather than queueing (the UI
// shows one modal at a time).
type Dispatcher struct {
	clock clockwork.Clock

	mu     sync.RWMutex
	active map[Kind]Notification
	sinks  []Sink
}

func NewDispatcher(clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		clock:  clock,
		active: make(map[Kind]Notification),
	}
}

// Register adds a sink. Register before the engine starts; there is no
// unregister.
func (d *Dispatcher) Register(sink Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, sink)
	d.mu.Unlock()
}

// Publish replaces the active notification of the given kind and fans it
// out to every sink.
func (d *Dispatcher) Publish(kind Kind, auctionID uuid.UUID, payload interface{}) Notification {
	n := Notification{
		ID:        uuid.New(),
		Kind:      kind,
		AuctionID: auctionID,
		Payload:   payload,
		CreatedAt: d.clock.Now(),
	}

	d.mu.Lock()
	d.active[kind] = n
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.Unlock()

	log.Info().
		Str("kind", string(kind)).
		Str("auction_id", auctionID.String()).
		Msg("notification published")

	for _, s := range sinks {
		s.Notify(n)
	}
	return n
}

// Active returns the current notification of a kind, if one is showing.
func (d *Dispatcher) Active(kind Kind) (Notification, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.active[kind]
	return n, ok
}

// Dismiss clears the active notification of a kind.
func (d *Dispatcher) Dismiss(kind Kind) {
	d.mu.Lock()
	delete(d.active, kind)
	d.mu.Unlock()
}
