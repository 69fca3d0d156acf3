package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lks90/transfermarket/internal/models"
)

// MarketView is the slice of the engine the snapshot loop reads.
type MarketView interface {
	Auctions() []models.Auction
	TimeRemaining(auctionID uuid.UUID) time.Duration
}

// RunSnapshots periodically broadcasts the market state with countdowns
// computed on the engine's synchronized clock. The client's own timer is
// visual feedback only; these snapshots keep it honest.
func (cm *ConnectionManager) RunSnapshots(ctx context.Context, view MarketView, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cm.ConnectionCount() == 0 {
				continue
			}
			auctions := view.Auctions()
			entries := make([]SnapshotEntry, 0, len(auctions))
			for _, a := range auctions {
				entries = append(entries, SnapshotEntry{
					AuctionID:        a.ID,
					PlayerID:         a.PlayerID,
					CurrentBid:       a.CurrentBid,
					Status:           string(a.Status),
					TimeRemainingSec: int(view.TimeRemaining(a.ID) / time.Second),
				})
			}
			event, err := NewMarketEvent(EventTypeSnapshot, entries)
			if err != nil {
				log.Error().Err(err).Msg("failed to build market snapshot")
				continue
			}
			cm.Broadcast(event)
		}
	}
}
