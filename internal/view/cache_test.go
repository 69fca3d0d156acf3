package view

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lks90/transfermarket/internal/models"
)

func activeAuction(id uuid.UUID, bid int64, updatedAt time.Time, endTime time.Time) models.Auction {
	return models.Auction{
		ID:         id,
		PlayerID:   uuid.New(),
		StartPrice: 1_000_000,
		CurrentBid: bid,
		Status:     models.AuctionStatusActive,
		EndTime:    &endTime,
		UpdatedAt:  updatedAt,
	}
}

func TestApplyFreshnessRule(t *testing.T) {
	c := NewCache()
	id := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := t0.Add(time.Hour)

	require.True(t, c.Apply(activeAuction(id, 10_000_000, t0, end)))

	// Older record loses, regardless of arrival order.
	assert.False(t, c.Apply(activeAuction(id, 9_000_000, t0.Add(-time.Second), end)))
	got, _ := c.Get(id)
	assert.Equal(t, int64(10_000_000), got.CurrentBid)

	// Ties admit: both poll and push are store-confirmed.
	assert.True(t, c.Apply(activeAuction(id, 11_000_000, t0, end)))
	got, _ = c.Get(id)
	assert.Equal(t, int64(11_000_000), got.CurrentBid)

	// Newer record wins.
	assert.True(t, c.Apply(activeAuction(id, 12_000_000, t0.Add(time.Second), end)))
	got, _ = c.Get(id)
	assert.Equal(t, int64(12_000_000), got.CurrentBid)
}

func TestPatchIsOverriddenByNextConfirmedWrite(t *testing.T) {
	c := NewCache()
	id := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := t0.Add(time.Minute)

	require.True(t, c.Apply(activeAuction(id, 10_000_000, t0, end)))

	extended := end.Add(30 * time.Second)
	require.True(t, c.Patch(id, func(a *models.Auction) {
		a.EndTime = &extended
	}))

	got, _ := c.Get(id)
	assert.Equal(t, extended, *got.EndTime)
	// The patch left UpdatedAt untouched, so a store-confirmed record
	// with the same timestamp still replaces it.
	assert.Equal(t, t0, got.UpdatedAt)

	confirmed := activeAuction(id, 10_000_000, t0, end.Add(time.Minute))
	require.True(t, c.Apply(confirmed))
	got, _ = c.Get(id)
	assert.Equal(t, *confirmed.EndTime, *got.EndTime)
}

func TestPatchUnknownAuction(t *testing.T) {
	c := NewCache()
	assert.False(t, c.Patch(uuid.New(), func(a *models.Auction) {}))
}

func TestTimeRemaining(t *testing.T) {
	c := NewCache()
	id := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := t0.Add(90 * time.Second)
	require.True(t, c.Apply(activeAuction(id, 10_000_000, t0, end)))

	assert.Equal(t, 90*time.Second, c.TimeRemaining(id, t0))
	assert.Equal(t, 30*time.Second, c.TimeRemaining(id, t0.Add(time.Minute)))
	// Clamped at zero past expiry.
	assert.Equal(t, time.Duration(0), c.TimeRemaining(id, t0.Add(time.Hour)))
	// Unknown auctions read as expired, never panic.
	assert.Equal(t, time.Duration(0), c.TimeRemaining(uuid.New(), t0))
}

func TestTimeRemainingMonotoneInWallClock(t *testing.T) {
	c := NewCache()
	id := uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, c.Apply(activeAuction(id, 10_000_000, t0, t0.Add(time.Minute))))

	prev := c.TimeRemaining(id, t0)
	for step := time.Second; step <= 2*time.Minute; step += 7 * time.Second {
		cur := c.TimeRemaining(id, t0.Add(step))
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestListOrderedByEndTime(t *testing.T) {
	c := NewCache()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	late := activeAuction(uuid.New(), 1, t0, t0.Add(2*time.Hour))
	early := activeAuction(uuid.New(), 2, t0, t0.Add(time.Hour))
	pending := models.Auction{ID: uuid.New(), Status: models.AuctionStatusPending, UpdatedAt: t0}

	require.True(t, c.Apply(late))
	require.True(t, c.Apply(early))
	require.True(t, c.Apply(pending))

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, early.ID, list[0].ID)
	assert.Equal(t, late.ID, list[1].ID)
	// Auctions with no end time sort last.
	assert.Equal(t, pending.ID, list[2].ID)
}

func TestActiveFilters(t *testing.T) {
	c := NewCache()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := t0.Add(time.Hour)

	active := activeAuction(uuid.New(), 1, t0, end)
	finished := activeAuction(uuid.New(), 2, t0, end)
	finished.Status = models.AuctionStatusFinished

	require.True(t, c.Apply(active))
	require.True(t, c.Apply(finished))

	got := c.Active()
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)
}
