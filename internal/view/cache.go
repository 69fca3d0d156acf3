// Package view maintains the canonical in-memory auction list. Three
// independent sources write it: the periodic poll, the push change feed,
// and optimistic local patches. Conflicts resolve by store timestamp,
// not arrival order.
package view

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lks90/transfermarket/internal/models"
)

// Cache maps auction ID to the freshest known store-confirmed record.
type Cache struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]models.Auction
}

func NewCache() *Cache {
	return &Cache{auctions: make(map[uuid.UUID]models.Auction)}
}

// Apply admits an incoming store-confirmed record iff its UpdatedAt is
// not older than the cached one's. Ties admit: polling and push are both
// store-confirmed, so the later arrival is at least as current.
// Returns whether the record was admitted.
func (c *Cache) Apply(a models.Auction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.auctions[a.ID]
	if ok && a.UpdatedAt.Before(cached.UpdatedAt) {
		return false
	}
	c.auctions[a.ID] = a
	return true
}

// Patch applies an optimistic local mutation to a cached auction. The
// record's UpdatedAt is left untouched so the next store-confirmed write
// still wins; the patch is a hint, never the final word.
func (c *Cache) Patch(id uuid.UUID, fn func(*models.Auction)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.auctions[id]
	if !ok {
		return false
	}
	fn(&a)
	c.auctions[id] = a
	return true
}

func (c *Cache) Get(id uuid.UUID) (models.Auction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.auctions[id]
	return a, ok
}

// List returns all cached auctions ordered by end time.
func (c *Cache) List() []models.Auction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Auction, 0, len(c.auctions))
	for _, a := range c.auctions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		switch {
		case out[i].EndTime == nil:
			return false
		case out[j].EndTime == nil:
			return true
		default:
			return out[i].EndTime.Before(*out[j].EndTime)
		}
	})
	return out
}

// Active returns the cached auctions currently in the active status.
func (c *Cache) Active() []models.Auction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []models.Auction
	for _, a := range c.auctions {
		if a.Status == models.AuctionStatusActive {
			out = append(out, a)
		}
	}
	return out
}

func (c *Cache) Delete(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.auctions, id)
}

// TimeRemaining recomputes the countdown for a cached auction against
// the server-adjusted now. Zero when unknown, expired, or endless.
func (c *Cache) TimeRemaining(id uuid.UUID, now time.Time) time.Duration {
	a, ok := c.Get(id)
	if !ok {
		return 0
	}
	return a.TimeRemaining(now)
}
