// Package feed delivers row-level change notifications from the store.
// The feed is a hint source only: it may duplicate, delay, or drop
// events, so every consumer reconciles against store-confirmed rows.
package feed

import (
	"context"
	"encoding/json"
	"time"
)

// Op is the kind of row change a notification describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one row-level change notification.
type Change struct {
	Table      string          `json:"table"`
	Op         Op              `json:"op"`
	Row        json.RawMessage `json:"row"`
	ReceivedAt time.Time       `json:"-"`
}

// Feed is a push change-notification subscription keyed by table.
type Feed interface {
	// Subscribe opens the event stream filtered to the given tables.
	// Delivery stops when ctx is cancelled; the channel may stay open,
	// so consumers select on ctx rather than waiting for a close.
	Subscribe(ctx context.Context, tables ...string) (<-chan Change, error)
	Close() error
}

func tableSet(tables []string) map[string]bool {
	set := make(map[string]bool, len(tables))
	for _, t := range tables {
		set[t] = true
	}
	return set
}
