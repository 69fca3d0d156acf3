package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ListenerConfig holds configuration for the Postgres LISTEN/NOTIFY feed.
type ListenerConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // Channel the store's triggers NOTIFY on
	PingInterval  time.Duration // Keepalive ping cadence
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
	BufferSize    int // Outbound channel capacity
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "row_changes",
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
		BufferSize:    256,
	}
}

// Listener implements Feed over a pq LISTEN/NOTIFY connection. The
// store's row triggers NOTIFY a JSON payload of the shape Change
// marshals to.
type Listener struct {
	listener *pq.Listener
	cfg      ListenerConfig
}

func NewListener(cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for row changes")

	return &Listener{listener: l, cfg: cfg}, nil
}

func (l *Listener) Subscribe(ctx context.Context, tables ...string) (<-chan Change, error) {
	wanted := tableSet(tables)
	out := make(chan Change, l.cfg.BufferSize)

	go func() {
		defer close(out)

		pingTicker := time.NewTicker(l.cfg.PingInterval)
		defer pingTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("change listener shutting down")
				return
			case note := <-l.listener.Notify:
				if note == nil {
					// nil notification means the connection was lost and
					// pq is reconnecting; events in between are dropped,
					// the periodic polls cover the gap
					continue
				}
				change, err := decodeChange(note.Extra)
				if err != nil {
					log.Error().Err(err).Msg("failed to decode change notification")
					continue
				}
				if !wanted[change.Table] {
					continue
				}
				select {
				case out <- change:
				default:
					log.Warn().
						Str("table", change.Table).
						Msg("change buffer full, dropping notification")
				}
			case <-pingTicker.C:
				if err := l.listener.Ping(); err != nil {
					log.Error().Err(err).Msg("failed to ping listener")
				}
			}
		}
	}()

	return out, nil
}

func (l *Listener) Close() error {
	return l.listener.Close()
}

func decodeChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("invalid change payload: %w", err)
	}
	c.ReceivedAt = time.Now()
	return c, nil
}
