package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS-relayed change feed.
type NATSConfig struct {
	URL           string
	SubjectPrefix string // changes are relayed on "<prefix>.<table>"
	MaxReconnects int
	ReconnectWait time.Duration
	BufferSize    int
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "changes",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		BufferSize:    256,
	}
}

// NATSFeed implements Feed over a NATS relay of the store's row changes,
// one subject per table.
type NATSFeed struct {
	nc   *nats.Conn
	cfg  NATSConfig
	subs []*nats.Subscription
}

func NewNATSFeed(cfg NATSConfig) (*NATSFeed, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSFeed{nc: nc, cfg: cfg}, nil
}

func (f *NATSFeed) Subscribe(ctx context.Context, tables ...string) (<-chan Change, error) {
	out := make(chan Change, f.cfg.BufferSize)

	for _, table := range tables {
		subject := fmt.Sprintf("%s.%s", f.cfg.SubjectPrefix, table)
		sub, err := f.nc.Subscribe(subject, func(msg *nats.Msg) {
			f.forward(out, msg.Subject, msg.Data)
		})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
		}
		f.subs = append(f.subs, sub)
		log.Info().Str("subject", subject).Msg("subscribed to row changes")
	}

	// Unsubscribe does not wait for in-flight callbacks, so the channel
	// must stay open: a handler could still be sitting at the send.
	// Consumers watch ctx rather than a close.
	go func() {
		<-ctx.Done()
		for _, sub := range f.subs {
			_ = sub.Unsubscribe()
		}
	}()

	return out, nil
}

// forward relays one raw change notification to the consumer, dropping
// it when the buffer is full.
func (f *NATSFeed) forward(out chan<- Change, subject string, data []byte) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to decode change notification")
		return
	}
	c.ReceivedAt = time.Now()
	select {
	case out <- c:
	default:
		log.Warn().
			Str("table", c.Table).
			Msg("change buffer full, dropping notification")
	}
}

func (f *NATSFeed) Close() error {
	f.nc.Close()
	return nil
}
