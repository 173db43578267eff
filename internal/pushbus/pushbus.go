// Package pushbus delivers room assignments to waiting users over core
// NATS publish/subscribe, grounded on the teacher pack's nats.Client
// wrapper (go-server/pkg/nats/client.go).
package pushbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config dials the shared NATS deployment the way the teacher's
// nats.Client does — bounded reconnect with jitter rather than an
// unbounded retry loop.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	PingInterval    time.Duration
}

// DefaultConfig mirrors the teacher's defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxReconnects:   10,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
		PingInterval:    20 * time.Second,
	}
}

// Bus publishes RoomAssignment messages onto per-user subjects. It
// never subscribes — the scheduler only ever produces onto this bus.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// RoomAssignment is the wire message delivered to a matched user.
type RoomAssignment struct {
	Type   string `json:"type"`
	RoomID int64  `json:"room_id"`
}

// Connect dials NATS with the teacher's connection-event handlers
// wired to structured log lines instead of the teacher's metrics
// interface (obsmetrics tracks publish outcomes directly, not
// connection churn).
func Connect(cfg Config, logger zerolog.Logger) (*Bus, error) {
	b := &Bus{logger: logger}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("pushbus connected")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("pushbus disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("pushbus reconnected")
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("pushbus error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("pushbus: connect: %w", err)
	}
	b.conn = conn
	return b, nil
}

// Subject returns the per-user topic a subscriber joins on connect.
func Subject(userID int64) string {
	return fmt.Sprintf("user_queue_%d", userID)
}

// PublishRoomID delivers a room assignment to userID's subject.
// Delivery is fire-and-forget: the spec's subscriber contract does not
// require exactly-once or even at-least-once delivery, only that a
// successful Publish call here is what lets the caller remove the user
// from the waiting set.
func (b *Bus) PublishRoomID(userID, roomID int64) error {
	data, err := json.Marshal(RoomAssignment{Type: "send_room_id", RoomID: roomID})
	if err != nil {
		return fmt.Errorf("pushbus: marshal: %w", err)
	}
	if err := b.conn.Publish(Subject(userID), data); err != nil {
		return fmt.Errorf("pushbus: publish: %w", err)
	}
	return nil
}

// Close flushes any buffered messages and closes the connection.
func (b *Bus) Close() {
	if b.conn == nil {
		return
	}
	_ = b.conn.FlushTimeout(2 * time.Second)
	b.conn.Close()
}
