// Package realtime provides the channel client that broadcasts and
// receives change events through the relay.
//
// The client maintains one managed WebSocket connection. Transient
// network loss is handled internally with a fixed-backoff reconnect
// that re-establishes every subscription; callers only ever see
// ErrChannelUnavailable when an operation cannot complete within its
// bound.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/plantops/plantsync/internal/relay"
	"github.com/plantops/plantsync/internal/schema"
)

var (
	// ErrMissingCredential means no access key is configured. The
	// process can still operate locally, but it will neither send nor
	// receive reconciliation events; operators must be told.
	ErrMissingCredential = errors.New("realtime access key not configured")

	// ErrChannelUnavailable means the channel could not complete an
	// operation within its bound. Transient; retried on reconnect.
	ErrChannelUnavailable = errors.New("realtime channel unavailable")
)

// Handler receives change events delivered for a subscribed topic.
type Handler func(*schema.ChangeEvent)

// Config holds channel client configuration.
type Config struct {
	// URL is the relay websocket endpoint (ws://host:port/channel).
	URL string

	// AccessKey authenticates this process to the relay.
	AccessKey string

	// OpTimeout bounds each publish and subscribe handshake.
	// Default 5s.
	OpTimeout time.Duration

	// ReconnectBackoff is the fixed delay between reconnect attempts.
	// Default 2s.
	ReconnectBackoff time.Duration

	// Logger for channel activity (default: stderr logger).
	Logger *log.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.OpTimeout <= 0 {
		out.OpTimeout = 5 * time.Second
	}
	if out.ReconnectBackoff <= 0 {
		out.ReconnectBackoff = 2 * time.Second
	}
	if out.Logger == nil {
		out.Logger = log.New(log.Writer(), "[realtime] ", log.LstdFlags)
	}
	return out
}

// Client is the process-wide handle to the realtime channel.
type Client struct {
	cfg Config

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string][]Handler
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Dial connects to the relay and starts the managed read/reconnect
// loop. The initial connection failure is returned to the caller; once
// Dial succeeds, later drops are retried internally.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.AccessKey == "" {
		return nil, ErrMissingCredential
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: relay URL not configured", ErrChannelUnavailable)
	}
	cfg = cfg.withDefaults()

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		handlers: make(map[string][]Handler),
		ctx:      runCtx,
		cancel:   cancel,
		logger:   cfg.Logger,
	}

	conn, err := c.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.conn = conn

	c.wg.Add(1)
	go c.run(conn)

	return c, nil
}

// connect dials the relay once, bounded by the op timeout.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.AccessKey)

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrChannelUnavailable, c.cfg.URL, err)
	}
	return conn, nil
}

// run reads frames until the connection drops, then reconnects with a
// fixed backoff and re-subscribes, until Close.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		c.readFrames(conn)

		if c.ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.logger.Printf("Connection lost, reconnecting in %v", c.cfg.ReconnectBackoff)

		var err error
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.cfg.ReconnectBackoff):
			}

			conn, err = c.connect(c.ctx)
			if err == nil {
				break
			}
			c.logger.Printf("Reconnect failed: %v", err)
		}

		c.mu.Lock()
		c.conn = conn
		topics := make([]string, 0, len(c.handlers))
		for topic := range c.handlers {
			topics = append(topics, topic)
		}
		c.mu.Unlock()

		for _, topic := range topics {
			if err := c.sendFrame(c.ctx, conn, relay.Frame{Action: relay.ActionSubscribe, Topic: topic}); err != nil {
				c.logger.Printf("Failed to re-subscribe %s: %v", topic, err)
			}
		}
		c.logger.Printf("Reconnected, %d subscription(s) restored", len(topics))
	}
}

// readFrames dispatches incoming events until a read error.
func (c *Client) readFrames(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}

		var f relay.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}
		if f.Action != relay.ActionEvent || f.Event == nil {
			continue
		}

		c.mu.Lock()
		handlers := make([]Handler, len(c.handlers[f.Topic]))
		copy(handlers, c.handlers[f.Topic])
		c.mu.Unlock()

		for _, h := range handlers {
			h(f.Event)
		}
	}
}

// sendFrame writes one frame, bounded by the op timeout.
func (c *Client) sendFrame(ctx context.Context, conn *websocket.Conn, f relay.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: write: %v", ErrChannelUnavailable, err)
	}
	return nil
}

// Publish broadcasts a change event on topic. The wait is bounded; a
// disconnected channel surfaces ErrChannelUnavailable instead of
// blocking until reconnect.
func (c *Client) Publish(ctx context.Context, topic string, ev *schema.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("refusing to publish invalid event: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return fmt.Errorf("%w: client closed", ErrChannelUnavailable)
	}
	if conn == nil {
		return fmt.Errorf("%w: not connected", ErrChannelUnavailable)
	}

	return c.sendFrame(ctx, conn, relay.Frame{Action: relay.ActionPublish, Topic: topic, Event: ev})
}

// Subscribe registers a handler for events on topic. The subscription
// survives reconnects. Handlers run on the read loop; they must not
// block.
func (c *Client) Subscribe(ctx context.Context, topic string, h Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: client closed", ErrChannelUnavailable)
	}
	first := len(c.handlers[topic]) == 0
	c.handlers[topic] = append(c.handlers[topic], h)
	conn := c.conn
	c.mu.Unlock()

	if !first || conn == nil {
		// Either the relay already knows about this topic, or the
		// reconnect path will register it once a connection exists.
		return nil
	}
	return c.sendFrame(ctx, conn, relay.Frame{Action: relay.ActionSubscribe, Topic: topic})
}

// Close tears the channel down for graceful shutdown.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutting down")
	}
	c.wg.Wait()
	return nil
}
