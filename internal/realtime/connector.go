package realtime

import (
	"context"
	"log"
	"sync"
)

// Connector owns the process-wide channel client.
//
// Same construction discipline as the store connector: concurrent
// first calls share one in-flight dial, a failed dial is never cached,
// and the handle lives until Close.
//
// A missing access key is reported loudly exactly once. The process
// keeps running; it just won't exchange reconciliation events, which
// is a correctness-relevant degradation the operator must know about.
type Connector struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	client  *Client
	dialing chan struct{} // non-nil while a dial is in flight

	credWarn sync.Once

	// dialFn is swapped in tests to count and fail constructions.
	dialFn func(ctx context.Context, cfg Config) (*Client, error)
}

// NewConnector builds a connector. No network activity happens until
// the first Get.
func NewConnector(cfg Config, logger *log.Logger) *Connector {
	if logger == nil {
		logger = log.New(log.Writer(), "[realtime] ", log.LstdFlags)
	}
	return &Connector{
		cfg:    cfg,
		logger: logger,
		dialFn: Dial,
	}
}

// Get returns the shared channel client, dialing on first use.
//
// Returns ErrMissingCredential when no access key is configured; the
// warning is logged only on the first access so local-only operation
// doesn't flood the logs.
func (c *Connector) Get(ctx context.Context) (*Client, error) {
	if c.cfg.AccessKey == "" {
		c.credWarn.Do(func() {
			c.logger.Println("*****************************************************************")
			c.logger.Println("* Realtime access key not configured.                           *")
			c.logger.Println("* Change broadcasts are DISABLED: this instance will not send   *")
			c.logger.Println("* or receive reconciliation events until a key is provided via  *")
			c.logger.Println("* the realtime.access_key setting or PLANTSYNC_REALTIME_KEY.   *")
			c.logger.Println("*****************************************************************")
		})
		return nil, ErrMissingCredential
	}

	for {
		c.mu.Lock()
		if c.client != nil {
			cl := c.client
			c.mu.Unlock()
			return cl, nil
		}

		if c.dialing == nil {
			ch := make(chan struct{})
			c.dialing = ch
			c.mu.Unlock()

			cl, err := c.dialFn(ctx, c.cfg)

			c.mu.Lock()
			c.dialing = nil
			if err == nil {
				c.client = cl
			}
			close(ch)
			c.mu.Unlock()

			if err != nil {
				return nil, err
			}
			return cl, nil
		}

		ch := c.dialing
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close tears down the channel client at process exit. Safe to call
// when the client was never dialed.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
