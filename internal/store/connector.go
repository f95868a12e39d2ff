package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/plantops/plantsync/internal/runtime"
)

// Connector owns the process-wide store handle.
//
// Get resolves every caller to the same handle: concurrent first calls
// await one in-flight Open instead of racing to open independently,
// and a failed Open is never cached, so the next caller retries.
//
// A Backend-mode process must never open the local file; two
// authoritative stores existing at once is the failure this layer is
// built to prevent. The mode is captured at construction and checked
// before any filesystem side effect.
type Connector struct {
	mode runtime.Mode
	path string

	mu      sync.Mutex
	store   *Store
	opening chan struct{} // non-nil while an Open is in flight

	// openFn is swapped in tests to count and fail constructions.
	openFn func(path string) (*Store, error)
}

// NewConnector builds a connector for the store file inside dataDir.
// No file is touched until the first Get.
func NewConnector(mode runtime.Mode, dataDir string) *Connector {
	return &Connector{
		mode:   mode,
		path:   filepath.Join(dataDir, FileName),
		openFn: Open,
	}
}

// Get returns the shared store handle, opening it on first use.
//
// Returns runtime.ErrWrongMode without any side effect when the
// process is not in Local mode. Callers must not Close the returned
// handle; the connector owns its lifetime.
func (c *Connector) Get(ctx context.Context) (*Store, error) {
	if c.mode != runtime.ModeLocal {
		return nil, fmt.Errorf("%w: local store requested in %s mode", runtime.ErrWrongMode, c.mode)
	}

	for {
		c.mu.Lock()
		if c.store != nil {
			s := c.store
			c.mu.Unlock()
			return s, nil
		}

		if c.opening == nil {
			// This caller performs the open; everyone else waits on
			// the channel and re-checks.
			ch := make(chan struct{})
			c.opening = ch
			c.mu.Unlock()

			s, err := c.openFn(c.path)

			c.mu.Lock()
			c.opening = nil
			if err == nil {
				c.store = s
			}
			close(ch)
			c.mu.Unlock()

			if err != nil {
				return nil, fmt.Errorf("failed to open local store: %w", err)
			}
			return s, nil
		}

		ch := c.opening
		c.mu.Unlock()

		select {
		case <-ch:
			// Construction finished, success or not; loop to re-check.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close tears down the handle at process exit. Safe to call when the
// store was never opened.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}
