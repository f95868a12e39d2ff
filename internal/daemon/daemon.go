// Package daemon runs the background half of a Local-mode process:
//
//  1. Imports the bundled master-data JSON into the local store and
//     watches the drop directory for updated files.
//  2. Subscribes to the realtime channel and feeds incoming change
//     events into the reconciliation gateway.
//  3. Handles graceful shutdown of both connectors.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/plantops/plantsync/internal/gateway"
	"github.com/plantops/plantsync/internal/realtime"
	"github.com/plantops/plantsync/internal/schema"
	"github.com/plantops/plantsync/internal/store"
)

// Config holds daemon configuration.
type Config struct {
	// DebounceInterval batches rapid file updates together before
	// importing.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates master-data imports and remote change delivery.
type Daemon struct {
	gw      *gateway.Gateway
	stores  *store.Connector
	channel *realtime.Connector
	dataDir string
	config  *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> queued at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. dataDir is the master-data drop directory; it
// may be empty to run without file imports (remote changes only).
func New(gw *gateway.Gateway, stores *store.Connector, channel *realtime.Connector, dataDir string, config *Config) (*Daemon, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if stores == nil {
		return nil, fmt.Errorf("store connector cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		gw:          gw,
		stores:      stores,
		channel:     channel,
		dataDir:     dataDir,
		config:      config,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.dataDir != "" {
		if err := d.ImportAll(ctx); err != nil {
			return fmt.Errorf("initial import failed: %w", err)
		}

		if err := os.MkdirAll(d.dataDir, 0755); err != nil {
			return fmt.Errorf("failed to create master-data directory: %w", err)
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher

		if err := d.watcher.Add(d.dataDir); err != nil {
			return fmt.Errorf("failed to watch master-data directory: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.dataDir)

		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	d.subscribeRemote()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts the daemon down, closing both connectors.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	d.wg.Wait()

	if d.channel != nil {
		if err := d.channel.Close(); err != nil {
			d.config.Logger.Printf("Error closing channel client: %v", err)
		}
	}
	if err := d.stores.Close(); err != nil {
		d.config.Logger.Printf("Error closing store: %v", err)
	}

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// subscribeRemote wires every entity topic into the gateway. A missing
// credential is not fatal: the process keeps operating locally and the
// connector has already told the operator.
func (d *Daemon) subscribeRemote() {
	if d.channel == nil {
		return
	}

	client, err := d.channel.Get(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Realtime channel unavailable, operating locally: %v", err)
		return
	}

	topics := []schema.Kind{
		schema.KindEquipment, schema.KindAlarm, schema.KindProcedure, schema.KindLogEntry,
	}
	for _, kind := range topics {
		if err := client.Subscribe(d.ctx, kind.Topic(), func(ev *schema.ChangeEvent) {
			if err := d.gw.OnRemoteChange(context.Background(), ev); err != nil {
				d.config.Logger.Printf("Remote change %s not applied: %v", ev.EventID, err)
			}
		}); err != nil {
			d.config.Logger.Printf("Failed to subscribe %s: %v", kind.Topic(), err)
		}
	}
	d.config.Logger.Printf("Subscribed to %d topic(s)", len(topics))
}

// ImportAll reads every master-data file in the drop directory.
// Individual file failures are logged but don't stop the import.
func (d *Daemon) ImportAll(ctx context.Context) error {
	if _, err := os.Stat(d.dataDir); os.IsNotExist(err) {
		d.config.Logger.Printf("Master-data directory doesn't exist: %s (skipping)", d.dataDir)
		return nil
	}

	entries, err := os.ReadDir(d.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read master-data directory: %w", err)
	}

	var imported, failed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(d.dataDir, entry.Name())
		if err := d.importFile(ctx, path); err != nil {
			d.config.Logger.Printf("WARNING: Failed to import %s: %v", entry.Name(), err)
			failed++
			continue
		}
		imported++
	}

	d.config.Logger.Printf("Import complete: files=%d (failed=%d)", imported, failed)
	return nil
}

// importFile loads one master-data file into the local store. Imports
// are seed data for this instance; they are not broadcast, every peer
// carries the same bundle.
func (d *Daemon) importFile(ctx context.Context, path string) error {
	s, err := d.stores.Get(ctx)
	if err != nil {
		return err
	}

	switch schema.MasterDataKind(path) {
	case schema.KindEquipment:
		eq, err := schema.ReadEquipmentFile(path)
		if err != nil {
			return err
		}
		if err := s.UpsertEquipment(ctx, eq); err != nil {
			return err
		}
		d.config.Logger.Printf("Imported equipment: %s (%s)", eq.ID, eq.Name)

	case schema.KindComponent:
		comps, err := schema.ReadComponentsFile(path)
		if err != nil {
			return err
		}
		if err := s.ReplaceComponents(ctx, comps); err != nil {
			return err
		}
		d.config.Logger.Printf("Imported %d component(s)", len(comps))

	case schema.KindAlarm:
		alarms, err := schema.ReadAlarmsFile(path)
		if err != nil {
			return err
		}
		for _, a := range alarms {
			if err := s.UpsertAlarm(ctx, a); err != nil {
				return err
			}
		}
		d.config.Logger.Printf("Imported %d alarm(s)", len(alarms))

	case schema.KindProcedure:
		procs, err := schema.ReadProceduresFile(path)
		if err != nil {
			return err
		}
		for _, p := range procs {
			if err := s.UpsertProcedure(ctx, p); err != nil {
				return err
			}
		}
		d.config.Logger.Printf("Imported %d procedure(s)", len(procs))

	default:
		return fmt.Errorf("unrecognized master-data file: %s", filepath.Base(path))
	}

	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they've been quiet for
// a debounce interval.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			// Removing a master-data file does not un-import its
			// records; the bundle only grows.
			delete(d.changeQueue, path)
			continue
		}

		if err := d.importFile(d.ctx, path); err != nil {
			d.config.Logger.Printf("Error importing %s: %v", path, err)
		}
		delete(d.changeQueue, path)
	}
}
