// Package gateway composes the store and channel connectors into one
// consistency contract.
//
// Every mutation flows through here. In Local mode the gateway applies
// the mutation to the embedded store and, only after the commit
// succeeds, broadcasts a change event; in Backend mode it forwards the
// mutation to the hosted API and broadcasts nothing, because every web
// client observes the hosted database directly. Remote change events
// arriving from peers are applied idempotently, with echo suppression
// and last-applied-wins semantics per entity.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/plantops/plantsync/internal/realtime"
	"github.com/plantops/plantsync/internal/runtime"
	"github.com/plantops/plantsync/internal/schema"
)

var (
	// ErrUnavailableInMode is the distinct outcome for operations that
	// only exist on the other mode's surface. Expected and user-facing,
	// never a silent success: accepting a remote clear in Local mode
	// could be mistaken for having cleared the sole authoritative
	// store.
	ErrUnavailableInMode = errors.New("operation unavailable in this runtime mode")

	// ErrApplyConflict means a remote change could not be applied
	// cleanly. Logged and dropped; redelivery would not change the
	// outcome.
	ErrApplyConflict = errors.New("remote change conflicts with local state")
)

// LocalStore is the Local-mode data path the gateway drives.
type LocalStore interface {
	ApplyChange(ctx context.Context, ev *schema.ChangeEvent) error
	GetEquipment(ctx context.Context, id string) (*schema.Equipment, error)
	ListEquipments(ctx context.Context) ([]*schema.Equipment, error)
	ListComponents(ctx context.Context, equipmentID string) ([]*schema.Component, error)
	Counts(ctx context.Context) (map[string]int, error)
}

// RemoteStore is the Backend-mode data path.
type RemoteStore interface {
	ApplyChange(ctx context.Context, ev *schema.ChangeEvent) error
	GetEquipment(ctx context.Context, id string) (*schema.Equipment, error)
	ListEquipments(ctx context.Context) ([]*schema.Equipment, error)
	Clear(ctx context.Context) error
}

// Publisher broadcasts change events to peers.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev *schema.ChangeEvent) error
}

// StoreFunc resolves the shared local store on demand (the connector's
// Get, behind the construct-once guarantee).
type StoreFunc func(ctx context.Context) (LocalStore, error)

// ChannelFunc resolves the shared channel client on demand.
type ChannelFunc func(ctx context.Context) (Publisher, error)

// Gateway is the reconciliation core for one process.
type Gateway struct {
	mode   runtime.Mode
	origin string
	logger *log.Logger

	local   StoreFunc   // nil outside Local mode
	remote  RemoteStore // nil outside Backend mode
	channel ChannelFunc // nil when realtime is not wired

	locks   lockTable
	applied *appliedSet
}

// Config wires a Gateway.
type Config struct {
	Mode    runtime.Mode
	Origin  string // instance ID stamped on outgoing events
	Local   StoreFunc
	Remote  RemoteStore
	Channel ChannelFunc
	Logger  *log.Logger
}

// New builds the gateway for the resolved mode.
func New(cfg Config) (*Gateway, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[gateway] ", log.LstdFlags)
	}
	if cfg.Origin == "" {
		cfg.Origin = schema.NewOrigin()
	}

	switch cfg.Mode {
	case runtime.ModeLocal:
		if cfg.Local == nil {
			return nil, fmt.Errorf("local mode requires a store")
		}
	case runtime.ModeBackend:
		if cfg.Remote == nil {
			return nil, fmt.Errorf("backend mode requires a remote client")
		}
	default:
		return nil, fmt.Errorf("%w: gateway constructed with mode %s", runtime.ErrEnvironmentAmbiguous, cfg.Mode)
	}

	return &Gateway{
		mode:    cfg.Mode,
		origin:  cfg.Origin,
		logger:  cfg.Logger,
		local:   cfg.Local,
		remote:  cfg.Remote,
		channel: cfg.Channel,
		applied: newAppliedSet(1024),
	}, nil
}

// Mode returns the mode this gateway was constructed for.
func (g *Gateway) Mode() runtime.Mode {
	return g.mode
}

// Origin returns this process's instance ID.
func (g *Gateway) Origin() string {
	return g.origin
}

// ApplyMutation performs one mutation against the active authoritative
// store and, in Local mode only, broadcasts it after the commit.
//
// Mutations on the same entity ID are serialized against each other
// (and against remote change application); different IDs proceed
// concurrently. Broadcast is best-effort: a publish failure after a
// successful commit is logged, never propagated to the caller.
func (g *Gateway) ApplyMutation(ctx context.Context, entity schema.Kind, id string, op schema.Op, payload any) error {
	if entity == schema.KindComponent {
		return fmt.Errorf("components are read-only master data")
	}

	ev, err := schema.NewChangeEvent(g.origin, entity, id, op, payload)
	if err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	unlock := g.locks.lock(entity, id)
	defer unlock()

	if g.mode == runtime.ModeBackend {
		if err := g.remote.ApplyChange(ctx, ev); err != nil {
			return fmt.Errorf("backend mutation failed: %w", err)
		}
		// The hosted database is the single source of truth; nothing
		// to broadcast.
		return nil
	}

	s, err := g.local(ctx)
	if err != nil {
		return err
	}
	if err := s.ApplyChange(ctx, ev); err != nil {
		return fmt.Errorf("local mutation failed: %w", err)
	}

	// Commit is durable from here on; the caller's result is decided.
	g.broadcast(ctx, ev)
	return nil
}

// broadcast publishes a committed event. All failures land in the log,
// none reach the mutation caller.
func (g *Gateway) broadcast(ctx context.Context, ev *schema.ChangeEvent) {
	if g.channel == nil {
		return
	}

	pub, err := g.channel(ctx)
	if err != nil {
		if errors.Is(err, realtime.ErrMissingCredential) {
			// The connector already printed its one-time banner; stay
			// quiet here so every mutation doesn't repeat it.
			return
		}
		g.logger.Printf("Broadcast skipped for %s/%s: %v", ev.Entity, ev.EntityID, err)
		return
	}

	if err := pub.Publish(ctx, ev.Entity.Topic(), ev); err != nil {
		g.logger.Printf("Broadcast failed for event %s (%s/%s): %v; peers will converge on reconnect",
			ev.EventID, ev.Entity, ev.EntityID, err)
	}
}

// OnRemoteChange applies a peer's broadcast to the local store.
//
// Events from this process's own origin are dropped (no echo loops),
// and each event ID is applied at most once (duplicate delivery must
// not double-apply). Apply failures are classified ErrApplyConflict:
// the event is dropped, since redelivery cannot change the outcome.
func (g *Gateway) OnRemoteChange(ctx context.Context, ev *schema.ChangeEvent) error {
	if g.mode != runtime.ModeLocal {
		return fmt.Errorf("%w: remote changes only apply in local mode", runtime.ErrWrongMode)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrApplyConflict, err)
	}
	if ev.Origin == g.origin {
		return nil
	}

	unlock := g.locks.lock(ev.Entity, ev.EntityID)
	defer unlock()

	if g.applied.seen(ev.EventID) {
		return nil
	}

	s, err := g.local(ctx)
	if err != nil {
		return err
	}
	if err := s.ApplyChange(ctx, ev); err != nil {
		g.logger.Printf("Dropping conflicting remote change %s (%s/%s): %v",
			ev.EventID, ev.Entity, ev.EntityID, err)
		return fmt.Errorf("%w: %v", ErrApplyConflict, err)
	}

	g.applied.mark(ev.EventID)
	return nil
}

// ClearRemote wipes the hosted database.
//
// In Local mode this is the Disabled-Path Guard: there is no remote
// state to clear and the local store is the sole authoritative copy,
// so the call returns ErrUnavailableInMode and performs no side effect
// whatsoever.
func (g *Gateway) ClearRemote(ctx context.Context) error {
	if g.mode != runtime.ModeBackend {
		return fmt.Errorf("%w: remote clear requires backend mode", ErrUnavailableInMode)
	}
	if err := g.remote.Clear(ctx); err != nil {
		return fmt.Errorf("remote clear failed: %w", err)
	}
	return nil
}

// GetEquipment reads one equipment record through the active data path.
func (g *Gateway) GetEquipment(ctx context.Context, id string) (*schema.Equipment, error) {
	if g.mode == runtime.ModeBackend {
		return g.remote.GetEquipment(ctx, id)
	}
	s, err := g.local(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetEquipment(ctx, id)
}

// ListEquipments reads all equipment through the active data path.
func (g *Gateway) ListEquipments(ctx context.Context) ([]*schema.Equipment, error) {
	if g.mode == runtime.ModeBackend {
		return g.remote.ListEquipments(ctx)
	}
	s, err := g.local(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListEquipments(ctx)
}

// ListComponents reads the bundled component dataset. Components only
// exist locally; in Backend mode the hosted API serves them to web
// clients directly and this surface is unavailable.
func (g *Gateway) ListComponents(ctx context.Context, equipmentID string) ([]*schema.Component, error) {
	if g.mode != runtime.ModeLocal {
		return nil, fmt.Errorf("%w: component dataset lives in the local store", ErrUnavailableInMode)
	}
	s, err := g.local(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListComponents(ctx, equipmentID)
}

// Counts reports local store row counts for the status surface.
func (g *Gateway) Counts(ctx context.Context) (map[string]int, error) {
	if g.mode != runtime.ModeLocal {
		return nil, fmt.Errorf("%w: counts are read from the local store", ErrUnavailableInMode)
	}
	s, err := g.local(ctx)
	if err != nil {
		return nil, err
	}
	return s.Counts(ctx)
}
