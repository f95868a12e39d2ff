package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names an entity type carried by a ChangeEvent.
type Kind string

const (
	KindUnknown   Kind = ""
	KindEquipment Kind = "equipment"
	KindComponent Kind = "component"
	KindAlarm     Kind = "alarm"
	KindProcedure Kind = "procedure"
	KindLogEntry  Kind = "logentry"
)

// IsValid reports whether the kind is one plantsync knows how to apply.
func (k Kind) IsValid() bool {
	switch k {
	case KindEquipment, KindComponent, KindAlarm, KindProcedure, KindLogEntry:
		return true
	default:
		return false
	}
}

// Topic returns the relay topic carrying events for this kind.
// Components are read-only and have no topic.
func (k Kind) Topic() string {
	return string(k)
}

// Op is the mutation kind carried by a ChangeEvent.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// IsValid reports whether the op is a known mutation kind.
func (o Op) IsValid() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// ChangeEvent is the unit broadcast over the realtime channel: one
// committed mutation on one entity. Events are transient messages,
// never persisted by this layer.
type ChangeEvent struct {
	// EventID uniquely identifies this event for duplicate-delivery
	// detection on the subscriber side.
	EventID string `json:"event_id"`

	// Origin is the emitting process's instance ID. Subscribers drop
	// events carrying their own origin so a broadcast never loops back
	// into a re-apply.
	Origin string `json:"origin"`

	Entity   Kind `json:"entity"`
	EntityID string `json:"entity_id"`
	Op       Op   `json:"op"`

	// Payload is the full post-mutation record for create/update,
	// empty for delete. Opaque to the transport.
	Payload json.RawMessage `json:"payload,omitempty"`

	At time.Time `json:"at"`
}

// NewChangeEvent builds an event for a committed mutation. payload is
// marshaled here so callers hand over the typed record.
func NewChangeEvent(origin string, entity Kind, entityID string, op Op, payload any) (*ChangeEvent, error) {
	ev := &ChangeEvent{
		EventID:  uuid.NewString(),
		Origin:   origin,
		Entity:   entity,
		EntityID: entityID,
		Op:       op,
		At:       time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event payload: %w", err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Validate checks the event is well-formed enough to apply.
func (ev *ChangeEvent) Validate() error {
	if ev.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if !ev.Entity.IsValid() {
		return fmt.Errorf("unknown entity kind %q", ev.Entity)
	}
	if ev.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if !ev.Op.IsValid() {
		return fmt.Errorf("unknown op %q", ev.Op)
	}
	if ev.Op != OpDelete && len(ev.Payload) == 0 {
		return fmt.Errorf("%s event for %s/%s has no payload", ev.Op, ev.Entity, ev.EntityID)
	}
	return nil
}

// NewOrigin returns a fresh instance identifier for this process.
func NewOrigin() string {
	return "plantsync-" + uuid.NewString()[:8]
}
