// Package schema defines the domain records plantsync keeps consistent
// across instances, and the change events broadcast between them.
//
// The shapes mirror the embedded database tables one to one. Fields are
// flat with last-write-wins semantics: each record carries its own
// updated_at, which is all the merge policy this layer promises.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Severity levels accepted for alarms, in increasing order of urgency.
const (
	SeverityInfo      = "INFO"
	SeverityWarning   = "WARNING"
	SeverityCritical  = "CRITICAL"
	SeverityEmergency = "EMERGENCY"
)

// Equipment is a physical asset under maintenance. Identity is the
// stable external ID assigned at provisioning time.
type Equipment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ParentID     string `json:"parent_id,omitempty"`
	Type         string `json:"type,omitempty"`
	SystemCode   string `json:"system_code,omitempty"`
	Location     string `json:"location,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Status       string `json:"status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the Equipment has valid field values.
func (e *Equipment) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(e.Name) > 500 {
		return fmt.Errorf("name must be 500 characters or less (got %d)", len(e.Name))
	}
	if e.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Component is a sub-part of at most one Equipment, referenced by ID.
// Components come from the bundled master dataset and are read-only at
// runtime; they are imported, never mutated through the gateway.
type Component struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind,omitempty"`
	Description string `json:"description,omitempty"`

	// EquipmentID is a weak reference: lookup only, never ownership.
	// Empty when the component is not attached to any equipment.
	EquipmentID string `json:"equipment_id,omitempty"`
}

// Validate checks that the Component has valid field values.
func (c *Component) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Alarm is an event definition tied to an Equipment. Alarm records are
// append-mostly: new codes arrive, existing ones rarely change.
type Alarm struct {
	Code           string `json:"code"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Parameter      string `json:"parameter,omitempty"`
	ResetProcedure string `json:"reset_procedure,omitempty"`
	EquipmentID    string `json:"equipment_id"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the Alarm has valid field values.
func (a *Alarm) Validate() error {
	if a.Code == "" {
		return fmt.Errorf("code is required")
	}
	if a.EquipmentID == "" {
		return fmt.Errorf("equipment_id is required")
	}
	switch a.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical, SeverityEmergency:
	default:
		return fmt.Errorf("invalid severity %q", a.Severity)
	}
	if a.Description == "" {
		return fmt.Errorf("description is required")
	}
	return nil
}

// Procedure is a maintenance procedure with an ordered step sequence.
type Procedure struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	EquipmentID string   `json:"equipment_id,omitempty"`
	Steps       []string `json:"steps"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the Procedure has valid field values.
func (p *Procedure) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("step %d is empty", i+1)
		}
	}
	return nil
}

// Log entry types.
const (
	LogTypeAuto   = "AUTO"
	LogTypeManual = "MANUAL"
)

// LogEntry is one line of the operator logbook. Entries are append-only.
type LogEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Source      string    `json:"source"`
	Message     string    `json:"message"`
	EquipmentID string    `json:"equipment_id,omitempty"`
}

// Validate checks that the LogEntry has valid field values.
func (l *LogEntry) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("id is required")
	}
	if l.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if l.Type != LogTypeAuto && l.Type != LogTypeManual {
		return fmt.Errorf("invalid log entry type %q", l.Type)
	}
	if l.Source == "" {
		return fmt.Errorf("source is required")
	}
	if l.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// ReadEquipmentFile reads and parses one equipment JSON file from the
// master-data drop directory.
func ReadEquipmentFile(path string) (*Equipment, error) {
	var eq Equipment
	if err := readJSONFile(path, &eq); err != nil {
		return nil, err
	}
	if err := eq.Validate(); err != nil {
		return nil, fmt.Errorf("invalid equipment in %s: %w", path, err)
	}
	return &eq, nil
}

// ReadComponentsFile reads the bundled components dataset, a single
// JSON array covering the whole plant.
func ReadComponentsFile(path string) ([]*Component, error) {
	var comps []*Component
	if err := readJSONFile(path, &comps); err != nil {
		return nil, err
	}
	for _, c := range comps {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid component in %s: %w", path, err)
		}
	}
	return comps, nil
}

// ReadAlarmsFile reads an alarm-definitions JSON array.
func ReadAlarmsFile(path string) ([]*Alarm, error) {
	var alarms []*Alarm
	if err := readJSONFile(path, &alarms); err != nil {
		return nil, err
	}
	for _, a := range alarms {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("invalid alarm in %s: %w", path, err)
		}
	}
	return alarms, nil
}

// ReadProceduresFile reads a procedures JSON array.
func ReadProceduresFile(path string) ([]*Procedure, error) {
	var procs []*Procedure
	if err := readJSONFile(path, &procs); err != nil {
		return nil, err
	}
	for _, p := range procs {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid procedure in %s: %w", path, err)
		}
	}
	return procs, nil
}

// MasterDataKind classifies a master-data file by its name prefix:
// equipment-*.json, components.json, alarms-*.json, procedures-*.json.
// Returns the matching entity kind or KindUnknown.
func MasterDataKind(path string) Kind {
	name := filepath.Base(path)
	switch {
	case strings.HasPrefix(name, "equipment"):
		return KindEquipment
	case strings.HasPrefix(name, "components"):
		return KindComponent
	case strings.HasPrefix(name, "alarms"):
		return KindAlarm
	case strings.HasPrefix(name, "procedures"):
		return KindProcedure
	default:
		return KindUnknown
	}
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
