package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plantops/plantsync/internal/schema"
)

// UpsertEquipment inserts or updates an equipment record.
func (s *Store) UpsertEquipment(ctx context.Context, eq *schema.Equipment) error {
	if err := eq.Validate(); err != nil {
		return fmt.Errorf("invalid equipment: %w", err)
	}

	query := `
	INSERT INTO equipments (
		id, name, description, parent_id, type, system_code,
		location, manufacturer, serial_number, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		parent_id = excluded.parent_id,
		type = excluded.type,
		system_code = excluded.system_code,
		location = excluded.location,
		manufacturer = excluded.manufacturer,
		serial_number = excluded.serial_number,
		status = excluded.status,
		updated_at = excluded.updated_at
	`

	createdAt := eq.CreatedAt
	if createdAt.IsZero() {
		createdAt = eq.UpdatedAt
	}

	_, err := s.conn.ExecContext(ctx, query,
		eq.ID, eq.Name, eq.Description, eq.ParentID, eq.Type, eq.SystemCode,
		eq.Location, eq.Manufacturer, eq.SerialNumber, eq.Status,
		createdAt.Format(time.RFC3339Nano), eq.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert equipment %s: %w", eq.ID, err)
	}
	return nil
}

// GetEquipment retrieves one equipment record by ID.
// Returns sql.ErrNoRows if absent.
func (s *Store) GetEquipment(ctx context.Context, id string) (*schema.Equipment, error) {
	query := `
	SELECT id, name, description, parent_id, type, system_code,
	       location, manufacturer, serial_number, status, created_at, updated_at
	FROM equipments WHERE id = ?
	`

	var eq schema.Equipment
	var desc, parent, typ, sysCode, loc, mfr, serial, status sql.NullString
	var createdAt, updatedAt string

	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&eq.ID, &eq.Name, &desc, &parent, &typ, &sysCode,
		&loc, &mfr, &serial, &status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	eq.Description = desc.String
	eq.ParentID = parent.String
	eq.Type = typ.String
	eq.SystemCode = sysCode.String
	eq.Location = loc.String
	eq.Manufacturer = mfr.String
	eq.SerialNumber = serial.String
	eq.Status = status.String
	eq.CreatedAt = parseTime(createdAt)
	eq.UpdatedAt = parseTime(updatedAt)
	return &eq, nil
}

// ListEquipments returns all equipment ordered by ID.
func (s *Store) ListEquipments(ctx context.Context) ([]*schema.Equipment, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, name, description, parent_id, type, system_code,
	       location, manufacturer, serial_number, status, created_at, updated_at
	FROM equipments ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipments: %w", err)
	}
	defer rows.Close()

	var out []*schema.Equipment
	for rows.Next() {
		var eq schema.Equipment
		var desc, parent, typ, sysCode, loc, mfr, serial, status sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(
			&eq.ID, &eq.Name, &desc, &parent, &typ, &sysCode,
			&loc, &mfr, &serial, &status, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan equipment: %w", err)
		}
		eq.Description = desc.String
		eq.ParentID = parent.String
		eq.Type = typ.String
		eq.SystemCode = sysCode.String
		eq.Location = loc.String
		eq.Manufacturer = mfr.String
		eq.SerialNumber = serial.String
		eq.Status = status.String
		eq.CreatedAt = parseTime(createdAt)
		eq.UpdatedAt = parseTime(updatedAt)
		out = append(out, &eq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equipments: %w", err)
	}
	return out, nil
}

// DeleteEquipment removes an equipment record. Idempotent.
func (s *Store) DeleteEquipment(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM equipments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete equipment %s: %w", id, err)
	}
	return nil
}

// ReplaceComponents swaps the entire components table for the given
// dataset. Components are bundled master data, imported wholesale.
func (s *Store) ReplaceComponents(ctx context.Context, comps []*schema.Component) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM components`); err != nil {
		return fmt.Errorf("failed to clear components: %w", err)
	}

	for _, c := range comps {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid component: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO components (id, name, kind, description, equipment_id)
		VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Kind, c.Description, c.EquipmentID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert component %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit components: %w", err)
	}
	return nil
}

// ListComponents returns components, optionally filtered by equipment.
func (s *Store) ListComponents(ctx context.Context, equipmentID string) ([]*schema.Component, error) {
	query := `SELECT id, name, kind, description, equipment_id FROM components`
	var args []any
	if equipmentID != "" {
		query += ` WHERE equipment_id = ?`
		args = append(args, equipmentID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	var out []*schema.Component
	for rows.Next() {
		var c schema.Component
		var kind, desc, eqID sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &kind, &desc, &eqID); err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		c.Kind = kind.String
		c.Description = desc.String
		c.EquipmentID = eqID.String
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}
	return out, nil
}

// UpsertAlarm inserts or updates an alarm definition.
func (s *Store) UpsertAlarm(ctx context.Context, a *schema.Alarm) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid alarm: %w", err)
	}

	query := `
	INSERT INTO alarms (code, severity, description, parameter, reset_procedure, equipment_id, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(code) DO UPDATE SET
		severity = excluded.severity,
		description = excluded.description,
		parameter = excluded.parameter,
		reset_procedure = excluded.reset_procedure,
		equipment_id = excluded.equipment_id,
		updated_at = excluded.updated_at
	`
	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx, query,
		a.Code, a.Severity, a.Description, a.Parameter, a.ResetProcedure,
		a.EquipmentID, updatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alarm %s: %w", a.Code, err)
	}
	return nil
}

// GetAlarm retrieves one alarm by code. Returns sql.ErrNoRows if absent.
func (s *Store) GetAlarm(ctx context.Context, code string) (*schema.Alarm, error) {
	var a schema.Alarm
	var param, reset sql.NullString
	var updatedAt string
	err := s.conn.QueryRowContext(ctx, `
	SELECT code, severity, description, parameter, reset_procedure, equipment_id, updated_at
	FROM alarms WHERE code = ?`, code).Scan(
		&a.Code, &a.Severity, &a.Description, &param, &reset, &a.EquipmentID, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Parameter = param.String
	a.ResetProcedure = reset.String
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// DeleteAlarm removes an alarm definition. Idempotent.
func (s *Store) DeleteAlarm(ctx context.Context, code string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM alarms WHERE code = ?`, code); err != nil {
		return fmt.Errorf("failed to delete alarm %s: %w", code, err)
	}
	return nil
}

// UpsertProcedure inserts or updates a maintenance procedure. Steps
// are stored as a JSON array; order is significant.
func (s *Store) UpsertProcedure(ctx context.Context, p *schema.Procedure) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid procedure: %w", err)
	}

	steps, err := marshalSteps(p.Steps)
	if err != nil {
		return err
	}

	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO procedures (id, title, equipment_id, steps, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		equipment_id = excluded.equipment_id,
		steps = excluded.steps,
		updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query,
		p.ID, p.Title, p.EquipmentID, steps, updatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to upsert procedure %s: %w", p.ID, err)
	}
	return nil
}

// GetProcedure retrieves one procedure by ID. Returns sql.ErrNoRows if absent.
func (s *Store) GetProcedure(ctx context.Context, id string) (*schema.Procedure, error) {
	var p schema.Procedure
	var eqID sql.NullString
	var steps, updatedAt string
	err := s.conn.QueryRowContext(ctx, `
	SELECT id, title, equipment_id, steps, updated_at
	FROM procedures WHERE id = ?`, id).Scan(&p.ID, &p.Title, &eqID, &steps, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.EquipmentID = eqID.String
	p.UpdatedAt = parseTime(updatedAt)
	if p.Steps, err = unmarshalSteps(steps); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProcedure removes a procedure. Idempotent.
func (s *Store) DeleteProcedure(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM procedures WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete procedure %s: %w", id, err)
	}
	return nil
}

// AppendLogEntry inserts a logbook entry. Duplicate IDs are ignored so
// a redelivered broadcast cannot double-append.
func (s *Store) AppendLogEntry(ctx context.Context, l *schema.LogEntry) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid log entry: %w", err)
	}

	query := `
	INSERT INTO log_entries (id, timestamp, type, source, message, equipment_id)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`
	if _, err := s.conn.ExecContext(ctx, query,
		l.ID, l.Timestamp.Format(time.RFC3339Nano), l.Type, l.Source, l.Message, l.EquipmentID,
	); err != nil {
		return fmt.Errorf("failed to append log entry %s: %w", l.ID, err)
	}
	return nil
}

// ListLogEntries returns logbook entries for an equipment (or all when
// equipmentID is empty), oldest first.
func (s *Store) ListLogEntries(ctx context.Context, equipmentID string) ([]*schema.LogEntry, error) {
	query := `SELECT id, timestamp, type, source, message, equipment_id FROM log_entries`
	var args []any
	if equipmentID != "" {
		query += ` WHERE equipment_id = ?`
		args = append(args, equipmentID)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var out []*schema.LogEntry
	for rows.Next() {
		var l schema.LogEntry
		var ts string
		var eqID sql.NullString
		if err := rows.Scan(&l.ID, &ts, &l.Type, &l.Source, &l.Message, &eqID); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		l.Timestamp = parseTime(ts)
		l.EquipmentID = eqID.String
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}
	return out, nil
}

// ApplyChange applies one ChangeEvent to the store. Create and update
// both upsert (last write wins); delete is idempotent. The payload is
// decoded according to the event's entity kind.
//
// Returns sql.ErrNoRows wrapped when a delete targets a kind that
// cannot be deleted; payload decode failures surface as plain errors
// for the caller to classify.
func (s *Store) ApplyChange(ctx context.Context, ev *schema.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid change event: %w", err)
	}

	switch ev.Entity {
	case schema.KindEquipment:
		if ev.Op == schema.OpDelete {
			return s.DeleteEquipment(ctx, ev.EntityID)
		}
		var eq schema.Equipment
		if err := json.Unmarshal(ev.Payload, &eq); err != nil {
			return fmt.Errorf("failed to decode equipment payload: %w", err)
		}
		return s.UpsertEquipment(ctx, &eq)

	case schema.KindAlarm:
		if ev.Op == schema.OpDelete {
			return s.DeleteAlarm(ctx, ev.EntityID)
		}
		var a schema.Alarm
		if err := json.Unmarshal(ev.Payload, &a); err != nil {
			return fmt.Errorf("failed to decode alarm payload: %w", err)
		}
		return s.UpsertAlarm(ctx, &a)

	case schema.KindProcedure:
		if ev.Op == schema.OpDelete {
			return s.DeleteProcedure(ctx, ev.EntityID)
		}
		var p schema.Procedure
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode procedure payload: %w", err)
		}
		return s.UpsertProcedure(ctx, &p)

	case schema.KindLogEntry:
		if ev.Op == schema.OpDelete {
			return fmt.Errorf("log entries are append-only")
		}
		var l schema.LogEntry
		if err := json.Unmarshal(ev.Payload, &l); err != nil {
			return fmt.Errorf("failed to decode log entry payload: %w", err)
		}
		return s.AppendLogEntry(ctx, &l)

	case schema.KindComponent:
		return fmt.Errorf("components are read-only master data")

	default:
		return fmt.Errorf("unknown entity kind %q", ev.Entity)
	}
}
