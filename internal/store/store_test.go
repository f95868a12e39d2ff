package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/plantops/plantsync/internal/schema"
)

// testStorePath returns a temporary path for test databases.
func testStorePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), FileName)
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testStorePath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEquipment(id string) *schema.Equipment {
	now := time.Now().UTC()
	return &schema.Equipment{
		ID:        id,
		Name:      "Feedwater pump " + id,
		Type:      "pump",
		Status:    "running",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := testStore(t)

	tables := []string{"equipments", "components", "alarms", "procedures", "log_entries"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := s.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := testStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	ctx := context.Background()
	if err := s.UpsertEquipment(ctx, testEquipment("TG1")); err != nil {
		t.Fatalf("UpsertEquipment() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	eq, err := s2.GetEquipment(ctx, "TG1")
	if err != nil {
		t.Fatalf("GetEquipment() after reopen failed: %v", err)
	}
	if eq.Name != "Feedwater pump TG1" {
		t.Errorf("name = %q, want %q", eq.Name, "Feedwater pump TG1")
	}
}

func TestEquipmentRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := testEquipment("TG1-PUMP-01")
	in.Location = "Turbine hall"
	in.SerialNumber = "SN-0042"

	if err := s.UpsertEquipment(ctx, in); err != nil {
		t.Fatalf("UpsertEquipment() failed: %v", err)
	}

	out, err := s.GetEquipment(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetEquipment() failed: %v", err)
	}
	if out.Name != in.Name || out.Location != in.Location || out.SerialNumber != in.SerialNumber {
		t.Errorf("round trip mismatch: got %+v", out)
	}

	// Update wins over the previous row.
	in.Status = "maintenance"
	in.UpdatedAt = time.Now().UTC()
	if err := s.UpsertEquipment(ctx, in); err != nil {
		t.Fatalf("UpsertEquipment() update failed: %v", err)
	}
	out, err = s.GetEquipment(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetEquipment() failed: %v", err)
	}
	if out.Status != "maintenance" {
		t.Errorf("status = %q, want maintenance", out.Status)
	}
}

func TestDeleteEquipment_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertEquipment(ctx, testEquipment("TG2")); err != nil {
		t.Fatalf("UpsertEquipment() failed: %v", err)
	}
	if err := s.DeleteEquipment(ctx, "TG2"); err != nil {
		t.Fatalf("DeleteEquipment() failed: %v", err)
	}
	if err := s.DeleteEquipment(ctx, "TG2"); err != nil {
		t.Fatalf("second DeleteEquipment() failed: %v", err)
	}
	if _, err := s.GetEquipment(ctx, "TG2"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetEquipment() after delete = %v, want sql.ErrNoRows", err)
	}
}

func TestReplaceComponents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := []*schema.Component{
		{ID: "C1", Name: "Valve V-101", EquipmentID: "TG1"},
		{ID: "C2", Name: "Gauge G-07"},
	}
	if err := s.ReplaceComponents(ctx, first); err != nil {
		t.Fatalf("ReplaceComponents() failed: %v", err)
	}

	second := []*schema.Component{
		{ID: "C3", Name: "Valve V-102", EquipmentID: "TG1"},
	}
	if err := s.ReplaceComponents(ctx, second); err != nil {
		t.Fatalf("second ReplaceComponents() failed: %v", err)
	}

	all, err := s.ListComponents(ctx, "")
	if err != nil {
		t.Fatalf("ListComponents() failed: %v", err)
	}
	if len(all) != 1 || all[0].ID != "C3" {
		t.Errorf("components = %+v, want only C3", all)
	}
}

func TestProcedureStepsOrdered(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	steps := []string{"Isolate pump", "Drain sample", "Record level", "Restore"}
	p := &schema.Procedure{ID: "PROC-7", Title: "Lube oil check", Steps: steps, UpdatedAt: time.Now()}
	if err := s.UpsertProcedure(ctx, p); err != nil {
		t.Fatalf("UpsertProcedure() failed: %v", err)
	}

	got, err := s.GetProcedure(ctx, "PROC-7")
	if err != nil {
		t.Fatalf("GetProcedure() failed: %v", err)
	}
	if len(got.Steps) != len(steps) {
		t.Fatalf("steps length = %d, want %d", len(got.Steps), len(steps))
	}
	for i := range steps {
		if got.Steps[i] != steps[i] {
			t.Errorf("step %d = %q, want %q", i, got.Steps[i], steps[i])
		}
	}
}

func TestAppendLogEntry_DuplicateIgnored(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	l := &schema.LogEntry{
		ID:        "LOG-1",
		Timestamp: time.Now().UTC(),
		Type:      schema.LogTypeManual,
		Source:    "operator",
		Message:   "Oil level checked",
	}
	if err := s.AppendLogEntry(ctx, l); err != nil {
		t.Fatalf("AppendLogEntry() failed: %v", err)
	}
	if err := s.AppendLogEntry(ctx, l); err != nil {
		t.Fatalf("duplicate AppendLogEntry() failed: %v", err)
	}

	entries, err := s.ListLogEntries(ctx, "")
	if err != nil {
		t.Fatalf("ListLogEntries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestApplyChange_EquipmentLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	eq := testEquipment("TG3")
	ev, err := schema.NewChangeEvent("origin-a", schema.KindEquipment, eq.ID, schema.OpCreate, eq)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyChange(ctx, ev); err != nil {
		t.Fatalf("ApplyChange(create) failed: %v", err)
	}

	got, err := s.GetEquipment(ctx, "TG3")
	if err != nil {
		t.Fatalf("GetEquipment() failed: %v", err)
	}
	if got.Name != eq.Name {
		t.Errorf("name = %q, want %q", got.Name, eq.Name)
	}

	del, err := schema.NewChangeEvent("origin-a", schema.KindEquipment, eq.ID, schema.OpDelete, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyChange(ctx, del); err != nil {
		t.Fatalf("ApplyChange(delete) failed: %v", err)
	}
	if _, err := s.GetEquipment(ctx, "TG3"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("equipment still present after delete: %v", err)
	}
}

func TestApplyChange_ComponentRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := &schema.Component{ID: "C9", Name: "Valve"}
	ev, err := schema.NewChangeEvent("origin-a", schema.KindComponent, c.ID, schema.OpUpdate, c)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyChange(ctx, ev); err == nil {
		t.Error("ApplyChange() accepted a component mutation")
	}
}

func TestCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertEquipment(ctx, testEquipment("TG1")); err != nil {
		t.Fatal(err)
	}
	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	if counts["equipments"] != 1 {
		t.Errorf("equipments count = %d, want 1", counts["equipments"])
	}
	if counts["alarms"] != 0 {
		t.Errorf("alarms count = %d, want 0", counts["alarms"])
	}
}
