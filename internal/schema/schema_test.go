package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEquipmentValidate(t *testing.T) {
	eq := &Equipment{
		ID:        "TG1-PUMP-01",
		Name:      "Feedwater pump",
		Status:    "running",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := eq.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	bad := &Equipment{Name: "no id", UpdatedAt: time.Now()}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted equipment without ID")
	}
}

func TestAlarmValidate_Severity(t *testing.T) {
	a := &Alarm{
		Code:        "TG1-AL-042",
		Severity:    "CRITICAL",
		Description: "Lube oil pressure low",
		EquipmentID: "TG1-PUMP-01",
		UpdatedAt:   time.Now(),
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	a.Severity = "PANIC"
	if err := a.Validate(); err == nil {
		t.Error("Validate() accepted unknown severity")
	}
}

func TestProcedureValidate_Steps(t *testing.T) {
	p := &Procedure{
		ID:        "PROC-7",
		Title:     "Monthly lube oil check",
		Steps:     []string{"Isolate pump", "Drain sample", "Record level"},
		UpdatedAt: time.Now(),
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	p.Steps = []string{"Isolate pump", "  "}
	if err := p.Validate(); err == nil {
		t.Error("Validate() accepted blank step")
	}

	p.Steps = nil
	if err := p.Validate(); err == nil {
		t.Error("Validate() accepted empty step list")
	}
}

func TestReadEquipmentFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "equipment-TG1.json")

	eq := &Equipment{
		ID:        "TG1",
		Name:      "Gas turbine 1",
		Status:    "running",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(eq)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadEquipmentFile(path)
	if err != nil {
		t.Fatalf("ReadEquipmentFile() failed: %v", err)
	}
	if got.ID != "TG1" || got.Name != "Gas turbine 1" {
		t.Errorf("got %+v, want id=TG1 name=Gas turbine 1", got)
	}
}

func TestReadEquipmentFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "equipment-bad.json")
	if err := os.WriteFile(path, []byte(`{"name":"missing id"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadEquipmentFile(path); err == nil {
		t.Error("ReadEquipmentFile() accepted invalid record")
	}
}

func TestMasterDataKind(t *testing.T) {
	cases := map[string]Kind{
		"/data/equipment-TG1.json": KindEquipment,
		"/data/components.json":    KindComponent,
		"/data/alarms-B0.json":     KindAlarm,
		"/data/procedures.json":    KindProcedure,
		"/data/readme.txt":         KindUnknown,
	}
	for path, want := range cases {
		if got := MasterDataKind(path); got != want {
			t.Errorf("MasterDataKind(%s) = %q, want %q", path, got, want)
		}
	}
}

func TestNewChangeEvent(t *testing.T) {
	eq := &Equipment{ID: "TG1", Name: "Gas turbine 1", UpdatedAt: time.Now()}
	ev, err := NewChangeEvent("plantsync-abc123", KindEquipment, eq.ID, OpCreate, eq)
	if err != nil {
		t.Fatalf("NewChangeEvent() failed: %v", err)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if ev.EventID == "" {
		t.Error("event ID not assigned")
	}

	var decoded Equipment
	if err := json.Unmarshal(ev.Payload, &decoded); err != nil {
		t.Fatalf("payload does not round-trip: %v", err)
	}
	if decoded.ID != "TG1" {
		t.Errorf("payload id = %q, want TG1", decoded.ID)
	}
}

func TestChangeEventValidate(t *testing.T) {
	ev := &ChangeEvent{
		EventID:  "ev-1",
		Entity:   KindEquipment,
		EntityID: "TG1",
		Op:       OpDelete,
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("Validate() failed for delete without payload: %v", err)
	}

	ev.Op = OpUpdate
	if err := ev.Validate(); err == nil {
		t.Error("Validate() accepted update without payload")
	}

	ev.Op = "truncate"
	if err := ev.Validate(); err == nil {
		t.Error("Validate() accepted unknown op")
	}

	ev.Op = OpDelete
	ev.Entity = "widget"
	if err := ev.Validate(); err == nil {
		t.Error("Validate() accepted unknown entity kind")
	}
}
