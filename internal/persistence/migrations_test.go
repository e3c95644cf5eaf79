package persistence

import (
	"strings"
	"testing"
)

func TestMigrationNamesAreEmbeddedInOrder(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("MigrationNames: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("expected 001_init.sql first, got %v", names)
	}
}

func TestInitMigrationDeclaresLiveUniqueness(t *testing.T) {
	content, err := migrationFiles.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(content)
	for _, want := range []string{
		"reservations_live_slot_uidx",
		"reservations_live_participant_uidx",
		"events_idempotency_key_uidx",
		"events_append_only",
		"handoff_tickets_source_key_uidx",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("migration missing %s", want)
		}
	}
}

func TestSequencingMigrationSplitsInsertAndLogOrder(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("MigrationNames: %v", err)
	}
	if len(names) < 2 || names[1] != "002_event_sequencing.sql" {
		t.Fatalf("expected 002_event_sequencing.sql second, got %v", names)
	}
	content, err := migrationFiles.ReadFile("migrations/002_event_sequencing.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(content)
	for _, want := range []string{
		"RENAME COLUMN seq TO append_id",
		"events_seq_uidx",
		"events_unsequenced_idx",
		"OLD.seq IS NULL",
		"CREATE TABLE IF NOT EXISTS worker_cursors",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("migration missing %q", want)
		}
	}
}
