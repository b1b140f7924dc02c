package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"event_reminder_bot/internal/domain/reminder"
)

func TestParseOffsetsSpec(t *testing.T) {
	spec := "24h:T-24h:Event starts in 1 day|15m:T-15m:Event starts in 15 minutes|-15m:T+15m:Event started 15 minutes ago"

	offsets, err := ParseOffsetsSpec(spec)
	if err != nil {
		t.Fatalf("ParseOffsetsSpec: %v", err)
	}
	if len(offsets) != 3 {
		t.Fatalf("parsed %d offsets, want 3", len(offsets))
	}
	if offsets[0].Before != 24*time.Hour || offsets[0].Kind != "T-24h" {
		t.Errorf("offsets[0] = %+v", offsets[0])
	}
	if offsets[2].Before != -15*time.Minute {
		t.Errorf("negative offset parsed as %v", offsets[2].Before)
	}
	if offsets[1].Template != "Event starts in 15 minutes" {
		t.Errorf("template = %q", offsets[1].Template)
	}
}

func TestParseOffsetsSpecKeepsColonsInTemplate(t *testing.T) {
	offsets, err := ParseOffsetsSpec("1h:T-1h:Starting at 18:00 sharp")
	if err != nil {
		t.Fatalf("ParseOffsetsSpec: %v", err)
	}
	if offsets[0].Template != "Starting at 18:00 sharp" {
		t.Errorf("template = %q, colons after the kind must survive", offsets[0].Template)
	}
}

func TestParseOffsetsSpecRejectsMalformedSegments(t *testing.T) {
	for _, spec := range []string{"24h", "24h:T-24h", "banana:T-1h:text"} {
		if _, err := ParseOffsetsSpec(spec); err == nil {
			t.Errorf("spec %q: expected an error", spec)
		}
	}
}

func TestLoadOffsetsFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.yaml")
	content := `offsets:
  - before: 24h
    kind: T-24h
    template: Event starts in 1 day
  - before: -15m
    kind: T+15m
    template: Event started 15 minutes ago
    grace: 10m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write offsets file: %v", err)
	}

	offsets, err := loadOffsets("", path)
	if err != nil {
		t.Fatalf("loadOffsets: %v", err)
	}
	if len(offsets) != 2 {
		t.Fatalf("parsed %d offsets, want 2", len(offsets))
	}
	if offsets[1].Before != -15*time.Minute || offsets[1].Kind != "T+15m" {
		t.Errorf("offsets[1] = %+v", offsets[1])
	}
	if offsets[1].Grace != 10*time.Minute {
		t.Errorf("per-kind grace = %v, want 10m", offsets[1].Grace)
	}
	if offsets[0].Grace != 0 {
		t.Errorf("omitted grace = %v, want 0 (engine default)", offsets[0].Grace)
	}
}

func TestLoadOffsetsPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.yaml")
	if err := os.WriteFile(path, []byte("offsets:\n  - before: 1h\n    kind: T-1h\n    template: one hour\n"), 0o600); err != nil {
		t.Fatalf("write offsets file: %v", err)
	}

	// File wins over the env spec.
	offsets, err := loadOffsets("24h:T-24h:one day", path)
	if err != nil {
		t.Fatalf("loadOffsets: %v", err)
	}
	if len(offsets) != 1 || offsets[0].Kind != "T-1h" {
		t.Errorf("file did not take precedence: %+v", offsets)
	}

	// Env spec wins over the defaults.
	offsets, err = loadOffsets("24h:T-24h:one day", "")
	if err != nil {
		t.Fatalf("loadOffsets: %v", err)
	}
	if len(offsets) != 1 || offsets[0].Kind != "T-24h" {
		t.Errorf("env spec did not take precedence: %+v", offsets)
	}

	// Neither set: built-in ladder.
	offsets, err = loadOffsets("", "")
	if err != nil {
		t.Fatalf("loadOffsets: %v", err)
	}
	if len(offsets) != len(reminder.DefaultOffsets()) {
		t.Errorf("defaults not used: %d offsets", len(offsets))
	}
}
