package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Escalation.FailThreshold != 2 || cfg.Escalation.DeescalatePasses != 3 {
		t.Fatalf("unexpected escalation defaults: %+v", cfg.Escalation)
	}
	if cfg.Reports.LookbackDays != 30 || cfg.Reports.SectionRowCap != 40 {
		t.Fatalf("unexpected report defaults: %+v", cfg.Reports)
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("venue:\n  name: Corner Cafe\nescalation:\n  floor_minutes: 15\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Venue.Name != "Corner Cafe" {
		t.Fatalf("venue name: %q", cfg.Venue.Name)
	}
	if cfg.Escalation.FloorMinutes != 15 {
		t.Fatalf("floor minutes: %d", cfg.Escalation.FloorMinutes)
	}
	if cfg.Escalation.FailThreshold != 2 {
		t.Fatalf("fail threshold should keep default, got %d", cfg.Escalation.FailThreshold)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	if _, err := FromYAML([]byte("venue:\n  name: \"\"\n")); err == nil || !strings.Contains(err.Error(), "venue.name") {
		t.Fatalf("expected venue.name error, got %v", err)
	}
	if _, err := FromYAML([]byte("reports:\n  lookback_days: -1\n")); err == nil || !strings.Contains(err.Error(), "lookback_days") {
		t.Fatalf("expected lookback_days error, got %v", err)
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	workspace := t.TempDir()
	cfg, err := Load(workspace)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Venue.Name != "My Venue" {
		t.Fatalf("expected defaults, got %+v", cfg.Venue)
	}

	custom := "venue:\n  name: Test Kitchen\n"
	if err := os.WriteFile(filepath.Join(workspace, "checkline.yml"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = Load(workspace)
	if err != nil {
		t.Fatalf("load with file: %v", err)
	}
	if cfg.Venue.Name != "Test Kitchen" {
		t.Fatalf("venue name: %q", cfg.Venue.Name)
	}
}
