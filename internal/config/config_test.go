package config_test

import (
	"testing"
	"time"

	"crewboard/internal/config"
	"crewboard/internal/domain"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default("m")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Rejection.EscalationThreshold != 2 {
		t.Fatalf("expected threshold 2, got %d", cfg.Rejection.EscalationThreshold)
	}
	if !cfg.ItemTypeKnown("feature") || cfg.ItemTypeKnown("banana") {
		t.Fatal("item type lookup broken")
	}
}

func TestFromYAML(t *testing.T) {
	raw := []byte(`
mission:
  name: orion
item_types: [feature, bug]
wip_limits:
  in-build: 2
rejection:
  escalation_threshold: 3
`)
	cfg, err := config.FromYAML(raw)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mission.Name != "orion" || cfg.Rejection.EscalationThreshold != 3 {
		t.Fatalf("parse lost fields: %+v", cfg)
	}
	limits := cfg.StageWIPLimits()
	if limit := limits[domain.StageInBuild]; limit == nil || *limit != 2 {
		t.Fatalf("wip limit not converted: %v", limits)
	}
}

func TestValidateRejectsUnknownStage(t *testing.T) {
	one := 1
	cfg := config.Default("m")
	cfg.WIPLimits = map[string]*int{"warp-drive": &one}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown stage error")
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := config.Default("m")
	cfg.Rejection.EscalationThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected threshold error")
	}
}

func TestValidateRejectsNegativeLimit(t *testing.T) {
	neg := -1
	cfg := config.Default("m")
	cfg.WIPLimits = map[string]*int{"review": &neg}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected negative limit error")
	}
}

func TestWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default("orion")
	if err := cfg.Write(dir); err != nil {
		t.Fatal(err)
	}
	loaded, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Mission.Name != "orion" {
		t.Fatalf("round trip lost mission name: %+v", loaded)
	}
}

func TestLoadOptionalDefaults(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.ItemTypes) == 0 {
		t.Fatal("expected defaults when no config file exists")
	}
}

func TestLockDurations(t *testing.T) {
	cfg := config.Default("m")
	if cfg.LockTimeout() != 10*time.Second || cfg.LockInitialDelay() != 25*time.Millisecond {
		t.Fatalf("unexpected lock durations: %v %v", cfg.LockTimeout(), cfg.LockInitialDelay())
	}
}
