package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/tag"
)

const sample = `
[scanner]
period = "5s"
initial_delay = "1m"
alert_threshold = 2

[bus]
kind = "nats"
url = "nats://localhost:4222"

[publish]
kv_bucket = "tag-snapshots"

[log]
level = "debug"

[[entities]]
id = "P1"
kind = "process"
alive_interval = "10s"
comm_fault_tag = "P1.fault"
state_tag = "P1.state"

[[entities]]
id = "E1"
kind = "equipment"
parent = "P1"
alive_interval = "3s"

[[tags]]
id = "P1.fault"

[[tags]]
id = "P1.state"

[[tags]]
id = "T1"
name = "temperature"
unit = "C"
mode = "test"
process_ids = ["P1"]
equipment_ids = ["E1"]
`

// --- Unit Tests ---

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scanner.Period.Duration != 5*time.Second {
		t.Errorf("period = %v", cfg.Scanner.Period)
	}
	if cfg.Scanner.InitialDelay.Duration != time.Minute {
		t.Errorf("initial delay = %v", cfg.Scanner.InitialDelay)
	}
	if cfg.Scanner.ClearCycles != 3 {
		t.Errorf("clear cycles default lost: %d", cfg.Scanner.ClearCycles)
	}
	if cfg.Bus.Kind != "nats" || cfg.Bus.Name != "tagwatchd" {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if !cfg.Publish.Bus {
		t.Error("bus publishing default lost")
	}
	if len(cfg.Entities) != 2 || len(cfg.Tags) != 3 {
		t.Fatalf("entities=%d tags=%d", len(cfg.Entities), len(cfg.Tags))
	}
}

func TestEntityList(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ents := cfg.EntityList()
	want := entity.Entity{
		ID:             "P1",
		Kind:           entity.KindProcess,
		AliveInterval:  10 * time.Second,
		CommFaultTagID: "P1.fault",
		StateTagID:     "P1.state",
	}
	if ents[0] != want {
		t.Errorf("entity = %+v, want %+v", ents[0], want)
	}
	if ents[1].Kind != entity.KindEquipment || ents[1].ParentID != "P1" {
		t.Errorf("equipment = %+v", ents[1])
	}
}

func TestTagList(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tags := cfg.TagList()
	got := tags[2]
	if got.ID != "T1" || got.Unit != "C" || got.Mode != tag.ModeTest {
		t.Errorf("tag = %+v", got)
	}
	if len(got.ProcessIDs) != 1 || got.EquipmentIDs[0] != "E1" {
		t.Errorf("ancestors = %v %v", got.ProcessIDs, got.EquipmentIDs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{"zero period", func(c *Config) { c.Scanner.Period.Duration = 0 }, "scanner.period"},
		{"bad bus", func(c *Config) { c.Bus.Kind = "kafka" }, "bus.kind"},
		{"bad kind", func(c *Config) {
			c.Entities = append(c.Entities, EntityConfig{ID: "X", Kind: "robot", AliveInterval: Duration{time.Second}})
		}, "unknown entity kind"},
		{"zero interval", func(c *Config) { c.Entities[0].AliveInterval.Duration = 0 }, "alive_interval"},
		{"missing parent", func(c *Config) { c.Entities[1].Parent = "P9" }, "not a declared PROCESS"},
		{"process with parent", func(c *Config) { c.Entities[0].Parent = "E1" }, "no parent"},
		{"undeclared tag", func(c *Config) { c.Entities[0].StateTag = "nope" }, "undeclared tag nope"},
		{"wrong ancestor kind", func(c *Config) { c.Tags[2].ProcessIDs = []string{"E1"} }, "ancestor E1"},
		{"duplicate tag", func(c *Config) { c.Tags = append(c.Tags, TagConfig{ID: "T1"}) }, "declared twice"},
		{"bad mode", func(c *Config) { c.Tags[2].Mode = "live" }, "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(sample))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.edit(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Errorf("error code = %v", errors.Code(err))
			}
		})
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("[scanner]\nperiod = \"1s\"\nfrequency = 3\n"))
	if err == nil || !strings.Contains(err.Error(), "scanner.frequency") {
		t.Errorf("err = %v", err)
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse([]byte("[scanner\n"))
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v", err)
	}
}

func TestParseBadDuration(t *testing.T) {
	_, err := Parse([]byte("[scanner]\nperiod = \"soon\"\n"))
	if err == nil {
		t.Error("expected error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TAGWATCH_BUS_URL", "nats://override:4222")
	t.Setenv("TAGWATCH_LOG_LEVEL", "WARN")
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Bus.URL != "nats://override:4222" || cfg.Log.Level != "WARN" {
		t.Errorf("bus=%q level=%q", cfg.Bus.URL, cfg.Log.Level)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagwatch.toml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(cfg.Entities) != 2 {
		t.Errorf("entities = %d", len(cfg.Entities))
	}

	missing := filepath.Join(t.TempDir(), "missing.toml")
	if _, err := LoadFile(missing); err == nil || !strings.Contains(err.Error(), "reading "+missing) {
		t.Errorf("LoadFile(missing) error = %v, want it to name the path", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestStandardPaths(t *testing.T) {
	paths := StandardPaths()
	if paths[0] != "tagwatch.toml" || paths[len(paths)-1] != "/etc/tagwatch/tagwatch.toml" {
		t.Errorf("paths = %v", paths)
	}
}

func TestHeartbeatConfig(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	hc := cfg.Scanner.HeartbeatConfig()
	if hc.Period != 5*time.Second || hc.InitialDelay != time.Minute || hc.AlertThreshold != 2 || hc.ClearCycles != 3 {
		t.Errorf("heartbeat config = %+v", hc)
	}
}
