// Package config loads the supervisor configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/tagwatch/entity"
	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/heartbeat"
	"github.com/vinayprograms/tagwatch/tag"
)

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full supervisor configuration.
type Config struct {
	Scanner   ScannerConfig   `toml:"scanner"`
	Bus       BusConfig       `toml:"bus"`
	Publish   PublishConfig   `toml:"publish"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`
	Entities  []EntityConfig  `toml:"entities"`
	Tags      []TagConfig     `toml:"tags"`
}

// ScannerConfig configures heartbeat expiry scanning.
type ScannerConfig struct {
	Period         Duration `toml:"period"`
	InitialDelay   Duration `toml:"initial_delay"`
	AlertThreshold int      `toml:"alert_threshold"`
	ClearCycles    int      `toml:"clear_cycles"`
}

// BusConfig selects the message bus.
type BusConfig struct {
	// Kind is "memory" or "nats".
	Kind  string `toml:"kind"`
	URL   string `toml:"url"`
	Name  string `toml:"name"`
	Token string `toml:"token"`
}

// PublishConfig enables snapshot publication targets. Empty fields
// disable the target.
type PublishConfig struct {
	Bus           bool   `toml:"bus"`
	KVBucket      string `toml:"kv_bucket"`
	WebSocketAddr string `toml:"websocket_addr"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// TelemetryConfig configures OTLP trace export. Empty Endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
	Insecure    bool   `toml:"insecure"`
}

// LogConfig sets the minimum log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// EntityConfig declares a supervised entity.
type EntityConfig struct {
	ID            string   `toml:"id"`
	Kind          string   `toml:"kind"`
	Parent        string   `toml:"parent"`
	AliveInterval Duration `toml:"alive_interval"`
	CommFaultTag  string   `toml:"comm_fault_tag"`
	StateTag      string   `toml:"state_tag"`
}

// TagConfig declares a tag and its supervising ancestors.
type TagConfig struct {
	ID              string            `toml:"id"`
	Name            string            `toml:"name"`
	Topic           string            `toml:"topic"`
	Unit            string            `toml:"unit"`
	Mode            string            `toml:"mode"`
	Rule            string            `toml:"rule"`
	Alarms          []string          `toml:"alarms"`
	Metadata        map[string]string `toml:"metadata"`
	ProcessIDs      []string          `toml:"process_ids"`
	EquipmentIDs    []string          `toml:"equipment_ids"`
	SubEquipmentIDs []string          `toml:"subequipment_ids"`
}

// Default returns a configuration with every section at its default.
func Default() *Config {
	return &Config{
		Scanner: ScannerConfig{
			Period:       Duration{10 * time.Second},
			InitialDelay: Duration{30 * time.Second},
			ClearCycles:  3,
		},
		Bus: BusConfig{
			Kind: "memory",
			Name: "tagwatchd",
		},
		Publish: PublishConfig{Bus: true},
		Telemetry: TelemetryConfig{
			ServiceName: "tagwatchd",
		},
		Log: LogConfig{Level: "INFO"},
	}
}

// HeartbeatConfig converts the scanner section. The registry and the
// ambient collaborators are left for the caller to set.
func (c ScannerConfig) HeartbeatConfig() heartbeat.ScannerConfig {
	return heartbeat.ScannerConfig{
		Period:         c.Period.Duration,
		InitialDelay:   c.InitialDelay.Duration,
		AlertThreshold: c.AlertThreshold,
		ClearCycles:    c.ClearCycles,
	}
}

// StandardPaths returns the locations searched by Load, in order.
func StandardPaths() []string {
	paths := []string{"tagwatch.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tagwatch", "tagwatch.toml"))
	}
	return append(paths, "/etc/tagwatch/tagwatch.toml")
}

// Load reads the first configuration file found in StandardPaths. It
// returns the path used.
func Load() (*Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := LoadFile(path)
		return cfg, path, err
	}
	return nil, "", errors.NotFound("no configuration file found in " + strings.Join(StandardPaths(), ", "))
}

// LoadFile reads and validates a configuration file. Environment overrides
// are applied before validation.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates TOML configuration. Unset fields keep their
// defaults; unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parsing configuration")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.InvalidInput("unknown configuration keys: " + strings.Join(keys, ", "))
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides connection settings from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("TAGWATCH_BUS_URL"); v != "" {
		c.Bus.URL = v
	}
	if v := os.Getenv("TAGWATCH_BUS_TOKEN"); v != "" {
		c.Bus.Token = v
	}
	if v := os.Getenv("TAGWATCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks internal consistency: intervals are positive, kinds are
// known, parents exist at the right level, every referenced tag is
// declared and every tag ancestor exists with the right kind.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, errors.InvalidInput(fmt.Sprintf(format, args...)))
	}

	if c.Scanner.Period.Duration <= 0 {
		bad("scanner.period must be positive")
	}
	if c.Scanner.InitialDelay.Duration < 0 {
		bad("scanner.initial_delay must not be negative")
	}
	if c.Scanner.AlertThreshold < 0 || c.Scanner.ClearCycles < 0 {
		bad("scanner.alert_threshold and scanner.clear_cycles must not be negative")
	}
	switch c.Bus.Kind {
	case "memory", "nats":
	default:
		bad("bus.kind %q must be memory or nats", c.Bus.Kind)
	}

	tags := make(map[string]bool, len(c.Tags))
	for _, t := range c.Tags {
		if t.ID == "" {
			bad("tag without id")
			continue
		}
		if tags[t.ID] {
			bad("tag %s declared twice", t.ID)
		}
		tags[t.ID] = true
		switch tag.Mode(strings.ToUpper(t.Mode)) {
		case "", tag.ModeOperational, tag.ModeTest, tag.ModeMaintenance:
		default:
			bad("tag %s: unknown mode %q", t.ID, t.Mode)
		}
	}

	kinds := make(map[string]entity.Kind, len(c.Entities))
	for _, e := range c.Entities {
		if e.ID == "" {
			bad("entity without id")
			continue
		}
		if _, dup := kinds[e.ID]; dup {
			bad("entity %s declared twice", e.ID)
		}
		kind, err := entity.ParseKind(e.Kind)
		if err != nil {
			bad("entity %s: %v", e.ID, err)
		}
		kinds[e.ID] = kind
		if e.AliveInterval.Duration <= 0 {
			bad("entity %s: alive_interval must be positive", e.ID)
		}
		for _, ref := range []string{e.CommFaultTag, e.StateTag} {
			if ref != "" && !tags[ref] {
				bad("entity %s references undeclared tag %s", e.ID, ref)
			}
		}
	}

	for _, e := range c.Entities {
		kind := kinds[e.ID]
		want, hasParent := kind.ParentKind()
		switch {
		case !hasParent && e.Parent != "":
			bad("entity %s: processes have no parent", e.ID)
		case hasParent && e.Parent == "":
			bad("entity %s: %s needs a parent", e.ID, kind)
		case hasParent && kinds[e.Parent] != want:
			bad("entity %s: parent %s is not a declared %s", e.ID, e.Parent, want)
		}
	}

	for _, t := range c.Tags {
		for kind, ids := range map[entity.Kind][]string{
			entity.KindProcess:      t.ProcessIDs,
			entity.KindEquipment:    t.EquipmentIDs,
			entity.KindSubEquipment: t.SubEquipmentIDs,
		} {
			for _, id := range ids {
				if kinds[id] != kind {
					bad("tag %s: ancestor %s is not a declared %s", t.ID, id, kind)
				}
			}
		}
	}

	return errors.Join(errs...)
}

// EntityList converts the entity declarations.
func (c *Config) EntityList() []entity.Entity {
	out := make([]entity.Entity, 0, len(c.Entities))
	for _, e := range c.Entities {
		kind, _ := entity.ParseKind(e.Kind)
		out = append(out, entity.Entity{
			ID:             e.ID,
			Kind:           kind,
			ParentID:       e.Parent,
			AliveInterval:  e.AliveInterval.Duration,
			CommFaultTagID: e.CommFaultTag,
			StateTagID:     e.StateTag,
		})
	}
	return out
}

// TagList converts the tag declarations.
func (c *Config) TagList() []tag.Config {
	out := make([]tag.Config, 0, len(c.Tags))
	for _, t := range c.Tags {
		out = append(out, tag.Config{
			ID:              t.ID,
			Name:            t.Name,
			Topic:           t.Topic,
			Unit:            t.Unit,
			Mode:            tag.Mode(strings.ToUpper(t.Mode)),
			Alarms:          t.Alarms,
			Metadata:        t.Metadata,
			RuleExpression:  t.Rule,
			ProcessIDs:      t.ProcessIDs,
			EquipmentIDs:    t.EquipmentIDs,
			SubEquipmentIDs: t.SubEquipmentIDs,
		})
	}
	return out
}
