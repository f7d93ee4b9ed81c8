package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vinayprograms/tagwatch/bus"
	"github.com/vinayprograms/tagwatch/config"
	"github.com/vinayprograms/tagwatch/service"
	"github.com/vinayprograms/tagwatch/telemetry"
)

const testConfig = `
[[entities]]
id = "P1"
kind = "PROCESS"
alive_interval = "5s"
comm_fault_tag = "P1.fault"
state_tag = "P1.state"

[[tags]]
id = "P1.fault"

[[tags]]
id = "P1.state"

[[tags]]
id = "T1"
process_ids = ["P1"]
`

// --- Unit Tests ---

func TestCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagwatch.toml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check", "--config", path})
	t.Cleanup(func() { configPath = "" })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out.String(), "1 entities, 3 tags") {
		t.Errorf("output = %q", out.String())
	}
}

func TestPlainTags(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	if err != nil {
		t.Fatal(err)
	}
	got := plainTags(cfg)
	if len(got) != 1 || got[0] != "T1" {
		t.Errorf("plainTags = %v", got)
	}
}

func TestOpenBusMemory(t *testing.T) {
	b, err := openBus(config.BusConfig{Kind: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if _, ok := b.(*bus.MemoryBus); !ok {
		t.Errorf("bus = %T, want *bus.MemoryBus", b)
	}
}

func TestOpsRouter(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	if err != nil {
		t.Fatal(err)
	}
	metrics := telemetry.NewMetrics()
	svc, err := service.New(service.Options{
		Scanner: cfg.Scanner.HeartbeatConfig(),
		Metrics: metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Configure(cfg); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(opsRouter(svc, metrics))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status   string `json:"status"`
		Entities int    `json:"entities"`
		Tags     int    `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Entities != 1 || body.Tags != 3 {
		t.Errorf("healthz = %+v", body)
	}

	mresp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	mresp.Body.Close()
	if mresp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", mresp.StatusCode)
	}
}
