package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const validYAML = `
data:
  events:
    - testdata/day1.csv.gz
    - testdata/day2.csv.gz
  snapshot: testdata/snapshot.csv
engine:
  tick_size: "0.1"
  lot_size: "0.001"
  maker_fee: "-0.00005"
  taker_fee: "0.0007"
  asset_type: linear
  fill_policy: touch
  queue_ratio: "1"
latency:
  model: constant
  entry_us: 100
  response_us: 50
strategy:
  name: market_maker
  half_spread: "0.05"
  order_qty: "1"
  max_position: "20"
  skew: "0.01"
  interval_us: 100000
recorder:
  path: runs.db
logging:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Data.Events) != 2 {
		t.Errorf("events = %v", cfg.Data.Events)
	}
	if !cfg.Engine.TickSize.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("tick_size = %s", cfg.Engine.TickSize)
	}
	if !cfg.Engine.MakerFee.IsNegative() {
		t.Errorf("maker rebate lost: %s", cfg.Engine.MakerFee)
	}
	if cfg.Latency.EntryUS != 100 || cfg.Latency.ResponseUS != 50 {
		t.Errorf("latency = %+v", cfg.Latency)
	}
	if cfg.Strategy.Name != "market_maker" {
		t.Errorf("strategy = %q", cfg.Strategy.Name)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HFTBT_LOG_LEVEL", "error")
	t.Setenv("HFTBT_RECORDER_PATH", "/tmp/override.db")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("level = %q, want env override", cfg.Logging.Level)
	}
	if cfg.Recorder.Path != "/tmp/override.db" {
		t.Errorf("recorder path = %q, want env override", cfg.Recorder.Path)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "no data source",
			mutate:  func(s string) string { return strings.Replace(s, "data:", "ignored:", 1) },
			wantErr: "data.events or data.sqlite",
		},
		{
			name:    "zero tick size",
			mutate:  func(s string) string { return strings.Replace(s, `tick_size: "0.1"`, `tick_size: "0"`, 1) },
			wantErr: "tick_size",
		},
		{
			name:    "bad asset type",
			mutate:  func(s string) string { return strings.Replace(s, "asset_type: linear", "asset_type: spot", 1) },
			wantErr: "asset_type",
		},
		{
			name:    "bad fill policy",
			mutate:  func(s string) string { return strings.Replace(s, "fill_policy: touch", "fill_policy: optimistic", 1) },
			wantErr: "fill_policy",
		},
		{
			name:    "queue ratio above one",
			mutate:  func(s string) string { return strings.Replace(s, `queue_ratio: "1"`, `queue_ratio: "1.5"`, 1) },
			wantErr: "queue_ratio",
		},
		{
			name:    "bad latency model",
			mutate:  func(s string) string { return strings.Replace(s, "model: constant", "model: gaussian", 1) },
			wantErr: "latency.model",
		},
		{
			name:    "zero strategy interval",
			mutate:  func(s string) string { return strings.Replace(s, "interval_us: 100000", "interval_us: 0", 1) },
			wantErr: "interval_us",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, c.mutate(validYAML)))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Errorf("error %q does not mention %q", err, c.wantErr)
			}
		})
	}
}

func TestFeedLatencyModel(t *testing.T) {
	body := strings.Replace(validYAML, "model: constant", "model: feed\n  multiplier: \"4\"\n  floor_us: 20", 1)
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Latency.Model != "feed" || cfg.Latency.FloorUS != 20 {
		t.Errorf("latency = %+v", cfg.Latency)
	}
}
