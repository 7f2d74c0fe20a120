package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/john/beeprint/printer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beeprint.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
device:
  port: /dev/ttyACM1
  backend: tarm
session:
  settle_interval: 3s
heating:
  timeout: 90s
  tolerance: 1
print:
  strategies: [select-m33, start]
  probe_rounds: 2
history:
  data_dir: /var/lib/beeprint
`)
	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Device.Port != "/dev/ttyACM1" || cfg.Device.Backend != "tarm" {
		t.Errorf("device = %+v", cfg.Device)
	}
	// Untouched keys keep their defaults.
	if cfg.Device.Baud != 115200 || cfg.Monitor.MaxUnknown != 3 {
		t.Errorf("defaults lost: %+v %+v", cfg.Device, cfg.Monitor)
	}

	sc := cfg.SessionConfig()
	if sc.SettleInterval != 3*time.Second || sc.Heat.Tolerance != 1 || sc.Sequencer.ProbeRounds != 2 {
		t.Errorf("session config = %+v", sc)
	}
	if len(sc.Sequencer.Strategies) != 2 || sc.Sequencer.Strategies[0].Name != printer.StrategySelectM33.Name {
		t.Errorf("strategies = %v", sc.Sequencer.Strategies)
	}

	req := cfg.PrintRequest("x.gcode")
	if req.HeatTimeout != 90*time.Second || req.NamePolicy != printer.NameFixed || req.FixedName != "ABCDE" {
		t.Errorf("request = %+v", req)
	}
	if !filepath.IsAbs(cfg.Files.GCodeDir) || cfg.History.DataDir != "/var/lib/beeprint" {
		t.Errorf("files = %+v history = %+v", cfg.Files, cfg.History)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.yaml")
	if _, err := LoadConfig(missing, false); err != nil {
		t.Errorf("implicit missing config: %v", err)
	}
	if _, err := LoadConfig(missing, true); err == nil {
		t.Error("explicit missing config must fail")
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"backend":  "device:\n  backend: usbfs\n",
		"policy":   "transfer:\n  name_policy: random\n",
		"strategy": "print:\n  strategies: [start, warp]\n",
		"empty":    "print:\n  strategies: []\n",
		"yaml":     "device: [\n",
		"duration": "session:\n  settle_interval: soon\n",
	}
	for name, body := range tests {
		if _, err := LoadConfig(writeConfig(t, body), true); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDefaultConfigMatchesLibraryDefaults(t *testing.T) {
	cfg := DefaultConfig()
	want := printer.DefaultSessionConfig()
	got := cfg.SessionConfig()
	if got.SettleInterval != want.SettleInterval || got.Sequencer.ProbeInterval != want.Sequencer.ProbeInterval {
		t.Errorf("got %+v", got)
	}
	if strings.Join(cfg.Print.Strategies, ",") != "start,select-start,reinit-start" {
		t.Errorf("strategies = %v", cfg.Print.Strategies)
	}
}
