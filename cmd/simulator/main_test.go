package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/cellular-simulator/internal/config"
)

const testScenario = `
scenario:
  condition: l
  duration: 1s
base_stations:
  - {id: 1, x: 0, y: 0}
  - {id: 2, x: 0, y: 10}
terminals:
  - {id: 3, x: 90, y: 15}
flows:
  - {id: 1, source: 1, destination: 3, interval: 1ms, packet_size: 1500, packets: 10, start: 400ms, stop: 1s}
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunPrintsTrace(t *testing.T) {
	o, err := parseFlags([]string{"-scenario", writeScenario(t, testScenario), "-log-level", "error"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	var out bytes.Buffer
	if err := run(context.Background(), o, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if lines[0] != "Time\tIMSI\tCellId\tRNTI\tSize" {
		t.Fatalf("header = %q", lines[0])
	}
	var records []string
	for _, l := range lines[1:] {
		if !strings.HasPrefix(l, "#") {
			records = append(records, l)
		}
	}
	if len(records) != 10 {
		t.Fatalf("trace lines = %d, want 10:\n%s", len(records), out.String())
	}
	if records[0] != "0.400000\t3\t2\t1\t1500" || records[9] != "0.409000\t3\t2\t1\t1500" {
		t.Fatalf("first/last trace lines = %q / %q", records[0], records[9])
	}
	if !strings.Contains(out.String(), "# flow 1: tx=10 rx=10 rx_bytes=15000") {
		t.Fatalf("summary missing flow line:\n%s", out.String())
	}
}

func TestRunWithoutTrace(t *testing.T) {
	o, err := parseFlags([]string{"-scenario", writeScenario(t, testScenario), "-trace=false", "-log-level", "error"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	var out bytes.Buffer
	if err := run(context.Background(), o, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(out.String(), "Time\tIMSI") {
		t.Fatalf("trace header printed with -trace=false")
	}
}

func TestParseFlagsOnlyVisitedOverride(t *testing.T) {
	o, err := parseFlags([]string{"-seed", "7", "-duration", "2s"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if got := o.overrides[config.KeySeed]; got != uint64(7) {
		t.Fatalf("seed override = %v (%T), want 7", got, got)
	}
	if got := o.overrides[config.KeyDuration]; got != 2*time.Second {
		t.Fatalf("duration override = %v, want 2s", got)
	}
	if _, ok := o.overrides[config.KeyClass]; ok {
		t.Fatalf("unset -class produced an override")
	}
}

func TestRunRejectsUnknownClass(t *testing.T) {
	o, err := parseFlags([]string{"-scenario", writeScenario(t, testScenario), "-class", "Lunar", "-log-level", "error"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	err = run(context.Background(), o, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "Lunar") {
		t.Fatalf("run err = %v, want unknown class error naming Lunar", err)
	}
}

func TestBuildChannelModelTransceiver(t *testing.T) {
	catalogue := filepath.Join(t.TempDir(), "trx.json")
	if err := os.WriteFile(catalogue, []byte(`[{"id": "panel", "gain_tx_dbi": 20}]`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := buildChannelModel("free-space", catalogue, "panel"); err != nil {
		t.Fatalf("buildChannelModel(free-space): %v", err)
	}
	if _, err := buildChannelModel("3gpp", catalogue, "panel"); err == nil {
		t.Fatalf("expected error applying a transceiver to the 3gpp model")
	}
	if _, err := buildChannelModel("free-space", catalogue, "dish"); err == nil {
		t.Fatalf("expected error for unknown transceiver id")
	}
}
