package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/cellular-simulator/model"
	"github.com/signalsfoundry/cellular-simulator/timectrl"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChannelModel != "3gpp" || cfg.ClockMode != timectrl.Accelerated || cfg.Tick != 10*time.Millisecond {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Seed != 0 || cfg.Duration != 0 || cfg.Class != "" {
		t.Fatalf("scenario overrides should default to zero, got %+v", cfg)
	}
	if !cfg.PrintTrace {
		t.Fatalf("PrintTrace default = false, want true")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	body := "seed: 5\nduration: 3s\nclock_mode: realtime\ntick: 20ms\nclass: UMa\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("RANSIM_SEED", "11")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Seed != 11 {
		t.Fatalf("Seed = %d, want 11 from env", cfg.Seed)
	}
	if cfg.Duration != 3*time.Second || cfg.ClockMode != timectrl.RealTime || cfg.Tick != 20*time.Millisecond || cfg.Class != "UMa" {
		t.Fatalf("file settings not applied: %+v", cfg)
	}
}

func TestLoadOverridesWin(t *testing.T) {
	t.Setenv("RANSIM_CHANNEL_MODEL", "free-space")
	cfg, err := Load("", map[string]any{KeyChannelModel: "3gpp", KeySeed: uint64(99)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChannelModel != "3gpp" || cfg.Seed != 99 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing config file")
	}
	if _, err := Load("", map[string]any{KeyClockMode: "warp"}); !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("unknown clock mode err = %v, want ErrInvalidSetting", err)
	}
	if _, err := Load("", map[string]any{KeyClockMode: "realtime", KeyTick: "0s"}); !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("zero realtime tick err = %v, want ErrInvalidSetting", err)
	}
}

func TestApply(t *testing.T) {
	sc := model.Scenario{Config: model.DefaultScenarioConfig()}
	cfg := RunConfig{Seed: 3, Duration: 5 * time.Second, Class: "rma", Condition: "n"}
	if err := cfg.Apply(&sc); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := sc.Config
	if got.Seed != 3 || got.Duration != 5*time.Second || got.Class != model.ScenarioRMa || got.ConditionPolicy != model.ConditionAlwaysNLOS {
		t.Fatalf("Apply result = %+v", got)
	}

	untouched := model.Scenario{Config: model.DefaultScenarioConfig()}
	if err := (RunConfig{}).Apply(&untouched); err != nil {
		t.Fatalf("Apply(zero): %v", err)
	}
	if untouched.Config.Seed != model.DefaultScenarioConfig().Seed {
		t.Fatalf("zero RunConfig changed the seed")
	}

	if err := (RunConfig{Class: "Mars"}).Apply(&untouched); !errors.Is(err, model.ErrUnknownScenario) {
		t.Fatalf("Apply(bad class) err = %v, want ErrUnknownScenario", err)
	}
}

func TestParseClockMode(t *testing.T) {
	cases := map[string]timectrl.Mode{
		"":          timectrl.Accelerated,
		"FAST":      timectrl.Accelerated,
		"real-time": timectrl.RealTime,
	}
	for in, want := range cases {
		got, err := ParseClockMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseClockMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestLoadLogSettingsFromEnv(t *testing.T) {
	t.Setenv("RANSIM_LOG_LEVEL", "debug")
	t.Setenv("RANSIM_LOG_FORMAT", "json")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Fatalf("log settings = %q/%q, want debug/json", cfg.LogLevel, cfg.LogFormat)
	}
}
