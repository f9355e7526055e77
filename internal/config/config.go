// Package config loads run settings for the simulator binaries. Settings
// come, in increasing priority, from built-in defaults, an optional config
// file, RANSIM_* environment variables and explicit overrides (command-line
// flags).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/cellular-simulator/model"
	"github.com/signalsfoundry/cellular-simulator/timectrl"
)

// EnvPrefix is prepended to every environment variable, so "seed" is read
// from RANSIM_SEED.
const EnvPrefix = "RANSIM"

// Setting keys.
const (
	KeyScenario     = "scenario"
	KeyChannelModel = "channel_model"
	KeySeed         = "seed"
	KeyDuration     = "duration"
	KeyClass        = "class"
	KeyCondition    = "condition"
	KeyClockMode    = "clock_mode"
	KeyTick         = "tick"
	KeyMetricsAddr  = "metrics_addr"
	KeyGRPCAddr     = "grpc_addr"
	KeyLogLevel     = "log_level"
	KeyLogFormat    = "log_format"
	KeyPrintTrace   = "print_trace"
)

// ErrInvalidSetting wraps every malformed run setting.
var ErrInvalidSetting = errors.New("invalid run setting")

// RunConfig is the resolved set of run settings. Zero values of the
// scenario overrides (Seed, Duration, Class, Condition) leave the scenario
// document untouched.
type RunConfig struct {
	ScenarioPath string
	ChannelModel string

	Seed      uint64
	Duration  time.Duration
	Class     string
	Condition string

	ClockMode timectrl.Mode
	Tick      time.Duration

	MetricsAddr string
	GRPCAddr    string
	LogLevel    string
	LogFormat   string
	PrintTrace  bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyScenario, "configs/packet5g-3nodes.yaml")
	v.SetDefault(KeyChannelModel, "3gpp")
	v.SetDefault(KeySeed, 0)
	v.SetDefault(KeyDuration, time.Duration(0))
	v.SetDefault(KeyClass, "")
	v.SetDefault(KeyCondition, "")
	v.SetDefault(KeyClockMode, "accelerated")
	v.SetDefault(KeyTick, 10*time.Millisecond)
	v.SetDefault(KeyMetricsAddr, ":9090")
	v.SetDefault(KeyGRPCAddr, ":50051")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyPrintTrace, true)
}

// Load resolves a RunConfig. file may be empty; when set it must exist.
// overrides take precedence over everything else and are keyed by the
// Key* constants.
func Load(file string, overrides map[string]any) (RunConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return RunConfig{}, fmt.Errorf("read config %q: %w", file, err)
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	mode, err := ParseClockMode(v.GetString(KeyClockMode))
	if err != nil {
		return RunConfig{}, err
	}
	cfg := RunConfig{
		ScenarioPath: v.GetString(KeyScenario),
		ChannelModel: v.GetString(KeyChannelModel),
		Seed:         v.GetUint64(KeySeed),
		Duration:     v.GetDuration(KeyDuration),
		Class:        v.GetString(KeyClass),
		Condition:    v.GetString(KeyCondition),
		ClockMode:    mode,
		Tick:         v.GetDuration(KeyTick),
		MetricsAddr:  v.GetString(KeyMetricsAddr),
		GRPCAddr:     v.GetString(KeyGRPCAddr),
		LogLevel:     v.GetString(KeyLogLevel),
		LogFormat:    v.GetString(KeyLogFormat),
		PrintTrace:   v.GetBool(KeyPrintTrace),
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Validate checks settings that do not need the scenario document.
func (c RunConfig) Validate() error {
	if c.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative, got %s", ErrInvalidSetting, c.Duration)
	}
	if c.ClockMode == timectrl.RealTime && c.Tick <= 0 {
		return fmt.Errorf("%w: realtime mode needs a positive tick, got %s", ErrInvalidSetting, c.Tick)
	}
	return nil
}

// ParseClockMode accepts "accelerated" (or "fast") and "realtime" (or
// "real-time"), case-insensitively.
func ParseClockMode(s string) (timectrl.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "accelerated", "fast":
		return timectrl.Accelerated, nil
	case "realtime", "real-time":
		return timectrl.RealTime, nil
	default:
		return 0, fmt.Errorf("%w: unknown clock mode %q", ErrInvalidSetting, s)
	}
}

// Apply writes the non-zero scenario overrides into sc.
func (c RunConfig) Apply(sc *model.Scenario) error {
	if c.Seed != 0 {
		sc.Config.Seed = c.Seed
	}
	if c.Duration > 0 {
		sc.Config.Duration = c.Duration
	}
	if c.Class != "" {
		class, err := model.ParseScenarioClass(c.Class)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSetting, err)
		}
		sc.Config.Class = class
	}
	if c.Condition != "" {
		policy, err := model.ParseConditionPolicy(c.Condition)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSetting, err)
		}
		sc.Config.ConditionPolicy = policy
	}
	return nil
}
