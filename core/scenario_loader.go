package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/cellular-simulator/model"
)

// Format is the encoding of a scenario document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrUnknownFormat indicates a scenario document encoding that is not supported.
var ErrUnknownFormat = errors.New("unknown scenario format")

// FormatFromPath picks the format from a file extension, defaulting to YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Internal document shapes: unexported so the file format can evolve
// independently of model.Scenario.
type scenarioDoc struct {
	Scenario      scenarioConfigDoc `json:"scenario" yaml:"scenario"`
	Buildings     []buildingDoc     `json:"buildings" yaml:"buildings"`
	BaseStations  []model.NodeSpec  `json:"base_stations" yaml:"base_stations"`
	Terminals     []model.NodeSpec  `json:"terminals" yaml:"terminals"`
	Flows         []flowDoc         `json:"flows" yaml:"flows"`
	Reattachments []durationValue   `json:"reattachments" yaml:"reattachments"`
}

// Pointer fields distinguish "absent, use the default" from an explicit zero.
type scenarioConfigDoc struct {
	Class            string         `json:"class" yaml:"class"`
	FrequencyHz      *float64       `json:"frequency_hz" yaml:"frequency_hz"`
	BandwidthHz      *float64       `json:"bandwidth_hz" yaml:"bandwidth_hz"`
	Condition        string         `json:"condition" yaml:"condition"`
	Blockage         *bool          `json:"blockage" yaml:"blockage"`
	BlockageLossDB   *float64       `json:"blockage_loss_db" yaml:"blockage_loss_db"`
	TxPowerDBm       *float64       `json:"tx_power_dbm" yaml:"tx_power_dbm"`
	NoiseFigureDB    *float64       `json:"noise_figure_db" yaml:"noise_figure_db"`
	Seed             *uint64        `json:"seed" yaml:"seed"`
	Duration         *durationValue `json:"duration" yaml:"duration"`
	MobilityTick     *durationValue `json:"mobility_tick" yaml:"mobility_tick"`
	ReattachInterval *durationValue `json:"reattach_interval" yaml:"reattach_interval"`
}

type buildingDoc struct {
	ID     string  `json:"id" yaml:"id"`
	XMin   float64 `json:"x_min" yaml:"x_min"`
	XMax   float64 `json:"x_max" yaml:"x_max"`
	YMin   float64 `json:"y_min" yaml:"y_min"`
	YMax   float64 `json:"y_max" yaml:"y_max"`
	Height float64 `json:"height" yaml:"height"`
}

type flowDoc struct {
	ID          model.FlowID  `json:"id" yaml:"id"`
	Source      model.NodeID  `json:"source" yaml:"source"`
	Destination model.NodeID  `json:"destination" yaml:"destination"`
	Interval    durationValue `json:"interval" yaml:"interval"`
	PacketSize  int           `json:"packet_size" yaml:"packet_size"`
	Packets     int           `json:"packets" yaml:"packets"`
	Start       durationValue `json:"start" yaml:"start"`
	Stop        durationValue `json:"stop" yaml:"stop"`
	Retry       bool          `json:"retry_while_unattached" yaml:"retry_while_unattached"`
}

// durationValue accepts Go duration strings ("400ms", "1s") or bare
// numbers of seconds.
type durationValue time.Duration

func parseDurationValue(s string) (durationValue, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return durationValue(time.Duration(secs * float64(time.Second))), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return durationValue(d), nil
}

func (d *durationValue) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDurationValue(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = parsed
	return nil
}

func (d *durationValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = durationValue(time.Duration(v * float64(time.Second)))
		return nil
	case string:
		parsed, err := parseDurationValue(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
}

// LoadScenarioFile reads a scenario document from disk, choosing the
// format from the file extension.
func LoadScenarioFile(path string) (model.Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Scenario{}, fmt.Errorf("LoadScenario: %w", err)
	}
	defer f.Close()
	return LoadScenario(f, FormatFromPath(path))
}

// LoadScenario decodes a scenario document. Unknown fields, unknown
// scenario classes and unknown condition policies are errors; absent
// settings take the values of model.DefaultScenarioConfig. The result is
// validated before it is returned.
func LoadScenario(r io.Reader, format Format) (model.Scenario, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return model.Scenario{}, fmt.Errorf("LoadScenario: read failed: %w", err)
	}

	var doc scenarioDoc
	switch format {
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return model.Scenario{}, fmt.Errorf("LoadScenario: decode failed: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return model.Scenario{}, fmt.Errorf("LoadScenario: decode failed: %w", err)
		}
	default:
		return model.Scenario{}, fmt.Errorf("LoadScenario: %w %q", ErrUnknownFormat, format)
	}

	sc, err := doc.toScenario()
	if err != nil {
		return model.Scenario{}, fmt.Errorf("LoadScenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return model.Scenario{}, fmt.Errorf("LoadScenario: %w", err)
	}
	return sc, nil
}

func (doc scenarioDoc) toScenario() (model.Scenario, error) {
	cfg, err := doc.Scenario.toConfig()
	if err != nil {
		return model.Scenario{}, err
	}
	for _, b := range doc.Buildings {
		cfg.Buildings = append(cfg.Buildings, model.Building{
			ID:        b.ID,
			Footprint: orb.Bound{Min: orb.Point{b.XMin, b.YMin}, Max: orb.Point{b.XMax, b.YMax}},
			Height:    b.Height,
		})
	}

	sc := model.Scenario{
		Config:       cfg,
		BaseStations: doc.BaseStations,
		Terminals:    doc.Terminals,
	}
	for _, f := range doc.Flows {
		sc.Flows = append(sc.Flows, model.Flow{
			ID:                   f.ID,
			SourceID:             f.Source,
			DestinationID:        f.Destination,
			Interval:             time.Duration(f.Interval),
			PacketSize:           f.PacketSize,
			MaxPackets:           f.Packets,
			Start:                time.Duration(f.Start),
			Stop:                 time.Duration(f.Stop),
			RetryWhileUnattached: f.Retry,
		})
	}
	for _, at := range doc.Reattachments {
		sc.Reattachments = append(sc.Reattachments, time.Duration(at))
	}
	return sc, nil
}

func (d scenarioConfigDoc) toConfig() (model.ScenarioConfig, error) {
	cfg := model.DefaultScenarioConfig()

	if d.Class != "" {
		class, err := model.ParseScenarioClass(d.Class)
		if err != nil {
			return cfg, fmt.Errorf("%w: %w", model.ErrInvalidConfig, err)
		}
		cfg.Class = class
	}
	if d.Condition != "" {
		policy, err := model.ParseConditionPolicy(d.Condition)
		if err != nil {
			return cfg, fmt.Errorf("%w: %w", model.ErrInvalidConfig, err)
		}
		cfg.ConditionPolicy = policy
	}

	setFloat(&cfg.FrequencyHz, d.FrequencyHz)
	setFloat(&cfg.BandwidthHz, d.BandwidthHz)
	setFloat(&cfg.BlockageLossDB, d.BlockageLossDB)
	setFloat(&cfg.TxPowerDBm, d.TxPowerDBm)
	setFloat(&cfg.NoiseFigureDB, d.NoiseFigureDB)
	if d.Blockage != nil {
		cfg.BlockageEnabled = *d.Blockage
	}
	if d.Seed != nil {
		cfg.Seed = *d.Seed
	}
	setDuration(&cfg.Duration, d.Duration)
	setDuration(&cfg.MobilityTick, d.MobilityTick)
	setDuration(&cfg.ReattachInterval, d.ReattachInterval)
	return cfg, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *durationValue) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}
