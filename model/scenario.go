package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

var (
	// ErrInvalidConfig is wrapped by every ScenarioConfig / Scenario validation failure.
	ErrInvalidConfig = errors.New("invalid scenario configuration")
	// ErrUnknownScenario indicates an unsupported scenario class name.
	ErrUnknownScenario = errors.New("unknown scenario class")
	// ErrUnknownConditionPolicy indicates an unsupported channel-condition policy name.
	ErrUnknownConditionPolicy = errors.New("unknown channel condition policy")
)

// ScenarioClass selects the propagation environment.
type ScenarioClass int

const (
	ScenarioRMa ScenarioClass = iota
	ScenarioUMa
	ScenarioUMiStreetCanyon
	ScenarioInHOfficeMixed
	ScenarioInHOfficeOpen
	ScenarioUMiBuildings
)

var scenarioNames = map[ScenarioClass]string{
	ScenarioRMa:             "RMa",
	ScenarioUMa:             "UMa",
	ScenarioUMiStreetCanyon: "UMi-StreetCanyon",
	ScenarioInHOfficeMixed:  "InH-OfficeMixed",
	ScenarioInHOfficeOpen:   "InH-OfficeOpen",
	ScenarioUMiBuildings:    "UMi-Buildings",
}

// ScenarioClasses lists every supported class in declaration order.
func ScenarioClasses() []ScenarioClass {
	return []ScenarioClass{
		ScenarioRMa,
		ScenarioUMa,
		ScenarioUMiStreetCanyon,
		ScenarioInHOfficeMixed,
		ScenarioInHOfficeOpen,
		ScenarioUMiBuildings,
	}
}

func (c ScenarioClass) String() string {
	if name, ok := scenarioNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ScenarioClass(%d)", int(c))
}

// ParseScenarioClass maps a user-facing scenario name to its class. Matching
// is case-insensitive; unknown names fail with a message listing the choices.
func ParseScenarioClass(s string) (ScenarioClass, error) {
	want := strings.TrimSpace(s)
	for _, c := range ScenarioClasses() {
		if strings.EqualFold(scenarioNames[c], want) {
			return c, nil
		}
	}
	names := make([]string, 0, len(scenarioNames))
	for _, c := range ScenarioClasses() {
		names = append(names, "'"+scenarioNames[c]+"'")
	}
	return 0, fmt.Errorf("%w %q: choose among %s", ErrUnknownScenario, s, strings.Join(names, ", "))
}

// DefaultHeights returns the base-station and terminal antenna heights (m)
// used for the class when a node does not specify one.
func (c ScenarioClass) DefaultHeights() (hBS, hUT float64) {
	switch c {
	case ScenarioRMa:
		return 35, 1.5
	case ScenarioUMa:
		return 25, 1.5
	case ScenarioInHOfficeMixed, ScenarioInHOfficeOpen:
		return 3, 1
	default:
		return 10, 1.5
	}
}

// ConditionPolicy selects how LOS/NLOS is decided for a link.
type ConditionPolicy int

const (
	ConditionAlwaysLOS ConditionPolicy = iota
	ConditionAlwaysNLOS
	ConditionProbabilistic
	// ConditionBuildings is LOS exactly when no building intersects the path.
	ConditionBuildings
)

func (p ConditionPolicy) String() string {
	switch p {
	case ConditionAlwaysLOS:
		return "AlwaysLOS"
	case ConditionAlwaysNLOS:
		return "AlwaysNLOS"
	case ConditionProbabilistic:
		return "Probabilistic"
	case ConditionBuildings:
		return "Buildings"
	default:
		return fmt.Sprintf("ConditionPolicy(%d)", int(p))
	}
}

// ParseConditionPolicy accepts the short forms used on command lines
// ("l", "n") as well as the full policy names.
func ParseConditionPolicy(s string) (ConditionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l", "los", "alwayslos", "always-los":
		return ConditionAlwaysLOS, nil
	case "n", "nlos", "alwaysnlos", "always-nlos", "neverlos":
		return ConditionAlwaysNLOS, nil
	case "r", "probabilistic", "random", "":
		return ConditionProbabilistic, nil
	case "buildings", "b":
		return ConditionBuildings, nil
	default:
		return 0, fmt.Errorf("%w %q: choose among 'l', 'n', 'probabilistic', 'buildings'", ErrUnknownConditionPolicy, s)
	}
}

// ChannelCondition is the LOS state of a link at one instant.
type ChannelCondition int

const (
	ConditionUnknown ChannelCondition = iota
	ConditionLOS
	ConditionNLOS
)

func (c ChannelCondition) String() string {
	switch c {
	case ConditionLOS:
		return "LOS"
	case ConditionNLOS:
		return "NLOS"
	default:
		return "Unknown"
	}
}

// Building is a rectangular obstruction standing on the ground plane.
type Building struct {
	ID        string
	Footprint orb.Bound
	Height    float64
}

// ScenarioConfig holds the immutable parameters of one simulation run.
// It is passed by value; nothing in the engine mutates it after build.
type ScenarioConfig struct {
	Class           ScenarioClass
	FrequencyHz     float64
	BandwidthHz     float64
	ConditionPolicy ConditionPolicy
	BlockageEnabled bool
	// BlockageLossDB is subtracted from link quality when a building
	// obstructs the path and blockage is enabled.
	BlockageLossDB float64
	TxPowerDBm     float64
	NoiseFigureDB  float64
	Seed           uint64
	Duration       time.Duration
	// MobilityTick is the period of the observer position refresh.
	MobilityTick time.Duration
	// ReattachInterval enables periodic re-evaluation of attachments; 0 disables it.
	ReattachInterval time.Duration
	Buildings        []Building
}

// DefaultScenarioConfig returns the documented defaults: UMi-Buildings at
// 28 GHz with 100 MHz of bandwidth, probabilistic condition, 40 dBm transmit
// power, one second of simulated time.
func DefaultScenarioConfig() ScenarioConfig {
	return ScenarioConfig{
		Class:           ScenarioUMiBuildings,
		FrequencyHz:     28e9,
		BandwidthHz:     100e6,
		ConditionPolicy: ConditionProbabilistic,
		BlockageLossDB:  20,
		TxPowerDBm:      40,
		NoiseFigureDB:   7,
		Seed:            1,
		Duration:        time.Second,
		MobilityTick:    100 * time.Millisecond,
	}
}

// Validate reports the first configuration error found.
func (c ScenarioConfig) Validate() error {
	if _, ok := scenarioNames[c.Class]; !ok {
		return fmt.Errorf("%w: %w %d", ErrInvalidConfig, ErrUnknownScenario, int(c.Class))
	}
	if c.ConditionPolicy < ConditionAlwaysLOS || c.ConditionPolicy > ConditionBuildings {
		return fmt.Errorf("%w: %w %d", ErrInvalidConfig, ErrUnknownConditionPolicy, int(c.ConditionPolicy))
	}
	if c.FrequencyHz <= 0 {
		return fmt.Errorf("%w: frequency must be positive, got %g Hz", ErrInvalidConfig, c.FrequencyHz)
	}
	if c.BandwidthHz <= 0 {
		return fmt.Errorf("%w: bandwidth must be positive, got %g Hz", ErrInvalidConfig, c.BandwidthHz)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidConfig, c.Duration)
	}
	if c.MobilityTick < 0 {
		return fmt.Errorf("%w: mobility tick must not be negative, got %s", ErrInvalidConfig, c.MobilityTick)
	}
	if c.ReattachInterval < 0 {
		return fmt.Errorf("%w: reattach interval must not be negative, got %s", ErrInvalidConfig, c.ReattachInterval)
	}
	if c.BlockageLossDB < 0 {
		return fmt.Errorf("%w: blockage loss must not be negative, got %g dB", ErrInvalidConfig, c.BlockageLossDB)
	}
	for _, b := range c.Buildings {
		if b.Height <= 0 || b.Footprint.Max[0] < b.Footprint.Min[0] || b.Footprint.Max[1] < b.Footprint.Min[1] {
			return fmt.Errorf("%w: building %q has an empty volume", ErrInvalidConfig, b.ID)
		}
	}
	return nil
}

// Scenario is a complete, declarative simulation description.
type Scenario struct {
	Config       ScenarioConfig
	BaseStations []NodeSpec
	Terminals    []NodeSpec
	Flows        []Flow
	// Reattachments lists instants at which AttachClosest is re-run for
	// every terminal (manual handover).
	Reattachments []time.Duration
}

// Validate checks the configuration, the node sets and the flows.
func (s Scenario) Validate() error {
	if err := s.Config.Validate(); err != nil {
		return err
	}
	if len(s.BaseStations) == 0 {
		return fmt.Errorf("%w: no base stations", ErrInvalidConfig)
	}
	if len(s.Terminals) == 0 {
		return fmt.Errorf("%w: no terminals", ErrInvalidConfig)
	}

	roles := make(map[NodeID]Role, len(s.BaseStations)+len(s.Terminals))
	for _, spec := range append(append([]NodeSpec(nil), s.BaseStations...), s.Terminals...) {
		if spec.ID < 0 {
			return fmt.Errorf("%w: node id %d must not be negative", ErrInvalidConfig, spec.ID)
		}
	}
	for _, spec := range s.BaseStations {
		if _, dup := roles[spec.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %d", ErrInvalidConfig, spec.ID)
		}
		roles[spec.ID] = RoleBaseStation
	}
	for _, spec := range s.Terminals {
		if _, dup := roles[spec.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %d", ErrInvalidConfig, spec.ID)
		}
		roles[spec.ID] = RoleTerminal
	}

	flowIDs := make(map[FlowID]struct{}, len(s.Flows))
	for _, f := range s.Flows {
		if _, dup := flowIDs[f.ID]; dup {
			return fmt.Errorf("%w: duplicate flow id %d", ErrInvalidConfig, f.ID)
		}
		flowIDs[f.ID] = struct{}{}
		if err := f.Validate(); err != nil {
			return err
		}
		src, okSrc := roles[f.SourceID]
		dst, okDst := roles[f.DestinationID]
		if !okSrc || !okDst {
			return fmt.Errorf("%w: flow %d references an unknown node", ErrInvalidConfig, f.ID)
		}
		if src != RoleTerminal && dst != RoleTerminal {
			return fmt.Errorf("%w: flow %d has no terminal endpoint", ErrInvalidConfig, f.ID)
		}
	}

	for _, at := range s.Reattachments {
		if at < 0 {
			return fmt.Errorf("%w: reattachment at negative time %s", ErrInvalidConfig, at)
		}
	}
	return nil
}
