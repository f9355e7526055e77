package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/signalsfoundry/cellular-simulator/model"
)

// ErrUnknownChannelModel indicates an unsupported channel model name.
var ErrUnknownChannelModel = errors.New("unknown channel model")

// ChannelModel evaluates the radio relation between a base station and a
// terminal. Quality is a received power in dBm; larger is better. It must
// be non-increasing in distance and must not increase when the condition
// goes from LOS to NLOS at a fixed distance.
//
// Implementations must be deterministic given rng: all randomness comes
// from the per-link streams of the RandomSource.
type ChannelModel interface {
	EvaluateLink(bs, ut model.Node, cfg model.ScenarioConfig, rng *RandomSource) (model.ChannelCondition, float64)
}

// ThreeGPPChannelModel uses the TR 38.901 path-loss and LOS-probability
// formulas of the configured scenario class.
type ThreeGPPChannelModel struct{}

// EvaluateLink implements ChannelModel.
func (ThreeGPPChannelModel) EvaluateLink(bs, ut model.Node, cfg model.ScenarioConfig, rng *RandomSource) (model.ChannelCondition, float64) {
	cond := decideCondition(bs, ut, cfg, rng)
	pl := PathLoss(cfg.Class, bs, ut, cfg.FrequencyHz, cond)
	loss, _ := blockageLoss(bs, ut, cfg)
	return cond, cfg.TxPowerDBm - pl - loss
}

// FreeSpaceChannelModel is a single-slope free-space link budget. The
// condition policy still decides LOS/NLOS; NLOS links pay NLOSPenaltyDB.
type FreeSpaceChannelModel struct {
	Transceiver   TransceiverModel
	NLOSPenaltyDB float64
}

// EvaluateLink implements ChannelModel.
func (m FreeSpaceChannelModel) EvaluateLink(bs, ut model.Node, cfg model.ScenarioConfig, rng *RandomSource) (model.ChannelCondition, float64) {
	cond := decideCondition(bs, ut, cfg, rng)
	pl := freeSpacePathLoss(bs.Position.DistanceTo(ut.Position), cfg.FrequencyHz)
	if cond == model.ConditionNLOS {
		pl += math.Max(m.NLOSPenaltyDB, 0)
	}
	loss, _ := blockageLoss(bs, ut, cfg)
	return cond, cfg.TxPowerDBm + m.Transceiver.NetGainDB() - pl - loss
}

// channelModelFactories maps the user-facing model names to constructors.
var channelModelFactories = map[string]func() ChannelModel{
	"3gpp":       func() ChannelModel { return ThreeGPPChannelModel{} },
	"free-space": func() ChannelModel { return FreeSpaceChannelModel{NLOSPenaltyDB: 20} },
}

// ChannelModelNames lists the names accepted by NewChannelModel.
func ChannelModelNames() []string {
	names := make([]string, 0, len(channelModelFactories))
	for name := range channelModelFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewChannelModel builds the channel model registered under name. The empty
// name selects "3gpp".
func NewChannelModel(name string) (ChannelModel, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "3gpp"
	}
	factory, ok := channelModelFactories[key]
	if !ok {
		return nil, fmt.Errorf("%w %q: choose among %s", ErrUnknownChannelModel, name, strings.Join(ChannelModelNames(), ", "))
	}
	return factory(), nil
}

// LinkEvaluator turns ChannelModel output into full model.Link records.
// It holds no per-link state; every call recomputes from current positions.
type LinkEvaluator struct {
	channel ChannelModel
	cfg     model.ScenarioConfig
	rng     *RandomSource
}

// NewLinkEvaluator binds a channel model to a scenario and random source.
// A nil channel selects ThreeGPPChannelModel.
func NewLinkEvaluator(channel ChannelModel, cfg model.ScenarioConfig, rng *RandomSource) *LinkEvaluator {
	if channel == nil {
		channel = ThreeGPPChannelModel{}
	}
	if rng == nil {
		rng = NewRandomSource(cfg.Seed)
	}
	return &LinkEvaluator{channel: channel, cfg: cfg, rng: rng}
}

// Config returns the scenario configuration the evaluator was built with.
func (e *LinkEvaluator) Config() model.ScenarioConfig { return e.cfg }

// Evaluate computes the link between a base station and a terminal.
func (e *LinkEvaluator) Evaluate(bs, ut model.Node) model.Link {
	cond, quality := e.channel.EvaluateLink(bs, ut, e.cfg, e.rng)
	_, blocked := blockageLoss(bs, ut, e.cfg)
	snr := quality - noiseFloorDBm(e.cfg.BandwidthHz, e.cfg.NoiseFigureDB)

	return model.Link{
		BaseStationID: bs.ID,
		TerminalID:    ut.ID,
		Condition:     cond,
		Quality:       quality,
		PathLossDB:    e.cfg.TxPowerDBm - quality,
		SNRDB:         snr,
		Class:         classifyLinkBySNR(snr),
		DistanceM:     bs.Position.DistanceTo(ut.Position),
		Blocked:       blocked,
	}
}

// noiseFloorDBm is thermal noise over the bandwidth plus the receiver
// noise figure.
func noiseFloorDBm(bandwidthHz, noiseFigureDB float64) float64 {
	if bandwidthHz <= 0 {
		bandwidthHz = 1
	}
	return -174 + 10*math.Log10(bandwidthHz) + noiseFigureDB
}

// classifyLinkBySNR buckets an SNR into a coarse link class.
func classifyLinkBySNR(snr float64) model.LinkClass {
	switch {
	case snr < 0:
		return model.LinkClassDown
	case snr < 5:
		return model.LinkClassPoor
	case snr < 10:
		return model.LinkClassFair
	case snr < 20:
		return model.LinkClassGood
	default:
		return model.LinkClassExcellent
	}
}
