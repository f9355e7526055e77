package core

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/cellular-simulator/model"
)

func TestNewChannelModel(t *testing.T) {
	for _, name := range []string{"", "3gpp", "3GPP", " free-space "} {
		if _, err := NewChannelModel(name); err != nil {
			t.Fatalf("NewChannelModel(%q): %v", name, err)
		}
	}
	if _, ok := mustChannelModel(t, "").(ThreeGPPChannelModel); !ok {
		t.Fatalf("empty name should select ThreeGPPChannelModel")
	}
	if _, err := NewChannelModel("ray-tracing"); !errors.Is(err, ErrUnknownChannelModel) {
		t.Fatalf("NewChannelModel(ray-tracing) err = %v, want ErrUnknownChannelModel", err)
	}
}

func mustChannelModel(t *testing.T, name string) ChannelModel {
	t.Helper()
	m, err := NewChannelModel(name)
	if err != nil {
		t.Fatalf("NewChannelModel(%q): %v", name, err)
	}
	return m
}

func TestProbabilisticConditionReproducible(t *testing.T) {
	cfg := model.DefaultScenarioConfig()
	cfg.Class = model.ScenarioUMiStreetCanyon
	cfg.Seed = 17
	bs := node(1, model.RoleBaseStation, 0, 0, 10)
	ut := node(2, model.RoleTerminal, 120, 30, 1.5)

	sample := func() []model.ChannelCondition {
		rng := NewRandomSource(cfg.Seed)
		var out []model.ChannelCondition
		for i := 0; i < 50; i++ {
			cond, _ := ThreeGPPChannelModel{}.EvaluateLink(bs, ut, cfg, rng)
			out = append(out, cond)
		}
		return out
	}
	a, b := sample(), sample()
	var los, nlos int
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("draw %d differs: %v vs %v", i, a[i], b[i])
		}
		switch a[i] {
		case model.ConditionLOS:
			los++
		case model.ConditionNLOS:
			nlos++
		default:
			t.Fatalf("draw %d produced %v", i, a[i])
		}
	}
	// pLOS at ~124 m is about 0.17, so 50 draws should see both states.
	if los == 0 || nlos == 0 {
		t.Fatalf("expected a mix of LOS and NLOS, got los=%d nlos=%d", los, nlos)
	}
}

func TestConditionPolicies(t *testing.T) {
	bs := node(1, model.RoleBaseStation, 0, 0, 10)
	ut := node(2, model.RoleTerminal, 100, 0, 1.5)
	cfg := model.DefaultScenarioConfig()
	cfg.Buildings = []model.Building{box("b", 40, -5, 60, 5, 20)}

	cases := []struct {
		policy model.ConditionPolicy
		want   model.ChannelCondition
	}{
		{model.ConditionAlwaysLOS, model.ConditionLOS},
		{model.ConditionAlwaysNLOS, model.ConditionNLOS},
		{model.ConditionBuildings, model.ConditionNLOS},
	}
	for _, c := range cases {
		cfg.ConditionPolicy = c.policy
		if got, _ := (ThreeGPPChannelModel{}).EvaluateLink(bs, ut, cfg, nil); got != c.want {
			t.Fatalf("%s: condition = %v, want %v", c.policy, got, c.want)
		}
	}

	cfg.ConditionPolicy = model.ConditionBuildings
	side := node(3, model.RoleTerminal, 0, 100, 1.5)
	if got, _ := (ThreeGPPChannelModel{}).EvaluateLink(bs, side, cfg, nil); got != model.ConditionLOS {
		t.Fatalf("unobstructed link under Buildings policy = %v, want LOS", got)
	}
}

func TestBlockageLowersQuality(t *testing.T) {
	bs := node(1, model.RoleBaseStation, 0, 0, 10)
	ut := node(2, model.RoleTerminal, 100, 0, 1.5)
	cfg := model.DefaultScenarioConfig()
	cfg.ConditionPolicy = model.ConditionAlwaysLOS
	cfg.Buildings = []model.Building{box("b", 40, -5, 60, 5, 20)}

	_, open := ThreeGPPChannelModel{}.EvaluateLink(bs, ut, cfg, nil)
	cfg.BlockageEnabled = true
	_, blocked := ThreeGPPChannelModel{}.EvaluateLink(bs, ut, cfg, nil)
	if diff := open - blocked; math.Abs(diff-cfg.BlockageLossDB) > 1e-9 {
		t.Fatalf("blockage reduced quality by %v dB, want %v", diff, cfg.BlockageLossDB)
	}
}

func TestLinkEvaluatorFillsLink(t *testing.T) {
	cfg := model.DefaultScenarioConfig()
	cfg.ConditionPolicy = model.ConditionAlwaysLOS
	ev := NewLinkEvaluator(nil, cfg, nil)

	bs := node(1, model.RoleBaseStation, 0, 0, 10)
	ut := node(2, model.RoleTerminal, 30, 40, 10)
	link := ev.Evaluate(bs, ut)

	if link.BaseStationID != 1 || link.TerminalID != 2 {
		t.Fatalf("link endpoints = (%d,%d), want (1,2)", link.BaseStationID, link.TerminalID)
	}
	if link.DistanceM != 50 {
		t.Fatalf("DistanceM = %v, want 50", link.DistanceM)
	}
	if link.Condition != model.ConditionLOS {
		t.Fatalf("Condition = %v, want LOS", link.Condition)
	}
	if got := cfg.TxPowerDBm - link.PathLossDB; math.Abs(got-link.Quality) > 1e-9 {
		t.Fatalf("quality %v inconsistent with path loss %v", link.Quality, link.PathLossDB)
	}
	wantSNR := link.Quality - noiseFloorDBm(cfg.BandwidthHz, cfg.NoiseFigureDB)
	if link.SNRDB != wantSNR {
		t.Fatalf("SNRDB = %v, want %v", link.SNRDB, wantSNR)
	}
	if link.Class != classifyLinkBySNR(wantSNR) {
		t.Fatalf("Class = %v, want %v", link.Class, classifyLinkBySNR(wantSNR))
	}
}

func TestClassifyLinkBySNR(t *testing.T) {
	cases := []struct {
		snr  float64
		want model.LinkClass
	}{
		{-3, model.LinkClassDown},
		{0, model.LinkClassPoor},
		{7, model.LinkClassFair},
		{12, model.LinkClassGood},
		{20, model.LinkClassExcellent},
	}
	for _, c := range cases {
		if got := classifyLinkBySNR(c.snr); got != c.want {
			t.Fatalf("classifyLinkBySNR(%v) = %v, want %v", c.snr, got, c.want)
		}
	}
}

func TestFreeSpaceUsesTransceiverGain(t *testing.T) {
	cfg := model.DefaultScenarioConfig()
	cfg.ConditionPolicy = model.ConditionAlwaysLOS
	bs := node(1, model.RoleBaseStation, 0, 0, 10)
	ut := node(2, model.RoleTerminal, 200, 0, 1.5)

	_, plain := FreeSpaceChannelModel{}.EvaluateLink(bs, ut, cfg, nil)
	_, gained := FreeSpaceChannelModel{Transceiver: TransceiverModel{GainTxDBi: 10, GainRxDBi: 5, CableLossDB: 2}}.EvaluateLink(bs, ut, cfg, nil)
	if diff := gained - plain; math.Abs(diff-13) > 1e-9 {
		t.Fatalf("transceiver net gain = %v dB, want 13", diff)
	}
}
