package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/cellular-simulator/model"
)

func qualityAt(t *testing.T, m ChannelModel, cfg model.ScenarioConfig, x float64) float64 {
	t.Helper()
	hBS, hUT := cfg.Class.DefaultHeights()
	bs := node(1, model.RoleBaseStation, 0, 0, hBS)
	ut := node(2, model.RoleTerminal, x, 0, hUT)
	_, q := m.EvaluateLink(bs, ut, cfg, NewRandomSource(cfg.Seed))
	return q
}

func TestQualityMonotoneInDistance(t *testing.T) {
	models := map[string]ChannelModel{
		"3gpp":       ThreeGPPChannelModel{},
		"free-space": FreeSpaceChannelModel{NLOSPenaltyDB: 20},
	}
	for name, m := range models {
		for _, class := range model.ScenarioClasses() {
			for _, policy := range []model.ConditionPolicy{model.ConditionAlwaysLOS, model.ConditionAlwaysNLOS} {
				cfg := model.DefaultScenarioConfig()
				cfg.Class = class
				cfg.ConditionPolicy = policy

				prev := math.Inf(1)
				for x := 0.0; x <= 10000; x += 7.5 {
					q := qualityAt(t, m, cfg, x)
					if math.IsNaN(q) || math.IsInf(q, 0) {
						t.Fatalf("%s %s %s: quality at %vm = %v", name, class, policy, x, q)
					}
					if q > prev+1e-9 {
						t.Fatalf("%s %s %s: quality rose from %v to %v at %vm", name, class, policy, prev, q, x)
					}
					prev = q
				}
			}
		}
	}
}

func TestLOSNotWorseThanNLOS(t *testing.T) {
	for _, class := range model.ScenarioClasses() {
		los := model.DefaultScenarioConfig()
		los.Class = class
		los.ConditionPolicy = model.ConditionAlwaysLOS
		nlos := los
		nlos.ConditionPolicy = model.ConditionAlwaysNLOS

		for _, x := range []float64{1, 10, 50, 100, 500, 1000, 5000} {
			ql := qualityAt(t, ThreeGPPChannelModel{}, los, x)
			qn := qualityAt(t, ThreeGPPChannelModel{}, nlos, x)
			if qn > ql {
				t.Fatalf("%s at %vm: NLOS quality %v > LOS quality %v", class, x, qn, ql)
			}
		}
	}
}

func TestBreakpointDoesNotStepDown(t *testing.T) {
	// UMa LOS at 3.5 GHz has a breakpoint near 640 m for 25 m / 1.5 m.
	g := linkGeometry{hBS: 25, hUT: 1.5, fcHz: 3.5e9}
	dBP := effectiveBreakpoint(g)
	before := umaPathLoss(g.at(dBP-0.01), model.ConditionLOS)
	after := umaPathLoss(g.at(dBP+0.01), model.ConditionLOS)
	if after < before {
		t.Fatalf("path loss dropped across the breakpoint: %v -> %v", before, after)
	}
}

func TestFreeSpacePathLossReference(t *testing.T) {
	// 1 km at 1 GHz is 92.45 dB by definition of the constant.
	if got := freeSpacePathLoss(1000, 1e9); math.Abs(got-92.45) > 1e-9 {
		t.Fatalf("FSPL(1km, 1GHz) = %v, want 92.45", got)
	}
	// Doubling distance adds ~6.02 dB.
	delta := freeSpacePathLoss(2000, 1e9) - freeSpacePathLoss(1000, 1e9)
	if math.Abs(delta-20*math.Log10(2)) > 1e-9 {
		t.Fatalf("FSPL doubling delta = %v, want %v", delta, 20*math.Log10(2))
	}
}

func TestLOSProbabilityBounds(t *testing.T) {
	for _, class := range model.ScenarioClasses() {
		if p := LOSProbability(class, 0.5, 1.5); p != 1 {
			t.Fatalf("%s: LOS probability at 0.5m = %v, want 1", class, p)
		}
		for d := 1.0; d < 5000; d *= 1.7 {
			for _, hUT := range []float64{1.5, 22.5} {
				p := LOSProbability(class, d, hUT)
				if p < 0 || p > 1 {
					t.Fatalf("%s: LOS probability(%v, %v) = %v, want [0,1]", class, d, hUT, p)
				}
			}
		}
	}
	if got, want := LOSProbability(model.ScenarioRMa, 1010, 1.5), math.Exp(-1); math.Abs(got-want) > 1e-12 {
		t.Fatalf("RMa LOS probability at 1010m = %v, want %v", got, want)
	}
}
