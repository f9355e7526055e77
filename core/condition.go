package core

import (
	"math"

	"github.com/signalsfoundry/cellular-simulator/model"
)

// LOSProbability returns the TR 38.901 Table 7.4.2-1 probability that a
// link of horizontal length d2D (metres) is line-of-sight for the class.
// hUT only matters for UMa.
func LOSProbability(class model.ScenarioClass, d2D, hUT float64) float64 {
	switch class {
	case model.ScenarioRMa:
		if d2D <= 10 {
			return 1
		}
		return math.Exp(-(d2D - 10) / 1000)

	case model.ScenarioUMa:
		if d2D <= 18 {
			return 1
		}
		var cPrime float64
		if hUT > 13 {
			cPrime = math.Pow((hUT-13)/10, 1.5)
		}
		base := 18/d2D + math.Exp(-d2D/63)*(1-18/d2D)
		return base * (1 + cPrime*5.0/4.0*math.Pow(d2D/100, 3)*math.Exp(-d2D/150))

	case model.ScenarioUMiStreetCanyon, model.ScenarioUMiBuildings:
		if d2D <= 18 {
			return 1
		}
		return 18/d2D + math.Exp(-d2D/36)*(1-18/d2D)

	case model.ScenarioInHOfficeMixed:
		switch {
		case d2D <= 1.2:
			return 1
		case d2D < 6.5:
			return math.Exp(-(d2D - 1.2) / 4.7)
		default:
			return math.Exp(-(d2D-6.5)/32.6) * 0.32
		}

	case model.ScenarioInHOfficeOpen:
		switch {
		case d2D <= 5:
			return 1
		case d2D <= 49:
			return math.Exp(-(d2D - 5) / 70.8)
		default:
			return math.Exp(-(d2D-49)/211.7) * 0.54
		}
	}
	return 1
}

// decideCondition applies the configured policy to a link. Only the
// probabilistic policy consumes a draw from rng.
func decideCondition(bs, ut model.Node, cfg model.ScenarioConfig, rng *RandomSource) model.ChannelCondition {
	switch cfg.ConditionPolicy {
	case model.ConditionAlwaysLOS:
		return model.ConditionLOS
	case model.ConditionAlwaysNLOS:
		return model.ConditionNLOS
	case model.ConditionBuildings:
		if Blocked(bs, ut, cfg.Buildings) {
			return model.ConditionNLOS
		}
		return model.ConditionLOS
	case model.ConditionProbabilistic:
		p := LOSProbability(cfg.Class, bs.Position.Distance2D(ut.Position), ut.Height())
		if rng == nil {
			rng = NewRandomSource(cfg.Seed)
		}
		if rng.Float64(bs.ID, ut.ID) < p {
			return model.ConditionLOS
		}
		return model.ConditionNLOS
	}
	return model.ConditionUnknown
}
