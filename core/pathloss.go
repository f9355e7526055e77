package core

import (
	"math"

	"github.com/signalsfoundry/cellular-simulator/model"
)

const speedOfLight = 299792458.0

// linkGeometry is what the path-loss formulas need to know about a link.
type linkGeometry struct {
	d2D, d3D float64 // metres, d3D floored at minDistanceM
	hBS, hUT float64 // antenna heights, metres
	fcHz     float64
}

func (g linkGeometry) fcGHz() float64 { return g.fcHz / 1e9 }

func newLinkGeometry(bs, ut model.Node, fcHz float64) linkGeometry {
	d3D := bs.Position.DistanceTo(ut.Position)
	if d3D < minDistanceM {
		d3D = minDistanceM
	}
	return linkGeometry{
		d2D:  bs.Position.Distance2D(ut.Position),
		d3D:  d3D,
		hBS:  math.Max(bs.Height(), 0),
		hUT:  math.Max(ut.Height(), 0),
		fcHz: fcHz,
	}
}

// at returns a copy of g moved to a new horizontal distance.
func (g linkGeometry) at(d2D float64) linkGeometry {
	dh := g.hBS - g.hUT
	g.d2D = d2D
	g.d3D = math.Max(math.Sqrt(d2D*d2D+dh*dh), minDistanceM)
	return g
}

// pathLossFunc returns the path loss in dB of a link for one condition.
type pathLossFunc func(g linkGeometry, cond model.ChannelCondition) float64

// pathLossByClass is the closed mapping from scenario class to its
// TR 38.901 Table 7.4.1-1 formula.
var pathLossByClass = map[model.ScenarioClass]pathLossFunc{
	model.ScenarioRMa:             rmaPathLoss,
	model.ScenarioUMa:             umaPathLoss,
	model.ScenarioUMiStreetCanyon: umiPathLoss,
	model.ScenarioUMiBuildings:    umiPathLoss,
	model.ScenarioInHOfficeMixed:  inhPathLoss,
	model.ScenarioInHOfficeOpen:   inhPathLoss,
}

// PathLoss returns the path loss in dB for the scenario class. Unknown
// classes fall back to free space; ScenarioConfig.Validate rejects them
// before a run starts.
func PathLoss(class model.ScenarioClass, bs, ut model.Node, fcHz float64, cond model.ChannelCondition) float64 {
	g := newLinkGeometry(bs, ut, fcHz)
	if fn, ok := pathLossByClass[class]; ok {
		return fn(g, cond)
	}
	return freeSpacePathLoss(g.d3D, fcHz)
}

// freeSpacePathLoss in dB: 92.45 + 20 log10(d_km) + 20 log10(f_GHz).
func freeSpacePathLoss(distanceM, fcHz float64) float64 {
	dKm := math.Max(distanceM, minDistanceM) / 1000
	fGHz := fcHz / 1e9
	if fGHz <= 0 {
		fGHz = 10
	}
	return 92.45 + 20*math.Log10(dKm) + 20*math.Log10(fGHz)
}

// withBreakpoint evaluates a two-slope LOS model. Past the breakpoint the
// second slope is floored at the first slope's value at the breakpoint, so
// the curve never steps down when it switches.
func withBreakpoint(g linkGeometry, dBP float64, pl1, pl2 func(linkGeometry) float64) float64 {
	if g.d2D <= dBP {
		return pl1(g)
	}
	return math.Max(pl2(g), pl1(g.at(dBP)))
}

// effectiveBreakpoint is d'BP with an effective environment height of 1 m.
func effectiveBreakpoint(g linkGeometry) float64 {
	const hE = 1.0
	hBS := math.Max(g.hBS-hE, 0.1)
	hUT := math.Max(g.hUT-hE, 0.1)
	return 4 * hBS * hUT * g.fcHz / speedOfLight
}

func rmaPathLoss(g linkGeometry, cond model.ChannelCondition) float64 {
	const (
		h = 5.0  // average building height
		w = 20.0 // average street width
	)
	fc := g.fcGHz()
	pl1 := func(g linkGeometry) float64 {
		d := g.d3D
		return 20*math.Log10(40*math.Pi*d*fc/3) +
			math.Min(0.03*math.Pow(h, 1.72), 10)*math.Log10(d) -
			math.Min(0.044*math.Pow(h, 1.72), 14.77) +
			0.002*math.Log10(h)*d
	}
	dBP := 2 * math.Pi * g.hBS * g.hUT * g.fcHz / speedOfLight
	pl2 := func(g linkGeometry) float64 {
		return pl1(g.at(dBP)) + 40*math.Log10(g.d3D/g.at(dBP).d3D)
	}
	los := withBreakpoint(g, dBP, pl1, pl2)
	if cond != model.ConditionNLOS {
		return los
	}

	hBS := math.Max(g.hBS, 1)
	hUT := math.Max(g.hUT, 0.1)
	nlos := 161.04 - 7.1*math.Log10(w) + 7.5*math.Log10(h) -
		(24.37-3.7*math.Pow(h/hBS, 2))*math.Log10(hBS) +
		(43.42-3.1*math.Log10(hBS))*(math.Log10(g.d3D)-3) +
		20*math.Log10(fc) -
		(3.2*math.Pow(math.Log10(11.75*hUT), 2) - 4.97)
	return math.Max(los, nlos)
}

func umaPathLoss(g linkGeometry, cond model.ChannelCondition) float64 {
	fc := g.fcGHz()
	dBP := effectiveBreakpoint(g)
	dh := g.hBS - g.hUT
	pl1 := func(g linkGeometry) float64 {
		return 28.0 + 22*math.Log10(g.d3D) + 20*math.Log10(fc)
	}
	pl2 := func(g linkGeometry) float64 {
		return 28.0 + 40*math.Log10(g.d3D) + 20*math.Log10(fc) - 9*math.Log10(dBP*dBP+dh*dh)
	}
	los := withBreakpoint(g, dBP, pl1, pl2)
	if cond != model.ConditionNLOS {
		return los
	}
	nlos := 13.54 + 39.08*math.Log10(g.d3D) + 20*math.Log10(fc) - 0.6*(g.hUT-1.5)
	return math.Max(los, nlos)
}

func umiPathLoss(g linkGeometry, cond model.ChannelCondition) float64 {
	fc := g.fcGHz()
	dBP := effectiveBreakpoint(g)
	dh := g.hBS - g.hUT
	pl1 := func(g linkGeometry) float64 {
		return 32.4 + 21*math.Log10(g.d3D) + 20*math.Log10(fc)
	}
	pl2 := func(g linkGeometry) float64 {
		return 32.4 + 40*math.Log10(g.d3D) + 20*math.Log10(fc) - 9.5*math.Log10(dBP*dBP+dh*dh)
	}
	los := withBreakpoint(g, dBP, pl1, pl2)
	if cond != model.ConditionNLOS {
		return los
	}
	nlos := 35.3*math.Log10(g.d3D) + 22.4 + 21.3*math.Log10(fc) - 0.3*(g.hUT-1.5)
	return math.Max(los, nlos)
}

func inhPathLoss(g linkGeometry, cond model.ChannelCondition) float64 {
	fc := g.fcGHz()
	los := 32.4 + 17.3*math.Log10(g.d3D) + 20*math.Log10(fc)
	if cond != model.ConditionNLOS {
		return los
	}
	nlos := 38.3*math.Log10(g.d3D) + 17.30 + 24.9*math.Log10(fc)
	return math.Max(los, nlos)
}
