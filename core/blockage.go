package core

import "github.com/signalsfoundry/cellular-simulator/model"

// Blocked reports whether any building obstructs the straight path between
// the two nodes at their antenna heights.
func Blocked(a, b model.Node, buildings []model.Building) bool {
	for _, bld := range buildings {
		if segmentIntersectsBuilding(a.Position, b.Position, bld) {
			return true
		}
	}
	return false
}

// Obstructions returns the IDs of every building crossing the path, in
// declaration order.
func Obstructions(a, b model.Node, buildings []model.Building) []string {
	var ids []string
	for _, bld := range buildings {
		if segmentIntersectsBuilding(a.Position, b.Position, bld) {
			ids = append(ids, bld.ID)
		}
	}
	return ids
}

// blockageLoss returns the extra attenuation in dB for the link, or 0 when
// blockage is disabled or the path is clear.
func blockageLoss(a, b model.Node, cfg model.ScenarioConfig) (lossDB float64, blocked bool) {
	if !cfg.BlockageEnabled || len(cfg.Buildings) == 0 {
		return 0, false
	}
	if !Blocked(a, b, cfg.Buildings) {
		return 0, false
	}
	return cfg.BlockageLossDB, true
}
