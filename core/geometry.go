package core

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/cellular-simulator/model"
)

// minDistanceM is the floor applied to link distances before any
// logarithmic path-loss term is evaluated.
const minDistanceM = 1.0

// footprintOf returns the 2D ground projection of the segment p1-p2.
func footprintOf(p1, p2 model.Vec3) orb.Bound {
	return orb.LineString{{p1.X, p1.Y}, {p2.X, p2.Y}}.Bound()
}

// segmentIntersectsBox reports whether the straight segment between p1 and
// p2 passes through (or touches) the axis-aligned box [lo, hi].
//
// Slab clipping: the segment is parametrised as p1 + t(p2-p1), t ∈ [0,1],
// and the interval of t inside each pair of parallel planes is intersected.
func segmentIntersectsBox(p1, p2, lo, hi model.Vec3) bool {
	origin := [3]float64{p1.X, p1.Y, p1.Z}
	dir := [3]float64{p2.X - p1.X, p2.Y - p1.Y, p2.Z - p1.Z}
	lower := [3]float64{lo.X, lo.Y, lo.Z}
	upper := [3]float64{hi.X, hi.Y, hi.Z}

	tEnter, tExit := 0.0, 1.0
	for axis := 0; axis < 3; axis++ {
		if math.Abs(dir[axis]) < 1e-12 {
			// Parallel to this slab: inside only if the origin is.
			if origin[axis] < lower[axis] || origin[axis] > upper[axis] {
				return false
			}
			continue
		}
		t1 := (lower[axis] - origin[axis]) / dir[axis]
		t2 := (upper[axis] - origin[axis]) / dir[axis]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tEnter = math.Max(tEnter, t1)
		tExit = math.Min(tExit, t2)
		if tEnter > tExit {
			return false
		}
	}
	return true
}

// segmentIntersectsBuilding reports whether the line between two antennas
// crosses the building volume. The footprint bound check rejects most
// buildings before the 3D test runs.
func segmentIntersectsBuilding(p1, p2 model.Vec3, b model.Building) bool {
	if !footprintOf(p1, p2).Intersects(b.Footprint) {
		return false
	}
	lo := model.Vec3{X: b.Footprint.Min[0], Y: b.Footprint.Min[1], Z: 0}
	hi := model.Vec3{X: b.Footprint.Max[0], Y: b.Footprint.Max[1], Z: b.Height}
	return segmentIntersectsBox(p1, p2, lo, hi)
}
