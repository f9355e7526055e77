package core

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/cellular-simulator/model"
)

func box(id string, xMin, yMin, xMax, yMax, h float64) model.Building {
	return model.Building{
		ID:        id,
		Footprint: orb.Bound{Min: orb.Point{xMin, yMin}, Max: orb.Point{xMax, yMax}},
		Height:    h,
	}
}

func node(id model.NodeID, role model.Role, x, y, z float64) model.Node {
	return model.Node{ID: id, Role: role, Position: model.Vec3{X: x, Y: y, Z: z}}
}

func TestSegmentIntersectsBuilding(t *testing.T) {
	bld := box("b1", 40, -5, 60, 5, 20)

	cases := []struct {
		name   string
		p1, p2 model.Vec3
		want   bool
	}{
		{"straight through", model.Vec3{X: 0, Y: 0, Z: 10}, model.Vec3{X: 100, Y: 0, Z: 1.5}, true},
		{"passes beside", model.Vec3{X: 0, Y: 20, Z: 10}, model.Vec3{X: 100, Y: 20, Z: 1.5}, false},
		{"passes over roof", model.Vec3{X: 0, Y: 0, Z: 50}, model.Vec3{X: 100, Y: 0, Z: 30}, false},
		{"ends before building", model.Vec3{X: 0, Y: 0, Z: 10}, model.Vec3{X: 39, Y: 0, Z: 1.5}, false},
		{"endpoint inside", model.Vec3{X: 0, Y: 0, Z: 10}, model.Vec3{X: 50, Y: 0, Z: 1.5}, true},
		{"vertical segment beside", model.Vec3{X: 0, Y: 0, Z: 0}, model.Vec3{X: 0, Y: 0, Z: 100}, false},
		{"diagonal clipping corner", model.Vec3{X: 30, Y: -20, Z: 5}, model.Vec3{X: 70, Y: 20, Z: 5}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := segmentIntersectsBuilding(c.p1, c.p2, bld); got != c.want {
				t.Fatalf("segmentIntersectsBuilding = %v, want %v", got, c.want)
			}
		})
	}
}

func TestBlockedAndObstructions(t *testing.T) {
	buildings := []model.Building{
		box("near", 20, -2, 30, 2, 15),
		box("far", 200, 200, 210, 210, 15),
		box("second", 60, -2, 70, 2, 15),
	}
	bs := node(1, model.RoleBaseStation, 0, 0, 10)
	ut := node(10, model.RoleTerminal, 100, 0, 1.5)

	if !Blocked(bs, ut, buildings) {
		t.Fatalf("expected path to be blocked")
	}
	got := Obstructions(bs, ut, buildings)
	if len(got) != 2 || got[0] != "near" || got[1] != "second" {
		t.Fatalf("Obstructions = %v, want [near second]", got)
	}

	side := node(11, model.RoleTerminal, 0, 100, 1.5)
	if Blocked(bs, side, buildings) {
		t.Fatalf("expected clear path along the y axis")
	}
}

func TestBlockageLossRespectsConfig(t *testing.T) {
	bs := node(1, model.RoleBaseStation, 0, 0, 10)
	ut := node(10, model.RoleTerminal, 100, 0, 1.5)
	cfg := model.DefaultScenarioConfig()
	cfg.Buildings = []model.Building{box("b", 40, -5, 60, 5, 20)}

	if loss, blocked := blockageLoss(bs, ut, cfg); loss != 0 || blocked {
		t.Fatalf("blockage disabled: loss=%v blocked=%v, want 0 false", loss, blocked)
	}

	cfg.BlockageEnabled = true
	if loss, blocked := blockageLoss(bs, ut, cfg); loss != cfg.BlockageLossDB || !blocked {
		t.Fatalf("blockage enabled: loss=%v blocked=%v, want %v true", loss, blocked, cfg.BlockageLossDB)
	}
}
