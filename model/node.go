package model

import "math"

// NodeID uniquely identifies a node for the lifetime of a simulation.
type NodeID int

// Role distinguishes radio access points from mobile terminals.
type Role int

const (
	RoleBaseStation Role = iota
	RoleTerminal
)

func (r Role) String() string {
	switch r {
	case RoleBaseStation:
		return "BaseStation"
	case RoleTerminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// Vec3 is a position or velocity in a local Cartesian frame (metres, m/s).
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// IsZero reports whether all components are zero.
func (v Vec3) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

// DistanceTo returns the straight-line (3D) distance between two points.
func (v Vec3) DistanceTo(o Vec3) float64 {
	return v.Sub(o).Norm()
}

// Distance2D returns the horizontal distance between two points.
func (v Vec3) Distance2D(o Vec3) float64 {
	dx := v.X - o.X
	dy := v.Y - o.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Node is a base station or terminal. The antenna height is Position.Z.
type Node struct {
	ID       NodeID
	Role     Role
	Name     string
	Position Vec3
	Velocity Vec3
}

// Height returns the antenna height above ground in metres.
func (n Node) Height() float64 {
	return n.Position.Z
}

// NodeSpec is the declarative form of a node inside a scenario document.
// A nil Z means "use the scenario's default antenna height for the role".
type NodeSpec struct {
	ID       NodeID   `json:"id" yaml:"id"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	X        float64  `json:"x" yaml:"x"`
	Y        float64  `json:"y" yaml:"y"`
	Z        *float64 `json:"z,omitempty" yaml:"z,omitempty"`
	Velocity Vec3     `json:"velocity,omitempty" yaml:"velocity,omitempty"`
}
