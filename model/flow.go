package model

import (
	"fmt"
	"time"
)

// FlowID identifies a traffic flow (the generator id).
type FlowID int

// Flow is a configured stream of fixed-size packets between two nodes.
// It is active in [Start, Stop) and emits at most MaxPackets packets;
// MaxPackets == 0 means the budget is unlimited.
type Flow struct {
	ID            FlowID
	SourceID      NodeID
	DestinationID NodeID
	Interval      time.Duration
	PacketSize    int
	MaxPackets    int
	Start         time.Duration
	Stop          time.Duration
	// RetryWhileUnattached keeps the flow polling its terminal's attachment
	// every Interval instead of suspending on the first unattached emission.
	RetryWhileUnattached bool
}

// Validate checks the flow's own parameters (not its node references).
func (f Flow) Validate() error {
	switch {
	case f.Interval <= 0:
		return fmt.Errorf("%w: flow %d interval must be positive, got %s", ErrInvalidConfig, f.ID, f.Interval)
	case f.PacketSize <= 0:
		return fmt.Errorf("%w: flow %d packet size must be positive, got %d", ErrInvalidConfig, f.ID, f.PacketSize)
	case f.MaxPackets < 0:
		return fmt.Errorf("%w: flow %d packet count must not be negative, got %d", ErrInvalidConfig, f.ID, f.MaxPackets)
	case f.Start < 0:
		return fmt.Errorf("%w: flow %d start must not be negative, got %s", ErrInvalidConfig, f.ID, f.Start)
	case f.Stop <= f.Start:
		return fmt.Errorf("%w: flow %d stop %s must be after start %s", ErrInvalidConfig, f.ID, f.Stop, f.Start)
	}
	return nil
}

// FlowState is the lifecycle state of an installed flow.
type FlowState int

const (
	FlowPending FlowState = iota
	FlowActive
	FlowSuspended
	FlowCompleted
	FlowExpired
	FlowStopped
)

func (s FlowState) String() string {
	switch s {
	case FlowPending:
		return "pending"
	case FlowActive:
		return "active"
	case FlowSuspended:
		return "suspended"
	case FlowCompleted:
		return "completed"
	case FlowExpired:
		return "expired"
	case FlowStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminated reports whether the flow will never emit again.
func (s FlowState) Terminated() bool {
	return s == FlowSuspended || s == FlowCompleted || s == FlowExpired || s == FlowStopped
}
