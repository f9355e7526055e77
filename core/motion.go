package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/cellular-simulator/internal/logging"
	"github.com/signalsfoundry/cellular-simulator/internal/sim/scheduler"
	"github.com/signalsfoundry/cellular-simulator/model"
)

// ErrUnknownNode indicates a node id that was never registered with a
// core component.
var ErrUnknownNode = errors.New("unknown node")

// EventScheduler is the part of the scheduler the core components use.
type EventScheduler interface {
	Now() time.Duration
	Schedule(delay time.Duration, f func()) (scheduler.EventHandle, error)
	ScheduleAt(at time.Duration, f func()) (scheduler.EventHandle, error)
	Cancel(h scheduler.EventHandle)
}

// MotionModel gives the exact position of a node at any simulation time.
type MotionModel interface {
	PositionAt(t time.Duration) model.Vec3
	Velocity() model.Vec3
}

// StaticMotionModel never moves.
type StaticMotionModel struct {
	Position model.Vec3
}

// PositionAt returns the fixed position.
func (m StaticMotionModel) PositionAt(time.Duration) model.Vec3 { return m.Position }

// Velocity is always zero.
func (m StaticMotionModel) Velocity() model.Vec3 { return model.Vec3{} }

// ConstantVelocityMotionModel moves in a straight line from Origin, where
// the node was at Epoch. Positions are unbounded.
type ConstantVelocityMotionModel struct {
	Origin model.Vec3
	Vel    model.Vec3
	Epoch  time.Duration
}

// PositionAt returns Origin + Vel*(t-Epoch).
func (m ConstantVelocityMotionModel) PositionAt(t time.Duration) model.Vec3 {
	return m.Origin.Add(m.Vel.Scale((t - m.Epoch).Seconds()))
}

// Velocity returns the constant velocity.
func (m ConstantVelocityMotionModel) Velocity() model.Vec3 { return m.Vel }

// NewMotionModel picks the model for a node anchored at time epoch: static
// when its velocity is zero, constant velocity otherwise.
func NewMotionModel(pos, vel model.Vec3, epoch time.Duration) MotionModel {
	if vel.IsZero() {
		return StaticMotionModel{Position: pos}
	}
	return ConstantVelocityMotionModel{Origin: pos, Vel: vel, Epoch: epoch}
}

// PositionUpdater is where the motion service writes positions.
// kb.KnowledgeBase implements it.
type PositionUpdater interface {
	UpdateNodePosition(id model.NodeID, pos model.Vec3) error
	UpdateNodeVelocity(id model.NodeID, vel model.Vec3) error
}

// MotionService owns the motion model of every node and keeps the
// topology store in step with them.
type MotionService struct {
	store PositionUpdater
	log   logging.Logger

	models map[model.NodeID]MotionModel
	ids    []model.NodeID

	sched  EventScheduler
	tick   time.Duration
	ticker scheduler.EventHandle
	ticks  int
}

// NewMotionService constructs a motion service writing to store.
func NewMotionService(store PositionUpdater, log logging.Logger) *MotionService {
	if log == nil {
		log = logging.Noop()
	}
	return &MotionService{
		store:  store,
		log:    log,
		models: make(map[model.NodeID]MotionModel),
	}
}

// AddNode registers a node using its position and velocity at t=0.
func (ms *MotionService) AddNode(n model.Node) {
	ms.SetModel(n.ID, NewMotionModel(n.Position, n.Velocity, 0))
}

// SetModel installs or replaces the motion model of a node.
func (ms *MotionService) SetModel(id model.NodeID, m MotionModel) {
	if _, exists := ms.models[id]; !exists {
		ms.ids = append(ms.ids, id)
		sort.Slice(ms.ids, func(i, j int) bool { return ms.ids[i] < ms.ids[j] })
	}
	ms.models[id] = m
}

// PositionAt returns the exact analytic position of a node at t.
func (ms *MotionService) PositionAt(id model.NodeID, t time.Duration) (model.Vec3, error) {
	m, ok := ms.models[id]
	if !ok {
		return model.Vec3{}, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return m.PositionAt(t), nil
}

// Mobile reports whether any registered node has a nonzero velocity.
func (ms *MotionService) Mobile() bool {
	for _, id := range ms.ids {
		if !ms.models[id].Velocity().IsZero() {
			return true
		}
	}
	return false
}

// Sync writes the position of every moving node at t into the store.
// Static nodes are skipped since their stored position cannot be stale.
func (ms *MotionService) Sync(t time.Duration) error {
	for _, id := range ms.ids {
		m := ms.models[id]
		if _, static := m.(StaticMotionModel); static {
			continue
		}
		if err := ms.store.UpdateNodePosition(id, m.PositionAt(t)); err != nil {
			return fmt.Errorf("sync node %d: %w", id, err)
		}
	}
	return nil
}

// SetVelocity changes a node's velocity at time t. The node keeps its
// position at t and moves along the new velocity from there.
func (ms *MotionService) SetVelocity(id model.NodeID, vel model.Vec3, t time.Duration) error {
	pos, err := ms.PositionAt(id, t)
	if err != nil {
		return err
	}
	ms.models[id] = NewMotionModel(pos, vel, t)
	if err := ms.store.UpdateNodePosition(id, pos); err != nil {
		return err
	}
	return ms.store.UpdateNodeVelocity(id, vel)
}

// Start registers the recurring observer tick. Each tick calls Sync so
// that store subscribers see fresh positions; core queries call Sync
// themselves and never depend on the tick. A non-positive tick or a
// scenario with no moving node registers nothing.
func (ms *MotionService) Start(sched EventScheduler, tick time.Duration) error {
	if tick <= 0 || !ms.Mobile() {
		return nil
	}
	ms.sched = sched
	ms.tick = tick
	return ms.scheduleTick()
}

// Stop cancels the pending observer tick.
func (ms *MotionService) Stop() {
	if ms.sched != nil {
		ms.sched.Cancel(ms.ticker)
	}
}

// Ticks returns how many observer ticks have run.
func (ms *MotionService) Ticks() int { return ms.ticks }

func (ms *MotionService) scheduleTick() error {
	h, err := ms.sched.Schedule(ms.tick, ms.onTick)
	if err != nil {
		return err
	}
	ms.ticker = h
	return nil
}

func (ms *MotionService) onTick() {
	now := ms.sched.Now()
	ms.ticks++
	if err := ms.Sync(now); err != nil {
		ms.log.Warn(context.Background(), "mobility sync failed",
			logging.SimTime(now), logging.Err(err))
	}
	if err := ms.scheduleTick(); err != nil {
		ms.log.Error(context.Background(), "mobility tick reschedule failed",
			logging.SimTime(now), logging.Err(err))
	}
}
