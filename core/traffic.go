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

var (
	// ErrFlowExists indicates a flow with the same ID was already installed.
	ErrFlowExists = errors.New("flow already installed")
	// ErrUnknownFlow indicates a flow ID that was never installed.
	ErrUnknownFlow = errors.New("unknown flow")
)

// TrafficRecorder receives traffic activity. observability.SimCollector
// implements it.
type TrafficRecorder interface {
	ObservePacket(rec model.TraceRecord)
	ObserveSuspension(flow model.FlowID)
}

// AttachmentReader exposes the current serving cell of a terminal.
type AttachmentReader interface {
	Attachment(id model.NodeID) AttachmentState
}

type flowRuntime struct {
	flow     model.Flow
	terminal model.NodeID
	state    model.FlowState
	emitted  int
	next     scheduler.EventHandle
}

// TrafficGenerator drives installed flows. Each flow is a chain of
// emission events: one pending event at most, rescheduled by the previous
// emission.
type TrafficGenerator struct {
	sched   EventScheduler
	nodes   NodeReader
	attach  AttachmentReader
	sink    *Sink
	log     logging.Logger
	metrics TrafficRecorder

	flows map[model.FlowID]*flowRuntime
}

// TrafficOption customises a TrafficGenerator.
type TrafficOption func(*TrafficGenerator)

// WithTrafficLogger attaches a structured logger.
func WithTrafficLogger(log logging.Logger) TrafficOption {
	return func(g *TrafficGenerator) {
		if log != nil {
			g.log = log
		}
	}
}

// WithTrafficRecorder attaches a metrics recorder.
func WithTrafficRecorder(r TrafficRecorder) TrafficOption {
	return func(g *TrafficGenerator) { g.metrics = r }
}

// NewTrafficGenerator constructs a generator delivering into sink.
func NewTrafficGenerator(sched EventScheduler, nodes NodeReader, attach AttachmentReader, sink *Sink, opts ...TrafficOption) *TrafficGenerator {
	g := &TrafficGenerator{
		sched:  sched,
		nodes:  nodes,
		attach: attach,
		sink:   sink,
		log:    logging.Noop(),
		flows:  make(map[model.FlowID]*flowRuntime),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Install validates the flow and schedules its first emission at Start.
func (g *TrafficGenerator) Install(flow model.Flow) error {
	if err := flow.Validate(); err != nil {
		return err
	}
	if _, exists := g.flows[flow.ID]; exists {
		return fmt.Errorf("%w: %d", ErrFlowExists, flow.ID)
	}
	terminal, err := g.governingTerminal(flow)
	if err != nil {
		return err
	}

	fr := &flowRuntime{flow: flow, terminal: terminal, state: model.FlowPending}
	h, err := g.sched.ScheduleAt(flow.Start, func() { g.emit(fr) })
	if err != nil {
		return fmt.Errorf("install flow %d: %w", flow.ID, err)
	}
	fr.next = h
	g.flows[flow.ID] = fr
	g.sink.registerFlow(flow.ID)
	return nil
}

// governingTerminal is the endpoint whose attachment routes the flow: the
// source when it is a terminal, otherwise the destination.
func (g *TrafficGenerator) governingTerminal(flow model.Flow) (model.NodeID, error) {
	for _, id := range []model.NodeID{flow.SourceID, flow.DestinationID} {
		n, err := g.nodes.GetNode(id)
		if err != nil {
			return 0, fmt.Errorf("flow %d: %w", flow.ID, err)
		}
		if n.Role == model.RoleTerminal {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: flow %d has no terminal endpoint", model.ErrInvalidConfig, flow.ID)
}

// Stop cancels the flow's pending emission. Stopping a terminated flow is
// a no-op.
func (g *TrafficGenerator) Stop(id model.FlowID) error {
	fr, ok := g.flows[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownFlow, id)
	}
	if fr.state.Terminated() {
		return nil
	}
	g.sched.Cancel(fr.next)
	fr.next = scheduler.EventHandle{}
	fr.state = model.FlowStopped
	return nil
}

// State returns the lifecycle state of a flow.
func (g *TrafficGenerator) State(id model.FlowID) (model.FlowState, error) {
	fr, ok := g.flows[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownFlow, id)
	}
	return fr.state, nil
}

// Emitted returns how many packets the flow has sent.
func (g *TrafficGenerator) Emitted(id model.FlowID) int {
	if fr, ok := g.flows[id]; ok {
		return fr.emitted
	}
	return 0
}

// Flows returns the installed flow ids in ascending order.
func (g *TrafficGenerator) Flows() []model.FlowID {
	ids := make([]model.FlowID, 0, len(g.flows))
	for id := range g.flows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (g *TrafficGenerator) emit(fr *flowRuntime) {
	fr.next = scheduler.EventHandle{}
	now := g.sched.Now()
	flow := fr.flow

	if now >= flow.Stop {
		fr.state = model.FlowExpired
		return
	}

	st := g.attach.Attachment(fr.terminal)
	if !st.Attached {
		if flow.RetryWhileUnattached {
			g.log.Debug(context.Background(), "flow waiting for attachment",
				logging.SimTime(now), logging.Int("flow", int(flow.ID)), logging.Int("terminal", int(fr.terminal)))
			g.continueAt(fr, now+flow.Interval)
			return
		}
		fr.state = model.FlowSuspended
		g.sink.noteSuspension(flow.ID)
		if g.metrics != nil {
			g.metrics.ObserveSuspension(flow.ID)
		}
		g.log.Debug(context.Background(), "flow suspended: terminal unattached",
			logging.SimTime(now), logging.Int("flow", int(flow.ID)), logging.Int("terminal", int(fr.terminal)))
		return
	}

	fr.state = model.FlowActive
	fr.emitted++
	rec := model.TraceRecord{
		Time:       now,
		IMSI:       fr.terminal,
		CellID:     st.CellID,
		RNTI:       st.RNTI,
		FlowID:     flow.ID,
		PacketSize: flow.PacketSize,
	}
	g.sink.noteTx(rec)
	// Delivery always succeeds once routed.
	g.sink.Deliver(rec)
	if g.metrics != nil {
		g.metrics.ObservePacket(rec)
	}

	if flow.MaxPackets > 0 && fr.emitted >= flow.MaxPackets {
		fr.state = model.FlowCompleted
		return
	}
	g.continueAt(fr, now+flow.Interval)
}

// continueAt schedules the next emission, or expires the flow when that
// instant is not before Stop.
func (g *TrafficGenerator) continueAt(fr *flowRuntime, at time.Duration) {
	if at >= fr.flow.Stop {
		fr.state = model.FlowExpired
		return
	}
	h, err := g.sched.ScheduleAt(at, func() { g.emit(fr) })
	if err != nil {
		// Only reachable with a broken clock; the flow cannot continue.
		fr.state = model.FlowStopped
		g.log.Error(context.Background(), "flow reschedule failed",
			logging.Int("flow", int(fr.flow.ID)), logging.Err(err))
		return
	}
	fr.next = h
}
