package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/signalsfoundry/cellular-simulator/internal/logging"
	"github.com/signalsfoundry/cellular-simulator/model"
)

// ErrNoCandidate is matched by every NoCandidateError.
var ErrNoCandidate = errors.New("no candidate base station")

// NoCandidateError reports an attachment request with an empty base-station
// set. The listed terminals keep their previous state.
type NoCandidateError struct {
	Terminals []model.NodeID
}

func (e *NoCandidateError) Error() string {
	return fmt.Sprintf("no candidate base station for terminals %v", e.Terminals)
}

// Is lets errors.Is(err, ErrNoCandidate) match.
func (e *NoCandidateError) Is(target error) bool {
	return target == ErrNoCandidate
}

// AttachmentState is the serving cell of one terminal.
type AttachmentState struct {
	Attached bool
	CellID   model.NodeID
	RNTI     uint16
	Since    time.Duration
}

// Unattached is the state of a terminal with no serving cell.
var Unattached = AttachmentState{CellID: model.NoCell}

// AttachmentRecorder receives attachment activity. observability.SimCollector
// implements it.
type AttachmentRecorder interface {
	ObserveAttachment(ev model.AttachmentEvent)
	SetAttachedTerminals(n int)
}

// NodeReader resolves node ids to their current records.
type NodeReader interface {
	GetNode(id model.NodeID) (model.Node, error)
}

// PositionSyncer brings stored positions up to date before links are
// evaluated.
type PositionSyncer interface {
	Sync(t time.Duration) error
}

// AttachmentManager associates terminals with base stations. Handover
// happens only when AttachClosest is called again.
type AttachmentManager struct {
	nodes  NodeReader
	motion PositionSyncer
	links  *LinkEvaluator
	clock  interface{ Now() time.Duration }

	log     logging.Logger
	metrics AttachmentRecorder
	tracer  trace.Tracer

	states    map[model.NodeID]AttachmentState
	lastRNTI  map[model.NodeID]uint16
	history   []model.AttachmentEvent
	observers []func(model.AttachmentEvent)
}

// AttachmentOption customises an AttachmentManager.
type AttachmentOption func(*AttachmentManager)

// WithAttachmentLogger attaches a structured logger.
func WithAttachmentLogger(log logging.Logger) AttachmentOption {
	return func(m *AttachmentManager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithAttachmentRecorder attaches a metrics recorder.
func WithAttachmentRecorder(r AttachmentRecorder) AttachmentOption {
	return func(m *AttachmentManager) { m.metrics = r }
}

// WithAttachmentTracer records an "attachment.evaluate" span per call.
func WithAttachmentTracer(t trace.Tracer) AttachmentOption {
	return func(m *AttachmentManager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithPositionSyncer makes AttachClosest sync positions to the clock's
// current time before evaluating links.
func WithPositionSyncer(s PositionSyncer) AttachmentOption {
	return func(m *AttachmentManager) { m.motion = s }
}

// NewAttachmentManager constructs a manager with every terminal unattached.
func NewAttachmentManager(nodes NodeReader, links *LinkEvaluator, clock interface{ Now() time.Duration }, opts ...AttachmentOption) *AttachmentManager {
	m := &AttachmentManager{
		nodes:    nodes,
		links:    links,
		clock:    clock,
		log:      logging.Noop(),
		tracer:   noop.NewTracerProvider().Tracer("attachment"),
		states:   make(map[model.NodeID]AttachmentState),
		lastRNTI: make(map[model.NodeID]uint16),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnAttach registers fn to be called for every association change, in the
// order changes happen.
func (m *AttachmentManager) OnAttach(fn func(model.AttachmentEvent)) {
	m.observers = append(m.observers, fn)
}

// AttachClosest assigns each terminal to the base station with the highest
// link quality right now. Ties go to the lowest base-station id. A terminal
// already served by the winning cell keeps its RNTI and produces no event.
//
// An empty base-station set fails with *NoCandidateError and changes nothing.
func (m *AttachmentManager) AttachClosest(ctx context.Context, terminals, baseStations []model.NodeID) error {
	if len(terminals) == 0 {
		return nil
	}
	if len(baseStations) == 0 {
		return &NoCandidateError{Terminals: append([]model.NodeID(nil), terminals...)}
	}

	now := m.clock.Now()
	ctx, span := m.tracer.Start(ctx, "attachment.evaluate", trace.WithAttributes(
		attribute.Int("attachment.terminals", len(terminals)),
		attribute.Int("attachment.base_stations", len(baseStations)),
		attribute.Float64("sim.time_s", now.Seconds()),
	))
	defer span.End()

	if m.motion != nil {
		if err := m.motion.Sync(now); err != nil {
			span.RecordError(err)
			return fmt.Errorf("attach: %w", err)
		}
	}

	cells, err := m.loadSorted(baseStations)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("attach: %w", err)
	}

	changes := 0
	for _, utID := range terminals {
		ut, err := m.nodes.GetNode(utID)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("attach terminal: %w", err)
		}

		best := m.links.Evaluate(cells[0], ut)
		for _, bs := range cells[1:] {
			// Strictly greater keeps the lowest id on ties.
			if l := m.links.Evaluate(bs, ut); l.Quality > best.Quality {
				best = l
			}
		}

		if m.assign(ctx, utID, best, now) {
			changes++
		}
	}

	span.SetAttributes(attribute.Int("attachment.changes", changes))
	return nil
}

// Detach makes a terminal unattached. Flows governed by it stop emitting
// at their next emission.
func (m *AttachmentManager) Detach(id model.NodeID) {
	prev, ok := m.states[id]
	if !ok || !prev.Attached {
		return
	}
	now := m.clock.Now()
	m.states[id] = AttachmentState{CellID: model.NoCell, Since: now}
	m.record(model.AttachmentEvent{
		Time:       now,
		TerminalID: id,
		FromCell:   prev.CellID,
		ToCell:     model.NoCell,
	})
	m.log.Debug(context.Background(), "terminal detached",
		logging.SimTime(now), logging.Int("terminal", int(id)), logging.Int("cell", int(prev.CellID)))
}

// Attachment returns the current state of a terminal.
func (m *AttachmentManager) Attachment(id model.NodeID) AttachmentState {
	if st, ok := m.states[id]; ok {
		return st
	}
	return Unattached
}

// AttachedCount returns the number of attached terminals.
func (m *AttachmentManager) AttachedCount() int {
	n := 0
	for _, st := range m.states {
		if st.Attached {
			n++
		}
	}
	return n
}

// History returns a copy of all association changes in order.
func (m *AttachmentManager) History() []model.AttachmentEvent {
	return append([]model.AttachmentEvent(nil), m.history...)
}

func (m *AttachmentManager) loadSorted(ids []model.NodeID) ([]model.Node, error) {
	nodes := make([]model.Node, 0, len(ids))
	for _, id := range ids {
		n, err := m.nodes.GetNode(id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (m *AttachmentManager) assign(ctx context.Context, utID model.NodeID, link model.Link, now time.Duration) bool {
	prev := m.Attachment(utID)
	if prev.Attached && prev.CellID == link.BaseStationID {
		return false
	}

	rnti := m.nextRNTI(link.BaseStationID)
	m.states[utID] = AttachmentState{
		Attached: true,
		CellID:   link.BaseStationID,
		RNTI:     rnti,
		Since:    now,
	}
	m.record(model.AttachmentEvent{
		Time:       now,
		TerminalID: utID,
		FromCell:   prev.CellID,
		ToCell:     link.BaseStationID,
		RNTI:       rnti,
		Quality:    link.Quality,
	})

	m.log.Debug(ctx, "terminal attached",
		logging.SimTime(now),
		logging.Int("terminal", int(utID)),
		logging.Int("cell", int(link.BaseStationID)),
		logging.Int("rnti", int(rnti)),
		logging.String("condition", link.Condition.String()),
		logging.Float("quality_dbm", link.Quality),
	)
	return true
}

// nextRNTI hands out per-cell identifiers starting at 1. Zero is skipped
// on wrap-around.
func (m *AttachmentManager) nextRNTI(cell model.NodeID) uint16 {
	r := m.lastRNTI[cell] + 1
	if r == 0 {
		r = 1
	}
	m.lastRNTI[cell] = r
	return r
}

func (m *AttachmentManager) record(ev model.AttachmentEvent) {
	m.history = append(m.history, ev)
	if m.metrics != nil {
		m.metrics.ObserveAttachment(ev)
		m.metrics.SetAttachedTerminals(m.AttachedCount())
	}
	for _, fn := range m.observers {
		fn(ev)
	}
}
