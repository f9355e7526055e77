package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/signalsfoundry/cellular-simulator/internal/logging"
	"github.com/signalsfoundry/cellular-simulator/internal/sim/scheduler"
	"github.com/signalsfoundry/cellular-simulator/kb"
	"github.com/signalsfoundry/cellular-simulator/model"
	"github.com/signalsfoundry/cellular-simulator/timectrl"
)

// ErrAlreadyRan indicates Run was called twice on the same engine.
var ErrAlreadyRan = errors.New("simulation engine already ran")

// MetricsRecorder receives everything the engine reports about a run.
// observability.SimCollector implements it.
type MetricsRecorder interface {
	AttachmentRecorder
	TrafficRecorder
	SetSimTime(t time.Duration)
}

// runObserver is implemented by scheduler metrics that also time whole runs.
type runObserver interface {
	ObserveRun(d time.Duration)
}

// RunResult is everything a completed run produced.
type RunResult struct {
	Records           []model.TraceRecord
	FlowStats         []model.FlowStats
	AttachmentHistory []model.AttachmentEvent
	// FinalPositions holds every node at the stop time, sorted by id.
	FinalPositions []model.Node
	EventsExecuted uint64
	SimTime        time.Duration
}

// SimulationEngine wires the topology, mobility, channel, attachment and
// traffic components of one scenario to a single scheduler.
type SimulationEngine struct {
	KB         *kb.KnowledgeBase
	Clock      *timectrl.TimeController
	Scheduler  *scheduler.Scheduler
	Motion     *MotionService
	Links      *LinkEvaluator
	Attachment *AttachmentManager
	Traffic    *TrafficGenerator
	Sink       *Sink

	scenario model.Scenario
	bsIDs    []model.NodeID
	utIDs    []model.NodeID

	log            logging.Logger
	channel        ChannelModel
	metrics        MetricsRecorder
	schedMetrics   scheduler.Metrics
	tracer         trace.Tracer
	traceCallbacks []func(model.TraceRecord)
	clockMode      timectrl.Mode
	clockTick      time.Duration

	ran bool
}

// Option customises a SimulationEngine.
type Option func(*SimulationEngine)

// WithLogger attaches a structured logger to the engine and its components.
func WithLogger(log logging.Logger) Option {
	return func(e *SimulationEngine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithChannelModel replaces the default TR 38.901 channel model.
func WithChannelModel(m ChannelModel) Option {
	return func(e *SimulationEngine) {
		if m != nil {
			e.channel = m
		}
	}
}

// WithMetrics attaches a traffic/attachment metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *SimulationEngine) { e.metrics = m }
}

// WithSchedulerMetrics attaches a scheduler metrics recorder.
func WithSchedulerMetrics(m scheduler.Metrics) Option {
	return func(e *SimulationEngine) { e.schedMetrics = m }
}

// WithTracer records "scenario.run" and "attachment.evaluate" spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *SimulationEngine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithTraceCallback registers fn to be called once per delivered packet,
// in delivery order. It sees the same sequence as RunResult.Records.
func WithTraceCallback(fn func(model.TraceRecord)) Option {
	return func(e *SimulationEngine) {
		if fn != nil {
			e.traceCallbacks = append(e.traceCallbacks, fn)
		}
	}
}

// WithClockMode selects Accelerated (default) or RealTime pacing. In
// RealTime mode one tick of simulated time takes one tick of wall time.
func WithClockMode(mode timectrl.Mode, tick time.Duration) Option {
	return func(e *SimulationEngine) {
		e.clockMode = mode
		if tick > 0 {
			e.clockTick = tick
		}
	}
}

// NewSimulationEngine validates the scenario, builds every component and
// performs the initial attachment at t=0. Configuration errors are
// returned before anything is scheduled.
func NewSimulationEngine(sc model.Scenario, opts ...Option) (*SimulationEngine, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	e := &SimulationEngine{
		scenario:  sc,
		log:       logging.Noop(),
		channel:   ThreeGPPChannelModel{},
		tracer:    noop.NewTracerProvider().Tracer("engine"),
		clockMode: timectrl.Accelerated,
		clockTick: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	cfg := sc.Config

	e.KB = kb.NewKnowledgeBase()
	e.Motion = NewMotionService(e.KB, e.log.With(logging.String("component", "mobility")))
	hBS, hUT := cfg.Class.DefaultHeights()
	for _, spec := range sc.BaseStations {
		if err := e.addNode(spec, model.RoleBaseStation, hBS); err != nil {
			return nil, err
		}
		e.bsIDs = append(e.bsIDs, spec.ID)
	}
	for _, spec := range sc.Terminals {
		if err := e.addNode(spec, model.RoleTerminal, hUT); err != nil {
			return nil, err
		}
		e.utIDs = append(e.utIDs, spec.ID)
	}

	e.Clock = timectrl.NewTimeController(e.clockTick, e.clockMode)
	e.Scheduler = scheduler.New(e.Clock,
		scheduler.WithLogger(e.log.With(logging.String("component", "scheduler"))),
		scheduler.WithMetrics(e.schedMetrics),
	)
	if e.metrics != nil {
		e.Clock.AddListener(e.metrics.SetSimTime)
	}

	e.Links = NewLinkEvaluator(e.channel, cfg, NewRandomSource(cfg.Seed))
	e.Attachment = NewAttachmentManager(e.KB, e.Links, e.Clock,
		WithAttachmentLogger(e.log.With(logging.String("component", "attachment"))),
		WithAttachmentRecorder(e.metrics),
		WithAttachmentTracer(e.tracer),
		WithPositionSyncer(e.Motion),
	)

	e.Sink = NewSink()
	for _, fn := range e.traceCallbacks {
		e.Sink.Subscribe(fn)
	}
	e.Traffic = NewTrafficGenerator(e.Scheduler, e.KB, e.Attachment, e.Sink,
		WithTrafficLogger(e.log.With(logging.String("component", "traffic"))),
		WithTrafficRecorder(e.metrics),
	)

	if err := e.Attachment.AttachClosest(context.Background(), e.utIDs, e.bsIDs); err != nil {
		return nil, fmt.Errorf("initial attachment: %w", err)
	}
	return e, nil
}

func (e *SimulationEngine) addNode(spec model.NodeSpec, role model.Role, defaultHeight float64) error {
	z := defaultHeight
	if spec.Z != nil {
		z = *spec.Z
	}
	n := model.Node{
		ID:       spec.ID,
		Role:     role,
		Name:     spec.Name,
		Position: model.Vec3{X: spec.X, Y: spec.Y, Z: z},
		Velocity: spec.Velocity,
	}
	if err := e.KB.AddNode(n); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidConfig, err)
	}
	e.Motion.AddNode(n)
	return nil
}

// Config returns the scenario configuration.
func (e *SimulationEngine) Config() model.ScenarioConfig { return e.scenario.Config }

// BaseStations returns the base-station ids in declaration order.
func (e *SimulationEngine) BaseStations() []model.NodeID {
	return append([]model.NodeID(nil), e.bsIDs...)
}

// Terminals returns the terminal ids in declaration order.
func (e *SimulationEngine) Terminals() []model.NodeID {
	return append([]model.NodeID(nil), e.utIDs...)
}

// Run schedules handovers, mobility ticks and flows, then executes events
// until the configured duration. An engine runs once.
func (e *SimulationEngine) Run(ctx context.Context) (*RunResult, error) {
	if e.ran {
		return nil, ErrAlreadyRan
	}
	e.ran = true

	cfg := e.scenario.Config
	ctx, log := logging.WithRunLogger(ctx, e.log)
	ctx, span := e.tracer.Start(ctx, "scenario.run", trace.WithAttributes(
		attribute.String("scenario.class", cfg.Class.String()),
		attribute.String("scenario.condition", cfg.ConditionPolicy.String()),
		attribute.Float64("scenario.duration_s", cfg.Duration.Seconds()),
		attribute.Int64("scenario.seed", int64(cfg.Seed)),
		attribute.Int("scenario.base_stations", len(e.bsIDs)),
		attribute.Int("scenario.terminals", len(e.utIDs)),
		attribute.Int("scenario.flows", len(e.scenario.Flows)),
	))
	defer span.End()

	log.Info(ctx, "scenario starting",
		logging.String("class", cfg.Class.String()),
		logging.String("condition", cfg.ConditionPolicy.String()),
		logging.Float("frequency_hz", cfg.FrequencyHz),
		logging.Duration("duration", cfg.Duration),
		logging.Uint64("seed", cfg.Seed),
		logging.Int("base_stations", len(e.bsIDs)),
		logging.Int("terminals", len(e.utIDs)),
		logging.Int("flows", len(e.scenario.Flows)),
	)

	// Handover events go in first so that at equal timestamps they run
	// before packet emissions.
	for _, at := range e.scenario.Reattachments {
		if _, err := e.Scheduler.ScheduleAt(at, func() { e.reattach(ctx, log) }); err != nil {
			return nil, e.fail(span, fmt.Errorf("schedule reattachment: %w", err))
		}
	}
	// Periodic re-evaluations are queued up front too; chaining them from
	// inside the previous one would put them behind emissions queued for
	// the same instant.
	if cfg.ReattachInterval > 0 {
		for at := cfg.ReattachInterval; at < cfg.Duration; at += cfg.ReattachInterval {
			if _, err := e.Scheduler.ScheduleAt(at, func() { e.reattach(ctx, log) }); err != nil {
				return nil, e.fail(span, fmt.Errorf("schedule periodic reattachment: %w", err))
			}
		}
	}
	if err := e.Motion.Start(e.Scheduler, cfg.MobilityTick); err != nil {
		return nil, e.fail(span, fmt.Errorf("start mobility: %w", err))
	}
	for _, f := range e.scenario.Flows {
		if err := e.Traffic.Install(f); err != nil {
			return nil, e.fail(span, err)
		}
	}

	wallStart := time.Now()
	runErr := e.Scheduler.Run(ctx, cfg.Duration)
	if runErr == nil {
		// A drained queue still ends the run at the scenario duration.
		runErr = e.Clock.AdvanceTo(ctx, cfg.Duration)
	}
	if ro, ok := e.schedMetrics.(runObserver); ok {
		ro.ObserveRun(time.Since(wallStart))
	}
	if runErr != nil {
		log.Warn(ctx, "scenario aborted", logging.SimTime(e.Clock.Now()), logging.Err(runErr))
		return nil, e.fail(span, runErr)
	}

	if err := e.Motion.Sync(e.Clock.Now()); err != nil {
		return nil, e.fail(span, err)
	}

	res := &RunResult{
		Records:           e.Sink.Records(),
		FlowStats:         e.Sink.FlowStats(),
		AttachmentHistory: e.Attachment.History(),
		FinalPositions:    e.KB.ListNodes(),
		EventsExecuted:    e.Scheduler.Executed(),
		SimTime:           e.Clock.Now(),
	}
	span.SetAttributes(
		attribute.Int("scenario.records", len(res.Records)),
		attribute.Int64("scenario.events_executed", int64(res.EventsExecuted)),
	)
	log.Info(ctx, "scenario finished",
		logging.SimTime(res.SimTime),
		logging.Int("records", len(res.Records)),
		logging.Int("attachment_changes", len(res.AttachmentHistory)),
		logging.Uint64("events_executed", res.EventsExecuted),
		logging.Duration("wall_time", time.Since(wallStart)),
	)
	return res, nil
}

func (e *SimulationEngine) reattach(ctx context.Context, log logging.Logger) {
	if err := e.Attachment.AttachClosest(ctx, e.utIDs, e.bsIDs); err != nil {
		log.Warn(ctx, "reattachment failed", logging.SimTime(e.Clock.Now()), logging.Err(err))
	}
}

func (e *SimulationEngine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
