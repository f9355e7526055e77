package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/cellular-simulator/core"
	"github.com/signalsfoundry/cellular-simulator/internal/config"
	"github.com/signalsfoundry/cellular-simulator/internal/logging"
	"github.com/signalsfoundry/cellular-simulator/internal/observability"
	"github.com/signalsfoundry/cellular-simulator/model"
)

// healthService is the health-check service name that tracks the run. It
// reports SERVING while the scenario executes and NOT_SERVING once it has
// finished.
const healthService = "ransim.Simulation"

func main() {
	configFile := flag.String("config", "", "optional run settings file (yaml or json)")
	scenarioPath := flag.String("scenario", "", "scenario document (YAML or JSON)")
	grpcAddr := flag.String("grpc-addr", "", "TCP address of the gRPC health endpoint")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics")
	linger := flag.Bool("linger", true, "keep serving metrics and health after the run until interrupted")
	flag.Parse()

	overrides := make(map[string]any)
	// The server paces by default; a config file or env can still choose otherwise.
	overrides[config.KeyClockMode] = "realtime"
	if *configFile != "" || os.Getenv(config.EnvPrefix+"_CLOCK_MODE") != "" {
		delete(overrides, config.KeyClockMode)
	}
	if *scenarioPath != "" {
		overrides[config.KeyScenario] = *scenarioPath
	}
	if *grpcAddr != "" {
		overrides[config.KeyGRPCAddr] = *grpcAddr
	}
	if *metricsAddr != "" {
		overrides[config.KeyMetricsAddr] = *metricsAddr
	}

	cfg, err := config.Load(*configFile, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sim-server: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sc, err := core.LoadScenarioFile(cfg.ScenarioPath)
	if err == nil {
		err = cfg.Apply(&sc)
	}
	if err != nil {
		log.Error(ctx, "failed to load scenario", logging.String("path", cfg.ScenarioPath), logging.Err(err))
		os.Exit(1)
	}

	tracing := observability.TracingConfigFromEnv("ransim-sim-server")
	tracing.Attributes = observability.ScenarioAttributes(sc)
	shutdown, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	srv, err := newServer(cfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialise server", logging.Err(err))
		os.Exit(1)
	}
	srv.linger = *linger

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}
	if err := srv.run(ctx, sc, lis); err != nil {
		log.Error(ctx, "sim-server exited", logging.Err(err))
		os.Exit(1)
	}
}

type server struct {
	cfg    config.RunConfig
	log    logging.Logger
	linger bool

	registry     *prometheus.Registry
	collector    *observability.SimCollector
	schedMetrics *observability.SchedulerCollector

	grpc   *grpc.Server
	health *health.Server
}

func newServer(cfg config.RunConfig, log logging.Logger) (*server, error) {
	if log == nil {
		log = logging.Noop()
	}
	reg := prometheus.NewRegistry()
	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("sim metrics: %w", err)
	}
	schedMetrics, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("scheduler metrics: %w", err)
	}

	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			requestLogUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &server{
		cfg:          cfg,
		log:          log,
		registry:     reg,
		collector:    collector,
		schedMetrics: schedMetrics,
		grpc:         gs,
		health:       hs,
	}, nil
}

// run serves health and metrics, executes the scenario, then either
// returns or, when lingering, keeps serving until ctx is done.
func (s *server) run(ctx context.Context, sc model.Scenario, lis net.Listener) error {
	metricsSrv := s.serveMetrics()
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	s.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpc.Serve(lis)
	}()
	s.log.Info(ctx, "serving gRPC health", logging.String("addr", lis.Addr().String()))
	defer func() {
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	channel, err := core.NewChannelModel(s.cfg.ChannelModel)
	if err != nil {
		return err
	}
	engine, err := core.NewSimulationEngine(sc,
		core.WithLogger(s.log),
		core.WithChannelModel(channel),
		core.WithMetrics(s.collector),
		core.WithSchedulerMetrics(s.schedMetrics),
		core.WithTracer(observability.Tracer()),
		core.WithClockMode(s.cfg.ClockMode, s.cfg.Tick),
	)
	if err != nil {
		return err
	}

	res, err := engine.Run(ctx)
	s.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	switch {
	case errors.Is(err, context.Canceled):
		s.log.Info(context.Background(), "run interrupted", logging.SimTime(engine.Clock.Now()))
		return nil
	case err != nil:
		return err
	}
	s.log.Info(ctx, "run complete",
		logging.SimTime(res.SimTime),
		logging.Int("records", len(res.Records)),
		logging.Uint64("events_executed", res.EventsExecuted),
	)

	if !s.linger {
		return nil
	}
	select {
	case <-ctx.Done():
		s.log.Info(context.Background(), "shutting down sim-server")
		return nil
	case err := <-serveErr:
		return err
	}
}

func (s *server) serveMetrics() *http.Server {
	if s.cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.collector.Handler())

	srv := &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	s.log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", s.cfg.MetricsAddr))
	return srv
}
