package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/signalsfoundry/cellular-simulator/core"
	"github.com/signalsfoundry/cellular-simulator/internal/config"
	"github.com/signalsfoundry/cellular-simulator/internal/logging"
	"github.com/signalsfoundry/cellular-simulator/internal/observability"
	"github.com/signalsfoundry/cellular-simulator/model"
)

// flagKeys maps command-line flags onto run-setting keys.
var flagKeys = map[string]string{
	"scenario":   config.KeyScenario,
	"seed":       config.KeySeed,
	"duration":   config.KeyDuration,
	"class":      config.KeyClass,
	"condition":  config.KeyCondition,
	"channel":    config.KeyChannelModel,
	"clock":      config.KeyClockMode,
	"tick":       config.KeyTick,
	"log-level":  config.KeyLogLevel,
	"log-format": config.KeyLogFormat,
	"trace":      config.KeyPrintTrace,
}

type options struct {
	configFile   string
	transceivers string
	transceiver  string
	overrides    map[string]any
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	configFile := fs.String("config", "", "optional run settings file (yaml or json)")
	fs.String("scenario", "", "scenario document (YAML or JSON)")
	fs.Uint64("seed", 0, "override the scenario random seed")
	fs.Duration("duration", 0, "override the simulated duration")
	fs.String("class", "", "override the scenario class (RMa, UMa, UMi-StreetCanyon, InH-OfficeMixed, InH-OfficeOpen, UMi-Buildings)")
	fs.String("condition", "", "override the channel condition policy: l, n, probabilistic, buildings")
	fs.String("channel", "", "channel model: 3gpp or free-space")
	fs.String("clock", "", "clock mode: accelerated or realtime")
	fs.Duration("tick", 0, "pacing quantum in realtime mode")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: text or json")
	fs.Bool("trace", true, "print one line per delivered packet")
	transceivers := fs.String("transceivers", "", "JSON transceiver catalogue used by the free-space model")
	transceiver := fs.String("transceiver", "", "transceiver id from the catalogue")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	o := options{
		configFile:   *configFile,
		transceivers: *transceivers,
		transceiver:  *transceiver,
		overrides:    make(map[string]any),
	}
	// Only flags given explicitly override, so file and env settings survive.
	fs.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			o.overrides[key] = f.Value.(flag.Getter).Get()
		}
	})
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, stdout io.Writer) error {
	cfg, err := config.Load(o.configFile, o.overrides)
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	sc, err := core.LoadScenarioFile(cfg.ScenarioPath)
	if err != nil {
		return err
	}
	if err := cfg.Apply(&sc); err != nil {
		return err
	}

	tracing := observability.TracingConfigFromEnv("ransim-simulator")
	tracing.Attributes = observability.ScenarioAttributes(sc)
	shutdown, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)
	channel, err := buildChannelModel(cfg.ChannelModel, o.transceivers, o.transceiver)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(stdout)
	defer out.Flush()

	opts := []core.Option{
		core.WithLogger(log),
		core.WithChannelModel(channel),
		core.WithTracer(observability.Tracer()),
		core.WithClockMode(cfg.ClockMode, cfg.Tick),
	}
	if cfg.PrintTrace {
		fmt.Fprintln(out, "Time\tIMSI\tCellId\tRNTI\tSize")
		opts = append(opts, core.WithTraceCallback(func(r model.TraceRecord) {
			fmt.Fprintf(out, "%.6f\t%d\t%d\t%d\t%d\n", r.Time.Seconds(), r.IMSI, r.CellID, r.RNTI, r.PacketSize)
		}))
	}

	engine, err := core.NewSimulationEngine(sc, opts...)
	if err != nil {
		return err
	}
	res, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	writeSummary(out, res)
	return nil
}

func buildChannelModel(name, catalogue, id string) (core.ChannelModel, error) {
	channel, err := core.NewChannelModel(name)
	if err != nil {
		return nil, err
	}
	if catalogue == "" && id == "" {
		return channel, nil
	}
	free, ok := channel.(core.FreeSpaceChannelModel)
	if !ok {
		return nil, fmt.Errorf("transceiver models only apply to the free-space channel model, not %q", name)
	}

	f, err := os.Open(catalogue)
	if err != nil {
		return nil, fmt.Errorf("open transceiver catalogue: %w", err)
	}
	defer f.Close()
	trxs, err := core.LoadTransceiverModels(f)
	if err != nil {
		return nil, err
	}
	if id == "" && len(trxs) > 0 {
		id = trxs[0].ID
	}
	trx, err := core.FindTransceiver(trxs, id)
	if err != nil {
		return nil, err
	}
	free.Transceiver = trx
	return free, nil
}

func writeSummary(w io.Writer, res *core.RunResult) {
	fmt.Fprintf(w, "# simulated %.3fs, %d events, %d records, %d attachment changes\n",
		res.SimTime.Seconds(), res.EventsExecuted, len(res.Records), len(res.AttachmentHistory))
	for _, st := range res.FlowStats {
		fmt.Fprintf(w, "# flow %d: tx=%d rx=%d rx_bytes=%d first_tx=%.6f last_tx=%.6f suspensions=%d\n",
			st.FlowID, st.TxPackets, st.RxPackets, st.RxBytes, st.FirstTx.Seconds(), st.LastTx.Seconds(), st.Suspensions)
	}
}
