package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/cellular-simulator/model"
)

// SimCollector bundles Prometheus metrics for a simulation run: traffic
// delivered, attachment activity and the control-plane RPC surface of
// sim-server.
type SimCollector struct {
	gatherer prometheus.Gatherer

	PacketsDelivered *prometheus.CounterVec
	BytesDelivered   *prometheus.CounterVec
	FlowSuspensions  *prometheus.CounterVec
	Attachments      *prometheus.CounterVec
	Handovers        prometheus.Counter

	AttachedTerminals prometheus.Gauge
	SimTime           prometheus.Gauge

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	packets, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_packets_delivered_total",
		Help: "Packets delivered to the sink, labeled by flow.",
	}, []string{"flow"}), "sim_packets_delivered_total")
	if err != nil {
		return nil, err
	}
	bytes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_bytes_delivered_total",
		Help: "Payload bytes delivered to the sink, labeled by flow.",
	}, []string{"flow"}), "sim_bytes_delivered_total")
	if err != nil {
		return nil, err
	}
	suspensions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_flow_suspensions_total",
		Help: "Flows suspended because their terminal had no serving cell.",
	}, []string{"flow"}), "sim_flow_suspensions_total")
	if err != nil {
		return nil, err
	}
	attachments, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_attachments_total",
		Help: "Terminal attachments, labeled by the serving cell.",
	}, []string{"cell"}), "sim_attachments_total")
	if err != nil {
		return nil, err
	}
	handovers, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_handovers_total",
		Help: "Attachments that moved a terminal from one cell to another.",
	}), "sim_handovers_total")
	if err != nil {
		return nil, err
	}
	attached, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_attached_terminals",
		Help: "Current number of attached terminals.",
	}), "sim_attached_terminals")
	if err != nil {
		return nil, err
	}
	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_time_seconds",
		Help: "Current simulation time in seconds.",
	}), "sim_time_seconds")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_rpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "sim_rpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_rpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "sim_rpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:          gatherer,
		PacketsDelivered:  packets,
		BytesDelivered:    bytes,
		FlowSuspensions:   suspensions,
		Attachments:       attachments,
		Handovers:         handovers,
		AttachedTerminals: attached,
		SimTime:           simTime,
		RPCRequests:       requests,
		RPCDurations:      durations,
	}, nil
}

// ObservePacket counts one delivered packet.
func (c *SimCollector) ObservePacket(rec model.TraceRecord) {
	if c == nil {
		return
	}
	flow := strconv.Itoa(int(rec.FlowID))
	if c.PacketsDelivered != nil {
		c.PacketsDelivered.WithLabelValues(flow).Inc()
	}
	if c.BytesDelivered != nil {
		c.BytesDelivered.WithLabelValues(flow).Add(float64(rec.PacketSize))
	}
}

// ObserveSuspension counts a flow suspended for lack of attachment.
func (c *SimCollector) ObserveSuspension(flow model.FlowID) {
	if c == nil || c.FlowSuspensions == nil {
		return
	}
	c.FlowSuspensions.WithLabelValues(strconv.Itoa(int(flow))).Inc()
}

// ObserveAttachment counts an association change. Detaches are not
// attachments; cell-to-cell moves are also handovers.
func (c *SimCollector) ObserveAttachment(ev model.AttachmentEvent) {
	if c == nil || ev.ToCell == model.NoCell {
		return
	}
	if c.Attachments != nil {
		c.Attachments.WithLabelValues(strconv.Itoa(int(ev.ToCell))).Inc()
	}
	if ev.FromCell != model.NoCell && c.Handovers != nil {
		c.Handovers.Inc()
	}
}

// SetAttachedTerminals updates the attached-terminal gauge.
func (c *SimCollector) SetAttachedTerminals(n int) {
	if c == nil || c.AttachedTerminals == nil {
		return
	}
	c.AttachedTerminals.Set(float64(n))
}

// SetSimTime updates the simulation time gauge. It has the signature of a
// timectrl listener.
func (c *SimCollector) SetSimTime(t time.Duration) {
	if c == nil || c.SimTime == nil {
		return
	}
	c.SimTime.Set(t.Seconds())
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
