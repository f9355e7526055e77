package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/cellular-simulator/model"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("sim_rpc_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "sim_rpc_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 1 {
		t.Fatalf("sim_rpc_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "NotFound")); got != 1 {
		t.Fatalf("sim_rpc_requests_total error label = %v, want 1", got)
	}
}

func TestSimCollectorTrafficAndAttachment(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	for i := 0; i < 3; i++ {
		collector.ObservePacket(model.TraceRecord{FlowID: 1, PacketSize: 100})
	}
	collector.ObserveSuspension(2)

	collector.ObserveAttachment(model.AttachmentEvent{TerminalID: 5, FromCell: model.NoCell, ToCell: 1, RNTI: 1})
	collector.ObserveAttachment(model.AttachmentEvent{TerminalID: 5, FromCell: 1, ToCell: 2, RNTI: 1})
	collector.ObserveAttachment(model.AttachmentEvent{TerminalID: 5, FromCell: 2, ToCell: model.NoCell})
	collector.SetAttachedTerminals(1)
	collector.SetSimTime(1500 * time.Millisecond)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"packets", testutil.ToFloat64(collector.PacketsDelivered.WithLabelValues("1")), 3},
		{"bytes", testutil.ToFloat64(collector.BytesDelivered.WithLabelValues("1")), 300},
		{"suspensions", testutil.ToFloat64(collector.FlowSuspensions.WithLabelValues("2")), 1},
		{"attachments cell 1", testutil.ToFloat64(collector.Attachments.WithLabelValues("1")), 1},
		{"attachments cell 2", testutil.ToFloat64(collector.Attachments.WithLabelValues("2")), 1},
		{"handovers", testutil.ToFloat64(collector.Handovers), 1},
		{"attached", testutil.ToFloat64(collector.AttachedTerminals), 1},
		{"sim time", testutil.ToFloat64(collector.SimTime), 1.5},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var sim *SimCollector
	sim.ObservePacket(model.TraceRecord{})
	sim.ObserveSuspension(1)
	sim.ObserveAttachment(model.AttachmentEvent{ToCell: 1})
	sim.SetAttachedTerminals(1)
	sim.SetSimTime(time.Second)
	if sim.Gatherer() != nil {
		t.Fatalf("nil collector should have no gatherer")
	}

	var sched *SchedulerCollector
	sched.IncExecuted()
	sched.IncCancelled()
	sched.AddDiscarded(3)
	sched.SetPending(2)
	sched.ObserveRun(time.Millisecond)
}

func TestCollectorsRegisterIdempotently(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("first NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}
	second.Handovers.Inc()
	if got := testutil.ToFloat64(first.Handovers); got != 1 {
		t.Fatalf("collectors should share the registered counter, got %v", got)
	}

	if _, err := NewSchedulerCollector(reg); err != nil {
		t.Fatalf("first NewSchedulerCollector: %v", err)
	}
	if _, err := NewSchedulerCollector(reg); err != nil {
		t.Fatalf("second NewSchedulerCollector: %v", err)
	}
}

func TestSchedulerCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSchedulerCollector(reg)
	if err != nil {
		t.Fatalf("NewSchedulerCollector: %v", err)
	}

	c.IncExecuted()
	c.IncExecuted()
	c.IncCancelled()
	c.AddDiscarded(4)
	c.AddDiscarded(-1)
	c.SetPending(7)
	c.ObserveRun(20 * time.Millisecond)

	if got := testutil.ToFloat64(c.EventsExecuted); got != 2 {
		t.Fatalf("executed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.EventsCancelled); got != 1 {
		t.Fatalf("cancelled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.EventsDiscarded); got != 4 {
		t.Fatalf("discarded = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.PendingEvents); got != 7 {
		t.Fatalf("pending = %v, want 7", got)
	}
	if count := histogramSampleCount(t, reg, "sim_scheduler_run_duration_seconds", nil); count != 1 {
		t.Fatalf("run duration sample_count = %d, want 1", count)
	}
}

func TestMetricsHandlerExposesSimMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	collector.ObservePacket(model.TraceRecord{FlowID: 3, PacketSize: 1000})
	collector.ObserveAttachment(model.AttachmentEvent{FromCell: model.NoCell, ToCell: 4})
	collector.SetAttachedTerminals(2)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		`sim_packets_delivered_total{flow="3"} 1`,
		`sim_bytes_delivered_total{flow="3"} 1000`,
		`sim_attachments_total{cell="4"} 1`,
		"sim_attached_terminals 2",
		"sim_rpc_requests_total",
		"sim_rpc_request_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"/grpc.health.v1.Health/Check", "Health", "Check"},
		{"Health/Watch", "Health", "Watch"},
		{"", "unknown", "unknown"},
		{"/nomethod", "unknown", "unknown"},
	}
	for _, c := range cases {
		service, method := SplitMethod(c.in)
		if service != c.service || method != c.method {
			t.Fatalf("SplitMethod(%q) = (%q, %q), want (%q, %q)", c.in, service, method, c.service, c.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
