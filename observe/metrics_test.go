package observe

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jonwraymond/registrylink/resilience"
)

func newTestMetrics(t *testing.T) (*metricsImpl, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	found := findMetric(rm, name)
	if found == nil {
		return 0
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64], got %T", name, found.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_CallTotal(t *testing.T) {
	m, reader := newTestMetrics(t)
	meta := CallMeta{Endpoint: "Patient", Operation: "read", Method: "GET"}

	m.RecordCall(context.Background(), meta, 100*time.Millisecond, 1, nil)

	rm := collect(t, reader)
	if got := sumOf(t, rm, "registry.call.total"); got != 1 {
		t.Errorf("registry.call.total = %d, want 1", got)
	}
	if got := sumOf(t, rm, "registry.call.errors"); got != 0 {
		t.Errorf("registry.call.errors = %d on success, want 0", got)
	}
}

func TestMetrics_ErrorCounterCarriesKind(t *testing.T) {
	m, reader := newTestMetrics(t)
	meta := CallMeta{Endpoint: "Patient"}
	err := &resilience.Error{Kind: resilience.KindServer, StatusCode: 503}

	m.RecordCall(context.Background(), meta, 10*time.Millisecond, 3, err)

	rm := collect(t, reader)
	found := findMetric(rm, "registry.call.errors")
	if found == nil {
		t.Fatal("registry.call.errors not found")
	}
	sum := found.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(sum.DataPoints))
	}
	kind, ok := sum.DataPoints[0].Attributes.Value("error.kind")
	if !ok || kind.AsString() != "server" {
		t.Errorf("error.kind = %v, want server", kind.AsString())
	}
}

func TestMetrics_DurationAndAttempts(t *testing.T) {
	m, reader := newTestMetrics(t)
	meta := CallMeta{Endpoint: "Observation"}

	m.RecordCall(context.Background(), meta, 250*time.Millisecond, 2, nil)
	m.RecordCall(context.Background(), meta, 50*time.Millisecond, 0, nil)

	rm := collect(t, reader)

	dur := findMetric(rm, "registry.call.duration_ms")
	if dur == nil {
		t.Fatal("registry.call.duration_ms not found")
	}
	hist := dur.Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Count != 2 {
		t.Errorf("duration count = %d, want 2", hist.DataPoints[0].Count)
	}
	if hist.DataPoints[0].Sum != 300 {
		t.Errorf("duration sum = %v, want 300", hist.DataPoints[0].Sum)
	}

	att := findMetric(rm, "registry.call.attempts")
	if att == nil {
		t.Fatal("registry.call.attempts not found")
	}
	ah := att.Data.(metricdata.Histogram[int64])
	// Zero attempts (replayed calls) are not recorded.
	if ah.DataPoints[0].Count != 1 || ah.DataPoints[0].Sum != 2 {
		t.Errorf("attempts count/sum = %d/%d, want 1/2", ah.DataPoints[0].Count, ah.DataPoints[0].Sum)
	}
}

func TestMetrics_LabelsApplied(t *testing.T) {
	m, reader := newTestMetrics(t)
	meta := CallMeta{Endpoint: "Patient", Operation: "create", Method: "POST"}

	m.RecordCall(context.Background(), meta, time.Millisecond, 1, nil)

	rm := collect(t, reader)
	sum := findMetric(rm, "registry.call.total").Data.(metricdata.Sum[int64])
	attrs := sum.DataPoints[0].Attributes

	want := map[attribute.Key]string{
		"registry.endpoint":   "Patient",
		"registry.operation":  "create",
		"http.request.method": "POST",
	}
	for k, v := range want {
		got, ok := attrs.Value(k)
		if !ok || got.AsString() != v {
			t.Errorf("attribute %s = %v, want %s", k, got.AsString(), v)
		}
	}
}

func TestMetrics_BreakerTransitions(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordBreakerTransition(context.Background(), "Patient", "closed", "open")
	m.RecordBreakerTransition(context.Background(), "Patient", "open", "half-open")

	if got := sumOf(t, collect(t, reader), "registry.breaker.transitions"); got != 2 {
		t.Errorf("registry.breaker.transitions = %d, want 2", got)
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	m, reader := newTestMetrics(t)
	meta := CallMeta{Endpoint: "Patient"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordCall(context.Background(), meta, time.Millisecond, 1, nil)
		}()
	}
	wg.Wait()

	if got := sumOf(t, collect(t, reader), "registry.call.total"); got != 50 {
		t.Errorf("registry.call.total = %d, want 50", got)
	}
}

func TestNopMetrics_NoPanic(t *testing.T) {
	m := NopMetrics()
	m.RecordCall(context.Background(), CallMeta{Endpoint: "x"}, time.Millisecond, 1, nil)
	m.RecordBreakerTransition(context.Background(), "x", "closed", "open")
}
