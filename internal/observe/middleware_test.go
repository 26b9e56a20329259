package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// middlewareFixture wires Metrics against a manual reader and an in-memory
// span exporter.
func middlewareFixture(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, installTestTracer(t)
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := middlewareFixture(t)

	var cid string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if len(cid) != 32 {
		t.Fatalf("correlation id = %q, want a 32-char trace id", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}
}

func TestMiddleware_CreatesSpan(t *testing.T) {
	m, _, exp := middlewareFixture(t)

	handler := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/span-test", nil))

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no span recorded")
	}
	if spans[0].Name != "HTTP GET /span-test" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "HTTP GET /span-test")
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader, _ := middlewareFixture(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/recordings", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "mnemovox.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "POST", "path": "/v1/recordings", "status": "202"}
	for _, kv := range dp.Attributes.ToSlice() {
		if expected, tracked := want[string(kv.Key)]; tracked {
			if kv.Value.Emit() != expected {
				t.Errorf("attribute %s = %s, want %s", kv.Key, kv.Value.Emit(), expected)
			}
			delete(want, string(kv.Key))
		}
	}
	for k := range want {
		t.Errorf("missing attribute %s", k)
	}
}

func TestMiddleware_UsesMuxPatternAsPathLabel(t *testing.T) {
	m, reader, _ := middlewareFixture(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/recordings/{id}", func(http.ResponseWriter, *http.Request) {})
	handler := Middleware(m)(mux)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/recordings/abc-123", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "mnemovox.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	dp := met.Data.(metricdata.Histogram[float64]).DataPoints[0]
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == "path" {
			if got := kv.Value.AsString(); got != "GET /v1/recordings/{id}" {
				t.Errorf("path label = %q, want the route pattern, not the raw path", got)
			}
			return
		}
	}
	t.Fatal("path attribute missing")
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	m, _, exp := middlewareFixture(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("response status = %d, want 404", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			if a.Value.AsInt64() != 404 {
				t.Errorf("span status = %d, want 404", a.Value.AsInt64())
			}
			return
		}
	}
	t.Error("span missing http.response.status_code attribute")
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := middlewareFixture(t)

	const wantTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

	var cid string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/propagate", nil)
	req.Header.Set("traceparent", "00-"+wantTrace+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if cid != wantTrace {
		t.Errorf("correlation id = %q, want the incoming trace id %q", cid, wantTrace)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != wantTrace {
		t.Errorf("X-Correlation-ID = %q, want %q", got, wantTrace)
	}
}
