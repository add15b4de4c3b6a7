package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumentedMux serves a probe and a failing endpoint behind Middleware.
func instrumentedMux(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	m, reader := newTestMetrics(t)
	exp := useTestTracer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if CorrelationID(r.Context()) == "" {
			t.Error("handler context carries no trace")
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /reminders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return Middleware(m)(mux), reader, exp
}

// useTestTracer installs an in-memory tracer provider for the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func serve(h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_RouteLabels(t *testing.T) {
	h, reader, exp := instrumentedMux(t)

	serve(h, "/readyz", nil)
	serve(h, "/reminders/42", nil)
	serve(h, "/reminders/43", nil)
	serve(h, "/nope", nil)

	met := findMetric(collect(t, reader), "studybuddy.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram missing")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data = %T, want Histogram[float64]", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[route.AsString()+" "+status.Emit()] += dp.Count
	}
	want := map[string]uint64{
		"GET /readyz 200":         1,
		"GET /reminders/{id} 503": 2,
		"unmatched 404":           1,
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("count[%q] = %d, want %d (all: %v)", k, counts[k], n, counts)
		}
	}

	if got := len(exp.GetSpans()); got != 4 {
		t.Fatalf("spans = %d, want 4", got)
	}
	for _, a := range exp.GetSpans()[1].Attributes {
		if a.Key == "http.route" && a.Value.AsString() != "GET /reminders/{id}" {
			t.Errorf("http.route = %q", a.Value.AsString())
		}
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{name: "new trace"},
		{
			name:   "continues traceparent",
			header: map[string]string{"traceparent": "00-" + traceID + "-00f067aa0ba902b7-01"},
			want:   traceID,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, _, _ := instrumentedMux(t)
			got := serve(h, "/readyz", tc.header).Header().Get("X-Correlation-ID")
			if len(got) != 32 {
				t.Fatalf("X-Correlation-ID = %q, want a 32-digit trace ID", got)
			}
			if tc.want != "" && got != tc.want {
				t.Errorf("X-Correlation-ID = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMiddleware_PassesStatusThrough(t *testing.T) {
	h, _, exp := instrumentedMux(t)

	if rec := serve(h, "/reminders/1", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("span status attribute = %d, want 503", status)
	}
}
