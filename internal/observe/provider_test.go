package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_ServesPrometheus(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	ctx := context.Background()
	tel, err := Init(ctx, ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	tel.Metrics.RecordTurn(ctx, "user")

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"parley_turns", "go_goroutines", `service_name="parley"`, `service_version="test"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %s", want)
		}
	}

	_, span := StartSpan(ctx, "init-check")
	if !span.SpanContext().IsValid() {
		t.Error("Init did not install a recording tracer provider")
	}
	span.End()
}
