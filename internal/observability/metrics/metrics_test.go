package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("kind", "elr"),
		attribute.String("sender", "ignore.default"),
		attribute.String("status", "Delivered"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "sender" {
			t.Fatalf("expected sender to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordReportReceived(context.Background(), "covid", "covid-19", "accepted")
	m.RecordDuplicateItems(context.Background(), "covid", 2)
	m.RecordDispatch(context.Background(), "covid", "sync")
	m.RecordSubmissionStatus(context.Background(), "Delivered")
}

func TestNewRegistersInstruments(t *testing.T) {
	m, err := New(Config{ServiceName: "primerouter"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordReportReceived(context.Background(), "elr", "full-elr", "accepted")
	m.RecordDuplicateItems(context.Background(), "elr", 0)
}

func TestGinMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewHTTPMetrics(Config{ServiceName: "primerouter"}, provider)
	if err != nil {
		t.Fatalf("new http metrics: %v", err)
	}
	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/api/waters/report/:id/history", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	req := httptest.NewRequest(http.MethodGet, "/api/waters/report/42/history", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != "http.server.duration_ms" {
				continue
			}
			hist, ok := metric.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("expected one duration point, got %#v", metric.Data)
			}
			endpoint, _ := hist.DataPoints[0].Attributes.Value("endpoint")
			status, _ := hist.DataPoints[0].Attributes.Value("status_code")
			if endpoint.AsString() != "/api/waters/report/:id/history" || status.AsString() != "404" {
				t.Fatalf("unexpected attributes endpoint=%q status=%q", endpoint.AsString(), status.AsString())
			}
			return
		}
	}
	t.Fatalf("http.server.duration_ms not recorded")
}
