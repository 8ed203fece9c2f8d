package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes pipeline instruments.
type Metrics struct {
	reportsReceived  metric.Int64Counter
	duplicateItems   metric.Int64Counter
	dispatches       metric.Int64Counter
	submissionStatus metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the pipeline metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "primerouter"
	}
	meter := provider.Meter(name)

	reportsReceived, err := meter.Int64Counter("primerouter_reports_received_total")
	if err != nil {
		return nil, err
	}
	duplicateItems, err := meter.Int64Counter("primerouter_duplicate_items_total")
	if err != nil {
		return nil, err
	}
	dispatches, err := meter.Int64Counter("primerouter_dispatch_total")
	if err != nil {
		return nil, err
	}
	submissionStatus, err := meter.Int64Counter("primerouter_submission_status_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		reportsReceived:  reportsReceived,
		duplicateItems:   duplicateItems,
		dispatches:       dispatches,
		submissionStatus: submissionStatus,
	}, nil
}

// RecordReportReceived counts ingestion attempts by outcome.
func (m *Metrics) RecordReportReceived(ctx context.Context, kind, topic, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("topic", strings.TrimSpace(topic)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.reportsReceived.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDuplicateItems counts rows flagged as duplicates.
func (m *Metrics) RecordDuplicateItems(ctx context.Context, kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.duplicateItems.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordDispatch counts sync routes and async enqueues.
func (m *Metrics) RecordDispatch(ctx context.Context, kind, mode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("mode", strings.TrimSpace(mode)),
	)
	m.dispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSubmissionStatus counts derived overall statuses served by history reads.
func (m *Metrics) RecordSubmissionStatus(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.submissionStatus.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":        {},
	"topic":       {},
	"outcome":     {},
	"mode":        {},
	"status":      {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
