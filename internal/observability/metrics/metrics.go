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

// Metrics exposes application-level instruments.
type Metrics struct {
	entitlementsIssued  metric.Int64Counter
	entitlementsRevoked metric.Int64Counter
	entitlementsRefused metric.Int64Counter
	jobsDispatched      metric.Int64Counter
	jobsDebounced       metric.Int64Counter
	rateLimitDenied     metric.Int64Counter
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "capstan"
	}
	meter := provider.Meter(name)

	entitlementsIssued, err := meter.Int64Counter("capstan_entitlements_issued_total")
	if err != nil {
		return nil, err
	}
	entitlementsRevoked, err := meter.Int64Counter("capstan_entitlements_revoked_total")
	if err != nil {
		return nil, err
	}
	entitlementsRefused, err := meter.Int64Counter("capstan_entitlements_refused_total")
	if err != nil {
		return nil, err
	}
	jobsDispatched, err := meter.Int64Counter("capstan_jobs_dispatched_total")
	if err != nil {
		return nil, err
	}
	jobsDebounced, err := meter.Int64Counter("capstan_jobs_debounced_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("capstan_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		entitlementsIssued:  entitlementsIssued,
		entitlementsRevoked: entitlementsRevoked,
		entitlementsRefused: entitlementsRefused,
		jobsDispatched:      jobsDispatched,
		jobsDebounced:       jobsDebounced,
		rateLimitDenied:     rateLimitDenied,
	}, nil
}

// RecordEntitlementsIssued increments issued entitlement counts.
func (m *Metrics) RecordEntitlementsIssued(ctx context.Context, poolType string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("pool_type", strings.TrimSpace(poolType)))
	m.entitlementsIssued.Add(ctx, count, metric.WithAttributes(attrs...))
}

// RecordEntitlementsRevoked increments revoked entitlement counts.
func (m *Metrics) RecordEntitlementsRevoked(ctx context.Context, poolType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("pool_type", strings.TrimSpace(poolType)))
	m.entitlementsRevoked.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEntitlementsRefused increments refused entitlement counts.
func (m *Metrics) RecordEntitlementsRefused(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.entitlementsRefused.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJobDispatched increments dispatched job counts.
func (m *Metrics) RecordJobDispatched(ctx context.Context, targetType, task string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("target_type", strings.TrimSpace(targetType)),
		attribute.String("task", strings.TrimSpace(task)),
	)
	m.jobsDispatched.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJobDebounced increments debounced job counts.
func (m *Metrics) RecordJobDebounced(ctx context.Context, targetType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("target_type", strings.TrimSpace(targetType)))
	m.jobsDebounced.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"endpoint":    {},
	"pool_type":   {},
	"reason":      {},
	"target_type": {},
	"task":        {},
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
