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
	consumeAllowed metric.Int64Counter
	consumeDenied  metric.Int64Counter
	consumeBusy    metric.Int64Counter
	consumeLimited metric.Int64Counter
	resolveCache   metric.Int64Counter
	planApplied    metric.Int64Counter
	periodResets   metric.Int64Counter
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "entitlements"
	}
	meter := provider.Meter(name)

	consumeAllowed, err := meter.Int64Counter("entitlements_consume_allowed_total")
	if err != nil {
		return nil, err
	}
	consumeDenied, err := meter.Int64Counter("entitlements_consume_denied_total")
	if err != nil {
		return nil, err
	}
	consumeBusy, err := meter.Int64Counter("entitlements_consume_busy_total")
	if err != nil {
		return nil, err
	}
	consumeLimited, err := meter.Int64Counter("entitlements_consume_rate_limited_total")
	if err != nil {
		return nil, err
	}
	resolveCache, err := meter.Int64Counter("entitlements_resolve_cache_total")
	if err != nil {
		return nil, err
	}
	planApplied, err := meter.Int64Counter("entitlements_plan_applied_total")
	if err != nil {
		return nil, err
	}
	periodResets, err := meter.Int64Counter("entitlements_period_resets_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		consumeAllowed: consumeAllowed,
		consumeDenied:  consumeDenied,
		consumeBusy:    consumeBusy,
		consumeLimited: consumeLimited,
		resolveCache:   resolveCache,
		planApplied:    planApplied,
		periodResets:   periodResets,
	}, nil
}

// NewNoop returns instruments bound to a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordConsume counts a consumption decision for a dimension.
func (m *Metrics) RecordConsume(ctx context.Context, dimension string, allowed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("dimension", strings.TrimSpace(dimension)))...)
	if allowed {
		m.consumeAllowed.Add(ctx, 1, attrs)
		return
	}
	m.consumeDenied.Add(ctx, 1, attrs)
}

// RecordConsumeBusy counts consumption attempts rejected by lock contention.
func (m *Metrics) RecordConsumeBusy(ctx context.Context, dimension string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("dimension", strings.TrimSpace(dimension)))
	m.consumeBusy.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConsumeRateLimited counts consumption requests rejected by the per-tenant rate limit.
func (m *Metrics) RecordConsumeRateLimited(ctx context.Context, dimension string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("dimension", strings.TrimSpace(dimension)))
	m.consumeLimited.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordResolveCache counts resolver cache lookups by outcome.
func (m *Metrics) RecordResolveCache(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	attrs := FilterAttributes(attribute.String("result", result))
	m.resolveCache.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPlanApplied counts plan applications per plan code.
func (m *Metrics) RecordPlanApplied(ctx context.Context, planCode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("plan_code", strings.TrimSpace(planCode)))
	m.planApplied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPeriodReset counts usage period resets by trigger.
func (m *Metrics) RecordPeriodReset(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("trigger", strings.TrimSpace(trigger)))
	m.periodResets.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"dimension":   {},
	"plan_code":   {},
	"result":      {},
	"trigger":     {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
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
