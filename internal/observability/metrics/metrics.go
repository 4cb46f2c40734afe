// Package metrics exposes engine-level otel instruments.
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
	eventsIngested       metric.Int64Counter
	meterEventsIndexed   metric.Int64Counter
	backfillPages        metric.Int64Counter
	customerMeterUpdates metric.Int64Counter
	orderItemsCreated    metric.Int64Counter
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
		name = "meterline"
	}
	meter := provider.Meter(name)

	eventsIngested, err := meter.Int64Counter("meterline_events_ingested_total")
	if err != nil {
		return nil, err
	}
	meterEventsIndexed, err := meter.Int64Counter("meterline_meter_events_indexed_total")
	if err != nil {
		return nil, err
	}
	backfillPages, err := meter.Int64Counter("meterline_backfill_pages_total")
	if err != nil {
		return nil, err
	}
	customerMeterUpdates, err := meter.Int64Counter("meterline_customer_meter_updates_total")
	if err != nil {
		return nil, err
	}
	orderItemsCreated, err := meter.Int64Counter("meterline_order_items_created_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsIngested:       eventsIngested,
		meterEventsIndexed:   meterEventsIndexed,
		backfillPages:        backfillPages,
		customerMeterUpdates: customerMeterUpdates,
		orderItemsCreated:    orderItemsCreated,
	}, nil
}

// RecordEventIngested increments ingested event counts.
func (m *Metrics) RecordEventIngested(ctx context.Context, source string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.eventsIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMeterEventsIndexed adds indexed membership row counts.
func (m *Metrics) RecordMeterEventsIndexed(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.meterEventsIndexed.Add(ctx, int64(count))
}

// RecordBackfillPage increments processed backfill page counts.
func (m *Metrics) RecordBackfillPage(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.String("org_id", strings.TrimSpace(orgID)))
	m.backfillPages.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCustomerMeterUpdate increments customer meter update counts.
func (m *Metrics) RecordCustomerMeterUpdate(ctx context.Context, changed bool) {
	if m == nil {
		return
	}
	attrs := filterAttributes(attribute.Bool("changed", changed))
	m.customerMeterUpdates.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOrderItemCreated increments order item counts.
func (m *Metrics) RecordOrderItemCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.orderItemsCreated.Add(ctx, 1)
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
	"source":  {},
	"org_id":  {},
	"changed": {},
}

// filterAttributes drops labels outside the allowlist to bound cardinality.
func filterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		out = append(out, attr)
	}
	return out
}
