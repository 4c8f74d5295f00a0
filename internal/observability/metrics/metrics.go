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
	webhookEvents     metric.Int64Counter
	webhookDuplicates metric.Int64Counter
	captures          metric.Int64Counter
	refunds           metric.Int64Counter
	giftCardDebits    metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
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
		name = "freshnest"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("freshnest_webhook_events_total")
	if err != nil {
		return nil, err
	}
	webhookDuplicates, err := meter.Int64Counter("freshnest_webhook_duplicates_total")
	if err != nil {
		return nil, err
	}
	captures, err := meter.Int64Counter("freshnest_payment_captures_total")
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("freshnest_payment_refunds_total")
	if err != nil {
		return nil, err
	}
	giftCardDebits, err := meter.Int64Counter("freshnest_gift_card_debits_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("freshnest_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:     webhookEvents,
		webhookDuplicates: webhookDuplicates,
		captures:          captures,
		refunds:           refunds,
		giftCardDebits:    giftCardDebits,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordWebhookEvent increments consumed webhook event counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
	))
}

// RecordWebhookDuplicate increments deduplicated webhook delivery counts.
func (m *Metrics) RecordWebhookDuplicate(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.webhookDuplicates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
	))
}

// RecordCapture increments successful capture counts.
func (m *Metrics) RecordCapture(ctx context.Context, paymentType string) {
	if m == nil {
		return
	}
	m.captures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_type", strings.TrimSpace(paymentType)),
	))
}

// RecordRefund increments refund counts.
func (m *Metrics) RecordRefund(ctx context.Context) {
	if m == nil {
		return
	}
	m.refunds.Add(ctx, 1)
}

// RecordGiftCardDebit increments gift card debit counts.
func (m *Metrics) RecordGiftCardDebit(ctx context.Context) {
	if m == nil {
		return
	}
	m.giftCardDebits.Add(ctx, 1)
}

// RecordRateLimitDenied increments webhook ingress throttle counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	))
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
