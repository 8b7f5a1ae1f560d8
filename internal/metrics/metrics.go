package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Metrics は注文・決済・HTTPの計測値
type Metrics struct {
	OrdersCreated      metric.Int64Counter
	OrdersRejected     metric.Int64Counter
	Revenue            metric.Float64Counter
	PaymentsReconciled metric.Int64Counter
	GatewayDuration    metric.Float64Histogram
	NotificationsLost  metric.Int64Counter

	HTTPRequests metric.Int64Counter
	HTTPDuration metric.Float64Histogram
}

// Setup はOTLP HTTPエクスポーターを設定する。endpointが空ならnoop。
// 戻り値のshutdownは終了時に呼ぶ。
func Setup(ctx context.Context, endpoint string, serviceName string) (*Metrics, func(context.Context) error, error) {
	if endpoint == "" {
		return Noop(), func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))),
	)
	otel.SetMeterProvider(provider)

	m, err := New(provider.Meter(serviceName))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, err
	}
	return m, provider.Shutdown, nil
}

// Noop はテストや計測無効時用
func Noop() *Metrics {
	m, err := New(noop.NewMeterProvider().Meter("noop"))
	if err != nil {
		panic(err)
	}
	return m
}

func New(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.OrdersCreated, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed by checkout"), metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create orders counter: %w", err)
	}
	if m.OrdersRejected, err = meter.Int64Counter("orders.rejected",
		metric.WithDescription("Checkouts rejected by reason"), metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create rejected counter: %w", err)
	}
	if m.Revenue, err = meter.Float64Counter("orders.revenue",
		metric.WithDescription("Confirmed payment amount")); err != nil {
		return nil, fmt.Errorf("failed to create revenue counter: %w", err)
	}
	if m.PaymentsReconciled, err = meter.Int64Counter("payments.reconciled",
		metric.WithDescription("Payment status checks by outcome"), metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create payments counter: %w", err)
	}
	if m.GatewayDuration, err = meter.Float64Histogram("gateway.request.duration",
		metric.WithDescription("Payment gateway call latency"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create gateway histogram: %w", err)
	}
	if m.NotificationsLost, err = meter.Int64Counter("notifications.lost",
		metric.WithDescription("Notifications dropped or failed"), metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create notifications counter: %w", err)
	}
	if m.HTTPRequests, err = meter.Int64Counter("http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"), metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}
	if m.HTTPDuration, err = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request duration"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return &m, nil
}

func (m *Metrics) RecordOrderCreated(ctx context.Context) {
	m.OrdersCreated.Add(ctx, 1)
}

func (m *Metrics) RecordOrderRejected(ctx context.Context, reason string) {
	m.OrdersRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordPayment(ctx context.Context, outcome string, amount decimal.Decimal) {
	m.PaymentsReconciled.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "succeeded" {
		m.Revenue.Add(ctx, amount.InexactFloat64())
	}
}

func (m *Metrics) RecordGateway(ctx context.Context, op string, start time.Time, err error) {
	m.GatewayDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("error", err != nil),
	))
}

func (m *Metrics) RecordNotificationLost(ctx context.Context, reason string) {
	m.NotificationsLost.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordHTTP(ctx context.Context, method string, route string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	m.HTTPRequests.Add(ctx, 1, attrs)
	m.HTTPDuration.Record(ctx, float64(d.Milliseconds()), attrs)
}
