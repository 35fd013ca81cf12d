package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled        bool
	PrometheusPort int
}

// Metrics holds the pipeline counters. A zero/disabled collector is valid:
// every Add method tolerates nil instruments so hot paths never branch on
// whether metrics are on.
type Metrics struct {
	eventsEnqueued  metric.Int64Counter
	eventsCoalesced metric.Int64Counter
	eventsDelivered metric.Int64Counter
	eventsDropped   metric.Int64Counter
	eventsRejected  metric.Int64Counter
	eventsStale     metric.Int64Counter
	flushes         metric.Int64Counter
	echoSuppressed  metric.Int64Counter

	prometheusServer *http.Server
}

// NewMetrics creates the collector. When disabled, all instruments are nil
// and recording is a no-op.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if !config.Enabled {
		return &Metrics{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("loom")

	m := &Metrics{}
	if m.eventsEnqueued, err = meter.Int64Counter(
		"loom.dispatch.enqueued.total",
		metric.WithDescription("Events enqueued into the batch dispatcher"),
	); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if m.eventsCoalesced, err = meter.Int64Counter(
		"loom.dispatch.coalesced.total",
		metric.WithDescription("Events overwritten by a newer same-key event in the same window"),
	); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if m.eventsDelivered, err = meter.Int64Counter(
		"loom.dispatch.delivered.total",
		metric.WithDescription("Events delivered to batch consumers"),
	); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if m.eventsDropped, err = meter.Int64Counter(
		"loom.dispatch.dropped.total",
		metric.WithDescription("Events dropped at flush because no consumer was attached"),
	); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if m.eventsRejected, err = meter.Int64Counter(
		"loom.bus.rejected.total",
		metric.WithDescription("Events rejected by payload validation"),
	); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if m.eventsStale, err = meter.Int64Counter(
		"loom.correlate.stale.total",
		metric.WithDescription("Events dropped for belonging to a non-active run"),
	); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if m.flushes, err = meter.Int64Counter(
		"loom.dispatch.flushes.total",
		metric.WithDescription("Dispatcher flush ticks that drained a non-empty window"),
	); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	if m.echoSuppressed, err = meter.Int64Counter(
		"loom.echo.suppressed.total",
		metric.WithDescription("Text deltas fully suppressed as tool-result echoes"),
	); err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}

	if config.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promclient.Handler())
		m.prometheusServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", config.PrometheusPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			_ = m.prometheusServer.ListenAndServe()
		}()
	}
	return m, nil
}

// Shutdown stops the scrape server, if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.prometheusServer == nil {
		return nil
	}
	return m.prometheusServer.Shutdown(ctx)
}

func (m *Metrics) AddEnqueued(n int64) { m.add(m.eventsEnqueued, n) }

func (m *Metrics) AddCoalesced(n int64) { m.add(m.eventsCoalesced, n) }

func (m *Metrics) AddDelivered(n int64) { m.add(m.eventsDelivered, n) }

func (m *Metrics) AddDropped(n int64) { m.add(m.eventsDropped, n) }

func (m *Metrics) AddRejected(n int64) { m.add(m.eventsRejected, n) }

func (m *Metrics) AddStale(n int64) { m.add(m.eventsStale, n) }

func (m *Metrics) AddFlush() { m.add(m.flushes, 1) }

func (m *Metrics) AddEchoSuppressed(n int64) { m.add(m.echoSuppressed, n) }

func (m *Metrics) add(counter metric.Int64Counter, n int64) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(context.Background(), n)
}
