// Package otel records bugout's metrics and traces through the globally
// registered OpenTelemetry providers. Installing an SDK is left to the
// program; without one everything here is a no-op.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsarna/bugout/pkg/bugout/o11y"
)

// Provider is both an o11y.MetricsProvider and an o11y.TracingProvider.
// Instruments are created once per name and shared, so every router and
// transport built from one Provider reports into the same series.
type Provider struct {
	meter  metric.Meter
	tracer trace.Tracer

	mu          sync.Mutex
	counters    map[string]o11y.Counter
	histograms  map[string]o11y.Histogram
	gauges      map[string]o11y.Gauge
	instruments int
}

var (
	_ o11y.MetricsProvider = (*Provider)(nil)
	_ o11y.TracingProvider = (*Provider)(nil)
)

func NewProvider(serviceName, serviceVersion string) *Provider {
	return &Provider{
		meter:      otel.Meter(serviceName, metric.WithInstrumentationVersion(serviceVersion)),
		tracer:     otel.Tracer(serviceName, trace.WithInstrumentationVersion(serviceVersion)),
		counters:   make(map[string]o11y.Counter),
		histograms: make(map[string]o11y.Histogram),
		gauges:     make(map[string]o11y.Gauge),
	}
}

// Instruments reports how many distinct instruments have been created.
func (p *Provider) Instruments() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instruments
}

func (p *Provider) Counter(name string) o11y.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[name]; ok {
		return c
	}
	counter, err := p.meter.Int64Counter(name)
	if err != nil {
		counter = noop.Int64Counter{}
	}
	c := counterFunc(func(ctx context.Context, value int64, labels ...o11y.Label) {
		counter.Add(ctx, value, metric.WithAttributes(attrs(labels)...))
	})
	p.counters[name] = c
	p.instruments++
	return c
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.histograms[name]; ok {
		return h
	}
	histogram, err := p.meter.Float64Histogram(name, metric.WithUnit("s"))
	if err != nil {
		histogram = noop.Float64Histogram{}
	}
	h := histogramFunc(func(ctx context.Context, value float64, labels ...o11y.Label) {
		histogram.Record(ctx, value, metric.WithAttributes(attrs(labels)...))
	})
	p.histograms[name] = h
	p.instruments++
	return h
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.gauges[name]; ok {
		return g
	}
	gauge, err := p.meter.Float64Gauge(name)
	if err != nil {
		gauge = noop.Float64Gauge{}
	}
	g := gaugeFunc(func(ctx context.Context, value float64, labels ...o11y.Label) {
		gauge.Record(ctx, value, metric.WithAttributes(attrs(labels)...))
	})
	p.gauges[name] = g
	p.instruments++
	return g
}

func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	ctx, span := p.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindConsumer))
	return ctx, spanAdapter{span}
}

func attrs(labels []o11y.Label) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(labels))
	for _, label := range labels {
		kvs = append(kvs, attribute.String(label.Key, label.Value))
	}
	return kvs
}

type counterFunc func(ctx context.Context, value int64, labels ...o11y.Label)

func (f counterFunc) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	f(ctx, value, labels...)
}

type histogramFunc func(ctx context.Context, value float64, labels ...o11y.Label)

func (f histogramFunc) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	f(ctx, value, labels...)
}

type gaugeFunc func(ctx context.Context, value float64, labels ...o11y.Label)

func (f gaugeFunc) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	f(ctx, value, labels...)
}

type spanAdapter struct {
	trace.Span
}

func (s spanAdapter) SetAttributes(labels ...o11y.Label) {
	s.Span.SetAttributes(attrs(labels)...)
}

func (s spanAdapter) SetStatus(code o11y.SpanStatusCode, description string) {
	switch code {
	case o11y.SpanStatusOK:
		s.Span.SetStatus(codes.Ok, "")
	case o11y.SpanStatusError:
		s.Span.SetStatus(codes.Error, description)
	}
}

func (s spanAdapter) End() {
	s.Span.End()
}
