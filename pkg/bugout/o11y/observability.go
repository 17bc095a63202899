// Package o11y is the seam between the transports and routers and
// whatever records their metrics and traces. Everything here is optional:
// a nil provider means the instrument is never created.
package o11y

import (
	"context"

	"github.com/tsarna/bugout/pkg/bugout"
)

// Config carries the providers a component was built with.
type Config struct {
	MetricsProvider MetricsProvider
	TracingProvider TracingProvider
	ServiceName     string
	ServiceVersion  string
}

type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

type Label struct {
	Key   string
	Value string
}

func TopicLabel(topic string) Label {
	return Label{Key: "topic", Value: topic}
}

// KeyLabel is for spans only; partition keys are unbounded.
func KeyLabel(key string) Label {
	return Label{Key: "key", Value: key}
}

// StatusLabel is "ok", or the error's class so that dashboards separate
// poison messages from outages.
func StatusLabel(err error) Label {
	if err == nil {
		return Label{Key: "status", Value: "ok"}
	}
	return Label{Key: "status", Value: bugout.Classify(err).String()}
}

type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// EndSpan marks span with the outcome of err and ends it. A nil span is
// ignored.
func EndSpan(span Span, err error) {
	if span == nil {
		return
	}
	if err == nil {
		span.SetStatus(SpanStatusOK, "")
	} else {
		span.SetStatus(SpanStatusError, err.Error())
		span.SetAttributes(StatusLabel(err))
	}
	span.End()
}
