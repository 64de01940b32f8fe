// In-memory test tracer built on the OpenTelemetry SDK
// Provides an opentracing-style surface for building span fixtures in tests
package testtracer

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/andrewh/havespan/pkg/span"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// scopeName is the instrumentation scope of spans created by Tracer.
const scopeName = "github.com/andrewh/havespan/pkg/testtracer"

// defaultLogEvent names span events logged without an "event" field.
const defaultLogEvent = "log"

// Tracer creates spans on a private TracerProvider and records all of them.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	recorder *Recorder
	now      func() time.Time
}

var _ span.Source = (*Tracer)(nil)

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock sets the clock used for span start, finish, and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) { t.now = now }
}

// StepClock returns a clock that starts at start and advances by step on
// every call, giving strictly ordered timestamps. It is safe for concurrent use.
func StepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

// New creates a Tracer with an always-on sampler.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		recorder: NewRecorder(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(t.recorder),
	)
	t.tracer = t.provider.Tracer(scopeName)
	return t
}

// StartOption configures a single StartSpan call.
type StartOption func(*startConfig)

type startConfig struct {
	parent context.Context
	tags   map[string]string
}

// ChildOf makes the new span a child of parent and inherits its baggage.
func ChildOf(parent *Span) StartOption {
	return func(c *startConfig) {
		if parent != nil {
			c.parent = parent.ctx
		}
	}
}

// WithStartTags sets tags on the span at start.
func WithStartTags(tags map[string]string) StartOption {
	return func(c *startConfig) { c.tags = tags }
}

// StartSpan starts a span named operation.
func (t *Tracer) StartSpan(operation string, opts ...StartOption) *Span {
	cfg := startConfig{parent: context.Background()}
	for _, opt := range opts {
		opt(&cfg)
	}

	startOpts := []trace.SpanStartOption{trace.WithTimestamp(t.now())}
	if len(cfg.tags) > 0 {
		startOpts = append(startOpts, trace.WithAttributes(stringAttributes(cfg.tags)...))
	}

	ctx, s := t.tracer.Start(cfg.parent, operation, startOpts...)
	return &Span{tracer: t, ctx: ctx, span: s, operation: operation}
}

// AllSpans returns every span started so far, finished or not, in start order.
func (t *Tracer) AllSpans() span.Collection {
	return t.recorder.AllSpans()
}

// Reset forgets all recorded spans.
func (t *Tracer) Reset() {
	t.recorder.Reset()
}

// Shutdown releases the underlying TracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// Span is a handle on a span started by Tracer.
type Span struct {
	tracer    *Tracer
	ctx       context.Context
	span      trace.Span
	operation string
}

// OperationName returns the name the span was started with.
func (s *Span) OperationName() string { return s.operation }

// Context returns a context carrying the span and its baggage.
func (s *Span) Context() context.Context { return s.ctx }

// SetTag sets a string attribute on the span.
func (s *Span) SetTag(key, value string) *Span {
	s.span.SetAttributes(attribute.String(key, value))
	return s
}

// SetBaggageItem attaches a baggage item to the span. Spans started later
// with ChildOf(s) inherit it.
func (s *Span) SetBaggageItem(key, value string) *Span {
	s.tracer.recorder.SetBaggage(s.span.SpanContext().SpanID(), key, value)

	// Keys the baggage API rejects stay on this span but do not propagate.
	m, err := baggage.NewMemberRaw(key, value)
	if err != nil {
		return s
	}
	bag, err := baggage.FromContext(s.ctx).SetMember(m)
	if err != nil {
		return s
	}
	s.ctx = baggage.ContextWithBaggage(s.ctx, bag)
	return s
}

// Log records a span event. The "event" field, when present, names the event.
func (s *Span) Log(fields map[string]string) *Span {
	name := defaultLogEvent
	if ev, ok := fields[span.EventField]; ok && ev != "" {
		name = ev
	}
	s.span.AddEvent(name,
		trace.WithAttributes(stringAttributes(fields)...),
		trace.WithTimestamp(s.tracer.now()),
	)
	return s
}

// Finish ends the span.
func (s *Span) Finish() {
	s.span.End(trace.WithTimestamp(s.tracer.now()))
}

// stringAttributes converts a map to attributes in key order.
func stringAttributes(m map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, m[k]))
	}
	return attrs
}
