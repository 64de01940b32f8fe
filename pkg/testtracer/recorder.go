// Span recording processor for the OTel SDK
// Captures spans at start so in-progress spans are visible to assertions
package testtracer

import (
	"context"
	"maps"
	"sync"

	"github.com/andrewh/havespan/pkg/span"
	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Recorder is an sdktrace.SpanProcessor that keeps every span it sees, in
// start order. Unlike tracetest.InMemoryExporter it records spans when they
// start, so open spans can be asserted on.
type Recorder struct {
	mu      sync.Mutex
	spans   []sdktrace.ReadOnlySpan
	index   map[trace.SpanID]int
	baggage map[trace.SpanID]map[string]string
}

var _ sdktrace.SpanProcessor = (*Recorder)(nil)

// NewRecorder creates an empty Recorder. Register it with
// sdktrace.WithSpanProcessor.
func NewRecorder() *Recorder {
	return &Recorder{
		index:   make(map[trace.SpanID]int),
		baggage: make(map[trace.SpanID]map[string]string),
	}
}

// OnStart records the span along with the baggage of the context it was
// started in, which is how baggage reaches descendants.
func (r *Recorder) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	var bag map[string]string
	if members := baggage.FromContext(parent).Members(); len(members) > 0 {
		bag = make(map[string]string, len(members))
		for _, m := range members {
			bag[m.Key()] = m.Value()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.SpanContext().SpanID()
	r.index[id] = len(r.spans)
	r.spans = append(r.spans, s)
	if bag != nil {
		r.baggage[id] = bag
	}
}

// OnEnd replaces the live span with its final snapshot.
func (r *Recorder) OnEnd(s sdktrace.ReadOnlySpan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[s.SpanContext().SpanID()]; ok {
		r.spans[i] = s
	}
}

// Shutdown is a no-op; recorded spans stay queryable.
func (r *Recorder) Shutdown(context.Context) error { return nil }

// ForceFlush is a no-op; recording is synchronous.
func (r *Recorder) ForceFlush(context.Context) error { return nil }

// SetBaggage adds a baggage item to a recorded span. Spans not recorded,
// including those dropped by Reset, are ignored.
func (r *Recorder) SetBaggage(id trace.SpanID, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[id]; !ok {
		return
	}
	if r.baggage[id] == nil {
		r.baggage[id] = make(map[string]string)
	}
	r.baggage[id][key] = value
}

// Reset forgets every recorded span.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = nil
	clear(r.index)
	clear(r.baggage)
}

// AllSpans returns a snapshot of the recorded spans in start order.
func (r *Recorder) AllSpans() span.Collection {
	r.mu.Lock()
	spans := make([]sdktrace.ReadOnlySpan, len(r.spans))
	copy(spans, r.spans)
	bags := make(map[trace.SpanID]map[string]string, len(r.baggage))
	for id, b := range r.baggage {
		bags[id] = maps.Clone(b)
	}
	r.mu.Unlock()

	return span.FromReadOnly(spans, func(id trace.SpanID) map[string]string {
		return bags[id]
	})
}
