// Conversion from OpenTelemetry SDK spans
// Attributes become tags, events become log entries, baggage comes from the recorder
package span

import (
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// EventField is the log field that carries the span event name.
const EventField = "event"

// BaggageLookup returns the baggage recorded for a span, or nil.
type BaggageLookup func(id trace.SpanID) map[string]string

// FromReadOnly converts SDK spans, keeping their order. baggage may be nil.
func FromReadOnly(spans []sdktrace.ReadOnlySpan, baggage BaggageLookup) Collection {
	out := make(Collection, 0, len(spans))
	for _, s := range spans {
		out = append(out, fromReadOnly(s, baggage))
	}
	return out
}

// FromStubs converts the spans captured by a tracetest.InMemoryExporter.
// Exported stubs are always finished spans and carry no baggage.
func FromStubs(stubs tracetest.SpanStubs) Collection {
	return FromReadOnly(stubs.Snapshots(), nil)
}

func fromReadOnly(s sdktrace.ReadOnlySpan, baggage BaggageLookup) Span {
	sc := s.SpanContext()

	parentID := ""
	if pid := s.Parent().SpanID(); pid.IsValid() {
		parentID = pid.String()
	}

	var bag map[string]string
	if baggage != nil {
		bag = baggage(sc.SpanID())
	}

	logs := make([]LogEntry, 0, len(s.Events()))
	for _, ev := range s.Events() {
		fields := attributeMap(ev.Attributes)
		if _, ok := fields[EventField]; !ok {
			fields[EventField] = ev.Name
		}
		logs = append(logs, LogEntry{Timestamp: ev.Time, Fields: fields})
	}

	return Span{
		TraceID:   sc.TraceID().String(),
		SpanID:    sc.SpanID().String(),
		ParentID:  parentID,
		Operation: s.Name(),
		StartTime: s.StartTime(),
		EndTime:   s.EndTime(),
		Tags:      attributeMap(s.Attributes()),
		Logs:      logs,
		Baggage:   bag,
	}
}

// attributeMap flattens attributes to their string form.
func attributeMap(attrs []attribute.KeyValue) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}
