// Read-only span model queried by the matcher
// Normalises SDK and imported spans into one format-independent shape
package span

import (
	"maps"
	"time"
)

// Span is the format-independent representation of a recorded span.
type Span struct {
	TraceID   string
	SpanID    string
	ParentID  string // empty for root spans
	Operation string
	StartTime time.Time
	EndTime   time.Time // zero while the span is in progress
	Tags      map[string]string
	Logs      []LogEntry
	Baggage   map[string]string
}

// LogEntry is one timestamped set of log fields on a span.
type LogEntry struct {
	Timestamp time.Time
	Fields    map[string]string
}

// InProgress reports whether the span has not finished yet.
func (s Span) InProgress() bool {
	return s.EndTime.IsZero()
}

// Finished reports whether the span has been finished.
func (s Span) Finished() bool {
	return !s.InProgress()
}

// HasParent reports whether the span was started as a child of another span.
func (s Span) HasParent() bool {
	return s.ParentID != ""
}

// Source is anything that can enumerate recorded spans in recording order.
type Source interface {
	AllSpans() Collection
}

// Collection is an ordered snapshot of spans.
type Collection []Span

// AllSpans returns the collection itself, so a snapshot is also a Source.
func (c Collection) AllSpans() Collection {
	return c
}

// Named returns the spans whose operation name equals name, in collection order.
func (c Collection) Named(name string) Collection {
	var out Collection
	for _, s := range c {
		if s.Operation == name {
			out = append(out, s)
		}
	}
	return out
}

// ByID returns the span with the given span ID.
func (c Collection) ByID(id string) (Span, bool) {
	if id == "" {
		return Span{}, false
	}
	for _, s := range c {
		if s.SpanID == id {
			return s, true
		}
	}
	return Span{}, false
}

// Parent returns the parent of s if it is part of the collection.
// A parent recorded outside the collection (remote parent) is not found.
func (c Collection) Parent(s Span) (Span, bool) {
	if !s.HasParent() {
		return Span{}, false
	}
	return c.ByID(s.ParentID)
}

// Subset reports whether every key/value in want is present in have.
func Subset(want, have map[string]string) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of s so callers can hold it past the next recording.
func (s Span) Clone() Span {
	out := s
	out.Tags = maps.Clone(s.Tags)
	out.Baggage = maps.Clone(s.Baggage)
	if s.Logs != nil {
		out.Logs = make([]LogEntry, len(s.Logs))
		for i, l := range s.Logs {
			out.Logs[i] = LogEntry{Timestamp: l.Timestamp, Fields: maps.Clone(l.Fields)}
		}
	}
	return out
}
