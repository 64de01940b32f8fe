// Fluent span matcher builder
// Chain calls record predicates; nothing is evaluated until Match or Matches
package spanmatch

import (
	"errors"
	"fmt"
	"maps"

	"go.uber.org/zap"
)

// ErrInvalidArgument is wrapped by every error recorded for a malformed chain call.
var ErrInvalidArgument = errors.New("invalid argument")

// Matcher asserts that a span collection contains a span satisfying every
// configured condition. Build one per assertion with HaveSpan; a Matcher is
// not safe for concurrent use.
type Matcher struct {
	operation    string
	hasOperation bool
	preds        predicateSet
	errs         []error
	logger       *zap.Logger
}

// HaveSpan starts a matcher. With no argument any operation name matches;
// with one, only spans of that operation name are candidates.
func HaveSpan(operationName ...string) *Matcher {
	m := &Matcher{logger: zap.NewNop()}
	switch len(operationName) {
	case 0:
	case 1:
		m.operation = operationName[0]
		m.hasOperation = true
	default:
		m.invalid("HaveSpan", "takes at most one operation name, got %d", len(operationName))
	}
	return m
}

// WithLogger sets the logger used to trace candidate evaluation at debug level.
func (m *Matcher) WithLogger(logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m.logger = logger
	return m
}

// InProgress requires a span that has not finished.
func (m *Matcher) InProgress() *Matcher {
	m.preds.set(predicate{kind: KindState, state: StateInProgress})
	return m
}

// Started is an alias for InProgress.
func (m *Matcher) Started() *Matcher {
	return m.InProgress()
}

// Finished requires a finished span.
func (m *Matcher) Finished() *Matcher {
	m.preds.set(predicate{kind: KindState, state: StateFinished})
	return m
}

// WithTag requires tags. With no arguments any tag will do; otherwise the
// arguments are key/value pairs that must all be present.
func (m *Matcher) WithTag(keyValues ...string) *Matcher {
	fields, ok := m.pairs("WithTag", keyValues)
	if ok {
		m.preds.set(predicate{kind: KindTag, fields: fields})
	}
	return m
}

// WithTags requires tags. With no arguments any tag will do; otherwise the
// merged maps must all be present.
func (m *Matcher) WithTags(tags ...map[string]string) *Matcher {
	fields, ok := m.merge("WithTags", tags)
	if ok {
		m.preds.set(predicate{kind: KindTag, fields: fields})
	}
	return m
}

// WithLog requires a log entry. With no arguments any entry will do;
// otherwise a single entry must contain all the merged fields.
func (m *Matcher) WithLog(fields ...map[string]string) *Matcher {
	merged, ok := m.merge("WithLog", fields)
	if ok {
		m.preds.set(predicate{kind: KindLog, fields: merged})
	}
	return m
}

// WithLogs is an alias for WithLog.
func (m *Matcher) WithLogs(fields ...map[string]string) *Matcher {
	return m.WithLog(fields...)
}

// WithBaggage requires baggage. With no arguments any item will do;
// otherwise the arguments are key/value pairs that must all be present.
func (m *Matcher) WithBaggage(keyValues ...string) *Matcher {
	fields, ok := m.pairs("WithBaggage", keyValues)
	if ok {
		m.preds.set(predicate{kind: KindBaggage, fields: fields})
	}
	return m
}

// WithBaggageItems is the map form of WithBaggage.
func (m *Matcher) WithBaggageItems(items ...map[string]string) *Matcher {
	fields, ok := m.merge("WithBaggageItems", items)
	if ok {
		m.preds.set(predicate{kind: KindBaggage, fields: fields})
	}
	return m
}

// WithParent requires a span that has a parent.
func (m *Matcher) WithParent() *Matcher {
	m.preds.set(predicate{kind: KindParent})
	return m
}

// ChildOf requires the span's parent to have the given operation name.
func (m *Matcher) ChildOf(operationName string) *Matcher {
	if operationName == "" {
		m.invalid("ChildOf", "operation name must not be empty")
		return m
	}
	m.preds.set(predicate{kind: KindParent, target: operationName})
	return m
}

// FollowingAfter requires the span to start no earlier than the finish of a
// span with the given operation name.
func (m *Matcher) FollowingAfter(operationName string) *Matcher {
	if operationName == "" {
		m.invalid("FollowingAfter", "operation name must not be empty")
		return m
	}
	m.preds.set(predicate{kind: KindFollows, target: operationName})
	return m
}

// Err returns the errors recorded by malformed chain calls, if any.
func (m *Matcher) Err() error {
	return errors.Join(m.errs...)
}

// Has reports whether a predicate of the given kind is configured.
func (m *Matcher) Has(k Kind) bool {
	return m.preds.has(k)
}

func (m *Matcher) invalid(method, format string, args ...any) {
	m.errs = append(m.errs, fmt.Errorf("%s: %w: %s", method, ErrInvalidArgument, fmt.Sprintf(format, args...)))
}

// pairs turns key/value arguments into a map. No arguments yields nil,
// the "any" payload.
func (m *Matcher) pairs(method string, keyValues []string) (map[string]string, bool) {
	if len(keyValues) == 0 {
		return nil, true
	}
	if len(keyValues)%2 != 0 {
		m.invalid(method, "expects key/value pairs, got %d arguments", len(keyValues))
		return nil, false
	}
	fields := make(map[string]string, len(keyValues)/2)
	for i := 0; i < len(keyValues); i += 2 {
		if keyValues[i] == "" {
			m.invalid(method, "key %d is empty", i/2+1)
			return nil, false
		}
		fields[keyValues[i]] = keyValues[i+1]
	}
	return fields, true
}

// merge combines maps, later maps winning. No entries at all yields nil,
// the "any" payload.
func (m *Matcher) merge(method string, ms []map[string]string) (map[string]string, bool) {
	var fields map[string]string
	for _, in := range ms {
		if len(in) == 0 {
			continue
		}
		if fields == nil {
			fields = make(map[string]string, len(in))
		}
		if _, ok := in[""]; ok {
			m.invalid(method, "keys must not be empty")
			return nil, false
		}
		maps.Copy(fields, in)
	}
	return fields, true
}
