package spanmatch

import (
	"github.com/andrewh/havespan/pkg/span"
	"go.uber.org/zap"
)

// Matches reports whether src holds a span satisfying every predicate.
// A matcher with recorded argument errors never matches.
func (m *Matcher) Matches(src span.Source) bool {
	if m.Err() != nil {
		return false
	}
	_, ok := m.Find(src.AllSpans())
	return ok
}

// Find returns the first candidate, in collection order, that satisfies every
// predicate.
func (m *Matcher) Find(all span.Collection) (span.Span, bool) {
	candidates := m.candidates(all)
	for _, s := range candidates {
		unmet := m.unmet(s, all)
		if len(unmet) == 0 {
			m.logger.Debug("span matched",
				zap.String("expected", m.Expected()),
				zap.String("operation", s.Operation),
				zap.String("span_id", s.SpanID),
			)
			return s, true
		}
		m.logger.Debug("span rejected",
			zap.String("operation", s.Operation),
			zap.String("span_id", s.SpanID),
			zap.Strings("unmet", clauses(unmet)),
		)
	}
	m.logger.Debug("no span matched",
		zap.String("expected", m.Expected()),
		zap.Int("spans", len(all)),
		zap.Int("candidates", len(candidates)),
	)
	return span.Span{}, false
}

// candidates narrows all to the operation-name filter, if any.
func (m *Matcher) candidates(all span.Collection) span.Collection {
	if !m.hasOperation {
		return all
	}
	return all.Named(m.operation)
}

// Satisfies evaluates a single configured predicate against one span.
// It reports false when no predicate of that kind is configured.
func (m *Matcher) Satisfies(k Kind, s span.Span, all span.Collection) bool {
	p, ok := m.preds.get(k)
	if !ok {
		return false
	}
	return p.satisfiedBy(s, all)
}

// unmet returns the predicates s does not satisfy, in clause order.
func (m *Matcher) unmet(s span.Span, all span.Collection) []predicate {
	var out []predicate
	for _, p := range m.preds.all() {
		if !p.satisfiedBy(s, all) {
			out = append(out, p)
		}
	}
	return out
}

func clauses(preds []predicate) []string {
	out := make([]string, 0, len(preds))
	for _, p := range preds {
		out = append(out, p.clause())
	}
	return out
}
