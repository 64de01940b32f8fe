// Message rendering for descriptions and failure diagnostics
// Every message is built from the same expected clause
package spanmatch

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/andrewh/havespan/pkg/span"
)

const (
	expectedPrefix    = "expected "
	descriptionPrefix = "should have "
	negatedPrefix     = "did not expect "
)

// maxClosest caps the ranked near-miss list in failure messages.
const maxClosest = 5

// Expected renders the configured conditions, for example
// `a finished span with operation name "db" with tags {"k"=>"v"}`.
// Clause order is fixed regardless of the order of chain calls.
func (m *Matcher) Expected() string {
	var b strings.Builder
	b.WriteString("a ")
	if p, ok := m.preds.get(KindState); ok {
		if adj := p.clause(); adj != "" {
			b.WriteString(adj)
			b.WriteByte(' ')
		}
	}
	b.WriteString("span")
	if m.hasOperation {
		b.WriteString(" with ")
		b.WriteString(operationClause(m.operation))
	}
	for _, p := range m.preds.all() {
		if p.kind == KindState {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(p.clause())
	}
	return b.String()
}

// Description is the self-description of a passing assertion.
func (m *Matcher) Description() string {
	return descriptionPrefix + m.Expected()
}

// String implements fmt.Stringer.
func (m *Matcher) String() string {
	return m.Expected()
}

// failureMessage explains why no span in all qualified.
func (m *Matcher) failureMessage(all span.Collection) string {
	var b strings.Builder
	b.WriteString(expectedPrefix)
	b.WriteString(m.Expected())

	if err := m.Err(); err != nil {
		fmt.Fprintf(&b, "\n\nbut the matcher is invalid: %v", err)
		return b.String()
	}

	switch {
	case m.hasOperation && len(all.Named(m.operation)) == 0:
		fmt.Fprintf(&b, "\n\nbut no span has %s\nsuggestions:", operationClause(m.operation))
		if len(all) == 0 {
			b.WriteString(" none, no spans were recorded")
		}
		for _, s := range all {
			b.WriteString("\n  - ")
			b.WriteString(summary(s))
		}
	case len(all) == 0:
		b.WriteString("\n\nbut no spans were recorded")
	default:
		candidates := m.candidates(all)
		fmt.Fprintf(&b, "\n\nbut none of the %d candidate spans satisfied every condition\nclosest candidates:", len(candidates))
		ranked := m.rank(candidates, all)
		for _, r := range ranked[:min(len(ranked), maxClosest)] {
			b.WriteString("\n  - ")
			b.WriteString(summary(r.span))
			b.WriteString("\n    unmet: ")
			b.WriteString(strings.Join(clauses(r.unmet), ", "))
		}
		if len(ranked) > maxClosest {
			fmt.Fprintf(&b, "\n  (%d more)", len(ranked)-maxClosest)
		}
	}
	return b.String()
}

// negatedFailureMessage reports the span that matched when none was wanted.
func (m *Matcher) negatedFailureMessage(all span.Collection) string {
	msg := negatedPrefix + m.Expected()
	if err := m.Err(); err != nil {
		return msg + fmt.Sprintf("\n\nbut the matcher is invalid: %v", err)
	}
	if s, ok := m.Find(all); ok {
		msg += "\n\nbut found " + summary(s)
	}
	return msg
}

type nearMiss struct {
	span  span.Span
	unmet []predicate
}

// rank orders candidates by how few predicates they miss. Ties keep
// collection order.
func (m *Matcher) rank(candidates, all span.Collection) []nearMiss {
	out := make([]nearMiss, 0, len(candidates))
	for _, s := range candidates {
		out = append(out, nearMiss{span: s, unmet: m.unmet(s, all)})
	}
	slices.SortStableFunc(out, func(a, b nearMiss) int {
		return cmp.Compare(len(a.unmet), len(b.unmet))
	})
	return out
}

// summary renders one span for suggestion lists.
func summary(s span.Span) string {
	return fmt.Sprintf("Span(operation_name=%s, in_progress=%t, tags=%s, logs=%d, baggage=%s)",
		s.Operation, s.InProgress(), mappingLiteral(s.Tags), len(s.Logs), mappingLiteral(s.Baggage))
}
