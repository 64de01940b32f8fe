// Assertion framework adapters
// Matcher satisfies gomega's types.GomegaMatcher; Assert and Require serve testify users
package spanmatch

import (
	"fmt"

	"github.com/andrewh/havespan/pkg/span"
	"github.com/onsi/gomega/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var _ types.GomegaMatcher = (*Matcher)(nil)

// Match implements types.GomegaMatcher. actual may be a span.Source, a
// []span.Span, a *tracetest.InMemoryExporter, tracetest.SpanStubs, or
// []sdktrace.ReadOnlySpan. Unsupported input and malformed chain calls are
// errors rather than mismatches.
func (m *Matcher) Match(actual any) (bool, error) {
	if err := m.Err(); err != nil {
		return false, err
	}
	all, err := spansOf(actual)
	if err != nil {
		return false, err
	}
	_, ok := m.Find(all)
	return ok, nil
}

// FailureMessage implements types.GomegaMatcher.
func (m *Matcher) FailureMessage(actual any) string {
	all, err := spansOf(actual)
	if err != nil {
		return expectedPrefix + m.Expected() + "\n\n" + err.Error()
	}
	return m.failureMessage(all)
}

// NegatedFailureMessage implements types.GomegaMatcher.
func (m *Matcher) NegatedFailureMessage(actual any) string {
	all, err := spansOf(actual)
	if err != nil {
		return negatedPrefix + m.Expected() + "\n\n" + err.Error()
	}
	return m.negatedFailureMessage(all)
}

func spansOf(actual any) (span.Collection, error) {
	switch a := actual.(type) {
	case nil:
		return nil, fmt.Errorf("HaveSpan matcher expects spans, got nil")
	case span.Source:
		return a.AllSpans(), nil
	case []span.Span:
		return span.Collection(a), nil
	case *tracetest.InMemoryExporter:
		return span.FromStubs(a.GetSpans()), nil
	case tracetest.SpanStubs:
		return span.FromStubs(a), nil
	case []sdktrace.ReadOnlySpan:
		return span.FromReadOnly(a, nil), nil
	default:
		return nil, fmt.Errorf("HaveSpan matcher expects a span.Source, span collection, or OpenTelemetry spans, got %T", actual)
	}
}

type tHelper interface {
	Helper()
}

// Assert checks m against actual and reports a testify failure with the full
// diagnostic when no span matches.
func Assert(t assert.TestingT, actual any, m *Matcher, msgAndArgs ...any) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if ok, err := m.Match(actual); err != nil || !ok {
		return assert.Fail(t, m.FailureMessage(actual), msgAndArgs...)
	}
	return true
}

// AssertNo checks that no span in actual satisfies m.
func AssertNo(t assert.TestingT, actual any, m *Matcher, msgAndArgs ...any) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if ok, err := m.Match(actual); err != nil || ok {
		return assert.Fail(t, m.NegatedFailureMessage(actual), msgAndArgs...)
	}
	return true
}

// Require is Assert followed by t.FailNow on failure.
func Require(t require.TestingT, actual any, m *Matcher, msgAndArgs ...any) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	if !Assert(t, actual, m, msgAndArgs...) {
		t.FailNow()
	}
}
