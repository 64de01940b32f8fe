// Property-based tests for the matcher using pgregory.net/rapid
// Covers chain-order invariance, subset semantics, and evaluation/diagnostic agreement
package spanmatch

import (
	"fmt"
	"testing"
	"time"

	"github.com/andrewh/havespan/pkg/span"
	"pgregory.net/rapid"
)

var (
	opNames   = []string{"GET", "POST", "query", "lookup", "verify"}
	fieldKeys = []string{"a", "b", "c"}
	fieldVals = []string{"1", "2"}
)

// --- Generators ---

func genFields(t *rapid.T, label string) map[string]string {
	n := rapid.IntRange(0, len(fieldKeys)).Draw(t, label+"Count")
	m := make(map[string]string, n)
	for i := range n {
		m[fieldKeys[i]] = rapid.SampledFrom(fieldVals).Draw(t, fmt.Sprintf("%s%d", label, i))
	}
	return m
}

// genSpans produces a small collection where each span may point at an
// earlier span as parent.
func genSpans(t *rapid.T) span.Collection {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n := rapid.IntRange(0, 8).Draw(t, "spanCount")
	spans := make(span.Collection, 0, n)
	for i := range n {
		s := span.Span{
			SpanID:    fmt.Sprintf("span%d", i),
			Operation: rapid.SampledFrom(opNames).Draw(t, fmt.Sprintf("op%d", i)),
			StartTime: base.Add(time.Duration(rapid.IntRange(0, 10).Draw(t, fmt.Sprintf("start%d", i))) * time.Second),
			Tags:      genFields(t, fmt.Sprintf("tags%d", i)),
			Baggage:   genFields(t, fmt.Sprintf("bag%d", i)),
		}
		if rapid.Bool().Draw(t, fmt.Sprintf("finished%d", i)) {
			s.EndTime = s.StartTime.Add(time.Duration(rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("dur%d", i))) * time.Second)
		}
		if i > 0 && rapid.Bool().Draw(t, fmt.Sprintf("hasParent%d", i)) {
			s.ParentID = spans[rapid.IntRange(0, i-1).Draw(t, fmt.Sprintf("parent%d", i))].SpanID
		}
		if rapid.Bool().Draw(t, fmt.Sprintf("hasLog%d", i)) {
			s.Logs = []span.LogEntry{{Fields: genFields(t, fmt.Sprintf("log%d", i))}}
		}
		spans = append(spans, s)
	}
	return spans
}

// chainStep is one chain call, applied by name so it can be permuted.
type chainStep func(m *Matcher) *Matcher

// genSteps draws at most one step per predicate kind.
func genSteps(t *rapid.T) []chainStep {
	var steps []chainStep
	if rapid.Bool().Draw(t, "useState") {
		if rapid.Bool().Draw(t, "finishedState") {
			steps = append(steps, (*Matcher).Finished)
		} else {
			steps = append(steps, (*Matcher).Started)
		}
	}
	if rapid.Bool().Draw(t, "useTag") {
		fields := genFields(t, "wantTags")
		steps = append(steps, func(m *Matcher) *Matcher { return m.WithTags(fields) })
	}
	if rapid.Bool().Draw(t, "useLog") {
		fields := genFields(t, "wantLog")
		steps = append(steps, func(m *Matcher) *Matcher { return m.WithLog(fields) })
	}
	if rapid.Bool().Draw(t, "useBaggage") {
		fields := genFields(t, "wantBaggage")
		steps = append(steps, func(m *Matcher) *Matcher { return m.WithBaggageItems(fields) })
	}
	if rapid.Bool().Draw(t, "useParent") {
		if rapid.Bool().Draw(t, "genericParent") {
			steps = append(steps, (*Matcher).WithParent)
		} else {
			name := rapid.SampledFrom(opNames).Draw(t, "parentName")
			steps = append(steps, func(m *Matcher) *Matcher { return m.ChildOf(name) })
		}
	}
	if rapid.Bool().Draw(t, "useFollows") {
		name := rapid.SampledFrom(opNames).Draw(t, "followsName")
		steps = append(steps, func(m *Matcher) *Matcher { return m.FollowingAfter(name) })
	}
	return steps
}

func build(name string, steps []chainStep, order []int) *Matcher {
	var m *Matcher
	if name == "" {
		m = HaveSpan()
	} else {
		m = HaveSpan(name)
	}
	for _, i := range order {
		m = steps[i](m)
	}
	return m
}

// --- Properties ---

// TestProperty_ChainOrderIrrelevant checks that any permutation of the same
// chain calls yields the same result and the same rendering.
func TestProperty_ChainOrderIrrelevant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		spans := genSpans(t)
		steps := genSteps(t)
		name := rapid.SampledFrom(append([]string{""}, opNames...)).Draw(t, "filter")

		identity := make([]int, len(steps))
		for i := range identity {
			identity[i] = i
		}
		shuffled := rapid.Permutation(identity).Draw(t, "order")

		a := build(name, steps, identity)
		b := build(name, steps, shuffled)

		okA, errA := a.Match(spans)
		okB, errB := b.Match(spans)
		if errA != nil || errB != nil {
			t.Fatalf("unexpected errors: %v, %v", errA, errB)
		}
		if okA != okB {
			t.Fatalf("order changed the result: %v vs %v", okA, okB)
		}
		if a.Expected() != b.Expected() {
			t.Fatalf("order changed the rendering: %q vs %q", a.Expected(), b.Expected())
		}
	})
}

// TestProperty_MatchAgreesWithPerPredicateEvaluation checks that a match
// exists exactly when some candidate satisfies every predicate individually.
func TestProperty_MatchAgreesWithPerPredicateEvaluation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		spans := genSpans(t)
		steps := genSteps(t)
		order := make([]int, len(steps))
		for i := range order {
			order[i] = i
		}
		m := build("", steps, order)

		want := false
		for _, s := range spans {
			all := true
			for k := range numKinds {
				if m.Has(k) && !m.Satisfies(k, s, spans) {
					all = false
				}
			}
			if all {
				want = true
				break
			}
		}

		if got := m.Matches(spans); got != want {
			t.Fatalf("Matches = %v, per-predicate evaluation = %v", got, want)
		}
	})
}

// TestProperty_TagSubset checks that a span satisfies a specific tag
// predicate iff every wanted pair is among its tags.
func TestProperty_TagSubset(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		have := genFields(t, "have")
		want := genFields(t, "want")
		s := span.Span{SpanID: "s", Operation: "op", Tags: have}
		all := span.Collection{s}

		m := HaveSpan().WithTags(want)
		got := m.Satisfies(KindTag, s, all)

		expected := true
		if len(want) == 0 {
			expected = len(have) > 0
		}
		for k, v := range want {
			if have[k] != v {
				expected = false
			}
		}
		if got != expected {
			t.Fatalf("have %v want %v: got %v expected %v", have, want, got, expected)
		}
	})
}

// TestProperty_FailureMessageStartsWithExpected checks that every failure
// diagnostic begins with the same clause the description uses.
func TestProperty_FailureMessageStartsWithExpected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		spans := genSpans(t)
		steps := genSteps(t)
		order := make([]int, len(steps))
		for i := range order {
			order[i] = i
		}
		m := build(rapid.SampledFrom(append([]string{""}, opNames...)).Draw(t, "filter"), steps, order)

		prefix := expectedPrefix + m.Expected()
		msg := m.FailureMessage(spans)
		if len(msg) < len(prefix) || msg[:len(prefix)] != prefix {
			t.Fatalf("failure message %q does not start with %q", msg, prefix)
		}
		if m.Description() != descriptionPrefix+m.Expected() {
			t.Fatalf("description %q does not share the expected clause", m.Description())
		}
	})
}
