// Predicate kinds, payloads, and the per-kind rule table
// One clause renderer and one evaluator per kind, dispatched by Kind
package spanmatch

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/andrewh/havespan/pkg/span"
)

// Kind names a family of span conditions. Kinds are declared in the order
// their clauses appear in rendered messages.
type Kind int

const (
	KindState Kind = iota
	KindTag
	KindLog
	KindBaggage
	KindParent
	KindFollows
	numKinds
)

var kindNames = [numKinds]string{
	KindState:   "state",
	KindTag:     "tag",
	KindLog:     "log",
	KindBaggage: "baggage",
	KindParent:  "parent",
	KindFollows: "follows",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// State is the lifecycle state a span must be in.
type State int

const (
	StateAny State = iota
	StateInProgress
	StateFinished
)

// predicate is one configured condition. A nil fields map on a tag, log, or
// baggage predicate, and an empty target on a parent predicate, mean "any".
type predicate struct {
	kind   Kind
	state  State
	fields map[string]string
	target string
}

func (p predicate) generic() bool {
	switch p.kind {
	case KindTag, KindLog, KindBaggage:
		return p.fields == nil
	case KindParent:
		return p.target == ""
	default:
		return false
	}
}

// predicateSet holds at most one predicate per kind. Setting a kind again
// replaces the previous value.
type predicateSet struct {
	preds [numKinds]predicate
	isSet [numKinds]bool
}

func (s *predicateSet) set(p predicate) {
	s.preds[p.kind] = p
	s.isSet[p.kind] = true
}

func (s *predicateSet) has(k Kind) bool {
	return s.isSet[k]
}

func (s *predicateSet) get(k Kind) (predicate, bool) {
	return s.preds[k], s.isSet[k]
}

// all returns the configured predicates in clause order.
func (s *predicateSet) all() []predicate {
	out := make([]predicate, 0, numKinds)
	for k := range numKinds {
		if s.isSet[k] {
			out = append(out, s.preds[k])
		}
	}
	return out
}

// rule renders and evaluates one kind of predicate.
type rule struct {
	clause    func(p predicate) string
	satisfied func(p predicate, s span.Span, all span.Collection) bool
}

var rules = [numKinds]rule{
	KindState: {
		clause: func(p predicate) string {
			switch p.state {
			case StateInProgress:
				return "started"
			case StateFinished:
				return "finished"
			default:
				return ""
			}
		},
		satisfied: func(p predicate, s span.Span, _ span.Collection) bool {
			switch p.state {
			case StateInProgress:
				return s.InProgress()
			case StateFinished:
				return s.Finished()
			default:
				return true
			}
		},
	},
	KindTag: {
		clause: mappingClause("with tags"),
		satisfied: func(p predicate, s span.Span, _ span.Collection) bool {
			if p.generic() {
				return len(s.Tags) > 0
			}
			return span.Subset(p.fields, s.Tags)
		},
	},
	KindLog: {
		clause: mappingClause("with log entry"),
		satisfied: func(p predicate, s span.Span, _ span.Collection) bool {
			if p.generic() {
				return len(s.Logs) > 0
			}
			for _, entry := range s.Logs {
				if span.Subset(p.fields, entry.Fields) {
					return true
				}
			}
			return false
		},
	},
	KindBaggage: {
		clause: mappingClause("with baggage"),
		satisfied: func(p predicate, s span.Span, _ span.Collection) bool {
			if p.generic() {
				return len(s.Baggage) > 0
			}
			return span.Subset(p.fields, s.Baggage)
		},
	},
	KindParent: {
		clause: func(p predicate) string {
			if p.generic() {
				return "with a parent"
			}
			return "with a span with " + operationClause(p.target) + " as the parent"
		},
		satisfied: func(p predicate, s span.Span, all span.Collection) bool {
			if !s.HasParent() {
				return false
			}
			if p.generic() {
				return true
			}
			parent, ok := all.Parent(s)
			return ok && parent.Operation == p.target
		},
	},
	KindFollows: {
		clause: func(p predicate) string {
			return "follow after a span with " + operationClause(p.target)
		},
		satisfied: func(p predicate, s span.Span, all span.Collection) bool {
			for _, prev := range all.Named(p.target) {
				if prev.SpanID != "" && prev.SpanID == s.SpanID {
					continue
				}
				if prev.Finished() && !s.StartTime.Before(prev.EndTime) {
					return true
				}
			}
			return false
		},
	},
}

func (p predicate) clause() string {
	return rules[p.kind].clause(p)
}

func (p predicate) satisfiedBy(s span.Span, all span.Collection) bool {
	return rules[p.kind].satisfied(p, s, all)
}

func mappingClause(prefix string) func(p predicate) string {
	return func(p predicate) string {
		if p.generic() {
			return prefix
		}
		return prefix + " " + mappingLiteral(p.fields)
	}
}

func operationClause(name string) string {
	return "operation name " + strconv.Quote(name)
}

// mappingLiteral renders m as {"k"=>"v", ...} with keys sorted.
func mappingLiteral(m map[string]string) string {
	keys := slices.Sorted(maps.Keys(m))

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Quote(k))
		b.WriteString("=>")
		b.WriteString(strconv.Quote(m[k]))
	}
	b.WriteByte('}')
	return b.String()
}
