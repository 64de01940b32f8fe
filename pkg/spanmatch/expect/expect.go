// YAML expectation files for asserting on recorded trace dumps
// Each expectation builds one HaveSpan matcher; results mirror structural check output
package expect

import (
	"fmt"
	"os"

	"github.com/andrewh/havespan/pkg/span"
	"github.com/andrewh/havespan/pkg/spanmatch"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// anyValue marks a generic condition in YAML ("tags: any", "parent: any").
const anyValue = "any"

// File is the top-level YAML document.
type File struct {
	Expectations []Expectation `yaml:"expectations"`
}

// Expectation describes one span that must (or, with Absent, must not) exist.
type Expectation struct {
	Name      string `yaml:"name,omitempty"`
	Operation string `yaml:"operation,omitempty"`
	State     string `yaml:"state,omitempty"`
	Tags      Fields `yaml:"tags,omitempty"`
	Logs      Fields `yaml:"logs,omitempty"`
	Baggage   Fields `yaml:"baggage,omitempty"`
	Parent    string `yaml:"parent,omitempty"`
	Follows   string `yaml:"follows,omitempty"`
	Absent    bool   `yaml:"absent,omitempty"`
}

// Fields is either the scalar "any" or a string mapping.
type Fields struct {
	Set    bool
	Any    bool
	Values map[string]string
}

// UnmarshalYAML accepts "any" or a mapping of scalars.
func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != anyValue {
			return fmt.Errorf("line %d: expected %q or a mapping, got %q", node.Line, anyValue, node.Value)
		}
		*f = Fields{Set: true, Any: true}
		return nil
	case yaml.MappingNode:
		var values map[string]string
		if err := node.Decode(&values); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*f = Fields{Set: true, Values: values}
		return nil
	default:
		return fmt.Errorf("line %d: expected %q or a mapping", node.Line, anyValue)
	}
}

// IsZero lets omitempty drop unset fields when marshalling.
func (f Fields) IsZero() bool { return !f.Set }

// MarshalYAML renders Fields back to "any" or a mapping.
func (f Fields) MarshalYAML() (any, error) {
	if f.Any {
		return anyValue, nil
	}
	return f.Values, nil
}

// Load reads and parses an expectations file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied expectations path is expected
	if err != nil {
		return nil, fmt.Errorf("reading expectations: %w", err)
	}
	return Parse(data)
}

// Parse parses an expectations document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing expectations: %w", err)
	}
	return &f, nil
}

// Validate checks the file for structural correctness, including the
// argument checks each matcher performs.
func Validate(f *File) error {
	if len(f.Expectations) == 0 {
		return fmt.Errorf("at least one expectation is required")
	}
	for i, e := range f.Expectations {
		switch e.State {
		case "", "started", "in_progress", "finished":
		default:
			return fmt.Errorf("expectation %s: unknown state %q, valid states: started, in_progress, finished", e.label(i), e.State)
		}
		if err := e.Matcher().Err(); err != nil {
			return fmt.Errorf("expectation %s: %w", e.label(i), err)
		}
	}
	return nil
}

func (e Expectation) label(i int) string {
	if e.Name != "" {
		return fmt.Sprintf("%d (%s)", i+1, e.Name)
	}
	return fmt.Sprintf("%d", i+1)
}

// Matcher builds the HaveSpan matcher for the expectation.
func (e Expectation) Matcher() *spanmatch.Matcher {
	var m *spanmatch.Matcher
	if e.Operation != "" {
		m = spanmatch.HaveSpan(e.Operation)
	} else {
		m = spanmatch.HaveSpan()
	}

	switch e.State {
	case "started", "in_progress":
		m.InProgress()
	case "finished":
		m.Finished()
	}
	if e.Tags.Set {
		m.WithTags(e.Tags.Values)
	}
	if e.Logs.Set {
		m.WithLog(e.Logs.Values)
	}
	if e.Baggage.Set {
		m.WithBaggageItems(e.Baggage.Values)
	}
	switch e.Parent {
	case "":
	case anyValue:
		m.WithParent()
	default:
		m.ChildOf(e.Parent)
	}
	if e.Follows != "" {
		m.FollowingAfter(e.Follows)
	}
	return m
}

// Result is the outcome of one expectation.
type Result struct {
	Name    string
	Pass    bool
	Message string
}

// Run evaluates every expectation against spans, in file order.
func Run(f *File, spans span.Collection, logger *zap.Logger) []Result {
	if logger == nil {
		logger = zap.NewNop()
	}
	results := make([]Result, 0, len(f.Expectations))
	for i, e := range f.Expectations {
		m := e.Matcher().WithLogger(logger.With(zap.Int("expectation", i+1)))
		name := e.Name
		if name == "" {
			name = m.Description()
		}

		ok, err := m.Match(spans)
		r := Result{Name: name}
		switch {
		case err != nil:
			r.Message = m.FailureMessage(spans)
		case e.Absent && ok:
			r.Message = m.NegatedFailureMessage(spans)
		case e.Absent && !ok:
			r.Pass = true
			r.Message = "should not have " + m.Expected()
		case ok:
			r.Pass = true
			r.Message = m.Description()
		default:
			r.Message = m.FailureMessage(spans)
		}
		logger.Info("expectation evaluated", zap.String("name", name), zap.Bool("pass", r.Pass))
		results = append(results, r)
	}
	return results
}
