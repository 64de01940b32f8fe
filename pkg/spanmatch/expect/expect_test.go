// Tests for expectation file loading, validation, and evaluation
package expect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrewh/havespan/pkg/span"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "expectations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fixture() span.Collection {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return span.Collection{
		{
			SpanID: "1", Operation: "auth",
			StartTime: base, EndTime: base.Add(time.Second),
		},
		{
			SpanID: "2", Operation: "GET /users",
			StartTime: base.Add(2 * time.Second), EndTime: base.Add(5 * time.Second),
			Tags: map[string]string{"http.method": "GET"},
		},
		{
			SpanID: "3", ParentID: "2", Operation: "query",
			StartTime: base.Add(3 * time.Second),
			Tags:      map[string]string{"db.system": "postgresql"},
			Logs:      []span.LogEntry{{Fields: map[string]string{"event": "retry", "attempt": "2"}}},
			Baggage:   map[string]string{"tenant": "acme"},
		},
	}
}

const validExpectations = `
expectations:
  - name: request finished
    operation: GET /users
    state: finished
    tags:
      http.method: GET
    follows: auth
  - name: query still running
    operation: query
    state: started
    tags: any
    logs:
      event: retry
    baggage:
      tenant: acme
    parent: GET /users
  - operation: query
    parent: any
  - name: no deletes
    operation: DELETE /users
    absent: true
`

func TestLoad(t *testing.T) {
	t.Parallel()
	path := writeTestConfig(t, validExpectations)

	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Expectations, 4)
	require.NoError(t, Validate(f))

	e := f.Expectations[1]
	assert.Equal(t, "query", e.Operation)
	assert.Equal(t, Fields{Set: true, Any: true}, e.Tags)
	assert.Equal(t, Fields{Set: true, Values: map[string]string{"event": "retry"}}, e.Logs)
	assert.Equal(t, "GET /users", e.Parent)
	assert.False(t, f.Expectations[2].Tags.Set)
	assert.True(t, f.Expectations[3].Absent)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading expectations")
	})

	t.Run("bad fields scalar", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]byte("expectations:\n  - tags: some\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `expected "any" or a mapping, got "some"`)
	})

	t.Run("fields sequence", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]byte("expectations:\n  - tags: [a, b]\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing expectations")
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "expectations: []\n", "at least one expectation is required"},
		{"bad state", "expectations:\n  - state: done\n", `expectation 1: unknown state "done"`},
		{"empty tag key", "expectations:\n  - name: x\n    tags:\n      \"\": v\n", "expectation 1 (x): "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			err = Validate(f)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpectation_Matcher(t *testing.T) {
	t.Parallel()
	e := Expectation{
		Operation: "query",
		State:     "in_progress",
		Tags:      Fields{Set: true, Values: map[string]string{"db.system": "postgresql"}},
		Logs:      Fields{Set: true, Any: true},
		Parent:    "GET /users",
	}
	m := e.Matcher()
	assert.Equal(t,
		`a started span with operation name "query" with tags {"db.system"=>"postgresql"} with log entry with a span with operation name "GET /users" as the parent`,
		m.Expected())
	assert.True(t, m.Matches(fixture()))
}

func TestRun(t *testing.T) {
	t.Parallel()
	f, err := Parse([]byte(validExpectations))
	require.NoError(t, err)

	results := Run(f, fixture(), nil)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Pass, "%s: %s", r.Name, r.Message)
	}
	assert.Equal(t, "request finished", results[0].Name)
	assert.Equal(t, `should have a span with operation name "query" with a parent`, results[2].Name)
	assert.Equal(t, `should not have a span with operation name "DELETE /users"`, results[3].Message)
}

func TestRun_Failures(t *testing.T) {
	t.Parallel()
	f, err := Parse([]byte(`
expectations:
  - name: query finished
    operation: query
    state: finished
  - name: auth absent
    operation: auth
    absent: true
`))
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	results := Run(f, fixture(), zap.New(core))
	require.Len(t, results, 2)

	assert.False(t, results[0].Pass)
	assert.Contains(t, results[0].Message, `expected a finished span with operation name "query"`)
	assert.Contains(t, results[0].Message, "unmet: finished")

	assert.False(t, results[1].Pass)
	assert.Contains(t, results[1].Message, `did not expect a span with operation name "auth"`)
	assert.Contains(t, results[1].Message, "but found Span(operation_name=auth")

	assert.Equal(t, 2, logs.FilterMessage("expectation evaluated").Len())
}

func TestFields_MarshalYAML(t *testing.T) {
	t.Parallel()
	out, err := yaml.Marshal(Expectation{
		Operation: "query",
		Tags:      Fields{Set: true, Any: true},
		Baggage:   Fields{Set: true, Values: map[string]string{"tenant": "acme"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "operation: query\ntags: any\nbaggage:\n    tenant: acme\n", string(out))
}
