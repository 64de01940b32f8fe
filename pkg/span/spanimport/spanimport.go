// Trace dump parsers feeding the matcher
// Handles both stdouttrace (line-delimited JSON) and OTLP protobuf JSON formats
package spanimport

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andrewh/havespan/pkg/span"
	"go.opentelemetry.io/otel/attribute"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// Format identifies the input trace format.
type Format string

const (
	FormatAuto        Format = "auto"
	FormatStdouttrace Format = "stdouttrace"
	FormatOTLP        Format = "otlp"
)

// maxInputSize is the maximum input size to prevent OOM on large trace exports.
const maxInputSize = 256 * 1024 * 1024 // 256 MB

var errNoSpans = errors.New("no spans found in input\n\nProvide a file or pipe stdin:\n  havespan check traces.json\n  cat traces.json | havespan check")

// Load reads spans from a file, or from stdin when path is "-".
func Load(path string, format Format) (span.Collection, error) {
	if path == "-" {
		return ParseSpans(os.Stdin, format)
	}
	f, err := os.Open(path) //nolint:gosec // user-supplied file path is expected
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close() //nolint:errcheck // best-effort close on read-only file
	return ParseSpans(f, format)
}

// ParseSpans reads spans from the given reader in the specified format.
// FormatAuto inspects the first JSON object to determine the format.
// Spans keep the order in which they appear in the input.
func ParseSpans(r io.Reader, format Format) (span.Collection, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("input exceeds maximum size of %d MB", maxInputSize/(1024*1024))
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errNoSpans
	}

	if format == FormatAuto || format == "" {
		format, err = detectFormat(data)
		if err != nil {
			return nil, err
		}
	}

	switch format {
	case FormatStdouttrace:
		return parseStdouttrace(data)
	case FormatOTLP:
		return parseOTLP(data)
	default:
		return nil, fmt.Errorf("unknown format %q, valid formats: auto, stdouttrace, otlp", format)
	}
}

// detectFormat examines the first JSON value of the input to determine the format.
// Decoding a single value copes with both line-delimited and pretty-printed input.
func detectFormat(data []byte) (Format, error) {
	var probe map[string]json.RawMessage
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&probe); err == nil {
		if _, ok := probe["SpanContext"]; ok {
			return FormatStdouttrace, nil
		}
		if _, ok := probe["resourceSpans"]; ok {
			return FormatOTLP, nil
		}
	}

	return "", fmt.Errorf("cannot detect format: input has neither SpanContext (stdouttrace) nor resourceSpans (OTLP)")
}

// stdouttraceSpan mirrors the Go SDK's stdouttrace JSON output.
type stdouttraceSpan struct {
	Name        string `json:"Name"`
	SpanContext struct {
		TraceID string `json:"TraceID"`
		SpanID  string `json:"SpanID"`
	} `json:"SpanContext"`
	Parent struct {
		TraceID string `json:"TraceID"`
		SpanID  string `json:"SpanID"`
	} `json:"Parent"`
	StartTime  time.Time          `json:"StartTime"`
	EndTime    time.Time          `json:"EndTime"`
	Attributes []sdkAttr          `json:"Attributes"`
	Events     []stdouttraceEvent `json:"Events"`
}

type stdouttraceEvent struct {
	Name       string    `json:"Name"`
	Attributes []sdkAttr `json:"Attributes"`
	Time       time.Time `json:"Time"`
}

type sdkAttr struct {
	Key   string `json:"Key"`
	Value struct {
		Type  string          `json:"Type"`
		Value json.RawMessage `json:"Value"`
	} `json:"Value"`
}

// value rebuilds the attribute.Value the SDK marshalled, so imported tags
// render exactly like tags read from live spans.
func (a sdkAttr) value() (attribute.Value, error) {
	raw := a.Value.Value
	switch a.Value.Type {
	case "BOOL":
		return decodeAttr(raw, attribute.BoolValue)
	case "INT64":
		return decodeAttr(raw, attribute.Int64Value)
	case "FLOAT64":
		return decodeAttr(raw, attribute.Float64Value)
	case "STRING":
		return decodeAttr(raw, attribute.StringValue)
	case "BOOLSLICE":
		return decodeAttr(raw, attribute.BoolSliceValue)
	case "INT64SLICE":
		return decodeAttr(raw, attribute.Int64SliceValue)
	case "FLOAT64SLICE":
		return decodeAttr(raw, attribute.Float64SliceValue)
	case "STRINGSLICE":
		return decodeAttr(raw, attribute.StringSliceValue)
	default:
		return attribute.StringValue(string(raw)), nil
	}
}

func decodeAttr[T any](raw json.RawMessage, build func(T) attribute.Value) (attribute.Value, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return attribute.Value{}, err
	}
	return build(v), nil
}

func parseStdouttrace(data []byte) (span.Collection, error) {
	// stdouttrace pretty-prints by default, so decode a stream of objects
	// rather than splitting on newlines.
	var spans span.Collection
	dec := json.NewDecoder(bytes.NewReader(data))
	for n := 1; ; n++ {
		var raw stdouttraceSpan
		err := dec.Decode(&raw)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("span %d: %w", n, err)
		}

		parentID := raw.Parent.SpanID
		if isZeroID(parentID) {
			parentID = ""
		}

		logs := make([]span.LogEntry, 0, len(raw.Events))
		for _, ev := range raw.Events {
			fields, err := flattenSDKAttrs(ev.Attributes)
			if err != nil {
				return nil, fmt.Errorf("span %d: event %q: %w", n, ev.Name, err)
			}
			if _, ok := fields[span.EventField]; !ok {
				fields[span.EventField] = ev.Name
			}
			logs = append(logs, span.LogEntry{Timestamp: ev.Time, Fields: fields})
		}

		tags, err := flattenSDKAttrs(raw.Attributes)
		if err != nil {
			return nil, fmt.Errorf("span %d: %w", n, err)
		}

		spans = append(spans, span.Span{
			TraceID:   raw.SpanContext.TraceID,
			SpanID:    raw.SpanContext.SpanID,
			ParentID:  parentID,
			Operation: raw.Name,
			StartTime: raw.StartTime,
			EndTime:   raw.EndTime,
			Tags:      tags,
			Logs:      logs,
		})
	}

	if len(spans) == 0 {
		return nil, errNoSpans
	}
	return spans, nil
}

func flattenSDKAttrs(attrs []sdkAttr) (map[string]string, error) {
	m := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		v, err := attr.value()
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", attr.Key, err)
		}
		m[attr.Key] = v.Emit()
	}
	return m, nil
}

func parseOTLP(data []byte) (span.Collection, error) {
	var req coltracepb.ExportTraceServiceRequest
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing OTLP: %w", err)
	}

	var spans span.Collection
	for _, rs := range req.ResourceSpans {
		for _, ss := range rs.ScopeSpans {
			for _, s := range ss.Spans {
				parentID := hex.EncodeToString(s.ParentSpanId)
				if isZeroID(parentID) || len(s.ParentSpanId) == 0 {
					parentID = ""
				}

				logs := make([]span.LogEntry, 0, len(s.Events))
				for _, ev := range s.Events {
					fields := flattenOTLPAttrs(ev.Attributes)
					if _, ok := fields[span.EventField]; !ok {
						fields[span.EventField] = ev.Name
					}
					logs = append(logs, span.LogEntry{Timestamp: unixNano(ev.TimeUnixNano), Fields: fields})
				}

				var end time.Time
				if s.EndTimeUnixNano != 0 {
					end = unixNano(s.EndTimeUnixNano)
				}

				spans = append(spans, span.Span{
					TraceID:   hex.EncodeToString(s.TraceId),
					SpanID:    hex.EncodeToString(s.SpanId),
					ParentID:  parentID,
					Operation: s.Name,
					StartTime: unixNano(s.StartTimeUnixNano),
					EndTime:   end,
					Tags:      flattenOTLPAttrs(s.Attributes),
					Logs:      logs,
				})
			}
		}
	}

	if len(spans) == 0 {
		return nil, errNoSpans
	}
	return spans, nil
}

func flattenOTLPAttrs(attrs []*commonpb.KeyValue) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		m[attr.Key] = anyValueString(attr.Value)
	}
	return m
}

func unixNano(ns uint64) time.Time {
	return time.Unix(0, int64(ns)) //nolint:gosec // nanosecond timestamps are always positive
}

// isZeroID checks if a hex-encoded ID is all zeros.
func isZeroID(id string) bool {
	for _, c := range id {
		if c != '0' {
			return false
		}
	}
	return len(id) > 0
}

// anyValueString renders an OTLP AnyValue the way attribute.Value.Emit
// renders the same value on a live span. Values the SDK attribute model
// cannot hold (kvlists, bytes, mixed arrays) render as JSON.
func anyValueString(v *commonpb.AnyValue) string {
	if v.GetValue() == nil {
		return ""
	}
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BytesValue:
		return base64.StdEncoding.EncodeToString(x.BytesValue)
	}
	if av, ok := attributeValue(v); ok {
		return av.Emit()
	}
	j, err := json.Marshal(anyValueNative(v))
	if err != nil {
		return fmt.Sprintf("invalid: %v", err)
	}
	return string(j)
}

// attributeValue converts scalars and homogeneous scalar arrays.
func attributeValue(v *commonpb.AnyValue) (attribute.Value, bool) {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return attribute.StringValue(x.StringValue), true
	case *commonpb.AnyValue_BoolValue:
		return attribute.BoolValue(x.BoolValue), true
	case *commonpb.AnyValue_IntValue:
		return attribute.Int64Value(x.IntValue), true
	case *commonpb.AnyValue_DoubleValue:
		return attribute.Float64Value(x.DoubleValue), true
	case *commonpb.AnyValue_ArrayValue:
		return arrayValue(x.ArrayValue.GetValues())
	default:
		return attribute.Value{}, false
	}
}

func arrayValue(values []*commonpb.AnyValue) (attribute.Value, bool) {
	if len(values) == 0 {
		return attribute.Value{}, false
	}
	switch values[0].GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return sliceOf(values, (*commonpb.AnyValue).GetStringValue, isString, attribute.StringSliceValue)
	case *commonpb.AnyValue_BoolValue:
		return sliceOf(values, (*commonpb.AnyValue).GetBoolValue, isBool, attribute.BoolSliceValue)
	case *commonpb.AnyValue_IntValue:
		return sliceOf(values, (*commonpb.AnyValue).GetIntValue, isInt, attribute.Int64SliceValue)
	case *commonpb.AnyValue_DoubleValue:
		return sliceOf(values, (*commonpb.AnyValue).GetDoubleValue, isDouble, attribute.Float64SliceValue)
	default:
		return attribute.Value{}, false
	}
}

func sliceOf[T any](values []*commonpb.AnyValue, get func(*commonpb.AnyValue) T, is func(*commonpb.AnyValue) bool, build func([]T) attribute.Value) (attribute.Value, bool) {
	out := make([]T, 0, len(values))
	for _, v := range values {
		if !is(v) {
			return attribute.Value{}, false
		}
		out = append(out, get(v))
	}
	return build(out), true
}

func isString(v *commonpb.AnyValue) bool {
	_, ok := v.GetValue().(*commonpb.AnyValue_StringValue)
	return ok
}

func isBool(v *commonpb.AnyValue) bool {
	_, ok := v.GetValue().(*commonpb.AnyValue_BoolValue)
	return ok
}

func isInt(v *commonpb.AnyValue) bool {
	_, ok := v.GetValue().(*commonpb.AnyValue_IntValue)
	return ok
}

func isDouble(v *commonpb.AnyValue) bool {
	_, ok := v.GetValue().(*commonpb.AnyValue_DoubleValue)
	return ok
}

// anyValueNative converts an AnyValue to plain Go values for JSON rendering.
// Bytes marshal as base64, matching protojson.
func anyValueNative(v *commonpb.AnyValue) any {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BoolValue:
		return x.BoolValue
	case *commonpb.AnyValue_IntValue:
		return x.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return x.DoubleValue
	case *commonpb.AnyValue_BytesValue:
		return x.BytesValue
	case *commonpb.AnyValue_ArrayValue:
		out := make([]any, 0, len(x.ArrayValue.GetValues()))
		for _, e := range x.ArrayValue.GetValues() {
			out = append(out, anyValueNative(e))
		}
		return out
	case *commonpb.AnyValue_KvlistValue:
		out := make(map[string]any, len(x.KvlistValue.GetValues()))
		for _, kv := range x.KvlistValue.GetValues() {
			out[kv.GetKey()] = anyValueNative(kv.GetValue())
		}
		return out
	default:
		return nil
	}
}
