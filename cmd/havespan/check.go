package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/andrewh/havespan/pkg/spanmatch/expect"
	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	var (
		e       expect.Expectation
		tags    []string
		logs    []string
		baggage []string
	)

	cmd := &cobra.Command{
		Use:   "check [traces.json]",
		Short: "Assert that a trace dump contains a matching span",
		Long: "Assert that a trace dump contains a matching span.\n\n" +
			"Reads stdin when no file is given or the file is \"-\".\n" +
			"--tag, --log, and --baggage take key=value pairs and may be repeated;\n" +
			"the value \"any\" asks only that the span has at least one.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSettings(cmd)
			if err != nil {
				return err
			}

			for _, f := range []struct {
				flag   string
				values []string
				dst    *expect.Fields
			}{
				{"tag", tags, &e.Tags},
				{"log", logs, &e.Logs},
				{"baggage", baggage, &e.Baggage},
			} {
				if *f.dst, err = parseFields(f.flag, f.values); err != nil {
					return err
				}
			}

			file := &expect.File{Expectations: []expect.Expectation{e}}
			if err := expect.Validate(file); err != nil {
				return err
			}

			var path string
			if len(args) > 0 {
				path = args[0]
			}
			spans, err := loadSpans(cmd, path, s.format())
			if err != nil {
				return err
			}

			return report(cmd.OutOrStdout(), expect.Run(file, spans, s.logger()))
		},
	}

	cmd.Flags().StringVar(&e.Operation, "name", "", "operation name the span must have")
	cmd.Flags().StringVar(&e.State, "state", "", "span state: started, in_progress, finished")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag the span must carry (key=value, or \"any\")")
	cmd.Flags().StringArrayVar(&logs, "log", nil, "field of one log entry (key=value, or \"any\")")
	cmd.Flags().StringArrayVar(&baggage, "baggage", nil, "baggage item the span must carry (key=value, or \"any\")")
	cmd.Flags().StringVar(&e.Parent, "parent", "", "operation name of the parent span, or \"any\"")
	cmd.Flags().StringVar(&e.Follows, "follows", "", "operation name of a finished span this one must start after")
	cmd.Flags().BoolVar(&e.Absent, "absent", false, "fail if a matching span exists")

	return cmd
}

// parseFields turns repeated key=value flag values into expectation fields.
func parseFields(flag string, values []string) (expect.Fields, error) {
	if len(values) == 0 {
		return expect.Fields{}, nil
	}
	if len(values) == 1 && values[0] == "any" {
		return expect.Fields{Set: true, Any: true}, nil
	}
	out := make(map[string]string, len(values))
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return expect.Fields{}, fmt.Errorf("--%s %q: expected key=value", flag, kv)
		}
		out[k] = v
	}
	return expect.Fields{Set: true, Values: out}, nil
}

// report prints one PASS/FAIL line per result and fails if any result did.
func report(w io.Writer, results []expect.Result) error {
	anyFailed := false
	for _, r := range results {
		status := "PASS"
		if !r.Pass {
			status = "FAIL"
			anyFailed = true
		}
		_, _ = fmt.Fprintf(w, "%s  %s\n", status, r.Name)
		if !r.Pass {
			for _, line := range strings.Split(r.Message, "\n") {
				_, _ = fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}

	if anyFailed {
		return fmt.Errorf("one or more expectations failed")
	}
	return nil
}
