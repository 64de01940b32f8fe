package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/andrewh/havespan/pkg/span"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func spansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spans [traces.json]",
		Short: "List the spans in a trace dump as a table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSettings(cmd)
			if err != nil {
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
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), spanTable(spans))
			return nil
		},
	}
}

func spanTable(spans span.Collection) string {
	x := table.NewWriter()
	x.AppendHeader(table.Row{"operation", "state", "parent", "tags", "logs", "baggage", "duration"})

	for _, s := range spans {
		state := "finished"
		duration := s.EndTime.Sub(s.StartTime).String()
		if s.InProgress() {
			state = "in progress"
			duration = "-"
		}
		parent := "-"
		if p, ok := spans.Parent(s); ok {
			parent = p.Operation
		} else if s.HasParent() {
			parent = "(remote)"
		}
		x.AppendRow(table.Row{s.Operation, state, parent, pairs(s.Tags), len(s.Logs), pairs(s.Baggage), duration})
	}
	x.AppendFooter(table.Row{fmt.Sprintf("%d spans", len(spans))})

	return x.Render()
}

func pairs(m map[string]string) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ", ")
}
