package main

import (
	"fmt"

	"github.com/andrewh/havespan/pkg/spanmatch/expect"
	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <expectations.yaml> [traces.json]",
		Short: "Evaluate a file of span expectations against a trace dump",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing expectations file\n\nUsage: havespan verify <expectations.yaml> [traces.json]")
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSettings(cmd)
			if err != nil {
				return err
			}

			file, err := expect.Load(args[0])
			if err != nil {
				return err
			}
			if err := expect.Validate(file); err != nil {
				return err
			}

			var path string
			if len(args) > 1 {
				path = args[1]
			}
			spans, err := loadSpans(cmd, path, s.format())
			if err != nil {
				return err
			}

			return report(cmd.OutOrStdout(), expect.Run(file, spans, s.logger()))
		},
	}
}
