package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sdr-cli/internal/pipeline"
)

var cycleCmd = &cobra.Command{
	Use:       "cycle new-leads|existing-leads",
	Short:     "Run one pipeline cycle and print its report",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(pipeline.KindNewLeads), string(pipeline.KindExistingLeads)},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := pipeline.ParseKind(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate("pipeline"); err != nil {
			return err
		}

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Orchestrator.RunCycle(ctx, kind)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), pipeline.FormatReport(report))

		if report.Failed() {
			return eris.Errorf("%s cycle failed: %s", kind, report.Err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}
