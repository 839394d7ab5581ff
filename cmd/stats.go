package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sdr-cli/internal/monitoring"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print lead and message counts as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close() //nolint:errcheck

		// Cycle reports and breaker states live in the serve process.
		snap, err := monitoring.NewCollector(st, nil, nil, cfg.Pipeline.FollowUpLookahead).Collect(ctx)
		if err != nil {
			return err
		}
		return writeIndented(cmd.OutOrStdout(), snap)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
