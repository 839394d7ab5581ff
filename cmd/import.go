package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/ingest"
	"github.com/sells-group/sdr-cli/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Bulk import leads from a JSON array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close() //nolint:errcheck

		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		res, err := importFile(ctx, st, f)
		if err != nil {
			return err
		}
		zap.L().Info("import complete",
			zap.String("file", args[0]),
			zap.Int("received", res.Received),
			zap.Int("inserted", res.Inserted),
		)
		return writeIndented(cmd.OutOrStdout(), res)
	},
}

// importFile decodes a JSON array of leads and imports it. The next
// scheduled new-lead cycle picks the rows up.
func importFile(ctx context.Context, st store.Store, r io.Reader) (*ingest.ImportResult, error) {
	var rows []ingest.LeadInput
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, eris.Wrap(err, "decode leads")
	}
	return ingest.NewService(st, nil, nil).ImportLeads(ctx, rows)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write output")
}

func init() {
	rootCmd.AddCommand(importCmd)
}
