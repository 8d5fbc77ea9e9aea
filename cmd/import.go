package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/award-enricher/internal/ingest"
)

var (
	importCSVPath   string
	importBatchSize int
	importDelimiter string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import award records from CSV into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		delim, err := parseDelimiter(importDelimiter)
		if err != nil {
			return err
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close() //nolint:errcheck

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sum, err := ingest.Load(ctx, f, st, ingest.LoadOptions{
			Options:   ingest.Options{Delimiter: delim, LazyQuotes: true},
			BatchSize: importBatchSize,
		})
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		zap.L().Info("import complete",
			zap.String("csv", importCSVPath),
			zap.Int("read", sum.Read),
			zap.Int("skipped", sum.Skipped),
			zap.Int64("upserted", sum.Upserted),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 500, "records per upsert batch")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", ",", "field delimiter (single character, or \\t)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}

// parseDelimiter accepts a single character or the escape \t.
func parseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	r := []rune(s)
	if len(r) != 1 {
		return 0, eris.Errorf("delimiter must be a single character, got %q", s)
	}
	return r[0], nil
}
