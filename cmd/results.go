package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/store"
)

var resultsJSON bool

var resultsCmd = &cobra.Command{
	Use:   "results <record-id>",
	Short: "Show the enrichment result history and findings for a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		results, err := st.ListResults(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "list results")
		}
		findings, err := st.ListFindings(ctx, store.FindingFilter{RecordID: args[0]})
		if err != nil {
			return eris.Wrap(err, "list findings")
		}

		if resultsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"results": results, "findings": findings})
		}

		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, "No results found.")
			return nil
		}
		formatResults(os.Stdout, results)
		if len(findings) > 0 {
			fmt.Fprintln(os.Stdout)
			formatFindings(os.Stdout, findings)
		}
		return nil
	},
}

var reviewLimit int

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List results flagged for human review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		results, err := st.ReviewQueue(ctx, reviewLimit)
		if err != nil {
			return eris.Wrap(err, "review queue")
		}
		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, "Review queue is empty.")
			return nil
		}
		formatResults(os.Stdout, results)
		return nil
	},
}

func init() {
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "print results and findings as JSON")
	reviewCmd.Flags().IntVar(&reviewLimit, "limit", 100, "max number of results to display")
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(reviewCmd)
}

// formatResults writes a tabular list of results to out.
func formatResults(out io.Writer, results []model.EnrichmentResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECORD\tTYPE\tSTATUS\tCONF\tTIER\tENTITY\tREVIEW\tFETCHED\tDETAIL")
	for _, r := range results {
		review := ""
		if r.NeedsReview {
			review = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\t%s\t%s\n",
			r.RecordID,
			r.EnrichmentType,
			r.Status,
			r.Confidence,
			r.Tier,
			r.ExternalEntityID,
			review,
			r.FetchedAt.Format("2006-01-02 15:04"),
			r.ErrorDetail,
		)
	}
	_ = w.Flush()
}

// formatFindings writes consistency findings to out.
func formatFindings(out io.Writer, findings []model.ConsistencyFinding) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tKIND\tLOCAL\tEXTERNAL\tTYPE")
	for _, f := range findings {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.Field, f.Kind, f.LocalValue, f.ExternalValue, f.EnrichmentType)
	}
	_ = w.Flush()
}
