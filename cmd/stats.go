package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/award-enricher/internal/monitoring"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored job, result and review counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st, nil, nil).Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		formatStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statsCmd)
}

// formatStats writes a monitoring snapshot to out.
func formatStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Records:\t%d\n", s.Records)

	_, _ = fmt.Fprintln(w, "Jobs:")
	for _, k := range sortedKeys(s.JobsByStatus) {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", k, s.JobsByStatus[k])
	}

	_, _ = fmt.Fprintf(w, "Results:\t%d\n", s.ResultsTotal)
	for _, k := range sortedKeys(s.ResultsByStatus) {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", k, s.ResultsByStatus[k])
	}
	if s.ResultsTotal > 0 {
		_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailureRate*100)
	}
	_, _ = fmt.Fprintf(w, "Review queue:\t%d\n", s.ReviewQueue)
	_, _ = fmt.Fprintf(w, "Findings:\t%d\n", s.Findings)
	_ = w.Flush()
}

func sortedKeys[K ~string](m map[K]int) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
