package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/award-enricher/internal/model"
)

var (
	enrichRecords  []string
	enrichTypes    []string
	enrichPriority string
	enrichSpecPath string
	enrichJSON     bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run one enrichment job in-process and wait for it",
	Example: `  award-enricher enrich --records A1,A2 --types awardee,solicitation
  award-enricher enrich --spec job.yaml --priority high`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		spec, err := buildJobSpec(enrichSpecPath, enrichRecords, enrichTypes, enrichPriority)
		if err != nil {
			return err
		}

		env, err := initEnricher(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := runJob(ctx, env.Orchestrator, spec, drainTimeout)
		if err != nil {
			return err
		}

		if enrichJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		}
		formatJob(os.Stdout, job)
		return nil
	},
}

// drainTimeout bounds how long an interrupted enrich waits for in-flight
// items to finish and be recorded.
const drainTimeout = 30 * time.Second

// jobRunner is the part of the orchestrator the enrich command drives.
type jobRunner interface {
	Start(ctx context.Context) error
	Submit(ctx context.Context, spec model.JobSpec) (string, error)
	Wait(ctx context.Context, jobID string) (model.EnrichmentJob, error)
	Cancel(ctx context.Context, jobID string) error
	Stop()
}

// runJob runs spec to completion. Workers run detached from ctx so an
// interrupt only stops dispatch: the job is cancelled, in-flight items
// finish and are recorded within drain, then the pool stops.
func runJob(ctx context.Context, o jobRunner, spec model.JobSpec, drain time.Duration) (model.EnrichmentJob, error) {
	if err := o.Start(context.WithoutCancel(ctx)); err != nil {
		return model.EnrichmentJob{}, eris.Wrap(err, "start workers")
	}
	defer o.Stop()

	jobID, err := o.Submit(ctx, spec)
	if err != nil {
		return model.EnrichmentJob{}, eris.Wrapf(err, "submit job %s", jobID)
	}
	zap.L().Info("job submitted", zap.String("job_id", jobID))

	job, err := o.Wait(ctx, jobID)
	if err == nil {
		return job, nil
	}
	if ctx.Err() == nil {
		return job, eris.Wrapf(err, "wait for job %s", jobID)
	}

	zap.L().Warn("interrupted, cancelling job", zap.String("job_id", jobID), zap.Duration("drain", drain))
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drain)
	defer cancel()
	if err := o.Cancel(drainCtx, jobID); err != nil {
		return job, eris.Wrapf(err, "cancel job %s", jobID)
	}
	job, err = o.Wait(drainCtx, jobID)
	if err != nil {
		zap.L().Warn("drain timed out", zap.String("job_id", jobID), zap.Error(err))
	}
	return job, nil
}

func init() {
	enrichCmd.Flags().StringSliceVar(&enrichRecords, "records", nil, "comma-separated award record IDs")
	enrichCmd.Flags().StringSliceVar(&enrichTypes, "types", nil, "enrichment types (awardee, program_office, solicitation, modifications; default all)")
	enrichCmd.Flags().StringVar(&enrichPriority, "priority", "", "job priority (normal, high)")
	enrichCmd.Flags().StringVar(&enrichSpecPath, "spec", "", "path to a YAML job spec")
	enrichCmd.Flags().BoolVar(&enrichJSON, "json", false, "print the final job snapshot as JSON")
	rootCmd.AddCommand(enrichCmd)
}

// buildJobSpec merges a YAML spec file (optional) with flag values. Flags
// override the file. Types default to every enrichment type.
func buildJobSpec(path string, records, types []string, priority string) (model.JobSpec, error) {
	var spec model.JobSpec
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return spec, eris.Wrap(err, "read job spec")
		}
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return spec, eris.Wrap(err, "parse job spec")
		}
	}

	if len(records) > 0 {
		spec.RecordIDs = records
	}
	if len(types) > 0 {
		spec.EnrichmentTypes = spec.EnrichmentTypes[:0]
		for _, t := range types {
			typ, err := model.ParseEnrichmentType(strings.TrimSpace(t))
			if err != nil {
				return spec, err
			}
			spec.EnrichmentTypes = append(spec.EnrichmentTypes, typ)
		}
	}
	if len(spec.EnrichmentTypes) == 0 {
		spec.EnrichmentTypes = model.AllEnrichmentTypes()
	}
	if priority != "" {
		p, err := model.ParsePriority(priority)
		if err != nil {
			return spec, err
		}
		spec.Priority = p
	}

	if len(spec.RecordIDs) == 0 {
		return spec, eris.New("no records given (use --records or --spec)")
	}
	return spec, nil
}

// formatJob writes a job summary with per-type counters to out.
func formatJob(out io.Writer, job model.EnrichmentJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", job.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", job.Status)
	_, _ = fmt.Fprintf(w, "Items:\t%d/%d dispatched\n", job.Dispatched, job.Total)
	if job.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", job.Error)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "TYPE\tSUCCESS\tLOW_CONF\tNOT_FOUND\tFAILED")
	for _, typ := range job.EnrichmentTypes {
		c := job.Counters[typ]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", typ, c.Success, c.LowConfidence, c.NotFound, c.Failed)
	}
	_ = w.Flush()
}
