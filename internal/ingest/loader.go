package ingest

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/award-enricher/internal/model"
)

// RecordWriter persists award records.
type RecordWriter interface {
	UpsertRecords(ctx context.Context, recs []model.AwardRecord) (int64, error)
}

// Summary reports the outcome of a load.
type Summary struct {
	Read     int   `json:"read"`
	Skipped  int   `json:"skipped"`
	Upserted int64 `json:"upserted"`
	Batches  int   `json:"batches"`
}

// LoadOptions controls Load.
type LoadOptions struct {
	Options
	// BatchSize is the number of records per upsert. Default: 500.
	BatchSize int
}

// Load streams records from r and upserts them into w in batches.
func Load(ctx context.Context, r io.Reader, w RecordWriter, opts LoadOptions) (Summary, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	log := zap.L().With(zap.String("component", "ingest"))

	var sum Summary
	onSkip := opts.OnSkip
	opts.OnSkip = func(line int, err error) {
		sum.Skipped++
		log.Warn("skipping row", zap.Int("line", line), zap.Error(err))
		if onSkip != nil {
			onSkip(line, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	recCh, errCh := StreamRecords(gctx, r, opts.Options)

	g.Go(func() error {
		batch := make([]model.AwardRecord, 0, opts.BatchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := w.UpsertRecords(gctx, batch)
			if err != nil {
				return eris.Wrapf(err, "ingest: upsert batch %d", sum.Batches+1)
			}
			sum.Upserted += n
			sum.Batches++
			log.Debug("batch upserted", zap.Int("size", len(batch)), zap.Int64("rows", n))
			batch = batch[:0]
			return nil
		}

		for rec := range recCh {
			sum.Read++
			batch = append(batch, rec)
			if len(batch) >= opts.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := <-errCh; err != nil {
			return err
		}
		return flush()
	})

	if err := g.Wait(); err != nil {
		for range recCh {
		}
		return sum, err
	}

	log.Info("import complete",
		zap.Int("read", sum.Read),
		zap.Int("skipped", sum.Skipped),
		zap.Int64("upserted", sum.Upserted),
	)
	return sum, nil
}
