// Package orchestrator schedules enrichment jobs across a fixed worker
// pool, deduplicates registry calls and tracks per-job progress.
package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/award-enricher/internal/enrich"
	"github.com/sells-group/award-enricher/internal/model"
)

var (
	// ErrInvalidJob wraps every job-level precondition failure.
	ErrInvalidJob = eris.New("orchestrator: invalid job")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = eris.New("orchestrator: job not found")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = eris.New("orchestrator: already started")
)

// persistTimeout bounds recording one finished item once its worker
// context is gone.
const persistTimeout = 30 * time.Second

// ResultSink persists results and findings. WriteResult must assign
// res.ID (and PayloadRef when a payload is stored); both writes are
// append-only.
type ResultSink interface {
	WriteResult(ctx context.Context, res *model.EnrichmentResult) error
	WriteFindings(ctx context.Context, findings []model.ConsistencyFinding) error
}

// JobRecorder persists job snapshots on every status change.
type JobRecorder interface {
	SaveJob(ctx context.Context, job model.EnrichmentJob) error
}

// Validator cross-checks an accepted result against its record.
type Validator interface {
	Validate(rec model.AwardRecord, res model.EnrichmentResult) []model.ConsistencyFinding
}

// Observer receives per-item and per-job telemetry.
type Observer interface {
	ObserveItem(typ model.EnrichmentType, status model.ResultStatus, elapsed time.Duration)
	ObserveJob(status model.JobStatus)
}

// Config controls the worker pool.
type Config struct {
	// Workers is the fixed pool size. Default: 4.
	Workers int
	Worker  enrich.Config
}

// Deps are the orchestrator's collaborators. Records, Fetcher, Matcher and
// Sink are required.
type Deps struct {
	Records   enrich.RecordSource
	Fetcher   enrich.Fetcher
	Matcher   enrich.Matcher
	Sink      ResultSink
	Jobs      JobRecorder
	Validator Validator
	Observer  Observer
}

// Orchestrator owns every job it accepts. Its methods are safe for
// concurrent use.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	queue  *queue
	shared *sharedFetcher

	mu   sync.RWMutex
	jobs map[string]*jobState

	runCtx  context.Context
	stop    context.CancelFunc
	group   *errgroup.Group
	started bool

	nowFunc func() time.Time
	log     *zap.Logger
}

// New creates an orchestrator. Work may be submitted before Start; it is
// picked up once workers run.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	runCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		queue:   newQueue(),
		shared:  newSharedFetcher(runCtx, deps.Fetcher),
		jobs:    make(map[string]*jobState),
		runCtx:  runCtx,
		stop:    stop,
		nowFunc: time.Now,
		log:     zap.L().With(zap.String("component", "orchestrator")),
	}
}

// Start launches the worker pool. Workers exit when ctx is done or Stop is
// called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return ErrAlreadyStarted
	}
	o.started = true

	go func() {
		select {
		case <-ctx.Done():
			o.stop()
		case <-o.runCtx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(o.runCtx)
	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			o.workerLoop(gctx)
			return nil
		})
	}
	o.group = g

	o.log.Info("worker pool started", zap.Int("workers", o.cfg.Workers))
	return nil
}

// Stop cancels in-flight work and waits for workers to exit.
func (o *Orchestrator) Stop() {
	o.stop()
	o.mu.RLock()
	g := o.group
	o.mu.RUnlock()
	if g != nil {
		_ = g.Wait()
	}
}

// Submit validates spec, expands it into work items and enqueues them. A
// spec that fails a precondition is still recorded, as a failed job, and
// its id is returned together with an error wrapping ErrInvalidJob.
func (o *Orchestrator) Submit(ctx context.Context, spec model.JobSpec) (string, error) {
	now := o.nowFunc().UTC()
	job := model.EnrichmentJob{
		ID:        uuid.NewString(),
		Status:    model.JobQueued,
		Counters:  make(map[model.EnrichmentType]model.Counters),
		CreatedAt: now,
	}

	recordIDs, types, prio, reason := normalizeSpec(spec)
	job.RecordIDs = recordIDs
	job.EnrichmentTypes = types
	job.Priority = prio

	if reason != "" {
		job.Status = model.JobFailed
		job.Error = reason
		job.CompletedAt = &now
		js := newJobState(job, nil)
		close(js.done)
		o.register(js)
		o.save(ctx, js)
		if o.deps.Observer != nil {
			o.deps.Observer.ObserveJob(model.JobFailed)
		}
		o.log.Warn("job rejected", zap.String("job_id", job.ID), zap.String("reason", reason))
		return job.ID, eris.Wrap(ErrInvalidJob, reason)
	}

	for _, t := range types {
		job.Counters[t] = model.Counters{}
	}
	job.Total = len(recordIDs) * len(types)

	worker := enrich.NewWorker(o.deps.Records, newJobFetcher(o.shared), o.deps.Matcher, o.cfg.Worker)
	js := newJobState(job, worker)

	items := make([]workItem, 0, job.Total)
	for _, id := range recordIDs {
		for _, t := range types {
			items = append(items, workItem{
				job: js,
				req: model.EnrichmentRequest{
					JobID:          job.ID,
					RecordID:       id,
					EnrichmentType: t,
					Priority:       prio,
					SubmittedAt:    now,
				},
			})
		}
	}

	o.register(js)
	o.save(ctx, js)
	o.queue.push(items, prio)

	o.log.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.Int("records", len(recordIDs)),
		zap.Int("items", len(items)),
		zap.String("priority", string(prio)),
	)
	return job.ID, nil
}

// normalizeSpec trims and de-duplicates the spec. A non-empty reason means
// the spec is rejected.
func normalizeSpec(spec model.JobSpec) ([]string, []model.EnrichmentType, model.Priority, string) {
	seen := make(map[string]bool)
	var ids []string
	for _, id := range spec.RecordIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	seenType := make(map[model.EnrichmentType]bool)
	var types []model.EnrichmentType
	for _, t := range spec.EnrichmentTypes {
		t = model.EnrichmentType(strings.TrimSpace(string(t)))
		if !t.Valid() {
			return ids, types, model.PriorityNormal, "invalid enrichment type: " + string(t)
		}
		if seenType[t] {
			continue
		}
		seenType[t] = true
		types = append(types, t)
	}

	prio, err := model.ParsePriority(string(spec.Priority))
	if err != nil {
		return ids, types, model.PriorityNormal, err.Error()
	}
	if len(ids) == 0 {
		return ids, types, prio, "empty record set"
	}
	if len(types) == 0 {
		return ids, types, prio, "no enrichment types requested"
	}
	return ids, types, prio, ""
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status(jobID string) (model.EnrichmentJob, error) {
	js, ok := o.lookup(jobID)
	if !ok {
		return model.EnrichmentJob{}, eris.Wrapf(ErrJobNotFound, "job %s", jobID)
	}
	return js.snapshot(), nil
}

// List returns snapshots of every known job, newest first.
func (o *Orchestrator) List() []model.EnrichmentJob {
	o.mu.RLock()
	states := make([]*jobState, 0, len(o.jobs))
	for _, js := range o.jobs {
		states = append(states, js)
	}
	o.mu.RUnlock()

	out := make([]model.EnrichmentJob, len(states))
	for i, js := range states {
		out[i] = js.snapshot()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cancel stops dispatch of the job's remaining items. In-flight items finish
// and are recorded; the job becomes cancelled once they drain. Cancelling a
// finished job is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	js, ok := o.lookup(jobID)
	if !ok {
		return eris.Wrapf(ErrJobNotFound, "job %s", jobID)
	}

	dropped := o.queue.removeJob(jobID)
	if js.cancel(dropped, o.nowFunc()) {
		o.finished(ctx, js)
	}
	o.log.Info("job cancel requested", zap.String("job_id", jobID), zap.Int("dropped", dropped))
	return nil
}

// Wait blocks until the job reaches a terminal status or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (model.EnrichmentJob, error) {
	js, ok := o.lookup(jobID)
	if !ok {
		return model.EnrichmentJob{}, eris.Wrapf(ErrJobNotFound, "job %s", jobID)
	}
	select {
	case <-js.done:
		return js.snapshot(), nil
	case <-ctx.Done():
		return js.snapshot(), ctx.Err()
	}
}

// Pending returns the number of queued, undispatched items.
func (o *Orchestrator) Pending() int {
	return o.queue.len()
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		it, ok := o.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-o.queue.notify:
				continue
			}
		}
		if ctx.Err() != nil {
			// Put the item back for accounting; nothing will run it.
			o.queue.push([]workItem{it}, it.req.Priority)
			return
		}
		o.dispatch(ctx, it)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, it workItem) {
	js := it.job
	worker, changed := js.begin(o.nowFunc())
	if worker == nil {
		if changed {
			o.finished(ctx, js)
		}
		return
	}
	if changed {
		o.save(ctx, js)
	}

	start := o.nowFunc()
	res := worker.Process(ctx, it.req)

	// Completed work is recorded even if the pool is shutting down.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	o.persist(persistCtx, &res)
	cancel()

	if o.deps.Observer != nil {
		o.deps.Observer.ObserveItem(res.EnrichmentType, res.Status, o.nowFunc().Sub(start))
	}
	if js.complete(res.EnrichmentType, res.Status, o.nowFunc()) {
		o.finished(ctx, js)
	}
}

// persist writes the result and any findings. A failed result write turns
// the item into a failure; findings never block.
func (o *Orchestrator) persist(ctx context.Context, res *model.EnrichmentResult) {
	log := o.log.With(
		zap.String("job_id", res.JobID),
		zap.String("record_id", res.RecordID),
		zap.String("type", string(res.EnrichmentType)),
	)

	if err := o.deps.Sink.WriteResult(ctx, res); err != nil {
		log.Error("write result failed", zap.Error(err))
		res.Status = model.ResultFailed
		res.ErrorDetail = "persist result: " + err.Error()
		return
	}

	if o.deps.Validator == nil || res.Payload == nil {
		return
	}
	rec, err := o.deps.Records.GetRecord(ctx, res.RecordID)
	if err != nil || rec == nil {
		log.Warn("consistency check skipped: record unavailable", zap.Error(err))
		return
	}
	findings := o.deps.Validator.Validate(*rec, *res)
	if len(findings) == 0 {
		return
	}
	if err := o.deps.Sink.WriteFindings(ctx, findings); err != nil {
		log.Warn("write findings failed", zap.Int("findings", len(findings)), zap.Error(err))
		return
	}
	log.Info("consistency findings recorded", zap.Int("findings", len(findings)))
}

func (o *Orchestrator) finished(ctx context.Context, js *jobState) {
	o.save(ctx, js)
	job := js.snapshot()
	if o.deps.Observer != nil {
		o.deps.Observer.ObserveJob(job.Status)
	}
	o.log.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("dispatched", job.Dispatched),
		zap.Int("completed", job.Completed()),
	)
}

// save persists the job's current snapshot. Saves of one job are
// serialized and each takes a fresh snapshot, so the last save always
// carries the latest status.
func (o *Orchestrator) save(ctx context.Context, js *jobState) {
	if o.deps.Jobs == nil {
		return
	}
	js.saveMu.Lock()
	defer js.saveMu.Unlock()
	job := js.snapshot()
	// Job snapshots must land even when the triggering context is gone.
	if err := o.deps.Jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		o.log.Warn("save job snapshot failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (o *Orchestrator) register(js *jobState) {
	o.mu.Lock()
	o.jobs[js.job.ID] = js
	o.mu.Unlock()
}

func (o *Orchestrator) lookup(id string) (*jobState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	js, ok := o.jobs[id]
	return js, ok
}
