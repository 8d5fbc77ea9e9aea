package orchestrator

import (
	"sync"
	"time"

	"github.com/sells-group/award-enricher/internal/enrich"
	"github.com/sells-group/award-enricher/internal/model"
)

// jobState is the orchestrator's private, mutable view of one job. Workers
// report outcomes through it; only methods here change the job.
type jobState struct {
	saveMu    sync.Mutex
	mu        sync.Mutex
	job       model.EnrichmentJob
	cancelled bool
	inFlight  int
	remaining int
	worker    *enrich.Worker
	done      chan struct{}
}

func newJobState(job model.EnrichmentJob, worker *enrich.Worker) *jobState {
	return &jobState{
		job:       job,
		remaining: job.Total,
		worker:    worker,
		done:      make(chan struct{}),
	}
}

// transition moves the job forward, ignoring illegal edges. Caller holds mu.
func (js *jobState) transition(next model.JobStatus) bool {
	if !js.job.Status.CanTransition(next) {
		return false
	}
	js.job.Status = next
	return true
}

// begin admits one item for dispatch and returns the job's worker. A nil
// worker means the job was cancelled and the item is dropped. changed
// reports a status transition the caller should persist.
func (js *jobState) begin(now time.Time) (w *enrich.Worker, changed bool) {
	js.mu.Lock()
	defer js.mu.Unlock()

	if js.cancelled {
		js.remaining--
		return nil, js.maybeFinish(now)
	}
	js.job.Dispatched++
	js.inFlight++
	return js.worker, js.transition(model.JobRunning)
}

// complete records one item outcome and reports whether the job finished.
func (js *jobState) complete(typ model.EnrichmentType, status model.ResultStatus, now time.Time) bool {
	js.mu.Lock()
	defer js.mu.Unlock()

	c := js.job.Counters[typ]
	c.Add(status)
	js.job.Counters[typ] = c
	js.inFlight--
	js.remaining--
	return js.maybeFinish(now)
}

// cancel marks the job cancelled and accounts for the dropped pending
// items. It reports whether the job finished as a result.
func (js *jobState) cancel(dropped int, now time.Time) bool {
	js.mu.Lock()
	defer js.mu.Unlock()

	if js.job.Status.Terminal() {
		return false
	}
	js.cancelled = true
	js.remaining -= dropped
	return js.maybeFinish(now)
}

// maybeFinish settles the final status once nothing is pending or in
// flight. Caller holds mu.
func (js *jobState) maybeFinish(now time.Time) bool {
	if js.remaining > 0 || js.inFlight > 0 || js.job.Status.Terminal() {
		return false
	}

	next := model.JobCompleted
	switch {
	case js.cancelled:
		next = model.JobCancelled
	case !js.allSucceeded():
		next = model.JobCompletedWithErrors
	}
	if !js.transition(next) {
		return false
	}
	t := now.UTC()
	js.job.CompletedAt = &t
	js.worker = nil
	close(js.done)
	return true
}

func (js *jobState) allSucceeded() bool {
	for _, c := range js.job.Counters {
		if c.LowConfidence+c.NotFound+c.Failed > 0 {
			return false
		}
	}
	return true
}

// snapshot returns a deep copy safe to hand to callers.
func (js *jobState) snapshot() model.EnrichmentJob {
	js.mu.Lock()
	defer js.mu.Unlock()
	return copyJob(js.job)
}

func copyJob(j model.EnrichmentJob) model.EnrichmentJob {
	out := j
	out.RecordIDs = append([]string(nil), j.RecordIDs...)
	out.EnrichmentTypes = append([]model.EnrichmentType(nil), j.EnrichmentTypes...)
	out.Counters = make(map[model.EnrichmentType]model.Counters, len(j.Counters))
	for k, v := range j.Counters {
		out.Counters[k] = v
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
