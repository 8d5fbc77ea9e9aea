package orchestrator

import (
	"sync"

	"github.com/sells-group/award-enricher/internal/model"
)

// workItem is one (record, enrichment type) pair of a job.
type workItem struct {
	job *jobState
	req model.EnrichmentRequest
}

// queue holds pending work in two lanes. The high lane is always drained
// before the normal lane; each lane is FIFO.
type queue struct {
	mu     sync.Mutex
	high   []workItem
	normal []workItem
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(items []workItem, prio model.Priority) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	if prio == model.PriorityHigh {
		q.high = append(q.high, items...)
	} else {
		q.normal = append(q.normal, items...)
	}
	q.mu.Unlock()
	q.signal()
}

// pop removes the next item. When more work remains it passes the wake-up
// on so idle workers keep draining.
func (q *queue) pop() (workItem, bool) {
	q.mu.Lock()
	var it workItem
	switch {
	case len(q.high) > 0:
		it = q.high[0]
		q.high[0] = workItem{}
		q.high = q.high[1:]
	case len(q.normal) > 0:
		it = q.normal[0]
		q.normal[0] = workItem{}
		q.normal = q.normal[1:]
	default:
		q.mu.Unlock()
		return workItem{}, false
	}
	more := len(q.high)+len(q.normal) > 0
	q.mu.Unlock()

	if more {
		q.signal()
	}
	return it, true
}

// removeJob drops every pending item of a job and returns how many.
func (q *queue) removeJob(jobID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	q.high, n = filterJob(q.high, jobID, n)
	q.normal, n = filterJob(q.normal, jobID, n)
	return n
}

func filterJob(items []workItem, jobID string, n int) ([]workItem, int) {
	kept := items[:0]
	for _, it := range items {
		if it.req.JobID == jobID {
			n++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(items); i++ {
		items[i] = workItem{}
	}
	return kept, n
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.high) + len(q.normal)
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
