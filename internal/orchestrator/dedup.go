package orchestrator

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sells-group/award-enricher/internal/enrich"
	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/registry"
)

// sharedFetcher collapses concurrent fetches of the same entity key across
// all jobs into one registry call.
type sharedFetcher struct {
	next  enrich.Fetcher
	group singleflight.Group
	// base outlives any single caller so that a waiter cancelling does not
	// abort the call other waiters depend on.
	base context.Context
}

func newSharedFetcher(base context.Context, next enrich.Fetcher) *sharedFetcher {
	return &sharedFetcher{next: next, base: base}
}

func (s *sharedFetcher) Fetch(ctx context.Context, key registry.EntityKey) (*model.Payload, error) {
	ch := s.group.DoChan(key.String(), func() (any, error) {
		return s.next.Fetch(s.base, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*model.Payload), nil
	}
}

// jobFetcher remembers every outcome for the lifetime of one job, so items
// of the same job that share a key never trigger a second call even when
// they run after the first call has returned.
type jobFetcher struct {
	shared *sharedFetcher
	mu     sync.Mutex
	memo   map[string]*memoEntry
}

type memoEntry struct {
	done    chan struct{}
	payload *model.Payload
	err     error
}

func newJobFetcher(shared *sharedFetcher) *jobFetcher {
	return &jobFetcher{shared: shared, memo: make(map[string]*memoEntry)}
}

func (j *jobFetcher) Fetch(ctx context.Context, key registry.EntityKey) (*model.Payload, error) {
	k := key.String()

	j.mu.Lock()
	if e, ok := j.memo[k]; ok {
		j.mu.Unlock()
		select {
		case <-e.done:
			return e.payload, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &memoEntry{done: make(chan struct{})}
	j.memo[k] = e
	j.mu.Unlock()

	e.payload, e.err = j.shared.Fetch(ctx, key)
	if errors.Is(e.err, context.Canceled) || errors.Is(e.err, context.DeadlineExceeded) {
		// Cancellation says nothing about the entity; let a later item retry.
		j.mu.Lock()
		delete(j.memo, k)
		j.mu.Unlock()
	}
	close(e.done)
	return e.payload, e.err
}
