package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/award-enricher/internal/model"
	"github.com/sells-group/award-enricher/internal/registry"
)

func TestJobFetcher_MemoizesOutcomes(t *testing.T) {
	f := newScriptedFetcher(map[string]*model.Payload{
		"awardee:uei:A": awardee(model.RegistryEntity{EntityID: "A"}),
	})
	jf := newJobFetcher(newSharedFetcher(context.Background(), f))

	hit := registry.EntityKey{Type: model.EnrichmentAwardee, Value: "uei:A"}
	miss := registry.EntityKey{Type: model.EnrichmentAwardee, Value: "uei:B"}
	for i := 0; i < 3; i++ {
		p, err := jf.Fetch(context.Background(), hit)
		require.NoError(t, err)
		assert.Equal(t, "A", p.Candidates()[0].EntityID)

		_, err = jf.Fetch(context.Background(), miss)
		assert.True(t, errors.Is(err, registry.ErrNotFound))
	}
	assert.Equal(t, 1, f.callsFor(hit.String()))
	assert.Equal(t, 1, f.callsFor(miss.String()))
}

func TestJobFetcher_CancellationNotRemembered(t *testing.T) {
	f := newScriptedFetcher(map[string]*model.Payload{
		"awardee:uei:A": awardee(model.RegistryEntity{EntityID: "A"}),
	})
	f.gate = make(chan struct{})
	jf := newJobFetcher(newSharedFetcher(context.Background(), f))
	key := registry.EntityKey{Type: model.EnrichmentAwardee, Value: "uei:A"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := jf.Fetch(ctx, key)
	assert.True(t, errors.Is(err, context.Canceled))

	close(f.gate)
	p, err := jf.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestSharedFetcher_CollapsesConcurrentCalls(t *testing.T) {
	f := newScriptedFetcher(map[string]*model.Payload{
		"awardee:uei:A": awardee(model.RegistryEntity{EntityID: "A"}),
	})
	f.gate = make(chan struct{})
	f.entered = make(chan string, 8)
	sf := newSharedFetcher(context.Background(), f)
	key := registry.EntityKey{Type: model.EnrichmentAwardee, Value: "uei:A"}

	first := make(chan error, 1)
	go func() {
		_, err := sf.Fetch(context.Background(), key)
		first <- err
	}()
	<-f.entered

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sf.Fetch(context.Background(), key)
			errs <- err
		}()
	}

	// A waiter giving up must not abort the shared call.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sf.Fetch(ctx, key)
	assert.True(t, errors.Is(err, context.Canceled))

	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()
	close(errs)
	require.NoError(t, <-first)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.callsFor(key.String()))
}
