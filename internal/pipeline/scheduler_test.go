package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydock/internal/classify"
	"querydock/internal/pipeline"
	"querydock/pkg/models"
)

// stalledClassifier signals when a dispatch starts, then blocks until the
// sweep context is cancelled.
type stalledClassifier struct {
	started chan struct{}
}

func (c *stalledClassifier) PublishBatch(ctx context.Context, _ classify.PublishBatchRequest) ([]string, error) {
	select {
	case c.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	q := pendingQuery()
	st := newFakeStore(q, 1)
	p := pipeline.NewPublisher(st, &fakeClassifier{failAfter: -1}, newFakeLocker(), 10, time.Minute)

	s := pipeline.NewScheduler(p, "not a schedule")
	assert.Error(t, s.Start())
}

func TestSchedulerStop_CancelsRunningSweep(t *testing.T) {
	q := pendingQuery()
	st := newFakeStore(q, 30)
	cl := &stalledClassifier{started: make(chan struct{}, 1)}
	p := pipeline.NewPublisher(st, cl, newFakeLocker(), 10, time.Minute)

	s := pipeline.NewScheduler(p, "@every 1s")
	require.NoError(t, s.Start())

	select {
	case <-cl.started:
	case <-time.After(10 * time.Second):
		t.Fatal("sweep never started dispatching")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// Stop must not wait for the dataset to be exhausted.
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a sweep that never got cancelled")
	}

	// Nothing was committed past the aborted batch; the query resumes later.
	assert.Empty(t, st.ledger)
	assert.Equal(t, models.QueryStatusPending, st.queries[q.ID].Status)
}
