package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslink/matchmaker/internal/models"
	"github.com/campuslink/matchmaker/internal/profiles"
	"github.com/campuslink/matchmaker/pkg/queue"
)

type fakeStore struct {
	mu      sync.Mutex
	calls   []models.CallRecord
	usage   []models.TokenUsage
	callErr error
}

func (s *fakeStore) ApplyCallRecord(_ context.Context, rec models.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callErr != nil {
		return s.callErr
	}
	s.calls = append(s.calls, rec)
	return nil
}

func (s *fakeStore) ApplyTokenUsage(_ context.Context, usage models.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

type fakeSource struct {
	mu      sync.Mutex
	jobs    chan *queue.Job
	retried []*queue.Job
}

func (f *fakeSource) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case job := <-f.jobs:
		return job, "", nil
	}
}

func (f *fakeSource) Retry(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, job)
	return nil
}

func (f *fakeSource) retriedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retried)
}

func mustJob(t *testing.T, typ queue.JobType, payload interface{}) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(typ, payload)
	require.NoError(t, err)
	return job
}

func TestProcessCallStats(t *testing.T) {
	store := &fakeStore{}
	p := NewStatsProcessor(store, nil, nil)
	rec := models.CallRecord{StableID: "u1", DurationSeconds: 42, Partner: models.PartnerTraits{Branch: "ECE"}}

	require.NoError(t, p.Process(context.Background(), mustJob(t, queue.JobTypeCallStats, rec)))
	require.Len(t, store.calls, 1)
	assert.Equal(t, "u1", store.calls[0].StableID)
	assert.Equal(t, int64(42), store.calls[0].DurationSeconds)
	assert.Equal(t, "ECE", store.calls[0].Partner.Branch)
}

func TestProcessTokenUsage(t *testing.T) {
	store := &fakeStore{}
	p := NewStatsProcessor(store, nil, nil)
	usage := models.TokenUsage{StableID: "u1", Tier: models.TierGolden}

	require.NoError(t, p.Process(context.Background(), mustJob(t, queue.JobTypeTokenUsage, usage)))
	assert.Equal(t, []models.TokenUsage{usage}, store.usage)
}

func TestProcessDropsUnknownProfile(t *testing.T) {
	store := &fakeStore{callErr: profiles.ErrNotFound}
	p := NewStatsProcessor(store, nil, nil)
	err := p.Process(context.Background(), mustJob(t, queue.JobTypeCallStats, models.CallRecord{StableID: "ghost"}))
	assert.NoError(t, err)
}

func TestProcessErrors(t *testing.T) {
	store := &fakeStore{callErr: errors.New("db down")}
	p := NewStatsProcessor(store, nil, nil)

	err := p.Process(context.Background(), mustJob(t, queue.JobTypeCallStats, models.CallRecord{StableID: "u1"}))
	assert.EqualError(t, err, "db down")

	err = p.Process(context.Background(), &queue.Job{Type: "email"})
	assert.Error(t, err)

	err = p.Process(context.Background(), &queue.Job{Type: queue.JobTypeTokenUsage, Payload: []byte(`"x"`)})
	assert.Error(t, err)
}

func TestRunRetriesFailedJobs(t *testing.T) {
	store := &fakeStore{callErr: errors.New("db down")}
	src := &fakeSource{jobs: make(chan *queue.Job, 2)}
	p := NewStatsProcessor(store, src, nil)
	p.backoff = time.Millisecond

	src.jobs <- mustJob(t, queue.JobTypeCallStats, models.CallRecord{StableID: "u1"})
	src.jobs <- mustJob(t, queue.JobTypeTokenUsage, models.TokenUsage{StableID: "u1", Tier: models.TierRegular})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.usage) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, src.retriedCount())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
