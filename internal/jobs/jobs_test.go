package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockhq/governance/internal/models"
)

// memStore mirrors the claim semantics of the Postgres job table: one
// pending job per claim, attempts bumped on claim, no double claims.
type memStore struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*models.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*models.Job)}
}

func (s *memStore) EnqueueJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	job.ID = fmt.Sprintf("job-%d", s.seq)
	job.Status = models.JobPending
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now()
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *memStore) ClaimJob(ctx context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *models.Job
	now := time.Now()
	for _, j := range s.jobs {
		if j.Status != models.JobPending || j.ScheduledAt.After(now) {
			continue
		}
		if oldest == nil || j.ScheduledAt.Before(oldest.ScheduledAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.Status = models.JobProcessing
	oldest.Attempts++
	claimed := *oldest
	return &claimed, nil
}

func (s *memStore) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	j.Status = models.JobDone
	j.Result = result
	j.Error = nil
	return nil
}

func (s *memStore) FailJob(ctx context.Context, id string, errMsg string, retry bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	j.Error = &errMsg
	if retry {
		j.Status = models.JobPending
	} else {
		j.Status = models.JobFailed
	}
	return nil
}

func (s *memStore) get(id string) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := *s.jobs[id]
	return &snapshot
}

func enqueue(t *testing.T, store *memStore, kind string) *models.Job {
	t.Helper()
	job := &models.Job{OrgID: "org-1", Kind: kind, Payload: json.RawMessage(`{}`)}
	require.NoError(t, store.EnqueueJob(context.Background(), job))
	return job
}

func TestParseKind(t *testing.T) {
	for _, kind := range []string{"embed", "crawl", "ocr", "notify"} {
		_, err := ParseKind(kind)
		assert.NoError(t, err, kind)
	}

	_, err := ParseKind("reindex")
	require.Error(t, err)
}

func TestRunOnceEmptyQueue(t *testing.T) {
	runner := NewRunner(newMemStore(), NewRegistry(), zerolog.Nop())

	claimed, err := runner.RunOnce(context.Background())

	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRunOnceCompletesJob(t *testing.T) {
	store := newMemStore()
	job := enqueue(t, store, "notify")

	registry := NewRegistry()
	registry.Register(KindNotify, func(ctx context.Context, j *models.Job) (json.RawMessage, error) {
		return json.RawMessage(`{"sent":true}`), nil
	})

	runner := NewRunner(store, registry, zerolog.Nop())
	claimed, err := runner.RunOnce(context.Background())

	require.NoError(t, err)
	assert.True(t, claimed)

	done := store.get(job.ID)
	assert.Equal(t, models.JobDone, done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.JSONEq(t, `{"sent":true}`, string(done.Result))
	assert.Nil(t, done.Error)
}

func TestFailingJobExhaustsRetries(t *testing.T) {
	store := newMemStore()
	job := enqueue(t, store, "embed")

	registry := NewRegistry()
	registry.Register(KindEmbed, func(ctx context.Context, j *models.Job) (json.RawMessage, error) {
		return nil, errors.New("vendor quota exceeded")
	})

	runner := NewRunner(store, registry, zerolog.Nop())
	for i := 0; i < 5; i++ {
		claimed, err := runner.RunOnce(context.Background())
		require.NoError(t, err)
		if !claimed {
			break
		}
	}

	failed := store.get(job.ID)
	assert.Equal(t, models.JobFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts, "a failing job gets exactly max_attempts tries")
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "vendor quota exceeded")
}

func TestTransientFailureIsRequeued(t *testing.T) {
	store := newMemStore()
	job := enqueue(t, store, "crawl")

	var attempts int
	registry := NewRegistry()
	registry.Register(KindCrawl, func(ctx context.Context, j *models.Job) (json.RawMessage, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("timeout")
		}
		return json.RawMessage(`{"ok":true}`), nil
	})

	runner := NewRunner(store, registry, zerolog.Nop())

	claimed, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, models.JobPending, store.get(job.ID).Status, "transient failure re-queues the job")

	claimed, err = runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	done := store.get(job.ID)
	assert.Equal(t, models.JobDone, done.Status)
	assert.Equal(t, 2, done.Attempts)
}

func TestUnknownKindFailsWithoutRetry(t *testing.T) {
	store := newMemStore()
	job := enqueue(t, store, "reindex")

	runner := NewRunner(store, NewRegistry(), zerolog.Nop())
	claimed, err := runner.RunOnce(context.Background())

	require.NoError(t, err)
	assert.True(t, claimed)

	failed := store.get(job.ID)
	assert.Equal(t, models.JobFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts, "unknown kinds are terminal on the first attempt")
}

func TestPanickingHandlerIsContained(t *testing.T) {
	store := newMemStore()
	job := enqueue(t, store, "ocr")

	registry := NewRegistry()
	registry.Register(KindOCR, func(ctx context.Context, j *models.Job) (json.RawMessage, error) {
		panic("nil dereference in handler")
	})

	runner := NewRunner(store, registry, zerolog.Nop())

	require.NotPanics(t, func() {
		claimed, err := runner.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	got := store.get(job.ID)
	assert.Equal(t, models.JobPending, got.Status, "a panic counts as a retryable failure")
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "panic")
}

func TestClaimIsExclusive(t *testing.T) {
	store := newMemStore()
	enqueue(t, store, "notify")

	first, err := store.ClaimJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := store.ClaimJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, second, "a processing job is invisible to other claimers")
}

func TestObserverSeesOutcomes(t *testing.T) {
	store := newMemStore()
	enqueue(t, store, "notify")
	enqueue(t, store, "embed")

	registry := NewRegistry()
	registry.Register(KindNotify, func(ctx context.Context, j *models.Job) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	registry.Register(KindEmbed, func(ctx context.Context, j *models.Job) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})

	outcomes := map[string]int{}
	runner := NewRunner(store, registry, zerolog.Nop())
	runner.SetObserver(func(kind, outcome string) {
		outcomes[kind+"/"+outcome]++
	})

	for i := 0; i < 6; i++ {
		claimed, err := runner.RunOnce(context.Background())
		require.NoError(t, err)
		if !claimed {
			break
		}
	}

	assert.Equal(t, 1, outcomes["notify/done"])
	assert.Equal(t, 2, outcomes["embed/retried"])
	assert.Equal(t, 1, outcomes["embed/failed"])
}
