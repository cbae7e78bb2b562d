package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
)

type stubIngester struct {
	block chan struct{}
	err   error
}

func (s *stubIngester) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	req.progress(StatusParsing, 0)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	req.progress(StatusStoring, 3)
	return &IngestResult{DocumentID: "doc-" + req.Filename, Filename: req.Filename, Chunks: 3}, nil
}

func TestOrchestrator_ProcessesJobs(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 2}, &stubIngester{}, zap.NewNop())
	o.Start(context.Background())
	defer o.Stop()

	job, err := o.Submit("a.txt", []byte("hello"), "")
	require.NoError(t, err)
	require.Same(t, job, o.GetJob(job.ID))

	require.Eventually(t, func() bool {
		return job.Snapshot().Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	snap := job.Snapshot()
	assert.Equal(t, "doc-a.txt", snap.DocumentID)
	assert.Equal(t, 3, snap.Progress.TotalChunks)
	assert.Empty(t, snap.Progress.Errors)
}

func TestOrchestrator_FailedJobKeepsPhase(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 1}, &stubIngester{err: errors.New("model offline")}, zap.NewNop())
	o.Start(context.Background())
	defer o.Stop()

	job, err := o.Submit("a.txt", []byte("hello"), "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return job.Snapshot().Status == StatusFailed
	}, time.Second, 5*time.Millisecond)

	snap := job.Snapshot()
	assert.Equal(t, string(StatusParsing), snap.Phase)
	assert.Equal(t, []string{"model offline"}, snap.Progress.Errors)
}

func TestOrchestrator_ValidationFailurePhase(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 1}, &stubIngester{err: ingesterr.Validationf("bad file")}, zap.NewNop())
	o.Start(context.Background())
	defer o.Stop()

	job, err := o.Submit("a.txt", []byte("hello"), "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return job.Snapshot().Phase == "validation"
	}, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	ing := &stubIngester{block: make(chan struct{})}
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 1, QueueSize: 1}, ing, zap.NewNop())
	o.Start(context.Background())
	defer o.Stop()
	defer close(ing.block)

	first, err := o.Submit("1.txt", []byte("x"), "")
	require.NoError(t, err)
	// Wait until the worker holds the first job so the queue is empty.
	require.Eventually(t, func() bool {
		return first.Snapshot().Status == StatusParsing
	}, time.Second, 5*time.Millisecond)

	_, err = o.Submit("2.txt", []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, o.QueueDepth())

	rejected, err := o.Submit("3.txt", []byte("x"), "")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, StatusFailed, rejected.Snapshot().Status)
}

func TestOrchestrator_StopIsIdempotent(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{}, &stubIngester{}, nil)
	o.Start(context.Background())
	o.Stop()
	o.Stop()
}

func TestOrchestrator_SubmitAfterStop(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 1}, &stubIngester{}, nil)
	o.Start(context.Background())
	o.Stop()

	var (
		job *Job
		err error
	)
	require.NotPanics(t, func() {
		job, err = o.Submit("late.txt", []byte("x"), "")
	})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, StatusFailed, job.Snapshot().Status)
}

func TestOrchestrator_SubmitRacingStop(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 2, QueueSize: 8}, &stubIngester{}, nil)
	o.Start(context.Background())

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				_, err := o.Submit(fmt.Sprintf("%d-%d.txt", i, j), []byte("x"), "")
				if err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, ErrQueueFull) {
					t.Errorf("unexpected submit error: %v", err)
				}
			}
		}()
	}
	o.Stop()
	wg.Wait()
}

func TestOrchestrator_StopFailsQueuedJobs(t *testing.T) {
	ing := &stubIngester{block: make(chan struct{})}
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 1, QueueSize: 2}, ing, nil)
	o.Start(context.Background())

	first, err := o.Submit("1.txt", []byte("x"), "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return first.Snapshot().Status == StatusParsing
	}, time.Second, 5*time.Millisecond)

	queued, err := o.Submit("2.txt", []byte("x"), "")
	require.NoError(t, err)

	o.Stop()
	assert.Equal(t, StatusFailed, queued.Snapshot().Status)
	assert.Contains(t, queued.Snapshot().Progress.Errors, ErrStopped.Error())
	assert.Zero(t, o.QueueDepth())
}
