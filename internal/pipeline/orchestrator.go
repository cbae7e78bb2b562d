package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when no worker can take the job.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned by Submit once Stop has been called.
	ErrStopped = errors.New("ingestion queue is stopped")
)

// OrchestratorConfig sizes the asynchronous ingestion queue.
type OrchestratorConfig struct {
	WorkerCount int
	QueueSize   int
	JobTTL      time.Duration
	JobTimeout  time.Duration
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.JobTTL <= 0 {
		c.JobTTL = time.Hour
	}
}

// Orchestrator runs queued documents through the coordinator. Independent
// documents are processed concurrently, one per worker.
type Orchestrator struct {
	jobs     *JobStore
	queue    chan *Job
	ingester Ingester
	log      *zap.Logger
	cfg      OrchestratorConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards stopped against concurrent Submit sends.
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// NewOrchestrator creates the pipeline. Call Start to launch the workers.
func NewOrchestrator(cfg OrchestratorConfig, ingester Ingester, log *zap.Logger) *Orchestrator {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		jobs:     NewJobStore(cfg.JobTTL),
		queue:    make(chan *Job, cfg.QueueSize),
		ingester: ingester,
		log:      log,
		cfg:      cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.ingester, o.log, o.cfg.JobTimeout)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job := <-o.queue:
					if workerCtx.Err() != nil {
						job.Fail("queued", ErrStopped)
						return
					}
					metrics.QueueDepth.Set(float64(len(o.queue)))
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()

	o.log.Info("ingestion workers started",
		zap.Int("workers", o.cfg.WorkerCount),
		zap.Int("queue_size", o.cfg.QueueSize))
}

// Stop gracefully shuts down the pipeline. Jobs still queued are failed
// with ErrStopped. The queue channel stays open; later Submits are rejected.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.stopped = true
		o.mu.Unlock()

		if o.cancel != nil {
			o.cancel()
		}
		o.wg.Wait()

		for {
			select {
			case job := <-o.queue:
				job.Fail("queued", ErrStopped)
			default:
				metrics.QueueDepth.Set(0)
				return
			}
		}
	})
}

// Submit queues a document for processing and returns its job.
func (o *Orchestrator) Submit(filename string, data []byte, replaceDocumentID string) (*Job, error) {
	job := NewJob(uuid.NewString(), filename, data)
	job.ReplaceDocumentID = replaceDocumentID
	o.jobs.Put(job)

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		job.Fail("queued", ErrStopped)
		return job, ErrStopped
	}
	select {
	case o.queue <- job:
		metrics.QueueDepth.Set(float64(len(o.queue)))
		return job, nil
	default:
		job.Fail("queued", ErrQueueFull)
		return job, fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.QueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
