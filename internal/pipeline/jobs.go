package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// JobStatus represents the state of an ingestion job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusParsing   JobStatus = "parsing"
	StatusChunking  JobStatus = "chunking"
	StatusEmbedding JobStatus = "embedding"
	StatusStoring   JobStatus = "storing"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job tracks the state of a single document ingestion.
type Job struct {
	mu sync.Mutex

	ID       string
	Filename string

	Status JobStatus
	Phase  string

	DocumentID        string
	ReplaceDocumentID string
	Progress          Progress

	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Internal: not serialized.
	fileData []byte
	result   *IngestResult
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalChunks  int      `json:"total_chunks"`
	StoredChunks int      `json:"stored_chunks"`
	Errors       []string `json:"errors"`
}

// NewJob creates a queued job holding the uploaded bytes.
func NewJob(id, filename string, data []byte) *Job {
	now := time.Now()
	return &Job{
		ID:          id,
		Filename:    filename,
		Status:      StatusQueued,
		Phase:       "queued",
		ContentHash: ContentHashHex(data),
		CreatedAt:   now,
		UpdatedAt:   now,
		fileData:    data,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len is the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		updated := job.UpdatedAt
		job.mu.Unlock()
		if now.Sub(updated) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetTotalChunks records total chunk count.
func (j *Job) SetTotalChunks(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalChunks = n
	j.UpdatedAt = time.Now()
}

// Complete records the stored document and releases the file bytes.
func (j *Job) Complete(res *IngestResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	j.DocumentID = res.DocumentID
	j.Progress.TotalChunks = res.Chunks
	j.Progress.StoredChunks = res.Chunks
	j.Status = StatusCompleted
	j.Phase = "done"
	j.fileData = nil
	j.UpdatedAt = time.Now()
}

// Fail marks the job failed at phase and releases the file bytes.
func (j *Job) Fail(phase string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err.Error())
	j.Progress.Errors = j.errors
	j.Status = StatusFailed
	j.Phase = phase
	j.fileData = nil
	j.UpdatedAt = time.Now()
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string        `json:"job_id"`
	Filename    string        `json:"filename"`
	Status      JobStatus     `json:"status"`
	Phase       string        `json:"phase"`
	DocumentID  string        `json:"document_id,omitempty"`
	ContentHash string        `json:"content_hash"`
	Progress    Progress      `json:"progress"`
	Result      *IngestResult `json:"result,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	return JobSnapshot{
		ID:          j.ID,
		Filename:    j.Filename,
		Status:      j.Status,
		Phase:       j.Phase,
		DocumentID:  j.DocumentID,
		ContentHash: j.ContentHash,
		Progress: Progress{
			TotalChunks:  j.Progress.TotalChunks,
			StoredChunks: j.Progress.StoredChunks,
			Errors:       errs,
		},
		Result:    j.result,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
