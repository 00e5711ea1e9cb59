package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/dgallion1/docintake/internal/ingest"
)

// JobStatus represents the state of a queued processing job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusSkipped    JobStatus = "already_processed"
	StatusFailed     JobStatus = "failed"
)

// Job tracks one asynchronous ProcessDocument call.
type Job struct {
	mu sync.Mutex

	ID         string
	DocumentID string
	Options    ProcessOptions

	Status    JobStatus
	Phase     string
	CreatedAt time.Time
	UpdatedAt time.Time

	report *ingest.Report
	errors []string
	kind   ingest.Kind
}

// NewJob returns a queued job for a document.
func NewJob(id, documentID string, opts ProcessOptions) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		DocumentID: documentID,
		Options:    opts,
		Status:     StatusQueued,
		Phase:      "queued",
		CreatedAt:  now,
		UpdatedAt:  now,
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

// Cleanup removes finished jobs idle for longer than the TTL. Queued and
// running jobs are kept.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.done() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) done() bool {
	switch j.Status {
	case StatusCompleted, StatusSkipped, StatusFailed:
		return true
	}
	return false
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
	j.UpdatedAt = time.Now()
}

// Finish records the outcome of ProcessDocument and sets the final status.
func (j *Job) Finish(rep ingest.Report, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if rep.DocumentID != "" {
		j.report = &rep
	}
	switch {
	case err != nil:
		j.errors = append(j.errors, err.Error())
		j.kind = ingest.KindOf(err)
		j.Status = StatusFailed
	case rep.Status == ingest.StatusAlreadyProcessed:
		j.Status = StatusSkipped
	default:
		j.Status = StatusCompleted
	}
	j.Phase = "done"
	j.UpdatedAt = time.Now()
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID         string         `json:"jobId"`
	DocumentID string         `json:"documentId"`
	Status     JobStatus      `json:"status"`
	Phase      string         `json:"phase"`
	Report     *ingest.Report `json:"report,omitempty"`
	Errors     []string       `json:"errors"`
	Kind       ingest.Kind    `json:"kind,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.errors...)
	var rep *ingest.Report
	if j.report != nil {
		r := *j.report
		rep = &r
	}
	return JobSnapshot{
		ID:         j.ID,
		DocumentID: j.DocumentID,
		Status:     j.Status,
		Phase:      j.Phase,
		Report:     rep,
		Errors:     errs,
		Kind:       j.kind,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
