package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docintake/internal/ingest"
)

// Processor is the part of Service that queued jobs run.
type Processor interface {
	ProcessDocument(ctx context.Context, id string, opts ProcessOptions) (ingest.Report, error)
}

// QueueOptions size the worker pool.
type QueueOptions struct {
	Workers      int
	MaxQueueSize int
	JobTTL       time.Duration
	Log          *slog.Logger
}

// Queue runs ProcessDocument calls on a fixed pool of workers.
type Queue struct {
	jobs    *JobStore
	queue   chan *Job
	proc    Processor
	workers int
	log     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewQueue(p Processor, opts QueueOptions) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = 100
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = time.Hour
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Queue{
		jobs:    NewJobStore(opts.JobTTL),
		queue:   make(chan *Job, opts.MaxQueueSize),
		proc:    p,
		workers: opts.Workers,
		log:     opts.Log,
	}
}

// Start launches worker goroutines.
func (q *Queue) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for range q.workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-q.queue:
					if !ok {
						return
					}
					q.run(workerCtx, job)
				}
			}
		}()
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				q.jobs.Cleanup()
			}
		}
	}()
}

func (q *Queue) run(ctx context.Context, job *Job) {
	log := q.log.With("job_id", job.ID, "doc_id", job.DocumentID)
	job.SetStatus(StatusProcessing, "processing")
	log.Info("job started")
	rep, err := q.proc.ProcessDocument(ctx, job.DocumentID, job.Options)
	job.Finish(rep, err)
	if err != nil {
		log.Error("job failed", "error", err)
		return
	}
	log.Info("job finished", "status", rep.Status, "chunks", rep.ChunksCreated)
}

// Stop drains nothing: queued jobs that have not started are abandoned.
func (q *Queue) Stop() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.queue)
		q.mu.Unlock()
	})
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Submit queues a document for processing.
func (q *Queue) Submit(documentID string, opts ProcessOptions) (*Job, error) {
	job := NewJob(uuid.NewString(), documentID, opts)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, fmt.Errorf("job queue is stopped")
	}
	q.jobs.Put(job)
	select {
	case q.queue <- job:
		return job, nil
	default:
		err := fmt.Errorf("job queue is full (%d)", cap(q.queue))
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "queue_full")
		return job, err
	}
}

// GetJob returns a job by ID.
func (q *Queue) GetJob(id string) *Job {
	return q.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (q *Queue) QueueDepth() int {
	return len(q.queue)
}
