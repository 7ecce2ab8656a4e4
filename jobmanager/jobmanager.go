// Package jobmanager serializes requests against the interpreter session.
// Jobs run one at a time in submission order.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	rerrors "rbridge/errors"
	"rbridge/logging"
)

// ErrShuttingDown is returned by Submit after Shutdown
var ErrShuttingDown = errors.New("job manager is shutting down")

// ErrQueueFull is returned by Submit when the queue is at capacity
var ErrQueueFull = errors.New("request queue is full, cannot submit more jobs")

// DepthObserver is told the number of waiting jobs whenever it changes.
// It is called with the manager's lock held and must not call back in.
type DepthObserver func(depth int)

// JobManager runs submitted jobs on a single worker, first in first out
type JobManager struct {
	// jobs holds the queued and running jobs; the worker drops each one
	// as soon as it finishes
	jobs     map[*Job]struct{}
	mu       sync.RWMutex
	queue    chan *Job
	depth    int
	closed   bool
	observer DepthObserver
	logger   logging.Logger
	wg       sync.WaitGroup
}

// NewJobManager creates a manager holding at most capacity waiting jobs
// and starts its worker
func NewJobManager(capacity int, logger logging.Logger) *JobManager {
	if capacity <= 0 {
		capacity = 64
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	jm := &JobManager{
		jobs:   make(map[*Job]struct{}),
		queue:  make(chan *Job, capacity),
		logger: logger.WithComponent("queue"),
	}
	jm.wg.Add(1)
	go jm.worker()
	return jm
}

// SetDepthObserver installs the queue depth hook
func (jm *JobManager) SetDepthObserver(observer DepthObserver) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.observer = observer
	if observer != nil {
		observer(jm.depth)
	}
}

// Submit queues task and returns its job. A request id already carried by
// ctx under errors.RequestIDKey becomes the job id; otherwise a fresh one
// is generated and placed in the task's context.
func (jm *JobManager) Submit(ctx context.Context, command string, task Task) (*Job, error) {
	var id JobID
	if requestID, ok := ctx.Value(rerrors.RequestIDKey).(string); ok && requestID != "" {
		id = JobID(requestID)
	} else {
		generated, err := NewJobID()
		if err != nil {
			return nil, err
		}
		id = generated
		ctx = context.WithValue(ctx, rerrors.RequestIDKey, string(id))
	}
	job := newJob(ctx, id, command, task)

	jm.mu.Lock()
	defer jm.mu.Unlock()
	if jm.closed {
		return nil, ErrShuttingDown
	}
	select {
	case jm.queue <- job:
	default:
		return nil, ErrQueueFull
	}
	jm.jobs[job] = struct{}{}
	jm.setDepthLocked(jm.depth + 1)
	jm.logger.Debug("job queued",
		logging.StringField("job_id", string(id)),
		logging.StringField("command", command),
		logging.IntField("depth", jm.depth))
	return job, nil
}

// Do submits task and waits for its result or for ctx to end
func (jm *JobManager) Do(ctx context.Context, command string, task Task) (interface{}, error) {
	job, err := jm.Submit(ctx, command, task)
	if err != nil {
		return nil, err
	}
	return job.Wait(ctx)
}

func (jm *JobManager) setDepthLocked(depth int) {
	jm.depth = depth
	if jm.observer != nil {
		jm.observer(depth)
	}
}

func (jm *JobManager) worker() {
	defer jm.wg.Done()
	for job := range jm.queue {
		jm.mu.Lock()
		jm.setDepthLocked(jm.depth - 1)
		closed := jm.closed
		jm.mu.Unlock()

		if closed {
			job.finish(StatusCancelled, nil, ErrShuttingDown)
		} else {
			jm.executeJob(job)
		}
		jm.forget(job)
	}
}

func (jm *JobManager) forget(job *Job) {
	jm.mu.Lock()
	delete(jm.jobs, job)
	jm.mu.Unlock()
}

// executeJob runs a job unless its submitter has already gone away
func (jm *JobManager) executeJob(job *Job) {
	logger := jm.logger.WithRequest(string(job.ID))
	if err := job.ctx.Err(); err != nil {
		logger.Debug("skipping abandoned job", logging.StringField("job", job.String()), logging.ErrorField("error", err))
		job.finish(StatusCancelled, nil, err)
		return
	}

	job.start()
	logger.Debug("job started", logging.DurationField("queued", job.QueueTime()))

	result, err := runTask(job)
	if err != nil {
		job.finish(StatusFailed, result, err)
	} else {
		job.finish(StatusCompleted, result, nil)
	}
	logger.Debug("job finished",
		logging.StringField("status", string(job.GetStatus())),
		logging.DurationField("elapsed", job.GetDuration()))
}

func runTask(job *Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return job.task(job.ctx)
}

// InFlight returns the number of jobs queued or running
func (jm *JobManager) InFlight() int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return len(jm.jobs)
}

// Depth returns the number of jobs waiting to start
func (jm *JobManager) Depth() int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.depth
}

// Shutdown stops accepting jobs, cancels the waiting ones and waits for
// the running job to finish
func (jm *JobManager) Shutdown() {
	jm.mu.Lock()
	if jm.closed {
		jm.mu.Unlock()
		return
	}
	jm.closed = true
	close(jm.queue)
	if pending := len(jm.jobs); pending > 0 {
		jm.logger.Debug("shutting down with jobs in flight", logging.IntField("jobs", pending))
	}
	jm.mu.Unlock()

	jm.wg.Wait()
}
