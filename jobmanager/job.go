package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// JobID is a unique identifier for a job
type JobID string

// JobStatus represents the current status of a job
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Task is the work a job runs. ctx is the submitter's context.
type Task func(ctx context.Context) (interface{}, error)

// Job is one queued request against the session
type Job struct {
	ID         JobID
	Status     JobStatus
	Command    string
	Result     interface{}
	Error      error
	SubmitTime time.Time
	StartTime  time.Time
	EndTime    time.Time

	ctx  context.Context
	task Task
	done chan struct{}
	mu   sync.RWMutex
}

// NewJobID returns a fresh nanoid
func NewJobID() (JobID, error) {
	id, err := nanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}
	return JobID(id), nil
}

func newJob(ctx context.Context, id JobID, command string, task Task) *Job {
	return &Job{
		ID:         id,
		Status:     StatusQueued,
		Command:    command,
		SubmitTime: time.Now(),
		ctx:        ctx,
		task:       task,
		done:       make(chan struct{}),
	}
}

// GetStatus returns the current status of the job
func (j *Job) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// GetResult returns the result of the job
func (j *Job) GetResult() interface{} {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Result
}

// GetError returns the error of the job
func (j *Job) GetError() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Error
}

// Done is closed once the job reaches a final status
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends. A job abandoned this
// way keeps its place in the queue and is skipped when reached if its own
// context has ended.
func (j *Job) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-j.done:
		return j.GetResult(), j.GetError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusRunning
	j.StartTime = time.Now()
}

func (j *Job) finish(status JobStatus, result interface{}, err error) {
	j.mu.Lock()
	j.Status = status
	j.Result = result
	j.Error = err
	j.EndTime = time.Now()
	j.mu.Unlock()
	close(j.done)
}

// QueueTime is how long the job waited before it started
func (j *Job) QueueTime() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	switch {
	case !j.StartTime.IsZero():
		return j.StartTime.Sub(j.SubmitTime)
	case !j.EndTime.IsZero():
		return j.EndTime.Sub(j.SubmitTime)
	default:
		return time.Since(j.SubmitTime)
	}
}

// GetDuration returns the run time of the job
func (j *Job) GetDuration() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.StartTime.IsZero() {
		return 0
	}
	if j.EndTime.IsZero() {
		return time.Since(j.StartTime)
	}
	return j.EndTime.Sub(j.StartTime)
}

// String returns a string representation of the job
func (j *Job) String() string {
	status := j.GetStatus()
	duration := "pending"
	if status != StatusQueued {
		duration = j.GetDuration().Round(time.Millisecond).String()
	}
	return fmt.Sprintf("Job[%s] %s - %s (%s)", j.ID, j.Command, status, duration)
}
