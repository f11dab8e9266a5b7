package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobStatus is the lifecycle of one batch job handle.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// JobSnapshot is the externally visible state of a batch job.
type JobSnapshot struct {
	ID         string     `json:"id"`
	Spec       Spec       `json:"spec"`
	Status     JobStatus  `json:"status"`
	Progress   Progress   `json:"progress"`
	Summary    *Summary   `json:"summary,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Job is one running or finished audit batch.
type Job struct {
	id        string
	spec      Spec
	cancel    context.CancelFunc
	startedAt time.Time

	mu         sync.Mutex
	status     JobStatus
	progress   Progress
	summary    *Summary
	errMsg     string
	finishedAt *time.Time
}

// Snapshot returns a consistent copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSnapshot{
		ID:         j.id,
		Spec:       j.spec,
		Status:     j.status,
		Progress:   j.progress,
		Summary:    j.summary,
		Error:      j.errMsg,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
}

// Manager tracks audit batch jobs so callers can poll progress and
// cancel long runs. Jobs live in process memory; the reconciliations
// they persist survive a restart, the handles do not.
type Manager struct {
	auditor *Auditor

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewManager creates a job manager around an auditor.
func NewManager(auditor *Auditor) *Manager {
	return &Manager{
		auditor: auditor,
		jobs:    make(map[string]*Job),
	}
}

// Start launches an audit batch in the background and returns its
// handle immediately.
func (m *Manager) Start(spec Spec) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		id:        uuid.NewString(),
		spec:      spec,
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		status:    JobRunning,
	}

	m.mu.Lock()
	m.jobs[job.id] = job
	m.mu.Unlock()

	go func() {
		defer cancel()
		summary, err := m.auditor.Run(ctx, spec, func(p Progress) {
			job.mu.Lock()
			job.progress = p
			job.mu.Unlock()
		})

		now := time.Now().UTC()
		job.mu.Lock()
		defer job.mu.Unlock()
		job.summary = summary
		job.finishedAt = &now
		switch {
		case err == nil:
			job.status = JobCompleted
		case ctx.Err() != nil:
			job.status = JobCancelled
		default:
			job.status = JobFailed
			job.errMsg = err.Error()
		}

		logrus.WithFields(logrus.Fields{
			"job_id": job.id,
			"status": job.status,
		}).Info("audit job finished")
	}()

	return job
}

// Get returns a job snapshot by id.
func (m *Manager) Get(id string) (JobSnapshot, bool) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return JobSnapshot{}, false
	}
	return job.Snapshot(), true
}

// Cancel requests cooperative cancellation of a running job.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel()
	return true
}

// List returns snapshots of every known job, newest first not
// guaranteed; callers sort if they care.
func (m *Manager) List() []JobSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobSnapshot, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Snapshot())
	}
	return out
}
