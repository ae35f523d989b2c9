package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Queue. Jobs do not survive a restart, so it is
// meant for tests and single-node development runs.
type Memory struct {
	opts Options

	mu   sync.Mutex
	jobs map[string]*Job
	seq  map[string]uint64
	next uint64
}

func NewMemory(opts Options) *Memory {
	opts.setDefaults()
	return &Memory{
		opts: opts,
		jobs: make(map[string]*Job),
		seq:  make(map[string]uint64),
	}
}

func (m *Memory) Enqueue(_ context.Context, name string, payload any, opts JobOptions) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	j := newJob(m.opts.Name, name, body, opts, m.opts.Clock())

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return "", ErrJobExists
	}
	m.next++
	m.jobs[j.ID] = j
	m.seq[j.ID] = m.next
	return j.ID, nil
}

func (m *Memory) Reserve(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.opts.Clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	var due *Job
	for _, j := range m.jobs {
		if j.State != StateWaiting || j.RunAt.After(now) {
			continue
		}
		if due == nil || j.RunAt.Before(due.RunAt) ||
			(j.RunAt.Equal(due.RunAt) && m.seq[j.ID] < m.seq[due.ID]) {
			due = j
		}
	}
	if due == nil {
		return nil, ErrEmpty
	}
	due.State = StateActive
	due.LeaseUntil = now.Add(m.opts.Lease)
	due.LeaseToken = uuid.NewString()
	due.UpdatedAt = now

	clone := *due
	return &clone, nil
}

func (m *Memory) Complete(_ context.Context, job *Job) error {
	now := m.opts.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(job)
	if err != nil {
		return err
	}
	j.State = StateCompleted
	j.LeaseToken = ""
	j.LeaseUntil = time.Time{}
	j.FinishedAt = now
	j.UpdatedAt = now
	return nil
}

func (m *Memory) Fail(_ context.Context, job *Job, cause error) (FailOutcome, error) {
	now := m.opts.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(job)
	if err != nil {
		return FailOutcome{}, err
	}
	return m.fail(j, cause, now), nil
}

func (m *Memory) fail(j *Job, cause error, now time.Time) FailOutcome {
	out := decideFailure(j, cause, now)
	j.AttemptsMade = out.AttemptsMade
	j.LastError = errorText(cause)
	j.LeaseToken = ""
	j.LeaseUntil = time.Time{}
	j.UpdatedAt = now
	if out.Exhausted {
		j.State = StateFailed
		j.FinishedAt = now
	} else {
		j.State = StateWaiting
		j.RunAt = out.RetryAt
	}
	return out
}

// leased returns the stored job if the caller still holds its lease.
// Callers hold m.mu.
func (m *Memory) leased(job *Job) (*Job, error) {
	j, ok := m.jobs[job.ID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.State != StateActive || j.LeaseToken != job.LeaseToken {
		return nil, ErrLeaseLost
	}
	return j, nil
}

func (m *Memory) RequeueExpired(_ context.Context) ([]ExpiredJob, error) {
	now := m.opts.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []ExpiredJob
	for _, j := range m.jobs {
		if j.State != StateActive || j.LeaseUntil.After(now) {
			continue
		}
		out := m.fail(j, ErrLeaseExpired, now)
		clone := *j
		expired = append(expired, ExpiredJob{Job: &clone, Outcome: out})
	}
	return expired, nil
}

func (m *Memory) Clean(_ context.Context) (int, error) {
	now := m.opts.Clock()
	r := m.opts.Retention
	m.mu.Lock()
	defer m.mu.Unlock()

	var completed []*Job
	removed := 0
	for id, j := range m.jobs {
		switch j.State {
		case StateCompleted:
			if r.CompletedAge > 0 && j.FinishedAt.Before(now.Add(-r.CompletedAge)) {
				delete(m.jobs, id)
				removed++
				continue
			}
			completed = append(completed, j)
		case StateFailed:
			if r.FailedAge > 0 && j.FinishedAt.Before(now.Add(-r.FailedAge)) {
				delete(m.jobs, id)
				removed++
			}
		}
	}

	if r.CompletedKeep > 0 && len(completed) > r.CompletedKeep {
		sort.Slice(completed, func(a, b int) bool {
			return completed[a].FinishedAt.Before(completed[b].FinishedAt)
		})
		for _, j := range completed[:len(completed)-r.CompletedKeep] {
			delete(m.jobs, j.ID)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	now := m.opts.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, j := range m.jobs {
		switch j.State {
		case StateWaiting:
			if j.RunAt.After(now) {
				s.Delayed++
			} else {
				s.Waiting++
			}
		case StateActive:
			s.Active++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (m *Memory) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *j
	return &clone, nil
}

func (m *Memory) Failed(_ context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Job
	for _, j := range m.jobs {
		if j.State == StateFailed {
			clone := *j
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].FinishedAt.After(out[b].FinishedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newJob(queueName, name string, payload []byte, opts JobOptions, now time.Time) *Job {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := opts.Backoff
	if backoff.Base <= 0 {
		backoff = DefaultBackoff
	}
	return &Job{
		ID:          id,
		Queue:       queueName,
		Name:        name,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		State:       StateWaiting,
		RunAt:       now.Add(opts.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
