// Package queue is the durable job queue that carries dispatch work from the
// ingestion gateway to the workers.
//
// A job is reserved by exactly one worker at a time under a lease. Completing
// or failing the job releases the lease; a lease that runs out is treated as a
// failed attempt by RequeueExpired. Failed attempts are rescheduled with
// exponential backoff until MaxAttempts is reached, after which the job is
// parked in the failed set.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// JobProcessEvent is the only job the dispatch workers understand.
const JobProcessEvent = "processEvent"

// ProcessEventPayload is the body of a JobProcessEvent job. Workers load the
// event itself from the database so the queue stays small.
type ProcessEventPayload struct {
	EventID string `json:"eventId"`
}

// State is where a job currently sits.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var (
	// ErrEmpty is returned by Reserve when no job is due.
	ErrEmpty = errors.New("queue: no job due")
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrJobExists is returned by Enqueue when JobOptions.JobID is taken.
	ErrJobExists = errors.New("queue: job id already exists")
	// ErrLeaseLost is returned by Complete and Fail when the caller no longer
	// holds the job, usually because its lease expired and it was requeued.
	ErrLeaseLost = errors.New("queue: lease lost")
)

// JobOptions control how a job is retried.
type JobOptions struct {
	// JobID makes enqueueing idempotent; a random id is used when empty.
	JobID       string
	MaxAttempts int
	Backoff     Backoff
	// Delay postpones the first attempt.
	Delay time.Duration
}

// Job is a unit of work owned by the queue.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	Backoff      Backoff         `json:"backoff"`
	State        State           `json:"state"`
	LastError    string          `json:"lastError,omitempty"`
	RunAt        time.Time       `json:"runAt"`
	LeaseUntil   time.Time       `json:"leaseUntil,omitzero"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	FinishedAt   time.Time       `json:"finishedAt,omitzero"`

	// LeaseToken identifies the reservation that handed this job out.
	LeaseToken string `json:"-"`
}

// Attempt is the 1-based number of the attempt currently being made.
func (j *Job) Attempt() int { return j.AttemptsMade + 1 }

// FailOutcome tells the caller what Fail did with the job.
type FailOutcome struct {
	// Exhausted is true when the job moved to the failed set and will not run again.
	Exhausted    bool
	AttemptsMade int
	// RetryAt is set when the job was rescheduled.
	RetryAt time.Time
}

// ExpiredJob is a job whose lease ran out, after RequeueExpired failed it.
type ExpiredJob struct {
	Job     *Job
	Outcome FailOutcome
}

// Stats is a point-in-time count of jobs per state. Waiting jobs whose RunAt
// is still in the future are reported as Delayed.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Retention bounds how many finished jobs Clean keeps around.
type Retention struct {
	CompletedAge  time.Duration
	CompletedKeep int
	FailedAge     time.Duration
}

// DefaultRetention keeps completed jobs for an hour (at most 1000 of them)
// and failed jobs for a day.
var DefaultRetention = Retention{
	CompletedAge:  time.Hour,
	CompletedKeep: 1000,
	FailedAge:     24 * time.Hour,
}

// Options configure a queue implementation.
type Options struct {
	Name      string
	Lease     time.Duration
	Retention Retention
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = "notifications"
	}
	if o.Lease <= 0 {
		o.Lease = 5 * time.Minute
	}
	if o.Retention == (Retention{}) {
		o.Retention = DefaultRetention
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Queue is implemented by Redis (production) and Memory (tests, local runs).
type Queue interface {
	// Enqueue stores a new waiting job and returns its id.
	Enqueue(ctx context.Context, name string, payload any, opts JobOptions) (string, error)
	// Reserve leases the earliest due job. It returns ErrEmpty when none is due.
	Reserve(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, job *Job) error
	// Fail records a failed attempt and either reschedules or parks the job.
	Fail(ctx context.Context, job *Job, cause error) (FailOutcome, error)
	// RequeueExpired fails every active job whose lease has run out.
	RequeueExpired(ctx context.Context) ([]ExpiredJob, error)
	// Clean drops finished jobs beyond the retention policy and returns how
	// many were removed.
	Clean(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Get(ctx context.Context, id string) (*Job, error)
	// Failed returns up to limit exhausted jobs, most recently failed first.
	Failed(ctx context.Context, limit int) ([]*Job, error)
}

// ErrLeaseExpired is recorded as the cause when a lease times out.
var ErrLeaseExpired = errors.New("lease expired")

// decideFailure applies the retry policy to a failed attempt.
func decideFailure(j *Job, cause error, now time.Time) FailOutcome {
	attempts := j.AttemptsMade + 1
	if IsPermanent(cause) || attempts >= j.MaxAttempts {
		return FailOutcome{Exhausted: true, AttemptsMade: attempts}
	}
	return FailOutcome{AttemptsMade: attempts, RetryAt: now.Add(j.Backoff.Delay(attempts))}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
