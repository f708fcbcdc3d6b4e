package queue

import (
	"context"
	"time"

	"github.com/uhyunpark/swapexec/pkg/order"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one unit of work. The job id is the order id, so at most one
// non-terminal job exists per order.
type Job struct {
	ID           string        `json:"id"`
	Data         order.JobData `json:"data"`
	State        State         `json:"state"`
	AttemptsMade int           `json:"attemptsMade"`
	MaxAttempts  int           `json:"maxAttempts"`
	Delay        time.Duration `json:"delay"`
	RunAt        time.Time     `json:"runAt"`
	Heartbeat    time.Time     `json:"heartbeat,omitempty"`
	Lease        string        `json:"lease,omitempty"`
	FailedReason string        `json:"failedReason,omitempty"`
	StalledCount int           `json:"stalledCount"`
	Seq          uint64        `json:"seq"`
	CreatedAt    time.Time     `json:"createdAt"`
	ProcessedAt  time.Time     `json:"processedAt,omitempty"`
	FinishedAt   time.Time     `json:"finishedAt,omitempty"`

	cancel context.CancelFunc
}

// Attempt is the 1-based number of the attempt currently running.
func (j Job) Attempt() int { return j.AttemptsMade + 1 }

// FinalAttempt reports whether a failure of the running attempt is terminal.
func (j Job) FinalAttempt() bool { return j.Attempt() >= j.MaxAttempts }

func (j *Job) snapshot() Job {
	c := *j
	c.cancel = nil
	return c
}

func byRunAt(a, b *Job) bool {
	if a.RunAt.Equal(b.RunAt) {
		return a.Seq < b.Seq
	}
	return a.RunAt.Before(b.RunAt)
}

type Options struct {
	// Delay postpones the first attempt.
	Delay time.Duration
	// MaxAttempts overrides the queue default when > 0.
	MaxAttempts int
}
