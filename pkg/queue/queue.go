// Package queue is an in-process job queue with per-id deduplication,
// delayed jobs, exponential retry backoff, dead-lettering and stalled job
// recovery. Non-terminal jobs are written through to a Ledger.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/uhyunpark/swapexec/pkg/metrics"
	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/util"
)

type Config struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	LockDuration time.Duration

	CompletedRetention      time.Duration
	CompletedRetentionCount int
	FailedRetention         time.Duration
	FailedRetentionCount    int
}

type Queue struct {
	cfg    Config
	ledger Ledger
	clock  util.Clock
	log    *zap.SugaredLogger

	mu      sync.Mutex
	jobs    map[string]*Job // waiting, delayed and active
	waiting []*Job
	delayed *btree.BTreeG[*Job]
	seq     uint64
	changed chan struct{}

	completed *expirable.LRU[string, Job]
	failed    *expirable.LRU[string, Job]
}

func New(cfg Config, ledger Ledger, clock util.Clock, log *zap.SugaredLogger) *Queue {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Queue{
		cfg:       cfg,
		ledger:    ledger,
		clock:     clock,
		log:       log,
		jobs:      make(map[string]*Job),
		delayed:   btree.NewBTreeG(byRunAt),
		changed:   make(chan struct{}),
		completed: expirable.NewLRU[string, Job](cfg.CompletedRetentionCount, nil, cfg.CompletedRetention),
		failed:    expirable.NewLRU[string, Job](cfg.FailedRetentionCount, nil, cfg.FailedRetention),
	}
}

// Enqueue adds a job for id. If a waiting, delayed or active job with the
// same id exists it is returned unchanged and created is false.
func (q *Queue) Enqueue(id string, data order.JobData, opts Options) (job Job, created bool, err error) {
	if id == "" {
		return Job{}, false, ErrEmptyID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.jobs[id]; ok {
		return existing.snapshot(), false, nil
	}

	now := q.clock.Now()
	q.seq++
	j := &Job{
		ID:          id,
		Data:        data,
		State:       StateWaiting,
		MaxAttempts: q.cfg.MaxAttempts,
		Delay:       opts.Delay,
		RunAt:       now,
		Seq:         q.seq,
		CreatedAt:   now,
	}
	if opts.MaxAttempts > 0 {
		j.MaxAttempts = opts.MaxAttempts
	}
	if opts.Delay > 0 {
		j.State = StateDelayed
		j.RunAt = now.Add(opts.Delay)
	}

	if err := q.ledger.SaveJob(j.snapshot()); err != nil {
		return Job{}, false, fmt.Errorf("save job %s: %w", id, err)
	}

	q.completed.Remove(id)
	q.failed.Remove(id)
	q.jobs[id] = j
	if j.State == StateDelayed {
		q.delayed.Set(j)
	} else {
		q.waiting = append(q.waiting, j)
	}
	q.signal()

	metrics.JobsEnqueued.Inc()
	q.log.Infow("job_enqueued",
		"job_id", id,
		"type", data.Type,
		"delay", opts.Delay,
		"max_attempts", j.MaxAttempts)
	return j.snapshot(), true, nil
}

// Recover loads persisted jobs. Jobs that were active in a previous process
// stay active with their old heartbeat and are reclaimed by the stall check.
func (q *Queue) Recover() (int, error) {
	jobs, err := q.ledger.LoadJobs()
	if err != nil {
		return 0, fmt.Errorf("load jobs: %w", err)
	}
	slices.SortFunc(jobs, func(a, b Job) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for i := range jobs {
		j := jobs[i]
		if _, ok := q.jobs[j.ID]; ok {
			continue
		}
		if j.Seq > q.seq {
			q.seq = j.Seq
		}
		switch j.State {
		case StateWaiting:
			q.waiting = append(q.waiting, &j)
		case StateDelayed:
			q.delayed.Set(&j)
		case StateActive:
		default:
			continue
		}
		q.jobs[j.ID] = &j
		n++
	}
	if n > 0 {
		q.signal()
		q.log.Infow("jobs_recovered", "count", n)
	}
	return n, nil
}

// Get returns the job for id from the live set or the retained terminal
// jobs.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if j, ok := q.jobs[id]; ok {
		return j.snapshot(), true
	}
	if j, ok := q.completed.Get(id); ok {
		return j, true
	}
	if j, ok := q.failed.Get(id); ok {
		return j, true
	}
	return Job{}, false
}

func (q *Queue) Counts() map[State]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := map[State]int{
		StateWaiting:   len(q.waiting),
		StateDelayed:   q.delayed.Len(),
		StateActive:    len(q.jobs) - len(q.waiting) - q.delayed.Len(),
		StateCompleted: q.completed.Len(),
		StateFailed:    q.failed.Len(),
	}
	return counts
}

// signal wakes everything blocked on wait. Callers hold q.mu.
func (q *Queue) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// take moves the first runnable job accepted by match to active and
// returns it with a context that is cancelled when the lease is lost. When
// nothing is runnable it returns a channel closed on the next change and the
// time until the next delayed job is due (0 if none).
func (q *Queue) take(parent context.Context, match func(Job) bool) (Job, context.Context, bool, <-chan struct{}, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	q.promote(now)

	for i, j := range q.waiting {
		if match != nil && !match(*j) {
			continue
		}
		q.waiting = slices.Delete(q.waiting, i, i+1)

		ctx, cancel := context.WithCancel(parent)
		j.State = StateActive
		j.Lease = uuid.NewString()
		j.Heartbeat = now
		j.ProcessedAt = now
		j.cancel = cancel
		q.persist(j)
		return j.snapshot(), ctx, true, nil, 0
	}

	var next time.Duration
	if first, ok := q.delayed.Min(); ok {
		next = first.RunAt.Sub(now)
		if next <= 0 {
			next = time.Millisecond
		}
	}
	return Job{}, nil, false, q.changed, next
}

// promote moves every due delayed job to the waiting list.
func (q *Queue) promote(now time.Time) {
	for {
		j, ok := q.delayed.Min()
		if !ok || j.RunAt.After(now) {
			return
		}
		q.delayed.Delete(j)
		j.State = StateWaiting
		q.waiting = append(q.waiting, j)
		q.persist(j)
	}
}

// heartbeat refreshes the lock on an active job. It returns false once the
// lease is no longer held.
func (q *Queue) heartbeat(id, lease string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || j.State != StateActive || j.Lease != lease {
		return false
	}
	j.Heartbeat = q.clock.Now()
	q.persist(j)
	return true
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRetry
	outcomeFailed
	outcomeLost
)

func (o outcome) String() string {
	switch o {
	case outcomeCompleted:
		return "completed"
	case outcomeRetry:
		return "retried"
	case outcomeFailed:
		return "failed"
	}
	return "lost"
}

// finish records the result of an attempt. A result for a lease that is no
// longer held (the job was reclaimed) is discarded as lost.
func (q *Queue) finish(id, lease string, err error) (Job, outcome) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || j.State != StateActive || j.Lease != lease {
		return Job{}, outcomeLost
	}
	j.cancel()
	j.cancel = nil
	j.Lease = ""

	if err == nil {
		j.AttemptsMade++
		q.retire(j, StateCompleted)
		metrics.JobsFinished.WithLabelValues("completed").Inc()
		return j.snapshot(), outcomeCompleted
	}
	return q.fail(j, err, IsUnrecoverable(err))
}

// fail spends an attempt and either reschedules the job with backoff or
// dead-letters it. Callers hold q.mu and have cleared the lease.
func (q *Queue) fail(j *Job, err error, unrecoverable bool) (Job, outcome) {
	j.AttemptsMade++
	j.FailedReason = err.Error()

	if unrecoverable || j.AttemptsMade >= j.MaxAttempts {
		q.retire(j, StateFailed)
		metrics.JobsFinished.WithLabelValues("failed").Inc()
		return j.snapshot(), outcomeFailed
	}

	now := q.clock.Now()
	delay := Backoff(q.cfg.BackoffBase, q.cfg.BackoffMax, j.AttemptsMade)
	if errors.Is(err, ErrJobStalled) {
		delay = 0
	}
	if delay > 0 {
		j.State = StateDelayed
		j.RunAt = now.Add(delay)
		q.delayed.Set(j)
	} else {
		j.State = StateWaiting
		j.RunAt = now
		q.waiting = append(q.waiting, j)
	}
	q.persist(j)
	q.signal()
	metrics.JobsFinished.WithLabelValues("retried").Inc()
	return j.snapshot(), outcomeRetry
}

// retire moves j to a terminal state. Callers hold q.mu.
func (q *Queue) retire(j *Job, state State) {
	j.State = state
	j.FinishedAt = q.clock.Now()
	delete(q.jobs, j.ID)
	if err := q.ledger.DeleteJob(j.ID); err != nil {
		q.log.Errorw("ledger_delete_failed", "job_id", j.ID, "error", err)
	}
	if state == StateCompleted {
		q.completed.Add(j.ID, j.snapshot())
	} else {
		q.failed.Add(j.ID, j.snapshot())
	}
}

// release returns an active job to the front of the waiting list without
// spending an attempt. Used on shutdown.
func (q *Queue) release(id, lease string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok || j.State != StateActive || j.Lease != lease {
		return false
	}
	j.cancel()
	j.cancel = nil
	j.Lease = ""
	j.State = StateWaiting
	q.waiting = slices.Insert(q.waiting, 0, j)
	q.persist(j)
	q.signal()
	return true
}

type reclaimed struct {
	job     Job
	outcome outcome
}

// reclaimStalled takes back every active job whose heartbeat is older than
// the lock duration. Each reclaim counts as a failed attempt.
func (q *Queue) reclaimStalled() []reclaimed {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var out []reclaimed
	for _, j := range q.jobs {
		if j.State != StateActive || now.Sub(j.Heartbeat) <= q.cfg.LockDuration {
			continue
		}
		if j.cancel != nil {
			j.cancel()
			j.cancel = nil
		}
		j.Lease = ""
		j.StalledCount++
		metrics.JobsFinished.WithLabelValues("stalled").Inc()

		snap, oc := q.fail(j, ErrJobStalled, false)
		q.log.Warnw("job_stalled",
			"job_id", j.ID,
			"attempts_made", snap.AttemptsMade,
			"max_attempts", snap.MaxAttempts,
			"outcome", oc.String())
		out = append(out, reclaimed{job: snap, outcome: oc})
	}
	return out
}

// persist writes j through to the ledger. Callers hold q.mu.
func (q *Queue) persist(j *Job) {
	if err := q.ledger.SaveJob(j.snapshot()); err != nil {
		q.log.Errorw("ledger_save_failed", "job_id", j.ID, "state", j.State, "error", err)
	}
}
