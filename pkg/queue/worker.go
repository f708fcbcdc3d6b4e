package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"gopkg.in/tomb.v2"

	"github.com/uhyunpark/swapexec/pkg/metrics"
	"github.com/uhyunpark/swapexec/pkg/util"
)

// Handler processes jobs. Failed is called exactly once per job, after the
// final attempt has failed.
type Handler interface {
	Process(ctx context.Context, job Job) error
	Failed(ctx context.Context, job Job, err error)
}

// Lane is a pool of worker slots serving the jobs its Match accepts.
type Lane struct {
	Name        string
	Concurrency int
	Match       func(Job) bool
}

// OrderLanes returns a single lane of size concurrency, or, when polling > 0,
// a lane for market orders plus a separate lane for limit and sniper orders.
func OrderLanes(concurrency, polling int) []Lane {
	if polling <= 0 {
		return []Lane{{Name: "orders", Concurrency: concurrency}}
	}
	return []Lane{
		{
			Name:        "immediate",
			Concurrency: concurrency,
			Match:       func(j Job) bool { return !j.Data.Type.Polling() },
		},
		{
			Name:        "polling",
			Concurrency: polling,
			Match:       func(j Job) bool { return j.Data.Type.Polling() },
		},
	}
}

type WorkerConfig struct {
	Lanes             []Lane
	HeartbeatInterval time.Duration
	StalledInterval   time.Duration
	// FailedTimeout bounds the Failed callback.
	FailedTimeout time.Duration
}

type Worker struct {
	q     *Queue
	h     Handler
	cfg   WorkerConfig
	clock util.Clock
	log   *zap.SugaredLogger

	t *tomb.Tomb
}

func NewWorker(q *Queue, h Handler, cfg WorkerConfig, clock util.Clock, log *zap.SugaredLogger) *Worker {
	if cfg.FailedTimeout <= 0 {
		cfg.FailedTimeout = 10 * time.Second
	}
	return &Worker{q: q, h: h, cfg: cfg, clock: clock, log: log}
}

// Start launches every lane and the stall checker. The worker stops when
// ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.t, _ = tomb.WithContext(ctx)
	for _, lane := range w.cfg.Lanes {
		if lane.Concurrency <= 0 {
			continue
		}
		w.t.Go(func() error { return w.runLane(lane) })
	}
	if w.cfg.StalledInterval > 0 {
		w.t.Go(w.checkStalled)
	}
	w.log.Infow("worker_started", "lanes", len(w.cfg.Lanes))
}

// Stop cancels in-flight jobs, returns them to the waiting list and waits
// for every goroutine to exit.
func (w *Worker) Stop() error {
	if w.t == nil {
		return nil
	}
	w.t.Kill(nil)
	err := w.t.Wait()
	w.log.Infow("worker_stopped")
	return err
}

func (w *Worker) runLane(lane Lane) error {
	slots := make(chan struct{}, lane.Concurrency)
	parent := w.t.Context(nil)

	for {
		select {
		case slots <- struct{}{}:
		case <-w.t.Dying():
			return nil
		}

		job, ctx, ok, changed, next := w.q.take(parent, lane.Match)
		if !ok {
			<-slots
			var due <-chan time.Time
			if next > 0 {
				due = w.clock.After(next)
			}
			select {
			case <-changed:
			case <-due:
			case <-w.t.Dying():
				return nil
			}
			continue
		}

		w.t.Go(func() error {
			defer func() { <-slots }()
			w.run(ctx, lane.Name, job)
			return nil
		})
	}
}

func (w *Worker) run(ctx context.Context, lane string, job Job) {
	metrics.ActiveSlots.WithLabelValues(lane).Inc()
	defer metrics.ActiveSlots.WithLabelValues(lane).Dec()

	w.log.Infow("job_started",
		"job_id", job.ID,
		"lane", lane,
		"type", job.Data.Type,
		"attempt", job.Attempt(),
		"max_attempts", job.MaxAttempts)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, job)
	err := w.process(ctx, job)
	stopHeartbeat()

	if err != nil && !w.t.Alive() && ctx.Err() != nil {
		if w.q.release(job.ID, job.Lease) {
			w.log.Infow("job_released", "job_id", job.ID)
			return
		}
	}

	res, oc := w.q.finish(job.ID, job.Lease, err)
	switch oc {
	case outcomeCompleted:
		w.log.Infow("job_completed", "job_id", job.ID, "attempts", res.AttemptsMade)
	case outcomeRetry:
		w.log.Warnw("job_retry_scheduled",
			"job_id", job.ID,
			"attempts_made", res.AttemptsMade,
			"max_attempts", res.MaxAttempts,
			"run_at", res.RunAt,
			"error", err)
	case outcomeFailed:
		w.log.Errorw("job_failed",
			"job_id", job.ID,
			"attempts_made", res.AttemptsMade,
			"unrecoverable", IsUnrecoverable(err),
			"error", err)
		w.failed(res, err)
	case outcomeLost:
		w.log.Warnw("job_result_discarded", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) process(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorw("job_panic", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.h.Process(ctx, job)
}

func (w *Worker) failed(job Job, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FailedTimeout)
	defer cancel()
	w.h.Failed(ctx, job, err)
}

func (w *Worker) heartbeat(ctx context.Context, job Job) {
	if w.cfg.HeartbeatInterval <= 0 {
		return
	}
	for {
		if err := util.Sleep(ctx, w.clock, w.cfg.HeartbeatInterval); err != nil {
			return
		}
		if !w.q.heartbeat(job.ID, job.Lease) {
			return
		}
	}
}

func (w *Worker) checkStalled() error {
	ctx := w.t.Context(nil)
	for {
		if err := util.Sleep(ctx, w.clock, w.cfg.StalledInterval); err != nil {
			return nil
		}
		for _, r := range w.q.reclaimStalled() {
			if r.outcome == outcomeFailed {
				w.failed(r.job, ErrJobStalled)
			}
		}
	}
}
