package processor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/swapexec/pkg/broadcast"
	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/queue"
	"github.com/uhyunpark/swapexec/pkg/util"
)

// Dispatcher is the queue handler. It selects the processor for a job's
// order type and owns the final failed transition.
type Dispatcher struct {
	store  order.Store
	events Emitter
	log    *zap.SugaredLogger

	market Processor
	limit  Processor
	sniper Processor
}

func NewDispatcher(store order.Store, router Router, events Emitter, cfg Config, clock util.Clock, log *zap.SugaredLogger) *Dispatcher {
	b := &base{store: store, router: router, events: events, clock: clock, log: log}
	return &Dispatcher{
		store:  store,
		events: events,
		log:    log,
		market: &Market{base: b},
		limit:  &Limit{base: b, timeout: cfg.LimitTimeout, poll: cfg.LimitPollInterval},
		sniper: &Sniper{base: b, timeout: cfg.SniperTimeout, poll: cfg.SniperPollInterval},
	}
}

func (d *Dispatcher) Process(ctx context.Context, job queue.Job) error {
	data := job.Data
	d.log.Infow("order_processing",
		"order_id", data.OrderID,
		"type", data.Type,
		"attempt", job.Attempt(),
		"max_attempts", job.MaxAttempts)

	d.events.Emit(data.OrderID, order.StatusPending, broadcast.Details{"type": data.Type})

	var err error
	switch data.Type {
	case order.TypeMarket:
		err = d.market.Process(ctx, data)
	case order.TypeLimit:
		err = d.limit.Process(ctx, data)
	case order.TypeSniper:
		err = d.sniper.Process(ctx, data)
	default:
		return queue.Unrecoverable(fmt.Errorf("unknown order type %q", data.Type))
	}

	if err != nil && !queue.IsUnrecoverable(err) && !job.FinalAttempt() {
		d.log.Warnw("order_attempt_failed",
			"order_id", data.OrderID,
			"attempt", job.Attempt(),
			"max_attempts", job.MaxAttempts,
			"error", err)
	}
	return err
}

// Failed marks the order failed after its job is dead-lettered. Orders a
// processor already failed are left alone.
func (d *Dispatcher) Failed(ctx context.Context, job queue.Job, cause error) {
	id := job.Data.OrderID
	if id == "" {
		id = job.ID
	}

	o, err := d.store.GetOrder(ctx, id)
	switch {
	case err == nil && o.Status == order.StatusFailed:
		return
	case err != nil && !errors.Is(err, order.ErrNotFound):
		d.log.Errorw("order_lookup_failed", "order_id", id, "error", err)
	}

	msg := cause.Error()
	_, err = d.store.UpdateOrderStatus(ctx, id, order.StatusFailed, order.Updates{ErrorMessage: msg})
	switch {
	case errors.Is(err, order.ErrTerminalStatus):
		d.log.Infow("order_already_final", "order_id", id, "error", err)
		return
	case err != nil:
		d.log.Errorw("order_fail_persist_failed", "order_id", id, "error", err)
	}
	d.events.Emit(id, order.StatusFailed, broadcast.Details{"type": job.Data.Type, "error": msg})
	d.log.Errorw("order_failed",
		"order_id", id,
		"type", job.Data.Type,
		"attempts", job.AttemptsMade,
		"error", msg)
}
