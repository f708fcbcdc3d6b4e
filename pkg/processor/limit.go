package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/uhyunpark/swapexec/pkg/broadcast"
	"github.com/uhyunpark/swapexec/pkg/liquidity"
	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/queue"
	"github.com/uhyunpark/swapexec/pkg/util"
)

// Limit waits until the best quote reaches the limit price, then executes
// at that quote's price. Only the sell-side condition is supported.
type Limit struct {
	*base
	timeout time.Duration
	poll    time.Duration
}

func (p *Limit) Process(ctx context.Context, data order.JobData) error {
	limitPrice, err := order.Float(data.LimitPrice)
	if err != nil {
		return queue.Unrecoverable(fmt.Errorf("limit price: %w", err))
	}
	amount, err := order.Float(data.Amount)
	if err != nil {
		return queue.Unrecoverable(fmt.Errorf("amount: %w", err))
	}

	if err := p.transition(ctx, data, order.StatusWaitingForTrigger, order.Updates{},
		broadcast.Details{"limitPrice": limitPrice}); err != nil {
		return err
	}

	start := p.clock.Now()
	for {
		if p.clock.Now().Sub(start) > p.timeout {
			p.log.Warnw("limit_order_timeout",
				"order_id", data.OrderID,
				"limit_price", limitPrice,
				"timeout", p.timeout)
			return p.fail(ctx, data, order.ErrLimitTimeout)
		}

		best, err := p.bestQuote(ctx, data, amount)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warnw("limit_quote_failed", "order_id", data.OrderID, "error", err)
		case best.Price >= limitPrice:
			p.log.Infow("limit_triggered",
				"order_id", data.OrderID,
				"venue", best.Venue,
				"price", best.Price,
				"limit_price", limitPrice)
			return p.execute(ctx, data, &trigger{quote: best, limitPrice: limitPrice})
		default:
			p.log.Debugw("limit_waiting",
				"order_id", data.OrderID,
				"price", best.Price,
				"limit_price", limitPrice)
		}

		if err := util.Sleep(ctx, p.clock, p.poll); err != nil {
			return err
		}
	}
}

func (p *Limit) bestQuote(ctx context.Context, data order.JobData, amount float64) (liquidity.Quote, error) {
	quotes, err := p.router.GetQuotes(ctx, data.TokenIn, data.TokenOut, amount)
	if err != nil {
		return liquidity.Quote{}, err
	}
	return p.router.SelectBest(quotes)
}
