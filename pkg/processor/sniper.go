package processor

import (
	"context"
	"time"

	"github.com/uhyunpark/swapexec/pkg/broadcast"
	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/util"
)

// Sniper waits for the pair to become tradable on any venue, then executes
// like a market order.
type Sniper struct {
	*base
	timeout time.Duration // 0 = no deadline
	poll    time.Duration
}

func (p *Sniper) Process(ctx context.Context, data order.JobData) error {
	if err := p.transition(ctx, data, order.StatusScanningLaunch, order.Updates{},
		broadcast.Details{"message": "Scanning for token availability..."}); err != nil {
		return err
	}

	start := p.clock.Now()
	for checks := 1; ; checks++ {
		if p.router.CheckAvailability(ctx, data.TokenIn, data.TokenOut) {
			p.log.Infow("sniper_pair_available",
				"order_id", data.OrderID,
				"token_in", data.TokenIn,
				"token_out", data.TokenOut,
				"checks", checks)
			return p.execute(ctx, data, nil)
		}

		if p.timeout > 0 && p.clock.Now().Sub(start) > p.timeout {
			p.log.Warnw("sniper_order_timeout", "order_id", data.OrderID, "timeout", p.timeout)
			return p.fail(ctx, data, order.ErrSniperTimeout)
		}

		if err := util.Sleep(ctx, p.clock, p.poll); err != nil {
			return err
		}
	}
}
