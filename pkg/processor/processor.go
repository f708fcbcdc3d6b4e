// Package processor drives orders through their lifecycle. Each order type
// has its own state machine; all of them finish in the same execution tail.
package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/swapexec/pkg/broadcast"
	"github.com/uhyunpark/swapexec/pkg/liquidity"
	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/queue"
	"github.com/uhyunpark/swapexec/pkg/util"
)

// Router is the part of liquidity.Router the processors use.
type Router interface {
	GetQuotes(ctx context.Context, tokenIn, tokenOut string, amount float64) ([]liquidity.Quote, error)
	SelectBest(quotes []liquidity.Quote) (liquidity.Quote, error)
	ExecuteSwap(ctx context.Context, venue string, req liquidity.SwapRequest, quotePrice *float64) (liquidity.SwapResult, error)
	CheckAvailability(ctx context.Context, tokenIn, tokenOut string) bool
}

type Emitter interface {
	Emit(orderID string, status order.Status, details broadcast.Details) broadcast.Message
}

// Processor runs one attempt of one order.
type Processor interface {
	Process(ctx context.Context, data order.JobData) error
}

type Config struct {
	LimitTimeout       time.Duration
	LimitPollInterval  time.Duration
	SniperPollInterval time.Duration
	// SniperTimeout of 0 polls until the pair is available or the job is
	// cancelled.
	SniperTimeout time.Duration
}

type base struct {
	store  order.Store
	router Router
	events Emitter
	clock  util.Clock
	log    *zap.SugaredLogger
}

// transition persists status and then broadcasts it. Nothing is written
// once ctx is done: a reclaimed job may already have been failed.
func (b *base) transition(ctx context.Context, data order.JobData, status order.Status, u order.Updates, details broadcast.Details) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.store.UpdateOrderStatus(ctx, data.OrderID, status, u); err != nil {
		return fmt.Errorf("persist %s: %w", status, err)
	}
	if details == nil {
		details = broadcast.Details{}
	}
	details["type"] = data.Type
	b.events.Emit(data.OrderID, status, details)
	return nil
}

// fail marks the order failed and returns err as unrecoverable so the job is
// dead-lettered without another attempt.
func (b *base) fail(ctx context.Context, data order.JobData, err error) error {
	msg := err.Error()
	if terr := b.transition(ctx, data, order.StatusFailed, order.Updates{ErrorMessage: msg}, broadcast.Details{"error": msg}); terr != nil {
		return terr
	}
	return queue.Unrecoverable(err)
}

// trigger is the quote that released a limit order.
type trigger struct {
	quote      liquidity.Quote
	limitPrice float64
}

// execute is the shared tail: routing, building, swap, submitted, confirmed.
func (b *base) execute(ctx context.Context, data order.JobData, trig *trigger) error {
	venue, err := b.route(ctx, data, trig)
	if err != nil {
		return err
	}

	if err := b.transition(ctx, data, order.StatusBuilding, order.Updates{}, nil); err != nil {
		return err
	}

	var quotePrice *float64
	if trig != nil {
		p := trig.quote.Price
		quotePrice = &p
	}
	res, err := b.router.ExecuteSwap(ctx, venue, liquidity.SwapRequest{
		OrderID:  data.OrderID,
		TokenIn:  data.TokenIn,
		TokenOut: data.TokenOut,
		Amount:   data.Amount,
	}, quotePrice)
	if err != nil {
		return err
	}

	if err := b.transition(ctx, data, order.StatusSubmitted,
		order.Updates{TxHash: res.TxHash},
		broadcast.Details{"txHash": res.TxHash}); err != nil {
		return err
	}

	if trig != nil && res.ExecutedPrice < trig.limitPrice {
		violation := &order.PriceViolationError{Executed: res.ExecutedPrice, Limit: trig.limitPrice}
		b.log.Errorw("limit_price_violated",
			"order_id", data.OrderID,
			"executed_price", res.ExecutedPrice,
			"limit_price", trig.limitPrice)
		return b.fail(ctx, data, violation)
	}

	if err := b.transition(ctx, data, order.StatusConfirmed,
		order.Updates{ExecutedPrice: order.FormatPrice(res.ExecutedPrice)},
		broadcast.Details{"txHash": res.TxHash, "executedPrice": res.ExecutedPrice}); err != nil {
		return err
	}

	b.log.Infow("order_confirmed",
		"order_id", data.OrderID,
		"type", data.Type,
		"venue", venue,
		"executed_price", res.ExecutedPrice,
		"tx_hash", res.TxHash)
	return nil
}

// route picks the venue. A trigger already fixes it; otherwise quotes are
// fetched and the best one wins.
func (b *base) route(ctx context.Context, data order.JobData, trig *trigger) (string, error) {
	if trig != nil {
		venue := trig.quote.Venue
		err := b.transition(ctx, data, order.StatusRouting,
			order.Updates{DexSelected: venue},
			broadcast.Details{"dex": venue})
		return venue, err
	}

	if err := b.transition(ctx, data, order.StatusRouting, order.Updates{}, nil); err != nil {
		return "", err
	}
	amount, err := order.Float(data.Amount)
	if err != nil {
		return "", queue.Unrecoverable(fmt.Errorf("amount: %w", err))
	}
	quotes, err := b.router.GetQuotes(ctx, data.TokenIn, data.TokenOut, amount)
	if err != nil {
		return "", err
	}
	best, err := b.router.SelectBest(quotes)
	if err != nil {
		return "", err
	}
	err = b.transition(ctx, data, order.StatusRouting,
		order.Updates{DexSelected: best.Venue},
		broadcast.Details{"dex": best.Venue})
	return best.Venue, err
}
