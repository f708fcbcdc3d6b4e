package liquidity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/swapexec/pkg/metrics"
)

// Router aggregates quotes across sources and executes against the chosen one.
type Router struct {
	sources []Source
	byName  map[string]Source
	log     *zap.SugaredLogger
}

func NewRouter(log *zap.SugaredLogger, sources ...Source) *Router {
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		byName[s.Name()] = s
	}
	return &Router{sources: sources, byName: byName, log: log}
}

// Venues returns the configured venue names in routing order.
func (r *Router) Venues() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// GetQuotes queries every source in parallel. A failure from any source
// fails the whole round; quotes come back in source order.
func (r *Router) GetQuotes(ctx context.Context, tokenIn, tokenOut string, amount float64) ([]Quote, error) {
	quotes := make([]Quote, len(r.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range r.sources {
		g.Go(func() error {
			start := time.Now()
			q, err := src.Quote(gctx, tokenIn, tokenOut, amount)
			metrics.QuoteLatency.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.QuoteErrors.WithLabelValues(src.Name()).Inc()
				return fmt.Errorf("quote %s: %w", src.Name(), err)
			}
			if q.Venue == "" {
				q.Venue = src.Name()
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return quotes, nil
}

// SelectBest picks the quote with the lowest effective price. On exact
// ties the earliest quote wins.
func SelectBest(quotes []Quote) (Quote, error) {
	if len(quotes) == 0 {
		return Quote{}, ErrNoQuotesAvailable
	}
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.EffectivePrice() < best.EffectivePrice() {
			best = q
		}
	}
	return best, nil
}

// SelectBest is SelectBest with a log line for the chosen venue.
func (r *Router) SelectBest(quotes []Quote) (Quote, error) {
	best, err := SelectBest(quotes)
	if err != nil {
		return Quote{}, err
	}
	r.log.Debugw("venue_selected",
		"venue", best.Venue,
		"price", best.Price,
		"fee", best.Fee,
		"effective_price", best.EffectivePrice())
	return best, nil
}

// ExecuteSwap trades on the named venue. A non-nil quotePrice pins the
// executed price to a previously observed quote.
func (r *Router) ExecuteSwap(ctx context.Context, venue string, req SwapRequest, quotePrice *float64) (SwapResult, error) {
	src, ok := r.byName[venue]
	if !ok {
		return SwapResult{}, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}

	res, err := src.Swap(ctx, req, quotePrice)
	if err != nil {
		metrics.Swaps.WithLabelValues(venue, "error").Inc()
		return SwapResult{}, fmt.Errorf("swap on %s: %w", venue, err)
	}
	metrics.Swaps.WithLabelValues(venue, "ok").Inc()

	r.log.Infow("swap_executed",
		"order_id", req.OrderID,
		"venue", venue,
		"tx_hash", res.TxHash,
		"executed_price", res.ExecutedPrice)
	return res, nil
}

// CheckAvailability reports whether at least one source can quote the pair.
func (r *Router) CheckAvailability(ctx context.Context, tokenIn, tokenOut string) bool {
	ok := make([]bool, len(r.sources))

	var g errgroup.Group
	for i, src := range r.sources {
		g.Go(func() error {
			q, err := src.Quote(ctx, tokenIn, tokenOut, 1)
			ok[i] = err == nil && q.Price > 0
			return nil
		})
	}
	_ = g.Wait()

	for _, v := range ok {
		if v {
			return true
		}
	}
	return false
}
