package liquidity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoQuotesAvailable = errors.New("no quotes available")
	ErrUnknownVenue      = errors.New("unknown venue")
	ErrPairUnavailable   = errors.New("pair not available on venue")
)

// Quote is one venue's price for a swap. Quotes are never persisted.
type Quote struct {
	Venue       string        `json:"venue"`
	Price       float64       `json:"price"`
	Fee         float64       `json:"fee"`
	LatencyHint time.Duration `json:"latencyHint"`
}

// EffectivePrice is the fee-adjusted price used to rank venues.
func (q Quote) EffectivePrice() float64 {
	return q.Price * (1 + q.Fee)
}

type SwapRequest struct {
	OrderID  string
	TokenIn  string
	TokenOut string
	Amount   string
}

type SwapResult struct {
	TxHash        string  `json:"txHash"`
	ExecutedPrice float64 `json:"executedPrice"`
}

// Source is one liquidity venue.
//
// Swap must execute at exactly *priceOverride when it is non-nil; otherwise
// the venue determines the price.
type Source interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut string, amount float64) (Quote, error)
	Swap(ctx context.Context, req SwapRequest, priceOverride *float64) (SwapResult, error)
}
