package liquidity

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	Source
	limiter *rate.Limiter
}

// RateLimited throttles a source's quote calls to qps with the given burst.
// Swaps are not throttled.
func RateLimited(src Source, qps float64, burst int) Source {
	if qps <= 0 {
		return src
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Source: src, limiter: rate.NewLimiter(rate.Limit(qps), burst)}
}

func (s *rateLimited) Quote(ctx context.Context, tokenIn, tokenOut string, amount float64) (Quote, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Quote{}, err
	}
	return s.Source.Quote(ctx, tokenIn, tokenOut, amount)
}
