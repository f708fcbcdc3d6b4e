package liquidity

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/swapexec/params"
	"github.com/uhyunpark/swapexec/pkg/util"
)

// SimulatedVenue is an in-process venue with a random price band, a fixed
// fee and artificial latency. It stands in for a real DEX.
type SimulatedVenue struct {
	cfg       params.VenueConfig
	basePrice float64
	clock     util.Clock
	listedAt  map[string]time.Time
	nonce     atomic.Uint64
}

func NewSimulatedVenue(cfg params.VenueConfig, basePrice float64, clock util.Clock) *SimulatedVenue {
	now := clock.Now()
	listedAt := make(map[string]time.Time, len(cfg.Launches))
	for _, l := range cfg.Launches {
		listedAt[l.Token] = now.Add(l.After)
	}
	return &SimulatedVenue{
		cfg:       cfg,
		basePrice: basePrice,
		clock:     clock,
		listedAt:  listedAt,
	}
}

func (v *SimulatedVenue) Name() string { return v.cfg.Name }

func (v *SimulatedVenue) Quote(ctx context.Context, tokenIn, tokenOut string, amount float64) (Quote, error) {
	if amount <= 0 {
		return Quote{}, fmt.Errorf("amount must be positive, got %v", amount)
	}
	if err := util.Sleep(ctx, v.clock, v.cfg.QuoteLatency); err != nil {
		return Quote{}, err
	}
	if !v.listed(tokenIn) || !v.listed(tokenOut) {
		return Quote{}, fmt.Errorf("%w: %s/%s on %s", ErrPairUnavailable, tokenIn, tokenOut, v.cfg.Name)
	}

	return Quote{
		Venue:       v.cfg.Name,
		Price:       v.samplePrice(),
		Fee:         v.cfg.Fee,
		LatencyHint: v.cfg.QuoteLatency,
	}, nil
}

func (v *SimulatedVenue) Swap(ctx context.Context, req SwapRequest, priceOverride *float64) (SwapResult, error) {
	if err := util.Sleep(ctx, v.clock, v.swapLatency()); err != nil {
		return SwapResult{}, err
	}

	price := v.samplePrice()
	if priceOverride != nil {
		price = *priceOverride
	}

	return SwapResult{
		TxHash:        v.txHash(req),
		ExecutedPrice: price,
	}, nil
}

func (v *SimulatedVenue) listed(token string) bool {
	at, ok := v.listedAt[token]
	return !ok || !v.clock.Now().Before(at)
}

func (v *SimulatedVenue) samplePrice() float64 {
	spread := v.cfg.PriceHigh - v.cfg.PriceLow
	return v.basePrice * (v.cfg.PriceLow + rand.Float64()*spread)
}

func (v *SimulatedVenue) swapLatency() time.Duration {
	lo, hi := v.cfg.SwapLatencyMin, v.cfg.SwapLatencyMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// txHash is keccak256(venue || orderId || nonce || random) in 0x hex.
func (v *SimulatedVenue) txHash(req SwapRequest) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], v.nonce.Add(1))
	binary.BigEndian.PutUint64(buf[8:], rand.Uint64())
	return crypto.Keccak256Hash([]byte(v.cfg.Name), []byte(req.OrderID), buf[:]).Hex()
}
