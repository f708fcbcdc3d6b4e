package liquidity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/swapexec/params"
	"github.com/uhyunpark/swapexec/pkg/util"
)

func instantVenue(name string, low, high, fee float64) params.VenueConfig {
	return params.VenueConfig{Name: name, PriceLow: low, PriceHigh: high, Fee: fee}
}

func TestSimulatedVenue_QuoteWithinBand(t *testing.T) {
	v := NewSimulatedVenue(instantVenue("raydium", 0.98, 1.02, 0.003), 100, util.RealClock{})

	for i := 0; i < 200; i++ {
		q, err := v.Quote(context.Background(), "SOL", "USDC", 1)
		require.NoError(t, err)
		assert.Equal(t, "raydium", q.Venue)
		assert.Equal(t, 0.003, q.Fee)
		assert.GreaterOrEqual(t, q.Price, 98.0)
		assert.LessOrEqual(t, q.Price, 102.0)
	}
}

func TestSimulatedVenue_RejectsNonPositiveAmount(t *testing.T) {
	v := NewSimulatedVenue(instantVenue("raydium", 1, 1, 0), 1, util.RealClock{})
	_, err := v.Quote(context.Background(), "SOL", "USDC", 0)
	require.Error(t, err)
}

func TestSimulatedVenue_SwapHonorsOverride(t *testing.T) {
	v := NewSimulatedVenue(instantVenue("meteora", 0.97, 1.02, 0.002), 1, util.RealClock{})
	req := SwapRequest{OrderID: "order-1", TokenIn: "SOL", TokenOut: "USDC", Amount: "10"}

	pinned := 1.1
	res, err := v.Swap(context.Background(), req, &pinned)
	require.NoError(t, err)
	assert.Equal(t, 1.1, res.ExecutedPrice)
	assert.True(t, strings.HasPrefix(res.TxHash, "0x"))
	assert.Len(t, res.TxHash, 66)

	again, err := v.Swap(context.Background(), req, nil)
	require.NoError(t, err)
	assert.NotEqual(t, res.TxHash, again.TxHash)
	assert.Greater(t, again.ExecutedPrice, 0.0)
}

func TestSimulatedVenue_LaunchSchedule(t *testing.T) {
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	cfg := instantVenue("raydium", 1, 1, 0)
	cfg.Launches = []params.LaunchConfig{{Token: "NEW", After: time.Minute}}
	v := NewSimulatedVenue(cfg, 1, clock)

	_, err := v.Quote(context.Background(), "SOL", "NEW", 1)
	require.ErrorIs(t, err, ErrPairUnavailable)

	_, err = v.Quote(context.Background(), "SOL", "USDC", 1)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	q, err := v.Quote(context.Background(), "SOL", "NEW", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, q.Price)
}

func TestSimulatedVenue_QuoteLatencyRespectsContext(t *testing.T) {
	cfg := instantVenue("raydium", 1, 1, 0)
	cfg.QuoteLatency = time.Hour
	v := NewSimulatedVenue(cfg, 1, util.NewManualClock(time.Unix(0, 0)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.Quote(ctx, "SOL", "USDC", 1)
	require.ErrorIs(t, err, context.Canceled)
}
