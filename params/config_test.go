package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10, cfg.Queue.Concurrency)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 30*time.Minute, cfg.Order.LimitTimeout)
	assert.Equal(t, 50, cfg.Broadcast.HistoryLimit)
	assert.Equal(t, 30*time.Minute, cfg.Broadcast.HistoryTTL)
	assert.Zero(t, cfg.Order.SniperTimeout)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("QUEUE_CONCURRENCY", "4")
	t.Setenv("QUEUE_POLLING_CONCURRENCY", "2")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "5")
	t.Setenv("LIMIT_ORDER_TIMEOUT_MINUTES", "2")
	t.Setenv("DEX_QUOTE_POLL_INTERVAL_MS", "250")
	t.Setenv("SNIPER_TIMEOUT_MINUTES", "10")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("DEX_BASE_PRICE", "1.1")
	t.Setenv("QUEUE_BACKOFF_MS", "not-a-number")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Queue.Concurrency)
	assert.Equal(t, 2, cfg.Queue.PollingConcurrency)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Order.LimitTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Order.LimitPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Order.SniperTimeout)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
	assert.InDelta(t, 1.1, cfg.Liquidity.BasePrice, 1e-9)
	// invalid values keep the default
	assert.Equal(t, 2*time.Second, cfg.Queue.BackoffBase)
}

func TestLoadFromEnv_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HISTORY_LIMIT=20\nSTORE_DRIVER=memory\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("HISTORY_LIMIT")
		os.Unsetenv("STORE_DRIVER")
	})

	cfg := LoadFromEnv(path)

	assert.Equal(t, 20, cfg.Broadcast.HistoryLimit)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoadVenues(t *testing.T) {
	venues, err := LoadVenues("")
	require.NoError(t, err)
	require.Len(t, venues, 2)
	assert.Equal(t, "raydium", venues[0].Name)
	assert.Equal(t, "meteora", venues[1].Name)

	path := filepath.Join(t.TempDir(), "venues.yaml")
	body := `
venues:
  - name: orca
    price_low: 0.99
    price_high: 1.01
    fee: 0.001
    quote_latency: 50ms
    swap_latency_min: 100ms
    swap_latency_max: 200ms
    launches:
      - token: BONK
        after: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	venues, err = LoadVenues(path)
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, "orca", venues[0].Name)
	assert.Equal(t, 50*time.Millisecond, venues[0].QuoteLatency)
	require.Len(t, venues[0].Launches, 1)
	assert.Equal(t, "BONK", venues[0].Launches[0].Token)
	assert.Equal(t, 30*time.Second, venues[0].Launches[0].After)
}

func TestLoadVenues_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venues.yaml")
	require.NoError(t, os.WriteFile(path, []byte("venues:\n  - name: bad\n    price_low: 0\n"), 0o644))

	_, err := LoadVenues(path)
	assert.Error(t, err)
}
