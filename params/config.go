package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Server struct {
	Addr           string
	Env            string
	AllowedOrigins []string
	LogFile        string
	LogLevel       string
}

type Store struct {
	// Driver selects the Order Store backend: "pebble", "postgres" or "memory".
	Driver      string
	PebblePath  string
	DatabaseURL string
}

type Queue struct {
	Concurrency int
	// PollingConcurrency > 0 gives limit and sniper jobs their own lane of
	// slots so long-lived polling orders cannot starve market orders.
	PollingConcurrency int
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffMax         time.Duration

	// LockDuration is how stale a heartbeat may get before the job is
	// presumed crashed. StalledInterval is how often that is checked.
	LockDuration      time.Duration
	StalledInterval   time.Duration
	HeartbeatInterval time.Duration

	CompletedRetention      time.Duration
	CompletedRetentionCount int
	FailedRetention         time.Duration
	FailedRetentionCount    int
}

type Order struct {
	LimitTimeout       time.Duration
	LimitPollInterval  time.Duration
	SniperPollInterval time.Duration
	SniperTimeout      time.Duration // 0 = poll until available
}

type Broadcast struct {
	HistoryLimit    int
	HistoryTTL      time.Duration
	JanitorInterval time.Duration
}

type Liquidity struct {
	VenuesFile string
	BasePrice  float64
	// QuotesPerSecond throttles quote calls per venue; 0 disables.
	QuotesPerSecond float64
	Burst           int
}

type Profiling struct {
	PyroscopeServer string
	AppName         string
}

type Config struct {
	Server    Server
	Store     Store
	Queue     Queue
	Order     Order
	Broadcast Broadcast
	Liquidity Liquidity
	Profiling Profiling
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:           ":3000",
			Env:            "development",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			LogFile:        "data/swapd.log",
			LogLevel:       "info",
		},
		Store: Store{
			Driver:     "pebble",
			PebblePath: "data/orders",
		},
		Queue: Queue{
			Concurrency:             10,
			MaxAttempts:             3,
			BackoffBase:             2 * time.Second,
			BackoffMax:              60 * time.Second,
			LockDuration:            5 * time.Minute,
			StalledInterval:         time.Minute,
			HeartbeatInterval:       30 * time.Second,
			CompletedRetention:      time.Hour,
			CompletedRetentionCount: 1000,
			FailedRetention:         24 * time.Hour,
			FailedRetentionCount:    5000,
		},
		Order: Order{
			LimitTimeout:       30 * time.Minute,
			LimitPollInterval:  time.Second,
			SniperPollInterval: time.Second,
		},
		Broadcast: Broadcast{
			HistoryLimit:    50,
			HistoryTTL:      30 * time.Minute,
			JanitorInterval: time.Minute,
		},
		Liquidity: Liquidity{
			BasePrice: 1.0,
			Burst:     1,
		},
		Profiling: Profiling{
			AppName: "swapd",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	// Server
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	cfg.Server.Addr = getEnv("API_ADDR", cfg.Server.Addr)
	cfg.Server.Env = getEnv("APP_ENV", cfg.Server.Env)
	cfg.Server.LogFile = getEnv("LOG_FILE", cfg.Server.LogFile)
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", cfg.Server.LogLevel)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	// Store
	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.PebblePath = getEnv("PEBBLE_PATH", cfg.Store.PebblePath)
	cfg.Store.DatabaseURL = getEnv("DATABASE_URL", cfg.Store.DatabaseURL)

	// Queue
	cfg.Queue.Concurrency = getEnvInt("QUEUE_CONCURRENCY", cfg.Queue.Concurrency)
	cfg.Queue.PollingConcurrency = getEnvInt("QUEUE_POLLING_CONCURRENCY", cfg.Queue.PollingConcurrency)
	cfg.Queue.MaxAttempts = getEnvInt("QUEUE_MAX_ATTEMPTS", cfg.Queue.MaxAttempts)
	cfg.Queue.BackoffBase = getEnvMillis("QUEUE_BACKOFF_MS", cfg.Queue.BackoffBase)
	cfg.Queue.LockDuration = getEnvMillis("QUEUE_LOCK_DURATION_MS", cfg.Queue.LockDuration)
	cfg.Queue.StalledInterval = getEnvMillis("QUEUE_STALLED_INTERVAL_MS", cfg.Queue.StalledInterval)
	cfg.Queue.HeartbeatInterval = getEnvMillis("QUEUE_HEARTBEAT_MS", cfg.Queue.HeartbeatInterval)

	// Order
	cfg.Order.LimitTimeout = getEnvMinutes("LIMIT_ORDER_TIMEOUT_MINUTES", cfg.Order.LimitTimeout)
	cfg.Order.LimitPollInterval = getEnvMillis("DEX_QUOTE_POLL_INTERVAL_MS", cfg.Order.LimitPollInterval)
	cfg.Order.SniperPollInterval = getEnvMillis("SNIPER_POLL_INTERVAL_MS", cfg.Order.SniperPollInterval)
	cfg.Order.SniperTimeout = getEnvMinutes("SNIPER_TIMEOUT_MINUTES", cfg.Order.SniperTimeout)

	// Broadcast
	cfg.Broadcast.HistoryLimit = getEnvInt("HISTORY_LIMIT", cfg.Broadcast.HistoryLimit)
	cfg.Broadcast.HistoryTTL = getEnvMinutes("HISTORY_TTL_MINUTES", cfg.Broadcast.HistoryTTL)

	// Liquidity
	cfg.Liquidity.VenuesFile = getEnv("VENUES_FILE", cfg.Liquidity.VenuesFile)
	if base := os.Getenv("DEX_BASE_PRICE"); base != "" {
		if v, err := strconv.ParseFloat(base, 64); err == nil && v > 0 {
			cfg.Liquidity.BasePrice = v
		}
	}
	if qps := os.Getenv("VENUE_QPS"); qps != "" {
		if v, err := strconv.ParseFloat(qps, 64); err == nil && v >= 0 {
			cfg.Liquidity.QuotesPerSecond = v
		}
	}
	cfg.Liquidity.Burst = getEnvInt("VENUE_BURST", cfg.Liquidity.Burst)

	cfg.Profiling.PyroscopeServer = getEnv("PYROSCOPE_SERVER", cfg.Profiling.PyroscopeServer)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvMinutes(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if m, err := strconv.Atoi(value); err == nil {
			return time.Duration(m) * time.Minute
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
