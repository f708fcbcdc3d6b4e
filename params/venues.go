package params

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// VenueConfig describes one simulated liquidity venue.
type VenueConfig struct {
	Name string `yaml:"name"`
	// Quotes are drawn uniformly from [PriceLow, PriceHigh] x base price.
	PriceLow  float64 `yaml:"price_low"`
	PriceHigh float64 `yaml:"price_high"`
	Fee       float64 `yaml:"fee"`

	QuoteLatency   time.Duration `yaml:"quote_latency"`
	SwapLatencyMin time.Duration `yaml:"swap_latency_min"`
	SwapLatencyMax time.Duration `yaml:"swap_latency_max"`

	// Launches lists tokens that cannot be quoted until After has elapsed
	// since startup. Used to exercise sniper orders.
	Launches []LaunchConfig `yaml:"launches"`
}

type LaunchConfig struct {
	Token string        `yaml:"token"`
	After time.Duration `yaml:"after"`
}

type venuesFile struct {
	Venues []VenueConfig `yaml:"venues"`
}

// DefaultVenues returns the raydium / meteora pair.
func DefaultVenues() []VenueConfig {
	return []VenueConfig{
		{
			Name:           "raydium",
			PriceLow:       0.98,
			PriceHigh:      1.02,
			Fee:            0.003,
			QuoteLatency:   200 * time.Millisecond,
			SwapLatencyMin: 2 * time.Second,
			SwapLatencyMax: 3 * time.Second,
		},
		{
			Name:           "meteora",
			PriceLow:       0.97,
			PriceHigh:      1.02,
			Fee:            0.002,
			QuoteLatency:   200 * time.Millisecond,
			SwapLatencyMin: 2 * time.Second,
			SwapLatencyMax: 3 * time.Second,
		},
	}
}

// LoadVenues reads venue definitions from a YAML file. An empty path
// yields DefaultVenues.
func LoadVenues(path string) ([]VenueConfig, error) {
	if path == "" {
		return DefaultVenues(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f venuesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse venues file: %w", err)
	}
	if len(f.Venues) == 0 {
		return nil, fmt.Errorf("venues file %s: no venues defined", path)
	}

	seen := make(map[string]bool, len(f.Venues))
	for i, v := range f.Venues {
		if v.Name == "" {
			return nil, fmt.Errorf("venue %d: missing name", i)
		}
		if seen[v.Name] {
			return nil, fmt.Errorf("venue %s: defined twice", v.Name)
		}
		seen[v.Name] = true
		if v.PriceLow <= 0 || v.PriceHigh < v.PriceLow {
			return nil, fmt.Errorf("venue %s: invalid price band [%v, %v]", v.Name, v.PriceLow, v.PriceHigh)
		}
		if v.Fee < 0 {
			return nil, fmt.Errorf("venue %s: negative fee", v.Name)
		}
		if v.SwapLatencyMax < v.SwapLatencyMin {
			f.Venues[i].SwapLatencyMax = v.SwapLatencyMin
		}
	}

	return f.Venues, nil
}
