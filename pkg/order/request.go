package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Request is a new order as submitted by a client.
type Request struct {
	Type       Type   `json:"type"`
	TokenIn    string `json:"tokenIn"`
	TokenOut   string `json:"tokenOut"`
	Amount     string `json:"amount"`
	LimitPrice string `json:"limitPrice,omitempty"`
}

// Validate rejects malformed requests before they reach the queue.
func (r Request) Validate() error {
	if !r.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("must be one of market, limit, sniper (got %q)", r.Type)}
	}
	if strings.TrimSpace(r.TokenIn) == "" {
		return &ValidationError{Field: "tokenIn", Reason: "required"}
	}
	if strings.TrimSpace(r.TokenOut) == "" {
		return &ValidationError{Field: "tokenOut", Reason: "required"}
	}
	if _, err := ParsePositive(r.Amount); err != nil {
		return &ValidationError{Field: "amount", Reason: err.Error()}
	}

	switch {
	case r.Type == TypeLimit && r.LimitPrice == "":
		return &ValidationError{Field: "limitPrice", Reason: "limitPrice is required for limit orders"}
	case r.Type != TypeLimit && r.LimitPrice != "":
		return &ValidationError{Field: "limitPrice", Reason: "only allowed for limit orders"}
	case r.LimitPrice != "":
		if _, err := ParsePositive(r.LimitPrice); err != nil {
			return &ValidationError{Field: "limitPrice", Reason: err.Error()}
		}
	}
	return nil
}

// NewOrder builds a pending order record from a validated request.
func NewOrder(r Request, now time.Time) *Order {
	return &Order{
		ID:         uuid.NewString(),
		Type:       r.Type,
		TokenIn:    r.TokenIn,
		TokenOut:   r.TokenOut,
		Amount:     r.Amount,
		LimitPrice: r.LimitPrice,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ParsePositive parses a plain decimal string ("100", "0.5") that must be
// strictly positive.
func ParsePositive(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("required")
	}
	if strings.ContainsAny(s, "eE+-") {
		return decimal.Zero, fmt.Errorf("must be a plain decimal number")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("must be a decimal number")
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("must be greater than zero")
	}
	return d, nil
}

// Float converts a stored decimal string for pricing math.
func Float(s string) (float64, error) {
	d, err := ParsePositive(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

// FormatPrice renders a price for the Order Store.
func FormatPrice(p float64) string {
	return decimal.NewFromFloat(p).String()
}
