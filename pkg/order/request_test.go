package order

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string // empty means valid
	}{
		{"market ok", Request{Type: TypeMarket, TokenIn: "SOL", TokenOut: "USDC", Amount: "100"}, ""},
		{"limit ok", Request{Type: TypeLimit, TokenIn: "SOL", TokenOut: "USDC", Amount: "1.5", LimitPrice: "1.0"}, ""},
		{"sniper ok", Request{Type: TypeSniper, TokenIn: "NEW", TokenOut: "USDC", Amount: "10"}, ""},
		{"unknown type", Request{Type: "stop", TokenIn: "SOL", TokenOut: "USDC", Amount: "1"}, "type"},
		{"missing tokenIn", Request{Type: TypeMarket, TokenOut: "USDC", Amount: "1"}, "tokenIn"},
		{"missing tokenOut", Request{Type: TypeMarket, TokenIn: "SOL", Amount: "1"}, "tokenOut"},
		{"zero amount", Request{Type: TypeMarket, TokenIn: "SOL", TokenOut: "USDC", Amount: "0"}, "amount"},
		{"negative amount", Request{Type: TypeMarket, TokenIn: "SOL", TokenOut: "USDC", Amount: "-1"}, "amount"},
		{"exponent amount", Request{Type: TypeMarket, TokenIn: "SOL", TokenOut: "USDC", Amount: "1e3"}, "amount"},
		{"garbage amount", Request{Type: TypeMarket, TokenIn: "SOL", TokenOut: "USDC", Amount: "abc"}, "amount"},
		{"limit without price", Request{Type: TypeLimit, TokenIn: "SOL", TokenOut: "USDC", Amount: "1"}, "limitPrice"},
		{"limit bad price", Request{Type: TypeLimit, TokenIn: "SOL", TokenOut: "USDC", Amount: "1", LimitPrice: "x"}, "limitPrice"},
		{"market with price", Request{Type: TypeMarket, TokenIn: "SOL", TokenOut: "USDC", Amount: "1", LimitPrice: "1"}, "limitPrice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNewOrderAndApply(t *testing.T) {
	now := time.Now()
	o := NewOrder(Request{Type: TypeMarket, TokenIn: "SOL", TokenOut: "USDC", Amount: "100"}, now)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, now, o.CreatedAt)

	later := now.Add(time.Second)
	require.NoError(t, o.Apply(StatusRouting, Updates{DexSelected: "raydium"}, later))
	require.NoError(t, o.Apply(StatusBuilding, Updates{}, later))

	assert.Equal(t, StatusBuilding, o.Status)
	assert.Equal(t, "raydium", o.DexSelected, "empty update must not clear a set field")
	assert.Equal(t, later, o.UpdatedAt)
}

func TestApply_TerminalStatusIsFinal(t *testing.T) {
	now := time.Now()
	for _, terminal := range []Status{StatusConfirmed, StatusFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			o := NewOrder(Request{Type: TypeMarket, TokenIn: "SOL", TokenOut: "USDC", Amount: "1"}, now)
			require.NoError(t, o.Apply(terminal, Updates{}, now))

			err := o.Apply(StatusSubmitted, Updates{TxHash: "0xabc"}, now.Add(time.Second))
			require.ErrorIs(t, err, ErrTerminalStatus)
			assert.Equal(t, terminal, o.Status)
			assert.Empty(t, o.TxHash)
			assert.Equal(t, now, o.UpdatedAt)
		})
	}
}

func TestFloatAndFormat(t *testing.T) {
	f, err := Float("1.25")
	require.NoError(t, err)
	assert.InDelta(t, 1.25, f, 1e-12)

	_, err = Float("")
	assert.Error(t, err)

	assert.Equal(t, "1.1", FormatPrice(1.1))
}
