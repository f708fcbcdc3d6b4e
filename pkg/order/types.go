package order

import (
	"context"
	"fmt"
	"time"
)

// Type is the order type. It is fixed at creation.
type Type string

const (
	TypeMarket Type = "market"
	TypeLimit  Type = "limit"
	TypeSniper Type = "sniper"
)

func (t Type) Valid() bool {
	switch t {
	case TypeMarket, TypeLimit, TypeSniper:
		return true
	}
	return false
}

// Polling reports whether orders of this type wait on a trigger before
// executing.
func (t Type) Polling() bool {
	return t == TypeLimit || t == TypeSniper
}

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending           Status = "pending"
	StatusWaitingForTrigger Status = "waiting_for_trigger"
	StatusScanningLaunch    Status = "scanning_launch"
	StatusRouting           Status = "routing"
	StatusBuilding          Status = "building"
	StatusSubmitted         Status = "submitted"
	StatusConfirmed         Status = "confirmed"
	StatusFailed            Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Order is the persisted order record.
type Order struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	TokenIn       string    `json:"tokenIn"`
	TokenOut      string    `json:"tokenOut"`
	Amount        string    `json:"amount"`
	LimitPrice    string    `json:"limitPrice,omitempty"`
	Status        Status    `json:"status"`
	DexSelected   string    `json:"dexSelected,omitempty"`
	ExecutedPrice string    `json:"executedPrice,omitempty"`
	TxHash        string    `json:"txHash,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Updates carries the optional fields of a status change. Empty fields
// leave the stored value untouched.
type Updates struct {
	DexSelected   string
	ExecutedPrice string
	TxHash        string
	ErrorMessage  string
}

// Apply sets status and the non-empty update fields on o. Confirmed and
// failed orders are never changed again.
func (o *Order) Apply(status Status, u Updates, now time.Time) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalStatus, o.ID, o.Status)
	}
	o.Status = status
	if u.DexSelected != "" {
		o.DexSelected = u.DexSelected
	}
	if u.ExecutedPrice != "" {
		o.ExecutedPrice = u.ExecutedPrice
	}
	if u.TxHash != "" {
		o.TxHash = u.TxHash
	}
	if u.ErrorMessage != "" {
		o.ErrorMessage = u.ErrorMessage
	}
	o.UpdatedAt = now
	return nil
}

// JobData is the queue payload for one order.
type JobData struct {
	OrderID    string `json:"orderId"`
	Type       Type   `json:"type"`
	TokenIn    string `json:"tokenIn"`
	TokenOut   string `json:"tokenOut"`
	Amount     string `json:"amount"`
	LimitPrice string `json:"limitPrice,omitempty"`
}

// JobDataOf builds the queue payload for a stored order.
func JobDataOf(o *Order) JobData {
	return JobData{
		OrderID:    o.ID,
		Type:       o.Type,
		TokenIn:    o.TokenIn,
		TokenOut:   o.TokenOut,
		Amount:     o.Amount,
		LimitPrice: o.LimitPrice,
	}
}

// Store persists orders. Implementations live in pkg/storage.
type Store interface {
	CreateOrder(ctx context.Context, req Request) (*Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status Status, u Updates) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
}
