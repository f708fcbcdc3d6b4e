package broadcast

import (
	"time"

	"github.com/uhyunpark/swapexec/pkg/order"
)

// Details is the free-form payload of a lifecycle message. Well-known keys
// are type, dex, limitPrice, txHash, executedPrice, error and message.
type Details map[string]any

// Message is one broadcast lifecycle event for an order.
type Message struct {
	OrderID   string       `json:"orderId"`
	Status    order.Status `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Type      order.Type   `json:"type"`
	Details   Details      `json:"details,omitempty"`
}

func (d Details) orderType() (order.Type, bool) {
	switch v := d["type"].(type) {
	case order.Type:
		return v, v != ""
	case string:
		return order.Type(v), v != ""
	}
	return "", false
}
