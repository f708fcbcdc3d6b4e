package api

import (
	"time"

	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/queue"
)

// API request and response types for REST endpoints and WebSocket messages

// ExecuteOrderRequest is the body of POST /api/orders/execute.
type ExecuteOrderRequest struct {
	order.Request
	// DelayMs schedules a sniper order's first scan in the future.
	DelayMs int64 `json:"delayMs,omitempty"`
}

type ExecuteOrderResponse struct {
	OrderID string `json:"orderId"`
}

type QueueStats struct {
	Counts map[queue.State]int `json:"counts"`
	Venues []string            `json:"venues,omitempty"`
}

type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// wsControl is a client → server WebSocket message.
type wsControl struct {
	Type string `json:"type"`
}
