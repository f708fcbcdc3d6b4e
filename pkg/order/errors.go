package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrTerminalStatus is returned for a status change on a confirmed or
	// failed order.
	ErrTerminalStatus = errors.New("order already in a terminal status")

	ErrLimitTimeout  = errors.New("limit order timeout: price condition not met within timeout period")
	ErrSniperTimeout = errors.New("sniper order timeout: token did not become available within timeout period")
)

// ValidationError is a malformed or incomplete order request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PriceViolationError is raised when a limit order executed at a price that
// no longer satisfies its trigger condition.
type PriceViolationError struct {
	Executed float64
	Limit    float64
}

func (e *PriceViolationError) Error() string {
	return fmt.Sprintf("executed price %v is below limit price %v", e.Executed, e.Limit)
}
