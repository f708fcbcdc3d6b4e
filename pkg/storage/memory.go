package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/util"
)

// MemoryStore is an Order Store that lives only as long as the process.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	clock  util.Clock
}

func NewMemoryStore(clock util.Clock) *MemoryStore {
	return &MemoryStore{orders: make(map[string]*order.Order), clock: clock}
}

func (s *MemoryStore) CreateOrder(ctx context.Context, req order.Request) (*order.Order, error) {
	o := order.NewOrder(req, s.clock.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	c := *o
	return &c, nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, id string, status order.Status, u order.Updates) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", order.ErrNotFound, id)
	}
	if err := o.Apply(status, u, s.clock.Now()); err != nil {
		return nil, err
	}
	c := *o
	return &c, nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", order.ErrNotFound, id)
	}
	c := *o
	return &c, nil
}

var _ order.Store = (*MemoryStore)(nil)
