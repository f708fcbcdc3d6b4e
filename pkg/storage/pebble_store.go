package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/queue"
	"github.com/uhyunpark/swapexec/pkg/util"
)

// PebbleStore keeps orders and the job ledger in one Pebble database.
type PebbleStore struct {
	db    *pebble.DB
	clock util.Clock

	// serialises read-modify-write of order records
	mu sync.Mutex
}

func NewPebbleStore(path string, clock util.Clock) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, clock: clock}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) CreateOrder(ctx context.Context, req order.Request) (*order.Order, error) {
	o := order.NewOrder(req, s.clock.Now())
	if err := s.saveOrder(o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PebbleStore) UpdateOrderStatus(ctx context.Context, id string, status order.Status, u order.Updates) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.loadOrder(id)
	if err != nil {
		return nil, err
	}
	if err := o.Apply(status, u, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.saveOrder(o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PebbleStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.loadOrder(id)
}

func (s *PebbleStore) saveOrder(o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (s *PebbleStore) loadOrder(id string) (*order.Order, error) {
	data, closer, err := s.db.Get(orderKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", order.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()

	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return &o, nil
}

// SaveJob writes a job ledger entry. Heartbeats land here often, so writes
// are not synced.
func (s *PebbleStore) SaveJob(job queue.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.db.Set(jobKey(job.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *PebbleStore) DeleteJob(id string) error {
	if err := s.db.Delete(jobKey(id), pebble.NoSync); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadJobs() ([]queue.Job, error) {
	prefix := []byte(prefixJob)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open job iterator: %w", err)
	}
	defer iter.Close()

	var jobs []queue.Job
	for iter.First(); iter.Valid(); iter.Next() {
		var job queue.Job
		if err := json.Unmarshal(iter.Value(), &job); err != nil {
			continue // Skip invalid entries
		}
		jobs = append(jobs, job)
	}
	return jobs, iter.Error()
}

var (
	_ order.Store  = (*PebbleStore)(nil)
	_ queue.Ledger = (*PebbleStore)(nil)
)
