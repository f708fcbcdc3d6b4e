// Package broadcast fans order lifecycle messages out to live subscribers
// and keeps a short per-order history for subscribers that join late.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/swapexec/pkg/metrics"
	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/util"
)

const (
	DefaultHistoryLimit = 50
	DefaultHistoryTTL   = 30 * time.Minute
)

// Conn is a subscriber connection. Conn values are used as map keys, so
// implementations should be pointers.
type Conn interface {
	Send(data []byte) error
	IsOpen() bool
}

type Config struct {
	HistoryLimit int
	HistoryTTL   time.Duration
}

// topic is the state of one order. Its mutex serialises every mutation
// and every send for that order, which keeps per-order delivery in emit
// order.
type topic struct {
	mu         sync.Mutex
	subs       map[Conn]struct{}
	history    []Message
	orderType  order.Type
	lastActive time.Time
	dead       bool
}

// Broadcaster is safe for concurrent use.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic

	limit int
	ttl   time.Duration
	clock util.Clock
	log   *zap.SugaredLogger
}

func New(cfg Config, clock util.Clock, log *zap.SugaredLogger) *Broadcaster {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = DefaultHistoryTTL
	}
	return &Broadcaster{
		topics: make(map[string]*topic),
		limit:  cfg.HistoryLimit,
		ttl:    cfg.HistoryTTL,
		clock:  clock,
		log:    log,
	}
}

// lock returns the live topic for orderID with its mutex held, creating it
// if needed. A topic removed by a concurrent sweep is marked dead and the
// lookup is retried.
func (b *Broadcaster) lock(orderID string, create bool) *topic {
	for {
		b.mu.Lock()
		t, ok := b.topics[orderID]
		if !ok {
			if !create {
				b.mu.Unlock()
				return nil
			}
			t = &topic{subs: make(map[Conn]struct{}), lastActive: b.clock.Now()}
			b.topics[orderID] = t
		}
		b.mu.Unlock()

		t.mu.Lock()
		if !t.dead {
			return t
		}
		t.mu.Unlock()
	}
}

// Register adds conn as a subscriber of orderID. A non-empty orderType is
// remembered and stamped on later messages that carry no type.
func (b *Broadcaster) Register(orderID string, conn Conn, orderType order.Type) {
	if conn == nil {
		b.log.Warnw("ws_register_nil_conn", "order_id", orderID)
		return
	}

	t := b.lock(orderID, true)
	defer t.mu.Unlock()
	t.add(conn, orderType, b.clock.Now())
}

// Subscribe registers conn and replays the retained history to it under the
// same lock, so no message emitted concurrently can reach conn out of order
// or twice. It returns the number of messages replayed.
func (b *Broadcaster) Subscribe(orderID string, conn Conn, orderType order.Type) int {
	if conn == nil {
		b.log.Warnw("ws_register_nil_conn", "order_id", orderID)
		return 0
	}

	t := b.lock(orderID, true)
	defer t.mu.Unlock()
	t.add(conn, orderType, b.clock.Now())
	return b.replay(t, orderID, conn)
}

func (t *topic) add(conn Conn, orderType order.Type, now time.Time) {
	if _, ok := t.subs[conn]; !ok {
		t.subs[conn] = struct{}{}
		metrics.Subscribers.Inc()
	}
	if orderType != "" {
		t.orderType = orderType
	}
	t.lastActive = now
}

func (b *Broadcaster) Unregister(orderID string, conn Conn) {
	t := b.lock(orderID, false)
	if t == nil {
		return
	}
	defer t.mu.Unlock()
	t.remove(conn)
}

func (t *topic) remove(conn Conn) {
	if _, ok := t.subs[conn]; ok {
		delete(t.subs, conn)
		metrics.Subscribers.Dec()
	}
}

// Emit records a message in the order's history and pushes it to every open
// subscriber. Subscribers that are closed or fail to send are dropped.
func (b *Broadcaster) Emit(orderID string, status order.Status, details Details) Message {
	now := b.clock.Now()

	t := b.lock(orderID, true)
	msgType, explicit := details.orderType()
	if explicit {
		t.orderType = msgType
	} else if t.orderType != "" {
		msgType = t.orderType
	} else {
		msgType = order.TypeMarket
	}

	msg := Message{
		OrderID:   orderID,
		Status:    status,
		Timestamp: now,
		Type:      msgType,
		Details:   details,
	}

	if len(t.history) == 0 {
		metrics.HistoryOrders.Inc()
	}
	t.history = append(t.history, msg)
	if over := len(t.history) - b.limit; over > 0 {
		t.history = append(t.history[:0:0], t.history[over:]...)
	}
	t.lastActive = now

	if len(t.subs) > 0 {
		data, err := json.Marshal(msg)
		if err != nil {
			b.log.Errorw("ws_marshal_failed", "order_id", orderID, "error", err)
		} else {
			for conn := range t.subs {
				if !conn.IsOpen() {
					t.remove(conn)
					continue
				}
				if err := conn.Send(data); err != nil {
					b.log.Warnw("ws_send_failed", "order_id", orderID, "error", err)
					t.remove(conn)
				}
			}
		}
	}
	t.mu.Unlock()

	metrics.MessagesEmitted.WithLabelValues(string(status)).Inc()
	b.Sweep()
	return msg
}

// ReplayHistory sends the retained history of orderID to conn in emission
// order and returns the number of messages sent.
func (b *Broadcaster) ReplayHistory(orderID string, conn Conn) int {
	t := b.lock(orderID, false)
	if t == nil {
		return 0
	}
	defer t.mu.Unlock()
	return b.replay(t, orderID, conn)
}

// replay sends t's history to conn. Callers hold t.mu.
func (b *Broadcaster) replay(t *topic, orderID string, conn Conn) int {
	if len(t.history) == 0 || !conn.IsOpen() {
		return 0
	}

	for _, msg := range t.history {
		data, err := json.Marshal(msg)
		if err != nil {
			b.log.Errorw("ws_marshal_failed", "order_id", orderID, "error", err)
			continue
		}
		if err := conn.Send(data); err != nil {
			b.log.Warnw("ws_replay_failed", "order_id", orderID, "error", err)
		}
	}
	return len(t.history)
}

// History returns a copy of the retained messages for orderID.
func (b *Broadcaster) History(orderID string) []Message {
	t := b.lock(orderID, false)
	if t == nil {
		return nil
	}
	defer t.mu.Unlock()
	return append([]Message(nil), t.history...)
}

func (b *Broadcaster) HasHistory(orderID string) bool {
	t := b.lock(orderID, false)
	if t == nil {
		return false
	}
	defer t.mu.Unlock()
	return len(t.history) > 0
}

func (b *Broadcaster) ConnectionCount(orderID string) int {
	t := b.lock(orderID, false)
	if t == nil {
		return 0
	}
	defer t.mu.Unlock()
	return len(t.subs)
}

// Sweep purges orders that have no subscribers and no activity within the
// history TTL. It returns the number of orders purged.
func (b *Broadcaster) Sweep() int {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	purged := 0
	for id, t := range b.topics {
		t.mu.Lock()
		if len(t.subs) == 0 && now.Sub(t.lastActive) > b.ttl {
			if len(t.history) > 0 {
				metrics.HistoryOrders.Dec()
			}
			t.dead = true
			delete(b.topics, id)
			purged++
		}
		t.mu.Unlock()
	}
	if purged > 0 {
		b.log.Debugw("ws_history_purged", "orders", purged)
	}
	return purged
}

// RunJanitor sweeps on a fixed interval until ctx is done.
func (b *Broadcaster) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	for {
		if err := util.Sleep(ctx, b.clock, interval); err != nil {
			return
		}
		b.Sweep()
	}
}

// Close drops every subscriber and all retained history.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, t := range b.topics {
		t.mu.Lock()
		for conn := range t.subs {
			t.remove(conn)
		}
		if len(t.history) > 0 {
			metrics.HistoryOrders.Dec()
		}
		t.dead = true
		t.mu.Unlock()
		delete(b.topics, id)
	}
}
