package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/util"
)

type fakeConn struct {
	mu      sync.Mutex
	open    bool
	sendErr error
	sent    []Message
	// onSend runs after every successful send, outside the conn's lock.
	onSend func()
}

func newFakeConn() *fakeConn { return &fakeConn{open: true} }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.sent = append(c.sent, m)
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	c.mu.Lock()
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *util.ManualClock) {
	t.Helper()
	clock := util.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(Config{}, clock, zap.NewNop().Sugar()), clock
}

func statuses(msgs []Message) []order.Status {
	out := make([]order.Status, len(msgs))
	for i, m := range msgs {
		out[i] = m.Status
	}
	return out
}

func TestEmit_DeliversToSubscribers(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	a, c := newFakeConn(), newFakeConn()
	b.Register("o1", a, order.TypeLimit)
	b.Register("o1", c, "")
	b.Register("o2", newFakeConn(), "")

	b.Emit("o1", order.StatusWaitingForTrigger, Details{"limitPrice": 1.5})
	b.Emit("o1", order.StatusRouting, Details{"dex": "raydium"})

	for _, conn := range []*fakeConn{a, c} {
		got := conn.messages()
		require.Len(t, got, 2)
		assert.Equal(t, []order.Status{order.StatusWaitingForTrigger, order.StatusRouting}, statuses(got))
		assert.Equal(t, order.TypeLimit, got[0].Type)
		assert.Equal(t, "raydium", got[1].Details["dex"])
	}
	assert.Equal(t, 2, b.ConnectionCount("o1"))
	assert.Equal(t, 1, b.ConnectionCount("o2"))
}

func TestEmit_TypeResolution(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	msg := b.Emit("o1", order.StatusPending, nil)
	assert.Equal(t, order.TypeMarket, msg.Type, "default type")

	msg = b.Emit("o1", order.StatusPending, Details{"type": order.TypeSniper})
	assert.Equal(t, order.TypeSniper, msg.Type, "explicit type")

	msg = b.Emit("o1", order.StatusScanningLaunch, nil)
	assert.Equal(t, order.TypeSniper, msg.Type, "remembered from details")

	b.Register("o2", newFakeConn(), order.TypeLimit)
	msg = b.Emit("o2", order.StatusPending, Details{"message": "hi"})
	assert.Equal(t, order.TypeLimit, msg.Type, "remembered from register")

	msg = b.Emit("o2", order.StatusPending, Details{"type": "market"})
	assert.Equal(t, order.TypeMarket, msg.Type, "string type in details")
}

func TestEmit_DropsClosedAndFailingSubscribers(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	healthy, closed, broken := newFakeConn(), newFakeConn(), newFakeConn()
	closed.open = false
	broken.sendErr = errors.New("broken pipe")

	b.Register("o1", healthy, "")
	b.Register("o1", closed, "")
	b.Register("o1", broken, "")
	require.Equal(t, 3, b.ConnectionCount("o1"))

	b.Emit("o1", order.StatusRouting, nil)

	assert.Equal(t, 1, b.ConnectionCount("o1"))
	assert.Len(t, healthy.messages(), 1)
	assert.Empty(t, closed.messages())
}

func TestReplayHistory(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	want := []order.Status{
		order.StatusPending,
		order.StatusRouting,
		order.StatusRouting,
		order.StatusBuilding,
		order.StatusSubmitted,
		order.StatusConfirmed,
	}
	for _, s := range want {
		b.Emit("o1", s, Details{"type": order.TypeMarket})
	}

	late := newFakeConn()
	b.Register("o1", late, "")
	n := b.ReplayHistory("o1", late)

	assert.Equal(t, len(want), n)
	assert.Equal(t, want, statuses(late.messages()))
	assert.True(t, b.HasHistory("o1"))
}

func TestReplayHistory_NothingToSend(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	conn := newFakeConn()

	assert.Zero(t, b.ReplayHistory("missing", conn))
	assert.False(t, b.HasHistory("missing"))

	b.Emit("o1", order.StatusPending, nil)
	conn.open = false
	assert.Zero(t, b.ReplayHistory("o1", conn))
}

func TestHistory_CappedAtLimit(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	for i := 0; i < DefaultHistoryLimit+10; i++ {
		b.Emit("o1", order.StatusRouting, Details{"seq": i})
	}

	conn := newFakeConn()
	n := b.ReplayHistory("o1", conn)
	require.Equal(t, DefaultHistoryLimit, n)

	got := conn.messages()
	require.Len(t, got, DefaultHistoryLimit)
	assert.EqualValues(t, 10, got[0].Details["seq"])
	assert.EqualValues(t, DefaultHistoryLimit+9, got[len(got)-1].Details["seq"])
}

func TestSweep_PurgesIdleHistoryWithoutSubscribers(t *testing.T) {
	b, clock := newTestBroadcaster(t)
	b.Emit("idle", order.StatusConfirmed, Details{"type": order.TypeLimit})

	clock.Advance(DefaultHistoryTTL)
	assert.Zero(t, b.Sweep(), "not past the TTL yet")
	assert.True(t, b.HasHistory("idle"))

	clock.Advance(time.Second)
	assert.Equal(t, 1, b.Sweep())
	assert.False(t, b.HasHistory("idle"))

	// The remembered type went with the history.
	msg := b.Emit("idle", order.StatusPending, nil)
	assert.Equal(t, order.TypeMarket, msg.Type)
}

func TestSweep_KeepsHistoryWhileSubscribed(t *testing.T) {
	b, clock := newTestBroadcaster(t)
	conn := newFakeConn()
	b.Register("watched", conn, "")
	b.Emit("watched", order.StatusPending, nil)

	clock.Advance(2 * DefaultHistoryTTL)
	assert.Zero(t, b.Sweep())
	assert.True(t, b.HasHistory("watched"))

	b.Unregister("watched", conn)
	assert.Equal(t, 0, b.ConnectionCount("watched"))
	assert.True(t, b.HasHistory("watched"), "history outlives the last subscriber")

	clock.Advance(DefaultHistoryTTL + time.Second)
	assert.Equal(t, 1, b.Sweep())
	assert.False(t, b.HasHistory("watched"))
}

func TestEmit_SweepsOtherIdleOrders(t *testing.T) {
	b, clock := newTestBroadcaster(t)
	b.Emit("old", order.StatusConfirmed, nil)

	clock.Advance(DefaultHistoryTTL + time.Minute)
	b.Emit("new", order.StatusPending, nil)

	assert.False(t, b.HasHistory("old"))
	assert.True(t, b.HasHistory("new"))
}

func TestConcurrentEmitKeepsPerOrderOrder(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	conns := make(map[string]*fakeConn)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("o%d", i)
		conns[id] = newFakeConn()
		b.Register(id, conns[id], "")
	}

	var wg sync.WaitGroup
	for id := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := 0; seq < 40; seq++ {
				b.Emit(id, order.StatusRouting, Details{"seq": seq})
			}
		}()
	}
	wg.Wait()

	for id, conn := range conns {
		got := conn.messages()
		require.Len(t, got, 40, id)
		for i, m := range got {
			assert.EqualValues(t, i, m.Details["seq"])
		}
	}
}

func TestClose(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	b.Register("o1", newFakeConn(), "")
	b.Emit("o1", order.StatusPending, nil)

	b.Close()
	assert.Zero(t, b.ConnectionCount("o1"))
	assert.False(t, b.HasHistory("o1"))
}

func TestSubscribe_ConcurrentEmitNotInterleaved(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	b.Emit("o1", order.StatusPending, Details{"type": order.TypeMarket})
	b.Emit("o1", order.StatusRouting, nil)

	conn := newFakeConn()
	var once sync.Once
	done := make(chan struct{})
	conn.onSend = func() {
		// An emit racing the first replayed message must wait for the
		// replay to finish.
		once.Do(func() {
			go func() {
				defer close(done)
				b.Emit("o1", order.StatusBuilding, nil)
			}()
		})
	}

	n := b.Subscribe("o1", conn, order.TypeMarket)
	<-done

	assert.Equal(t, 2, n)
	assert.Equal(t,
		[]order.Status{order.StatusPending, order.StatusRouting, order.StatusBuilding},
		statuses(conn.messages()))
	assert.Equal(t, 1, b.ConnectionCount("o1"))
}

func TestSubscribe_WithoutHistory(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	conn := newFakeConn()

	assert.Zero(t, b.Subscribe("o1", conn, order.TypeSniper))
	assert.Equal(t, 1, b.ConnectionCount("o1"))

	msg := b.Emit("o1", order.StatusScanningLaunch, nil)
	assert.Equal(t, order.TypeSniper, msg.Type)
	require.Len(t, conn.messages(), 1)
}
