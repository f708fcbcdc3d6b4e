package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/swapexec/pkg/broadcast"
	"github.com/uhyunpark/swapexec/pkg/order"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

var (
	errClientClosed   = errors.New("websocket client closed")
	errSendBufferFull = errors.New("websocket send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Client is one subscriber of an order stream. It implements broadcast.Conn.
type Client struct {
	conn    *websocket.Conn
	orderID string
	send    chan []byte
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
	log     *zap.SugaredLogger
}

func newClient(conn *websocket.Conn, orderID string, log *zap.SugaredLogger) *Client {
	return &Client{
		conn:    conn,
		orderID: orderID,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		log:     log,
	}
}

// Send queues data for the write pump. It never blocks. A full buffer
// closes the client, since it has already missed a message; the write pump
// then tears the socket down and the broadcaster drops it.
func (c *Client) Send(data []byte) error {
	if c.closed.Load() {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		c.log.Warnw("ws_send_buffer_full", "order_id", c.orderID, "buffered", len(c.send))
		c.close()
		return errSendBufferFull
	}
}

func (c *Client) IsOpen() bool { return !c.closed.Load() }

func (c *Client) close() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// readPump handles pings from the client until the connection drops.
func (c *Client) readPump(events Events) {
	defer func() {
		events.Unregister(c.orderID, c)
		c.close()
		c.conn.Close()
		c.log.Infow("ws_client_disconnected", "order_id", c.orderID)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnw("ws_read_error", "order_id", c.orderID, "error", err)
			}
			return
		}

		var msg wsControl
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore invalid messages
		}
		if msg.Type == "ping" {
			pong, _ := json.Marshal(wsControl{Type: "pong"})
			c.Send(pong)
		}
	}
}

// writePump pumps queued messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// handleOrderStream upgrades the request and subscribes the connection to
// one order's lifecycle messages. Late subscribers get the retained history
// first; without history the current stored status is sent.
func (s *Server) handleOrderStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "error", err)
		return
	}

	orderID := orderIDFrom(r)
	if orderID == "" {
		closeWithPolicy(conn, "Order ID required in path or query string")
		return
	}

	o, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if !errors.Is(err, order.ErrNotFound) {
			s.log.Errorw("ws_order_lookup_failed", "order_id", orderID, "error", err)
		}
		closeWithPolicy(conn, "Order not found")
		return
	}

	client := newClient(conn, orderID, s.log)
	go client.writePump()

	s.log.Infow("ws_client_connected", "order_id", orderID, "type", o.Type, "status", o.Status)

	if n := s.events.Subscribe(orderID, client, o.Type); n > 0 {
		s.log.Debugw("ws_history_replayed", "order_id", orderID, "messages", n)
	} else {
		s.events.Emit(orderID, o.Status, currentStatusDetails(o))
	}

	client.readPump(s.events)
}

func currentStatusDetails(o *order.Order) broadcast.Details {
	d := broadcast.Details{
		"type":    o.Type,
		"message": "Connected to order stream",
	}
	if o.DexSelected != "" {
		d["dex"] = o.DexSelected
	}
	if o.TxHash != "" {
		d["txHash"] = o.TxHash
	}
	if o.ExecutedPrice != "" {
		d["executedPrice"] = o.ExecutedPrice
	}
	if o.ErrorMessage != "" {
		d["error"] = o.ErrorMessage
	}
	return d
}

func closeWithPolicy(conn *websocket.Conn, reason string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(writeWait))
	conn.Close()
}
