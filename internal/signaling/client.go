// Package signaling wraps the websocket channel to the matchmaking server:
// one logical connection, typed decoding of inbound lifecycle events, and
// fire-and-forget outbound emits.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// Frame is the wire envelope: an event name plus its payload. Outbound
// frames carry a unique id so the server can de-duplicate retried emits;
// inbound frames may omit it.
type Frame struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	userID string

	mu     sync.Mutex
	roomID string
	closed bool
	out    chan []byte
}

// Connect dials the signaling endpoint. The caller owns reconnect policy;
// a Client represents exactly one transport connection.
func Connect(serverURL, userID string) (*Client, error) {
	wsURL := strings.Replace(serverURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = wsURL + "/ws"

	ctx, cancel := context.WithCancel(context.Background())
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &Client{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		userID: userID,
		out:    make(chan []byte, 64),
	}
	go c.writeLoop()
	return c, nil
}

// SetRoom records the active room so peer-transport relays carry it.
func (c *Client) SetRoom(roomID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

func (c *Client) room() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Emit queues an outbound event. It never blocks and never surfaces an
// error to callers: a closed or backed-up connection drops the frame after
// logging. Ordering between emits is preserved.
func (c *Client) Emit(event string, data any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	frame := Frame{ID: uuid.NewString(), Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Printf("signaling: marshal %s: %v", event, err)
			return
		}
		frame.Data = raw
	}
	buf, err := json.Marshal(frame)
	if err != nil {
		log.Printf("signaling: marshal frame %s: %v", event, err)
		return
	}
	select {
	case c.out <- buf:
	default:
		log.Printf("signaling: outbound queue full, dropping %s", event)
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case buf := <-c.out:
			writeCtx, writeCancel := context.WithTimeout(c.ctx, 5*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, buf)
			writeCancel()
			if err != nil {
				log.Printf("signaling: write failed: %v", err)
			}
		}
	}
}

// ReadLoop decodes inbound frames and delivers them in arrival order. The
// channel closes when the transport drops.
func (c *Client) ReadLoop(ch chan<- any) {
	defer close(ch)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		ev, err := Decode(data)
		if err != nil {
			log.Printf("signaling: %v", err)
			continue
		}
		select {
		case ch <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
}
