// ABOUTME: Websocket connection with a single writer goroutine and bounded send buffer
// ABOUTME: A client that stops draining its buffer is disconnected instead of stalling fan-out

package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	defaultPingPeriod = 30 * time.Second
	sendBuffer        = 128
	maxFrameBytes     = 4096
)

var (
	errConnClosed = errors.New("connection closed")
	errSlowClient = errors.New("connection send buffer full")
)

// Conn serializes writes to a websocket. Send is safe for concurrent use.
type Conn struct {
	ws         *websocket.Conn
	send       chan []byte
	done       chan struct{}
	once       sync.Once
	pingPeriod time.Duration
}

func newConn(ws *websocket.Conn, pingPeriod time.Duration) *Conn {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	return &Conn{
		ws:         ws,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		pingPeriod: pingPeriod,
	}
}

// readTimeout is how long a silent peer is tolerated; pongs extend it.
func (c *Conn) readTimeout() time.Duration {
	return c.pingPeriod * 2
}

// SendJSON encodes v and queues it.
func (c *Conn) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Send queues payload for the write loop.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case <-c.done:
		return errConnClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return errSlowClient
	}
}

// Close sends a close frame and tears the socket down. Safe to call more
// than once.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// writeLoop owns every data and ping write on the socket.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
