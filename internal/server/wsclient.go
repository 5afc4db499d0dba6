package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sketchroom/internal/protocol"
)

// writeWait bounds how long a single frame write may block on a stalled peer
// before the connection is given up on.
const writeWait = 10 * time.Second

// wsClient owns one websocket connection. All writes go through a single
// writer goroutine so the session and direct rejection echoes never touch
// the conn concurrently.
type wsClient struct {
	conn *websocket.Conn
	log  *zap.Logger

	send      chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, log *zap.Logger) *wsClient {
	return &wsClient{
		conn: conn,
		log:  log,
		send: make(chan protocol.Message, 64),
		done: make(chan struct{}),
	}
}

// run is the writer loop. On shutdown it drains whatever is already queued
// before closing the conn, so a terminal error echo still reaches the peer.
func (c *wsClient) run() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if !c.write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *wsClient) write(msg protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.log.Error("dropping unencodable frame", zap.Error(err))
		return true
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.close()
		return false
	}
	return true
}

// enqueue hands a message to the writer, giving up once the client is done.
func (c *wsClient) enqueue(msg protocol.Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

// forward pumps a session outbound channel into the writer until the session
// closes it (participant left) or the client shuts down.
func (c *wsClient) forward(out <-chan protocol.Message) {
	for msg := range out {
		c.enqueue(msg)
	}
}

// close is idempotent; it stops the writer after a drain and unblocks the
// reader by closing the conn.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
