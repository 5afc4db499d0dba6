package client

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyConnected is returned when a connect attempt is refused
	// because a connection is already open or being dialed.
	ErrAlreadyConnected = errors.New("connection already open or connecting")
	// ErrNotConnected is returned for a send while no transport is open.
	ErrNotConnected = errors.New("not connected")
)

// Conn is the minimal transport handle the engine needs. The production
// implementation wraps a gorilla websocket; tests substitute an in-memory
// pipe.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a transport to the given url.
type Dialer func(url string) (Conn, error)

// DialWebSocket is the production Dialer.
func DialWebSocket(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{conn: conn}, nil
}

type gorillaConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla supports one concurrent writer
}

func (g *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := g.conn.ReadMessage()
	return data, err
}

func (g *gorillaConn) WriteMessage(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn.WriteMessage(websocket.TextMessage, data)
}

func (g *gorillaConn) Close() error {
	return g.conn.Close()
}

// connEvents is how the connection manager reports transport-level events
// upward. It never inspects message contents itself.
type connEvents interface {
	onOpen()
	onMessage(data []byte)
	onClose(err error)
}

// ConnectionManager owns exactly one transport handle at a time: the stored
// socket and the dial state live here instead of floating around the
// connect/join/disconnect code paths.
type ConnectionManager struct {
	url    string
	dial   Dialer
	log    *zap.Logger
	events connEvents

	mu         sync.Mutex
	conn       Conn
	connecting bool
	gen        int
}

// NewConnectionManager creates a manager that reports to events.
func NewConnectionManager(url string, dial Dialer, log *zap.Logger, events connEvents) *ConnectionManager {
	return &ConnectionManager{url: url, dial: dial, log: log, events: events}
}

// Connect dials asynchronously. A second attempt while one is connecting or
// open is refused. Exactly one onClose is reported per accepted attempt,
// whether the dial fails or an open connection drops later.
func (cm *ConnectionManager) Connect() error {
	cm.mu.Lock()
	if cm.connecting || cm.conn != nil {
		cm.mu.Unlock()
		return ErrAlreadyConnected
	}
	cm.connecting = true
	gen := cm.gen
	cm.mu.Unlock()

	go cm.dialAndRead(gen)
	return nil
}

func (cm *ConnectionManager) dialAndRead(gen int) {
	conn, err := cm.dial(cm.url)

	cm.mu.Lock()
	cm.connecting = false
	if err != nil {
		cm.mu.Unlock()
		cm.events.onClose(err)
		return
	}
	if cm.gen != gen {
		// Closed while dialing; the handle is unwanted.
		cm.mu.Unlock()
		conn.Close()
		cm.events.onClose(ErrNotConnected)
		return
	}
	cm.conn = conn
	cm.mu.Unlock()

	cm.events.onOpen()

	var readErr error
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		cm.events.onMessage(data)
	}

	cm.mu.Lock()
	if cm.conn == conn {
		cm.conn = nil
	}
	cm.mu.Unlock()
	cm.events.onClose(readErr)
}

// IsOpen reports whether a transport is currently open.
func (cm *ConnectionManager) IsOpen() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.conn != nil
}

// Send writes one frame if the transport is open.
func (cm *ConnectionManager) Send(data []byte) error {
	cm.mu.Lock()
	conn := cm.conn
	cm.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(data)
}

// Close tears down the current transport, if any. The read loop notices and
// reports onClose; whoever called Close decides what that means.
func (cm *ConnectionManager) Close() {
	cm.mu.Lock()
	conn := cm.conn
	cm.conn = nil
	cm.gen++
	cm.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
