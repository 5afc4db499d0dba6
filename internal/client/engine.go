// Package client implements the sync engine that keeps one participant's
// replica consistent with the authoritative session. The engine is an
// explicit state machine (Idle, Joining, Synced, Reconnecting) around a
// ConnectionManager that owns the transport handle.
//
// The replica changes only by applying inbound broadcasts in arrival order;
// local edits are never applied speculatively before their echo comes back
// from the session. That trades perceived latency for correctness simplicity
// and is deliberate.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sketchroom/internal/board"
	"sketchroom/internal/protocol"
)

// State is the engine's connection state.
type State int

const (
	// StateIdle: no session wanted. Also the terminal state after the retry
	// budget is spent.
	StateIdle State = iota
	// StateJoining: handshake sent, waiting for welcome.
	StateJoining
	// StateSynced: identity assigned, replica tracking broadcasts.
	StateSynced
	// StateReconnecting: transport dropped unexpectedly while a session is
	// still wanted; a bounded retry is pending.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateSynced:
		return "synced"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Reconnection policy. Fixed delay and fixed attempt budget, not computed.
const (
	MaxReconnectAttempts = 5
	ReconnectDelay       = 2 * time.Second
)

// Handlers are the presentation adapter's hooks. All of them are optional
// and are invoked from the engine's event goroutine.
type Handlers struct {
	OnRoomJoined    func(roomID string)
	OnUsers         func(users []protocol.Participant)
	OnBoardState    func(elements []board.Element)
	OnElementCreate func(el board.Element)
	OnBoardClear    func()
	OnPageState     func(current, total int, elements []board.Element)
	OnAllPages      func(pages []board.Page)
	OnDisconnected  func()
}

// Engine is one client's sync engine.
type Engine struct {
	log      *zap.Logger
	handlers Handlers
	cm       *ConnectionManager

	mu     sync.Mutex
	state  State
	user   protocol.Participant
	joined bool
	users  []protocol.Participant
	roomID string

	// replica of the visible page, mirrored from broadcasts
	current  int
	total    int
	elements []board.Element

	// stored credentials replayed by the reconnection sub-protocol
	storedUsername string
	storedRoomID   string

	attempts    int
	intentional bool
	retryTimer  *time.Timer
	retryDelay  time.Duration
}

// New creates an engine that dials url with the production websocket dialer.
func New(url string, handlers Handlers, log *zap.Logger) *Engine {
	return NewWithDialer(url, DialWebSocket, handlers, log)
}

// NewWithDialer creates an engine with an injected dialer, which is how the
// state machine is exercised without a network.
func NewWithDialer(url string, dial Dialer, handlers Handlers, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		log:        log,
		handlers:   handlers,
		total:      1,
		retryDelay: ReconnectDelay,
	}
	e.cm = NewConnectionManager(url, dial, log, e)
	return e
}

// Join starts (or restarts) a session as username. An empty roomID asks the
// server for a fresh room. The credentials are stored so the reconnection
// sub-protocol can replay the handshake without user interaction.
func (e *Engine) Join(username, roomID string) {
	e.mu.Lock()
	e.intentional = false
	e.storedUsername = username
	e.storedRoomID = roomID
	e.attempts = 0
	e.state = StateJoining
	open := e.cm.IsOpen()
	e.mu.Unlock()

	if open {
		e.send(protocol.Join(username, roomID))
		return
	}
	if err := e.cm.Connect(); err != nil {
		e.log.Debug("connect refused", zap.Error(err))
	}
}

// Disconnect is the user-initiated leave. It is immediate: the transport is
// torn down, pending retries are cancelled, and the reconnection
// sub-protocol is suppressed entirely.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	e.intentional = true
	e.storedUsername = ""
	e.storedRoomID = ""
	e.attempts = 0
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.clearSessionLocked()
	e.state = StateIdle
	e.mu.Unlock()

	e.cm.Close()
}

// State returns the engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentUser returns the identity assigned by the session, if any.
func (e *Engine) CurrentUser() (protocol.Participant, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.user, e.joined
}

// RoomID returns the id of the joined room, empty while not synced.
func (e *Engine) RoomID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roomID
}

// Users returns the roster as last broadcast.
func (e *Engine) Users() []protocol.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]protocol.Participant, len(e.users))
	copy(out, e.users)
	return out
}

// PageState returns the replica: current page index, page count, and the
// elements of the current page.
func (e *Engine) PageState() board.PageState {
	e.mu.Lock()
	defer e.mu.Unlock()
	els := make([]board.Element, len(e.elements))
	copy(els, e.elements)
	return board.PageState{Current: e.current, Total: e.total, Elements: els}
}

// SendElement submits a local edit. The element id is assigned here, at
// creation time, by the authoring client. The element appears on the replica
// only when its broadcast echo arrives.
func (e *Engine) SendElement(el board.Element) {
	if el.ID == "" {
		el.ID = uuid.NewString()
	}
	e.send(protocol.Message{Type: protocol.TypeElementCreate, Element: &el})
}

// SendClear empties the current page for everyone.
func (e *Engine) SendClear() {
	e.send(protocol.Message{Type: protocol.TypeBoardClear})
}

// SendUndo pops the most recent element of the current page, whoever drew it.
func (e *Engine) SendUndo() {
	e.send(protocol.Message{Type: protocol.TypeBoardUndo})
}

// AddPage asks the session for a new page; it becomes current for everyone.
func (e *Engine) AddPage() {
	e.send(protocol.Message{Type: protocol.TypePageAdd})
}

// NavigatePage moves everyone to the page at index.
func (e *Engine) NavigatePage(index int) {
	e.send(protocol.PageRequest(protocol.TypePageNavigate, index))
}

// DeletePage removes the page at index; the session rejects deleting the
// last one.
func (e *Engine) DeletePage(index int) {
	e.send(protocol.PageRequest(protocol.TypePageDelete, index))
}

// LoadPages replaces the whole document, used when opening a saved draft.
func (e *Engine) LoadPages(pages []board.Page) {
	e.send(protocol.Message{Type: protocol.TypePageLoad, Pages: pages})
}

// ResetPages replaces the document with a single empty page.
func (e *Engine) ResetPages() {
	e.send(protocol.Message{Type: protocol.TypePageReset})
}

// RequestAllPages asks for every page; the reply arrives via OnAllPages.
// The save-draft flow collects pages this way before handing them to the
// draft store.
func (e *Engine) RequestAllPages() {
	e.send(protocol.Message{Type: protocol.TypePageGetAll})
}

// send is fire-and-forget: while the transport is not open the frame is
// silently dropped rather than queued. Only the join handshake survives a
// closed transport, replayed by the reconnection sub-protocol.
func (e *Engine) send(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		e.log.Error("dropping unencodable message", zap.Error(err))
		return
	}
	if err := e.cm.Send(data); err != nil {
		e.log.Debug("dropping send while not open", zap.String("type", msg.Type))
	}
}

// onOpen replays the stored handshake. Transitions Reconnecting -> Joining.
func (e *Engine) onOpen() {
	e.mu.Lock()
	e.attempts = 0
	username, roomID := e.storedUsername, e.storedRoomID
	if username != "" {
		e.state = StateJoining
	}
	e.mu.Unlock()

	if username != "" {
		e.send(protocol.Join(username, roomID))
	}
}

// onMessage applies one inbound frame to the replica in arrival order, which
// the session guarantees equals broadcast order.
func (e *Engine) onMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		e.log.Warn("discarding malformed frame", zap.Error(err))
		return
	}

	switch msg.Type {
	case protocol.TypeWelcome:
		e.mu.Lock()
		e.user = protocol.Participant{ID: msg.UserID, Username: msg.Username, Color: msg.Color}
		e.joined = true
		e.roomID = msg.RoomID
		e.storedRoomID = msg.RoomID
		e.state = StateSynced
		h := e.handlers.OnRoomJoined
		e.mu.Unlock()
		if h != nil {
			h(msg.RoomID)
		}

	case protocol.TypeUsers:
		// The stored roster gets its own backing array; the handler is free
		// to do what it wants with the decoded slice.
		users := make([]protocol.Participant, len(msg.Users))
		copy(users, msg.Users)
		e.mu.Lock()
		e.users = users
		h := e.handlers.OnUsers
		e.mu.Unlock()
		if h != nil {
			h(msg.Users)
		}

	case protocol.TypeBoardState:
		els := msg.Elements
		if els == nil {
			els = []board.Element{}
		}
		e.mu.Lock()
		e.elements = els
		h := e.handlers.OnBoardState
		e.mu.Unlock()
		if h != nil {
			h(els)
		}

	case protocol.TypeElementCreate:
		if msg.Element == nil {
			e.log.Warn("element:create without element discarded")
			return
		}
		el := *msg.Element
		e.mu.Lock()
		if !e.hasElementLocked(el.ID) {
			e.elements = append(e.elements, el)
		}
		h := e.handlers.OnElementCreate
		e.mu.Unlock()
		if h != nil {
			h(el)
		}

	case protocol.TypeBoardClear:
		e.mu.Lock()
		e.elements = []board.Element{}
		h := e.handlers.OnBoardClear
		e.mu.Unlock()
		if h != nil {
			h()
		}

	case protocol.TypePageState:
		if msg.CurrentPage == nil {
			e.log.Warn("page:state without index discarded")
			return
		}
		els := msg.Elements
		if els == nil {
			els = []board.Element{}
		}
		e.mu.Lock()
		e.current = *msg.CurrentPage
		e.total = msg.TotalPages
		e.elements = els
		h := e.handlers.OnPageState
		e.mu.Unlock()
		if h != nil {
			h(*msg.CurrentPage, msg.TotalPages, els)
		}

	case protocol.TypeAllPages:
		if h := e.handlers.OnAllPages; h != nil {
			h(msg.Pages)
		}

	case protocol.TypeError:
		e.mu.Lock()
		if e.state == StateJoining {
			// A rejected handshake (unknown room) is terminal: retrying is a
			// deterministic re-rejection, so the stored credentials go and
			// the user has to rejoin explicitly.
			e.log.Warn("join rejected by session", zap.String("reason", msg.Error))
			e.storedUsername = ""
			e.storedRoomID = ""
			e.clearSessionLocked()
			e.state = StateIdle
			h := e.handlers.OnDisconnected
			e.mu.Unlock()
			if h != nil {
				h()
			}
			return
		}
		e.mu.Unlock()
		// A rejected operation has no local effect; the state the session
		// broadcasts next is already the truth.
		e.log.Warn("operation rejected by session", zap.String("reason", msg.Error))

	default:
		e.log.Warn("unknown message type discarded", zap.String("type", msg.Type))
	}
}

// onClose runs the reconnection sub-protocol: while an identity is still
// wanted, retry with a fixed delay up to the fixed budget; past the budget,
// surface the terminal disconnect and clear identity and roster.
func (e *Engine) onClose(err error) {
	e.mu.Lock()
	if e.intentional || e.storedUsername == "" {
		e.clearSessionLocked()
		e.state = StateIdle
		e.mu.Unlock()
		return
	}

	if e.attempts < MaxReconnectAttempts {
		e.attempts++
		e.state = StateReconnecting
		e.log.Info("connection lost, reconnecting",
			zap.Int("attempt", e.attempts),
			zap.Error(err))
		e.retryTimer = time.AfterFunc(e.retryDelay, e.retry)
		e.mu.Unlock()
		return
	}

	e.log.Warn("max reconnect attempts reached, rejoin required")
	e.clearSessionLocked()
	e.storedUsername = ""
	e.storedRoomID = ""
	e.attempts = 0
	e.state = StateIdle
	h := e.handlers.OnDisconnected
	e.mu.Unlock()
	if h != nil {
		h()
	}
}

func (e *Engine) retry() {
	e.mu.Lock()
	if e.intentional || e.storedUsername == "" {
		e.mu.Unlock()
		return
	}
	e.retryTimer = nil
	e.mu.Unlock()

	if err := e.cm.Connect(); err != nil {
		e.log.Debug("reconnect refused", zap.Error(err))
	}
}

func (e *Engine) clearSessionLocked() {
	e.user = protocol.Participant{}
	e.joined = false
	e.users = nil
	e.roomID = ""
}

func (e *Engine) hasElementLocked(id string) bool {
	for _, el := range e.elements {
		if el.ID == id {
			return true
		}
	}
	return false
}
