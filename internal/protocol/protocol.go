// Package protocol defines the messages exchanged between a client and the
// authoritative session over one persistent websocket. Every frame carries a
// single JSON-encoded Message; the Type field decides which of the other
// fields are significant.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"sketchroom/internal/board"
)

// Message types. The client sends join, element:create, board:clear,
// board:undo and the page:* requests; the session answers with welcome,
// users, board:state, page:state, page:allPages and error.
const (
	TypeJoin          = "join"
	TypeWelcome       = "welcome"
	TypeUsers         = "users"
	TypeBoardState    = "board:state"
	TypeElementCreate = "element:create"
	TypeBoardClear    = "board:clear"
	TypeBoardUndo     = "board:undo"
	TypePageState     = "page:state"
	TypePageAdd       = "page:add"
	TypePageNavigate  = "page:navigate"
	TypePageDelete    = "page:delete"
	TypePageLoad      = "page:load"
	TypePageReset     = "page:reset"
	TypePageGetAll    = "page:getAll"
	TypeAllPages      = "page:allPages"
	TypeError         = "error"
)

// ErrMalformed reports an inbound frame that could not be decoded. The frame
// is discarded and the session continues.
var ErrMalformed = errors.New("malformed protocol message")

// Participant is one connected user as seen by every client in the room.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// Message is the wire envelope. Fields are omitted when they do not apply to
// the message type; CurrentPage and PageIndex are pointers because index 0 is
// a meaningful value.
type Message struct {
	Type string `json:"type"`

	// join and welcome
	Username string `json:"username,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Color    string `json:"color,omitempty"`

	// users
	Users []Participant `json:"users,omitempty"`

	// board:state and element:create
	Elements []board.Element `json:"elements,omitempty"`
	Element  *board.Element  `json:"element,omitempty"`

	// page:state, page:navigate, page:delete, page:load, page:allPages
	CurrentPage *int         `json:"currentPage,omitempty"`
	TotalPages  int          `json:"totalPages,omitempty"`
	PageIndex   *int         `json:"pageIndex,omitempty"`
	Pages       []board.Page `json:"pages,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Encode marshals m into a single frame.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses one frame. A frame that is not valid JSON, or that carries no
// type, is malformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return m, nil
}

// Join builds the handshake message. roomID may be empty to request a fresh
// room.
func Join(username, roomID string) Message {
	return Message{Type: TypeJoin, Username: username, RoomID: roomID}
}

// PageStateMessage builds a page:state broadcast from a document state slice.
func PageStateMessage(st board.PageState) Message {
	current := st.Current
	return Message{
		Type:        TypePageState,
		CurrentPage: &current,
		TotalPages:  st.Total,
		Elements:    st.Elements,
	}
}

// BoardState builds a board:state message carrying the elements of the
// current page.
func BoardState(elements []board.Element) Message {
	if elements == nil {
		elements = []board.Element{}
	}
	return Message{Type: TypeBoardState, Elements: elements}
}

// PageRequest builds one of the indexed page operations (page:navigate,
// page:delete).
func PageRequest(msgType string, index int) Message {
	return Message{Type: msgType, PageIndex: &index}
}

// ErrorMessage builds the rejection echo sent back to an offending client.
func ErrorMessage(err error) Message {
	return Message{Type: TypeError, Error: err.Error()}
}
