// Package session holds the authoritative state for live rooms. A Room is
// the single sequencing point of the system: every mutating operation from
// every participant is validated and applied under one lock, and the
// broadcast fan-out happens under that same lock, so broadcast order equals
// apply order for all replicas.
package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sketchroom/internal/board"
	"sketchroom/internal/protocol"
)

// palette is the fixed set of participant colors, assigned by join order.
// Clients never pick their own color.
var palette = []string{
	"#ef4444", "#3b82f6", "#22c55e", "#f97316",
	"#8b5cf6", "#ec4899", "#14b8a6", "#eab308",
}

// sendBuffer bounds each participant's outbound queue. A participant that
// falls this far behind starts losing frames rather than stalling the room.
const sendBuffer = 64

type member struct {
	info protocol.Participant
	out  chan protocol.Message
}

// Room is one live board session: the document, the roster, and the
// outbound queues of every connected participant.
type Room struct {
	ID  string
	log *zap.Logger

	mu      sync.Mutex
	doc     *board.Document
	members map[string]*member
	joined  int // total joins ever, drives color assignment
}

func newRoom(id string, log *zap.Logger) *Room {
	return &Room{
		ID:      id,
		log:     log.With(zap.String("room", id)),
		doc:     board.NewDocument(),
		members: make(map[string]*member),
	}
}

// Join assigns an identity to a new participant and atomically snapshots the
// current document for them. The returned channel carries every message the
// session addresses to this participant, starting with welcome, the page
// position, the board snapshot and the updated roster; a joiner can never
// observe a partial or stale document because all of it is queued under the
// room lock.
func (r *Room) Join(username string) (protocol.Participant, <-chan protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := protocol.Participant{
		ID:       uuid.NewString(),
		Username: username,
		Color:    palette[r.joined%len(palette)],
	}
	r.joined++

	m := &member{info: info, out: make(chan protocol.Message, sendBuffer)}
	r.members[info.ID] = m

	st := r.doc.State()
	r.replyLocked(m, protocol.Message{
		Type:     protocol.TypeWelcome,
		UserID:   info.ID,
		Username: info.Username,
		Color:    info.Color,
		RoomID:   r.ID,
	})
	r.replyLocked(m, protocol.PageStateMessage(st))
	r.replyLocked(m, protocol.BoardState(st.Elements))
	r.broadcastLocked(r.rosterLocked())

	r.log.Info("participant joined",
		zap.String("user", info.ID),
		zap.String("username", info.Username))
	return info, m.out
}

// Leave removes a participant and tells everyone else. It returns the number
// of participants still in the room.
func (r *Room) Leave(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[userID]
	if !ok {
		return len(r.members)
	}
	delete(r.members, userID)
	close(m.out)
	r.broadcastLocked(r.rosterLocked())

	r.log.Info("participant left", zap.String("user", userID))
	return len(r.members)
}

func (r *Room) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Participants returns the current roster.
func (r *Room) Participants() []protocol.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked().Users
}

// Pages returns a deep copy of the document's pages.
func (r *Room) Pages() []board.Page {
	return r.doc.Snapshot()
}

// Handle applies one inbound operation from userID. Valid mutations are
// applied to the document and broadcast to every participant, the author
// included: replicas change only by observing broadcasts, never by local
// speculative application. Deterministic rejections are echoed to the author
// alone and never retried or broadcast.
func (r *Room) Handle(userID string, msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	author, ok := r.members[userID]
	if !ok {
		return
	}

	switch msg.Type {
	case protocol.TypeElementCreate:
		if msg.Element == nil {
			r.log.Warn("element:create without element", zap.String("user", userID))
			return
		}
		el := *msg.Element
		if el.ID == "" {
			el.ID = uuid.NewString()
		}
		appended, err := r.doc.AppendElement(r.doc.CurrentPageID(), el)
		if err != nil {
			r.replyLocked(author, protocol.ErrorMessage(err))
			return
		}
		if appended {
			r.broadcastLocked(protocol.Message{Type: protocol.TypeElementCreate, Element: &el})
		}

	case protocol.TypeBoardClear:
		if err := r.doc.ClearPage(r.doc.CurrentPageID()); err != nil {
			r.replyLocked(author, protocol.ErrorMessage(err))
			return
		}
		r.broadcastLocked(protocol.Message{Type: protocol.TypeBoardClear})

	case protocol.TypeBoardUndo:
		// The pop is last-write-wins across all participants; an empty page
		// is a no-op but the snapshot is rebroadcast either way.
		els, err := r.doc.UndoLast(r.doc.CurrentPageID())
		if err != nil {
			r.replyLocked(author, protocol.ErrorMessage(err))
			return
		}
		r.broadcastLocked(protocol.BoardState(els))

	case protocol.TypePageAdd:
		r.broadcastLocked(protocol.PageStateMessage(r.doc.AddPage()))

	case protocol.TypePageNavigate:
		if msg.PageIndex == nil {
			r.log.Warn("page:navigate without index", zap.String("user", userID))
			return
		}
		st, err := r.doc.Navigate(*msg.PageIndex)
		if err != nil {
			r.replyLocked(author, protocol.ErrorMessage(err))
			return
		}
		r.broadcastLocked(protocol.PageStateMessage(st))

	case protocol.TypePageDelete:
		if msg.PageIndex == nil {
			r.log.Warn("page:delete without index", zap.String("user", userID))
			return
		}
		st, err := r.doc.DeletePage(*msg.PageIndex)
		if err != nil {
			r.replyLocked(author, protocol.ErrorMessage(err))
			return
		}
		r.broadcastLocked(protocol.PageStateMessage(st))

	case protocol.TypePageLoad:
		r.broadcastLocked(protocol.PageStateMessage(r.doc.LoadPages(msg.Pages)))

	case protocol.TypePageReset:
		r.broadcastLocked(protocol.PageStateMessage(r.doc.Reset()))

	case protocol.TypePageGetAll:
		r.replyLocked(author, protocol.Message{
			Type:  protocol.TypeAllPages,
			Pages: r.doc.Snapshot(),
		})

	default:
		r.log.Warn("unknown message type discarded",
			zap.String("user", userID),
			zap.String("type", msg.Type))
	}
}

func (r *Room) rosterLocked() protocol.Message {
	users := make([]protocol.Participant, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, m.info)
	}
	return protocol.Message{Type: protocol.TypeUsers, Users: users}
}

func (r *Room) broadcastLocked(msg protocol.Message) {
	var slow []string
	for id, m := range r.members {
		if !r.deliver(m, msg) {
			slow = append(slow, id)
		}
	}
	r.evictLocked(slow)
}

// replyLocked sends a message addressed to one participant.
func (r *Room) replyLocked(m *member, msg protocol.Message) {
	if !r.deliver(m, msg) {
		r.evictLocked([]string{m.info.ID})
	}
}

// deliver enqueues without blocking and reports whether the frame fit. A
// member that misses even one broadcast holds a replica that can never catch
// up, so a false return means the member must be evicted, not skipped.
func (r *Room) deliver(m *member, msg protocol.Message) bool {
	select {
	case m.out <- msg:
		return true
	default:
		return false
	}
}

// evictLocked removes members whose outbound queues overflowed. Closing the
// channel tears their connection down; the reconnection sub-protocol brings
// them back with a complete snapshot instead of a gap.
func (r *Room) evictLocked(ids []string) {
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		m, ok := r.members[id]
		if !ok {
			continue
		}
		delete(r.members, id)
		close(m.out)
		r.log.Warn("evicting slow participant", zap.String("user", id))
	}
	r.broadcastLocked(r.rosterLocked())
}
