// Package server exposes the sync engine over HTTP: the /ws websocket
// endpoint that speaks the session protocol, and the REST surface for the
// room allocator, saved drafts, and PDF export.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sketchroom/internal/board"
	"sketchroom/internal/export"
	"sketchroom/internal/protocol"
	"sketchroom/internal/session"
	"sketchroom/internal/store"
)

// Server wires the room registry and the draft store to the network.
type Server struct {
	log      *zap.Logger
	rooms    *session.Registry
	drafts   *store.DraftStore
	upgrader websocket.Upgrader
}

// New creates a server around a live room registry and a draft store.
func New(log *zap.Logger, rooms *session.Registry, drafts *store.DraftStore) *Server {
	return &Server{
		log:    log,
		rooms:  rooms,
		drafts: drafts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The board UI is served from its own origin during development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.log.Info("handled",
				zap.String("method", request.Method),
				zap.Stringer("url", request.URL),
				zap.Duration("duration", m.Duration),
				zap.Int("status", m.Code))
		})
	})

	r.Path("/ws").HandlerFunc(s.handleWS)
	r.Methods(http.MethodPost).Path("/api/rooms").HandlerFunc(s.createRoom)
	r.Methods(http.MethodGet).Path("/api/drafts").HandlerFunc(s.listDrafts)
	r.Methods(http.MethodPost).Path("/api/drafts").HandlerFunc(s.saveDraft)
	r.Methods(http.MethodGet).Path("/api/draft/{id}").HandlerFunc(s.getDraft)
	r.Methods(http.MethodDelete).Path("/api/draft/{id}").HandlerFunc(s.deleteDraft)
	r.Methods(http.MethodGet).Path("/api/draft/{id}/export.pdf").HandlerFunc(s.exportDraft)
	r.Methods(http.MethodGet).Path("/api/board/{roomId}/export.pdf").HandlerFunc(s.exportBoard)
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newWSClient(conn, s.log)
	go client.run()
	s.readPump(client)
}

// readPump decodes inbound frames and feeds them to the participant's room.
// The first accepted message must be a join; a join arriving later moves the
// participant to another room over the same socket, which is how a client
// rejoins after the UI hands it a new room id.
func (s *Server) readPump(c *wsClient) {
	defer c.close()

	var (
		room     *session.Room
		userID   string
		pumpDone chan struct{}
		switched chan struct{}
	)
	defer func() {
		if room != nil {
			s.rooms.Leave(room, userID)
		}
	}()

	// startPump drains the room's outbound channel into the writer. When the
	// session closes the channel on its own (the member was evicted), the
	// socket is dropped so the client reconnects and resyncs from a snapshot;
	// a room switch announces itself first and keeps the socket.
	startPump := func(out <-chan protocol.Message) {
		done := make(chan struct{})
		sw := make(chan struct{})
		go func() {
			c.forward(out)
			close(done)
			select {
			case <-sw:
			default:
				c.close()
			}
		}()
		pumpDone, switched = done, sw
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed frame: discard it and keep the session alive.
			s.log.Warn("discarding malformed frame", zap.Error(err))
			continue
		}

		if msg.Type == protocol.TypeJoin {
			if msg.Username == "" {
				s.log.Warn("join without username discarded")
				continue
			}
			if room != nil {
				// Let the old room's pump finish draining before the new
				// handshake starts, so no stale frame can land after the
				// fresh snapshot.
				close(switched)
				s.rooms.Leave(room, userID)
				<-pumpDone
				room, userID = nil, ""
			}
			joined, info, out, err := s.rooms.Join(msg.Username, msg.RoomID)
			if err != nil {
				// A missing room is terminal: echo the rejection and close.
				c.enqueue(protocol.ErrorMessage(err))
				return
			}
			room, userID = joined, info.ID
			startPump(out)
			continue
		}

		if room == nil {
			s.log.Warn("operation before join discarded", zap.String("type", msg.Type))
			continue
		}
		room.Handle(userID, msg)
	}
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	room := s.rooms.CreateRoom()
	s.writeJSON(w, http.StatusCreated, map[string]string{"roomId": room.ID})
}

func (s *Server) listDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := s.drafts.List(r.Context())
	if err != nil {
		s.log.Error("list drafts failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list drafts")
		return
	}
	s.writeJSON(w, http.StatusOK, drafts)
}

func (s *Server) saveDraft(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string       `json:"title"`
		Pages []board.Page `json:"pages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid draft body")
		return
	}
	if body.Title == "" {
		s.writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	draft, err := s.drafts.Save(r.Context(), body.Title, body.Pages)
	if err != nil {
		s.log.Error("save draft failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to save draft")
		return
	}
	s.writeJSON(w, http.StatusCreated, draft)
}

func (s *Server) getDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.drafts.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrDraftNotFound) {
		s.writeError(w, http.StatusNotFound, "draft not found")
		return
	}
	if err != nil {
		s.log.Error("get draft failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load draft")
		return
	}
	s.writeJSON(w, http.StatusOK, draft)
}

func (s *Server) deleteDraft(w http.ResponseWriter, r *http.Request) {
	err := s.drafts.Delete(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrDraftNotFound) {
		s.writeError(w, http.StatusNotFound, "draft not found")
		return
	}
	if err != nil {
		s.log.Error("delete draft failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to delete draft")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.drafts.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrDraftNotFound) {
		s.writeError(w, http.StatusNotFound, "draft not found")
		return
	}
	if err != nil {
		s.log.Error("get draft failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load draft")
		return
	}
	s.servePDF(w, fmt.Sprintf("%s.pdf", draft.Title), draft.Pages)
}

func (s *Server) exportBoard(w http.ResponseWriter, r *http.Request) {
	room, ok := s.rooms.Get(mux.Vars(r)["roomId"])
	if !ok {
		s.writeError(w, http.StatusNotFound, "room not found")
		return
	}
	s.servePDF(w, "board.pdf", room.Pages())
}

func (s *Server) servePDF(w http.ResponseWriter, filename string, pages []board.Page) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := export.WritePDF(w, pages); err != nil {
		s.log.Error("pdf export failed", zap.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
