package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ugobenoist/quiz/game/quiz"
)

const (
	// Maximum message size allowed from a watcher. Watchers only send
	// control frames.
	maxWatcherMessageSize = 512

	// Snapshots buffered per watcher before it is dropped.
	watcherBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The control API is meant for localhost and tunnels the user set up.
		return true
	},
}

// Message is what watchers receive
type Message struct {
	SessionID string      `json:"session_id"`
	Event     string      `json:"event"`
	State     *quiz.State `json:"state,omitempty"`

	// disconnect the session's watchers instead of sending
	drop bool
}

// Watcher is one WebSocket connection following a session
type Watcher struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string

	// Sent on registration when the hub has no snapshot of the session yet
	initial *quiz.State
}

// Hub maintains the set of active watchers and broadcasts session snapshots
type Hub struct {
	// Registered watchers by session ID
	sessions map[string]map[*Watcher]bool

	// Last snapshot broadcast per session
	latest map[string]quiz.State

	// Outbound snapshots and drop requests, in order
	broadcast chan *Message

	// Register requests from watchers
	register chan *Watcher

	// Unregister requests from watchers
	unregister chan *Watcher

	// Closed when Run returns
	stopped chan struct{}

	logger *zap.Logger
}

// NewHub creates a new watcher hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions:   make(map[string]map[*Watcher]bool),
		latest:     make(map[string]quiz.State),
		broadcast:  make(chan *Message, 64),
		register:   make(chan *Watcher),
		unregister: make(chan *Watcher),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's event loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case w := <-h.register:
			h.registerWatcher(w)

		case w := <-h.unregister:
			h.unregisterWatcher(w)

		case message := <-h.broadcast:
			if message.drop {
				h.dropSession(message.SessionID)
			} else {
				h.broadcastMessage(message)
			}

		case <-ctx.Done():
			for _, watchers := range h.sessions {
				for w := range watchers {
					h.unregisterWatcher(w)
				}
			}
			return
		}
	}
}

// ServeWS upgrades the request and follows sessionID. The first message is
// the newest snapshot the hub has seen for the session, or initial if none.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string, initial quiz.State) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	watcher := &Watcher{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, watcherBufferSize),
		sessionID: sessionID,
		initial:   &initial,
	}

	select {
	case h.register <- watcher:
	case <-h.stopped:
		conn.Close()
		return
	}

	go watcher.writePump()
	go watcher.readPump()
}

// BroadcastState sends a snapshot to every watcher of sessionID
func (h *Hub) BroadcastState(sessionID string, state quiz.State) {
	select {
	case h.broadcast <- &Message{SessionID: sessionID, Event: "state_update", State: &state}:
	case <-h.stopped:
	}
}

// DropSession disconnects every watcher of sessionID and forgets its last
// snapshot. It is ordered after every snapshot broadcast before it.
func (h *Hub) DropSession(sessionID string) {
	select {
	case h.broadcast <- &Message{SessionID: sessionID, drop: true}:
	case <-h.stopped:
	}
}

func encodeState(sessionID string, state quiz.State) ([]byte, error) {
	return json.Marshal(&Message{
		SessionID: sessionID,
		Event:     "state_update",
		State:     &state,
	})
}

// registerWatcher adds a watcher to a session and queues its first snapshot
func (h *Hub) registerWatcher(w *Watcher) {
	if h.sessions[w.sessionID] == nil {
		h.sessions[w.sessionID] = make(map[*Watcher]bool)
	}
	h.sessions[w.sessionID][w] = true

	first := w.initial
	if latest, ok := h.latest[w.sessionID]; ok {
		first = &latest
	}
	if first != nil {
		if data, err := encodeState(w.sessionID, *first); err == nil {
			select {
			case w.send <- data:
			default:
			}
		}
	}

	h.logger.Debug("watcher registered",
		zap.String("session", w.sessionID),
		zap.Int("watchers", len(h.sessions[w.sessionID])))
}

// dropSession disconnects a session's watchers and forgets its snapshot
func (h *Hub) dropSession(sessionID string) {
	delete(h.latest, sessionID)
	for w := range h.sessions[sessionID] {
		h.unregisterWatcher(w)
	}
}

// unregisterWatcher removes a watcher from a session
func (h *Hub) unregisterWatcher(w *Watcher) {
	watchers, ok := h.sessions[w.sessionID]
	if !ok {
		return
	}
	if _, ok := watchers[w]; !ok {
		return
	}

	delete(watchers, w)
	close(w.send)

	// Clean up empty sessions
	if len(watchers) == 0 {
		delete(h.sessions, w.sessionID)
	}

	h.logger.Debug("watcher unregistered",
		zap.String("session", w.sessionID),
		zap.Int("watchers", len(watchers)))
}

// broadcastMessage sends a message to all watchers of a session
func (h *Hub) broadcastMessage(message *Message) {
	if message.State != nil {
		h.latest[message.SessionID] = *message.State
	}

	watchers, ok := h.sessions[message.SessionID]
	if !ok {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	for w := range watchers {
		select {
		case w.send <- data:
		default:
			// Watcher's send channel is full, drop it
			h.unregisterWatcher(w)
		}
	}
}

// readPump keeps the watcher connection alive and notices when it goes away
func (w *Watcher) readPump() {
	defer func() {
		select {
		case w.hub.unregister <- w:
		case <-w.hub.stopped:
		}
		w.conn.Close()
	}()

	w.conn.SetReadLimit(maxWatcherMessageSize)
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Watchers are read-only; anything they send is discarded
		if _, _, err := w.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				w.hub.logger.Debug("watcher connection error", zap.Error(err))
			}
			return
		}
	}
}

// writePump pumps snapshots from the hub to the watcher connection
func (w *Watcher) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case message, ok := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				w.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
