package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxFrameSize   = 512
	sendBufferSize = 32
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session send buffer full")
)

// UserIDHeader carries a user id an upstream gateway has already
// authenticated. Sessions opened with it join that user immediately.
const UserIDHeader = "X-User-ID"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientFrame is what clients may send: {"event":"join","userId":"u1"}.
type clientFrame struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
}

// wsSession is a gorilla websocket connection with a dedicated write pump.
type wsSession struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	users  map[string]struct{}
}

func (s *wsSession) ID() string { return s.id }

func (s *wsSession) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (s *wsSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// Handler upgrades the request and attaches the connection to hub.
func Handler(hub *Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		s := &wsSession{
			id:     uuid.NewString(),
			conn:   conn,
			send:   make(chan []byte, sendBufferSize),
			logger: logger,
			users:  make(map[string]struct{}),
		}
		s.logger = logger.With(zap.String("session_id", s.id))

		if userID := r.Header.Get(UserIDHeader); userID != "" {
			s.join(hub, userID)
		}

		go s.writePump()
		s.readPump(hub)
	}
}

func (s *wsSession) join(hub *Hub, userID string) {
	s.mu.Lock()
	s.users[userID] = struct{}{}
	s.mu.Unlock()
	hub.Join(userID, s)
}

// readPump runs on the handler goroutine until the client goes away, then
// detaches the session from every user it joined.
func (s *wsSession) readPump(hub *Hub) {
	defer func() {
		s.mu.Lock()
		users := make([]string, 0, len(s.users))
		for u := range s.users {
			users = append(users, u)
		}
		s.mu.Unlock()
		for _, u := range users {
			hub.Leave(u, s)
		}
		s.close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Event == "join" && f.UserID != "" {
			s.join(hub, f.UserID)
		}
	}
}

func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
