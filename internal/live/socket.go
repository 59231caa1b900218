package live

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendChannelSize    = 64
	commandChannelSize = 16
)

// NewUpgrader returns a websocket upgrader accepting the given origins.
// "*" or an empty list accepts any origin.
func NewUpgrader(origins []string) *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		u.CheckOrigin = func(*http.Request) bool { return true }
		return u
	}
	u.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
	return u
}

// socket is one control connection bound to a page. Reads, command
// execution and writes each run in their own goroutine so a slow action
// never stalls pong handling.
type socket struct {
	conn   *websocket.Conn
	page   schemas.Page
	logger *zap.Logger

	cmds chan []byte
	send chan Reply
}

// Serve runs the command protocol on conn against page until the peer goes
// away or ctx is done. Commands are executed one at a time in arrival order.
// Serve closes conn before returning.
func Serve(ctx context.Context, conn *websocket.Conn, page schemas.Page, m *metrics.Metrics, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.AddWSConnections(1)
	defer m.AddWSConnections(-1)

	s := &socket{
		conn:   conn,
		page:   page,
		logger: logger.Named("ws").With(zap.String("page_id", page.ID())),
		cmds:   make(chan []byte, commandChannelSize),
		send:   make(chan Reply, sendChannelSize),
	}
	s.logger.Info("Control connection opened")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.writePump()
	}()
	go func() {
		defer wg.Done()
		s.execLoop(ctx)
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.readPump(ctx)
	wg.Wait()
	conn.Close()
	s.logger.Info("Control connection closed")
}

// readPump feeds incoming messages to execLoop and closes cmds on exit.
func (s *socket) readPump(ctx context.Context) {
	defer close(s.cmds)

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				s.logger.Warn("Control connection read error", zap.Error(err))
			}
			return
		}
		select {
		case s.cmds <- message:
		case <-ctx.Done():
			return
		}
	}
}

// execLoop runs commands in order and queues their replies. It closes send
// once cmds is drained.
func (s *socket) execLoop(ctx context.Context) {
	defer close(s.send)
	for raw := range s.cmds {
		if ctx.Err() != nil {
			continue
		}
		reply := Dispatch(ctx, s.page, raw)
		if reply.Type == ReplyError {
			s.logger.Debug("Command failed", zap.Any("reason", reply.Payload))
		}
		select {
		case s.send <- reply:
		case <-ctx.Done():
		}
	}
}

// writePump owns every write to the connection.
func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case reply, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			raw, err := json.Marshal(reply)
			if err != nil {
				s.logger.Error("Failed to encode reply", zap.Error(err))
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.logger.Debug("Control connection write failed", zap.Error(err))
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
