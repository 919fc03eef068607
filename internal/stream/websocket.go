package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "market-observer/internal/errors"
	"market-observer/internal/models"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Payloads carry no per-client state, so any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketSink delivers payloads as JSON text frames over a single
// websocket connection. Writes are serialized; gorilla connections do not
// allow concurrent writers.
type WebSocketSink struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewWebSocketSink upgrades the HTTP request and wraps the connection as a
// sink. It starts a reader goroutine that discards inbound frames and
// answers pings, keeping the connection alive.
func NewWebSocketSink(w http.ResponseWriter, r *http.Request, logger zerolog.Logger) (*WebSocketSink, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, apperrors.NewFeedError("websocket upgrade", err)
	}

	s := &WebSocketSink{
		conn: conn,
		done: make(chan struct{}),
	}

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop(logger)
	go s.pingLoop()

	return s, nil
}

// WrapConn wraps an already-established connection, for tests and for
// client-initiated outbound streams.
func WrapConn(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{
		conn: conn,
		done: make(chan struct{}),
	}
}

// Send implements Sink. The context deadline becomes the write deadline.
func (s *WebSocketSink) Send(ctx context.Context, payload models.Payload) error {
	select {
	case <-s.done:
		return apperrors.NewFeedError("websocket send", websocket.ErrCloseSent)
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(payload); err != nil {
		return apperrors.NewFeedError("websocket send", err)
	}
	return nil
}

// Close implements Sink.
func (s *WebSocketSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the peer disconnects or the sink is closed.
func (s *WebSocketSink) Done() <-chan struct{} {
	return s.done
}

// readLoop drains inbound frames until the peer disconnects. Clients do not
// send application data; the read path exists for control frames only.
func (s *WebSocketSink) readLoop(logger zerolog.Logger) {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("Websocket closed unexpectedly")
			}
			s.Close()
			return
		}
	}
}

func (s *WebSocketSink) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.Close()
				return
			}
		}
	}
}
