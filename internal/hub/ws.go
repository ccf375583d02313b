package hub

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sarichat/chat-relay/internal/config"
	"github.com/sarichat/chat-relay/internal/metrics"
	"github.com/sarichat/chat-relay/internal/origin"
	"github.com/sarichat/chat-relay/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// WSServer implements GET /chat, the WebSocket endpoint every client event
// flows through.
type WSServer struct {
	cfg config.Config
	hub *Hub
	log *slog.Logger

	upgrader websocket.Upgrader
}

func NewWSServer(cfg config.Config, h *Hub, logger *slog.Logger) *WSServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	srv := &WSServer{
		cfg: cfg,
		hub: h,
		log: logger,
	}
	srv.upgrader.CheckOrigin = srv.checkOrigin
	return srv
}

func (s *WSServer) checkOrigin(r *http.Request) bool {
	return origin.CheckRequest(r, s.cfg.AllowedOrigins)
}

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wsc := newWSConn(conn, s.cfg.SendQueueSize, s.hub.Metrics())
	go wsc.writeLoop(s.cfg.WSPingInterval)

	s.log.Info("ws_connected", "remote_addr", r.RemoteAddr)
	defer s.log.Info("ws_disconnected", "remote_addr", r.RemoteAddr)

	s.readLoop(wsc)
}

func (s *WSServer) readLoop(wsc *wsConn) {
	defer func() {
		s.hub.HandleDisconnect(wsc)
		wsc.close()
	}()

	conn := wsc.conn
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	})

	rate := int64(s.cfg.MaxMessagesPerSecond)
	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{}, rate, rate)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))

		// The token is charged after the read so a bursting client sees a
		// close frame rather than a connection reset mid-write.
		if rate > 0 && !limiter.Allow(1) {
			s.hub.Metrics().Inc(metrics.RateLimited)
			wsc.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			wsc.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		s.hub.Dispatch(wsc, msg)
	}
}

// wsConn adapts a gorilla connection to the hub's Conn interface. All frames
// go through a bounded queue drained by a single writer goroutine, so Send
// never blocks the hub lock.
type wsConn struct {
	conn    *websocket.Conn
	metrics *metrics.Metrics

	sendCh chan []byte
	quit   chan struct{}

	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, queueSize int, m *metrics.Metrics) *wsConn {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &wsConn{
		conn:    conn,
		metrics: m,
		sendCh:  make(chan []byte, queueSize),
		quit:    make(chan struct{}),
	}
}

// Send enqueues one outbound frame. A full queue drops the frame; a slow
// reader degrades alone instead of stalling the relay.
func (c *wsConn) Send(payload []byte) {
	select {
	case <-c.quit:
	case c.sendCh <- payload:
	default:
		c.metrics.Inc(metrics.SendFailed)
	}
}

func (c *wsConn) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.quit:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case frame := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.metrics.Inc(metrics.SendFailed)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
}

func (c *wsConn) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	c.close()
}