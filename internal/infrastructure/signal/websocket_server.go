package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/relay"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

// Relay is the part of the relay hub the transport talks to.
type Relay interface {
	Connect(sender relay.Sender) (domain.ConnectionID, error)
	Disconnect(ctx context.Context, connID domain.ConnectionID)
	HandleMessage(ctx context.Context, connID domain.ConnectionID, msg relay.Message) error
	SendError(connID domain.ConnectionID, err error)
	Stats() relay.Stats
}

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	// AllowedOrigins lists accepted Origin hosts. Empty or "*" accepts all.
	AllowedOrigins []string

	MessagesPerSecond float64
	Burst             int
}

func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendBuffer:        256,
		MaxMessageSize:    64 * 1024,
		MessagesPerSecond: 200,
		Burst:             400,
	}
}

type WebSocketServer struct {
	relay    Relay
	upgrader websocket.Upgrader
	cfg      Config
	logger   *zap.SugaredLogger

	wg sync.WaitGroup
}

func NewWebSocketServer(r Relay, cfg Config, logger *zap.SugaredLogger) *WebSocketServer {
	defaults := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = defaults.MessagesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}

	s := &WebSocketServer{
		relay:  r,
		cfg:    cfg,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, u.Host) || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// wsConn is the relay.Sender for one socket. Frames are queued and written
// by the connection's write pump.
type wsConn struct {
	conn      *websocket.Conn
	send      chan relay.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan relay.Frame, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) TrySend(frame relay.Frame) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errQueueFull
	}
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := newWSConn(conn, s.cfg.SendBuffer)
	connID, err := s.relay.Connect(c)
	if err != nil {
		s.logger.Warnw("rejecting websocket connection", "error", err)
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, relay.ErrorMessage(err)), deadline)
		conn.Close()
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	s.logger.Infow("client connected", "conn_id", connID, "remote_addr", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(connID, c)
	}()

	s.readPump(connID, c)

	c.Close()
	<-writerDone
	s.relay.Disconnect(context.Background(), connID)
	s.logger.Infow("client disconnected", "conn_id", connID)
}

func (s *WebSocketServer) readPump(connID domain.ConnectionID, c *wsConn) {
	conn := c.conn
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Infow("error reading message", "conn_id", connID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if msgType != websocket.TextMessage {
			s.relay.SendError(connID, relay.ErrBadPayload)
			continue
		}
		if !limiter.Allow() {
			s.relay.SendError(connID, relay.ErrRateLimited)
			continue
		}

		msg, err := relay.DecodeMessage(data)
		if err != nil {
			s.relay.SendError(connID, err)
			continue
		}
		if err := s.relay.HandleMessage(ctx, connID, msg); err != nil {
			s.logger.Debugw("message rejected",
				"conn_id", connID,
				"type", msg.Type,
				"error", err,
			)
		}
	}
}

// writePump is the only writer on the socket. It exits when the sender is
// closed or a write fails, and closes the socket so the reader stops too.
func (s *WebSocketServer) writePump(connID domain.ConnectionID, c *wsConn) {
	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		pingTicker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Infow("error writing message", "conn_id", connID, "error", err)
				return
			}

		case <-pingTicker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "conn_id", connID, "error", err)
				return
			}

		case <-c.done:
			s.drain(c)
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

// drain writes frames that were queued before the sender was closed, such
// as the final session update of an ended session.
func (s *WebSocketServer) drain(c *wsConn) {
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Wait blocks until every connection handler has returned or ctx is done.
func (s *WebSocketServer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	stats := s.relay.Stats()
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": stats.Connections,
		"rooms":       stats.Rooms,
		"mode":        stats.Mode,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
