package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"
	"paintwithchat/pkg/cache"
	"paintwithchat/pkg/utils"
	"paintwithchat/pkg/validation"

	"go.uber.org/zap"
)

const (
	maxDisplayName = 64
	// endedTTL outlives any join that was in flight when its session ended.
	endedTTL = time.Minute
)

type Config struct {
	Mode           DrawMode
	FlushDebounce  time.Duration
	FlushTimeout   time.Duration
	StorageTimeout time.Duration
}

type Dependencies struct {
	Sessions ports.SessionService
	Verifier ports.CredentialVerifier
	Drawings ports.DrawingRepository
	// Users is optional; without it display names come from credentials.
	Users   ports.UserRepository
	Metrics Metrics
}

type Stats struct {
	Connections    int      `json:"connections"`
	Rooms          int      `json:"rooms"`
	CachedSessions int      `json:"cachedSessions"`
	Mode           DrawMode `json:"mode"`
}

// Hub owns all per-process relay state. mu guards the registry and the
// stroke buffer; no I/O happens while it is held, and state read before
// I/O is checked again afterwards.
type Hub struct {
	mu       sync.Mutex
	registry *Registry
	buffer   *StrokeBuffer
	fanout   *Broadcaster
	closed   bool

	cache  *StrokeCache
	ended  *cache.Cache[domain.SessionID, struct{}]
	policy DrawPolicy

	sessions ports.SessionService
	verifier ports.CredentialVerifier
	users    ports.UserRepository
	metrics  Metrics
	logger   *zap.SugaredLogger

	storageTimeout time.Duration
	now            func() time.Time
}

func NewHub(cfg Config, deps Dependencies, logger *zap.SugaredLogger) (*Hub, error) {
	policy, err := PolicyForMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if deps.Sessions == nil || deps.Verifier == nil || deps.Drawings == nil {
		return nil, errors.New("relay hub requires sessions, verifier and drawings")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NoopMetrics()
	}

	registry := NewRegistry()
	return &Hub{
		registry: registry,
		buffer:   NewStrokeBuffer(),
		fanout:   NewBroadcaster(registry),
		cache: NewStrokeCache(deps.Drawings, StrokeCacheConfig{
			Debounce:     cfg.FlushDebounce,
			FlushTimeout: cfg.FlushTimeout,
		}, metrics, logger),
		ended:          cache.New[domain.SessionID, struct{}](endedTTL),
		policy:         policy,
		sessions:       deps.Sessions,
		verifier:       deps.Verifier,
		users:          deps.Users,
		metrics:        metrics,
		logger:         logger,
		storageTimeout: cfg.StorageTimeout,
		now:            time.Now,
	}, nil
}

func (h *Hub) Mode() DrawMode { return h.policy.Mode() }

// Connect registers a new transport connection and returns its id.
func (h *Hub) Connect(sender Sender) (domain.ConnectionID, error) {
	id := domain.ConnectionID(utils.GenerateConnectionID())

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", ErrHubClosed
	}
	h.registry.Register(&Connection{ID: id, Sender: sender})
	h.metrics.ConnectionOpened()
	h.logger.Debugw("connection registered", "conn_id", id)
	return id, nil
}

// Disconnect leaves the connection's room and forgets it. Safe to call for
// unknown connections.
func (h *Hub) Disconnect(ctx context.Context, connID domain.ConnectionID) {
	h.Leave(ctx, connID)

	h.mu.Lock()
	_, ok := h.registry.Unregister(connID)
	h.buffer.Drop(connID)
	h.mu.Unlock()

	if ok {
		h.metrics.ConnectionClosed()
		h.logger.Debugw("connection unregistered", "conn_id", connID)
	}
}

// HandleMessage dispatches one inbound event. Failures are reported to the
// originating connection as an error event and returned for logging.
func (h *Hub) HandleMessage(ctx context.Context, connID domain.ConnectionID, msg Message) error {
	err := h.dispatch(ctx, connID, msg)
	if err != nil {
		event := msg.Type
		if errors.Is(err, ErrUnknownEvent) {
			// client-chosen types would make metric labels unbounded
			event = "unknown"
		}
		h.metrics.ActionRejected(event, ErrorMessage(err))
		h.SendError(connID, err)
	}
	return err
}

func (h *Hub) dispatch(ctx context.Context, connID domain.ConnectionID, msg Message) error {
	switch msg.Type {
	case EventStreamerJoin, EventParticipantJoin, EventUserJoin:
		var p joinPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		if err := validation.ValidateSessionID(string(p.SessionID)); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if msg.Type == EventStreamerJoin {
			return h.JoinAsStreamer(ctx, connID, p.SessionID, p.credential())
		}
		return h.JoinAsParticipant(ctx, connID, p.SessionID, p.credential())

	case EventViewerJoin:
		var p joinPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		if err := validation.ValidateSessionID(string(p.SessionID)); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return h.JoinAsViewer(ctx, connID, p.SessionID)

	case EventLeave, EventUserLeave:
		h.Leave(ctx, connID)
		return nil

	case EventDrawingStart:
		var p startPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		if p.Point == nil {
			return fmt.Errorf("%w: missing point", ErrBadPayload)
		}
		if err := validation.ValidateBrush(p.Color, p.Size); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return h.StartStroke(connID, *p.Point, p.Color, p.Size)

	case EventDrawingMove:
		var p movePayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		if p.Point == nil {
			return fmt.Errorf("%w: missing point", ErrBadPayload)
		}
		h.ExtendStroke(connID, *p.Point)
		return nil

	case EventDrawingEnd:
		h.FinishStroke(connID)
		return nil

	case EventCanvasClear:
		return h.ClearCanvas(ctx, connID)

	case EventDrawingUndo:
		return h.Undo(ctx, connID)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, msg.Type)
	}
}

// SendError delivers a private error event to one connection.
func (h *Hub) SendError(connID domain.ConnectionID, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.registry.Lookup(connID)
	if !ok {
		return
	}
	if !h.fanout.ToConnection(c, ErrorFrame(err)) {
		h.kickLocked(c)
	}
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	conns, rooms := h.registry.ConnectionCount(), h.registry.RoomCount()
	h.mu.Unlock()
	return Stats{
		Connections:    conns,
		Rooms:          rooms,
		CachedSessions: h.cache.Len(),
		Mode:           h.policy.Mode(),
	}
}

// Close disconnects every client, stops all flush timers and writes every
// pending stroke list.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	conns := h.registry.Connections()
	h.mu.Unlock()

	for _, c := range conns {
		c.Sender.Close()
	}
	err := h.cache.Close(ctx)
	h.ended.Stop()
	if err != nil {
		return fmt.Errorf("failed to flush strokes on shutdown: %w", err)
	}
	h.logger.Infow("relay hub closed", "connections", len(conns))
	return nil
}

func (h *Hub) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.storageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.storageTimeout)
}

func (h *Hub) broadcastLocked(sessionID domain.SessionID, eventType string, payload any) {
	frame, err := Encode(eventType, payload)
	if err != nil {
		h.logger.Errorw("failed to encode event", "event", eventType, "error", err)
		return
	}
	_, dropped := h.fanout.ToRoom(sessionID, frame)
	for _, c := range dropped {
		h.kickLocked(c)
	}
}

func (h *Hub) sendLocked(c *Connection, eventType string, payload any) {
	frame, err := Encode(eventType, payload)
	if err != nil {
		h.logger.Errorw("failed to encode event", "event", eventType, "error", err)
		return
	}
	if !h.fanout.ToConnection(c, frame) {
		h.kickLocked(c)
	}
}

// kickLocked closes a connection that cannot keep up. The transport then
// reports the disconnect.
func (h *Hub) kickLocked(c *Connection) {
	h.metrics.FrameDropped()
	h.logger.Warnw("closing slow connection",
		"conn_id", c.ID,
		"session_id", c.SessionID,
	)
	c.Sender.Close()
}

func storageFailure(err error) error {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrStorageFailure):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
}
