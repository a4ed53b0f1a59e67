package relay

import (
	"context"
	"fmt"

	"paintwithchat/internal/core/domain"
)

// drawingTargetLocked resolves the connection and its room's session for a
// canvas mutation.
func (h *Hub) drawingTargetLocked(connID domain.ConnectionID) (*Connection, *domain.Session, error) {
	c, ok := h.registry.Lookup(connID)
	if !ok || !c.Joined() {
		return nil, nil, domain.ErrNotJoined
	}
	session, ok := h.registry.Session(c.SessionID)
	if !ok || !session.Active {
		return nil, nil, domain.ErrSessionNotFound
	}
	return c, session, nil
}

func (h *Hub) authorizeLocked(c *Connection, session *domain.Session) error {
	if !h.policy.CanDraw(session, c.UserID) {
		return fmt.Errorf("%w: not the current drawer", domain.ErrNotAuthorized)
	}
	return nil
}

// StartStroke begins a stroke for the connection and relays it to the room.
// A rejected start produces no broadcast.
func (h *Hub) StartStroke(connID domain.ConnectionID, point domain.Point, color string, size float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, session, err := h.drawingTargetLocked(connID)
	if err != nil {
		return err
	}
	if err := h.authorizeLocked(c, session); err != nil {
		return err
	}

	h.buffer.Begin(connID, point, color, size, c.AuthorID())
	h.broadcastLocked(c.SessionID, EventStrokeStart, strokeStartPayload{
		AuthorID: c.AuthorID(),
		Point:    point,
		Color:    color,
		Size:     size,
	})
	return nil
}

// ExtendStroke appends a point to the connection's stroke. Points without a
// stroke in progress are dropped silently, as is the stroke itself once the
// connection may no longer draw.
func (h *Hub) ExtendStroke(connID domain.ConnectionID, point domain.Point) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.strokeOwnerLocked(connID, EventDrawingMove)
	if !ok {
		return
	}
	h.buffer.Extend(connID, point)
	h.broadcastLocked(c.SessionID, EventStrokeMove, strokeMovePayload{
		AuthorID: c.AuthorID(),
		Point:    point,
	})
}

// FinishStroke finalizes the connection's stroke, appends it to the session
// cache and relays it. Without a stroke in progress it does nothing.
func (h *Hub) FinishStroke(connID domain.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.strokeOwnerLocked(connID, EventDrawingEnd)
	if !ok {
		return
	}
	stroke, _ := h.buffer.Finish(connID)
	h.cache.Append(c.SessionID, stroke)
	h.metrics.StrokeCompleted(h.policy.Mode())
	h.broadcastLocked(c.SessionID, EventStrokeEnd, strokeEndPayload{
		AuthorID: stroke.AuthorID,
		Stroke:   stroke,
	})
}

func (h *Hub) strokeOwnerLocked(connID domain.ConnectionID, event string) (*Connection, bool) {
	if !h.buffer.InProgress(connID) {
		return nil, false
	}
	c, session, err := h.drawingTargetLocked(connID)
	if err == nil {
		err = h.authorizeLocked(c, session)
	}
	if err != nil {
		h.buffer.Drop(connID)
		h.metrics.ActionRejected(event, ErrorMessage(err))
		return nil, false
	}
	return c, true
}

// ClearCanvas empties the session's strokes, tells the room and then
// deletes the durable record. A failed delete is logged only.
func (h *Hub) ClearCanvas(ctx context.Context, connID domain.ConnectionID) error {
	h.mu.Lock()
	c, session, err := h.drawingTargetLocked(connID)
	if err == nil {
		err = h.authorizeLocked(c, session)
	}
	if err != nil {
		h.mu.Unlock()
		return err
	}
	sessionID := c.SessionID
	h.cache.clearMemory(sessionID)
	h.broadcastLocked(sessionID, EventCanvasCleared, nil)
	h.mu.Unlock()

	sctx, cancel := h.storageContext(ctx)
	defer cancel()
	_ = h.cache.deletePersisted(sctx, sessionID)

	h.logger.Infow("canvas cleared", "session_id", sessionID, "conn_id", connID)
	return nil
}

// Undo removes the session's most recent stroke, tells the room and writes
// the shortened list to the store at once. With no strokes it does nothing.
func (h *Hub) Undo(ctx context.Context, connID domain.ConnectionID) error {
	h.mu.Lock()
	c, session, err := h.drawingTargetLocked(connID)
	if err == nil {
		err = h.authorizeLocked(c, session)
	}
	if err != nil {
		h.mu.Unlock()
		return err
	}
	sessionID := c.SessionID
	stroke, ok := h.cache.takeLast(sessionID)
	if ok {
		h.broadcastLocked(sessionID, EventDrawingUndone, drawingUndonePayload{StrokeID: stroke.ID})
	}
	h.mu.Unlock()

	if !ok {
		return nil
	}
	sctx, cancel := h.storageContext(ctx)
	defer cancel()
	_ = h.cache.Flush(sctx, sessionID)

	h.logger.Infow("stroke undone",
		"session_id", sessionID,
		"conn_id", connID,
		"stroke_id", stroke.ID,
	)
	return nil
}
