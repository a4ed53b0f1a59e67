package relay

import (
	"context"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"
)

var _ ports.SessionObserver = (*Hub)(nil)

// SessionUpdated relays a controller-side change of the session record.
func (h *Hub) SessionUpdated(session *domain.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registry.UpdateSession(session) {
		return
	}
	current, _ := h.registry.Session(session.ID)
	h.broadcastLocked(session.ID, EventSessionUpdated, sessionUpdatedPayload{Session: current.Snapshot()})
}

func (h *Hub) DrawerChanged(session *domain.Session, drawer domain.Participant) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registry.UpdateSession(session)
	if _, ok := h.registry.Session(session.ID); !ok {
		return
	}
	h.broadcastLocked(session.ID, EventDrawerChanged, drawerChangedPayload{
		DrawerID: drawer.UserID,
		Username: drawer.Username,
	})
}

// SessionEnded announces the end, detaches every member and drops the
// session's in-memory state after a final flush.
func (h *Hub) SessionEnded(session *domain.Session) {
	h.ended.Set(session.ID, struct{}{})

	h.mu.Lock()
	h.registry.UpdateSession(session)
	final := session.Snapshot()
	if current, ok := h.registry.Session(session.ID); ok {
		final = current.Snapshot()
	}
	h.broadcastLocked(session.ID, EventSessionUpdated, sessionUpdatedPayload{Session: final})
	members := h.registry.CloseRoom(session.ID)
	for _, c := range members {
		h.buffer.Drop(c.ID)
		c.UserID, c.Username, c.DisplayName, c.Avatar = "", "", "", ""
	}
	if len(members) > 0 {
		h.metrics.RoomClosed()
	}
	h.mu.Unlock()

	ctx, cancel := h.storageContext(context.Background())
	defer cancel()
	_ = h.cache.Evict(ctx, session.ID)

	h.logger.Infow("session torn down",
		"session_id", session.ID,
		"members", len(members),
	)
}
