package relay

import (
	"context"
	"errors"
	"fmt"

	"paintwithchat/internal/core/domain"
	"paintwithchat/pkg/utils"
)

type joinRequest struct {
	role        domain.ConnectionRole
	session     *domain.Session
	user        domain.User
	participant *domain.Participant
}

// JoinAsStreamer attaches the session owner as an observer. The streamer is
// not added to the session's active users.
func (h *Hub) JoinAsStreamer(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID, credential string) error {
	if err := h.prepareJoin(ctx, connID); err != nil {
		return err
	}
	identity, err := h.verifier.Verify(credential)
	if err != nil {
		return err
	}
	session, err := h.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.StreamerID != identity.UserID {
		return fmt.Errorf("%w: not session owner", domain.ErrNotAuthorized)
	}
	user, err := h.profile(ctx, *identity)
	if err != nil {
		return err
	}
	return h.attach(ctx, connID, joinRequest{
		role:    domain.RoleStreamer,
		session: session,
		user:    user,
	})
}

// JoinAsViewer attaches an anonymous connection.
func (h *Hub) JoinAsViewer(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID) error {
	if err := h.prepareJoin(ctx, connID); err != nil {
		return err
	}
	session, err := h.activeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return h.attach(ctx, connID, joinRequest{
		role:    domain.RoleViewer,
		session: session,
	})
}

// JoinAsParticipant upserts the caller into the session's active users,
// replacing an earlier connection of the same identity, and attaches it.
func (h *Hub) JoinAsParticipant(ctx context.Context, connID domain.ConnectionID, sessionID domain.SessionID, credential string) error {
	if err := h.prepareJoin(ctx, connID); err != nil {
		return err
	}
	identity, err := h.verifier.Verify(credential)
	if err != nil {
		return err
	}
	if _, err := h.activeSession(ctx, sessionID); err != nil {
		return err
	}
	user, err := h.profile(ctx, *identity)
	if err != nil {
		return err
	}

	participant := domain.Participant{
		UserID:       user.ID,
		Username:     user.Username,
		DisplayName:  user.DisplayName,
		Avatar:       user.Avatar,
		ConnectionID: connID,
		JoinedAt:     h.now(),
	}
	sctx, cancel := h.storageContext(ctx)
	session, err := h.sessions.AddParticipant(sctx, sessionID, participant)
	cancel()
	if err != nil {
		return storageFailure(err)
	}

	return h.attach(ctx, connID, joinRequest{
		role:        domain.RoleParticipant,
		session:     session,
		user:        user,
		participant: &participant,
	})
}

// prepareJoin checks the connection is known and leaves any room it is in.
func (h *Hub) prepareJoin(ctx context.Context, connID domain.ConnectionID) error {
	h.mu.Lock()
	c, ok := h.registry.Lookup(connID)
	closed := h.closed
	joined := ok && c.Joined()
	h.mu.Unlock()

	switch {
	case closed:
		return ErrHubClosed
	case !ok:
		return domain.ErrNotJoined
	case joined:
		h.Leave(ctx, connID)
	}
	return nil
}

func (h *Hub) activeSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	sctx, cancel := h.storageContext(ctx)
	defer cancel()

	session, err := h.sessions.Get(sctx, id)
	if err != nil {
		return nil, storageFailure(err)
	}
	if !session.Active {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// profile resolves display details, falling back to the credential's
// username when the directory has no record.
func (h *Hub) profile(ctx context.Context, identity domain.Identity) (domain.User, error) {
	user := domain.User{ID: identity.UserID, Username: identity.Username}
	if h.users != nil {
		sctx, cancel := h.storageContext(ctx)
		stored, err := h.users.GetByID(sctx, identity.UserID)
		cancel()
		switch {
		case err == nil:
			user = *stored
		case errors.Is(err, domain.ErrUserNotFound):
		default:
			return domain.User{}, storageFailure(err)
		}
	}
	if user.Username == "" {
		user.Username = identity.Username
	}
	user.DisplayName = utils.DisplayName(user.DisplayName, user.Username, maxDisplayName)
	return user, nil
}

// attach loads the session's strokes, then binds the connection to the room
// and announces it. The connection or session may have gone away during
// the I/O, so both are checked again under the lock.
func (h *Hub) attach(ctx context.Context, connID domain.ConnectionID, req joinRequest) error {
	sessionID := req.session.ID

	lctx, cancel := h.storageContext(ctx)
	h.cache.LoadOrInit(lctx, sessionID)
	cancel()

	h.mu.Lock()
	c, ok := h.registry.Lookup(connID)
	_, ended := h.ended.Get(sessionID)
	if !ok || ended || h.closed || c.Joined() {
		closed := h.closed
		h.mu.Unlock()
		h.abortJoin(ctx, sessionID, connID, req.participant != nil)
		switch {
		case !ok:
			return nil
		case closed:
			return ErrHubClosed
		default:
			return domain.ErrSessionNotFound
		}
	}

	c.UserID = req.user.ID
	c.Username = req.user.Username
	c.DisplayName = req.user.DisplayName
	c.Avatar = req.user.Avatar
	if created, _ := h.registry.Attach(connID, req.role, req.session); created {
		h.metrics.RoomOpened()
	}
	current, _ := h.registry.Session(sessionID)

	h.sendLocked(c, EventDrawingLoad, drawingLoadPayload{Strokes: nonNil(h.cache.Snapshot(sessionID))})
	if req.participant != nil {
		h.broadcastLocked(sessionID, EventParticipantJoined, participantJoinedPayload{Participant: *req.participant})
	}
	h.broadcastLocked(sessionID, EventSessionUpdated, sessionUpdatedPayload{Session: current.Snapshot()})
	h.mu.Unlock()

	h.logger.Infow("connection joined session",
		"conn_id", connID,
		"session_id", sessionID,
		"role", req.role,
		"user_id", req.user.ID,
	)
	return nil
}

func (h *Hub) abortJoin(ctx context.Context, sessionID domain.SessionID, connID domain.ConnectionID, participant bool) {
	if participant {
		h.removeParticipant(ctx, sessionID, connID)
	}
	h.cache.Release(ctx, sessionID)
	h.logger.Debugw("join aborted", "conn_id", connID, "session_id", sessionID)
}

// Leave detaches the connection from its room. Participants are removed
// from the session's active users; when the removed identity was drawing,
// the drawer is cleared in the same update. Idempotent.
func (h *Hub) Leave(ctx context.Context, connID domain.ConnectionID) {
	h.mu.Lock()
	c, ok := h.registry.Lookup(connID)
	if !ok || !c.Joined() {
		h.mu.Unlock()
		return
	}
	role, userID := c.Role, c.UserID
	h.buffer.Drop(connID)
	sessionID, remaining, _ := h.registry.Detach(connID)
	c.UserID, c.Username, c.DisplayName, c.Avatar = "", "", "", ""
	if remaining == 0 {
		h.metrics.RoomClosed()
	} else if role != domain.RoleParticipant {
		if current, ok := h.registry.Session(sessionID); ok {
			h.broadcastLocked(sessionID, EventSessionUpdated, sessionUpdatedPayload{Session: current.Snapshot()})
		}
	}
	h.mu.Unlock()

	if role == domain.RoleParticipant {
		h.removeParticipant(ctx, sessionID, connID)
	}

	rctx, cancel := h.storageContext(ctx)
	h.cache.Release(rctx, sessionID)
	cancel()

	h.logger.Infow("connection left session",
		"conn_id", connID,
		"session_id", sessionID,
		"role", role,
		"user_id", userID,
		"remaining", remaining,
	)
}

func (h *Hub) removeParticipant(ctx context.Context, sessionID domain.SessionID, connID domain.ConnectionID) {
	sctx, cancel := h.storageContext(ctx)
	session, removed, err := h.sessions.RemoveConnection(sctx, sessionID, connID)
	cancel()
	if err != nil {
		h.logger.Warnw("failed to remove participant",
			"conn_id", connID,
			"session_id", sessionID,
			"error", err,
		)
		return
	}
	if len(removed) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.registry.UpdateSession(session)
	current, ok := h.registry.Session(sessionID)
	if !ok {
		return
	}
	for _, p := range removed {
		h.broadcastLocked(sessionID, EventParticipantLeft, participantLeftPayload{UserID: p.UserID})
	}
	h.broadcastLocked(sessionID, EventSessionUpdated, sessionUpdatedPayload{Session: current.Snapshot()})
}

func nonNil(strokes []domain.FinalizedStroke) []domain.FinalizedStroke {
	if strokes == nil {
		return []domain.FinalizedStroke{}
	}
	return strokes
}
