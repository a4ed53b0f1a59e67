package relay

import (
	"paintwithchat/internal/core/domain"
)

// Sender delivers frames to one client. TrySend must not block; Close must
// be idempotent and must not call back into the hub.
type Sender interface {
	TrySend(Frame) error
	Close()
}

// Connection is the per-connection record the hub keeps instead of state
// attached to the transport.
type Connection struct {
	ID     domain.ConnectionID
	Sender Sender

	SessionID   domain.SessionID
	Role        domain.ConnectionRole
	UserID      domain.UserID
	Username    string
	DisplayName string
	Avatar      string
}

func (c *Connection) Joined() bool { return c.SessionID != "" }

// AuthorID is the identity recorded on strokes drawn by this connection.
func (c *Connection) AuthorID() domain.UserID {
	if c.UserID == "" {
		return domain.AnonymousUser
	}
	return c.UserID
}

type room struct {
	members map[domain.ConnectionID]*Connection
	session *domain.Session
}

// Registry tracks connections and the rooms they are attached to. It is not
// safe for concurrent use; the hub serializes access.
type Registry struct {
	conns map[domain.ConnectionID]*Connection
	rooms map[domain.SessionID]*room
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnectionID]*Connection),
		rooms: make(map[domain.SessionID]*room),
	}
}

func (r *Registry) Register(c *Connection) {
	r.conns[c.ID] = c
}

// Unregister forgets the connection. It must already be detached.
func (r *Registry) Unregister(id domain.ConnectionID) (*Connection, bool) {
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

func (r *Registry) Lookup(id domain.ConnectionID) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Attach puts a registered connection in the room of session. It reports
// whether the room was created by this call.
func (r *Registry) Attach(id domain.ConnectionID, role domain.ConnectionRole, session *domain.Session) (created bool, ok bool) {
	c, ok := r.conns[id]
	if !ok {
		return false, false
	}
	if c.Joined() {
		r.Detach(id)
	}

	rm, exists := r.rooms[session.ID]
	if !exists {
		rm = &room{members: make(map[domain.ConnectionID]*Connection)}
		r.rooms[session.ID] = rm
	}
	if session.NewerThan(rm.session) {
		rm.session = session.Clone()
	}
	rm.members[id] = c
	c.SessionID = session.ID
	c.Role = role
	return !exists, true
}

// Detach removes the connection from its room and returns the room's
// remaining member count. Empty rooms are dropped.
func (r *Registry) Detach(id domain.ConnectionID) (sessionID domain.SessionID, remaining int, ok bool) {
	c, found := r.conns[id]
	if !found || !c.Joined() {
		return "", 0, false
	}
	sessionID = c.SessionID
	c.SessionID = ""
	c.Role = ""

	rm, exists := r.rooms[sessionID]
	if !exists {
		return sessionID, 0, true
	}
	delete(rm.members, id)
	if len(rm.members) == 0 {
		delete(r.rooms, sessionID)
	}
	return sessionID, len(rm.members), true
}

// CloseRoom detaches every member of the room and drops it.
func (r *Registry) CloseRoom(sessionID domain.SessionID) []*Connection {
	rm, ok := r.rooms[sessionID]
	if !ok {
		return nil
	}
	members := make([]*Connection, 0, len(rm.members))
	for _, c := range rm.members {
		c.SessionID = ""
		c.Role = ""
		members = append(members, c)
	}
	delete(r.rooms, sessionID)
	return members
}

func (r *Registry) Members(sessionID domain.SessionID) []*Connection {
	rm, ok := r.rooms[sessionID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(rm.members))
	for _, c := range rm.members {
		out = append(out, c)
	}
	return out
}

// Session returns the room's latest known session record.
func (r *Registry) Session(sessionID domain.SessionID) (*domain.Session, bool) {
	rm, ok := r.rooms[sessionID]
	if !ok || rm.session == nil {
		return nil, false
	}
	return rm.session, true
}

// UpdateSession stores session as the room's record unless a newer
// revision is already held. It reports whether the room has a record equal
// to session afterwards.
func (r *Registry) UpdateSession(session *domain.Session) bool {
	rm, ok := r.rooms[session.ID]
	if !ok || !session.NewerThan(rm.session) {
		return false
	}
	rm.session = session.Clone()
	return true
}

func (r *Registry) ConnectionCount() int { return len(r.conns) }

func (r *Registry) RoomCount() int { return len(r.rooms) }

func (r *Registry) Connections() []*Connection {
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
