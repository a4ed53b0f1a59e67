package domain

import (
	"time"
)

type SessionID string
type ConnectionID string

// Participant is an authenticated user counted in a session's active users.
type Participant struct {
	UserID       UserID       `json:"userId"`
	Username     string       `json:"username"`
	DisplayName  string       `json:"displayName"`
	Avatar       string       `json:"avatar"`
	ConnectionID ConnectionID `json:"socketId"`
	JoinedAt     time.Time    `json:"joinedAt"`
}

type Session struct {
	ID              SessionID     `json:"id"`
	StreamerID      UserID        `json:"streamerId"`
	StreamerName    string        `json:"streamerName"`
	Active          bool          `json:"active"`
	CurrentDrawerID UserID        `json:"currentDrawerId,omitempty"`
	ActiveUsers     []Participant `json:"activeUsers"`
	CreatedAt       time.Time     `json:"createdAt"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`

	// Revision increases on every save so holders of a snapshot can tell
	// which of two copies is newer.
	Revision uint64 `json:"revision"`
}

// SessionUpdate is the room-wide membership snapshot broadcast on every
// membership or drawer change.
type SessionUpdate struct {
	ID              SessionID     `json:"id"`
	CurrentDrawerID *UserID       `json:"currentDrawerId"`
	ActiveUsers     []Participant `json:"activeUsers"`
	Active          bool          `json:"active"`
}

// UpsertParticipant adds p to the active users, replacing any existing entry
// for the same user. The replaced entry, if any, is returned.
func (s *Session) UpsertParticipant(p Participant) (Participant, bool) {
	var (
		replaced Participant
		found    bool
	)
	kept := s.ActiveUsers[:0:0]
	for _, u := range s.ActiveUsers {
		if u.UserID == p.UserID {
			replaced, found = u, true
			continue
		}
		kept = append(kept, u)
	}
	s.ActiveUsers = append(kept, p)
	return replaced, found
}

// RemoveConnection drops every participant bound to connID. When a removed
// participant was the current drawer, the drawer is cleared.
func (s *Session) RemoveConnection(connID ConnectionID) []Participant {
	var removed []Participant
	kept := s.ActiveUsers[:0:0]
	for _, u := range s.ActiveUsers {
		if u.ConnectionID == connID {
			removed = append(removed, u)
			continue
		}
		kept = append(kept, u)
	}
	s.ActiveUsers = kept

	for _, u := range removed {
		if s.CurrentDrawerID != "" && u.UserID == s.CurrentDrawerID {
			s.CurrentDrawerID = ""
		}
	}
	return removed
}

func (s *Session) Participant(userID UserID) (Participant, bool) {
	for _, u := range s.ActiveUsers {
		if u.UserID == userID {
			return u, true
		}
	}
	return Participant{}, false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ActiveUsers = append([]Participant(nil), s.ActiveUsers...)
	if s.EndedAt != nil {
		ended := *s.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

// NewerThan reports whether s was saved after other.
func (s *Session) NewerThan(other *Session) bool {
	return other == nil || s.Revision >= other.Revision
}

func (s *Session) Snapshot() SessionUpdate {
	update := SessionUpdate{
		ID:          s.ID,
		ActiveUsers: append([]Participant{}, s.ActiveUsers...),
		Active:      s.Active,
	}
	if s.CurrentDrawerID != "" {
		drawer := s.CurrentDrawerID
		update.CurrentDrawerID = &drawer
	}
	return update
}
