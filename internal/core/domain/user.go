package domain

import "time"

type UserID string

// AnonymousUser is the author recorded for strokes drawn by viewers that
// never presented a credential.
const AnonymousUser UserID = "anonymous"

type User struct {
	ID          UserID    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Identity is what a verified credential asserts about its bearer.
type Identity struct {
	UserID   UserID
	Username string
}

// ConnectionRole describes how a connection is attached to a room.
type ConnectionRole string

const (
	RoleStreamer    ConnectionRole = "streamer"
	RoleParticipant ConnectionRole = "participant"
	RoleViewer      ConnectionRole = "viewer"
)
