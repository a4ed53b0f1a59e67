package ports

import (
	"context"

	"paintwithchat/internal/core/domain"
)

// CredentialVerifier turns a bearer token into an identity. Failures are
// reported as domain.ErrInvalidCredential.
type CredentialVerifier interface {
	Verify(token string) (*domain.Identity, error)
}

// SessionService owns every read-modify-write of a session record.
type SessionService interface {
	Start(ctx context.Context, streamer domain.Identity) (*domain.Session, error)
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	Current(ctx context.Context, streamerID domain.UserID) (*domain.Session, error)
	SelectUser(ctx context.Context, streamerID, userID domain.UserID) (*domain.Session, error)
	NextUser(ctx context.Context, streamerID domain.UserID) (*domain.Session, error)
	End(ctx context.Context, streamerID domain.UserID) (*domain.Session, error)

	AddParticipant(ctx context.Context, id domain.SessionID, p domain.Participant) (*domain.Session, error)
	RemoveConnection(ctx context.Context, id domain.SessionID, connID domain.ConnectionID) (*domain.Session, []domain.Participant, error)
}

// SessionObserver is told about session mutations that did not originate
// from the realtime relay itself.
type SessionObserver interface {
	SessionUpdated(session *domain.Session)
	DrawerChanged(session *domain.Session, drawer domain.Participant)
	SessionEnded(session *domain.Session)
}

// Locker serializes work on a key. Lock blocks until the key is held or
// ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
