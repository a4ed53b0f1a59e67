package ports

import (
	"context"

	"paintwithchat/internal/core/domain"
)

type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	FindActiveByStreamer(ctx context.Context, streamerID domain.UserID) (*domain.Session, error)
}

// DrawingRepository is the durable record of a session's finalized strokes.
// Find returns (nil, nil) when nothing has been stored for the session.
type DrawingRepository interface {
	Find(ctx context.Context, sessionID domain.SessionID) ([]domain.FinalizedStroke, error)
	Upsert(ctx context.Context, sessionID domain.SessionID, strokes []domain.FinalizedStroke) error
	DeleteAll(ctx context.Context, sessionID domain.SessionID) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	Upsert(ctx context.Context, user *domain.User) error
}
