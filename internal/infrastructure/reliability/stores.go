package reliability

import (
	"context"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"
)

type drawingStore struct {
	repo  ports.DrawingRepository
	guard *Guard
}

// WrapDrawingRepository guards repo. Upsert replaces the whole record, so
// every drawing call is retried.
func WrapDrawingRepository(repo ports.DrawingRepository, guard *Guard) ports.DrawingRepository {
	return &drawingStore{repo: repo, guard: guard}
}

func (s *drawingStore) Find(ctx context.Context, sessionID domain.SessionID) ([]domain.FinalizedStroke, error) {
	return guarded(ctx, s.guard, call{store: "drawing", op: "find", sessionID: string(sessionID), idempotent: true},
		func(ctx context.Context) ([]domain.FinalizedStroke, error) {
			return s.repo.Find(ctx, sessionID)
		})
}

func (s *drawingStore) Upsert(ctx context.Context, sessionID domain.SessionID, strokes []domain.FinalizedStroke) error {
	return guardedExec(ctx, s.guard, call{store: "drawing", op: "upsert", sessionID: string(sessionID), idempotent: true},
		func(ctx context.Context) error {
			return s.repo.Upsert(ctx, sessionID, strokes)
		})
}

func (s *drawingStore) DeleteAll(ctx context.Context, sessionID domain.SessionID) error {
	return guardedExec(ctx, s.guard, call{store: "drawing", op: "delete", sessionID: string(sessionID), idempotent: true},
		func(ctx context.Context) error {
			return s.repo.DeleteAll(ctx, sessionID)
		})
}

type sessionStore struct {
	repo  ports.SessionRepository
	guard *Guard
}

// WrapSessionRepository guards repo. Create is not retried since a lost
// reply would turn into a spurious conflict.
func WrapSessionRepository(repo ports.SessionRepository, guard *Guard) ports.SessionRepository {
	return &sessionStore{repo: repo, guard: guard}
}

func (s *sessionStore) Create(ctx context.Context, session *domain.Session) error {
	return guardedExec(ctx, s.guard, call{store: "session", op: "create", sessionID: string(session.ID)},
		func(ctx context.Context) error {
			return s.repo.Create(ctx, session)
		})
}

func (s *sessionStore) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	return guarded(ctx, s.guard, call{store: "session", op: "get", sessionID: string(id), idempotent: true},
		func(ctx context.Context) (*domain.Session, error) {
			return s.repo.GetByID(ctx, id)
		})
}

func (s *sessionStore) Save(ctx context.Context, session *domain.Session) error {
	return guardedExec(ctx, s.guard, call{store: "session", op: "save", sessionID: string(session.ID), idempotent: true},
		func(ctx context.Context) error {
			return s.repo.Save(ctx, session)
		})
}

func (s *sessionStore) FindActiveByStreamer(ctx context.Context, streamerID domain.UserID) (*domain.Session, error) {
	return guarded(ctx, s.guard, call{store: "session", op: "find_active", idempotent: true},
		func(ctx context.Context) (*domain.Session, error) {
			return s.repo.FindActiveByStreamer(ctx, streamerID)
		})
}
