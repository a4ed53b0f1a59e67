package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"
	"paintwithchat/pkg/utils"

	"go.uber.org/zap"
)

type SessionService struct {
	repo   ports.SessionRepository
	logger *zap.SugaredLogger

	// Session records are read-modify-written; every mutation of one
	// session, and every start for one streamer, is serialized.
	sessionLocks  *keyedMutex
	streamerLocks *keyedMutex
	// remote, when set, also serializes against other processes.
	remote ports.Locker

	observerMu sync.RWMutex
	observer   ports.SessionObserver

	now  func() time.Time
	pick func(n int) int
}

// SessionServiceOption customizes a session service.
type SessionServiceOption func(*SessionService)

// WithRandomPicker replaces the uniform pick used by NextUser.
func WithRandomPicker(pick func(n int) int) SessionServiceOption {
	return func(s *SessionService) { s.pick = pick }
}

func WithClock(now func() time.Time) SessionServiceOption {
	return func(s *SessionService) { s.now = now }
}

// WithLocker adds a cross-process lock taken after the in-process one.
func WithLocker(l ports.Locker) SessionServiceOption {
	return func(s *SessionService) { s.remote = l }
}

func NewSessionService(repo ports.SessionRepository, logger *zap.SugaredLogger, opts ...SessionServiceOption) *SessionService {
	s := &SessionService{
		repo:          repo,
		logger:        logger,
		sessionLocks:  newKeyedMutex(),
		streamerLocks: newKeyedMutex(),
		now:           time.Now,
		pick:          rand.Intn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetObserver registers the party told about controller-driven mutations.
func (s *SessionService) SetObserver(o ports.SessionObserver) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observer = o
}

func (s *SessionService) currentObserver() ports.SessionObserver {
	s.observerMu.RLock()
	defer s.observerMu.RUnlock()
	return s.observer
}

func (s *SessionService) Start(ctx context.Context, streamer domain.Identity) (*domain.Session, error) {
	unlock, err := s.lock(ctx, s.streamerLocks, "streamer:"+string(streamer.UserID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.repo.FindActiveByStreamer(ctx, streamer.UserID)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrSessionAlreadyActive
	}

	session := &domain.Session{
		ID:           domain.SessionID(utils.GenerateID("session")),
		StreamerID:   streamer.UserID,
		StreamerName: streamer.Username,
		Active:       true,
		ActiveUsers:  []domain.Participant{},
		CreatedAt:    s.now(),
		Revision:     1,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Infow("session started",
		"session_id", session.ID,
		"streamer_id", session.StreamerID,
	)
	return session, nil
}

func (s *SessionService) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	return s.repo.GetByID(ctx, id)
}

// Current returns the streamer's active session, or (nil, nil) if none.
func (s *SessionService) Current(ctx context.Context, streamerID domain.UserID) (*domain.Session, error) {
	session, err := s.repo.FindActiveByStreamer(ctx, streamerID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	return session, err
}

func (s *SessionService) SelectUser(ctx context.Context, streamerID, userID domain.UserID) (*domain.Session, error) {
	var drawer domain.Participant
	session, err := s.mutateActiveOf(ctx, streamerID, func(session *domain.Session) error {
		p, ok := session.Participant(userID)
		if !ok {
			return domain.ErrUserNotInSession
		}
		drawer = p
		session.CurrentDrawerID = userID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyDrawer(session, drawer)
	return session, nil
}

func (s *SessionService) NextUser(ctx context.Context, streamerID domain.UserID) (*domain.Session, error) {
	var drawer domain.Participant
	session, err := s.mutateActiveOf(ctx, streamerID, func(session *domain.Session) error {
		if len(session.ActiveUsers) == 0 {
			return domain.ErrNoUsersInSession
		}
		drawer = session.ActiveUsers[s.pick(len(session.ActiveUsers))]
		session.CurrentDrawerID = drawer.UserID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyDrawer(session, drawer)
	return session, nil
}

func (s *SessionService) End(ctx context.Context, streamerID domain.UserID) (*domain.Session, error) {
	session, err := s.mutateActiveOf(ctx, streamerID, func(session *domain.Session) error {
		ended := s.now()
		session.Active = false
		session.EndedAt = &ended
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("session ended", "session_id", session.ID, "streamer_id", streamerID)
	if o := s.currentObserver(); o != nil {
		o.SessionEnded(session.Clone())
	}
	return session, nil
}

func (s *SessionService) AddParticipant(ctx context.Context, id domain.SessionID, p domain.Participant) (*domain.Session, error) {
	return s.mutate(ctx, id, func(session *domain.Session) error {
		if replaced, found := session.UpsertParticipant(p); found {
			s.logger.Debugw("participant replaced",
				"session_id", id,
				"user_id", p.UserID,
				"old_conn_id", replaced.ConnectionID,
				"conn_id", p.ConnectionID,
			)
		}
		return nil
	})
}

// RemoveConnection drops the participants bound to connID. It works on
// ended sessions too so leaving never fails because the session ended.
func (s *SessionService) RemoveConnection(ctx context.Context, id domain.SessionID, connID domain.ConnectionID) (*domain.Session, []domain.Participant, error) {
	unlock, err := s.lock(ctx, s.sessionLocks, "session:"+string(id))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	removed := session.RemoveConnection(connID)
	if len(removed) == 0 {
		return session, nil, nil
	}
	session.Revision++
	if err := s.repo.Save(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, removed, nil
}

// mutate applies fn to an active session under its lock and saves it.
func (s *SessionService) mutate(ctx context.Context, id domain.SessionID, fn func(*domain.Session) error) (*domain.Session, error) {
	unlock, err := s.lock(ctx, s.sessionLocks, "session:"+string(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, domain.ErrSessionNotFound
	}
	if err := fn(session); err != nil {
		return nil, err
	}
	session.Revision++
	if err := s.repo.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func (s *SessionService) lock(ctx context.Context, local *keyedMutex, key string) (func(), error) {
	unlockLocal := local.Lock(key)
	if s.remote == nil {
		return unlockLocal, nil
	}
	unlockRemote, err := s.remote.Lock(ctx, key)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	return func() {
		unlockRemote()
		unlockLocal()
	}, nil
}

func (s *SessionService) mutateActiveOf(ctx context.Context, streamerID domain.UserID, fn func(*domain.Session) error) (*domain.Session, error) {
	current, err := s.repo.FindActiveByStreamer(ctx, streamerID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, current.ID, fn)
}

func (s *SessionService) notifyDrawer(session *domain.Session, drawer domain.Participant) {
	s.logger.Infow("drawer selected",
		"session_id", session.ID,
		"user_id", drawer.UserID,
	)
	if o := s.currentObserver(); o != nil {
		o.SessionUpdated(session.Clone())
		o.DrawerChanged(session.Clone(), drawer)
	}
}
