package relay

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/services"
	"paintwithchat/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type fakeSender struct {
	mu     sync.Mutex
	frames []Frame
	full   bool
	closed bool
}

func (s *fakeSender) TrySend(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full || s.closed {
		return errors.New("send queue full")
	}
	s.frames = append(s.frames, slices.Clone(f))
	return nil
}

func (s *fakeSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSender) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSender) events(t *testing.T) []event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event, 0, len(s.frames))
	for _, f := range s.frames {
		var e event
		require.NoError(t, json.Unmarshal(f, &e))
		out = append(out, e)
	}
	return out
}

func (s *fakeSender) ofType(t *testing.T, eventType string) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	for _, e := range s.events(t) {
		if e.Type == eventType {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (s *fakeSender) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, e := range s.events(t) {
		out = append(out, e.Type)
	}
	return out
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// recordingDrawings is a DrawingRepository that records every write.
type recordingDrawings struct {
	mu        sync.Mutex
	stored    map[domain.SessionID][]domain.FinalizedStroke
	upserts   [][]domain.FinalizedStroke
	deletes   int
	finds     int
	upsertErr error
	findErr   error
}

func newRecordingDrawings() *recordingDrawings {
	return &recordingDrawings{stored: make(map[domain.SessionID][]domain.FinalizedStroke)}
}

func (r *recordingDrawings) Find(_ context.Context, id domain.SessionID) ([]domain.FinalizedStroke, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	if r.findErr != nil {
		return nil, r.findErr
	}
	return slices.Clone(r.stored[id]), nil
}

func (r *recordingDrawings) Upsert(_ context.Context, id domain.SessionID, strokes []domain.FinalizedStroke) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserts = append(r.upserts, slices.Clone(strokes))
	r.stored[id] = slices.Clone(strokes)
	return nil
}

func (r *recordingDrawings) DeleteAll(_ context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	delete(r.stored, id)
	return nil
}

func (r *recordingDrawings) upsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.upserts)
}

func (r *recordingDrawings) lastUpsert() []domain.FinalizedStroke {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.upserts) == 0 {
		return nil
	}
	return r.upserts[len(r.upserts)-1]
}

func (r *recordingDrawings) storedFor(id domain.SessionID) []domain.FinalizedStroke {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.stored[id])
}

func (r *recordingDrawings) setUpsertErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertErr = err
}

func (r *recordingDrawings) setFindErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findErr = err
}

type harness struct {
	hub      *Hub
	sessions *services.SessionService
	auth     services.AuthService
	drawings *recordingDrawings
	session  *domain.Session
}

func newHarness(t *testing.T, mode DrawMode, debounce time.Duration) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	sessions := services.NewSessionService(memory.NewMemorySessionRepository(), logger)
	auth := services.NewAuthService("test-secret", time.Hour)
	drawings := newRecordingDrawings()

	hub, err := NewHub(Config{
		Mode:           mode,
		FlushDebounce:  debounce,
		FlushTimeout:   time.Second,
		StorageTimeout: time.Second,
	}, Dependencies{
		Sessions: sessions,
		Verifier: auth,
		Drawings: drawings,
		Users:    memory.NewMemoryUserRepository(),
	}, logger)
	require.NoError(t, err)
	sessions.SetObserver(hub)

	session, err := sessions.Start(ctx, domain.Identity{UserID: "streamer", Username: "streamer"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = hub.Close(context.Background()) })
	return &harness{hub: hub, sessions: sessions, auth: auth, drawings: drawings, session: session}
}

func (h *harness) token(t *testing.T, userID domain.UserID) string {
	t.Helper()
	token, err := h.auth.GenerateToken(userID, string(userID))
	require.NoError(t, err)
	return token
}

func (h *harness) connect(t *testing.T) (domain.ConnectionID, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	id, err := h.hub.Connect(sender)
	require.NoError(t, err)
	return id, sender
}

func (h *harness) send(t *testing.T, connID domain.ConnectionID, eventType string, payload any) error {
	t.Helper()
	msg := Message{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Payload = raw
	}
	return h.hub.HandleMessage(context.Background(), connID, msg)
}

func (h *harness) joinParticipant(t *testing.T, userID domain.UserID) (domain.ConnectionID, *fakeSender) {
	t.Helper()
	connID, sender := h.connect(t)
	require.NoError(t, h.send(t, connID, EventParticipantJoin, map[string]any{
		"sessionId": h.session.ID,
		"token":     h.token(t, userID),
	}))
	return connID, sender
}

func (h *harness) joinViewer(t *testing.T) (domain.ConnectionID, *fakeSender) {
	t.Helper()
	connID, sender := h.connect(t)
	require.NoError(t, h.send(t, connID, EventViewerJoin, map[string]any{"sessionId": h.session.ID}))
	return connID, sender
}

func (h *harness) drawStroke(t *testing.T, connID domain.ConnectionID, points ...domain.Point) {
	t.Helper()
	require.NoError(t, h.send(t, connID, EventDrawingStart, map[string]any{
		"point": points[0],
		"color": "#000000",
		"size":  5,
	}))
	for _, p := range points[1:] {
		require.NoError(t, h.send(t, connID, EventDrawingMove, map[string]any{"point": p}))
	}
	require.NoError(t, h.send(t, connID, EventDrawingEnd, nil))
}

func (h *harness) storedSession(t *testing.T) *domain.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), h.session.ID)
	require.NoError(t, err)
	return s
}
