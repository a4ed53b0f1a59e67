package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/infrastructure/repositories/memory"
	"paintwithchat/pkg/circuitbreaker"
	"paintwithchat/pkg/config"
	"paintwithchat/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

var errRedisDown = errors.New("redis down")

type mockDrawingRepository struct {
	mock.Mock
}

func (m *mockDrawingRepository) Find(ctx context.Context, sessionID domain.SessionID) ([]domain.FinalizedStroke, error) {
	args := m.Called(ctx, sessionID)
	strokes, _ := args.Get(0).([]domain.FinalizedStroke)
	return strokes, args.Error(1)
}

func (m *mockDrawingRepository) Upsert(ctx context.Context, sessionID domain.SessionID, strokes []domain.FinalizedStroke) error {
	args := m.Called(ctx, sessionID, strokes)
	return args.Error(0)
}

func (m *mockDrawingRepository) DeleteAll(ctx context.Context, sessionID domain.SessionID) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func testOptions() Options {
	return Options{
		BreakerEnabled: true,
		Breaker: circuitbreaker.Config{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          time.Hour,
		},
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
			Permanent:    outcomes,
		},
	}
}

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestDrawingStore_RetriesTransientFailure(t *testing.T) {
	repo := new(mockDrawingRepository)
	strokes := []domain.FinalizedStroke{{ID: "s1"}}
	repo.On("Find", mock.Anything, domain.SessionID("session_1")).Return(nil, errRedisDown).Once()
	repo.On("Find", mock.Anything, domain.SessionID("session_1")).Return(strokes, nil).Once()

	store := WrapDrawingRepository(repo, NewGuard(testOptions(), zap.NewNop().Sugar()))
	got, err := store.Find(context.Background(), "session_1")

	require.NoError(t, err)
	assert.Equal(t, strokes, got)
	repo.AssertExpectations(t)
}

func TestDrawingStore_BreakerOpensAndFailsFast(t *testing.T) {
	repo := new(mockDrawingRepository)
	repo.On("Upsert", mock.Anything, domain.SessionID("session_1"), mock.Anything).Return(errRedisDown)

	var transitions []circuitbreaker.State
	opts := testOptions()
	opts.OnStateChange = func(_, to circuitbreaker.State) { transitions = append(transitions, to) }
	guard := NewGuard(opts, zap.NewNop().Sugar())
	store := WrapDrawingRepository(repo, guard)

	err := store.Upsert(context.Background(), "session_1", nil)
	require.ErrorIs(t, err, errRedisDown)
	assert.Equal(t, circuitbreaker.StateOpen, guard.State())
	// The third retry attempt was refused by the open breaker.
	repo.AssertNumberOfCalls(t, "Upsert", 2)

	err = store.Upsert(context.Background(), "session_1", nil)
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	repo.AssertNumberOfCalls(t, "Upsert", 2)
	assert.Equal(t, []circuitbreaker.State{circuitbreaker.StateOpen}, transitions)
}

func TestDrawingStore_BreakerDisabled(t *testing.T) {
	repo := new(mockDrawingRepository)
	repo.On("DeleteAll", mock.Anything, domain.SessionID("session_1")).Return(errRedisDown)

	opts := testOptions()
	opts.BreakerEnabled = false
	guard := NewGuard(opts, zap.NewNop().Sugar())

	err := WrapDrawingRepository(repo, guard).DeleteAll(context.Background(), "session_1")
	assert.ErrorIs(t, err, errRedisDown)
	assert.Equal(t, circuitbreaker.StateClosed, guard.State())
	repo.AssertNumberOfCalls(t, "DeleteAll", 3)
}

func TestSessionStore_OutcomesAreNotFailures(t *testing.T) {
	guard := NewGuard(testOptions(), zap.NewNop().Sugar())
	store := WrapSessionRepository(memory.NewMemorySessionRepository(), guard)

	for i := 0; i < 5; i++ {
		_, err := store.GetByID(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, guard.State())
	assert.Zero(t, guard.Stats().FailureCount)
}

func TestSessionStore_RoundTrip(t *testing.T) {
	store := WrapSessionRepository(memory.NewMemorySessionRepository(), NewGuard(testOptions(), zap.NewNop().Sugar()))
	session := &domain.Session{ID: "session_1", StreamerID: "streamer", Active: true, CreatedAt: time.Now()}

	require.NoError(t, store.Create(context.Background(), session))
	got, err := store.FindActiveByStreamer(context.Background(), "streamer")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	session.Active = false
	require.NoError(t, store.Save(context.Background(), session))
	_, err = store.FindActiveByStreamer(context.Background(), "streamer")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGuard_TracesCalls(t *testing.T) {
	recorder := installRecorder(t)
	repo := new(mockDrawingRepository)
	repo.On("Find", mock.Anything, domain.SessionID("session_1")).Return(nil, nil).Once()
	repo.On("DeleteAll", mock.Anything, domain.SessionID("session_1")).Return(errRedisDown)

	opts := testOptions()
	opts.Retry.MaxAttempts = 1
	opts.BreakerEnabled = false
	store := WrapDrawingRepository(repo, NewGuard(opts, zap.NewNop().Sugar()))

	_, err := store.Find(context.Background(), "session_1")
	require.NoError(t, err)
	require.Error(t, store.DeleteAll(context.Background(), "session_1"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "store.drawing.find", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "store.drawing.delete", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := OptionsFromConfig(cfg)

	assert.True(t, opts.BreakerEnabled)
	assert.Equal(t, cfg.Storage.CircuitBreaker.FailureThreshold, opts.Breaker.FailureThreshold)
	assert.Equal(t, cfg.Storage.Retry.MaxAttempts, opts.Retry.MaxAttempts)
	assert.False(t, opts.Breaker.IsFailure(domain.ErrSessionNotFound))
	assert.False(t, opts.Breaker.IsFailure(context.Canceled))
	assert.True(t, opts.Breaker.IsFailure(errRedisDown))
}
