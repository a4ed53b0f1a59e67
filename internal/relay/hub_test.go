package relay

import (
	"context"
	"testing"
	"time"

	"paintwithchat/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DrawingScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeGated, time.Hour)

	_, viewer := h.joinViewer(t)
	assert.Empty(t, h.storedSession(t).ActiveUsers)

	connA, senderA := h.joinParticipant(t, "a")
	stored := h.storedSession(t)
	require.Len(t, stored.ActiveUsers, 1)
	assert.Equal(t, domain.UserID("a"), stored.ActiveUsers[0].UserID)

	_, err := h.sessions.SelectUser(ctx, "streamer", "a")
	require.NoError(t, err)

	viewer.reset()
	senderA.reset()
	h.drawStroke(t, connA, domain.Point{X: 10, Y: 10}, domain.Point{X: 11, Y: 12}, domain.Point{X: 13, Y: 15})

	strokes := h.hub.cache.Snapshot(h.session.ID)
	require.Len(t, strokes, 1)
	assert.Len(t, strokes[0].Points, 3)
	assert.Equal(t, domain.UserID("a"), strokes[0].AuthorID)

	for _, s := range []*fakeSender{viewer, senderA} {
		assert.Equal(t, []string{
			EventStrokeStart, EventStrokeMove, EventStrokeMove, EventStrokeEnd,
		}, s.types(t))

		start := decode[strokeStartPayload](t, s.ofType(t, EventStrokeStart)[0])
		assert.Equal(t, domain.UserID("a"), start.AuthorID)
		assert.Equal(t, domain.Point{X: 10, Y: 10}, start.Point)
		assert.Equal(t, "#000000", start.Color)
		assert.Equal(t, 5.0, start.Size)

		end := decode[strokeEndPayload](t, s.ofType(t, EventStrokeEnd)[0])
		assert.Equal(t, strokes[0].ID, end.Stroke.ID)
		assert.Len(t, end.Stroke.Points, 3)
	}

	viewer.reset()
	h.hub.Disconnect(ctx, connA)

	stored = h.storedSession(t)
	assert.Empty(t, stored.ActiveUsers)
	assert.Empty(t, stored.CurrentDrawerID)

	assert.Equal(t, []string{EventParticipantLeft, EventSessionUpdated}, viewer.types(t))
	left := decode[participantLeftPayload](t, viewer.ofType(t, EventParticipantLeft)[0])
	assert.Equal(t, domain.UserID("a"), left.UserID)
	update := decode[sessionUpdatedPayload](t, viewer.ofType(t, EventSessionUpdated)[0])
	assert.Empty(t, update.Session.ActiveUsers)
	assert.Nil(t, update.Session.CurrentDrawerID)
	assert.True(t, update.Session.Active)
}

func TestHub_GatedStartByNonDrawer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeGated, time.Hour)

	_, viewer := h.joinViewer(t)
	h.joinParticipant(t, "a")
	connB, senderB := h.joinParticipant(t, "b")
	_, err := h.sessions.SelectUser(ctx, "streamer", "a")
	require.NoError(t, err)

	viewer.reset()
	senderB.reset()
	err = h.send(t, connB, EventDrawingStart, map[string]any{
		"point": domain.Point{X: 1, Y: 1}, "color": "#ff0000", "size": 3,
	})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	assert.Equal(t, 0, viewer.count())
	require.Equal(t, []string{EventError}, senderB.types(t))
	msg := decode[errorPayload](t, senderB.ofType(t, EventError)[0])
	assert.Equal(t, "not authorized", msg.Message)

	// The rejected start left nothing to extend or finish.
	require.NoError(t, h.send(t, connB, EventDrawingMove, map[string]any{"point": domain.Point{X: 2, Y: 2}}))
	require.NoError(t, h.send(t, connB, EventDrawingEnd, nil))
	assert.Equal(t, 0, viewer.count())
	assert.Empty(t, h.hub.cache.Snapshot(h.session.ID))
}

func TestHub_GatedRevokedDrawerStrokeDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeGated, time.Hour)

	_, viewer := h.joinViewer(t)
	connA, _ := h.joinParticipant(t, "a")
	h.joinParticipant(t, "b")
	_, err := h.sessions.SelectUser(ctx, "streamer", "a")
	require.NoError(t, err)

	require.NoError(t, h.send(t, connA, EventDrawingStart, map[string]any{
		"point": domain.Point{X: 1, Y: 1}, "color": "#000", "size": 2,
	}))
	_, err = h.sessions.SelectUser(ctx, "streamer", "b")
	require.NoError(t, err)

	viewer.reset()
	require.NoError(t, h.send(t, connA, EventDrawingMove, map[string]any{"point": domain.Point{X: 2, Y: 2}}))
	require.NoError(t, h.send(t, connA, EventDrawingEnd, nil))

	assert.Equal(t, 0, viewer.count())
	assert.Empty(t, h.hub.cache.Snapshot(h.session.ID))
}

func TestHub_OpenModeAnonymousViewerDraws(t *testing.T) {
	h := newHarness(t, ModeOpen, time.Hour)

	connV, viewer := h.joinViewer(t)
	viewer.reset()
	h.drawStroke(t, connV, domain.Point{X: 5, Y: 5}, domain.Point{X: 2000, Y: -40})

	strokes := h.hub.cache.Snapshot(h.session.ID)
	require.Len(t, strokes, 1)
	assert.Equal(t, domain.AnonymousUser, strokes[0].AuthorID)
	// Out-of-canvas points are kept as-is.
	assert.Equal(t, domain.Point{X: 2000, Y: -40}, strokes[0].Points[1])

	start := decode[strokeStartPayload](t, viewer.ofType(t, EventStrokeStart)[0])
	assert.Equal(t, domain.AnonymousUser, start.AuthorID)
}

func TestHub_LateJoinerReceivesHistory(t *testing.T) {
	h := newHarness(t, ModeOpen, time.Hour)

	connA, _ := h.joinParticipant(t, "a")
	const n = 4
	for i := 0; i < n; i++ {
		h.drawStroke(t, connA, domain.Point{X: float64(i), Y: 0}, domain.Point{X: float64(i), Y: 1})
	}
	want := h.hub.cache.Snapshot(h.session.ID)

	_, late := h.joinViewer(t)
	loads := late.ofType(t, EventDrawingLoad)
	require.Len(t, loads, 1)
	got := decode[drawingLoadPayload](t, loads[0])
	require.Len(t, got.Strokes, n)
	for i := range want {
		assert.Equal(t, want[i].ID, got.Strokes[i].ID)
		assert.Equal(t, float64(i), got.Strokes[i].Points[0].X)
	}

	// The history goes to the joiner only.
	_, earlier := h.joinViewer(t)
	earlier.reset()
	h.joinViewer(t)
	assert.Empty(t, earlier.ofType(t, EventDrawingLoad))
}

func TestHub_JoinLoadsStoredStrokes(t *testing.T) {
	h := newHarness(t, ModeOpen, time.Hour)
	h.drawings.stored[h.session.ID] = []domain.FinalizedStroke{{ID: "old-1"}, {ID: "old-2"}}

	_, viewer := h.joinViewer(t)
	got := decode[drawingLoadPayload](t, viewer.ofType(t, EventDrawingLoad)[0])
	require.Len(t, got.Strokes, 2)
	assert.Equal(t, domain.StrokeID("old-1"), got.Strokes[0].ID)

	h.joinViewer(t)
	assert.Equal(t, 1, h.drawings.finds)
}

func TestHub_DebounceCoalescesWrites(t *testing.T) {
	h := newHarness(t, ModeOpen, 50*time.Millisecond)

	connA, _ := h.joinParticipant(t, "a")
	const m = 5
	for i := 0; i < m; i++ {
		h.drawStroke(t, connA, domain.Point{X: float64(i), Y: 0})
	}
	assert.Equal(t, 0, h.drawings.upsertCount())

	assert.Eventually(t, func() bool { return h.drawings.upsertCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return h.drawings.upsertCount() > 1 }, 200*time.Millisecond, 20*time.Millisecond)
	assert.Len(t, h.drawings.lastUpsert(), m)
}

func TestHub_UndoFlushesImmediately(t *testing.T) {
	h := newHarness(t, ModeOpen, time.Hour)

	connA, senderA := h.joinParticipant(t, "a")
	for i := 0; i < 3; i++ {
		h.drawStroke(t, connA, domain.Point{X: float64(i), Y: 0})
	}
	before := h.hub.cache.Snapshot(h.session.ID)
	require.Len(t, before, 3)
	assert.True(t, h.hub.cache.pending(h.session.ID))

	senderA.reset()
	require.NoError(t, h.send(t, connA, EventDrawingUndo, nil))

	assert.Equal(t, before[:2], h.hub.cache.Snapshot(h.session.ID))
	require.Equal(t, 1, h.drawings.upsertCount())
	assert.Equal(t, before[:2], h.drawings.lastUpsert())
	assert.False(t, h.hub.cache.pending(h.session.ID))

	undone := decode[drawingUndonePayload](t, senderA.ofType(t, EventDrawingUndone)[0])
	assert.Equal(t, before[2].ID, undone.StrokeID)
}

func TestHub_UndoWithoutStrokesIsSilent(t *testing.T) {
	h := newHarness(t, ModeOpen, time.Hour)

	connA, senderA := h.joinParticipant(t, "a")
	senderA.reset()
	require.NoError(t, h.send(t, connA, EventDrawingUndo, nil))
	assert.Equal(t, 0, senderA.count())
	assert.Equal(t, 0, h.drawings.upsertCount())
}

func TestHub_ClearDeletesRecordAndCancelsFlush(t *testing.T) {
	h := newHarness(t, ModeOpen, 50*time.Millisecond)

	connA, _ := h.joinParticipant(t, "a")
	_, viewer := h.joinViewer(t)
	h.drawStroke(t, connA, domain.Point{X: 1, Y: 1})
	require.True(t, h.hub.cache.pending(h.session.ID))

	viewer.reset()
	require.NoError(t, h.send(t, connA, EventCanvasClear, nil))

	assert.Empty(t, h.hub.cache.Snapshot(h.session.ID))
	assert.Empty(t, h.drawings.storedFor(h.session.ID))
	assert.Equal(t, 1, h.drawings.deletes)
	assert.Equal(t, []string{EventCanvasCleared}, viewer.types(t))

	assert.Never(t, func() bool { return h.drawings.upsertCount() > 0 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestHub_GatedClearByNonDrawer(t *testing.T) {
	h := newHarness(t, ModeGated, time.Hour)

	connA, senderA := h.joinParticipant(t, "a")
	senderA.reset()
	err := h.send(t, connA, EventCanvasClear, nil)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.Equal(t, []string{EventError}, senderA.types(t))
	assert.Equal(t, 0, h.drawings.deletes)
}

func TestHub_RejoinReplacesParticipant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeGated, time.Hour)

	conn1, _ := h.joinParticipant(t, "a")
	h.joinParticipant(t, "b")
	conn2, _ := h.joinParticipant(t, "a")

	stored := h.storedSession(t)
	require.Len(t, stored.ActiveUsers, 2)
	a, ok := stored.Participant("a")
	require.True(t, ok)
	assert.Equal(t, conn2, a.ConnectionID)

	// The stale connection going away must not remove the new one.
	h.hub.Disconnect(ctx, conn1)
	stored = h.storedSession(t)
	assert.Len(t, stored.ActiveUsers, 2)

	h.hub.Disconnect(ctx, conn2)
	stored = h.storedSession(t)
	require.Len(t, stored.ActiveUsers, 1)
	assert.Equal(t, domain.UserID("b"), stored.ActiveUsers[0].UserID)
}

func TestHub_StreamerJoin(t *testing.T) {
	h := newHarness(t, ModeGated, time.Hour)

	connS, sender := h.connect(t)
	require.NoError(t, h.send(t, connS, EventStreamerJoin, map[string]any{
		"sessionId": h.session.ID,
		"token":     h.token(t, "streamer"),
	}))
	assert.Empty(t, h.storedSession(t).ActiveUsers)
	assert.Contains(t, sender.types(t), EventSessionUpdated)

	intruder, intruderSender := h.connect(t)
	err := h.send(t, intruder, EventStreamerJoin, map[string]any{
		"sessionId": h.session.ID,
		"token":     h.token(t, "someone-else"),
	})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.Equal(t, []string{EventError}, intruderSender.types(t))
}

func TestHub_JoinFailuresArePrivate(t *testing.T) {
	h := newHarness(t, ModeGated, time.Hour)
	_, viewer := h.joinViewer(t)
	viewer.reset()

	tests := []struct {
		name    string
		event   string
		payload map[string]any
		message string
	}{
		{"unknown session", EventViewerJoin, map[string]any{"sessionId": "nope"}, "session not found or inactive"},
		{"bad token", EventParticipantJoin, map[string]any{"sessionId": h.session.ID, "token": "garbage"}, "invalid credential"},
		{"missing token", EventUserJoin, map[string]any{"sessionId": h.session.ID}, "invalid credential"},
		{"bad session id", EventViewerJoin, map[string]any{"sessionId": "a b"}, "bad payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connID, sender := h.connect(t)
			assert.Error(t, h.send(t, connID, tt.event, tt.payload))
			require.Equal(t, []string{EventError}, sender.types(t))
			assert.Equal(t, tt.message, decode[errorPayload](t, sender.ofType(t, EventError)[0]).Message)
		})
	}

	assert.Equal(t, 0, viewer.count())
	assert.Empty(t, h.storedSession(t).ActiveUsers)
}

func TestHub_JoinEndedSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeOpen, time.Hour)

	_, err := h.sessions.End(ctx, "streamer")
	require.NoError(t, err)

	connID, sender := h.connect(t)
	err = h.send(t, connID, EventViewerJoin, map[string]any{"sessionId": h.session.ID})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, []string{EventError}, sender.types(t))
}

func TestHub_DrawBeforeJoin(t *testing.T) {
	h := newHarness(t, ModeOpen, time.Hour)

	connID, sender := h.connect(t)
	err := h.send(t, connID, EventDrawingStart, map[string]any{
		"point": domain.Point{}, "color": "#000", "size": 1,
	})
	assert.ErrorIs(t, err, domain.ErrNotJoined)
	assert.Equal(t, []string{EventError}, sender.types(t))
}

func TestHub_BadPayloads(t *testing.T) {
	h := newHarness(t, ModeOpen, time.Hour)
	connID, sender := h.joinViewer(t)
	sender.reset()

	assert.ErrorIs(t, h.send(t, connID, EventDrawingStart, map[string]any{"color": "#000", "size": 1}), ErrBadPayload)
	assert.ErrorIs(t, h.send(t, connID, EventDrawingStart, map[string]any{
		"point": domain.Point{}, "color": "", "size": 1,
	}), ErrBadPayload)
	assert.ErrorIs(t, h.hub.HandleMessage(context.Background(), connID, Message{
		Type: EventDrawingMove, Payload: []byte(`{"point":"nope"}`),
	}), ErrBadPayload)
	assert.ErrorIs(t, h.send(t, connID, "drawing:teleport", nil), ErrUnknownEvent)

	for _, p := range sender.ofType(t, EventError) {
		assert.NotEmpty(t, decode[errorPayload](t, p).Message)
	}
	assert.Len(t, sender.ofType(t, EventError), 4)
}

func TestHub_DrawerChangedBroadcast(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeGated, time.Hour)

	_, viewer := h.joinViewer(t)
	h.joinParticipant(t, "a")
	viewer.reset()

	_, err := h.sessions.NextUser(ctx, "streamer")
	require.NoError(t, err)

	assert.Equal(t, []string{EventSessionUpdated, EventDrawerChanged}, viewer.types(t))
	update := decode[sessionUpdatedPayload](t, viewer.ofType(t, EventSessionUpdated)[0])
	require.NotNil(t, update.Session.CurrentDrawerID)
	assert.Equal(t, domain.UserID("a"), *update.Session.CurrentDrawerID)
	changed := decode[drawerChangedPayload](t, viewer.ofType(t, EventDrawerChanged)[0])
	assert.Equal(t, domain.UserID("a"), changed.DrawerID)
	assert.Equal(t, "a", changed.Username)
}

func TestHub_SessionEndTearsDownRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeOpen, time.Hour)

	connA, senderA := h.joinParticipant(t, "a")
	h.drawStroke(t, connA, domain.Point{X: 1, Y: 1})
	senderA.reset()

	_, err := h.sessions.End(ctx, "streamer")
	require.NoError(t, err)

	updates := senderA.ofType(t, EventSessionUpdated)
	require.Len(t, updates, 1)
	assert.False(t, decode[sessionUpdatedPayload](t, updates[0]).Session.Active)

	assert.Equal(t, 1, h.drawings.upsertCount())
	assert.Equal(t, 0, h.hub.cache.Len())
	assert.Equal(t, 0, h.hub.Stats().Rooms)

	err = h.send(t, connA, EventDrawingStart, map[string]any{
		"point": domain.Point{}, "color": "#000", "size": 1,
	})
	assert.ErrorIs(t, err, domain.ErrNotJoined)
}

func TestHub_LastLeaveFlushesAndForgets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeOpen, time.Hour)

	connA, _ := h.joinParticipant(t, "a")
	connV, _ := h.joinViewer(t)
	h.drawStroke(t, connA, domain.Point{X: 1, Y: 1})

	h.hub.Disconnect(ctx, connA)
	assert.Equal(t, 0, h.drawings.upsertCount())
	assert.Equal(t, 1, h.hub.cache.Len())

	require.NoError(t, h.send(t, connV, EventLeave, nil))
	assert.Equal(t, 1, h.drawings.upsertCount())
	assert.Len(t, h.drawings.storedFor(h.session.ID), 1)
	assert.Equal(t, 0, h.hub.cache.Len())
	assert.Equal(t, 0, h.hub.Stats().Rooms)
	assert.Equal(t, 1, h.hub.Stats().Connections)

	// Back from storage on the next join.
	_, again := h.joinViewer(t)
	got := decode[drawingLoadPayload](t, again.ofType(t, EventDrawingLoad)[0])
	assert.Len(t, got.Strokes, 1)
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeOpen, time.Hour)

	connA, _ := h.joinParticipant(t, "a")
	h.hub.Leave(ctx, connA)
	h.hub.Leave(ctx, connA)
	h.hub.Disconnect(ctx, connA)
	h.hub.Disconnect(ctx, connA)
	h.hub.Disconnect(ctx, "unknown")

	assert.Empty(t, h.storedSession(t).ActiveUsers)
	assert.Equal(t, 0, h.hub.Stats().Connections)
}

func TestHub_SlowConsumerIsClosed(t *testing.T) {
	h := newHarness(t, ModeOpen, time.Hour)

	connA, _ := h.joinParticipant(t, "a")
	_, slow := h.joinViewer(t)
	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	h.drawStroke(t, connA, domain.Point{X: 1, Y: 1})
	assert.True(t, slow.isClosed())
}

func TestHub_CloseFlushesPendingStrokes(t *testing.T) {
	h := newHarness(t, ModeOpen, time.Hour)

	connA, senderA := h.joinParticipant(t, "a")
	h.drawStroke(t, connA, domain.Point{X: 1, Y: 1}, domain.Point{X: 2, Y: 2})

	require.NoError(t, h.hub.Close(context.Background()))
	assert.Equal(t, 1, h.drawings.upsertCount())
	assert.True(t, senderA.isClosed())

	_, err := h.hub.Connect(&fakeSender{})
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestHub_StorageFailureDoesNotBlockDrawing(t *testing.T) {
	h := newHarness(t, ModeOpen, time.Hour)
	h.drawings.setUpsertErr(assert.AnError)

	connA, senderA := h.joinParticipant(t, "a")
	h.drawStroke(t, connA, domain.Point{X: 1, Y: 1})
	h.drawStroke(t, connA, domain.Point{X: 2, Y: 2})

	senderA.reset()
	require.NoError(t, h.send(t, connA, EventDrawingUndo, nil))
	assert.Len(t, h.hub.cache.Snapshot(h.session.ID), 1)
	assert.Len(t, senderA.ofType(t, EventDrawingUndone), 1)

	h.drawings.setUpsertErr(nil)
	h.drawStroke(t, connA, domain.Point{X: 3, Y: 3})
	require.NoError(t, h.hub.cache.Flush(context.Background(), h.session.ID))
	assert.Len(t, h.drawings.lastUpsert(), 2)
}

func TestHub_Stats(t *testing.T) {
	h := newHarness(t, ModeGated, time.Hour)
	h.joinParticipant(t, "a")
	h.joinViewer(t)
	h.connect(t)

	stats := h.hub.Stats()
	assert.Equal(t, 3, stats.Connections)
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 1, stats.CachedSessions)
	assert.Equal(t, ModeGated, stats.Mode)
}
