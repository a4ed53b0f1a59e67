package relay

import (
	"fmt"
	"sync/atomic"
	"time"

	"paintwithchat/internal/core/domain"
)

var strokeSeq atomic.Uint64

// newStrokeID combines the connection id with a process-wide sequence so
// ids stay unique however coarse the clock is.
func newStrokeID(connID domain.ConnectionID) domain.StrokeID {
	return domain.StrokeID(fmt.Sprintf("%s-%d", connID, strokeSeq.Add(1)))
}

// StrokeBuffer holds at most one in-progress stroke per connection. It is
// not safe for concurrent use.
type StrokeBuffer struct {
	strokes map[domain.ConnectionID]*domain.Stroke
	now     func() time.Time
}

func NewStrokeBuffer() *StrokeBuffer {
	return &StrokeBuffer{
		strokes: make(map[domain.ConnectionID]*domain.Stroke),
		now:     time.Now,
	}
}

// Begin starts a stroke for connID, replacing any stroke in progress.
func (b *StrokeBuffer) Begin(connID domain.ConnectionID, point domain.Point, color string, size float64, author domain.UserID) {
	b.strokes[connID] = &domain.Stroke{
		Points:   []domain.Point{point},
		Color:    color,
		Size:     size,
		AuthorID: author,
	}
}

// Extend appends point to the stroke in progress. It reports false, and
// drops the point, when there is none.
func (b *StrokeBuffer) Extend(connID domain.ConnectionID, point domain.Point) bool {
	s, ok := b.strokes[connID]
	if !ok {
		return false
	}
	s.Points = append(s.Points, point)
	return true
}

func (b *StrokeBuffer) Finish(connID domain.ConnectionID) (domain.FinalizedStroke, bool) {
	s, ok := b.strokes[connID]
	if !ok {
		return domain.FinalizedStroke{}, false
	}
	delete(b.strokes, connID)
	return domain.FinalizedStroke{
		ID:          newStrokeID(connID),
		Points:      s.Points,
		Color:       s.Color,
		Size:        s.Size,
		AuthorID:    s.AuthorID,
		CompletedAt: b.now(),
	}, true
}

func (b *StrokeBuffer) InProgress(connID domain.ConnectionID) bool {
	_, ok := b.strokes[connID]
	return ok
}

func (b *StrokeBuffer) Drop(connID domain.ConnectionID) bool {
	_, ok := b.strokes[connID]
	delete(b.strokes, connID)
	return ok
}

func (b *StrokeBuffer) Len() int { return len(b.strokes) }
