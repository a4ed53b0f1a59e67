package memory

import (
	"context"
	"slices"
	"sync"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"
)

type MemoryDrawingRepository struct {
	drawings map[domain.SessionID][]domain.FinalizedStroke
	mu       sync.RWMutex
}

func NewMemoryDrawingRepository() ports.DrawingRepository {
	return &MemoryDrawingRepository{
		drawings: make(map[domain.SessionID][]domain.FinalizedStroke),
	}
}

func (r *MemoryDrawingRepository) Find(ctx context.Context, sessionID domain.SessionID) ([]domain.FinalizedStroke, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strokes, exists := r.drawings[sessionID]
	if !exists {
		return nil, nil
	}
	return slices.Clone(strokes), nil
}

// Upsert replaces the session's record with strokes.
func (r *MemoryDrawingRepository) Upsert(ctx context.Context, sessionID domain.SessionID, strokes []domain.FinalizedStroke) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drawings[sessionID] = slices.Clone(strokes)
	return nil
}

func (r *MemoryDrawingRepository) DeleteAll(ctx context.Context, sessionID domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.drawings, sessionID)
	return nil
}
