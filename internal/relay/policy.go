package relay

import (
	"fmt"

	"paintwithchat/internal/core/domain"
)

type DrawMode string

const (
	// ModeGated lets only the session's current drawer emit strokes.
	ModeGated DrawMode = "gated"
	// ModeOpen lets every connection in the room draw, anonymous viewers included.
	ModeOpen DrawMode = "open"
)

// DrawPolicy decides whether identity may mutate the canvas of session.
// It is consulted with the hub lock held and must not block.
type DrawPolicy interface {
	CanDraw(session *domain.Session, identity domain.UserID) bool
	Mode() DrawMode
}

type GatedPolicy struct{}

func (GatedPolicy) CanDraw(session *domain.Session, identity domain.UserID) bool {
	if session == nil || !session.Active || identity == "" {
		return false
	}
	return session.CurrentDrawerID == identity
}

func (GatedPolicy) Mode() DrawMode { return ModeGated }

type OpenPolicy struct{}

func (OpenPolicy) CanDraw(session *domain.Session, _ domain.UserID) bool {
	return session != nil && session.Active
}

func (OpenPolicy) Mode() DrawMode { return ModeOpen }

func PolicyForMode(mode DrawMode) (DrawPolicy, error) {
	switch mode {
	case ModeGated:
		return GatedPolicy{}, nil
	case ModeOpen, "":
		return OpenPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown draw mode %q", mode)
	}
}
