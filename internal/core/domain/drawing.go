package domain

import "time"

// Logical canvas space shared by every client. Points are not clamped to it.
const (
	CanvasWidth  = 1920
	CanvasHeight = 1080
)

type StrokeID string

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is an in-progress point sequence owned by the stroke buffer.
type Stroke struct {
	Points   []Point
	Color    string
	Size     float64
	AuthorID UserID
}

// FinalizedStroke is a completed, immutable stroke eligible for undo and
// persistence.
type FinalizedStroke struct {
	ID          StrokeID  `json:"id"`
	Points      []Point   `json:"points"`
	Color       string    `json:"color"`
	Size        float64   `json:"size"`
	AuthorID    UserID    `json:"userId"`
	CompletedAt time.Time `json:"timestamp"`
}
