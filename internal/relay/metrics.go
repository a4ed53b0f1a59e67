package relay

import "time"

// Metrics receives relay events. Implementations must be safe for
// concurrent use and must not block.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	RoomOpened()
	RoomClosed()
	StrokeCompleted(mode DrawMode)
	ActionRejected(event, reason string)
	FrameDropped()
	FlushCompleted(duration time.Duration, strokes int, err error)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened() {}
func (noopMetrics) ConnectionClosed() {}
func (noopMetrics) RoomOpened() {}
func (noopMetrics) RoomClosed() {}
func (noopMetrics) StrokeCompleted(DrawMode) {}
func (noopMetrics) ActionRejected(string, string) {}
func (noopMetrics) FrameDropped() {}
func (noopMetrics) FlushCompleted(time.Duration, int, error) {}

// NoopMetrics discards everything.
func NoopMetrics() Metrics { return noopMetrics{} }
