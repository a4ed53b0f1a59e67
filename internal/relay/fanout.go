package relay

import (
	"paintwithchat/internal/core/domain"
)

// Broadcaster delivers frames to the members of a room. Delivery is
// fire-and-forget; connections whose queue is full are returned as dropped.
type Broadcaster struct {
	registry *Registry
}

func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

func (b *Broadcaster) ToRoom(sessionID domain.SessionID, frame Frame) (sent int, dropped []*Connection) {
	for _, c := range b.registry.Members(sessionID) {
		if err := c.Sender.TrySend(frame); err != nil {
			dropped = append(dropped, c)
			continue
		}
		sent++
	}
	return sent, dropped
}

func (b *Broadcaster) ToConnection(c *Connection, frame Frame) bool {
	return c.Sender.TrySend(frame) == nil
}
