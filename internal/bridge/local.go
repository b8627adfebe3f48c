package bridge

import (
	"context"

	"railwars.gg/internal/protocol"
)

type Broadcaster interface {
	Broadcast(n protocol.Notification) int
}

// Local delivers to subscribers of an in-process hub, for deployments that
// run the relay inside the engine process.
type Local struct {
	Hub Broadcaster
}

func (l Local) Notify(_ context.Context, n protocol.Notification) error {
	if l.Hub != nil {
		l.Hub.Broadcast(n)
	}
	return nil
}
