// Package bridge pushes notifications toward realtime clients. Delivery is
// best effort: a failed notification is logged and dropped, never retried.
package bridge

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"railwars.gg/internal/protocol"
)

type Notifier interface {
	Notify(ctx context.Context, n protocol.Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n protocol.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n protocol.Notification) error { return f(ctx, n) }

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, protocol.Notification) error { return nil }

// Fanout notifies each target in order; failures do not stop later targets.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n protocol.Notification) error {
	var errs []error
	for _, t := range f {
		if t == nil {
			continue
		}
		if err := t.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send notifies and logs a failure. Callers that only want best effort use it
// instead of inspecting the error themselves. Notifiers return failures
// without logging them, so this is the one place a drop is reported.
func Send(ctx context.Context, n Notifier, log logrus.FieldLogger, ev protocol.Notification) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, ev); err != nil && log != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"event": ev.Name,
			"code":  protocol.CodeOf(err),
		}).Warn("notification dropped")
	}
}
