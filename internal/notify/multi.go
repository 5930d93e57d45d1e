package notify

import "context"

// Multi fans an alert out to every wrapped Notifier, without short-circuiting
// on a failure, and returns the first error encountered.
type Multi struct {
	notifiers []Notifier
}

func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Notify(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
