package notify

import (
	"context"
	"errors"
)

// MultiNotifier dispatches notifications to multiple notifiers. A failing
// notifier does not stop the rest.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil entries are skipped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	kept := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return &MultiNotifier{notifiers: kept}
}

// Notify forwards the notification to all notifiers and joins their errors.
func (m *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
