package pubsub

import (
	"context"
	"errors"

	"signoff-backend/internal/domain/event"
)

// Fanout publishes to every publisher in order and joins their errors.
func Fanout(pubs ...event.Publisher) event.Publisher {
	return event.PublisherFunc(func(ctx context.Context, events ...event.ChangeEvent) error {
		var errs []error
		for _, p := range pubs {
			if err := p.Publish(ctx, events...); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
