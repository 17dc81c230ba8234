package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const publisherLogPrefix = "events:publisher"

// EventPublisher is the interface for publishing dispatch outcome events.
type EventPublisher interface {
	PublishDispatched(ctx context.Context, event *DispatchEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for deployments without events).
type NoOpPublisher struct{}

// PublishDispatched is a no-op.
func (p *NoOpPublisher) PublishDispatched(_ context.Context, _ *DispatchEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *DispatchEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *DispatchEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishDispatched calls the callback.
func (p *CallbackPublisher) PublishDispatched(ctx context.Context, event *DispatchEvent) error {
	return p.callback(ctx, event)
}

// Fanout delivers every event to all of its publishers. A failing publisher does
// not stop delivery to the others; their errors are joined.
type Fanout struct {
	publishers []EventPublisher
}

// NewFanout creates a Fanout over the non-nil publishers given.
func NewFanout(publishers ...EventPublisher) *Fanout {
	f := &Fanout{}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

// Len returns the number of publishers.
func (f *Fanout) Len() int {
	return len(f.publishers)
}

// PublishDispatched forwards event to every publisher.
func (f *Fanout) PublishDispatched(ctx context.Context, event *DispatchEvent) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.PublishDispatched(ctx, event); err != nil {
			slog.Warn(fmt.Sprintf("%s - publisher %T failed for %s: %v", publisherLogPrefix, p, event.Subject, err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
