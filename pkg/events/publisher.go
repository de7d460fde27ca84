package events

import (
	"context"

	"github.com/morezero/app-gateway/pkg/dispatcher"
)

// EventPublisher delivers notifications and listener change events.
type EventPublisher interface {
	Notify(ctx context.Context, to dispatcher.Listener, n *Notification) error
	PublishListenerChanged(ctx context.Context, event *ListenerChangedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without a bus).
type NoOpPublisher struct{}

// Notify is a no-op.
func (p *NoOpPublisher) Notify(_ context.Context, _ dispatcher.Listener, _ *Notification) error {
	return nil
}

// PublishListenerChanged is a no-op.
func (p *NoOpPublisher) PublishListenerChanged(_ context.Context, _ *ListenerChangedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls callback functions (for testing).
// Either callback may be nil.
type CallbackPublisher struct {
	onNotify  func(ctx context.Context, to dispatcher.Listener, n *Notification) error
	onChanged func(ctx context.Context, event *ListenerChangedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(
	onNotify func(ctx context.Context, to dispatcher.Listener, n *Notification) error,
	onChanged func(ctx context.Context, event *ListenerChangedEvent) error,
) *CallbackPublisher {
	return &CallbackPublisher{onNotify: onNotify, onChanged: onChanged}
}

// Notify calls the notify callback.
func (p *CallbackPublisher) Notify(ctx context.Context, to dispatcher.Listener, n *Notification) error {
	if p.onNotify == nil {
		return nil
	}
	return p.onNotify(ctx, to, n)
}

// PublishListenerChanged calls the change callback.
func (p *CallbackPublisher) PublishListenerChanged(ctx context.Context, event *ListenerChangedEvent) error {
	if p.onChanged == nil {
		return nil
	}
	return p.onChanged(ctx, event)
}
