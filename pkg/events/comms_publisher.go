package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/app-gateway/pkg/commsutil"
	"github.com/morezero/app-gateway/pkg/dispatcher"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// ChangeSubject overrides the listener change subject.
	ChangeSubject string
}

// CommsPublisher publishes notifications and listener changes to COMMS subjects.
type CommsPublisher struct {
	nc            *comms.Conn
	changeSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	subject := commsutil.SubjectListenersChanged
	if opts != nil && opts.ChangeSubject != "" {
		subject = opts.ChangeSubject
	}
	return &CommsPublisher{nc: nc, changeSubject: subject}
}

// Notify publishes n on the listener's connection subject.
func (p *CommsPublisher) Notify(_ context.Context, to dispatcher.Listener, n *Notification) error {
	data, err := commsutil.EncodePayload(n)
	if err != nil {
		return fmt.Errorf("%s - failed to encode notification: %w", commsPublisherLogPrefix, err)
	}

	subject := commsutil.BuildNotifySubject(to.ConnectionID)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Notified %s of %s", commsPublisherLogPrefix, to.ConnectionID, n.Event))
	return nil
}

// PublishListenerChanged publishes event on the change subject.
func (p *CommsPublisher) PublishListenerChanged(_ context.Context, event *ListenerChangedEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	if err := p.nc.Publish(p.changeSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.changeSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published listener change for %s (listening=%t)", commsPublisherLogPrefix, event.Event, event.Listening))
	return nil
}
