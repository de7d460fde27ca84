package events

import (
	"context"
	"testing"

	"github.com/morezero/app-gateway/pkg/dispatcher"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	if err := pub.Notify(context.Background(), dispatcher.Listener{ConnectionID: "c"}, &Notification{Event: "e"}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := pub.PublishListenerChanged(context.Background(), &ListenerChangedEvent{Event: "e"}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var notified *Notification
	var to dispatcher.Listener
	var changed *ListenerChangedEvent

	pub := NewCallbackPublisher(
		func(_ context.Context, l dispatcher.Listener, n *Notification) error {
			to = l
			notified = n
			return nil
		},
		func(_ context.Context, e *ListenerChangedEvent) error {
			changed = e
			return nil
		},
	)

	l := dispatcher.Listener{AppID: "refui", ConnectionID: "conn-1"}
	if err := pub.Notify(context.Background(), l, &Notification{Event: "onNameChanged"}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := pub.PublishListenerChanged(context.Background(), &ListenerChangedEvent{Event: "onNameChanged", Listening: true}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	if notified == nil || notified.Event != "onNameChanged" {
		t.Fatalf("expected notify callback to be called, got %+v", notified)
	}
	if to != l {
		t.Errorf("expected listener %+v, got %+v", l, to)
	}
	if changed == nil || !changed.Listening {
		t.Errorf("expected change callback to be called, got %+v", changed)
	}
}

func TestCallbackPublisher_NilCallbacks(t *testing.T) {
	pub := NewCallbackPublisher(nil, nil)
	if err := pub.Notify(context.Background(), dispatcher.Listener{}, &Notification{}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := pub.PublishListenerChanged(context.Background(), &ListenerChangedEvent{}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
