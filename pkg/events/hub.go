package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/morezero/app-gateway/pkg/dispatcher"
)

const hubLogPrefix = "events:hub"

// ErrEmptyEvent is returned when an event name is blank.
var ErrEmptyEvent = errors.New("events: empty event name")

// Hub keeps the set of listeners per event and fans emitted events out to them.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[dispatcher.Listener]struct{}
	publisher EventPublisher
	now       func() time.Time
}

// NewHub creates a Hub. A nil publisher means notifications go nowhere.
func NewHub(publisher EventPublisher) *Hub {
	if publisher == nil {
		publisher = &NoOpPublisher{}
	}
	return &Hub{
		listeners: make(map[string]map[dispatcher.Listener]struct{}),
		publisher: publisher,
		now:       time.Now,
	}
}

// Register adds l as a listener of event. Registering twice is a no-op.
func (h *Hub) Register(ctx context.Context, l dispatcher.Listener, event string) error {
	if event == "" {
		return ErrEmptyEvent
	}

	h.mu.Lock()
	set, ok := h.listeners[event]
	if !ok {
		set = make(map[dispatcher.Listener]struct{})
		h.listeners[event] = set
	}
	_, exists := set[l]
	set[l] = struct{}{}
	count := len(set)
	h.mu.Unlock()

	if !exists {
		h.publishChanged(ctx, l, event, true, count)
	}
	return nil
}

// Unregister removes l from event. Unregistering an unknown listener is a no-op.
func (h *Hub) Unregister(ctx context.Context, l dispatcher.Listener, event string) error {
	if event == "" {
		return ErrEmptyEvent
	}

	h.mu.Lock()
	set, ok := h.listeners[event]
	_, exists := set[l]
	if exists {
		delete(set, l)
	}
	count := len(set)
	if ok && count == 0 {
		delete(h.listeners, event)
	}
	h.mu.Unlock()

	if exists {
		h.publishChanged(ctx, l, event, false, count)
	}
	return nil
}

// UnregisterConnection removes every listener of event held by connectionID, whatever its app.
func (h *Hub) UnregisterConnection(ctx context.Context, connectionID, event string) error {
	if event == "" {
		return ErrEmptyEvent
	}

	var removed []dispatcher.Listener
	h.mu.Lock()
	set := h.listeners[event]
	for l := range set {
		if l.ConnectionID == connectionID {
			delete(set, l)
			removed = append(removed, l)
		}
	}
	count := len(set)
	if set != nil && count == 0 {
		delete(h.listeners, event)
	}
	h.mu.Unlock()

	for _, l := range removed {
		h.publishChanged(ctx, l, event, false, count)
	}
	return nil
}

// RemoveConnection drops every registration held by connectionID and returns how many were removed.
func (h *Hub) RemoveConnection(ctx context.Context, connectionID string) int {
	var removed []dispatcher.Registration

	h.mu.Lock()
	for event, set := range h.listeners {
		for l := range set {
			if l.ConnectionID == connectionID {
				delete(set, l)
				removed = append(removed, dispatcher.Registration{Listener: l, Event: event})
			}
		}
		if len(set) == 0 {
			delete(h.listeners, event)
		}
	}
	h.mu.Unlock()

	for _, r := range removed {
		h.publishChanged(ctx, r.Listener, r.Event, false, h.Count(r.Event))
	}
	return len(removed)
}

// Listeners returns the listeners of event sorted by connection then app.
func (h *Hub) Listeners(event string) []dispatcher.Listener {
	h.mu.RLock()
	out := make([]dispatcher.Listener, 0, len(h.listeners[event]))
	for l := range h.listeners[event] {
		out = append(out, l)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectionID != out[j].ConnectionID {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].AppID < out[j].AppID
	})
	return out
}

// Count returns the number of listeners of event.
func (h *Hub) Count(event string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[event])
}

// Events returns the events that have at least one listener, sorted.
func (h *Hub) Events() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.listeners))
	for e := range h.listeners {
		out = append(out, e)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Emit notifies every listener of event and returns how many notifications were delivered.
// Delivery continues past individual failures; the failures are joined into the returned error.
func (h *Hub) Emit(ctx context.Context, event string, payload json.RawMessage) (int, error) {
	if event == "" {
		return 0, ErrEmptyEvent
	}

	n := &Notification{
		Event:     event,
		Payload:   payload,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}

	delivered := 0
	var errs []error
	for _, l := range h.Listeners(event) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := h.publisher.Notify(ctx, l, n); err != nil {
			errs = append(errs, fmt.Errorf("%s - notify %s: %w", hubLogPrefix, l.ConnectionID, err))
			continue
		}
		delivered++
	}

	slog.Debug(fmt.Sprintf("%s - Emitted %s to %d listener(s)", hubLogPrefix, event, delivered))
	return delivered, errors.Join(errs...)
}

func (h *Hub) publishChanged(ctx context.Context, l dispatcher.Listener, event string, listening bool, count int) {
	err := h.publisher.PublishListenerChanged(ctx, &ListenerChangedEvent{
		Event:        event,
		AppID:        l.AppID,
		ConnectionID: l.ConnectionID,
		Listening:    listening,
		Listeners:    count,
		Timestamp:    h.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish listener change for %s: %v", hubLogPrefix, event, err))
	}
}
