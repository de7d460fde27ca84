// Package events tracks event listeners and delivers notifications to them.
package events

import "encoding/json"

// Notification is delivered to a listener when one of its events fires.
type Notification struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// ListenerChangedEvent is emitted when a listener subscribes to or leaves an event.
type ListenerChangedEvent struct {
	Event        string `json:"event"`
	AppID        string `json:"appId"`
	ConnectionID string `json:"connectionId"`
	Listening    bool   `json:"listening"`
	Listeners    int    `json:"listeners"`
	Timestamp    string `json:"timestamp"`
}

// Emission is the message collaborators publish to fire an event.
type Emission struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
