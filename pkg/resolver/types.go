// Package resolver builds and serves the method-to-service resolution table.
package resolver

import (
	"encoding/json"
	"errors"
)

// TransportMode selects how a resolved service is reached.
type TransportMode int

const (
	// StandardInvocation forwards through the generic call surface of a service handle.
	StandardInvocation TransportMode = iota
	// DirectInterface calls the narrower direct method on a service handle.
	DirectInterface
)

// String returns the config-facing name of the mode.
func (m TransportMode) String() string {
	if m == DirectInterface {
		return "direct"
	}
	return "standard"
}

// Entry is one routing rule for a method.
type Entry struct {
	Method            string                 `json:"method"`
	Alias             string                 `json:"alias"`
	Transport         TransportMode          `json:"-"`
	PermissionGroup   string                 `json:"permissionGroup,omitempty"`
	Event             string                 `json:"event,omitempty"`
	IncludeContext    bool                   `json:"includeContext,omitempty"`
	AdditionalContext map[string]interface{} `json:"additionalContext,omitempty"`
}

// IsSubscription reports whether the method registers interest in an event.
func (e Entry) IsSubscription() bool {
	return e.Event != ""
}

// entryJSON is the on-disk form of a resolution rule.
type entryJSON struct {
	Alias              string                 `json:"alias"`
	UseDirectInterface bool                   `json:"useDirectInterface"`
	PermissionGroup    string                 `json:"permissionGroup,omitempty"`
	Event              string                 `json:"event,omitempty"`
	IncludeContext     bool                   `json:"includeContext"`
	AdditionalContext  map[string]interface{} `json:"additionalContext,omitempty"`
}

func (j entryJSON) toEntry(method string) Entry {
	mode := StandardInvocation
	if j.UseDirectInterface {
		mode = DirectInterface
	}
	return Entry{
		Method:            method,
		Alias:             j.Alias,
		Transport:         mode,
		PermissionGroup:   j.PermissionGroup,
		Event:             j.Event,
		IncludeContext:    j.IncludeContext,
		AdditionalContext: j.AdditionalContext,
	}
}

// Document is the root of a resolution source.
// Resolutions is kept raw so a missing key can be told apart from an empty object.
type Document struct {
	Resolutions json.RawMessage `json:"resolutions"`
}

// Load errors.
var (
	// ErrUnreadable indicates the source could not be read.
	ErrUnreadable = errors.New("resolver: source unreadable")

	// ErrMalformed indicates the source is not well-formed JSON of the expected shape.
	ErrMalformed = errors.New("resolver: malformed source")

	// ErrMissingResolutions indicates the source has no top-level "resolutions" object.
	ErrMissingResolutions = errors.New("resolver: missing resolutions key")
)
