package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

const logPrefix = "resolver:resolver"

// Resolver holds the resolution table and merges sources into it.
// Loads are infrequent; lookups run on every dispatched request.
type Resolver struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	configured bool
	loads      int
}

// NewResolver creates an empty, unconfigured Resolver.
func NewResolver() *Resolver {
	return &Resolver{entries: make(map[string]Entry)}
}

// Normalize returns the canonical table key for a method name.
func Normalize(method string) string {
	return strings.ToLower(method)
}

// Load reads a JSON source from path and merges its resolutions into the table.
// On failure the table is left exactly as it was and false is returned.
func (r *Resolver) Load(path string) bool {
	if err := r.LoadFile(path); err != nil {
		slog.Warn(fmt.Sprintf("%s - Rejected resolution source %s: %v", logPrefix, path, err))
		return false
	}
	slog.Info(fmt.Sprintf("%s - Loaded resolution source %s", logPrefix, path))
	return true
}

// LoadFile is Load with the reason for a failure: ErrUnreadable, ErrMalformed or ErrMissingResolutions.
func (r *Resolver) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return r.LoadBytes(data)
}

// LoadAll loads sources in order so later files override earlier ones key by key.
// It returns the number of sources that loaded successfully.
func (r *Resolver) LoadAll(paths ...string) int {
	loaded := 0
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if r.Load(p) {
			loaded++
		}
	}
	return loaded
}

// LoadBytes parses an in-memory source and merges it into the table.
func (r *Resolver) LoadBytes(data []byte) error {
	staged, err := parse(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range staged {
		r.entries[key] = entry
	}
	r.configured = true
	r.loads++
	slog.Debug(fmt.Sprintf("%s - merged %d resolutions, table size %d", logPrefix, len(staged), len(r.entries)))
	return nil
}

// parse decodes a source fully before anything touches the table.
func parse(data []byte) (map[string]Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty source", ErrMalformed)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw := bytes.TrimSpace(doc.Resolutions)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrMissingResolutions
	}

	var rules map[string]entryJSON
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("%w: resolutions: %v", ErrMalformed, err)
	}

	staged := make(map[string]Entry, len(rules))
	for method, rule := range rules {
		key := Normalize(method)
		staged[key] = rule.toEntry(key)
	}
	return staged, nil
}

// Lookup returns a copy of the entry for method, matched case-insensitively.
func (r *Resolver) Lookup(method string) (Entry, bool) {
	r.mu.RLock()
	entry, ok := r.entries[Normalize(method)]
	r.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if entry.AdditionalContext != nil {
		extra := make(map[string]interface{}, len(entry.AdditionalContext))
		for k, v := range entry.AdditionalContext {
			extra[k] = v
		}
		entry.AdditionalContext = extra
	}
	return entry, true
}

// ResolveAlias returns the service alias for method, or "" if none is configured.
func (r *Resolver) ResolveAlias(method string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[Normalize(method)].Alias
}

// HasEvent reports whether method is a subscription method.
func (r *Resolver) HasEvent(method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[Normalize(method)]
	return ok && entry.Event != ""
}

// HasDirectInterfaceSupport reports whether method is reached through the direct interface.
func (r *Resolver) HasDirectInterfaceSupport(method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[Normalize(method)]
	return ok && entry.Transport == DirectInterface
}

// IsConfigured reports whether at least one load has succeeded.
func (r *Resolver) IsConfigured() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configured
}

// Len returns the number of entries in the table.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Loads returns the number of successful loads so far.
func (r *Resolver) Loads() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loads
}

// Methods returns the normalized method names, sorted.
func (r *Resolver) Methods() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for key := range r.entries {
		out = append(out, key)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Entries returns a snapshot of all entries, sorted by method.
func (r *Resolver) Entries() []Entry {
	methods := r.Methods()
	out := make([]Entry, 0, len(methods))
	for _, m := range methods {
		if e, ok := r.Lookup(m); ok {
			out = append(out, e)
		}
	}
	return out
}
