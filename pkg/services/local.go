// Package services provides the backing-service handles the dispatcher invokes.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/morezero/app-gateway/pkg/dispatcher"
)

const localLogPrefix = "services:local"

// Sentinel errors for the services package.
var (
	ErrUnknownAlias = errors.New("services: unknown alias")
	ErrNotConnected = errors.New("services: transport not connected")
)

// Service handles generic invocations.
type Service interface {
	Call(ctx context.Context, call dispatcher.Call) (string, error)
}

// DirectService is a Service that also exposes the direct interface.
type DirectService interface {
	Service
	HandleRequest(ctx context.Context, method, payload string, caller dispatcher.RequestContext) (string, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, call dispatcher.Call) (string, error)

// Call calls f.
func (f ServiceFunc) Call(ctx context.Context, call dispatcher.Call) (string, error) {
	return f(ctx, call)
}

// LocalProvider hands out reference-counted handles to in-process services.
type LocalProvider struct {
	mu       sync.RWMutex
	services map[string]*localEntry
}

type localEntry struct {
	svc  Service
	refs atomic.Int64
}

// NewLocalProvider creates an empty LocalProvider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{services: make(map[string]*localEntry)}
}

// Register binds alias to svc, replacing any previous binding.
func (p *LocalProvider) Register(alias string, svc Service) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services[alias] = &localEntry{svc: svc}
	slog.Info(fmt.Sprintf("%s - Registered service %s", localLogPrefix, alias))
}

// Remove unbinds alias. Handles already acquired keep working until released.
func (p *LocalProvider) Remove(alias string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.services[alias]; !ok {
		return false
	}
	delete(p.services, alias)
	return true
}

// Aliases returns the registered aliases, sorted.
func (p *LocalProvider) Aliases() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.services))
	for a := range p.services {
		out = append(out, a)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// InUse returns the number of unreleased handles for alias.
func (p *LocalProvider) InUse(alias string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.services[alias]; ok {
		return int(e.refs.Load())
	}
	return 0
}

// Acquire returns a handle to the service bound to alias.
func (p *LocalProvider) Acquire(ctx context.Context, alias string) (dispatcher.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	e, ok := p.services[alias]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s - %w: %s", localLogPrefix, ErrUnknownAlias, alias)
	}

	e.refs.Add(1)
	h := &localHandle{entry: e}
	if direct, ok := e.svc.(DirectService); ok {
		return &localDirectHandle{localHandle: h, direct: direct}, nil
	}
	return h, nil
}

type localHandle struct {
	entry *localEntry
	once  sync.Once
}

func (h *localHandle) Invoke(ctx context.Context, call dispatcher.Call) (string, error) {
	return h.entry.svc.Call(ctx, call)
}

func (h *localHandle) Release() {
	h.once.Do(func() { h.entry.refs.Add(-1) })
}

type localDirectHandle struct {
	*localHandle
	direct DirectService
}

func (h *localDirectHandle) HandleRequest(ctx context.Context, method, payload string, caller dispatcher.RequestContext) (string, error) {
	return h.direct.HandleRequest(ctx, method, payload, caller)
}
