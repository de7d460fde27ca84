package services

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/morezero/app-gateway/pkg/commsutil"
	"github.com/morezero/app-gateway/pkg/semver"
)

const catalogLogPrefix = "services:catalog"

// ErrInvalidCatalog is returned when a catalog document fails validation.
var ErrInvalidCatalog = errors.New("services: invalid catalog")

// CatalogService describes one remotely hosted service.
type CatalogService struct {
	Name         string   `yaml:"name"`
	Versions     []string `yaml:"versions"`
	DefaultMajor *int     `yaml:"defaultMajor,omitempty"`
	// Subject overrides the derived subject. It may contain a "{major}" placeholder.
	Subject string `yaml:"subject,omitempty"`
	// Aliases are extra names the service answers to.
	Aliases []string `yaml:"aliases,omitempty"`
}

type catalogDocument struct {
	Services []CatalogService `yaml:"services"`
}

// Target is a catalog alias resolved to a concrete version and subject.
type Target struct {
	Name    string
	Version string
	Major   uint64
	Subject string
}

// Catalog maps service aliases to COMMS subjects.
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]*CatalogService
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{byName: make(map[string]*CatalogService)}
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", catalogLogPrefix, path, err)
	}
	c := NewCatalog()
	if err := c.Load(data); err != nil {
		return nil, fmt.Errorf("%s - %s: %w", catalogLogPrefix, path, err)
	}
	return c, nil
}

// Load parses a YAML catalog document and replaces the catalog contents.
func (c *Catalog) Load(data []byte) error {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	staged := make(map[string]*CatalogService, len(doc.Services))
	for i := range doc.Services {
		svc := &doc.Services[i]
		if !semver.ValidateServiceName(svc.Name) {
			return fmt.Errorf("%w: service %d has invalid name %q", ErrInvalidCatalog, i, svc.Name)
		}
		if len(svc.Versions) == 0 {
			return fmt.Errorf("%w: service %s has no versions", ErrInvalidCatalog, svc.Name)
		}
		if _, err := semver.ParseVersions(svc.Versions); err != nil {
			return fmt.Errorf("%w: service %s: %v", ErrInvalidCatalog, svc.Name, err)
		}
		for _, name := range append([]string{svc.Name}, svc.Aliases...) {
			key := strings.ToLower(name)
			if _, dup := staged[key]; dup {
				return fmt.Errorf("%w: duplicate service name %q", ErrInvalidCatalog, name)
			}
			staged[key] = svc
		}
	}

	c.mu.Lock()
	c.byName = staged
	c.mu.Unlock()
	return nil
}

// Resolve maps alias (optionally carrying a version range) to a Target.
func (c *Catalog) Resolve(alias string) (Target, error) {
	ref, err := semver.ParseServiceRef(alias)
	if err != nil {
		return Target{}, err
	}

	c.mu.RLock()
	svc, ok := c.byName[strings.ToLower(ref.Name)]
	c.mu.RUnlock()
	if !ok {
		return Target{}, fmt.Errorf("%s - %w: %s", catalogLogPrefix, ErrUnknownAlias, ref.Name)
	}

	defaultMajor := -1
	if svc.DefaultMajor != nil {
		defaultMajor = *svc.DefaultMajor
	}
	v, err := semver.ResolveVersion(semver.ResolveVersionParams{
		Versions:     svc.Versions,
		Range:        ref.Range,
		DefaultMajor: defaultMajor,
	})
	if err != nil {
		return Target{}, fmt.Errorf("%s - %s: %w", catalogLogPrefix, alias, err)
	}

	subject := commsutil.BuildServiceSubject(svc.Name, v.Major())
	if svc.Subject != "" {
		subject = strings.ReplaceAll(svc.Subject, "{major}", fmt.Sprintf("%d", v.Major()))
	}
	return Target{Name: svc.Name, Version: v.Original(), Major: v.Major(), Subject: subject}, nil
}

// Names returns the canonical service names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	seen := make(map[string]bool)
	for _, svc := range c.byName {
		seen[svc.Name] = true
	}
	c.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
