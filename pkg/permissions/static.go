// Package permissions decides whether a caller may use a permission group.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/morezero/app-gateway/pkg/dispatcher"
)

// ErrInvalidGrants is returned when a grant list cannot be parsed.
var ErrInvalidGrants = errors.New("permissions: invalid grant list")

// Static grants permission groups from a fixed app → groups table.
type Static struct {
	grants map[string]map[string]struct{}
}

// NewStatic creates a Static checker from app → groups.
func NewStatic(grants map[string][]string) *Static {
	s := &Static{grants: make(map[string]map[string]struct{}, len(grants))}
	for app, groups := range grants {
		set := make(map[string]struct{}, len(groups))
		for _, g := range groups {
			set[g] = struct{}{}
		}
		s.grants[app] = set
	}
	return s
}

// ParseGrants parses "app=g1|g2,app2=g3" into app → groups.
func ParseGrants(raw string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		app, groups, ok := strings.Cut(part, "=")
		app = strings.TrimSpace(app)
		if !ok || app == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidGrants, part)
		}
		for _, g := range strings.Split(groups, "|") {
			if g = strings.TrimSpace(g); g != "" {
				out[app] = append(out[app], g)
			}
		}
		if len(out[app]) == 0 {
			return nil, fmt.Errorf("%w: no groups for %q", ErrInvalidGrants, app)
		}
	}
	return out, nil
}

// CheckPermission reports whether caller.AppID holds group.
func (s *Static) CheckPermission(_ context.Context, caller dispatcher.RequestContext, group string) (bool, error) {
	_, ok := s.grants[caller.AppID][group]
	return ok, nil
}

// Grants returns the groups held by app, sorted.
func (s *Static) Grants(app string) []string {
	out := make([]string, 0, len(s.grants[app]))
	for g := range s.grants[app] {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// AllowAll grants every group to every caller.
type AllowAll struct{}

// CheckPermission always grants.
func (AllowAll) CheckPermission(context.Context, dispatcher.RequestContext, string) (bool, error) {
	return true, nil
}
