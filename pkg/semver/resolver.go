package semver

import (
	"errors"
	"fmt"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// ErrNoMatch is returned when no version satisfies the requested range.
var ErrNoMatch = errors.New("semver: no matching version")

// ResolveVersionParams holds parameters for ResolveVersion.
type ResolveVersionParams struct {
	Versions     []string
	Range        string // SemVer range, major-only, exact, or empty
	DefaultMajor int    // -1 means no default
}

// ResolveVersion finds the best matching version for a given range.
// Stable versions are preferred over prereleases unless only prereleases match.
func ResolveVersion(params ResolveVersionParams) (*masterminds.Version, error) {
	versions, err := ParseVersions(params.Versions)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s - %w: no versions", resolverLogPrefix, ErrNoMatch)
	}

	var matching []*masterminds.Version
	switch {
	case params.Range == "" && params.DefaultMajor >= 0:
		matching = inMajor(versions, uint64(params.DefaultMajor))
	case params.Range == "":
		matching = inMajor(versions, versions[0].Major())
	case IsMajorOnly(params.Range):
		matching = inMajor(versions, uint64(ExtractMajorFromRange(params.Range)))
	default:
		constraint, err := masterminds.NewConstraint(params.Range)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid range %q: %w", resolverLogPrefix, params.Range, err)
		}
		for _, v := range versions {
			if constraint.Check(v) {
				matching = append(matching, v)
			}
		}
	}

	if best := latest(matching); best != nil {
		return best, nil
	}
	return nil, fmt.Errorf("%s - %w for %q", resolverLogPrefix, ErrNoMatch, params.Range)
}

// ParseVersions parses and sorts version strings descending.
func ParseVersions(raw []string) ([]*masterminds.Version, error) {
	out := make([]*masterminds.Version, 0, len(raw))
	for _, s := range raw {
		v, err := masterminds.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid version %q: %w", resolverLogPrefix, s, err)
		}
		out = append(out, v)
	}
	sort.Sort(sort.Reverse(masterminds.Collection(out)))
	return out, nil
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}
	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// --- internal helpers ---

func inMajor(sorted []*masterminds.Version, major uint64) []*masterminds.Version {
	var out []*masterminds.Version
	for _, v := range sorted {
		if v.Major() == major {
			out = append(out, v)
		}
	}
	return out
}

// latest returns the first stable version of a descending slice, else the first version.
func latest(sorted []*masterminds.Version) *masterminds.Version {
	for _, v := range sorted {
		if v.Prerelease() == "" {
			return v
		}
	}
	if len(sorted) > 0 {
		return sorted[0]
	}
	return nil
}
