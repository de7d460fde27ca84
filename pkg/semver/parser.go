// Package semver parses versioned service references and picks versions for them.
package semver

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const logPrefix = "semver:parser"

// ErrInvalidRef is returned for references that cannot be parsed.
var ErrInvalidRef = errors.New("semver: invalid service reference")

// ServiceRef holds the parsed components of a service alias.
type ServiceRef struct {
	// Service name (e.g., "org.rdk.System")
	Name string
	// Version range if specified (e.g., "^2", "2", "2.3.1"); empty string means no version
	Range string
	// Raw input string
	Raw string
}

var (
	serviceNameRegex  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseServiceRef parses a service alias.
//
// Supported formats:
//   - org.rdk.System           (no version)
//   - org.rdk.System@2         (major only)
//   - org.rdk.System@2.3.1     (exact version)
//   - org.rdk.System@^2.3.0    (caret range)
//   - org.rdk.System@>=2.0.0   (comparison range)
func ParseServiceRef(input string) (*ServiceRef, error) {
	raw := strings.TrimSpace(input)

	name, rangeStr, _ := strings.Cut(raw, "@")
	if !ValidateServiceName(name) {
		return nil, fmt.Errorf("%s - %w: %q", logPrefix, ErrInvalidRef, input)
	}
	if strings.Contains(raw, "@") && strings.TrimSpace(rangeStr) == "" {
		return nil, fmt.Errorf("%s - %w: empty version in %q", logPrefix, ErrInvalidRef, input)
	}

	return &ServiceRef{
		Name:  name,
		Range: strings.TrimSpace(rangeStr),
		Raw:   raw,
	}, nil
}

// String rebuilds the reference.
func (r *ServiceRef) String() string {
	if r.Range == "" {
		return r.Name
	}
	return r.Name + "@" + r.Range
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	major, err := strconv.Atoi(rangeStr)
	if err != nil {
		return -1
	}
	return major
}

// ValidateServiceName validates a service name (letters, digits, dots, hyphens, underscores).
func ValidateServiceName(name string) bool {
	return serviceNameRegex.MatchString(name)
}
