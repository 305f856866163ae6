package metadata

import (
	"math"
	"strings"

	version "github.com/hashicorp/go-version"
)

// ValidRuntimeVersion reports whether s is a runtime version marker: a 'v'
// followed by a dotted numeric version of two to four components.
func ValidRuntimeVersion(s string) bool {
	rest, ok := strings.CutPrefix(s, "v")
	if !ok {
		return false
	}
	_, ok = ParseDottedVersion(rest)
	return ok
}

// ParseDottedVersion parses a plain "a.b[.c[.d]]" version. Prefixes, pre-release
// and build suffixes are rejected, and every component must fit in an int32.
func ParseDottedVersion(s string) (*version.Version, bool) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 4 {
		return nil, false
	}
	for _, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return nil, false
		}
	}
	v, err := version.NewVersion(s)
	if err != nil || v.Prerelease() != "" || v.Metadata() != "" {
		return nil, false
	}
	for _, seg := range v.Segments64() {
		if seg > math.MaxInt32 {
			return nil, false
		}
	}
	return v, true
}
