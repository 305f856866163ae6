package assembly

import (
	"strings"

	version "github.com/hashicorp/go-version"

	"github.com/jtang613/gometa/pkg/assembly/metadata"
)

// FrameworkName is a parsed target framework moniker such as
// ".NETFramework,Version=v4.7.2,Profile=Client".
type FrameworkName struct {
	Identifier string `json:"identifier"`
	Version    string `json:"version"`
	Profile    string `json:"profile,omitempty"`
}

// String formats the name the way the attribute spells it.
func (f FrameworkName) String() string {
	s := f.Identifier + ",Version=v" + f.Version
	if f.Profile != "" {
		s += ",Profile=" + f.Profile
	}
	return s
}

// SemVer returns the version as a comparable value.
func (f FrameworkName) SemVer() *version.Version {
	v, _ := metadata.ParseDottedVersion(f.Version)
	return v
}

// ParseFrameworkName parses a framework name. The identifier and a Version
// component are required; keys are matched case-insensitively.
func ParseFrameworkName(s string) (*FrameworkName, bool) {
	parts := strings.Split(s, ",")
	f := &FrameworkName{Identifier: strings.TrimSpace(parts[0])}
	if f.Identifier == "" {
		return nil, false
	}
	for _, p := range parts[1:] {
		key, val, ok := strings.Cut(p, "=")
		if !ok {
			return nil, false
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch {
		case strings.EqualFold(key, "Version"):
			if f.Version != "" {
				return nil, false
			}
			val = strings.TrimPrefix(strings.TrimPrefix(val, "v"), "V")
			if _, ok := metadata.ParseDottedVersion(val); !ok {
				return nil, false
			}
			f.Version = val
		case strings.EqualFold(key, "Profile"):
			if f.Profile != "" || val == "" {
				return nil, false
			}
			f.Profile = val
		default:
			return nil, false
		}
	}
	if f.Version == "" {
		return nil, false
	}
	return f, true
}
