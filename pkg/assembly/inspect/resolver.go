package inspect

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/jtang613/gometa/pkg/assembly/identity"
)

// ErrUnresolved is returned when no resolver can locate an assembly.
var ErrUnresolved = errors.New("assembly not resolved")

// DefaultExtensions are the file extensions probed for an assembly name.
var DefaultExtensions = []string{".dll", ".exe"}

// Resolver maps an assembly reference to the path of a file that defines it.
type Resolver interface {
	Resolve(ref identity.AssemblyReference) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ref identity.AssemblyReference) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ref identity.AssemblyReference) (string, error) {
	return f(ref)
}

// ProbeResolver looks for <name><ext> in each directory in order.
type ProbeResolver struct {
	Dirs       []string
	Extensions []string
}

// Resolve implements Resolver.
func (p ProbeResolver) Resolve(ref identity.AssemblyReference) (string, error) {
	name := ref.Name()
	if name == "" || filepath.Base(name) != name {
		return "", errors.Wrapf(ErrUnresolved, "bad assembly name %q", name)
	}
	exts := p.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	for _, dir := range p.Dirs {
		for _, ext := range exts {
			path := filepath.Join(dir, name+ext)
			if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
				return path, nil
			}
		}
	}
	return "", errors.Wrap(ErrUnresolved, name)
}

// Chain tries each resolver in order and returns the first hit. Individual
// failures are ignored.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ref identity.AssemblyReference) (string, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if path, err := r.Resolve(ref); err == nil {
			return path, nil
		}
	}
	return "", errors.Wrap(ErrUnresolved, ref.Name())
}

// SiblingFirst resolves next to the file at path, then through fallback.
func SiblingFirst(path string, fallback Resolver) Resolver {
	return Chain{ProbeResolver{Dirs: []string{filepath.Dir(path)}}, fallback}
}
