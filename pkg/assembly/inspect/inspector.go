// Package inspect loads a module fully and answers questions about it by
// decoding its tables and attribute payloads, resolving dependencies from
// disk when a payload refers to types declared elsewhere.
package inspect

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jtang613/gometa/internal/lazy"
	"github.com/jtang613/gometa/pkg/assembly/identity"
	"github.com/jtang613/gometa/pkg/assembly/metadata"
)

// Attribute is a decoded assembly-level custom attribute. Err is set when the
// payload could not be decoded; Name is always present.
type Attribute struct {
	Name  string              `json:"name"`
	Fixed []metadata.Value    `json:"fixed,omitempty"`
	Named []metadata.NamedArg `json:"named,omitempty"`
	Err   error               `json:"-"`
}

// NamedValue returns the value of the named argument name.
func (a *Attribute) NamedValue(name string) (metadata.Value, bool) {
	for _, n := range a.Named {
		if n.Name == name {
			return n.Value, true
		}
	}
	return metadata.Value{}, false
}

// StringArg returns the i'th fixed argument if it is a non-null string.
func (a *Attribute) StringArg(i int) (string, bool) {
	if i < 0 || i >= len(a.Fixed) {
		return "", false
	}
	s, ok := a.Fixed[i].Value.(string)
	return s, ok && a.Fixed[i].Type == metadata.ElementString
}

type dependency struct {
	scope *metadata.TableScope
	err   error
}

// Inspector answers reference, file and attribute queries for one module.
type Inspector struct {
	scope    *metadata.TableScope
	owned    bool
	path     string
	resolver Resolver
	log      zerolog.Logger

	refs  lazy.Cell[[]identity.AssemblyReference]
	attrs lazy.Cell[[]Attribute]

	mu   sync.Mutex
	deps map[string]dependency
}

// New returns an inspector over scope, which the caller keeps ownership of.
// path is the file scope was loaded from; dependencies are looked up next to
// it first and then through resolver, which may be nil.
func New(scope *metadata.TableScope, path string, resolver Resolver, log zerolog.Logger) *Inspector {
	return &Inspector{
		scope:    scope,
		path:     path,
		resolver: SiblingFirst(path, resolver),
		log:      log,
		deps:     make(map[string]dependency),
	}
}

// Open loads the module at path. Close releases it.
func Open(path string, resolver Resolver, log zerolog.Logger) (*Inspector, error) {
	scope, err := metadata.OpenScope(path)
	if err != nil {
		return nil, err
	}
	in := New(scope, path, resolver, log)
	in.owned = true
	return in, nil
}

// Scope returns the module's metadata scope.
func (in *Inspector) Scope() *metadata.TableScope { return in.scope }

// ReferencedAssemblies returns the identities the module references, in
// table order.
func (in *Inspector) ReferencedAssemblies() ([]identity.AssemblyReference, error) {
	return in.refs.Get(func() ([]identity.AssemblyReference, error) {
		n := in.scope.Tables.RowCount(metadata.TableAssemblyRef)
		refs := make([]identity.AssemblyReference, 0, n)
		for rid := uint32(1); rid <= n; rid++ {
			tok := metadata.NewToken(metadata.TableAssemblyRef, rid)
			raw, err := in.scope.AssemblyRefProps(tok)
			if err != nil {
				return nil, errors.WithStack(&metadata.ImportError{Op: "assembly reference " + tok.String(), Err: err})
			}
			refs = append(refs, identity.Decode(raw))
		}
		return refs, nil
	})
}

// Files returns the other files of a multi-file assembly.
func (in *Inspector) Files() ([]identity.FileReference, error) {
	n := in.scope.Tables.RowCount(metadata.TableFile)
	files := make([]identity.FileReference, 0, n)
	for rid := uint32(1); rid <= n; rid++ {
		tok := metadata.NewToken(metadata.TableFile, rid)
		props, err := in.scope.FileProps(tok)
		if err != nil {
			return nil, errors.WithStack(&metadata.ImportError{Op: "file " + tok.String(), Err: err})
		}
		files = append(files, identity.NewFileReference(props.Name))
	}
	return files, nil
}

// CustomAttributes decodes every attribute on the assembly. A payload that
// cannot be decoded is reported through the attribute's Err.
func (in *Inspector) CustomAttributes() ([]Attribute, error) {
	return in.attrs.Get(func() ([]Attribute, error) {
		tok, err := in.scope.AssemblyToken()
		if err != nil {
			return nil, err
		}
		rows, err := in.scope.CustomAttributes(tok)
		if err != nil {
			return nil, err
		}
		out := make([]Attribute, 0, len(rows))
		for _, row := range rows {
			a := Attribute{Name: row.Type.FullName()}
			if args, err := in.decode(row); err != nil {
				a.Err = err
				in.log.Debug().Err(err).Str("attribute", a.Name).Msg("undecodable attribute")
			} else {
				a.Fixed, a.Named = args.Fixed, args.Named
			}
			out = append(out, a)
		}
		return out, nil
	})
}

// Attribute returns the first decoded assembly attribute of the named type.
func (in *Inspector) Attribute(name string) (*Attribute, bool) {
	attrs, err := in.CustomAttributes()
	if err != nil {
		return nil, false
	}
	for i := range attrs {
		if attrs[i].Name == name && attrs[i].Err == nil {
			return &attrs[i], true
		}
	}
	return nil, false
}

func (in *Inspector) decode(row metadata.AttributeRow) (*metadata.Arguments, error) {
	sig, err := metadata.ParseMethodSig(row.Ctor, in.scope)
	if err != nil {
		return nil, err
	}
	return metadata.DecodeAttribute(sig, row.Value, in.enumUnderlying)
}

func (in *Inspector) enumUnderlying(t metadata.TypeName) (metadata.ElementType, error) {
	if t.Assembly == "" {
		return in.scope.EnumUnderlying(t.Namespace, t.Name)
	}
	dep, err := in.dependency(t.Assembly)
	if err != nil {
		return 0, errors.Wrapf(err, "enum %s", t.FullName())
	}
	return dep.EnumUnderlying(t.Namespace, t.Name)
}

// dependency loads the referenced assembly named name, once.
func (in *Inspector) dependency(name string) (*metadata.TableScope, error) {
	key := strings.ToLower(name)

	in.mu.Lock()
	defer in.mu.Unlock()
	if d, ok := in.deps[key]; ok {
		return d.scope, d.err
	}

	d := in.load(name)
	if d.err != nil {
		in.log.Warn().Err(d.err).Str("assembly", name).Msg("dependency not loaded")
	}
	in.deps[key] = d
	return d.scope, d.err
}

func (in *Inspector) load(name string) dependency {
	refs, err := in.ReferencedAssemblies()
	if err != nil {
		return dependency{err: err}
	}
	for _, ref := range refs {
		if !strings.EqualFold(ref.Name(), name) {
			continue
		}
		path, err := in.resolver.Resolve(ref)
		if err != nil {
			return dependency{err: err}
		}
		in.log.Debug().Str("assembly", name).Str("path", path).Msg("loading dependency")
		scope, err := metadata.OpenScope(path)
		return dependency{scope: scope, err: err}
	}
	return dependency{err: errors.Wrapf(ErrUnresolved, "%s is not referenced", name)}
}

// Close releases loaded dependencies and, if the inspector opened it, the
// module itself.
func (in *Inspector) Close() error {
	in.mu.Lock()
	deps := in.deps
	in.deps = make(map[string]dependency)
	in.mu.Unlock()

	var first error
	for _, d := range deps {
		if d.scope == nil {
			continue
		}
		if err := d.scope.Close(); err != nil && first == nil {
			first = err
		}
	}
	if in.owned {
		if err := in.scope.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
