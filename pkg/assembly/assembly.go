// Package assembly reads what a build needs to know about a managed
// assembly: the assemblies it references, the files it is made of, the
// framework it targets and the runtime version it was built against.
package assembly

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/jtang613/gometa/internal/lazy"
	"github.com/jtang613/gometa/internal/logging"
	"github.com/jtang613/gometa/pkg/assembly/identity"
	"github.com/jtang613/gometa/pkg/assembly/image"
	"github.com/jtang613/gometa/pkg/assembly/inspect"
	"github.com/jtang613/gometa/pkg/assembly/metadata"
)

var (
	// ErrNotFound is returned by Open when the path does not exist.
	ErrNotFound = errors.New("assembly not found")
	// ErrNotAnAssembly is returned by Open when the file is not a managed
	// module.
	ErrNotAnAssembly = errors.New("not a managed assembly")
)

// openError reports why a file is not a managed module. It matches
// ErrNotAnAssembly and unwraps to the decoding failure.
type openError struct {
	path string
	err  error
}

func (e *openError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.path, ErrNotAnAssembly, e.err)
}

func (e *openError) Unwrap() error { return e.err }

func (e *openError) Is(target error) bool { return target == ErrNotAnAssembly }

type options struct {
	log       zerolog.Logger
	strategy  Strategy
	resolver  inspect.Resolver
	probeDirs []string
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithStrategy selects the backend. The default is StrategyTables.
func WithStrategy(s Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithResolver sets how StrategyInspect locates dependencies that are not
// next to the assembly.
func WithResolver(r inspect.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithProbeDirs adds directories StrategyInspect searches for dependencies
// by name, before any resolver set with WithResolver.
func WithProbeDirs(dirs ...string) Option {
	return func(o *options) { o.probeDirs = append(o.probeDirs, dirs...) }
}

// Assembly is an opened assembly. Each accessor computes its result once and
// returns the same value to every caller, including concurrent ones.
// Accessors must not be called after Close.
type Assembly struct {
	path  string
	src   *image.Source
	scope *metadata.TableScope
	impl  backend
	log   zerolog.Logger

	deps      lazy.Cell[[]identity.AssemblyReference]
	files     lazy.Cell[[]identity.FileReference]
	framework lazy.Cell[*FrameworkName]
	runtime   lazy.Cell[string]
	rawVer    lazy.Cell[string]
	info      lazy.Cell[*Info]

	closeOnce sync.Once
	closeErr  error
}

// Open opens the assembly at path.
func Open(path string, opts ...Option) (*Assembly, error) {
	o := options{log: zerolog.Nop(), strategy: StrategyTables}
	for _, opt := range opts {
		opt(&o)
	}
	if o.strategy != StrategyTables && o.strategy != StrategyInspect {
		return nil, errors.Errorf("unknown strategy %q", o.strategy)
	}

	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(ErrNotFound, path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if !fi.Mode().IsRegular() {
		return nil, &openError{path: path, err: errors.New("not a regular file")}
	}

	src, err := image.OpenSource(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	a, err := open(path, src, o)
	if err != nil {
		logging.DeferClose(o.log, src, "failed to release image")
		return nil, err
	}
	return a, nil
}

func open(path string, src *image.Source, o options) (*Assembly, error) {
	scope, err := metadata.Load(src.Bytes())
	if err != nil {
		return nil, &openError{path: path, err: err}
	}

	log := o.log.With().Str("component", "assembly").Str("path", path).Logger()
	var impl backend
	switch o.strategy {
	case StrategyInspect:
		var r inspect.Resolver
		if len(o.probeDirs) > 0 {
			r = inspect.Chain{inspect.ProbeResolver{Dirs: o.probeDirs}, o.resolver}
		} else {
			r = o.resolver
		}
		impl = newInspectBackend(scope, path, r, log)
	default:
		impl = newTableBackend(scope)
	}
	log.Debug().Str("strategy", string(o.strategy)).Stringer("kind", scope.Headers.Kind).Msg("opened")
	return newAssembly(path, src, scope, impl, log), nil
}

func newAssembly(path string, src *image.Source, scope *metadata.TableScope, impl backend, log zerolog.Logger) *Assembly {
	return &Assembly{path: path, src: src, scope: scope, impl: impl, log: log}
}

// With opens the assembly at path, calls fn and closes it again, whether or
// not fn succeeds.
func With(path string, fn func(*Assembly) error, opts ...Option) (err error) {
	a, err := Open(path, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

// Path returns the path the assembly was opened from.
func (a *Assembly) Path() string { return a.path }

// Dependencies returns the referenced assemblies in table order. Failing to
// read any reference fails the whole list with metadata.ErrImportFailed.
// The returned slice is shared and must not be modified.
func (a *Assembly) Dependencies() ([]identity.AssemblyReference, error) {
	return a.deps.Get(func() ([]identity.AssemblyReference, error) {
		refs, err := a.impl.dependencies()
		if err != nil {
			return nil, err
		}
		a.log.Debug().Int("count", len(refs)).Msg("read dependencies")
		return refs, nil
	})
}

// Files returns the other files of a multi-file assembly. The returned slice
// is shared and must not be modified.
func (a *Assembly) Files() ([]identity.FileReference, error) {
	return a.files.Get(func() ([]identity.FileReference, error) {
		files, err := a.impl.files()
		if err != nil {
			return nil, err
		}
		a.log.Debug().Int("count", len(files)).Msg("read files")
		return files, nil
	})
}

// FrameworkMarker returns the framework named by the assembly's target
// framework attribute. A missing or unreadable attribute reports false.
// The result is a copy of the cached value.
func (a *Assembly) FrameworkMarker() (FrameworkName, bool) {
	f, _ := a.framework.Get(func() (*FrameworkName, error) {
		s, ok := a.impl.framework()
		if !ok {
			a.log.Debug().Msg("no target framework attribute")
			return nil, nil
		}
		f, ok := ParseFrameworkName(s)
		if !ok {
			a.log.Warn().Str("value", s).Msg("unparsable target framework")
			return nil, nil
		}
		return f, nil
	})
	if f == nil {
		return FrameworkName{}, false
	}
	return *f, true
}

// RuntimeVersion returns the runtime version text of the metadata root, such
// as "v4.0.30319", or "" when it is missing or not a valid version.
func (a *Assembly) RuntimeVersion() string {
	v, _ := a.runtime.Get(func() (string, error) {
		v := metadata.RuntimeVersion(a.src.Bytes())
		if v == "" {
			a.log.Warn().Msg("no valid runtime version")
		}
		return v, nil
	})
	return v
}

// IsWinMD reports whether the assembly is a Windows metadata file and, if
// so, whether it also holds managed code. Both are substring tests on the
// raw runtime version text and are a heuristic only.
func (a *Assembly) IsWinMD() (winmd, managed bool) {
	raw, _ := a.rawVer.Get(func() (string, error) {
		v, err := metadata.ReadVersion(a.src.Bytes())
		if err != nil {
			a.log.Debug().Err(err).Msg("no metadata version")
		}
		return v, nil
	})
	if !strings.Contains(raw, "WindowsRuntime") {
		return false, false
	}
	return true, strings.Contains(strings.ToUpper(raw), "CLR")
}

// Info summarises the assembly's identity and image.
func (a *Assembly) Info() (*Info, error) {
	return a.info.Get(func() (*Info, error) {
		m, err := a.scope.Tables.Module()
		if err != nil {
			return nil, err
		}
		data := a.src.Bytes()
		winmd, _ := a.IsWinMD()
		info := &Info{
			Path:           a.path,
			Module:         m.Name,
			MVID:           m.MVID,
			Kind:           a.scope.Headers.Kind.String(),
			Machine:        Machine(a.scope.Headers.Machine),
			RuntimeVersion: a.RuntimeVersion(),
			WinMD:          winmd,
			Size:           len(data),
			Fingerprint:    fmt.Sprintf("%016x", xxh3.Hash(data)),
		}
		if a.scope.Tables.RowCount(metadata.TableAssembly) > 0 {
			id, err := metadata.NewImporter(a.scope).Identity()
			if err != nil {
				return nil, err
			}
			info.Identity = &id
		}
		return info, nil
	})
}

// Close releases the assembly. It is safe to call more than once.
func (a *Assembly) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if err := a.impl.close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.scope.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.src.Close(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			a.closeErr = errors.Wrapf(errs[0], "close %s", a.path)
		}
	})
	return a.closeErr
}
