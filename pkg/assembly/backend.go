package assembly

import (
	"github.com/rs/zerolog"

	"github.com/jtang613/gometa/pkg/assembly/identity"
	"github.com/jtang613/gometa/pkg/assembly/inspect"
	"github.com/jtang613/gometa/pkg/assembly/metadata"
)

// Strategy selects how references, files and attributes are read.
type Strategy string

const (
	// StrategyTables pages through the metadata tables with the importer.
	StrategyTables Strategy = "tables"
	// StrategyInspect loads the module and decodes attributes fully,
	// resolving dependencies from disk when needed.
	StrategyInspect Strategy = "inspect"
)

const targetFrameworkAttribute = "System.Runtime.Versioning.TargetFrameworkAttribute"

// backend is the capability an Assembly reads through. It is chosen once
// when the assembly is opened.
type backend interface {
	dependencies() ([]identity.AssemblyReference, error)
	files() ([]identity.FileReference, error)
	// framework returns the first argument of the target framework
	// attribute.
	framework() (string, bool)
	close() error
}

type tableBackend struct {
	im *metadata.Importer
}

func newTableBackend(s metadata.Scope) *tableBackend {
	return &tableBackend{im: metadata.NewImporter(s)}
}

func (b *tableBackend) dependencies() ([]identity.AssemblyReference, error) {
	return b.im.References()
}

func (b *tableBackend) files() ([]identity.FileReference, error) {
	return b.im.Files()
}

func (b *tableBackend) framework() (string, bool) {
	value, ok := b.im.AssemblyAttribute(targetFrameworkAttribute)
	if !ok {
		return "", false
	}
	return metadata.FirstStringArg(value)
}

func (b *tableBackend) close() error { return nil }

type inspectBackend struct {
	in *inspect.Inspector
}

func newInspectBackend(s *metadata.TableScope, path string, r inspect.Resolver, log zerolog.Logger) *inspectBackend {
	return &inspectBackend{in: inspect.New(s, path, r, log)}
}

func (b *inspectBackend) dependencies() ([]identity.AssemblyReference, error) {
	return b.in.ReferencedAssemblies()
}

func (b *inspectBackend) files() ([]identity.FileReference, error) {
	return b.in.Files()
}

func (b *inspectBackend) framework() (string, bool) {
	a, ok := b.in.Attribute(targetFrameworkAttribute)
	if !ok {
		return "", false
	}
	return a.StringArg(0)
}

func (b *inspectBackend) close() error { return b.in.Close() }
