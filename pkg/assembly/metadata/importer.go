package metadata

import (
	"github.com/jtang613/gometa/pkg/assembly/identity"
)

// PageSize is the number of tokens requested per enumeration call.
const PageSize = 16

// Importer reads references, files and attributes through a Scope.
type Importer struct {
	scope Scope
}

// NewImporter returns an importer over an open scope. The importer does not
// own the scope.
func NewImporter(s Scope) *Importer {
	return &Importer{scope: s}
}

// References returns every assembly reference in table order. Any failure
// fails the whole enumeration with ErrImportFailed.
func (im *Importer) References() ([]identity.AssemblyReference, error) {
	var (
		refs []identity.AssemblyReference
		e    Enum
		page [PageSize]Token
	)
	for {
		n, err := im.scope.EnumAssemblyRefs(&e, page[:])
		if err != nil {
			return nil, importFailed("enumerate assembly references", err)
		}
		if n == 0 {
			return refs, nil
		}
		for _, tok := range page[:n] {
			raw, err := im.scope.AssemblyRefProps(tok)
			if err != nil {
				return nil, importFailed("assembly reference "+tok.String(), err)
			}
			refs = append(refs, identity.Decode(raw))
		}
	}
}

// Files returns every file of a multi-file assembly in table order.
func (im *Importer) Files() ([]identity.FileReference, error) {
	var (
		files []identity.FileReference
		e     Enum
		page  [PageSize]Token
	)
	for {
		n, err := im.scope.EnumFiles(&e, page[:])
		if err != nil {
			return nil, importFailed("enumerate files", err)
		}
		if n == 0 {
			return files, nil
		}
		for _, tok := range page[:n] {
			props, err := im.scope.FileProps(tok)
			if err != nil {
				return nil, importFailed("file "+tok.String(), err)
			}
			files = append(files, identity.NewFileReference(props.Name))
		}
	}
}

// CustomAttribute returns a copy of the value blob of the attribute named
// typeName on owner. Every failure reports the attribute as absent.
func (im *Importer) CustomAttribute(owner Token, typeName string) ([]byte, bool) {
	b, ok, err := im.scope.CustomAttributeByName(owner, typeName)
	if err != nil || !ok {
		return nil, false
	}
	return append([]byte{}, b...), true
}

// AssemblyAttribute looks up an attribute on the assembly itself.
func (im *Importer) AssemblyAttribute(typeName string) ([]byte, bool) {
	tok, err := im.scope.AssemblyToken()
	if err != nil {
		return nil, false
	}
	return im.CustomAttribute(tok, typeName)
}

// Identity decodes the identity of the assembly the scope describes.
func (im *Importer) Identity() (identity.AssemblyReference, error) {
	tok, err := im.scope.AssemblyToken()
	if err != nil {
		return identity.AssemblyReference{}, importFailed("assembly", err)
	}
	raw, err := im.scope.AssemblyProps(tok)
	if err != nil {
		return identity.AssemblyReference{}, importFailed("assembly", err)
	}
	return identity.Decode(raw), nil
}
