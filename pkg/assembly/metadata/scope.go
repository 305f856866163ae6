package metadata

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/jtang613/gometa/pkg/assembly/identity"
	"github.com/jtang613/gometa/pkg/assembly/image"
)

// Enum is the position of a paged enumeration. The zero value starts at the
// first row; only the Scope that fills pages interprets it.
type Enum struct {
	Next uint32
}

// FileProps are the columns of a File row.
type FileProps struct {
	Name      string
	Flags     uint32
	HashValue []byte
}

// Scope is an open metadata scope that can enumerate references and files
// in pages and look up assembly-level attributes.
type Scope interface {
	// EnumAssemblyRefs fills page with the next AssemblyRef tokens and
	// returns how many it wrote. Zero means the enumeration is done.
	EnumAssemblyRefs(e *Enum, page []Token) (int, error)
	AssemblyRefProps(tok Token) (identity.Raw, error)
	EnumFiles(e *Enum, page []Token) (int, error)
	FileProps(tok Token) (FileProps, error)
	// AssemblyToken returns the token of the Assembly row.
	AssemblyToken() (Token, error)
	AssemblyProps(tok Token) (identity.Raw, error)
	// CustomAttributeByName returns the value blob of the first attribute on
	// owner whose type is the fully-qualified name.
	CustomAttributeByName(owner Token, name string) ([]byte, bool, error)
	Close() error
}

// TableScope is a Scope over the parsed tables of one image.
type TableScope struct {
	Headers *image.Headers
	Root    *Root
	Streams []StreamHeader
	Tables  *Tables

	data   []byte
	closer io.Closer
	once   sync.Once
	err    error
}

var _ Scope = (*TableScope)(nil)

// Load parses the image in data. The scope borrows data.
func Load(data []byte) (*TableScope, error) {
	c := image.NewCursor(data)
	h, err := image.Locate(c)
	if err != nil {
		return nil, err
	}
	root, err := LocateRoot(c, h)
	if err != nil {
		return nil, err
	}
	streams, err := root.Streams(c)
	if err != nil {
		return nil, err
	}

	tables, ok := root.Stream(c, streams, StreamTables)
	if !ok {
		if tables, ok = root.Stream(c, streams, StreamTablesUnopt); !ok {
			return nil, malformedf("no table stream")
		}
	}
	strs, _ := root.Stream(c, streams, StreamStrings)
	blobs, _ := root.Stream(c, streams, StreamBlob)
	guids, _ := root.Stream(c, streams, StreamGUID)

	t, err := ParseTables(tables, StringHeap{strs}, BlobHeap{blobs}, GUIDHeap{guids})
	if err != nil {
		return nil, err
	}
	return &TableScope{Headers: h, Root: root, Streams: streams, Tables: t, data: data}, nil
}

// OpenScope maps the file at path and loads it. Close releases the mapping.
func OpenScope(path string) (*TableScope, error) {
	src, err := image.OpenSource(path)
	if err != nil {
		return nil, err
	}
	s, err := Load(src.Bytes())
	if err != nil {
		src.Close()
		return nil, errors.Wrapf(err, "load %s", path)
	}
	s.closer = src
	return s, nil
}

// Bytes returns the image the scope was loaded from.
func (s *TableScope) Bytes() []byte { return s.data }

// Close releases the underlying file, if the scope owns one. It is safe to
// call more than once.
func (s *TableScope) Close() error {
	s.once.Do(func() {
		if s.closer != nil {
			s.err = s.closer.Close()
		}
	})
	return s.err
}

func (s *TableScope) enum(id TableID, e *Enum, page []Token) int {
	if e.Next == 0 {
		e.Next = 1
	}
	n := 0
	for n < len(page) && e.Next <= s.Tables.RowCount(id) {
		page[n] = NewToken(id, e.Next)
		e.Next++
		n++
	}
	return n
}

func expect(tok Token, id TableID) error {
	if tok.Table() != id {
		return errors.Errorf("token %s is not a %s token", tok, id)
	}
	return nil
}

// EnumAssemblyRefs implements Scope.
func (s *TableScope) EnumAssemblyRefs(e *Enum, page []Token) (int, error) {
	return s.enum(TableAssemblyRef, e, page), nil
}

// AssemblyRefProps implements Scope.
func (s *TableScope) AssemblyRefProps(tok Token) (identity.Raw, error) {
	if err := expect(tok, TableAssemblyRef); err != nil {
		return identity.Raw{}, err
	}
	r, err := s.Tables.AssemblyRef(tok.RID())
	if err != nil {
		return identity.Raw{}, err
	}
	return identity.Raw{
		Name:      r.Name,
		Major:     r.Major,
		Minor:     r.Minor,
		Build:     r.Build,
		Revision:  r.Revision,
		Locale:    r.Culture,
		PublicKey: r.PublicKeyOrToken,
		Flags:     r.Flags,
	}, nil
}

// EnumFiles implements Scope.
func (s *TableScope) EnumFiles(e *Enum, page []Token) (int, error) {
	return s.enum(TableFile, e, page), nil
}

// FileProps implements Scope.
func (s *TableScope) FileProps(tok Token) (FileProps, error) {
	if err := expect(tok, TableFile); err != nil {
		return FileProps{}, err
	}
	r, err := s.Tables.File(tok.RID())
	if err != nil {
		return FileProps{}, err
	}
	return FileProps{Name: r.Name, Flags: r.Flags, HashValue: r.HashValue}, nil
}

// AssemblyToken implements Scope.
func (s *TableScope) AssemblyToken() (Token, error) {
	if s.Tables.RowCount(TableAssembly) == 0 {
		return 0, errors.New("module has no assembly manifest")
	}
	return NewToken(TableAssembly, 1), nil
}

// AssemblyProps implements Scope. The Assembly row always holds a full key.
func (s *TableScope) AssemblyProps(tok Token) (identity.Raw, error) {
	if err := expect(tok, TableAssembly); err != nil {
		return identity.Raw{}, err
	}
	r, err := s.Tables.Assembly()
	if err != nil {
		return identity.Raw{}, err
	}
	flags := r.Flags
	if len(r.PublicKey) > 0 {
		flags |= identity.FlagPublicKey
	}
	return identity.Raw{
		Name:      r.Name,
		Major:     r.Major,
		Minor:     r.Minor,
		Build:     r.Build,
		Revision:  r.Revision,
		Locale:    r.Culture,
		PublicKey: r.PublicKey,
		Flags:     flags,
	}, nil
}

// AttributeRow is a custom attribute with its constructor resolved.
type AttributeRow struct {
	Type  TypeName
	Ctor  []byte
	Value []byte
}

// CustomAttributes returns the attributes attached to owner in table order.
func (s *TableScope) CustomAttributes(owner Token) ([]AttributeRow, error) {
	want, ok := ciHasCustomAttribute.encode(owner)
	if !ok {
		return nil, errors.Errorf("%s cannot own attributes", owner)
	}
	var out []AttributeRow
	t := s.Tables
	for rid := uint32(1); rid <= t.RowCount(TableCustomAttribute); rid++ {
		v, err := t.row(TableCustomAttribute, rid)
		if err != nil {
			return nil, err
		}
		if v[0] != want {
			continue
		}
		ca, err := t.CustomAttribute(rid)
		if err != nil {
			return nil, err
		}
		name, ctor, err := s.constructor(ca.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %d", rid)
		}
		out = append(out, AttributeRow{Type: name, Ctor: ctor, Value: ca.Value})
	}
	return out, nil
}

// constructor resolves an attribute type token to its declaring type name
// and the constructor signature.
func (s *TableScope) constructor(tok Token) (TypeName, []byte, error) {
	t := s.Tables
	switch tok.Table() {
	case TableMemberRef:
		mr, err := t.MemberRef(tok.RID())
		if err != nil {
			return TypeName{}, nil, err
		}
		name, err := s.SigTypeName(mr.Parent)
		return name, mr.Signature, err
	case TableMethodDef:
		md, err := t.MethodDef(tok.RID())
		if err != nil {
			return TypeName{}, nil, err
		}
		owner, err := t.MethodOwner(tok.RID())
		if err != nil {
			return TypeName{}, nil, err
		}
		name, err := s.SigTypeName(NewToken(TableTypeDef, owner))
		return name, md.Signature, err
	default:
		return TypeName{}, nil, errors.Errorf("bad attribute constructor %s", tok)
	}
}

// SigTypeName names a TypeDef or TypeRef token, including the assembly a
// TypeRef is scoped to. Nested TypeRefs take their outermost type's scope.
func (s *TableScope) SigTypeName(tok Token) (TypeName, error) {
	t := s.Tables
	switch tok.Table() {
	case TableTypeDef:
		ns, name, err := t.TypeName(tok)
		return TypeName{Namespace: ns, Name: name}, err
	case TableTypeRef:
		tr, err := t.TypeRef(tok.RID())
		if err != nil {
			return TypeName{}, err
		}
		n := TypeName{Namespace: tr.Namespace, Name: tr.Name}
		scope := tr.Scope
		for depth := 0; scope.Table() == TableTypeRef; depth++ {
			if depth > 64 {
				return TypeName{}, malformedf("typeref scope chain too deep")
			}
			outer, err := t.TypeRef(scope.RID())
			if err != nil {
				return TypeName{}, err
			}
			scope = outer.Scope
		}
		if scope.Table() == TableAssemblyRef && !scope.IsNil() {
			ar, err := t.AssemblyRef(scope.RID())
			if err != nil {
				return TypeName{}, err
			}
			n.Assembly = ar.Name
		}
		return n, nil
	default:
		return TypeName{}, errors.Errorf("%s does not name a type", tok)
	}
}

// CustomAttributeByName implements Scope.
func (s *TableScope) CustomAttributeByName(owner Token, name string) ([]byte, bool, error) {
	attrs, err := s.CustomAttributes(owner)
	if err != nil {
		return nil, false, err
	}
	for _, a := range attrs {
		if a.Type.FullName() == name {
			return a.Value, true, nil
		}
	}
	return nil, false, nil
}

// EnumUnderlying returns the underlying type of the enum declared in this
// module as namespace.name.
func (s *TableScope) EnumUnderlying(namespace, name string) (ElementType, error) {
	rid, ok, err := s.Tables.FindTypeDef(namespace, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.Errorf("type %s.%s not defined in this module", namespace, name)
	}
	return s.Tables.EnumUnderlying(rid)
}
