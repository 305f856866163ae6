package metadata

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const fieldAttrStatic = 0x0010

// ModuleRow is the single row of the Module table.
type ModuleRow struct {
	Name string
	MVID uuid.UUID
}

// TypeRefRow is a row of the TypeRef table.
type TypeRefRow struct {
	Scope     Token
	Name      string
	Namespace string
}

// TypeDefRow is a row of the TypeDef table.
type TypeDefRow struct {
	Flags      uint32
	Name       string
	Namespace  string
	Extends    Token
	FieldList  uint32
	MethodList uint32
}

// FieldRow is a row of the Field table.
type FieldRow struct {
	Flags     uint16
	Name      string
	Signature []byte
}

// MethodDefRow is a row of the MethodDef table.
type MethodDefRow struct {
	RVA       uint32
	ImplFlags uint16
	Flags     uint16
	Name      string
	Signature []byte
}

// MemberRefRow is a row of the MemberRef table.
type MemberRefRow struct {
	Parent    Token
	Name      string
	Signature []byte
}

// CustomAttributeRow is a row of the CustomAttribute table.
type CustomAttributeRow struct {
	Parent Token
	Type   Token
	Value  []byte
}

// AssemblyRow is the row of the Assembly table.
type AssemblyRow struct {
	HashAlgorithm                 uint32
	Major, Minor, Build, Revision uint16
	Flags                         uint32
	PublicKey                     []byte
	Name                          string
	Culture                       string
}

// AssemblyRefRow is a row of the AssemblyRef table.
type AssemblyRefRow struct {
	Major, Minor, Build, Revision uint16
	Flags                         uint32
	PublicKeyOrToken              []byte
	Name                          string
	Culture                       string
	HashValue                     []byte
}

// FileRow is a row of the File table.
type FileRow struct {
	Flags     uint32
	Name      string
	HashValue []byte
}

// Module returns the Module table row.
func (t *Tables) Module() (ModuleRow, error) {
	v, err := t.row(TableModule, 1)
	if err != nil {
		return ModuleRow{}, err
	}
	name, err := t.Strings.String(v[1])
	if err != nil {
		return ModuleRow{}, err
	}
	mvid, err := t.GUIDs.GUID(v[2])
	if err != nil {
		return ModuleRow{}, err
	}
	return ModuleRow{Name: name, MVID: mvid}, nil
}

// TypeRef returns TypeRef row rid.
func (t *Tables) TypeRef(rid uint32) (TypeRefRow, error) {
	var r TypeRefRow
	v, err := t.row(TableTypeRef, rid)
	if err != nil {
		return r, err
	}
	if r.Scope, err = ciResolutionScope.decode(v[0]); err != nil {
		return r, err
	}
	if r.Name, err = t.Strings.String(v[1]); err != nil {
		return r, err
	}
	r.Namespace, err = t.Strings.String(v[2])
	return r, err
}

// TypeDef returns TypeDef row rid.
func (t *Tables) TypeDef(rid uint32) (TypeDefRow, error) {
	var r TypeDefRow
	v, err := t.row(TableTypeDef, rid)
	if err != nil {
		return r, err
	}
	r.Flags = v[0]
	if r.Name, err = t.Strings.String(v[1]); err != nil {
		return r, err
	}
	if r.Namespace, err = t.Strings.String(v[2]); err != nil {
		return r, err
	}
	if r.Extends, err = ciTypeDefOrRef.decode(v[3]); err != nil {
		return r, err
	}
	r.FieldList, r.MethodList = v[4], v[5]
	return r, nil
}

// Field returns Field row rid.
func (t *Tables) Field(rid uint32) (FieldRow, error) {
	var r FieldRow
	v, err := t.row(TableField, rid)
	if err != nil {
		return r, err
	}
	r.Flags = uint16(v[0])
	if r.Name, err = t.Strings.String(v[1]); err != nil {
		return r, err
	}
	r.Signature, err = t.Blobs.Blob(v[2])
	return r, err
}

// MethodDef returns MethodDef row rid.
func (t *Tables) MethodDef(rid uint32) (MethodDefRow, error) {
	var r MethodDefRow
	v, err := t.row(TableMethodDef, rid)
	if err != nil {
		return r, err
	}
	r.RVA, r.ImplFlags, r.Flags = v[0], uint16(v[1]), uint16(v[2])
	if r.Name, err = t.Strings.String(v[3]); err != nil {
		return r, err
	}
	r.Signature, err = t.Blobs.Blob(v[4])
	return r, err
}

// MemberRef returns MemberRef row rid.
func (t *Tables) MemberRef(rid uint32) (MemberRefRow, error) {
	var r MemberRefRow
	v, err := t.row(TableMemberRef, rid)
	if err != nil {
		return r, err
	}
	if r.Parent, err = ciMemberRefParent.decode(v[0]); err != nil {
		return r, err
	}
	if r.Name, err = t.Strings.String(v[1]); err != nil {
		return r, err
	}
	r.Signature, err = t.Blobs.Blob(v[2])
	return r, err
}

// CustomAttribute returns CustomAttribute row rid.
func (t *Tables) CustomAttribute(rid uint32) (CustomAttributeRow, error) {
	var r CustomAttributeRow
	v, err := t.row(TableCustomAttribute, rid)
	if err != nil {
		return r, err
	}
	if r.Parent, err = ciHasCustomAttribute.decode(v[0]); err != nil {
		return r, err
	}
	if r.Type, err = ciCustomAttributeType.decode(v[1]); err != nil {
		return r, err
	}
	r.Value, err = t.Blobs.Blob(v[2])
	return r, err
}

// Assembly returns the Assembly table row. A module without one is not an
// assembly manifest.
func (t *Tables) Assembly() (AssemblyRow, error) {
	var r AssemblyRow
	v, err := t.row(TableAssembly, 1)
	if err != nil {
		return r, errors.Wrap(err, "no assembly manifest")
	}
	r.HashAlgorithm = v[0]
	r.Major, r.Minor, r.Build, r.Revision = uint16(v[1]), uint16(v[2]), uint16(v[3]), uint16(v[4])
	r.Flags = v[5]
	if r.PublicKey, err = t.Blobs.Blob(v[6]); err != nil {
		return r, err
	}
	if r.Name, err = t.Strings.String(v[7]); err != nil {
		return r, err
	}
	r.Culture, err = t.Strings.String(v[8])
	return r, err
}

// AssemblyRef returns AssemblyRef row rid.
func (t *Tables) AssemblyRef(rid uint32) (AssemblyRefRow, error) {
	var r AssemblyRefRow
	v, err := t.row(TableAssemblyRef, rid)
	if err != nil {
		return r, err
	}
	r.Major, r.Minor, r.Build, r.Revision = uint16(v[0]), uint16(v[1]), uint16(v[2]), uint16(v[3])
	r.Flags = v[4]
	if r.PublicKeyOrToken, err = t.Blobs.Blob(v[5]); err != nil {
		return r, err
	}
	if r.Name, err = t.Strings.String(v[6]); err != nil {
		return r, err
	}
	if r.Culture, err = t.Strings.String(v[7]); err != nil {
		return r, err
	}
	r.HashValue, err = t.Blobs.Blob(v[8])
	return r, err
}

// File returns File row rid.
func (t *Tables) File(rid uint32) (FileRow, error) {
	var r FileRow
	v, err := t.row(TableFile, rid)
	if err != nil {
		return r, err
	}
	r.Flags = v[0]
	if r.Name, err = t.Strings.String(v[1]); err != nil {
		return r, err
	}
	r.HashValue, err = t.Blobs.Blob(v[2])
	return r, err
}

// TypeName returns the namespace and name of a TypeDef or TypeRef token.
func (t *Tables) TypeName(tok Token) (namespace, name string, err error) {
	switch tok.Table() {
	case TableTypeDef:
		r, err := t.TypeDef(tok.RID())
		return r.Namespace, r.Name, err
	case TableTypeRef:
		r, err := t.TypeRef(tok.RID())
		return r.Namespace, r.Name, err
	default:
		return "", "", errors.Errorf("%s does not name a type", tok)
	}
}

// indirect maps a logical list position to a row id through a pointer table,
// which only unoptimised streams carry.
func (t *Tables) indirect(ptr TableID, i uint32) (uint32, error) {
	if t.rows[ptr] == 0 {
		return i, nil
	}
	v, err := t.row(ptr, i)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// listLen is the number of logical entries in the list owned by target,
// counting through its pointer table when present.
func (t *Tables) listLen(target, ptr TableID) uint32 {
	if t.rows[ptr] != 0 {
		return t.rows[ptr]
	}
	return t.rows[target]
}

// FieldsOf returns the Field row ids owned by TypeDef rid, in declaration order.
func (t *Tables) FieldsOf(rid uint32) ([]uint32, error) {
	td, err := t.TypeDef(rid)
	if err != nil {
		return nil, err
	}
	last := t.listLen(TableField, TableFieldPtr) + 1
	end := last
	if rid < t.rows[TableTypeDef] {
		next, err := t.TypeDef(rid + 1)
		if err != nil {
			return nil, err
		}
		end = min(next.FieldList, last)
	}
	if td.FieldList == 0 || td.FieldList > end {
		return nil, nil
	}
	fields := make([]uint32, 0, end-td.FieldList)
	for i := td.FieldList; i < end; i++ {
		f, err := t.indirect(TableFieldPtr, i)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// MethodOwner returns the TypeDef row that declares MethodDef rid.
func (t *Tables) MethodOwner(rid uint32) (uint32, error) {
	pos := rid
	if n := t.rows[TableMethodPtr]; n != 0 {
		pos = 0
		for i := uint32(1); i <= n; i++ {
			v, err := t.row(TableMethodPtr, i)
			if err != nil {
				return 0, err
			}
			if v[0] == rid {
				pos = i
				break
			}
		}
	}
	var owner uint32
	for i := uint32(1); i <= t.rows[TableTypeDef]; i++ {
		td, err := t.TypeDef(i)
		if err != nil {
			return 0, err
		}
		if td.MethodList > pos {
			break
		}
		if td.MethodList != 0 {
			owner = i
		}
	}
	if owner == 0 || pos == 0 {
		return 0, errors.Errorf("method %d has no declaring type", rid)
	}
	return owner, nil
}

// FindTypeDef returns the TypeDef row named namespace.name, or false.
// Nested types are matched by their simple name only.
func (t *Tables) FindTypeDef(namespace, name string) (uint32, bool, error) {
	for i := uint32(1); i <= t.rows[TableTypeDef]; i++ {
		td, err := t.TypeDef(i)
		if err != nil {
			return 0, false, err
		}
		if td.Name == name && td.Namespace == namespace {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// EnumUnderlying returns the element type of the instance field of enum
// TypeDef rid.
func (t *Tables) EnumUnderlying(rid uint32) (ElementType, error) {
	fields, err := t.FieldsOf(rid)
	if err != nil {
		return 0, err
	}
	for _, f := range fields {
		fr, err := t.Field(f)
		if err != nil {
			return 0, err
		}
		if fr.Flags&fieldAttrStatic != 0 {
			continue
		}
		if len(fr.Signature) < 2 || fr.Signature[0] != sigField {
			return 0, malformedf("enum field %q has bad signature", fr.Name)
		}
		et := ElementType(fr.Signature[1])
		if !et.isEnumUnderlying() {
			return 0, malformedf("enum underlying type %s not integral", et)
		}
		return et, nil
	}
	return 0, errors.Errorf("type %d has no instance field", rid)
}
