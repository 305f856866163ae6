package metadata

import "fmt"

// TableID identifies a metadata table.
type TableID uint8

// Metadata tables, in the order they are laid out in the #~ stream.
const (
	TableModule                 TableID = 0x00
	TableTypeRef                TableID = 0x01
	TableTypeDef                TableID = 0x02
	TableFieldPtr               TableID = 0x03
	TableField                  TableID = 0x04
	TableMethodPtr              TableID = 0x05
	TableMethodDef              TableID = 0x06
	TableParamPtr               TableID = 0x07
	TableParam                  TableID = 0x08
	TableInterfaceImpl          TableID = 0x09
	TableMemberRef              TableID = 0x0A
	TableConstant               TableID = 0x0B
	TableCustomAttribute        TableID = 0x0C
	TableFieldMarshal           TableID = 0x0D
	TableDeclSecurity           TableID = 0x0E
	TableClassLayout            TableID = 0x0F
	TableFieldLayout            TableID = 0x10
	TableStandAloneSig          TableID = 0x11
	TableEventMap               TableID = 0x12
	TableEventPtr               TableID = 0x13
	TableEvent                  TableID = 0x14
	TablePropertyMap            TableID = 0x15
	TablePropertyPtr            TableID = 0x16
	TableProperty               TableID = 0x17
	TableMethodSemantics        TableID = 0x18
	TableMethodImpl             TableID = 0x19
	TableModuleRef              TableID = 0x1A
	TableTypeSpec               TableID = 0x1B
	TableImplMap                TableID = 0x1C
	TableFieldRVA               TableID = 0x1D
	TableEncLog                 TableID = 0x1E
	TableEncMap                 TableID = 0x1F
	TableAssembly               TableID = 0x20
	TableAssemblyProcessor      TableID = 0x21
	TableAssemblyOS             TableID = 0x22
	TableAssemblyRef            TableID = 0x23
	TableAssemblyRefProcessor   TableID = 0x24
	TableAssemblyRefOS          TableID = 0x25
	TableFile                   TableID = 0x26
	TableExportedType           TableID = 0x27
	TableManifestResource       TableID = 0x28
	TableNestedClass            TableID = 0x29
	TableGenericParam           TableID = 0x2A
	TableMethodSpec             TableID = 0x2B
	TableGenericParamConstraint TableID = 0x2C

	numTables = 0x2D

	// tableNone marks an unused coded index tag.
	tableNone TableID = 0xFF
)

var tableNames = [numTables]string{
	"Module", "TypeRef", "TypeDef", "FieldPtr", "Field", "MethodPtr", "MethodDef", "ParamPtr",
	"Param", "InterfaceImpl", "MemberRef", "Constant", "CustomAttribute", "FieldMarshal",
	"DeclSecurity", "ClassLayout", "FieldLayout", "StandAloneSig", "EventMap", "EventPtr", "Event",
	"PropertyMap", "PropertyPtr", "Property", "MethodSemantics", "MethodImpl", "ModuleRef",
	"TypeSpec", "ImplMap", "FieldRVA", "EncLog", "EncMap", "Assembly", "AssemblyProcessor",
	"AssemblyOS", "AssemblyRef", "AssemblyRefProcessor", "AssemblyRefOS", "File", "ExportedType",
	"ManifestResource", "NestedClass", "GenericParam", "MethodSpec", "GenericParamConstraint",
}

func (t TableID) String() string {
	if int(t) < len(tableNames) {
		return tableNames[t]
	}
	return fmt.Sprintf("Table(0x%02x)", uint8(t))
}

// codedIndex describes a tagged reference into one of several tables.
type codedIndex struct {
	bits   uint
	tables []TableID
}

var (
	ciTypeDefOrRef = codedIndex{2, []TableID{TableTypeDef, TableTypeRef, TableTypeSpec}}
	ciHasConstant  = codedIndex{2, []TableID{TableField, TableParam, TableProperty}}

	ciHasCustomAttribute = codedIndex{5, []TableID{
		TableMethodDef, TableField, TableTypeRef, TableTypeDef, TableParam, TableInterfaceImpl,
		TableMemberRef, TableModule, TableDeclSecurity, TableProperty, TableEvent, TableStandAloneSig,
		TableModuleRef, TableTypeSpec, TableAssembly, TableAssemblyRef, TableFile, TableExportedType,
		TableManifestResource, TableGenericParam, TableGenericParamConstraint, TableMethodSpec,
	}}

	ciHasFieldMarshal     = codedIndex{1, []TableID{TableField, TableParam}}
	ciHasDeclSecurity     = codedIndex{2, []TableID{TableTypeDef, TableMethodDef, TableAssembly}}
	ciMemberRefParent     = codedIndex{3, []TableID{TableTypeDef, TableTypeRef, TableModuleRef, TableMethodDef, TableTypeSpec}}
	ciHasSemantics        = codedIndex{1, []TableID{TableEvent, TableProperty}}
	ciMethodDefOrRef      = codedIndex{1, []TableID{TableMethodDef, TableMemberRef}}
	ciMemberForwarded     = codedIndex{1, []TableID{TableField, TableMethodDef}}
	ciImplementation      = codedIndex{2, []TableID{TableFile, TableAssemblyRef, TableExportedType}}
	ciCustomAttributeType = codedIndex{3, []TableID{tableNone, tableNone, TableMethodDef, TableMemberRef, tableNone}}
	ciResolutionScope     = codedIndex{2, []TableID{TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef}}
	ciTypeOrMethodDef     = codedIndex{1, []TableID{TableTypeDef, TableMethodDef}}
)

// decode splits a coded index value into a token.
func (ci *codedIndex) decode(v uint32) (Token, error) {
	tag := v & (1<<ci.bits - 1)
	if int(tag) >= len(ci.tables) || ci.tables[tag] == tableNone {
		return 0, malformedf("coded index tag %d out of range", tag)
	}
	return NewToken(ci.tables[tag], v>>ci.bits), nil
}

// encode is the inverse of decode. It reports false if t is not a target of ci.
func (ci *codedIndex) encode(t Token) (uint32, bool) {
	for tag, id := range ci.tables {
		if id == t.Table() && id != tableNone {
			return t.RID()<<ci.bits | uint32(tag), true
		}
	}
	return 0, false
}

type columnKind uint8

const (
	colU16 columnKind = iota
	colU32
	colString
	colGUID
	colBlob
	colIndex
	colCoded
)

type column struct {
	kind  columnKind
	table TableID
	coded *codedIndex
}

var (
	u16   = column{kind: colU16}
	u32   = column{kind: colU32}
	str   = column{kind: colString}
	guid  = column{kind: colGUID}
	blob  = column{kind: colBlob}
	index = func(t TableID) column { return column{kind: colIndex, table: t} }
	coded = func(ci *codedIndex) column { return column{kind: colCoded, coded: ci} }
)

// schema lists the columns of every table.
var schema = [numTables][]column{
	TableModule:                 {u16, str, guid, guid, guid},
	TableTypeRef:                {coded(&ciResolutionScope), str, str},
	TableTypeDef:                {u32, str, str, coded(&ciTypeDefOrRef), index(TableField), index(TableMethodDef)},
	TableFieldPtr:               {index(TableField)},
	TableField:                  {u16, str, blob},
	TableMethodPtr:              {index(TableMethodDef)},
	TableMethodDef:              {u32, u16, u16, str, blob, index(TableParam)},
	TableParamPtr:               {index(TableParam)},
	TableParam:                  {u16, u16, str},
	TableInterfaceImpl:          {index(TableTypeDef), coded(&ciTypeDefOrRef)},
	TableMemberRef:              {coded(&ciMemberRefParent), str, blob},
	TableConstant:               {u16, coded(&ciHasConstant), blob},
	TableCustomAttribute:        {coded(&ciHasCustomAttribute), coded(&ciCustomAttributeType), blob},
	TableFieldMarshal:           {coded(&ciHasFieldMarshal), blob},
	TableDeclSecurity:           {u16, coded(&ciHasDeclSecurity), blob},
	TableClassLayout:            {u16, u32, index(TableTypeDef)},
	TableFieldLayout:            {u32, index(TableField)},
	TableStandAloneSig:          {blob},
	TableEventMap:               {index(TableTypeDef), index(TableEvent)},
	TableEventPtr:               {index(TableEvent)},
	TableEvent:                  {u16, str, coded(&ciTypeDefOrRef)},
	TablePropertyMap:            {index(TableTypeDef), index(TableProperty)},
	TablePropertyPtr:            {index(TableProperty)},
	TableProperty:               {u16, str, blob},
	TableMethodSemantics:        {u16, index(TableMethodDef), coded(&ciHasSemantics)},
	TableMethodImpl:             {index(TableTypeDef), coded(&ciMethodDefOrRef), coded(&ciMethodDefOrRef)},
	TableModuleRef:              {str},
	TableTypeSpec:               {blob},
	TableImplMap:                {u16, coded(&ciMemberForwarded), str, index(TableModuleRef)},
	TableFieldRVA:               {u32, index(TableField)},
	TableEncLog:                 {u32, u32},
	TableEncMap:                 {u32},
	TableAssembly:               {u32, u16, u16, u16, u16, u32, blob, str, str},
	TableAssemblyProcessor:      {u32},
	TableAssemblyOS:             {u32, u32, u32},
	TableAssemblyRef:            {u16, u16, u16, u16, u32, blob, str, str, blob},
	TableAssemblyRefProcessor:   {u32, index(TableAssemblyRef)},
	TableAssemblyRefOS:          {u32, u32, u32, index(TableAssemblyRef)},
	TableFile:                   {u32, str, blob},
	TableExportedType:           {u32, u32, str, str, coded(&ciImplementation)},
	TableManifestResource:       {u32, u32, str, coded(&ciImplementation)},
	TableNestedClass:            {index(TableTypeDef), index(TableTypeDef)},
	TableGenericParam:           {u16, u16, coded(&ciTypeOrMethodDef), str},
	TableMethodSpec:             {coded(&ciMethodDefOrRef), blob},
	TableGenericParamConstraint: {index(TableGenericParam), coded(&ciTypeDefOrRef)},
}

// Token is a metadata token: table in the high byte, 1-based row id below.
type Token uint32

// NewToken builds the token for row rid of table t.
func NewToken(t TableID, rid uint32) Token {
	return Token(uint32(t)<<24 | rid&0x00FFFFFF)
}

// Table returns the token's table.
func (t Token) Table() TableID { return TableID(t >> 24) }

// RID returns the token's row id.
func (t Token) RID() uint32 { return uint32(t) & 0x00FFFFFF }

// IsNil reports whether the token refers to no row.
func (t Token) IsNil() bool { return t.RID() == 0 }

func (t Token) String() string {
	return fmt.Sprintf("%s[%d]", t.Table(), t.RID())
}
