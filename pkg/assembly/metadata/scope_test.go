package metadata

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gometa/internal/testimage"
	"github.com/jtang613/gometa/pkg/assembly/identity"
)

func loadScope(t *testing.T, b testimage.Builder) *TableScope {
	t.Helper()
	s, err := Load(b.Bytes())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadModule(t *testing.T) {
	mvid := [16]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
	s := loadScope(t, testimage.Builder{Name: "Widgets", MVID: mvid})

	m, err := s.Tables.Module()
	require.NoError(t, err)
	assert.Equal(t, "Widgets.dll", m.Name)
	assert.Equal(t, uuid.MustParse("03020100-0504-0706-0809-0a0b0c0d0e0f"), m.MVID)
	assert.Equal(t, uint8(2), s.Tables.Major)
}

func TestTableScopeReferencesAcrossPages(t *testing.T) {
	var refs []testimage.Ref
	for i := 0; i < 2*PageSize+3; i++ {
		refs = append(refs, testimage.Ref{
			Name:    fmt.Sprintf("Dep%02d", i),
			Version: [4]uint16{uint16(i), 1, 2, 3},
		})
	}
	// A duplicate straddling the first page boundary.
	refs[PageSize] = refs[PageSize-1]
	s := loadScope(t, testimage.Builder{Refs: refs})

	got, err := NewImporter(s).References()
	require.NoError(t, err)
	require.Len(t, got, len(refs))
	for i, r := range got {
		assert.Equal(t, refs[i].Name, r.Name(), "index %d", i)
		assert.Equal(t, refs[i].Version[0], r.Version().Major)
	}
	assert.Equal(t, got[PageSize-1].Name(), got[PageSize].Name(), "duplicates are preserved")
}

func TestTableScopeReferenceIdentity(t *testing.T) {
	token, _ := hex.DecodeString("b03f5f7f11d50a3a")
	s := loadScope(t, testimage.Builder{Refs: []testimage.Ref{
		{Name: "System.Runtime", Version: [4]uint16{8, 0, 0, 0}, Key: token},
		{Name: "Resources", Version: [4]uint16{1, 0, 0, 0}, Culture: "de-DE"},
		{Name: "Signed", Key: []byte{0, 0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0}, Flags: identity.FlagPublicKey},
	}})

	got, err := NewImporter(s).References()
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "System.Runtime, Version=8.0.0.0, Culture=neutral, PublicKeyToken=b03f5f7f11d50a3a", got[0].FullName())
	assert.False(t, got[0].HasPublicKey())
	assert.Equal(t, "de-DE", got[1].Culture())
	assert.Nil(t, got[1].PublicKeyToken())
	assert.True(t, got[2].HasPublicKey())
	assert.Equal(t, "b77a5c561934e089", hex.EncodeToString(got[2].PublicKeyToken()))
}

func TestTableScopeFiles(t *testing.T) {
	s := loadScope(t, testimage.Builder{Files: []string{"a.netmodule", "b.resources"}})

	files, err := NewImporter(s).Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.netmodule", files[0].Name())
	assert.Equal(t, "b.resources", files[1].Name())

	props, err := s.FileProps(NewToken(TableFile, 1))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, props.HashValue)

	_, err = s.FileProps(NewToken(TableAssemblyRef, 1))
	assert.Error(t, err)

	none := loadScope(t, testimage.Builder{})
	files, err = NewImporter(none).Files()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestImporterIdentity(t *testing.T) {
	key := []byte{0, 0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0}
	s := loadScope(t, testimage.Builder{Name: "Widgets", Version4: [4]uint16{1, 2, 3, 4}, PublicKey: key})

	id, err := NewImporter(s).Identity()
	require.NoError(t, err)
	assert.Equal(t, "Widgets, Version=1.2.3.4, Culture=neutral, PublicKeyToken=b77a5c561934e089", id.FullName())
	assert.True(t, id.HasPublicKey())
}

func TestCustomAttributeByName(t *testing.T) {
	s := loadScope(t, testimage.Builder{
		Refs:  []testimage.Ref{{Name: "System.Runtime"}},
		Attrs: []testimage.Attr{withRef(testimage.TargetFramework(".NETCoreApp,Version=v8.0"), 1)},
	})
	im := NewImporter(s)

	b, ok := im.AssemblyAttribute("System.Runtime.Versioning.TargetFrameworkAttribute")
	require.True(t, ok)
	name, ok := FirstStringArg(b)
	require.True(t, ok)
	assert.Equal(t, ".NETCoreApp,Version=v8.0", name)

	_, ok = im.AssemblyAttribute("System.Reflection.AssemblyTitleAttribute")
	assert.False(t, ok)

	_, ok = im.CustomAttribute(NewToken(TableFieldPtr, 1), "System.Runtime.Versioning.TargetFrameworkAttribute")
	assert.False(t, ok, "owners that cannot carry attributes are absent, not errors")

	attrs, err := s.CustomAttributes(NewToken(TableAssembly, 1))
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "System.Runtime", attrs[0].Type.Assembly)
}

func TestEnumUnderlying(t *testing.T) {
	s := loadScope(t, testimage.Builder{Enums: []testimage.Enum{
		{Namespace: "Widgets", Name: "Small", Underlying: byte(ElementU1)},
		{Namespace: "Widgets", Name: "Wide", Underlying: byte(ElementI8)},
	}})

	et, err := s.EnumUnderlying("Widgets", "Small")
	require.NoError(t, err)
	assert.Equal(t, ElementU1, et)

	et, err = s.EnumUnderlying("Widgets", "Wide")
	require.NoError(t, err)
	assert.Equal(t, ElementI8, et)

	_, err = s.EnumUnderlying("Widgets", "Missing")
	assert.Error(t, err)

	_, err = s.EnumUnderlying("", "<Module>")
	assert.Error(t, err, "a type without instance fields is not an enum")
}

func TestOpenScope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Widgets.dll")
	require.NoError(t, os.WriteFile(path, testimage.Builder{Name: "Widgets"}.Bytes(), 0o644))

	s, err := OpenScope(path)
	require.NoError(t, err)
	m, err := s.Tables.Module()
	require.NoError(t, err)
	assert.Equal(t, "Widgets.dll", m.Name)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	bad := filepath.Join(t.TempDir(), "native.dll")
	require.NoError(t, os.WriteFile(bad, testimage.Builder{NoRuntimeHeader: true}.Bytes(), 0o644))
	_, err = OpenScope(bad)
	assert.Error(t, err)
}

func withRef(a testimage.Attr, ref int) testimage.Attr {
	a.RefIndex = ref
	return a
}

// setColumn overwrites column col of row rid in the loaded table stream.
func setColumn(t *testing.T, tabs *Tables, id TableID, rid uint32, col int, v uint32) {
	t.Helper()
	l := &tabs.layout[id]
	off := tabs.start[id] + (rid-1)*l.size + l.offsets[col]
	if l.widths[col] == 2 {
		require.LessOrEqual(t, v, uint32(0xFFFF))
		binary.LittleEndian.PutUint16(tabs.data[off:], uint16(v))
		return
	}
	binary.LittleEndian.PutUint32(tabs.data[off:], v)
}

func TestFieldsOfClampsFieldList(t *testing.T) {
	s := loadScope(t, testimage.Builder{Enums: []testimage.Enum{
		{Namespace: "Widgets", Name: "A", Underlying: byte(ElementI4)},
		{Namespace: "Widgets", Name: "B", Underlying: byte(ElementU2)},
	}})
	require.Equal(t, uint32(2), s.Tables.RowCount(TableField))

	// TypeDef 3 claims its fields start far past the end of the Field table.
	setColumn(t, s.Tables, TableTypeDef, 3, 4, 0xFFFF)

	fields, err := s.Tables.FieldsOf(2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, fields, "bounded by the Field table")

	fields, err = s.Tables.FieldsOf(3)
	require.NoError(t, err)
	assert.Empty(t, fields)

	et, err := s.EnumUnderlying("Widgets", "A")
	require.NoError(t, err)
	assert.Equal(t, ElementI4, et)

	_, err = s.EnumUnderlying("Widgets", "B")
	assert.Error(t, err, "an enum without fields has no underlying type")
}
