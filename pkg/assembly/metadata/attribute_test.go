package metadata

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/gometa/internal/testimage"
	"github.com/jtang613/gometa/pkg/assembly/image"
)

// blobWriter assembles attribute value bytes.
type blobWriter struct{ bytes.Buffer }

func (w *blobWriter) u16(v uint16) *blobWriter { binary.Write(w, binary.LittleEndian, v); return w }
func (w *blobWriter) u32(v uint32) *blobWriter { binary.Write(w, binary.LittleEndian, v); return w }
func (w *blobWriter) raw(b ...byte) *blobWriter { w.Write(b); return w }
func (w *blobWriter) str(s string) *blobWriter { w.Write(testimage.SerString(s)); return w }

func TestReadCompressed(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFFFF} {
		got, err := ReadCompressed(image.NewCursor(testimage.CompressedUint(v)))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err := ReadCompressed(image.NewCursor([]byte{0xE0}))
	assert.Error(t, err)
	_, err = ReadCompressed(image.NewCursor([]byte{0xC0, 0x01}))
	assert.True(t, errors.Is(err, image.ErrOutOfRange))
}

func TestParseTypeName(t *testing.T) {
	tests := []struct {
		in   string
		want TypeName
	}{
		{"System.AttributeTargets", TypeName{Namespace: "System", Name: "AttributeTargets"}},
		{"Dep.Ns.Color, Dep, Version=1.0.0.0, Culture=neutral", TypeName{Namespace: "Dep.Ns", Name: "Color", Assembly: "Dep"}},
		{"Plain", TypeName{Name: "Plain"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseTypeName(tt.in), tt.in)
	}
}

func TestDecodeAttribute(t *testing.T) {
	color := TypeName{Namespace: "Dep.Ns", Name: "Color", Assembly: "Dep"}
	ctor := &MethodSig{HasThis: true, Return: SigType{Elem: ElementVoid}, Params: []SigType{
		{Elem: ElementString},
		{Elem: ElementValueType, Type: color},
		{Elem: ElementSZArray, Inner: &SigType{Elem: ElementI4}},
		{Elem: ElementClass, Type: TypeName{Namespace: "System", Name: "Type"}},
		{Elem: ElementObject},
	}}

	var w blobWriter
	w.u16(attributeProlog).
		str(".NETFramework,Version=v4.8").
		u32(2).
		u32(2).u32(10).u32(20).
		str("Widgets.Gadget, Widgets").
		raw(byte(ElementBoolean), 1).
		u16(4).
		raw(namedProperty, byte(ElementString)).str("Profile").str("Client").
		raw(namedField, byte(ElementEnum)).str("Dep.Ns.Color, Dep").str("Shade").u32(3).
		raw(namedProperty, byte(ElementSZArray), byte(ElementString)).str("Tags").u32(2).str("a").raw(0xFF).
		raw(namedProperty, byte(ElementBoxed)).str("Boxed").raw(byte(ElementR8)).raw(0, 0, 0, 0, 0, 0, 0xF8, 0x3F)

	var asked []TypeName
	enums := func(n TypeName) (ElementType, error) {
		asked = append(asked, n)
		return ElementI4, nil
	}

	args, err := DecodeAttribute(ctor, w.Bytes(), enums)
	require.NoError(t, err)
	require.Len(t, args.Fixed, 5)
	assert.Equal(t, ".NETFramework,Version=v4.8", args.Fixed[0].Value)
	assert.Equal(t, ElementEnum, args.Fixed[1].Type)
	assert.Equal(t, &color, args.Fixed[1].Enum)
	assert.Equal(t, int32(2), args.Fixed[1].Value)
	assert.Equal(t, []Value{{Type: ElementI4, Value: int32(10)}, {Type: ElementI4, Value: int32(20)}}, args.Fixed[2].Value)
	assert.Equal(t, TypeName{Namespace: "Widgets", Name: "Gadget", Assembly: "Widgets"}, args.Fixed[3].Value)
	assert.Equal(t, Value{Type: ElementBoolean, Value: true}, args.Fixed[4])

	require.Len(t, args.Named, 4)
	assert.Equal(t, NamedArg{Property: true, Name: "Profile", Value: Value{Type: ElementString, Value: "Client"}}, args.Named[0])
	assert.False(t, args.Named[1].Property)
	assert.Equal(t, int32(3), args.Named[1].Value.Value)
	assert.Equal(t, []Value{{Type: ElementString, Value: "a"}, {Type: ElementString}}, args.Named[2].Value.Value)
	assert.Equal(t, 1.5, args.Named[3].Value.Value)

	assert.Equal(t, []TypeName{color, color}, asked)
}

func TestDecodeAttributeFailures(t *testing.T) {
	enumCtor := &MethodSig{Params: []SigType{{Elem: ElementValueType, Type: TypeName{Name: "E"}}}}
	enumValue := (&blobWriter{}).u16(attributeProlog).u32(1).u16(0).Bytes()

	tests := []struct {
		name  string
		ctor  *MethodSig
		value []byte
		enums EnumResolver
	}{
		{name: "bad prolog", ctor: &MethodSig{}, value: []byte{0x02, 0x00, 0, 0}},
		{name: "truncated", ctor: &MethodSig{Params: []SigType{{Elem: ElementI4}}}, value: []byte{0x01, 0x00, 0x01}},
		{name: "enum without resolver", ctor: enumCtor, value: enumValue},
		{name: "enum resolver fails", ctor: enumCtor, value: enumValue, enums: func(TypeName) (ElementType, error) {
			return 0, errors.New("not found")
		}},
		{name: "huge array", ctor: &MethodSig{Params: []SigType{{Elem: ElementSZArray, Inner: &SigType{Elem: ElementU1}}}},
			value: (&blobWriter{}).u16(attributeProlog).u32(1 << 30).Bytes()},
		{name: "bad named kind", ctor: &MethodSig{}, value: (&blobWriter{}).u16(attributeProlog).u16(1).raw(0x99).Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAttribute(tt.ctor, tt.value, tt.enums)
			assert.Error(t, err)
		})
	}
}

func TestAttributeFromImage(t *testing.T) {
	ctor := testimage.CtorSig([]byte{byte(ElementValueType), 1<<2 | 1}, []byte{byte(ElementString)})
	value := (&blobWriter{}).u16(attributeProlog).u32(7).str("hello").u16(0).Bytes()
	s := loadScope(t, testimage.Builder{
		Refs:     []testimage.Ref{{Name: "Dep"}},
		TypeRefs: []testimage.TypeRef{{Namespace: "Dep.Ns", Name: "Color", RefIndex: 1}},
		Attrs:    []testimage.Attr{{Namespace: "Widgets", Name: "PaintAttribute", Ctor: ctor, Value: value}},
	})

	attrs, err := s.CustomAttributes(NewToken(TableAssembly, 1))
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "Widgets.PaintAttribute", attrs[0].Type.FullName())

	sig, err := ParseMethodSig(attrs[0].Ctor, s)
	require.NoError(t, err)
	assert.True(t, sig.HasThis)
	require.Len(t, sig.Params, 2)
	assert.Equal(t, TypeName{Namespace: "Dep.Ns", Name: "Color", Assembly: "Dep"}, sig.Params[0].Type)

	args, err := DecodeAttribute(sig, attrs[0].Value, func(TypeName) (ElementType, error) { return ElementU4, nil })
	require.NoError(t, err)
	assert.Equal(t, uint32(7), args.Fixed[0].Value)
	assert.Equal(t, "hello", args.Fixed[1].Value)
}

func TestFirstStringArg(t *testing.T) {
	_, value := testimage.StringAttribute("x")
	s, ok := FirstStringArg(value)
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	_, ok = FirstStringArg([]byte{0x01, 0x00, 0xFF, 0, 0})
	assert.False(t, ok, "null string")

	_, ok = FirstStringArg([]byte{0x01})
	assert.False(t, ok)

	_, ok = FirstStringArg([]byte{0x01, 0x00, 0x05, 'a'})
	assert.False(t, ok, "length past end")
}
