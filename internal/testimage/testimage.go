// Package testimage synthesises small managed images for tests.
//
// Every table index, heap index and coded index is emitted in its 2-byte form, so
// builders must stay small (well under 64K heap bytes and 2K rows per table).
package testimage

import (
	"bytes"
	"encoding/binary"
	"sort"
)

const (
	fileAlignment = 0x200
	sectionRVA    = 0x2000
	headerOffset  = 0x80
	cliHeaderSize = 72
)

// Machine types used by the builder.
const (
	MachineI386  = 0x014c
	MachineAMD64 = 0x8664
)

// Ref is an AssemblyRef row.
type Ref struct {
	Name    string
	Version [4]uint16
	Culture string
	Key     []byte
	Flags   uint32
}

// TypeRef is an explicit TypeRef row. RefIndex is the 1-based index into
// Builder.Refs used as resolution scope; zero scopes the type to this module.
type TypeRef struct {
	Namespace string
	Name      string
	RefIndex  int
}

// Enum declares an enum TypeDef with a single value__ field of the given element type.
type Enum struct {
	Namespace  string
	Name       string
	Underlying byte
}

// Attr is an assembly-level custom attribute whose constructor is a MemberRef on a
// TypeRef named Namespace.Name.
type Attr struct {
	Namespace string
	Name      string
	RefIndex  int
	Ctor      []byte
	Value     []byte
}

// Builder describes the image to synthesise.
type Builder struct {
	PE32Plus        bool
	Version         string
	Name            string
	Version4        [4]uint16
	PublicKey       []byte
	MVID            [16]byte
	Refs            []Ref
	Files           []string
	TypeRefs        []TypeRef
	Enums           []Enum
	Attrs           []Attr
	ExtraSections   int
	NoRuntimeHeader bool
}

// Image is a built image plus the offsets tests poke at.
type Image struct {
	Data       []byte
	RootOffset int
	CLIOffset  int
}

// Bytes builds the image and returns its contents.
func (b Builder) Bytes() []byte {
	return b.Build().Data
}

// Build lays out the image.
func (b Builder) Build() Image {
	if b.Version == "" {
		b.Version = "v4.0.30319"
	}
	if b.Name == "" {
		b.Name = "Sample"
	}

	root := b.metadataRoot()

	var body bytes.Buffer
	cli := make([]byte, cliHeaderSize)
	le.PutUint32(cli[0:], cliHeaderSize)
	le.PutUint16(cli[4:], 2)
	le.PutUint16(cli[6:], 5)
	le.PutUint32(cli[8:], sectionRVA+cliHeaderSize)
	le.PutUint32(cli[12:], uint32(len(root)))
	le.PutUint32(cli[16:], 1) // ILONLY
	body.Write(cli)
	body.Write(root)

	numSections := 1 + b.ExtraSections
	optSize := 224
	if b.PE32Plus {
		optSize = 240
	}

	hdr := make([]byte, fileAlignment)
	hdr[0], hdr[1] = 'M', 'Z'
	le.PutUint32(hdr[0x3C:], headerOffset)
	p := headerOffset
	copy(hdr[p:], "PE\x00\x00")
	p += 4
	machine := uint16(MachineI386)
	if b.PE32Plus {
		machine = MachineAMD64
	}
	le.PutUint16(hdr[p:], machine)
	le.PutUint16(hdr[p+2:], uint16(numSections))
	le.PutUint16(hdr[p+16:], uint16(optSize))
	p += 20

	opt := hdr[p : p+optSize]
	dirOff := 208
	if b.PE32Plus {
		le.PutUint16(opt, 0x20B)
		dirOff = 224
	} else {
		le.PutUint16(opt, 0x10B)
	}
	if !b.NoRuntimeHeader {
		le.PutUint32(opt[dirOff:], sectionRVA)
		le.PutUint32(opt[dirOff+4:], cliHeaderSize)
	}
	p += optSize

	rawSize := align(body.Len(), fileAlignment)
	// Extra sections come first and sit at higher addresses so the table is unsorted.
	for i := 0; i < b.ExtraSections; i++ {
		sec := hdr[p : p+40]
		copy(sec, ".rsrc")
		le.PutUint32(sec[8:], 0x100)
		le.PutUint32(sec[12:], uint32(sectionRVA+0x10000*(i+1)))
		le.PutUint32(sec[16:], 0)
		le.PutUint32(sec[20:], 0)
		p += 40
	}
	sec := hdr[p : p+40]
	copy(sec, ".text")
	le.PutUint32(sec[8:], uint32(body.Len()))
	le.PutUint32(sec[12:], sectionRVA)
	le.PutUint32(sec[16:], uint32(rawSize))
	le.PutUint32(sec[20:], fileAlignment)

	data := make([]byte, fileAlignment+rawSize)
	copy(data, hdr)
	copy(data[fileAlignment:], body.Bytes())
	return Image{
		Data:       data,
		CLIOffset:  fileAlignment,
		RootOffset: fileAlignment + cliHeaderSize,
	}
}

var le = binary.LittleEndian

func align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

type heaps struct {
	strings bytes.Buffer
	strIdx  map[string]uint16
	blobs   bytes.Buffer
	guids   bytes.Buffer
}

func newHeaps() *heaps {
	h := &heaps{strIdx: map[string]uint16{"": 0}}
	h.strings.WriteByte(0)
	h.blobs.WriteByte(0)
	return h
}

func (h *heaps) str(s string) uint16 {
	if i, ok := h.strIdx[s]; ok {
		return i
	}
	i := uint16(h.strings.Len())
	h.strings.WriteString(s)
	h.strings.WriteByte(0)
	h.strIdx[s] = i
	return i
}

func (h *heaps) blob(b []byte) uint16 {
	if len(b) == 0 {
		return 0
	}
	i := uint16(h.blobs.Len())
	h.blobs.Write(CompressedUint(uint32(len(b))))
	h.blobs.Write(b)
	return i
}

func (h *heaps) guid(g [16]byte) uint16 {
	h.guids.Write(g[:])
	return uint16(h.guids.Len() / 16)
}

type table struct {
	id   int
	rows [][]byte
}

func row(fields ...uint32) []byte {
	return rowSized(nil, fields...)
}

// rowSized emits fields as 2-byte values unless their index is listed in wide.
func rowSized(wide map[int]bool, fields ...uint32) []byte {
	var buf bytes.Buffer
	for i, f := range fields {
		if wide[i] {
			binary.Write(&buf, le, f)
		} else {
			binary.Write(&buf, le, uint16(f))
		}
	}
	return buf.Bytes()
}

func (b Builder) tables(h *heaps) []byte {
	var tabs []*table
	add := func(id int) *table {
		t := &table{id: id}
		tabs = append(tabs, t)
		return t
	}

	module := add(0x00)
	module.rows = append(module.rows, row(0, uint32(h.str(b.Name+".dll")), uint32(h.guid(b.MVID)), 0, 0))

	typeRef := add(0x01)
	for _, tr := range b.TypeRefs {
		typeRef.rows = append(typeRef.rows, row(scope(tr.RefIndex), uint32(h.str(tr.Name)), uint32(h.str(tr.Namespace))))
	}

	typeDef := add(0x02)
	field := add(0x04)
	wideFlags := map[int]bool{0: true}
	typeDef.rows = append(typeDef.rows, rowSized(wideFlags, 0, uint32(h.str("<Module>")), 0, 0, 1, 1))
	for i, e := range b.Enums {
		typeDef.rows = append(typeDef.rows, rowSized(wideFlags, 0x101, uint32(h.str(e.Name)), uint32(h.str(e.Namespace)), 0, uint32(i+1), 1))
		field.rows = append(field.rows, row(0x0606, uint32(h.str("value__")), uint32(h.blob([]byte{0x06, e.Underlying}))))
	}

	memberRef := add(0x0A)
	customAttr := add(0x0C)
	for _, a := range b.Attrs {
		typeRef.rows = append(typeRef.rows, row(scope(a.RefIndex), uint32(h.str(a.Name)), uint32(h.str(a.Namespace))))
		trRID := uint32(len(typeRef.rows))
		memberRef.rows = append(memberRef.rows, row(trRID<<3|1, uint32(h.str(".ctor")), uint32(h.blob(a.Ctor))))
		mrRID := uint32(len(memberRef.rows))
		customAttr.rows = append(customAttr.rows, row(1<<5|14, mrRID<<3|3, uint32(h.blob(a.Value))))
	}

	assembly := add(0x20)
	asmFlags := uint32(0)
	if len(b.PublicKey) > 0 {
		asmFlags = 1
	}
	assembly.rows = append(assembly.rows, rowSized(map[int]bool{0: true, 5: true},
		0x8004, uint32(b.Version4[0]), uint32(b.Version4[1]), uint32(b.Version4[2]), uint32(b.Version4[3]),
		asmFlags, uint32(h.blob(b.PublicKey)), uint32(h.str(b.Name)), 0))

	assemblyRef := add(0x23)
	for _, r := range b.Refs {
		assemblyRef.rows = append(assemblyRef.rows, rowSized(map[int]bool{4: true},
			uint32(r.Version[0]), uint32(r.Version[1]), uint32(r.Version[2]), uint32(r.Version[3]),
			r.Flags, uint32(h.blob(r.Key)), uint32(h.str(r.Name)), uint32(h.str(r.Culture)), 0))
	}

	file := add(0x26)
	for _, f := range b.Files {
		file.rows = append(file.rows, rowSized(map[int]bool{0: true}, 0, uint32(h.str(f)), uint32(h.blob([]byte{0xAA, 0xBB}))))
	}

	sort.Slice(tabs, func(i, j int) bool { return tabs[i].id < tabs[j].id })

	var valid uint64
	var counts, body bytes.Buffer
	for _, t := range tabs {
		if len(t.rows) == 0 {
			continue
		}
		valid |= 1 << uint(t.id)
		binary.Write(&counts, le, uint32(len(t.rows)))
		for _, r := range t.rows {
			body.Write(r)
		}
	}

	var out bytes.Buffer
	binary.Write(&out, le, uint32(0))
	out.WriteByte(2)
	out.WriteByte(0)
	out.WriteByte(0) // all heaps use 2-byte indexes
	out.WriteByte(1)
	binary.Write(&out, le, valid)
	binary.Write(&out, le, uint64(0x16003301FA00))
	out.Write(counts.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

// scope encodes a ResolutionScope coded index: AssemblyRef when refIndex > 0, else Module.
func scope(refIndex int) uint32 {
	if refIndex > 0 {
		return uint32(refIndex)<<2 | 2
	}
	return 1 << 2
}

func (b Builder) metadataRoot() []byte {
	h := newHeaps()
	tables := b.tables(h)

	type stream struct {
		name string
		data []byte
	}
	streams := []stream{
		{"#~", pad4(tables)},
		{"#Strings", pad4(h.strings.Bytes())},
		{"#US", pad4([]byte{0})},
		{"#GUID", h.guids.Bytes()},
		{"#Blob", pad4(h.blobs.Bytes())},
	}

	version := pad4(append([]byte(b.Version), 0))

	var hdrs bytes.Buffer
	for _, s := range streams {
		hdrs.Write(make([]byte, 8))
		hdrs.Write(pad4(append([]byte(s.name), 0)))
	}
	headerLen := 16 + len(version) + 4 + hdrs.Len()

	var out bytes.Buffer
	binary.Write(&out, le, uint32(0x424A5342))
	binary.Write(&out, le, uint16(1))
	binary.Write(&out, le, uint16(1))
	binary.Write(&out, le, uint32(0))
	binary.Write(&out, le, uint32(len(version)))
	out.Write(version)
	binary.Write(&out, le, uint16(0))
	binary.Write(&out, le, uint16(len(streams)))
	off := headerLen
	for _, s := range streams {
		binary.Write(&out, le, uint32(off))
		binary.Write(&out, le, uint32(len(s.data)))
		out.Write(pad4(append([]byte(s.name), 0)))
		off += len(s.data)
	}
	for _, s := range streams {
		out.Write(s.data)
	}
	return out.Bytes()
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// CompressedUint encodes v as an ECMA-335 compressed unsigned integer.
func CompressedUint(v uint32) []byte {
	switch {
	case v < 0x80:
		return []byte{byte(v)}
	case v < 0x4000:
		return []byte{byte(v>>8) | 0x80, byte(v)}
	default:
		return []byte{byte(v>>24) | 0xC0, byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// SerString encodes s as a custom attribute SerString.
func SerString(s string) []byte {
	return append(CompressedUint(uint32(len(s))), s...)
}

// CtorSig encodes an instance constructor signature returning void.
func CtorSig(params ...[]byte) []byte {
	sig := []byte{0x20, byte(len(params)), 0x01}
	for _, p := range params {
		sig = append(sig, p...)
	}
	return sig
}

// StringAttribute returns constructor and value blobs for an attribute taking one string.
func StringAttribute(s string) (ctor, value []byte) {
	value = []byte{0x01, 0x00}
	value = append(value, SerString(s)...)
	value = append(value, 0x00, 0x00)
	return CtorSig([]byte{0x0E}), value
}

// TargetFramework returns the TargetFrameworkAttribute for name.
func TargetFramework(name string) Attr {
	ctor, value := StringAttribute(name)
	return Attr{
		Namespace: "System.Runtime.Versioning",
		Name:      "TargetFrameworkAttribute",
		Ctor:      ctor,
		Value:     value,
	}
}
