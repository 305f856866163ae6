package metadata

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/jtang613/gometa/pkg/assembly/image"
)

// ElementType is a signature element type code.
type ElementType uint8

// Element types that can occur in attribute constructor signatures and values.
const (
	ElementVoid      ElementType = 0x01
	ElementBoolean   ElementType = 0x02
	ElementChar      ElementType = 0x03
	ElementI1        ElementType = 0x04
	ElementU1        ElementType = 0x05
	ElementI2        ElementType = 0x06
	ElementU2        ElementType = 0x07
	ElementI4        ElementType = 0x08
	ElementU4        ElementType = 0x09
	ElementI8        ElementType = 0x0A
	ElementU8        ElementType = 0x0B
	ElementR4        ElementType = 0x0C
	ElementR8        ElementType = 0x0D
	ElementString    ElementType = 0x0E
	ElementValueType ElementType = 0x11
	ElementClass     ElementType = 0x12
	ElementI         ElementType = 0x18
	ElementU         ElementType = 0x19
	ElementObject    ElementType = 0x1C
	ElementSZArray   ElementType = 0x1D

	// Only in attribute value blobs.
	ElementSystemType ElementType = 0x50
	ElementBoxed      ElementType = 0x51
	ElementEnum       ElementType = 0x55
)

const (
	sigHasThis = 0x20
	sigGeneric = 0x10
	sigField   = 0x06
)

var elementNames = map[ElementType]string{
	ElementVoid: "void", ElementBoolean: "bool", ElementChar: "char",
	ElementI1: "int8", ElementU1: "uint8", ElementI2: "int16", ElementU2: "uint16",
	ElementI4: "int32", ElementU4: "uint32", ElementI8: "int64", ElementU8: "uint64",
	ElementR4: "float32", ElementR8: "float64", ElementString: "string",
	ElementValueType: "valuetype", ElementClass: "class", ElementI: "native int",
	ElementU: "native uint", ElementObject: "object", ElementSZArray: "szarray",
	ElementSystemType: "type", ElementBoxed: "boxed", ElementEnum: "enum",
}

func (e ElementType) String() string {
	if s, ok := elementNames[e]; ok {
		return s
	}
	return fmt.Sprintf("ElementType(0x%02x)", uint8(e))
}

// MarshalText renders the element type by name.
func (e ElementType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e ElementType) isEnumUnderlying() bool {
	switch e {
	case ElementBoolean, ElementChar, ElementI1, ElementU1, ElementI2, ElementU2,
		ElementI4, ElementU4, ElementI8, ElementU8, ElementI, ElementU:
		return true
	}
	return false
}

// TypeName is a type as named from an attribute: namespace, name and the
// assembly that declares it. An empty Assembly means the current module.
type TypeName struct {
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	Assembly  string `json:"assembly,omitempty"`
}

// FullName returns Namespace.Name.
func (n TypeName) FullName() string {
	if n.Namespace == "" {
		return n.Name
	}
	return n.Namespace + "." + n.Name
}

// SigType is one parameter type of a method signature.
type SigType struct {
	Elem ElementType
	// Type names the class or value type for ElementClass and ElementValueType.
	Type TypeName
	// Inner is the element type of an ElementSZArray.
	Inner *SigType
}

// MethodSig is a decoded method signature.
type MethodSig struct {
	HasThis bool
	Return  SigType
	Params  []SigType
}

// TypeNamer resolves TypeDefOrRef tokens appearing in signatures.
type TypeNamer interface {
	SigTypeName(tok Token) (TypeName, error)
}

// ParseMethodSig decodes a method definition or reference signature. Generic
// instantiations and pointer types are not supported.
func ParseMethodSig(sig []byte, names TypeNamer) (*MethodSig, error) {
	c := image.NewCursor(sig)
	conv, err := c.ReadU8()
	if err != nil {
		return nil, errors.Wrap(err, "calling convention")
	}
	if conv&sigGeneric != 0 {
		if _, err := ReadCompressed(c); err != nil {
			return nil, errors.Wrap(err, "generic parameter count")
		}
	}
	n, err := ReadCompressed(c)
	if err != nil {
		return nil, errors.Wrap(err, "parameter count")
	}
	if n > c.Remaining() {
		return nil, errors.Errorf("%d parameters in a %d byte signature", n, len(sig))
	}
	m := &MethodSig{HasThis: conv&sigHasThis != 0}
	if m.Return, err = parseSigType(c, names); err != nil {
		return nil, errors.Wrap(err, "return type")
	}
	m.Params = make([]SigType, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := parseSigType(c, names)
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %d", i)
		}
		m.Params = append(m.Params, p)
	}
	return m, nil
}

func parseSigType(c *image.Cursor, names TypeNamer) (SigType, error) {
	b, err := c.ReadU8()
	if err != nil {
		return SigType{}, err
	}
	et := ElementType(b)
	switch et {
	case ElementVoid, ElementBoolean, ElementChar, ElementI1, ElementU1, ElementI2, ElementU2,
		ElementI4, ElementU4, ElementI8, ElementU8, ElementR4, ElementR8, ElementString,
		ElementI, ElementU, ElementObject:
		return SigType{Elem: et}, nil
	case ElementClass, ElementValueType:
		coded, err := ReadCompressed(c)
		if err != nil {
			return SigType{}, err
		}
		tok, err := ciTypeDefOrRef.decode(coded)
		if err != nil {
			return SigType{}, err
		}
		name, err := names.SigTypeName(tok)
		if err != nil {
			return SigType{}, err
		}
		return SigType{Elem: et, Type: name}, nil
	case ElementSZArray:
		inner, err := parseSigType(c, names)
		if err != nil {
			return SigType{}, err
		}
		return SigType{Elem: et, Inner: &inner}, nil
	default:
		return SigType{}, errors.Errorf("unsupported signature element %s", et)
	}
}
