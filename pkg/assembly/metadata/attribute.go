package metadata

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/jtang613/gometa/pkg/assembly/image"
)

const (
	attributeProlog = 0x0001
	namedField      = 0x53
	namedProperty   = 0x54
	nullArray       = 0xFFFFFFFF
)

// Value is one decoded attribute argument. Value holds a Go scalar, a string,
// a TypeName for type arguments, a []Value for arrays, or nil for null.
type Value struct {
	Type  ElementType `json:"type"`
	Enum  *TypeName   `json:"enum,omitempty"`
	Value interface{} `json:"value"`
}

// NamedArg is a field or property assignment of an attribute.
type NamedArg struct {
	Property bool   `json:"property"`
	Name     string `json:"name"`
	Value    Value  `json:"value"`
}

// Arguments are the decoded arguments of one attribute instance.
type Arguments struct {
	Fixed []Value    `json:"fixed"`
	Named []NamedArg `json:"named,omitempty"`
}

// EnumResolver returns the underlying element type of an enum.
type EnumResolver func(t TypeName) (ElementType, error)

// DecodeAttribute decodes an attribute value blob against its constructor
// signature. Enum arguments are sized through enums, which may be nil when
// the attribute is known to carry none.
func DecodeAttribute(ctor *MethodSig, value []byte, enums EnumResolver) (*Arguments, error) {
	d := &argDecoder{c: image.NewCursor(value), enums: enums}
	prolog, err := d.c.ReadU16()
	if err != nil {
		return nil, errors.Wrap(err, "prolog")
	}
	if prolog != attributeProlog {
		return nil, errors.Errorf("bad attribute prolog 0x%04x", prolog)
	}

	args := &Arguments{Fixed: make([]Value, 0, len(ctor.Params))}
	for i, p := range ctor.Params {
		v, err := d.value(p)
		if err != nil {
			return nil, errors.Wrapf(err, "fixed argument %d", i)
		}
		args.Fixed = append(args.Fixed, v)
	}

	n, err := d.c.ReadU16()
	if err != nil {
		return nil, errors.Wrap(err, "named argument count")
	}
	for i := 0; i < int(n); i++ {
		kind, err := d.c.ReadU8()
		if err != nil {
			return nil, errors.Wrapf(err, "named argument %d", i)
		}
		if kind != namedField && kind != namedProperty {
			return nil, errors.Errorf("named argument %d: bad kind 0x%02x", i, kind)
		}
		t, err := d.fieldOrPropType()
		if err != nil {
			return nil, errors.Wrapf(err, "named argument %d type", i)
		}
		name, ok, err := readSerString(d.c)
		if err != nil || !ok {
			return nil, errors.Errorf("named argument %d: bad name", i)
		}
		v, err := d.value(t)
		if err != nil {
			return nil, errors.Wrapf(err, "named argument %s", name)
		}
		args.Named = append(args.Named, NamedArg{Property: kind == namedProperty, Name: name, Value: v})
	}
	return args, nil
}

type argDecoder struct {
	c     *image.Cursor
	enums EnumResolver
}

func (d *argDecoder) value(t SigType) (Value, error) {
	switch t.Elem {
	case ElementString, ElementSystemType:
		s, ok, err := readSerString(d.c)
		if err != nil || !ok {
			return Value{Type: t.Elem}, err
		}
		if t.Elem == ElementSystemType {
			return Value{Type: t.Elem, Value: ParseTypeName(s)}, nil
		}
		return Value{Type: t.Elem, Value: s}, nil

	case ElementClass:
		if t.Type.FullName() == "System.Type" {
			return d.value(SigType{Elem: ElementSystemType})
		}
		return Value{}, errors.Errorf("class argument %s not supported", t.Type.FullName())

	case ElementObject, ElementBoxed:
		inner, err := d.fieldOrPropType()
		if err != nil {
			return Value{}, err
		}
		return d.value(inner)

	case ElementValueType:
		if d.enums == nil {
			return Value{}, errors.Errorf("no enum resolver for %s", t.Type.FullName())
		}
		under, err := d.enums(t.Type)
		if err != nil {
			return Value{}, errors.Wrapf(err, "enum %s", t.Type.FullName())
		}
		v, err := d.primitive(under)
		if err != nil {
			return Value{}, err
		}
		name := t.Type
		return Value{Type: ElementEnum, Enum: &name, Value: v}, nil

	case ElementSZArray:
		n, err := d.c.ReadU32()
		if err != nil {
			return Value{}, err
		}
		if n == nullArray {
			return Value{Type: ElementSZArray}, nil
		}
		if n > d.c.Remaining() {
			return Value{}, errors.Errorf("array of %d elements in %d bytes", n, d.c.Remaining())
		}
		elems := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			v, err := d.value(*t.Inner)
			if err != nil {
				return Value{}, errors.Wrapf(err, "element %d", i)
			}
			elems = append(elems, v)
		}
		return Value{Type: ElementSZArray, Value: elems}, nil

	default:
		v, err := d.primitive(t.Elem)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: t.Elem, Value: v}, nil
	}
}

func (d *argDecoder) primitive(et ElementType) (interface{}, error) {
	c := d.c
	switch et {
	case ElementBoolean:
		b, err := c.ReadU8()
		return b != 0, err
	case ElementChar:
		v, err := c.ReadU16()
		return string(rune(v)), err
	case ElementI1:
		v, err := c.ReadU8()
		return int8(v), err
	case ElementU1:
		return c.ReadU8()
	case ElementI2:
		v, err := c.ReadU16()
		return int16(v), err
	case ElementU2:
		return c.ReadU16()
	case ElementI4:
		v, err := c.ReadU32()
		return int32(v), err
	case ElementU4:
		return c.ReadU32()
	case ElementI8:
		v, err := c.ReadU64()
		return int64(v), err
	case ElementU8:
		return c.ReadU64()
	case ElementR4:
		v, err := c.ReadU32()
		return math.Float32frombits(v), err
	case ElementR8:
		v, err := c.ReadU64()
		return math.Float64frombits(v), err
	default:
		return nil, errors.Errorf("element %s not valid in an attribute", et)
	}
}

// fieldOrPropType reads the type tag of a named or boxed argument.
func (d *argDecoder) fieldOrPropType() (SigType, error) {
	b, err := d.c.ReadU8()
	if err != nil {
		return SigType{}, err
	}
	et := ElementType(b)
	switch et {
	case ElementSZArray:
		inner, err := d.fieldOrPropType()
		if err != nil {
			return SigType{}, err
		}
		return SigType{Elem: et, Inner: &inner}, nil
	case ElementEnum:
		s, ok, err := readSerString(d.c)
		if err != nil || !ok {
			return SigType{}, errors.New("bad enum type name")
		}
		return SigType{Elem: ElementValueType, Type: ParseTypeName(s)}, nil
	case ElementBoxed:
		return SigType{Elem: ElementBoxed}, nil
	case ElementSystemType, ElementString:
		return SigType{Elem: et}, nil
	default:
		if !isPrimitive(et) {
			return SigType{}, errors.Errorf("bad argument type 0x%02x", b)
		}
		return SigType{Elem: et}, nil
	}
}

func isPrimitive(et ElementType) bool {
	return et >= ElementBoolean && et <= ElementR8
}

// ParseTypeName splits an assembly-qualified type name such as
// "Ns.Name, Asm, Version=1.0.0.0" into its parts.
func ParseTypeName(s string) TypeName {
	typ, asm, _ := strings.Cut(s, ",")
	asm, _, _ = strings.Cut(asm, ",")
	typ = strings.TrimSpace(typ)
	n := TypeName{Name: typ, Assembly: strings.TrimSpace(asm)}
	if i := strings.LastIndexByte(typ, '.'); i >= 0 {
		n.Namespace, n.Name = typ[:i], typ[i+1:]
	}
	return n
}
