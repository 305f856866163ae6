package metadata

import (
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/jtang613/gometa/pkg/assembly/image"
)

// ReadCompressed reads an ECMA-335 compressed unsigned integer.
func ReadCompressed(c *image.Cursor) (uint32, error) {
	b0, err := c.ReadU8()
	if err != nil {
		return 0, err
	}
	switch {
	case b0&0x80 == 0:
		return uint32(b0), nil
	case b0&0xC0 == 0x80:
		b1, err := c.ReadU8()
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x3F)<<8 | uint32(b1), nil
	case b0&0xE0 == 0xC0:
		rest, err := c.ReadBytes(3)
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), nil
	default:
		return 0, errors.Errorf("bad compressed integer lead byte 0x%02x", b0)
	}
}

// readSerString reads a length-prefixed UTF-8 string from an attribute blob.
// A lead byte of 0xFF is the null string, reported as ok=false.
func readSerString(c *image.Cursor) (s string, ok bool, err error) {
	if c.Remaining() > 0 {
		peek, _ := c.Slice(c.Position(), 1)
		if peek[0] == 0xFF {
			_ = c.Skip(1)
			return "", false, nil
		}
	}
	n, err := ReadCompressed(c)
	if err != nil {
		return "", false, errors.Wrap(err, "string length")
	}
	b, err := c.ReadBytes(n)
	if err != nil {
		return "", false, errors.Wrap(err, "string body")
	}
	if !utf8.Valid(b) {
		return "", false, errors.New("string is not valid UTF-8")
	}
	return string(b), true, nil
}

// FirstStringArg returns the first fixed argument of an attribute value blob
// whose constructor takes a string first. A null string reports false.
func FirstStringArg(value []byte) (string, bool) {
	c := image.NewCursor(value)
	prolog, err := c.ReadU16()
	if err != nil || prolog != attributeProlog {
		return "", false
	}
	s, ok, err := readSerString(c)
	if err != nil {
		return "", false
	}
	return s, ok
}
