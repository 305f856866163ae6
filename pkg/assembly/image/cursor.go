package image

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// ErrOutOfRange is returned by every Cursor read that would cross the end of the buffer.
var ErrOutOfRange = errors.New("read out of range")

// Cursor is a bounds-checked little-endian reader over a fixed byte buffer.
// Offsets are 32-bit: images larger than 4 GiB are viewed up to their first 4 GiB.
// Slices returned by the cursor alias the underlying buffer.
type Cursor struct {
	data []byte
	pos  uint32
}

// NewCursor creates a cursor positioned at the start of data.
func NewCursor(data []byte) *Cursor {
	if uint64(len(data)) > math.MaxUint32 {
		data = data[:math.MaxUint32]
	}
	return &Cursor{data: data}
}

// Len returns the size of the underlying buffer.
func (c *Cursor) Len() uint32 {
	return uint32(len(c.data))
}

// Position returns the current absolute offset.
func (c *Cursor) Position() uint32 {
	return c.pos
}

// Remaining returns the number of bytes between the current position and the end.
func (c *Cursor) Remaining() uint32 {
	return c.Len() - c.pos
}

// Seek moves the cursor to an absolute offset. Seeking to Len() is allowed.
func (c *Cursor) Seek(off uint32) error {
	if off > c.Len() {
		return errors.Wrapf(ErrOutOfRange, "seek to 0x%x past end 0x%x", off, c.Len())
	}
	c.pos = off
	return nil
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n uint32) error {
	off, ok := CheckedAdd(c.pos, n)
	if !ok {
		return errors.Wrapf(ErrOutOfRange, "skip %d from 0x%x", n, c.pos)
	}
	return c.Seek(off)
}

// Slice returns the n bytes at off without moving the cursor.
func (c *Cursor) Slice(off, n uint32) ([]byte, error) {
	end, ok := CheckedAdd(off, n)
	if !ok || end > c.Len() {
		return nil, errors.Wrapf(ErrOutOfRange, "%d bytes at 0x%x (len 0x%x)", n, off, c.Len())
	}
	return c.data[off:end:end], nil
}

// ReadBytes returns the next n bytes and advances past them.
func (c *Cursor) ReadBytes(n uint32) ([]byte, error) {
	b, err := c.Slice(c.pos, n)
	if err != nil {
		return nil, err
	}
	c.pos += n
	return b, nil
}

// ReadU8 reads one byte.
func (c *Cursor) ReadU8() (uint8, error) {
	b, err := c.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a little-endian uint16.
func (c *Cursor) ReadU16() (uint16, error) {
	b, err := c.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads a little-endian uint32.
func (c *Cursor) ReadU32() (uint32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a little-endian uint64.
func (c *Cursor) ReadU64() (uint64, error) {
	b, err := c.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Unpack decodes the fixed-size struct v at the current position and advances past it.
// The struct's full size is bounds-checked before any field is decoded.
func (c *Cursor) Unpack(v interface{}) error {
	size, err := struc.Sizeof(v)
	if err != nil {
		return errors.Wrap(err, "sizeof")
	}
	b, err := c.ReadBytes(uint32(size))
	if err != nil {
		return err
	}
	return errors.Wrap(struc.UnpackWithOrder(bytes.NewReader(b), v, binary.LittleEndian), "unpack")
}
