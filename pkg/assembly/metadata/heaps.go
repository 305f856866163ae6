package metadata

import (
	"bytes"

	"github.com/google/uuid"

	"github.com/jtang613/gometa/pkg/assembly/image"
)

// StringHeap is the #Strings heap: NUL-terminated UTF-8 strings addressed by
// byte offset.
type StringHeap struct {
	data []byte
}

// String returns the string at offset idx. Offset zero is the empty string.
func (h StringHeap) String(idx uint32) (string, error) {
	if idx == 0 {
		return "", nil
	}
	if idx >= uint32(len(h.data)) {
		return "", malformedf("string index 0x%x past heap end 0x%x", idx, len(h.data))
	}
	s := h.data[idx:]
	end := bytes.IndexByte(s, 0)
	if end < 0 {
		return "", malformedf("unterminated string at 0x%x", idx)
	}
	return string(s[:end]), nil
}

// BlobHeap is the #Blob heap: byte runs prefixed by a compressed length.
type BlobHeap struct {
	data []byte
}

// Blob returns the blob at offset idx. The slice aliases the image.
func (h BlobHeap) Blob(idx uint32) ([]byte, error) {
	if idx == 0 {
		return nil, nil
	}
	c := image.NewCursor(h.data)
	if err := c.Seek(idx); err != nil {
		return nil, malformedf("blob index 0x%x: %v", idx, err)
	}
	n, err := ReadCompressed(c)
	if err != nil {
		return nil, malformedf("blob 0x%x length: %v", idx, err)
	}
	b, err := c.ReadBytes(n)
	if err != nil {
		return nil, malformedf("blob 0x%x: %v", idx, err)
	}
	return b, nil
}

// GUIDHeap is the #GUID heap: 16-byte entries addressed by 1-based index.
type GUIDHeap struct {
	data []byte
}

// GUID returns the GUID at index idx. Index zero is the nil GUID.
func (h GUIDHeap) GUID(idx uint32) (uuid.UUID, error) {
	if idx == 0 {
		return uuid.Nil, nil
	}
	if idx > uint32(len(h.data))/16 {
		return uuid.Nil, malformedf("guid index %d out of range", idx)
	}
	off := (idx - 1) * 16
	return guidFromBytes(h.data[off : off+16]), nil
}

// guidFromBytes converts the on-disk layout, whose first three groups are
// little-endian, to the RFC 4122 byte order.
func guidFromBytes(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}
