// Package metadata reads the metadata root of a managed image: the runtime
// version text, the stream directory, the heaps and the tables.
package metadata

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/jtang613/gometa/pkg/assembly/image"
)

// ErrNoMetadataRoot means the runtime header points at no mapped metadata.
var ErrNoMetadataRoot = errors.New("no metadata root")

const (
	rootSignature    = 0x424A5342 // "BSJB"
	rootVersionField = 12
	maxVersionLength = 255
	maxStreams       = 64
	maxStreamName    = 32
)

// cliHeader is the runtime header the image's CLI data directory points at.
type cliHeader struct {
	Cb                  uint32
	MajorRuntimeVersion uint16
	MinorRuntimeVersion uint16
	MetaDataRVA         uint32
	MetaDataSize        uint32
	Flags               uint32
	EntryPointToken     uint32
}

// StreamHeader is one entry of the metadata stream directory. Offset is
// relative to the metadata root.
type StreamHeader struct {
	Name   string `json:"name"`
	Offset uint32 `json:"offset"`
	Size   uint32 `json:"size"`
}

// Root is a located metadata root.
type Root struct {
	// Offset is the file offset of the root signature.
	Offset uint32
	// Size is the metadata size declared by the runtime header.
	Size uint32
	// Version is the raw version text with trailing NULs removed.
	Version string
	// Flags are the runtime header flags.
	Flags uint32
	// EntryPoint is the entry point token, zero for libraries.
	EntryPoint uint32

	// streamsAt is the file offset of the stream directory.
	streamsAt uint32
}

// LocateRoot follows the runtime header of h to the metadata root and reads
// its version text. The stream directory is not read.
func LocateRoot(c *image.Cursor, h *image.Headers) (*Root, error) {
	cliOff, ok := h.RVAToOffset(h.RuntimeHeaderRVA)
	if !ok {
		return nil, errors.Wrapf(image.ErrNoRuntimeHeader, "runtime header rva 0x%x not mapped", h.RuntimeHeaderRVA)
	}
	if err := c.Seek(cliOff); err != nil {
		return nil, errors.Wrap(image.ErrNoRuntimeHeader, err.Error())
	}
	var cli cliHeader
	if err := c.Unpack(&cli); err != nil {
		return nil, malformedf("runtime header: %v", err)
	}

	off, ok := h.RVAToOffset(cli.MetaDataRVA)
	if !ok {
		return nil, errors.Wrapf(ErrNoMetadataRoot, "metadata rva 0x%x not mapped", cli.MetaDataRVA)
	}
	if err := c.Seek(off); err != nil {
		return nil, errors.Wrap(ErrNoMetadataRoot, err.Error())
	}
	sig, err := c.ReadU32()
	if err != nil {
		return nil, malformedf("root signature: %v", err)
	}
	if sig != rootSignature {
		return nil, malformedf("bad root signature 0x%08x", sig)
	}

	if err := c.Skip(rootVersionField - 4); err != nil { // major, minor, reserved
		return nil, malformedf("version length: %v", err)
	}
	n, err := c.ReadU32()
	if err != nil {
		return nil, malformedf("version length: %v", err)
	}
	if n == 0 || n > maxVersionLength {
		return nil, malformedf("version length %d out of range", n)
	}
	text, err := c.ReadBytes(n)
	if err != nil {
		return nil, malformedf("version text: %v", err)
	}

	return &Root{
		Offset:     off,
		Size:       cli.MetaDataSize,
		Version:    string(bytes.TrimRight(text, "\x00")),
		Flags:      cli.Flags,
		EntryPoint: cli.EntryPointToken,
		streamsAt:  c.Position(),
	}, nil
}

// Streams reads the stream directory that follows the version text.
// Every stream window is checked against the buffer.
func (r *Root) Streams(c *image.Cursor) ([]StreamHeader, error) {
	if err := c.Seek(r.streamsAt); err != nil {
		return nil, malformedf("stream directory: %v", err)
	}
	if err := c.Skip(2); err != nil { // flags
		return nil, malformedf("stream directory: %v", err)
	}
	count, err := c.ReadU16()
	if err != nil {
		return nil, malformedf("stream count: %v", err)
	}
	if count > maxStreams {
		return nil, malformedf("%d streams exceeds limit %d", count, maxStreams)
	}

	streams := make([]StreamHeader, 0, count)
	for i := 0; i < int(count); i++ {
		var s StreamHeader
		if s.Offset, err = c.ReadU32(); err != nil {
			return nil, malformedf("stream %d: %v", i, err)
		}
		if s.Size, err = c.ReadU32(); err != nil {
			return nil, malformedf("stream %d: %v", i, err)
		}
		if s.Name, err = readStreamName(c); err != nil {
			return nil, malformedf("stream %d: %v", i, err)
		}
		start, ok := image.CheckedAdd(r.Offset, s.Offset)
		if !ok {
			return nil, malformedf("stream %s offset overflows", s.Name)
		}
		if _, err := c.Slice(start, s.Size); err != nil {
			return nil, malformedf("stream %s: %v", s.Name, err)
		}
		streams = append(streams, s)
	}
	return streams, nil
}

// Stream returns the bytes of the named stream, or false if the directory
// does not list it. The first entry with a given name wins.
func (r *Root) Stream(c *image.Cursor, streams []StreamHeader, name string) ([]byte, bool) {
	for _, s := range streams {
		if s.Name != name {
			continue
		}
		b, err := c.Slice(r.Offset+s.Offset, s.Size)
		if err != nil {
			return nil, false
		}
		return b, true
	}
	return nil, false
}

// readStreamName reads a NUL-terminated name padded to a 4-byte boundary.
func readStreamName(c *image.Cursor) (string, error) {
	var name []byte
	for {
		b, err := c.ReadU8()
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		if len(name) == maxStreamName {
			return "", errors.New("stream name too long")
		}
		name = append(name, b)
	}
	if pad := (4 - (len(name)+1)%4) % 4; pad > 0 {
		if err := c.Skip(uint32(pad)); err != nil {
			return "", err
		}
	}
	return string(name), nil
}

// ReadVersion returns the raw version text of the metadata root of an image.
func ReadVersion(data []byte) (string, error) {
	c := image.NewCursor(data)
	h, err := image.Locate(c)
	if err != nil {
		return "", err
	}
	r, err := LocateRoot(c, h)
	if err != nil {
		return "", err
	}
	return r.Version, nil
}

// RuntimeVersion returns the runtime version marker of an image, such as
// "v4.0.30319". Any failure yields the empty string.
func RuntimeVersion(data []byte) string {
	v, err := ReadVersion(data)
	if err != nil || !ValidRuntimeVersion(v) {
		return ""
	}
	return v
}
