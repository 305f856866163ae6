// Package image locates the headers of a portable executable image and maps
// relative virtual addresses to file offsets.
//
//	Offset              Size  Description
//	------------------  ----  ---------------------------------------------
//	0x3C                 4    file offset of the image header block
//	hdr                  4    'P' 'E' 0 0
//	hdr+4                20   file header (machine @+0, section count @+2)
//	hdr+24               224  optional header, 32-bit address variant (0x10B)
//	                     240  optional header, 64-bit address variant (0x20B)
//	hdr+24+opt           40   section header, repeated section-count times
//
// The runtime header data directory sits at optional-header offset 208 (PE32)
// or 224 (PE32+).
package image

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotAnImage means the front matter does not describe a portable executable.
	ErrNotAnImage = errors.New("not a portable executable image")
	// ErrMalformed means a header field failed a sanity check.
	ErrMalformed = errors.New("malformed image")
	// ErrNoRuntimeHeader means the image has no managed runtime header.
	ErrNoRuntimeHeader = errors.New("no managed runtime header")
)

const (
	headerPointerOffset = 0x3C
	signatureSize       = 4
	fileHeaderSize      = 20
	optionalHeader32    = 224
	optionalHeader64    = 240
	sectionHeaderSize   = 40

	// MaxSections bounds the section table of any image we accept.
	MaxSections = 96

	runtimeDirectory32 = 208
	runtimeDirectory64 = 224

	imageSignature = 0x00004550 // "PE\0\0"
	magicPE32      = 0x10B
	magicPE32Plus  = 0x20B

	headerSpan = signatureSize + fileHeaderSize + optionalHeader32 + sectionHeaderSize

	// MinImageSize is the smallest file that can hold front matter, headers,
	// the smaller optional header and one section header.
	MinImageSize = headerPointerOffset + 4 + headerSpan
)

// Kind is the optional-header variant of an image.
type Kind int

const (
	PE32 Kind = iota
	PE32Plus
)

func (k Kind) String() string {
	switch k {
	case PE32:
		return "PE32"
	case PE32Plus:
		return "PE32+"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Section describes where one image section lives in the file.
type Section struct {
	Name           string `json:"name"`
	VirtualAddress uint32 `json:"virtual_address"`
	Size           uint32 `json:"size"`
	FileOffset     uint32 `json:"file_offset"`
}

// sectionHeader is the on-disk section header layout.
type sectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// Headers is the result of walking an image's header chain.
type Headers struct {
	Kind              Kind
	Machine           uint16
	Sections          []Section
	RuntimeHeaderRVA  uint32
	RuntimeHeaderSize uint32
}

// Locate walks the header chain of the image under c. Sections are recorded in
// file order; nothing assumes they are sorted by address.
func Locate(c *Cursor) (*Headers, error) {
	if c.Len() < MinImageSize {
		return nil, errors.Wrapf(ErrNotAnImage, "file too small: %d bytes", c.Len())
	}

	if err := c.Seek(headerPointerOffset); err != nil {
		return nil, errors.Wrap(ErrNotAnImage, err.Error())
	}
	hdr, err := c.ReadU32()
	if err != nil {
		return nil, errors.Wrap(ErrNotAnImage, err.Error())
	}
	if end, ok := CheckedAdd(hdr, uint32(headerSpan)); !ok || end > c.Len() {
		return nil, errors.Wrapf(ErrNotAnImage, "header offset 0x%x out of range", hdr)
	}

	if err := c.Seek(hdr); err != nil {
		return nil, errors.Wrap(ErrNotAnImage, err.Error())
	}
	sig, err := c.ReadU32()
	if err != nil {
		return nil, errors.Wrap(ErrNotAnImage, err.Error())
	}
	if sig != imageSignature {
		return nil, errors.Wrapf(ErrNotAnImage, "bad signature 0x%08x", sig)
	}

	h := &Headers{}
	if h.Machine, err = c.ReadU16(); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	numSections, err := c.ReadU16()
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if numSections > MaxSections {
		return nil, errors.Wrapf(ErrMalformed, "%d sections exceeds limit %d", numSections, MaxSections)
	}

	optOff := hdr + signatureSize + fileHeaderSize
	if err := c.Seek(optOff); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	magic, err := c.ReadU16()
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}

	var optSize, dirOff uint32
	switch magic {
	case magicPE32:
		h.Kind, optSize, dirOff = PE32, optionalHeader32, runtimeDirectory32
	case magicPE32Plus:
		h.Kind, optSize, dirOff = PE32Plus, optionalHeader64, runtimeDirectory64
	default:
		return nil, errors.Wrapf(ErrNotAnImage, "unknown optional header magic 0x%x", magic)
	}

	if err := c.Seek(optOff + dirOff); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if h.RuntimeHeaderRVA, err = c.ReadU32(); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if h.RuntimeHeaderSize, err = c.ReadU32(); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if h.RuntimeHeaderRVA == 0 {
		return nil, errors.WithStack(ErrNoRuntimeHeader)
	}

	if err := c.Seek(optOff + optSize); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	h.Sections = make([]Section, 0, numSections)
	for i := 0; i < int(numSections); i++ {
		var sh sectionHeader
		if err := c.Unpack(&sh); err != nil {
			return nil, errors.Wrapf(ErrMalformed, "section %d: %v", i, err)
		}
		h.Sections = append(h.Sections, Section{
			Name:           sectionName(sh.Name),
			VirtualAddress: sh.VirtualAddress,
			Size:           sh.VirtualSize,
			FileOffset:     sh.PointerToRawData,
		})
	}

	return h, nil
}

// RVAToOffset translates rva to a file offset. It reports false when no section
// covers rva, which is a normal outcome for zero-filled or absent data.
func (h *Headers) RVAToOffset(rva uint32) (uint32, bool) {
	for _, s := range h.Sections {
		if rva < s.VirtualAddress || rva-s.VirtualAddress >= s.Size {
			continue
		}
		off, ok := CheckedAdd(s.FileOffset, rva-s.VirtualAddress)
		return off, ok
	}
	return 0, false
}

func sectionName(raw [8]byte) string {
	if i := bytes.IndexByte(raw[:], 0); i >= 0 {
		return string(raw[:i])
	}
	return string(raw[:])
}
