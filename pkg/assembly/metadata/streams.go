package metadata

import (
	"encoding/binary"

	"github.com/jtang613/gometa/pkg/assembly/image"
)

// Stream names.
const (
	StreamTables      = "#~"
	StreamTablesUnopt = "#-"
	StreamStrings     = "#Strings"
	StreamBlob        = "#Blob"
	StreamGUID        = "#GUID"
)

// Heap size flags of the tables header.
const (
	heapStringsWide = 0x01
	heapGUIDWide    = 0x02
	heapBlobWide    = 0x04
	heapExtraData   = 0x40
)

type tablesHeader struct {
	Reserved  uint32
	Major     uint8
	Minor     uint8
	HeapSizes uint8
	Reserved2 uint8
	Valid     uint64
	Sorted    uint64
}

// maxColumns is the widest row in the schema (Assembly, AssemblyRef).
const maxColumns = 9

type layout struct {
	size    uint32
	offsets [maxColumns]uint32
	widths  [maxColumns]uint8
}

// Tables is the decoded #~ stream together with the heaps it refers to.
type Tables struct {
	Major, Minor uint8

	Strings StringHeap
	Blobs   BlobHeap
	GUIDs   GUIDHeap

	data   []byte
	rows   [numTables]uint32
	start  [numTables]uint32
	layout [numTables]layout
}

// ParseTables decodes the table stream header and computes every table's
// location. Rows are read on demand.
func ParseTables(stream []byte, strs StringHeap, blobs BlobHeap, guids GUIDHeap) (*Tables, error) {
	c := image.NewCursor(stream)
	var hdr tablesHeader
	if err := c.Unpack(&hdr); err != nil {
		return nil, malformedf("tables header: %v", err)
	}

	t := &Tables{
		Major:   hdr.Major,
		Minor:   hdr.Minor,
		Strings: strs,
		Blobs:   blobs,
		GUIDs:   guids,
		data:    stream,
	}
	for id := 0; id < 64; id++ {
		if hdr.Valid&(1<<uint(id)) == 0 {
			continue
		}
		n, err := c.ReadU32()
		if err != nil {
			return nil, malformedf("row count of table 0x%02x: %v", id, err)
		}
		if id < numTables {
			t.rows[id] = n
		}
	}
	if hdr.HeapSizes&heapExtraData != 0 {
		if err := c.Skip(4); err != nil {
			return nil, malformedf("tables extra data: %v", err)
		}
	}

	wide := func(flag uint8) uint8 {
		if hdr.HeapSizes&flag != 0 {
			return 4
		}
		return 2
	}
	heapWidths := map[columnKind]uint8{
		colString: wide(heapStringsWide),
		colGUID:   wide(heapGUIDWide),
		colBlob:   wide(heapBlobWide),
	}

	pos := uint64(c.Position())
	for id := TableID(0); id < numTables; id++ {
		l := &t.layout[id]
		for i, col := range schema[id] {
			var w uint8
			switch col.kind {
			case colU16:
				w = 2
			case colU32:
				w = 4
			case colString, colGUID, colBlob:
				w = heapWidths[col.kind]
			case colIndex:
				w = t.indexWidth(col.table)
			case colCoded:
				w = t.codedWidth(col.coded)
			}
			l.offsets[i] = l.size
			l.widths[i] = w
			l.size += uint32(w)
		}
		t.start[id] = uint32(pos)
		pos += uint64(t.rows[id]) * uint64(l.size)
		if pos > uint64(len(stream)) {
			return nil, malformedf("table %s (%d rows) runs past stream end", id, t.rows[id])
		}
	}
	return t, nil
}

func (t *Tables) indexWidth(id TableID) uint8 {
	if t.rows[id] < 1<<16 {
		return 2
	}
	return 4
}

func (t *Tables) codedWidth(ci *codedIndex) uint8 {
	var most uint32
	for _, id := range ci.tables {
		if id != tableNone && t.rows[id] > most {
			most = t.rows[id]
		}
	}
	if most < 1<<(16-ci.bits) {
		return 2
	}
	return 4
}

// RowCount returns the number of rows in table id.
func (t *Tables) RowCount(id TableID) uint32 {
	if id >= numTables {
		return 0
	}
	return t.rows[id]
}

// row reads every column of row rid of table id.
func (t *Tables) row(id TableID, rid uint32) ([maxColumns]uint32, error) {
	var vals [maxColumns]uint32
	if id >= numTables || rid == 0 || rid > t.rows[id] {
		return vals, malformedf("row %d of table %s out of range", rid, id)
	}
	l := &t.layout[id]
	off := t.start[id] + (rid-1)*l.size
	b := t.data[off : off+l.size]
	for i := range schema[id] {
		o := l.offsets[i]
		if l.widths[i] == 2 {
			vals[i] = uint32(binary.LittleEndian.Uint16(b[o:]))
		} else {
			vals[i] = binary.LittleEndian.Uint32(b[o:])
		}
	}
	return vals, nil
}
