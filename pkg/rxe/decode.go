package rxe

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/xplshn/nxtc/pkg/bytecode"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/dataspace"
	"github.com/xplshn/nxtc/pkg/ir"
)

// RawEntry is one table-of-contents record as stored in an image.
type RawEntry struct {
	Type  dataspace.TypeCode
	Flags uint8
	Desc  uint16
}

// Image is a decoded executable.
type Image struct {
	Header      Header
	Entries     []RawEntry
	Compact     []byte
	Dynamic     []byte
	DopeVectors []dataspace.DopeVector
	Clumps      []ir.Clump
	Code        []int16
}

// FormatError describes an image the loader would refuse.
type FormatError struct {
	Offset int
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("rxe: offset %d: %s", e.Offset, e.Msg)
	}
	return "rxe: " + e.Msg
}

func formatErr(offset int, format string, args ...interface{}) error {
	return &FormatError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Decode splits an image into its sections. It checks that every section
// fits in data; Verify checks how the sections relate to each other.
func Decode(data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, formatErr(0, "image is %d bytes, shorter than the %d byte header", len(data), HeaderSize)
	}
	img := &Image{}
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &img.Header); err != nil {
		return nil, formatErr(0, "bad header: %v", err)
	}
	h := img.Header
	if string(h.Format[:]) != FormatString {
		return nil, formatErr(0, "format string is %q", h.Format[:])
	}

	off := HeaderSize
	take := func(n int, what string) ([]byte, error) {
		if n < 0 || off+n > len(data) {
			return nil, formatErr(off, "%s needs %d bytes, %d left", what, n, len(data)-off)
		}
		b := data[off : off+n]
		off += n
		return b, nil
	}

	toc, err := take(int(h.DataspaceCount)*dataspace.EntrySize, "table of contents")
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(toc); i += dataspace.EntrySize {
		img.Entries = append(img.Entries, RawEntry{
			Type:  dataspace.TypeCode(toc[i]),
			Flags: toc[i+1],
			Desc:  binary.LittleEndian.Uint16(toc[i+2:]),
		})
	}

	if h.DynDefaultsOffset > h.DefaultsSize {
		return nil, formatErr(22, "dynamic defaults offset %d past defaults size %d", h.DynDefaultsOffset, h.DefaultsSize)
	}
	if img.Compact, err = take(int(h.DynDefaultsOffset), "compact defaults"); err != nil {
		return nil, err
	}
	if img.Dynamic, err = take(int(h.DefaultsSize-h.DynDefaultsOffset), "dynamic defaults"); err != nil {
		return nil, err
	}
	// The sentinel's count is the number of records after it, except that an
	// image without arrays (head 0) has only the sentinel.
	records := 1
	for i := 0; i < records; i++ {
		at := i * dataspace.DopeVectorSize
		if at+dataspace.DopeVectorSize > len(img.Dynamic) {
			return nil, formatErr(-1, "dope vector %d runs past the dynamic defaults", i)
		}
		rec := img.Dynamic[at:]
		img.DopeVectors = append(img.DopeVectors, dataspace.DopeVector{
			Offset:   int(binary.LittleEndian.Uint16(rec[0:])),
			ElemSize: int(binary.LittleEndian.Uint16(rec[2:])),
			Count:    int(binary.LittleEndian.Uint16(rec[4:])),
			Back:     int(binary.LittleEndian.Uint16(rec[6:])),
			Link:     int(binary.LittleEndian.Uint16(rec[8:])),
		})
		if i == 0 && h.MemMgrHead != 0 {
			records += img.DopeVectors[0].Count
		}
	}

	clumps, err := take(int(h.ClumpCount)*ClumpSize, "clump records")
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(clumps); i += ClumpSize {
		img.Clumps = append(img.Clumps, ir.Clump{
			FireCount:      clumps[i],
			DependentCount: clumps[i+1],
			CodeStart:      int(binary.LittleEndian.Uint16(clumps[i+2:])),
		})
	}

	code, err := take(int(h.CodespaceCount)*2, "code")
	if err != nil {
		return nil, err
	}
	img.Code = make([]int16, h.CodespaceCount)
	binary.Read(bytes.NewReader(code), binary.LittleEndian, img.Code)

	if off != len(data) {
		return nil, formatErr(off, "%d trailing bytes after code", len(data)-off)
	}
	return img, nil
}

// Verify applies the loader's consistency rules to a decoded image: header
// sizes agree with the sections, the dope vector sentinel describes the
// dope vector array, the memory manager list walks every array exactly once,
// and the code decodes cleanly.
func (img *Image) Verify() error {
	h := img.Header
	if h.Major > 1 || h.Minor < config.OldestFormatMinor {
		return formatErr(14, "unsupported format version %d.%d", h.Major, h.Minor)
	}
	if h.StaticSize%4 != 0 {
		return formatErr(20, "static size %d is not a multiple of 4", h.StaticSize)
	}
	if int(h.DataspaceSize) != int(h.StaticSize)+len(img.Dynamic) {
		return formatErr(18, "dataspace size %d, want static %d + dynamic %d", h.DataspaceSize, h.StaticSize, len(img.Dynamic))
	}
	if h.DVArrayOffset != h.StaticSize {
		return formatErr(32, "dope vector array at %d, want %d", h.DVArrayOffset, h.StaticSize)
	}

	compact, arrays, err := img.scanEntries()
	if err != nil {
		return err
	}
	if compact != len(img.Compact) {
		return formatErr(24, "compact defaults are %d bytes, the table of contents needs %d", len(img.Compact), compact)
	}

	if len(img.DopeVectors) == 0 {
		return formatErr(-1, "missing dope vector sentinel")
	}
	sentinel := img.DopeVectors[0]
	if sentinel.Offset != int(h.StaticSize) || sentinel.ElemSize != dataspace.DopeVectorSize {
		return formatErr(-1, "sentinel dope vector %+v does not describe the dope vector array", sentinel)
	}
	if arrays == 0 {
		if h.MemMgrHead != 0 || h.MemMgrTail != 0 {
			return formatErr(28, "memory manager list %d..%d with no arrays", h.MemMgrHead, h.MemMgrTail)
		}
		if sentinel.Count != 1 {
			return formatErr(-1, "sentinel count %d with no arrays, want 1", sentinel.Count)
		}
	} else if err := img.walkDopeVectors(arrays); err != nil {
		return err
	}

	if len(img.Clumps) == 0 {
		return formatErr(34, "no clumps")
	}
	for i, c := range img.Clumps {
		if c.CodeStart >= len(img.Code) {
			return formatErr(-1, "clump %d starts at word %d past %d code words", i, c.CodeStart, len(img.Code))
		}
	}
	if _, err := bytecode.Decode(img.Code); err != nil {
		return err
	}
	return nil
}

// scanEntries returns the compact default size the table implies and the
// number of array entries, checking array descriptors along the way.
func (img *Image) scanEntries() (compact, arrays int, err error) {
	element := false
	for i, e := range img.Entries {
		if element {
			element = false
			continue
		}
		switch {
		case e.Type == dataspace.TCArray:
			arrays++
			if int(e.Desc) < 1 || int(e.Desc) >= len(img.DopeVectors) {
				return 0, 0, formatErr(-1, "entry %d: array descriptor %d has no dope vector", i, e.Desc)
			}
			element = true
		case e.Type.IsScalar():
			if e.Flags&dataspace.FlagWritten == 0 {
				compact += e.Type.Size()
			}
		case e.Type == dataspace.TCCluster, e.Type == dataspace.TCVoid, e.Type == dataspace.TCMutex:
		default:
			return 0, 0, formatErr(-1, "entry %d: unknown type code %d", i, e.Type)
		}
	}
	if element {
		return 0, 0, formatErr(-1, "array entry without an element type")
	}
	return compact, arrays, nil
}

func (img *Image) walkDopeVectors(arrays int) error {
	h := img.Header
	sentinel := img.DopeVectors[0]
	if sentinel.Count != arrays || len(img.DopeVectors) != arrays+1 {
		return formatErr(-1, "sentinel count %d, %d records, %d arrays", sentinel.Count, len(img.DopeVectors)-1, arrays)
	}
	seen := make(map[int]bool)
	prev := dataspace.NoLink
	idx := int(h.MemMgrHead)
	for idx != dataspace.NoLink {
		if idx < 1 || idx >= len(img.DopeVectors) || seen[idx] {
			return formatErr(-1, "memory manager list broken at dope vector %d", idx)
		}
		seen[idx] = true
		dv := img.DopeVectors[idx]
		if dv.Back != prev {
			return formatErr(-1, "dope vector %d back link %d, want %d", idx, dv.Back, prev)
		}
		end := dv.Offset + dv.ElemSize*dv.Count
		if dv.Offset < int(h.StaticSize) || end > int(h.DataspaceSize) {
			return formatErr(-1, "dope vector %d data %d..%d outside the dynamic area", idx, dv.Offset, end)
		}
		if dv.Link == dataspace.NoLink && idx != int(h.MemMgrTail) {
			return formatErr(30, "list ends at %d, tail is %d", idx, h.MemMgrTail)
		}
		prev, idx = idx, dv.Link
	}
	if len(seen) != arrays {
		return formatErr(-1, "memory manager list covers %d of %d arrays", len(seen), arrays)
	}
	return nil
}
