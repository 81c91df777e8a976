// Package rxe serializes a generated program into the NXT executable image
// format and reads such images back for verification.
package rxe

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/ir"
	"github.com/xplshn/nxtc/pkg/token"
	"github.com/xplshn/nxtc/pkg/util"
)

const (
	FormatString = "MindstormsNXT\x00"
	HeaderSize   = 38
	ClumpSize    = 4
	maxField     = 0xFFFF
)

// Header is the fixed 38-byte image header. All fields are little-endian.
type Header struct {
	Format            [14]byte
	Major, Minor      uint8
	DataspaceCount    uint16
	DataspaceSize     uint16
	StaticSize        uint16
	DefaultsSize      uint16
	DynDefaultsOffset uint16
	DynDefaultsSize   uint16
	MemMgrHead        uint16
	MemMgrTail        uint16
	DVArrayOffset     uint16
	ClumpCount        uint16
	CodespaceCount    uint16
}

type field struct {
	name  string
	value int
	dst   *uint16
}

func checked(fields []field) error {
	for _, f := range fields {
		if f.value < 0 || f.value > maxField {
			return util.LimitErrorf("%s is %d, the image format allows at most %d", f.name, f.value, maxField)
		}
		*f.dst = uint16(f.value)
	}
	return nil
}

// NewHeader computes the header for prog. Any field that does not fit in 16
// bits is rejected with a limit error.
func NewHeader(prog *ir.Program, cfg *config.Config) (Header, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	var h Header
	copy(h.Format[:], FormatString)
	h.Major, h.Minor = uint8(cfg.FormatMajor), uint8(cfg.FormatMinor)

	l := prog.Data
	err := checked([]field{
		{"dataspace entry count", len(l.Entries), &h.DataspaceCount},
		{"dataspace size", l.InitialSize(), &h.DataspaceSize},
		{"static dataspace size", l.StaticSize, &h.StaticSize},
		{"default value size", len(l.Compact) + len(l.Dynamic), &h.DefaultsSize},
		{"dynamic defaults offset", len(l.Compact), &h.DynDefaultsOffset},
		{"dynamic defaults size", len(l.Dynamic), &h.DynDefaultsSize},
		{"memory manager head", l.Head, &h.MemMgrHead},
		{"memory manager tail", l.Tail, &h.MemMgrTail},
		{"dope vector array offset", l.StaticSize, &h.DVArrayOffset},
		{"clump count", len(prog.Clumps), &h.ClumpCount},
		{"code word count", len(prog.Code), &h.CodespaceCount},
	})
	return h, err
}

// Encode renders prog as a complete image.
func Encode(prog *ir.Program, cfg *config.Config) ([]byte, error) {
	if prog == nil || prog.Data == nil {
		return nil, util.ValueErrorf(token.Token{}, "no program to encode")
	}
	if len(prog.Clumps) == 0 {
		return nil, util.ValueErrorf(token.Token{}, "program has no clumps")
	}
	h, err := NewHeader(prog, cfg)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(prog.Data.Entries)*4 + int(h.DefaultsSize) + len(prog.Clumps)*ClumpSize + len(prog.Code)*2)
	var werr error
	write := func(v interface{}) {
		if werr == nil {
			werr = binary.Write(&buf, binary.LittleEndian, v)
		}
	}
	write(h)

	for i, e := range prog.Data.Entries {
		if e.Desc < 0 || e.Desc > maxField {
			return nil, util.LimitErrorf("entry %d (%s) descriptor %d does not fit in 16 bits", i, e.Name, e.Desc)
		}
		buf.WriteByte(byte(e.Type))
		buf.WriteByte(e.Flags)
		write(uint16(e.Desc))
	}
	buf.Write(prog.Data.Compact)
	buf.Write(prog.Data.Dynamic)

	for _, c := range prog.Clumps {
		if c.CodeStart < 0 || c.CodeStart > maxField {
			return nil, util.LimitErrorf("clump code start %d does not fit in 16 bits", c.CodeStart)
		}
		buf.WriteByte(c.FireCount)
		buf.WriteByte(c.DependentCount)
		write(uint16(c.CodeStart))
	}
	write(prog.Code)
	if werr != nil {
		return nil, util.ValueErrorf(token.Token{}, "encoding image: %v", werr)
	}
	return buf.Bytes(), nil
}

// WriteFile writes image to path. The image is written to a temporary file in
// the same directory and renamed into place, so a failed write never leaves a
// truncated image behind.
func WriteFile(path string, image []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".nxtc-*.rxe.tmp")
	if err != nil {
		return util.IOError(err, "cannot create output in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return util.IOError(err, "cannot write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return util.IOError(err, "cannot write %s", path)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return util.IOError(err, "cannot write %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return util.IOError(err, "cannot write %s", path)
	}
	return nil
}
