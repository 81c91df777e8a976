package rxe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/nxtc/pkg/bytecode"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/dataspace"
	"github.com/xplshn/nxtc/pkg/ir"
	"github.com/xplshn/nxtc/pkg/util"
)

func program(t *testing.T, b *dataspace.Builder, build func(s *bytecode.Stream)) *ir.Program {
	t.Helper()
	s := bytecode.NewStream()
	if build != nil {
		build(s)
	}
	if _, err := s.Emit(bytecode.OpStop, 0, 0); err != nil {
		t.Fatal(err)
	}
	words, err := s.Words()
	if err != nil {
		t.Fatal(err)
	}
	return &ir.Program{Data: b.Layout(), Code: words, Clumps: ir.MainClump()}
}

func u16(data []byte, off int) int { return int(binary.LittleEndian.Uint16(data[off:])) }

func TestHeaderLayout(t *testing.T) {
	b := dataspace.NewBuilder()
	b.Constant(dataspace.TCSLong, 5)
	image, err := Encode(program(t, b, nil), config.NewConfig())
	if err != nil {
		t.Fatal(err)
	}

	if got := string(image[:14]); got != "MindstormsNXT\x00" {
		t.Errorf("format string = %q", got)
	}
	if image[14] != 0 || image[15] != 5 {
		t.Errorf("version = %d.%d, want 0.5", image[14], image[15])
	}
	var fields []int
	for off := 16; off < HeaderSize; off += 2 {
		fields = append(fields, u16(image, off))
	}
	// count, size, static, defaults, dyn offset, dyn size, head, tail, dv offset, clumps, code
	want := []int{1, 14, 4, 14, 4, 10, 0, 0, 4, 1, 2}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("header fields mismatch (-want +got):\n%s", diff)
	}
	if len(image) != HeaderSize+4+14+ClumpSize+4 {
		t.Errorf("image is %d bytes", len(image))
	}

	// table of contents, then the compact default of the constant
	if diff := cmp.Diff([]byte{0x06, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00}, image[38:46]); diff != "" {
		t.Errorf("toc/defaults mismatch (-want +got):\n%s", diff)
	}
	// clump record then STOP
	tail := image[len(image)-8:]
	if diff := cmp.Diff([]byte{0, 0, 0, 0}, tail[:4]); diff != "" {
		t.Errorf("clump record mismatch (-want +got):\n%s", diff)
	}
	stop, _ := bytecode.Encode(bytecode.OpStop, 0, 0)
	if u16(tail, 4) != int(uint16(stop[0])) || u16(tail, 6) != 0 {
		t.Errorf("code = % x", tail[4:])
	}
}

func TestFormatVersion(t *testing.T) {
	cfg := config.NewConfig()
	if err := cfg.SetFormatVersion("0.4"); err != nil {
		t.Fatal(err)
	}
	image, err := Encode(program(t, dataspace.NewBuilder(), nil), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if image[15] != 4 {
		t.Errorf("minor version = %d, want 4", image[15])
	}
}

func TestRoundTripWithStrings(t *testing.T) {
	b := dataspace.NewBuilder()
	x := b.AddScalar(dataspace.TCSLong, "x", 0, dataspace.FlagWritten)
	one := b.Constant(dataspace.TCSLong, 1)
	b.AddString("Hi", "str_0")
	b.AddCluster("drawtext0",
		dataspace.Member{Type: dataspace.TCSWord},
		dataspace.Member{Type: dataspace.TCSWord},
		dataspace.Member{Type: dataspace.TCSWord},
		dataspace.Member{Type: dataspace.TCArray},
	)
	prog := program(t, b, func(s *bytecode.Stream) {
		top := s.Pos()
		s.Emit(bytecode.OpAdd, 0, x, x, one)
		pos, _ := s.EmitBranch(bytecode.OpJmp, 0)
		s.Patch(pos, top)
	})

	image, err := Encode(prog, nil)
	if err != nil {
		t.Fatal(err)
	}
	img, err := Decode(image)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := img.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if img.Header.MemMgrHead != 1 || img.Header.MemMgrTail != 2 {
		t.Errorf("head/tail = %d/%d, want 1/2", img.Header.MemMgrHead, img.Header.MemMgrTail)
	}
	if diff := cmp.Diff(prog.Data.DopeVectors, img.DopeVectors); diff != "" {
		t.Errorf("dope vectors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(prog.Code, img.Code); diff != "" {
		t.Errorf("code mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(prog.Clumps, img.Clumps); diff != "" {
		t.Errorf("clumps mismatch (-want +got):\n%s", diff)
	}
}

func TestLimits(t *testing.T) {
	b := dataspace.NewBuilder()
	prog := &ir.Program{Data: b.Layout(), Code: make([]int16, 0x10000), Clumps: ir.MainClump()}
	if _, err := Encode(prog, nil); !errors.Is(err, util.ErrLimit) {
		t.Errorf("code of 65536 words: error = %v, want a limit error", err)
	}

	big := dataspace.NewBuilder()
	for i := 0; i < 0x4000; i++ {
		big.Constant(dataspace.TCSLong, int64(i))
	}
	prog = program(t, big, nil)
	if _, err := Encode(prog, nil); !errors.Is(err, util.ErrLimit) {
		t.Errorf("dataspace of %d bytes: error = %v, want a limit error", prog.Data.StaticSize, err)
	}
}

func TestVerifyRejects(t *testing.T) {
	b := dataspace.NewBuilder()
	b.AddString("a", "s0")
	b.AddString("b", "s1")
	image, err := Encode(program(t, b, nil), nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(data []byte)
	}{
		{"format string", func(d []byte) { d[0] = 'm' }},
		{"version", func(d []byte) { d[15] = 3 }},
		{"tail", func(d []byte) { binary.LittleEndian.PutUint16(d[30:], 1) }},
		{"dv offset", func(d []byte) { binary.LittleEndian.PutUint16(d[32:], 8) }},
		{"dataspace size", func(d []byte) { binary.LittleEndian.PutUint16(d[18:], 1) }},
		{"truncated", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Clone(image)
			if tt.mutate == nil {
				data = data[:len(data)-1]
			} else {
				tt.mutate(data)
			}
			img, err := Decode(data)
			if err == nil {
				err = img.Verify()
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Errorf("error = %v, want a FormatError", err)
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.rxe")
	image := []byte("MindstormsNXT\x00\x00\x05")
	if err := WriteFile(path, image); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, image) {
		t.Errorf("file content = %q", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the image", len(entries))
	}

	err = WriteFile(filepath.Join(dir, "missing", "prog.rxe"), image)
	if !errors.Is(err, util.ErrIO) {
		t.Errorf("write into a missing directory: error = %v, want an i/o error", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error %v does not wrap the OS error", err)
	}
}
