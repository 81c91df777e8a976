package bytecode

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/nxtc/pkg/util"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name     string
		op       Opcode
		cc       Compare
		operands []int
		want     []int16
	}{
		{"mov", OpMov, 0, []int{3, 1}, []int16{0x1019, 3, 1}},
		{"add", OpAdd, 0, []int{1, 1, 2}, []int16{0x2000, 1, 1, 2}},
		{"brcmp carries cc", OpBrCmp, CmpNEQ, []int{0, 4, 5}, []int16{0x2524, 0, 4, 5}},
		{"jmp is four bytes", OpJmp, 0, []int{-8}, []int16{0x0023, -8}},
		{"stop", OpStop, 0, []int{0}, []int16{0x0029, 0}},
		{"wait", OpWait, 0, []int{7}, []int16{0x0034, 7}},
		{"syscall", OpSyscall, 0, []int{9, 10}, []int16{0x1028, 9, 10}},
		{"setin", OpSetIn, 0, []int{1, 2, 3}, []int16{0x2030, 1, 2, 3}},
		{"setout is variable", OpSetOut, 0, []int{0, 1, 2}, []int16{-0x1FCF, 3, 0, 1, 2}},
		{"unsigned operand wraps", OpMov, 0, []int{0xFFFF, 0}, []int16{0x1019, -1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.op, tt.cc, tt.operands...)
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Encode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := Encode(OpMov, 0, 1); !errors.Is(err, util.ErrValue) {
		t.Errorf("MOV with one operand: got %v, want value error", err)
	}
	if _, err := Encode(Opcode(0xFE), 0); !errors.Is(err, util.ErrValue) {
		t.Errorf("unknown opcode: got %v, want value error", err)
	}
	if _, err := Encode(OpWait, 0, 70000); !errors.Is(err, util.ErrLimit) {
		t.Errorf("oversized operand: got %v, want limit error", err)
	}
}

func TestSizeNibble(t *testing.T) {
	for size, want := range map[int]uint16{4: 0, 6: 1, 8: 2, 10: 3, 12: 4, 14: 5} {
		if got, ok := SizeNibble(size); !ok || got != want {
			t.Errorf("SizeNibble(%d) = %d, %v; want %d", size, got, ok, want)
		}
	}
	for _, size := range []int{0, 2, 5, 16} {
		if _, ok := SizeNibble(size); ok {
			t.Errorf("SizeNibble(%d) should not be valid", size)
		}
	}
}

func TestInvert(t *testing.T) {
	for _, c := range []Compare{CmpLT, CmpGT, CmpLTEQ, CmpGTEQ, CmpEQ, CmpNEQ} {
		if c.Invert() == c || c.Invert().Invert() != c {
			t.Errorf("%s.Invert() = %s is not an involution", c, c.Invert())
		}
	}
	if CmpLT.Invert() != CmpGTEQ || CmpEQ.Invert() != CmpNEQ || CmpLTEQ.Invert() != CmpGT {
		t.Errorf("unexpected inversion table")
	}
}

func TestStreamPatching(t *testing.T) {
	s := NewStream()
	top := s.Pos()
	br, err := s.EmitBranch(OpBrCmp, CmpLTEQ, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Emit(OpWait, 0, 3); err != nil {
		t.Fatal(err)
	}
	jmp, err := s.EmitBranch(OpJmp, 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Words(); !errors.Is(err, util.ErrValue) {
		t.Fatalf("Words with open branches: got %v, want value error", err)
	}

	if err := s.Patch(jmp, top); err != nil {
		t.Fatal(err)
	}
	if err := s.Patch(br, s.Pos()); err != nil {
		t.Fatal(err)
	}
	words, err := s.Words()
	if err != nil {
		t.Fatal(err)
	}

	// BRCMP at 0 (4 words), WAIT at 4 (2 words), JMP at 6 (2 words); end is 8.
	want := []int16{0x2224, 16, 1, 2, 0x0034, 3, 0x0023, -12}
	if diff := cmp.Diff(want, words); diff != "" {
		t.Errorf("patched stream mismatch (-want +got):\n%s", diff)
	}

	instrs, err := Decode(words)
	if err != nil {
		t.Fatal(err)
	}
	var targets []int
	for _, in := range instrs {
		if tgt, ok := in.Target(); ok {
			targets = append(targets, tgt)
		}
	}
	if diff := cmp.Diff([]int{8, 0}, targets); diff != "" {
		t.Errorf("branch targets mismatch (-want +got):\n%s", diff)
	}
}

func TestPatchErrors(t *testing.T) {
	s := NewStream()
	pos, _ := s.Emit(OpWait, 0, 1)
	if err := s.Patch(pos, 0); !errors.Is(err, util.ErrValue) {
		t.Errorf("patching a non-branch: got %v", err)
	}
	br, _ := s.EmitBranch(OpJmp, 0)
	if err := s.Patch(br, 99); !errors.Is(err, util.ErrValue) {
		t.Errorf("patching past the end: got %v", err)
	}
	if _, err := s.EmitBranch(OpMov, 0, 1); !errors.Is(err, util.ErrValue) {
		t.Errorf("EmitBranch of MOV: got %v", err)
	}
}

func TestDecode(t *testing.T) {
	words := []int16{0x1019, 3, 1, -0x1FCF, 2, 0, 5, 0x0029, 0}
	got, err := Decode(words)
	if err != nil {
		t.Fatal(err)
	}
	want := []Instr{
		{Pos: 0, Op: OpMov, Operands: []int{3, 1}, Words: 3},
		{Pos: 3, Op: OpSetOut, Operands: []int{0, 5}, Words: 4},
		{Pos: 7, Op: OpStop, Operands: []int{0}, Words: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
	if s := got[0].String(); s != "MOV 3, 1" {
		t.Errorf("String() = %q", s)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string][]int16{
		"truncated":           {0x2000, 1, 2},
		"wrong size class":    {0x2019, 1, 2, 3},
		"unknown opcode":      {0x00FE},
		"branch mid-instruction": {0x0023, 2, 0x1019, 1, 2},
		"missing count":       {-0x1FCF},
	}
	for name, words := range tests {
		if _, err := Decode(words); !errors.Is(err, util.ErrValue) {
			t.Errorf("%s: got %v, want value error", name, err)
		}
	}
}
