package bytecode

import (
	"sort"

	"github.com/xplshn/nxtc/pkg/token"
	"github.com/xplshn/nxtc/pkg/util"
)

// SizeVariable is the size nibble of a variable-length instruction.
const SizeVariable = 0xE

// SizeNibble maps a fixed instruction size in bytes to its size-class nibble.
func SizeNibble(size int) (uint16, bool) {
	if size < 4 || size > 14 || size%2 != 0 {
		return 0, false
	}
	return uint16(size-4) / 2, true
}

// InstrWord packs the first word of an instruction.
func InstrWord(nibble uint16, cc Compare, op Opcode) int16 {
	return int16(nibble<<12 | uint16(cc&7)<<8 | uint16(op))
}

// ToI16 truncates v to a two's complement 16-bit word.
func ToI16(v int) int16 { return int16(uint16(v)) }

// Encode builds one instruction. Fixed-size instructions must receive exactly
// the operand count their size implies; variable-length ones are written as
// word0, operand count, operands.
func Encode(op Opcode, cc Compare, operands ...int) ([]int16, error) {
	size, known := op.Size()
	if !known {
		return nil, util.ValueErrorf(token.Token{}, "unknown opcode 0x%02X", uint8(op))
	}
	for _, o := range operands {
		if o < -0x8000 || o > 0xFFFF {
			return nil, util.LimitErrorf("%s operand %d does not fit in 16 bits", op, o)
		}
	}

	if size == Variable {
		words := make([]int16, 0, len(operands)+2)
		words = append(words, InstrWord(SizeVariable, cc, op), ToI16(len(operands)))
		for _, o := range operands {
			words = append(words, ToI16(o))
		}
		return words, nil
	}

	if want := size/2 - 1; len(operands) != want {
		return nil, util.ValueErrorf(token.Token{}, "%s takes %d operands, got %d", op, want, len(operands))
	}
	nibble, _ := SizeNibble(size)
	words := make([]int16, 0, size/2)
	words = append(words, InstrWord(nibble, cc, op))
	for _, o := range operands {
		words = append(words, ToI16(o))
	}
	return words, nil
}

// Stream is an append-only instruction buffer. Positions are word indices and
// stay valid for the life of the stream.
type Stream struct {
	words   []int16
	pending map[int]bool
}

func NewStream() *Stream {
	return &Stream{pending: make(map[int]bool)}
}

// Pos is the word index the next instruction will occupy.
func (s *Stream) Pos() int { return len(s.words) }

func (s *Stream) Emit(op Opcode, cc Compare, operands ...int) (int, error) {
	words, err := Encode(op, cc, operands...)
	if err != nil {
		return 0, err
	}
	pos := len(s.words)
	s.words = append(s.words, words...)
	return pos, nil
}

// EmitBranch emits a branch whose displacement is filled in later by Patch.
// rest are the operands after the displacement.
func (s *Stream) EmitBranch(op Opcode, cc Compare, rest ...int) (int, error) {
	if !op.IsBranch() {
		return 0, util.ValueErrorf(token.Token{}, "%s is not a branch", op)
	}
	pos, err := s.Emit(op, cc, append([]int{0}, rest...)...)
	if err != nil {
		return 0, err
	}
	s.pending[pos] = true
	return pos, nil
}

// Patch points the branch at pos to the instruction at target. The stored
// displacement is in bytes, relative to the branch instruction itself.
func (s *Stream) Patch(pos, target int) error {
	if pos < 0 || pos >= len(s.words) || !Opcode(uint16(s.words[pos])&0xFF).IsBranch() {
		return util.ValueErrorf(token.Token{}, "no branch instruction at word %d", pos)
	}
	if target < 0 || target > len(s.words) {
		return util.ValueErrorf(token.Token{}, "branch target %d outside code of %d words", target, len(s.words))
	}
	disp := (target - pos) * 2
	if disp < -0x8000 || disp > 0x7FFF {
		return util.LimitErrorf("branch displacement %d does not fit in 16 bits", disp)
	}
	s.words[pos+1] = int16(disp)
	delete(s.pending, pos)
	return nil
}

// Words returns the finished stream. It fails if any branch is still unpatched.
func (s *Stream) Words() ([]int16, error) {
	if len(s.pending) > 0 {
		var open []int
		for pos := range s.pending {
			open = append(open, pos)
		}
		sort.Ints(open)
		return nil, util.ValueErrorf(token.Token{}, "%d branch(es) left unpatched, first at word %d", len(open), open[0])
	}
	return append([]int16(nil), s.words...), nil
}
