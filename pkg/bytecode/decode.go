package bytecode

import (
	"fmt"
	"strings"

	"github.com/xplshn/nxtc/pkg/token"
	"github.com/xplshn/nxtc/pkg/util"
)

// Instr is one decoded instruction.
type Instr struct {
	Pos      int // word index
	Op       Opcode
	Cc       Compare
	Operands []int // raw unsigned operand words
	Words    int
}

// Target returns the word index a branch lands on.
func (in Instr) Target() (int, bool) {
	if !in.Op.IsBranch() || len(in.Operands) == 0 {
		return 0, false
	}
	return in.Pos + int(int16(in.Operands[0]))/2, true
}

func (in Instr) String() string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	if in.Op == OpCmp || in.Op == OpTst || in.Op == OpBrCmp || in.Op == OpBrTst {
		sb.WriteString("." + in.Cc.String())
	}
	for i, o := range in.Operands {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		if i == 0 && in.Op.IsBranch() {
			fmt.Fprintf(&sb, "%+d", int16(o))
			continue
		}
		fmt.Fprintf(&sb, "%d", o)
	}
	return sb.String()
}

// Decode splits a code stream into instructions and checks that every branch
// lands on an instruction boundary or the end of the stream.
func Decode(words []int16) ([]Instr, error) {
	var out []Instr
	starts := make(map[int]bool)
	for pos := 0; pos < len(words); {
		w := uint16(words[pos])
		op := Opcode(w & 0xFF)
		cc := Compare((w >> 8) & 7)
		nibble := w >> 12

		size, known := op.Size()
		if !known {
			return nil, util.ValueErrorf(token.Token{}, "unknown opcode 0x%02X at word %d", uint8(op), pos)
		}

		var n, first int
		switch {
		case nibble == SizeVariable:
			if size != Variable {
				return nil, util.ValueErrorf(token.Token{}, "%s at word %d is marked variable-length", op, pos)
			}
			if pos+1 >= len(words) {
				return nil, util.ValueErrorf(token.Token{}, "%s at word %d is missing its operand count", op, pos)
			}
			n, first = int(uint16(words[pos+1])), pos+2
		default:
			want, _ := SizeNibble(size)
			if size == Variable || nibble != want {
				return nil, util.ValueErrorf(token.Token{}, "%s at word %d has size class %d", op, pos, nibble)
			}
			n, first = size/2-1, pos+1
		}
		if first+n > len(words) {
			return nil, util.ValueErrorf(token.Token{}, "%s at word %d runs past the end of the code", op, pos)
		}

		in := Instr{Pos: pos, Op: op, Cc: cc, Words: first + n - pos}
		for _, o := range words[first : first+n] {
			in.Operands = append(in.Operands, int(uint16(o)))
		}
		out = append(out, in)
		starts[pos] = true
		pos = first + n
	}

	for _, in := range out {
		if target, ok := in.Target(); ok && target != len(words) && !starts[target] {
			return nil, util.ValueErrorf(token.Token{}, "%s at word %d lands on word %d, which is not an instruction", in.Op, in.Pos, target)
		}
	}
	return out, nil
}
