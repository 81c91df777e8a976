package codegen

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xplshn/nxtc/pkg/bytecode"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/dataspace"
	"github.com/xplshn/nxtc/pkg/ir"
	"github.com/xplshn/nxtc/pkg/rxe"
)

// Backend is the interface that all output backends must implement.
type Backend interface {
	// Generate takes a generated program and a configuration, and produces the
	// backend's output as a byte buffer.
	Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error)
}

var backends = map[string]func() Backend{
	"rxe":     NewRXEBackend,
	"listing": NewListingBackend,
}

// NewBackend returns the backend registered under name.
func NewBackend(name string) (Backend, error) {
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend '%s' (available: %s)", name, strings.Join(BackendNames(), ", "))
	}
	return ctor(), nil
}

func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type rxeBackend struct{}

// NewRXEBackend returns the backend producing the executable image.
func NewRXEBackend() Backend { return rxeBackend{} }

func (rxeBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	image, err := rxe.Encode(prog, cfg)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(image), nil
}

type listingBackend struct {
	out  *bytes.Buffer
	data *dataspace.Layout
}

// NewListingBackend returns a backend that disassembles the program with
// slot names in place of slot indices.
func NewListingBackend() Backend { return &listingBackend{} }

func (b *listingBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	instrs, err := prog.Instructions()
	if err != nil {
		return nil, err
	}
	b.out = new(bytes.Buffer)
	b.data = prog.Data

	l := prog.Data
	fmt.Fprintf(b.out, "; dataspace: %d entries, static %d bytes, dynamic %d bytes, arrays %d..%d\n",
		len(l.Entries), l.StaticSize, len(l.Dynamic), l.Head, l.Tail)
	if vars := prog.VariableNames(); len(vars) > 0 {
		fmt.Fprintf(b.out, "; variables: %s\n", strings.Join(vars, ", "))
	}
	for slot, e := range l.Entries {
		fmt.Fprintf(b.out, ";%5d  %s", slot, l.Describe(slot))
		if e.Type.IsScalar() && !e.Element && !e.Written() {
			fmt.Fprintf(b.out, " = %d", e.Default)
		}
		b.out.WriteByte('\n')
	}
	for i, dv := range l.DopeVectors {
		fmt.Fprintf(b.out, "; dv%-3d offset %d, %d x %d, back %s, next %s\n",
			i, dv.Offset, dv.Count, dv.ElemSize, link(dv.Back), link(dv.Link))
	}

	fmt.Fprintf(b.out, "; code: %d words, %d clump(s)\n", len(prog.Code), len(prog.Clumps))
	for _, in := range instrs {
		b.genInstr(in)
	}
	return b.out, nil
}

func (b *listingBackend) genInstr(in bytecode.Instr) {
	fmt.Fprintf(b.out, "%04d  %s", in.Pos, in.Op)
	if in.Op == bytecode.OpCmp || in.Op == bytecode.OpTst || in.Op == bytecode.OpBrCmp || in.Op == bytecode.OpBrTst {
		b.out.WriteString("." + in.Cc.String())
	}
	for i, o := range in.Operands {
		if i == 0 {
			b.out.WriteByte(' ')
		} else {
			b.out.WriteString(", ")
		}
		switch {
		case i == 0 && in.Op.IsBranch():
			target, _ := in.Target()
			fmt.Fprintf(b.out, "@%04d", target)
		case in.Op == bytecode.OpStop:
			fmt.Fprintf(b.out, "%d", o)
		default:
			b.out.WriteString(b.slotName(o))
		}
	}
	b.out.WriteByte('\n')
}

func (b *listingBackend) slotName(slot int) string {
	if slot < 0 || slot >= len(b.data.Entries) {
		return fmt.Sprintf("?%d", slot)
	}
	return b.data.Entries[slot].Name
}

func link(v int) string {
	if v == dataspace.NoLink {
		return "-"
	}
	return fmt.Sprint(v)
}
