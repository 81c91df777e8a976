package ir

import (
	"sort"

	"github.com/xplshn/nxtc/pkg/bytecode"
	"github.com/xplshn/nxtc/pkg/dataspace"
)

// Clump is one scheduling entry point. CodeStart is a word offset into Code.
type Clump struct {
	FireCount      uint8
	DependentCount uint8
	CodeStart      int
}

// Program is a generated image ready for a backend: the finished data
// segment, the instruction stream and its entry points.
type Program struct {
	Data      *dataspace.Layout
	Code      []int16
	Clumps    []Clump
	Variables map[string]int // user variable name to slot
}

// MainClump is the single clump that runs the whole program from word 0
// without waiting on anything.
func MainClump() []Clump {
	return []Clump{{FireCount: 0, DependentCount: 0, CodeStart: 0}}
}

func (p *Program) Instructions() ([]bytecode.Instr, error) {
	return bytecode.Decode(p.Code)
}

// VariableNames returns the user variables ordered by slot.
func (p *Program) VariableNames() []string {
	names := make([]string, 0, len(p.Variables))
	for name := range p.Variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return p.Variables[names[i]] < p.Variables[names[j]] })
	return names
}
