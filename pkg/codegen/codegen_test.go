package codegen

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/nxtc/pkg/bytecode"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/dataspace"
	"github.com/xplshn/nxtc/pkg/ir"
	"github.com/xplshn/nxtc/pkg/lexer"
	"github.com/xplshn/nxtc/pkg/parser"
	"github.com/xplshn/nxtc/pkg/util"
)

func generate(t *testing.T, src string, cfg *config.Config) (*ir.Program, error) {
	t.Helper()
	toks, err := lexer.Tokenize(src, cfg)
	if err != nil {
		t.Fatalf("Tokenize(%q) error: %v", src, err)
	}
	stmts, err := parser.Parse(toks)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", src, err)
	}
	return NewContext(cfg).Generate(stmts)
}

func mustGenerate(t *testing.T, src string) (*ir.Program, []bytecode.Instr) {
	t.Helper()
	prog, err := generate(t, src, nil)
	if err != nil {
		t.Fatalf("Generate(%q) error: %v", src, err)
	}
	instrs, err := prog.Instructions()
	if err != nil {
		t.Fatalf("decoding code of %q: %v", src, err)
	}
	return prog, instrs
}

type op struct {
	Name     string
	Operands []int
}

func ops(instrs []bytecode.Instr) []op {
	out := make([]op, len(instrs))
	for i, in := range instrs {
		name := in.Op.String()
		if in.Op == bytecode.OpBrCmp {
			name += "." + in.Cc.String()
		}
		out[i] = op{name, in.Operands}
	}
	return out
}

func names(l *dataspace.Layout) []string {
	var out []string
	for _, e := range l.Entries {
		out = append(out, e.Name)
	}
	return out
}

func count(instrs []bytecode.Instr, opc bytecode.Opcode) int {
	n := 0
	for _, in := range instrs {
		if in.Op == opc {
			n++
		}
	}
	return n
}

func TestAssignAndIncrement(t *testing.T) {
	prog, instrs := mustGenerate(t, "x = 5\nx = x + 1")

	if diff := cmp.Diff([]string{"const_5", "x", "const_1"}, names(prog.Data)); diff != "" {
		t.Errorf("slots mismatch (-want +got):\n%s", diff)
	}
	want := []op{
		{"MOV", []int{1, 0}},
		{"ADD", []int{1, 1, 2}},
		{"STOP", []int{0}},
	}
	if diff := cmp.Diff(want, ops(instrs)); diff != "" {
		t.Errorf("code mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"x": 1}, prog.Variables); diff != "" {
		t.Errorf("variables mismatch (-want +got):\n%s", diff)
	}
}

func TestConstantsAreShared(t *testing.T) {
	prog, instrs := mustGenerate(t, "a = 100\nb = 100\nc = a + 100")

	constants := 0
	for _, e := range prog.Data.Entries {
		if e.Name == "const_100" {
			constants++
		}
	}
	if constants != 1 {
		t.Fatalf("found %d slots for the literal 100, want 1", constants)
	}
	c := prog.Variables["c"]
	for _, in := range instrs {
		if in.Op == bytecode.OpAdd && (in.Operands[0] != c || in.Operands[2] != instrs[0].Operands[1]) {
			t.Errorf("ADD %v does not reuse the constant of MOV %v", in.Operands, instrs[0].Operands)
		}
	}
}

func TestTouchIf(t *testing.T) {
	prog, instrs := mustGenerate(t, "if touch(1) == 1:\n  motor(A).on(50)\nend")

	got := ops(instrs)
	var seq []string
	for _, o := range got {
		seq = append(seq, o.Name)
	}
	wantSeq := []string{"SETIN", "SETIN", "SETIN", "GETIN", "BRCMP.NEQ", "SETOUT", "STOP"}
	if diff := cmp.Diff(wantSeq, seq); diff != "" {
		t.Fatalf("instruction sequence mismatch (-want +got):\n%s", diff)
	}

	l := prog.Data
	port := instrs[0].Operands[0]
	if e := l.Entries[port]; e.Type != dataspace.TCUByte || e.Default != 0 {
		t.Errorf("port operand %s, want ubyte 0", l.Describe(port))
	}
	var configured []int64
	for _, in := range instrs[:3] {
		configured = append(configured, l.Entries[in.Operands[1]].Default, l.Entries[in.Operands[2]].Default)
	}
	wantConfig := []int64{bytecode.InType, bytecode.SensorTypeTouch, bytecode.InMode, bytecode.SensorModeBoolean, bytecode.InInvalid, 0}
	if diff := cmp.Diff(wantConfig, configured); diff != "" {
		t.Errorf("sensor configuration mismatch (-want +got):\n%s", diff)
	}

	getin, branch := instrs[3], instrs[4]
	if branch.Operands[1] != getin.Operands[0] {
		t.Errorf("branch compares slot %d, sensor was read into %d", branch.Operands[1], getin.Operands[0])
	}
	if target, _ := branch.Target(); target != instrs[6].Pos {
		t.Errorf("branch lands on word %d, want %d (after the motor block)", target, instrs[6].Pos)
	}
}

func TestSensorConfiguredOnce(t *testing.T) {
	_, instrs := mustGenerate(t, "a = touch(1)\nb = touch(1)\nc = light(2)")
	if n := count(instrs, bytecode.OpSetIn); n != 6 {
		t.Errorf("SETIN count = %d, want 6 (three per port)", n)
	}
	if n := count(instrs, bytecode.OpGetIn); n != 3 {
		t.Errorf("GETIN count = %d, want 3", n)
	}
}

func TestUltrasonicSkipsInvalidFlag(t *testing.T) {
	prog, instrs := mustGenerate(t, "d = ultrasonic(4)")
	if n := count(instrs, bytecode.OpSetIn); n != 2 {
		t.Errorf("SETIN count = %d, want 2", n)
	}
	getin := instrs[2]
	if getin.Op != bytecode.OpGetIn || getin.Operands[0] != prog.Variables["d"] {
		t.Errorf("third instruction = %v, want GETIN into d", getin)
	}
	if e := prog.Data.Entries[getin.Operands[1]]; e.Default != 3 {
		t.Errorf("port operand default = %d, want 3", e.Default)
	}
}

func TestForever(t *testing.T) {
	_, instrs := mustGenerate(t, "forever:\n  motor(B).on(75)\nend")
	if len(instrs) != 3 {
		t.Fatalf("got %d instructions, want SETOUT, JMP, STOP", len(instrs))
	}
	jmp := instrs[1]
	if jmp.Op != bytecode.OpJmp {
		t.Fatalf("second instruction is %s, want JMP", jmp.Op)
	}
	if target, _ := jmp.Target(); target != instrs[0].Pos {
		t.Errorf("JMP lands on word %d, want loop start %d", target, instrs[0].Pos)
	}
}

func TestRepeatZero(t *testing.T) {
	prog, instrs := mustGenerate(t, "repeat 0: motor(A).on(50) end")

	mov, branch := instrs[0], instrs[1]
	if mov.Op != bytecode.OpMov || branch.Op != bytecode.OpBrCmp || branch.Cc != bytecode.CmpLTEQ {
		t.Fatalf("loop header = %v; %v", mov, branch)
	}
	counter := mov.Operands[0]
	if branch.Operands[1] != counter {
		t.Errorf("branch tests slot %d, counter is %d", branch.Operands[1], counter)
	}
	if e := prog.Data.Entries[mov.Operands[1]]; e.Default != 0 || e.Written() {
		t.Errorf("count operand = %+v, want constant 0", e)
	}

	last := len(instrs) - 1
	jmp := instrs[last-1]
	if target, _ := jmp.Target(); jmp.Op != bytecode.OpJmp || target != branch.Pos {
		t.Errorf("loop back edge = %v, want JMP to %d", jmp, branch.Pos)
	}
	if target, _ := branch.Target(); target != instrs[last].Pos {
		t.Errorf("exit branch lands on %d, want %d", target, instrs[last].Pos)
	}
	if instrs[last-2].Op != bytecode.OpSub {
		t.Errorf("counter decrement missing, got %s", instrs[last-2].Op)
	}
}

func TestIfElse(t *testing.T) {
	_, instrs := mustGenerate(t, "x = 1\nif x < 2:\n  wait(10)\nelse:\n  wait(20)\nend")
	var branch, jmp bytecode.Instr
	for _, in := range instrs {
		switch in.Op {
		case bytecode.OpBrCmp:
			branch = in
		case bytecode.OpJmp:
			jmp = in
		}
	}
	if branch.Cc != bytecode.CmpGTEQ {
		t.Errorf("branch code %s, want GTEQ", branch.Cc)
	}
	elseStart := jmp.Pos + jmp.Words
	if target, _ := branch.Target(); target != elseStart {
		t.Errorf("false branch lands on %d, want else body at %d", target, elseStart)
	}
	stop := instrs[len(instrs)-1]
	if target, _ := jmp.Target(); target != stop.Pos {
		t.Errorf("JMP lands on %d, want %d", target, stop.Pos)
	}
}

func TestEmptyElseHasNoJump(t *testing.T) {
	_, instrs := mustGenerate(t, "x = 1\nif x == 1:\n  wait(1)\nelse\nend")
	if n := count(instrs, bytecode.OpJmp); n != 0 {
		t.Errorf("JMP count = %d, want 0", n)
	}
}

func TestMotorStates(t *testing.T) {
	tests := []struct {
		src            string
		mode, runState int64
	}{
		{"motor(A).off()", bytecode.OutModeMotorOn | bytecode.OutModeBrake, bytecode.RunStateRunning},
		{"motor(C).coast()", bytecode.OutModeCoast, bytecode.RunStateIdle},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog, instrs := mustGenerate(t, tt.src)
			setout := instrs[0]
			if setout.Op != bytecode.OpSetOut || len(setout.Operands) != 9 {
				t.Fatalf("first instruction = %v, want SETOUT with 9 operands", setout)
			}
			l := prog.Data
			var got []int64
			for _, slot := range setout.Operands[1:] {
				got = append(got, l.Entries[slot].Default)
			}
			want := []int64{
				bytecode.OutFlags, bytecode.UpdateMode | bytecode.UpdateSpeed,
				bytecode.OutMode, tt.mode,
				bytecode.OutSpeed, 0,
				bytecode.OutRunState, tt.runState,
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("field/value pairs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlayToneVolume(t *testing.T) {
	cfg := config.NewConfig()
	cfg.ToneVolume = 2
	prog, err := generate(t, "play_tone(440, 500)", cfg)
	if err != nil {
		t.Fatal(err)
	}
	var volume int64 = -1
	for _, e := range prog.Data.Entries {
		if e.Name == "tone0.4" {
			volume = e.Default
		}
	}
	if volume != 2 {
		t.Errorf("tone volume default = %d, want 2", volume)
	}
	instrs, _ := prog.Instructions()
	sys := instrs[2]
	if sys.Op != bytecode.OpSyscall || prog.Data.Entries[sys.Operands[0]].Default != bytecode.SysSoundPlayTone {
		t.Errorf("third instruction = %v, want SYSCALL SoundPlayTone", sys)
	}
}

func TestDisplay(t *testing.T) {
	prog, instrs := mustGenerate(t, "display(\"Hi\", 2)")
	l := prog.Data

	var seq []string
	for _, in := range instrs {
		seq = append(seq, in.Op.String())
	}
	if diff := cmp.Diff([]string{"MUL", "SUB", "MOV", "MOV", "MOV", "SYSCALL", "STOP"}, seq); diff != "" {
		t.Fatalf("instruction sequence mismatch (-want +got):\n%s", diff)
	}
	sub := instrs[1]
	if top := l.Entries[sub.Operands[1]].Default; top != 64 {
		t.Errorf("SUB minuend = %d, want 64", top)
	}
	text := instrs[4].Operands[1]
	if data, ok := l.ArrayData(text); !ok || string(data) != "Hi\x00" {
		t.Errorf("text operand %s", l.Describe(text))
	}
}

func TestDisplayLineMapping(t *testing.T) {
	for line, wantY := range map[int]int64{1: 56, 4: 32, 8: 0} {
		prog, instrs := mustGenerate(t, fmt.Sprintf("display(\"a\", %d)", line))
		l := prog.Data
		mul, sub := instrs[0], instrs[1]
		if mul.Op != bytecode.OpMul || sub.Op != bytecode.OpSub {
			t.Fatalf("line %d: got %s, %s, want MUL, SUB", line, mul.Op, sub.Op)
		}
		if sub.Operands[2] != mul.Operands[0] {
			t.Fatalf("line %d: SUB does not consume the MUL result", line)
		}
		def := func(slot int) int64 { return l.Entries[slot].Default }
		y := def(sub.Operands[1]) - def(mul.Operands[1])*def(mul.Operands[2])
		if y != wantY {
			t.Errorf("display line %d lands on y=%d, want %d", line, y, wantY)
		}
	}
}

func TestNumericDisplay(t *testing.T) {
	_, instrs := mustGenerate(t, "x = 3\ndisplay(x, 1)")
	if n := count(instrs, bytecode.OpNumToStr); n != 1 {
		t.Errorf("NUMTOSTR count = %d, want 1", n)
	}

	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatNumericDisplay, false)
	if _, err := generate(t, "x = 3\ndisplay(x, 1)", cfg); !errors.Is(err, util.ErrType) {
		t.Errorf("error = %v, want a type error", err)
	}
}

func TestClearScreen(t *testing.T) {
	prog, instrs := mustGenerate(t, "clear_screen()")
	sys := instrs[0]
	if prog.Data.Entries[sys.Operands[0]].Default != bytecode.SysClearScreen {
		t.Errorf("SYSCALL id operand %s", prog.Data.Describe(sys.Operands[0]))
	}
	if e := prog.Data.Entries[sys.Operands[1]]; e.Type != dataspace.TCCluster || e.Desc != 2 {
		t.Errorf("SYSCALL parameter operand %s", prog.Data.Describe(sys.Operands[1]))
	}
}

func TestProgramsEndWithOneStop(t *testing.T) {
	programs := []string{
		"",
		"x = 1",
		"forever:\n  if light(3) > 50:\n    motor(A).on(-50)\n  else\n    motor(A).coast()\n  end\nend",
		"repeat 3:\n  repeat 2:\n    play_tone(440 + 10, 100)\n  end\nend\ndisplay(\"done\", 8)",
	}
	for _, src := range programs {
		_, instrs := mustGenerate(t, src)
		if n := count(instrs, bytecode.OpStop); n != 1 || instrs[len(instrs)-1].Op != bytecode.OpStop {
			t.Errorf("%q: %d STOP instructions, last is %s", src, n, instrs[len(instrs)-1].Op)
		}
	}
}

func TestDeterministic(t *testing.T) {
	src := "x = sound(2)\ndisplay(\"a\", 1)\ndisplay(\"b\", 2)\nif x >= 10:\n  play_tone(880, 50)\nend"
	var images [2][]byte
	for i := range images {
		prog, err := generate(t, src, nil)
		if err != nil {
			t.Fatal(err)
		}
		buf, err := NewRXEBackend().Generate(prog, config.NewConfig())
		if err != nil {
			t.Fatal(err)
		}
		images[i] = buf.Bytes()
	}
	if !bytes.Equal(images[0], images[1]) {
		t.Error("two compilations of the same program produced different images")
	}
}

func TestContextSingleUse(t *testing.T) {
	ctx := NewContext(nil)
	if _, err := ctx.Generate(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.Generate(nil); !errors.Is(err, util.ErrValue) {
		t.Errorf("second Generate error = %v, want an internal error", err)
	}
}

func TestListingBackend(t *testing.T) {
	prog, _ := mustGenerate(t, "x = 5\nx = x + 1")
	b, err := NewBackend("listing")
	if err != nil {
		t.Fatal(err)
	}
	out, err := b.Generate(prog, config.NewConfig())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		";    0  const_5:slong@0 = 5\n",
		"; variables: x\n",
		";    1  x:slong@4\n",
		"0000  MOV x, const_5\n",
		"0003  ADD x, x, const_1\n",
		"0007  STOP 0\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("listing is missing %q:\n%s", want, out)
		}
	}
	if _, err := NewBackend("qbe"); err == nil {
		t.Error("NewBackend(\"qbe\") succeeded")
	}
}
