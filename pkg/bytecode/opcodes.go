package bytecode

import "fmt"

// Opcode is the low byte of an instruction word.
type Opcode uint8

// Math
const (
	OpAdd Opcode = 0x00
	OpSub Opcode = 0x01
	OpNeg Opcode = 0x02
	OpMul Opcode = 0x03
	OpDiv Opcode = 0x04
	OpMod Opcode = 0x05
)

// Logic and bit manipulation
const (
	OpAnd  Opcode = 0x06
	OpOr   Opcode = 0x07
	OpXor  Opcode = 0x08
	OpNot  Opcode = 0x09
	OpCmnt Opcode = 0x0A
	OpLsl  Opcode = 0x0B
	OpLsr  Opcode = 0x0C
	OpAsl  Opcode = 0x0D
	OpAsr  Opcode = 0x0E
	OpRotl Opcode = 0x0F
	OpRotr Opcode = 0x10
)

// Comparison
const (
	OpCmp Opcode = 0x11
	OpTst Opcode = 0x12
)

// Arrays
const (
	OpIndex     Opcode = 0x13
	OpReplace   Opcode = 0x14
	OpArrSize   Opcode = 0x15
	OpArrBuild  Opcode = 0x16
	OpArrSubset Opcode = 0x17
	OpArrInit   Opcode = 0x18
)

// Data movement and conversion
const (
	OpMov          Opcode = 0x19
	OpSet          Opcode = 0x1A
	OpFlatten      Opcode = 0x1B
	OpUnflatten    Opcode = 0x1C
	OpNumToStr     Opcode = 0x1D
	OpStrToNum     Opcode = 0x1E
	OpStrCat       Opcode = 0x1F
	OpStrSubset    Opcode = 0x20
	OpStrToByteArr Opcode = 0x21
	OpByteArrToStr Opcode = 0x22
)

// Control flow and scheduling
const (
	OpJmp          Opcode = 0x23
	OpBrCmp        Opcode = 0x24
	OpBrTst        Opcode = 0x25
	OpSyscall      Opcode = 0x28
	OpStop         Opcode = 0x29
	OpFinClump     Opcode = 0x2A
	OpFinClumpImm  Opcode = 0x2B
	OpAcquire      Opcode = 0x2C
	OpRelease      Opcode = 0x2D
	OpSubCall      Opcode = 0x2E
	OpSubRet       Opcode = 0x2F
)

// I/O and timing
const (
	OpSetIn   Opcode = 0x30
	OpSetOut  Opcode = 0x31
	OpGetIn   Opcode = 0x32
	OpGetOut  Opcode = 0x33
	OpWait    Opcode = 0x34
	OpGetTick Opcode = 0x35
)

// Variable marks an instruction whose operand count follows the instruction word.
const Variable = 0

type opInfo struct {
	name string
	size int // total bytes, or Variable
}

var opTable = map[Opcode]opInfo{
	OpAdd: {"ADD", 8}, OpSub: {"SUB", 8}, OpNeg: {"NEG", 6}, OpMul: {"MUL", 8}, OpDiv: {"DIV", 8}, OpMod: {"MOD", 8},
	OpAnd: {"AND", 8}, OpOr: {"OR", 8}, OpXor: {"XOR", 8}, OpNot: {"NOT", 6}, OpCmnt: {"CMNT", 6},
	OpLsl: {"LSL", 8}, OpLsr: {"LSR", 8}, OpAsl: {"ASL", 8}, OpAsr: {"ASR", 8}, OpRotl: {"ROTL", 8}, OpRotr: {"ROTR", 8},
	OpCmp: {"CMP", 8}, OpTst: {"TST", 6},
	OpIndex: {"INDEX", 8}, OpReplace: {"REPLACE", 10}, OpArrSize: {"ARRSIZE", 6}, OpArrBuild: {"ARRBUILD", Variable},
	OpArrSubset: {"ARRSUBSET", 10}, OpArrInit: {"ARRINIT", 8},
	OpMov: {"MOV", 6}, OpSet: {"SET", 6}, OpFlatten: {"FLATTEN", 6}, OpUnflatten: {"UNFLATTEN", 10},
	OpNumToStr: {"NUMTOSTR", 6}, OpStrToNum: {"STRTONUM", 12}, OpStrCat: {"STRCAT", Variable},
	OpStrSubset: {"STRSUBSET", 10}, OpStrToByteArr: {"STRTOBYTEARR", 6}, OpByteArrToStr: {"BYTEARRTOSTR", 6},
	OpJmp: {"JMP", 4}, OpBrCmp: {"BRCMP", 8}, OpBrTst: {"BRTST", 6}, OpSyscall: {"SYSCALL", 6}, OpStop: {"STOP", 4},
	OpFinClump: {"FINCLUMP", 6}, OpFinClumpImm: {"FINCLUMPIMMED", 4}, OpAcquire: {"ACQUIRE", 4}, OpRelease: {"RELEASE", 4},
	OpSubCall: {"SUBCALL", 6}, OpSubRet: {"SUBRET", 4},
	OpSetIn: {"SETIN", 8}, OpSetOut: {"SETOUT", Variable}, OpGetIn: {"GETIN", 8}, OpGetOut: {"GETOUT", 8},
	OpWait: {"WAIT", 4}, OpGetTick: {"GETTICK", 4},
}

func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("OP_%02X", uint8(op))
}

// Size returns the total instruction size in bytes, Variable for
// variable-length instructions, and false for unknown opcodes.
func (op Opcode) Size() (int, bool) {
	info, ok := opTable[op]
	return info.size, ok
}

// IsBranch reports whether the first operand of op is a relative displacement.
func (op Opcode) IsBranch() bool { return op == OpJmp || op == OpBrCmp || op == OpBrTst }

// Compare is the 3-bit comparison code carried by CMP, TST, BRCMP and BRTST.
type Compare uint8

const (
	CmpLT   Compare = 0
	CmpGT   Compare = 1
	CmpLTEQ Compare = 2
	CmpGTEQ Compare = 3
	CmpEQ   Compare = 4
	CmpNEQ  Compare = 5
)

var compareNames = [...]string{"LT", "GT", "LTEQ", "GTEQ", "EQ", "NEQ"}

func (c Compare) String() string {
	if int(c) < len(compareNames) {
		return compareNames[c]
	}
	return fmt.Sprintf("CC%d", uint8(c))
}

// Invert returns the code that holds exactly when c does not.
func (c Compare) Invert() Compare {
	switch c {
	case CmpLT:
		return CmpGTEQ
	case CmpGT:
		return CmpLTEQ
	case CmpLTEQ:
		return CmpGT
	case CmpGTEQ:
		return CmpLT
	case CmpEQ:
		return CmpNEQ
	case CmpNEQ:
		return CmpEQ
	}
	return c
}

// Input module fields (SETIN/GETIN)
const (
	InType    = 0
	InMode    = 1
	InAdRaw   = 2
	InNormRaw = 3
	InScaled  = 4
	InInvalid = 5
)

// Sensor types
const (
	SensorTypeNone         = 0x00
	SensorTypeTouch        = 0x01
	SensorTypeTemperature  = 0x02
	SensorTypeReflection   = 0x03
	SensorTypeAngle        = 0x04
	SensorTypeLightActive  = 0x05
	SensorTypeLightInact   = 0x06
	SensorTypeSoundDB      = 0x07
	SensorTypeSoundDBA     = 0x08
	SensorTypeCustom       = 0x09
	SensorTypeLowSpeed     = 0x0A
	SensorTypeLowSpeed9V   = 0x0B
)

// Sensor modes
const (
	SensorModeRaw          = 0x00
	SensorModeBoolean      = 0x20
	SensorModeTransCnt     = 0x40
	SensorModePeriodCnt    = 0x60
	SensorModePctFullScale = 0x80
	SensorModeCelsius      = 0xA0
	SensorModeFahrenheit   = 0xC0
	SensorModeAngleStep    = 0xE0
)

// Output module fields (SETOUT/GETOUT)
const (
	OutFlags       = 0
	OutMode        = 1
	OutSpeed       = 2
	OutActualSpeed = 3
	OutTachoCount  = 4
	OutTachoLimit  = 5
	OutRunState    = 6
	OutTurnRatio   = 7
	OutRegMode     = 8
)

// Output update flags, modes, run states and regulation modes
const (
	UpdateMode  = 0x01
	UpdateSpeed = 0x02

	OutModeCoast     = 0x00
	OutModeMotorOn   = 0x01
	OutModeBrake     = 0x02
	OutModeRegulated = 0x04

	RunStateIdle    = 0x00
	RunStateRampUp  = 0x10
	RunStateRunning = 0x20

	RegModeIdle  = 0
	RegModeSpeed = 1
)

// Syscall identifiers used by the built-in statements.
const (
	SysSoundPlayTone = 10
	SysDrawText      = 13
	SysClearScreen   = 38
)
