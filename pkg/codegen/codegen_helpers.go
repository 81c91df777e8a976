package codegen

import (
	"github.com/xplshn/nxtc/pkg/ast"
	"github.com/xplshn/nxtc/pkg/bytecode"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/dataspace"
	"github.com/xplshn/nxtc/pkg/util"
)

// Text rows are 8 pixels tall; row 1 is at the top of the 64 pixel screen.
const (
	screenHeight = 64
	lineHeight   = 8
)

type sensorSetup struct {
	typ, mode int64
	// I2C sensors have no analog invalid flag to clear
	clearInvalid bool
}

var sensorSetups = map[ast.SensorKind]sensorSetup{
	ast.SensorTouch:      {bytecode.SensorTypeTouch, bytecode.SensorModeBoolean, true},
	ast.SensorLight:      {bytecode.SensorTypeLightActive, bytecode.SensorModePctFullScale, true},
	ast.SensorSound:      {bytecode.SensorTypeSoundDB, bytecode.SensorModePctFullScale, true},
	ast.SensorUltrasonic: {bytecode.SensorTypeLowSpeed9V, bytecode.SensorModeRaw, false},
}

// codegenMotor emits one SETOUT. Field identifiers and their values are all
// passed as ubyte constant slots.
func (ctx *Context) codegenMotor(node *ast.Node) error {
	var port int
	switch d := node.Data.(type) {
	case ast.MotorOnNode:
		port = d.Port
	case ast.MotorOffNode:
		port = d.Port
	case ast.MotorCoastNode:
		port = d.Port
	}
	if port < 0 || port > 2 {
		return util.ValueErrorf(node.Tok, "motor port %d out of range", port)
	}
	portSlot := ctx.ubyte(int64(port))

	if d, ok := node.Data.(ast.MotorOnNode); ok {
		power, err := ctx.codegenExpr(d.Power, ctx.allocTemp)
		if err != nil {
			return err
		}
		flags, mode, speed := ctx.ubyte(bytecode.OutFlags), ctx.ubyte(bytecode.OutMode), ctx.ubyte(bytecode.OutSpeed)
		runState, regMode := ctx.ubyte(bytecode.OutRunState), ctx.ubyte(bytecode.OutRegMode)
		update := ctx.ubyte(bytecode.UpdateMode | bytecode.UpdateSpeed)
		on := ctx.ubyte(bytecode.OutModeMotorOn | bytecode.OutModeBrake | bytecode.OutModeRegulated)
		running := ctx.ubyte(bytecode.RunStateRunning)
		regSpeed := ctx.ubyte(bytecode.RegModeSpeed)
		ctx.emit(bytecode.OpSetOut, portSlot,
			flags, update,
			mode, on,
			speed, power,
			runState, running,
			regMode, regSpeed)
		return nil
	}

	// off brakes at zero speed, coast lets the motor spin down idle
	modeBits, runBits := int64(bytecode.OutModeMotorOn|bytecode.OutModeBrake), int64(bytecode.RunStateRunning)
	if node.Type == ast.MotorCoast {
		modeBits, runBits = bytecode.OutModeCoast, bytecode.RunStateIdle
	}

	flags, mode, speed := ctx.ubyte(bytecode.OutFlags), ctx.ubyte(bytecode.OutMode), ctx.ubyte(bytecode.OutSpeed)
	runState := ctx.ubyte(bytecode.OutRunState)
	update := ctx.ubyte(bytecode.UpdateMode | bytecode.UpdateSpeed)
	modeVal := ctx.ubyte(modeBits)
	zero := ctx.ubyte(0)
	runVal := ctx.ubyte(runBits)
	ctx.emit(bytecode.OpSetOut, portSlot,
		flags, update,
		mode, modeVal,
		speed, zero,
		runState, runVal)
	return nil
}

// codegenSensor configures the port on its first read and then reads the
// scaled value into the destination slot.
func (ctx *Context) codegenSensor(d ast.SensorCallNode, dest func() int) int {
	setup := sensorSetups[d.Sensor]
	port := d.Port - 1
	portSlot := ctx.ubyte(int64(port))
	result := dest()

	typeField, modeField := ctx.ubyte(bytecode.InType), ctx.ubyte(bytecode.InMode)
	scaledField := ctx.ubyte(bytecode.InScaled)
	var invalidField int
	if setup.clearInvalid {
		invalidField = ctx.ubyte(bytecode.InInvalid)
	}
	typeVal, modeVal := ctx.ubyte(setup.typ), ctx.ubyte(setup.mode)

	if !ctx.configured[port] {
		ctx.emit(bytecode.OpSetIn, portSlot, typeField, typeVal)
		ctx.emit(bytecode.OpSetIn, portSlot, modeField, modeVal)
		if setup.clearInvalid {
			ctx.emit(bytecode.OpSetIn, portSlot, invalidField, ctx.ubyte(0))
		}
		ctx.configured[port] = true
	}
	ctx.emit(bytecode.OpGetIn, result, portSlot, scaledField)
	return result
}

func (ctx *Context) codegenPlayTone(node *ast.Node) error {
	d := node.Data.(ast.PlayToneNode)
	freq, err := ctx.codegenExpr(d.Freq, ctx.allocTemp)
	if err != nil {
		return err
	}
	dur, err := ctx.codegenExpr(d.Duration, ctx.allocTemp)
	if err != nil {
		return err
	}

	// {status, frequency, duration, loop, volume}
	cluster, m := ctx.addCluster("tone",
		dataspace.Member{Type: dataspace.TCUByte},
		dataspace.Member{Type: dataspace.TCUWord},
		dataspace.Member{Type: dataspace.TCUWord},
		dataspace.Member{Type: dataspace.TCUByte},
		dataspace.Member{Type: dataspace.TCUByte, Default: int64(ctx.cfg.ToneVolume)},
	)
	ctx.emit(bytecode.OpMov, m[1], freq)
	ctx.emit(bytecode.OpMov, m[2], dur)
	ctx.emit(bytecode.OpSyscall, ctx.ubyte(bytecode.SysSoundPlayTone), cluster)
	return nil
}

func (ctx *Context) codegenDisplay(node *ast.Node) error {
	d := node.Data.(ast.DisplayNode)
	numeric := d.Text.Type != ast.String
	if numeric && !ctx.cfg.IsFeatureEnabled(config.FeatNumericDisplay) {
		return util.TypeErrorf(d.Text.Tok, "display text must be a string literal")
	}

	text, err := ctx.codegenExpr(d.Text, ctx.allocTemp)
	if err != nil {
		return err
	}
	line, err := ctx.codegenExpr(d.Line, ctx.allocTemp)
	if err != nil {
		return err
	}

	// y = 64 - 8*line
	scaled := ctx.allocTemp()
	height, top := ctx.constant(lineHeight), ctx.constant(screenHeight)
	ctx.emit(bytecode.OpMul, scaled, line, height)
	y := ctx.allocTemp()
	ctx.emit(bytecode.OpSub, y, top, scaled)

	// {status, x, y, text}
	cluster, m := ctx.addCluster("drawtext",
		dataspace.Member{Type: dataspace.TCSWord},
		dataspace.Member{Type: dataspace.TCSWord},
		dataspace.Member{Type: dataspace.TCSWord},
		dataspace.Member{Type: dataspace.TCArray},
	)
	ctx.emit(bytecode.OpMov, m[1], ctx.constant(0))
	ctx.emit(bytecode.OpMov, m[2], y)
	if numeric {
		ctx.emit(bytecode.OpNumToStr, m[3], text)
	} else {
		ctx.emit(bytecode.OpMov, m[3], text)
	}
	ctx.emit(bytecode.OpSyscall, ctx.ubyte(bytecode.SysDrawText), cluster)
	return nil
}
