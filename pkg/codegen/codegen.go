package codegen

import (
	"fmt"

	"github.com/xplshn/nxtc/pkg/ast"
	"github.com/xplshn/nxtc/pkg/bytecode"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/dataspace"
	"github.com/xplshn/nxtc/pkg/ir"
	"github.com/xplshn/nxtc/pkg/token"
	"github.com/xplshn/nxtc/pkg/util"
)

// Context holds the state of one code generation pass. A Context is used for
// exactly one program; concurrent compilations each need their own.
type Context struct {
	ds           *dataspace.Builder
	code         *bytecode.Stream
	vars         map[string]int
	configured   map[int]bool
	tempCount    int
	stringCount  int
	clusterCount int
	cfg          *config.Config
	err          error
	done         bool
}

func NewContext(cfg *config.Config) *Context {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &Context{
		ds:         dataspace.NewBuilder(),
		code:       bytecode.NewStream(),
		vars:       make(map[string]int),
		configured: make(map[int]bool),
		cfg:        cfg,
	}
}

// Generate lowers a parsed program to an image: every statement in order,
// then a terminating STOP.
func (ctx *Context) Generate(stmts []*ast.Node) (*ir.Program, error) {
	if ctx.done {
		return nil, util.ValueErrorf(token.Token{}, "code generation context reused")
	}
	ctx.done = true

	if err := ctx.codegenBody(stmts); err != nil {
		return nil, err
	}
	ctx.emit(bytecode.OpStop, 0)
	if ctx.err != nil {
		return nil, ctx.err
	}

	words, err := ctx.code.Words()
	if err != nil {
		return nil, err
	}
	vars := make(map[string]int, len(ctx.vars))
	for name, slot := range ctx.vars {
		vars[name] = slot
	}
	return &ir.Program{
		Data:      ctx.ds.Layout(),
		Code:      words,
		Clumps:    ir.MainClump(),
		Variables: vars,
	}, nil
}

// Emission errors are sticky: the first one is kept and reported by Generate.
func (ctx *Context) emit(op bytecode.Opcode, operands ...int) int {
	return ctx.emitCmp(op, 0, operands...)
}

func (ctx *Context) emitCmp(op bytecode.Opcode, cc bytecode.Compare, operands ...int) int {
	pos, err := ctx.code.Emit(op, cc, operands...)
	ctx.keep(err)
	return pos
}

func (ctx *Context) emitBranch(op bytecode.Opcode, cc bytecode.Compare, rest ...int) int {
	pos, err := ctx.code.EmitBranch(op, cc, rest...)
	ctx.keep(err)
	return pos
}

// patchHere points the branch at pos to the next instruction to be emitted.
func (ctx *Context) patchHere(pos int) { ctx.keep(ctx.code.Patch(pos, ctx.code.Pos())) }

func (ctx *Context) keep(err error) {
	if err != nil && ctx.err == nil {
		ctx.err = err
	}
}

func (ctx *Context) constant(v int64) int { return ctx.ds.Constant(dataspace.TCSLong, v) }
func (ctx *Context) ubyte(v int64) int    { return ctx.ds.Constant(dataspace.TCUByte, v) }

func (ctx *Context) allocTemp() int {
	name := fmt.Sprintf("__tmp%d", ctx.tempCount)
	ctx.tempCount++
	return ctx.ds.AddScalar(dataspace.TCSLong, name, 0, dataspace.FlagWritten)
}

func (ctx *Context) variable(name string) int {
	slot, ok := ctx.vars[name]
	if !ok {
		slot = ctx.ds.AddScalar(dataspace.TCSLong, name, 0, dataspace.FlagWritten)
		ctx.vars[name] = slot
	}
	return slot
}

func (ctx *Context) addString(text string) int {
	name := fmt.Sprintf("str_%d", ctx.stringCount)
	ctx.stringCount++
	return ctx.ds.AddString(text, name)
}

func (ctx *Context) addCluster(kind string, members ...dataspace.Member) (int, []int) {
	name := fmt.Sprintf("%s%d", kind, ctx.clusterCount)
	ctx.clusterCount++
	return ctx.ds.AddCluster(name, members...)
}

func (ctx *Context) codegenBody(stmts []*ast.Node) error {
	for _, stmt := range stmts {
		if err := ctx.codegenStmt(stmt); err != nil {
			return err
		}
	}
	return ctx.err
}

func (ctx *Context) codegenStmt(node *ast.Node) error {
	if node == nil {
		return util.ValueErrorf(token.Token{}, "nil statement")
	}
	switch node.Type {
	case ast.Assign:
		return ctx.codegenAssign(node)
	case ast.MotorOn, ast.MotorOff, ast.MotorCoast:
		return ctx.codegenMotor(node)
	case ast.PlayTone:
		return ctx.codegenPlayTone(node)
	case ast.Display:
		return ctx.codegenDisplay(node)
	case ast.ClearScreen:
		cluster, _ := ctx.addCluster("clrscr",
			dataspace.Member{Type: dataspace.TCSWord},
			dataspace.Member{Type: dataspace.TCUWord},
		)
		ctx.emit(bytecode.OpSyscall, ctx.ubyte(bytecode.SysClearScreen), cluster)
		return nil
	case ast.Wait:
		ms, err := ctx.codegenExpr(node.Data.(ast.WaitNode).Ms, ctx.allocTemp)
		if err != nil {
			return err
		}
		ctx.emit(bytecode.OpWait, ms)
		return nil
	case ast.If:
		return ctx.codegenIf(node)
	case ast.Repeat:
		return ctx.codegenRepeat(node)
	case ast.Forever:
		return ctx.codegenForever(node)
	}
	return util.ValueErrorf(node.Tok, "unhandled statement node %s", node.Type)
}

// codegenExpr evaluates node and returns the slot holding its value. dest
// supplies the result slot for nodes that compute one; it is called after
// the operands are evaluated.
func (ctx *Context) codegenExpr(node *ast.Node, dest func() int) (int, error) {
	if node == nil {
		return 0, util.ValueErrorf(token.Token{}, "nil expression")
	}
	switch d := node.Data.(type) {
	case ast.NumberNode:
		return ctx.constant(d.Value), nil
	case ast.StringNode:
		return ctx.addString(d.Value), nil
	case ast.IdentNode:
		return ctx.variable(d.Name), nil
	case ast.UnaryOpNode:
		if d.Op != token.Minus {
			return 0, util.ValueErrorf(node.Tok, "unhandled unary operator %s", d.Op)
		}
		inner, err := ctx.codegenExpr(d.Expr, ctx.allocTemp)
		if err != nil {
			return 0, err
		}
		result := dest()
		ctx.emit(bytecode.OpNeg, result, inner)
		return result, nil
	case ast.BinaryOpNode:
		op, ok := arithOps[d.Op]
		if !ok {
			return 0, util.ValueErrorf(node.Tok, "unhandled binary operator %s", d.Op)
		}
		left, err := ctx.codegenExpr(d.Left, ctx.allocTemp)
		if err != nil {
			return 0, err
		}
		right, err := ctx.codegenExpr(d.Right, ctx.allocTemp)
		if err != nil {
			return 0, err
		}
		result := dest()
		ctx.emit(op, result, left, right)
		return result, nil
	case ast.SensorCallNode:
		return ctx.codegenSensor(d, dest), nil
	case ast.CompareNode:
		return 0, util.ValueErrorf(node.Tok, "comparison outside of an if condition")
	}
	return 0, util.ValueErrorf(node.Tok, "unhandled expression node %s", node.Type)
}

var arithOps = map[token.Type]bytecode.Opcode{
	token.Plus:  bytecode.OpAdd,
	token.Minus: bytecode.OpSub,
	token.Star:  bytecode.OpMul,
	token.Slash: bytecode.OpDiv,
	token.Rem:   bytecode.OpMod,
}

var compareCodes = map[token.Type]bytecode.Compare{
	token.Lt:   bytecode.CmpLT,
	token.Gt:   bytecode.CmpGT,
	token.Lte:  bytecode.CmpLTEQ,
	token.Gte:  bytecode.CmpGTEQ,
	token.EqEq: bytecode.CmpEQ,
	token.Neq:  bytecode.CmpNEQ,
}

// codegenAssign writes computed values straight into the variable's slot;
// plain values are copied with MOV.
func (ctx *Context) codegenAssign(node *ast.Node) error {
	d := node.Data.(ast.AssignNode)
	switch d.Value.Type {
	case ast.BinaryOp, ast.UnaryOp, ast.SensorCall:
		_, err := ctx.codegenExpr(d.Value, func() int { return ctx.variable(d.Name) })
		return err
	}
	src, err := ctx.codegenExpr(d.Value, ctx.allocTemp)
	if err != nil {
		return err
	}
	ctx.emit(bytecode.OpMov, ctx.variable(d.Name), src)
	return nil
}

func (ctx *Context) codegenIf(node *ast.Node) error {
	d := node.Data.(ast.IfNode)
	if d.Cond == nil || d.Cond.Type != ast.Compare {
		return util.ValueErrorf(node.Tok, "if condition must be a comparison")
	}
	cond := d.Cond.Data.(ast.CompareNode)
	cc, ok := compareCodes[cond.Op]
	if !ok {
		return util.ValueErrorf(d.Cond.Tok, "unhandled comparison operator %s", cond.Op)
	}

	left, err := ctx.codegenExpr(cond.Left, ctx.allocTemp)
	if err != nil {
		return err
	}
	right, err := ctx.codegenExpr(cond.Right, ctx.allocTemp)
	if err != nil {
		return err
	}

	// Branch past the then-body when the condition does not hold.
	skipThen := ctx.emitBranch(bytecode.OpBrCmp, cc.Invert(), left, right)
	if err := ctx.codegenBody(d.ThenBody); err != nil {
		return err
	}
	if len(d.ElseBody) == 0 {
		ctx.patchHere(skipThen)
		return ctx.err
	}

	skipElse := ctx.emitBranch(bytecode.OpJmp, 0)
	ctx.patchHere(skipThen)
	if err := ctx.codegenBody(d.ElseBody); err != nil {
		return err
	}
	ctx.patchHere(skipElse)
	return ctx.err
}

func (ctx *Context) codegenRepeat(node *ast.Node) error {
	d := node.Data.(ast.RepeatNode)
	count, err := ctx.codegenExpr(d.Count, ctx.allocTemp)
	if err != nil {
		return err
	}
	counter := ctx.allocTemp()
	ctx.emit(bytecode.OpMov, counter, count)

	top := ctx.code.Pos()
	exit := ctx.emitBranch(bytecode.OpBrCmp, bytecode.CmpLTEQ, counter, ctx.constant(0))
	if err := ctx.codegenBody(d.Body); err != nil {
		return err
	}
	ctx.emit(bytecode.OpSub, counter, counter, ctx.constant(1))
	back := ctx.emitBranch(bytecode.OpJmp, 0)
	ctx.keep(ctx.code.Patch(back, top))
	ctx.patchHere(exit)
	return ctx.err
}

func (ctx *Context) codegenForever(node *ast.Node) error {
	d := node.Data.(ast.ForeverNode)
	top := ctx.code.Pos()
	if err := ctx.codegenBody(d.Body); err != nil {
		return err
	}
	back := ctx.emitBranch(bytecode.OpJmp, 0)
	ctx.keep(ctx.code.Patch(back, top))
	return ctx.err
}
