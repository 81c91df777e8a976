package typeChecker

import (
	"github.com/xplshn/nxtc/pkg/ast"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/token"
	"github.com/xplshn/nxtc/pkg/util"
)

// Symbol is a user variable as seen by the checker.
type Symbol struct {
	Name     string
	Tok      token.Token // first occurrence
	Assigned bool
	Reads    int
}

type sensorUse struct {
	kind ast.SensorKind
	tok  token.Token
}

// TypeChecker validates value placement and literal ranges and raises the
// lint-style warnings. Every value in the language is a signed 32-bit
// integer, so the only "type" distinction is string versus number.
type TypeChecker struct {
	cfg     *config.Config
	symbols map[string]*Symbol
	order   []string
	sensors map[int]sensorUse
}

func NewTypeChecker(cfg *config.Config) *TypeChecker {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &TypeChecker{
		cfg:     cfg,
		symbols: make(map[string]*Symbol),
		sensors: make(map[int]sensorUse),
	}
}

// Check runs the checker over a whole program.
func (tc *TypeChecker) Check(stmts []*ast.Node) error {
	if err := tc.checkBody(stmts); err != nil {
		return err
	}
	if !tc.cfg.IsFeatureEnabled(config.FeatStrictVars) {
		return nil
	}
	for _, name := range tc.order {
		if sym := tc.symbols[name]; !sym.Assigned {
			return util.TypeErrorf(sym.Tok, "variable '%s' is read but never assigned", name)
		}
	}
	return nil
}

// Symbols returns the variables in order of first appearance.
func (tc *TypeChecker) Symbols() []*Symbol {
	out := make([]*Symbol, len(tc.order))
	for i, name := range tc.order {
		out[i] = tc.symbols[name]
	}
	return out
}

func (tc *TypeChecker) symbol(name string, tok token.Token) *Symbol {
	sym, ok := tc.symbols[name]
	if !ok {
		sym = &Symbol{Name: name, Tok: tok}
		tc.symbols[name] = sym
		tc.order = append(tc.order, name)
	}
	return sym
}

func (tc *TypeChecker) checkBody(stmts []*ast.Node) error {
	for i, stmt := range stmts {
		if err := tc.checkStmt(stmt); err != nil {
			return err
		}
		if stmt.Type == ast.Forever && i+1 < len(stmts) {
			util.Warn(tc.cfg, config.WarnUnreachableCode, stmts[i+1].Tok, "statement is unreachable after 'forever' loop")
		}
	}
	return nil
}

func (tc *TypeChecker) checkStmt(node *ast.Node) error {
	switch d := node.Data.(type) {
	case ast.AssignNode:
		if err := tc.checkNumeric(d.Value, "assigned to a variable"); err != nil {
			return err
		}
		tc.symbol(d.Name, node.Tok).Assigned = true
		return nil

	case ast.MotorOnNode:
		if err := tc.checkNumeric(d.Power, "used as motor power"); err != nil {
			return err
		}
		if v, ok := literal(d.Power); ok && (v < -100 || v > 100) {
			util.Warn(tc.cfg, config.WarnRange, d.Power.Tok, "motor power %d is outside -100..100", v)
		}
		return nil

	case ast.MotorOffNode, ast.MotorCoastNode, ast.ClearScreenNode:
		return nil

	case ast.PlayToneNode:
		if err := tc.checkNumeric(d.Freq, "used as tone frequency"); err != nil {
			return err
		}
		if err := tc.checkNumeric(d.Duration, "used as tone duration"); err != nil {
			return err
		}
		if v, ok := literal(d.Freq); ok && (v < 0 || v > 0xFFFF) {
			util.Warn(tc.cfg, config.WarnRange, d.Freq.Tok, "tone frequency %d does not fit in 16 bits", v)
		}
		if v, ok := literal(d.Duration); ok && (v < 0 || v > 0xFFFF) {
			util.Warn(tc.cfg, config.WarnRange, d.Duration.Tok, "tone duration %d does not fit in 16 bits", v)
		}
		return nil

	case ast.DisplayNode:
		if d.Text.Type != ast.String {
			if !tc.cfg.IsFeatureEnabled(config.FeatNumericDisplay) {
				return util.TypeErrorf(d.Text.Tok, "display text must be a string literal (enable -Fnumeric-display to show numbers)")
			}
			if err := tc.checkNumeric(d.Text, "combined with a number"); err != nil {
				return err
			}
		}
		if err := tc.checkNumeric(d.Line, "used as display line"); err != nil {
			return err
		}
		if v, ok := literal(d.Line); ok && (v < 1 || v > 8) {
			util.Warn(tc.cfg, config.WarnRange, d.Line.Tok, "display line %d is outside 1..8", v)
		}
		return nil

	case ast.WaitNode:
		if err := tc.checkNumeric(d.Ms, "used as wait duration"); err != nil {
			return err
		}
		if v, ok := literal(d.Ms); ok && v < 0 {
			util.Warn(tc.cfg, config.WarnRange, d.Ms.Tok, "negative wait duration %d", v)
		}
		return nil

	case ast.IfNode:
		if d.Cond == nil || d.Cond.Type != ast.Compare {
			return util.TypeErrorf(node.Tok, "if condition must be a single comparison")
		}
		if err := tc.checkNumeric(d.Cond, "compared"); err != nil {
			return err
		}
		if err := tc.checkBody(d.ThenBody); err != nil {
			return err
		}
		return tc.checkBody(d.ElseBody)

	case ast.RepeatNode:
		if err := tc.checkNumeric(d.Count, "used as repeat count"); err != nil {
			return err
		}
		if v, ok := literal(d.Count); ok && v <= 0 {
			util.Warn(tc.cfg, config.WarnExtra, d.Count.Tok, "repeat count %d never runs the loop body", v)
		}
		return tc.checkBody(d.Body)

	case ast.ForeverNode:
		return tc.checkBody(d.Body)
	}
	return util.TypeErrorf(node.Tok, "unexpected %s node in statement position", node.Type)
}

// checkNumeric walks an expression that must produce a number.
func (tc *TypeChecker) checkNumeric(node *ast.Node, role string) error {
	switch d := node.Data.(type) {
	case ast.NumberNode:
		return nil
	case ast.StringNode:
		return util.TypeErrorf(node.Tok, "string literal cannot be %s", role)
	case ast.IdentNode:
		sym := tc.symbol(d.Name, node.Tok)
		sym.Reads++
		if !sym.Assigned && !tc.cfg.IsFeatureEnabled(config.FeatStrictVars) {
			util.Warn(tc.cfg, config.WarnUninitialized, node.Tok, "variable '%s' is read before it is assigned (reads as 0)", d.Name)
		}
		return nil
	case ast.BinaryOpNode:
		if err := tc.checkNumeric(d.Left, role); err != nil {
			return err
		}
		if err := tc.checkNumeric(d.Right, role); err != nil {
			return err
		}
		if v, ok := literal(d.Right); ok && v == 0 && (d.Op == token.Slash || d.Op == token.Rem) {
			util.Warn(tc.cfg, config.WarnExtra, d.Right.Tok, "division by constant zero")
		}
		return nil
	case ast.UnaryOpNode:
		return tc.checkNumeric(d.Expr, role)
	case ast.CompareNode:
		if err := tc.checkNumeric(d.Left, role); err != nil {
			return err
		}
		return tc.checkNumeric(d.Right, role)
	case ast.SensorCallNode:
		if prev, seen := tc.sensors[d.Port]; !seen {
			tc.sensors[d.Port] = sensorUse{kind: d.Sensor, tok: node.Tok}
		} else if prev.kind != d.Sensor {
			util.Warn(tc.cfg, config.WarnSensorConflict, node.Tok,
				"port %d is read as %s but was configured as %s on line %d", d.Port, d.Sensor, prev.kind, prev.tok.Line)
		}
		return nil
	}
	return util.TypeErrorf(node.Tok, "unexpected %s node in expression position", node.Type)
}

func literal(node *ast.Node) (int64, bool) {
	if node == nil || node.Type != ast.Number {
		return 0, false
	}
	return node.Data.(ast.NumberNode).Value, true
}
