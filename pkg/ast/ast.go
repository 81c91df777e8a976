// Package ast defines the types used to represent the Abstract Syntax Tree (AST)
package ast

import (
	"fmt"

	"github.com/xplshn/nxtc/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	// Expressions
	Number NodeType = iota
	String
	Ident
	BinaryOp
	UnaryOp
	Compare
	SensorCall

	// Statements
	Assign
	MotorOn
	MotorOff
	MotorCoast
	PlayTone
	Display
	ClearScreen
	Wait
	If
	Repeat
	Forever

	nodeTypeCount
)

var nodeTypeNames = [...]string{
	Number: "Number", String: "String", Ident: "Ident", BinaryOp: "BinaryOp", UnaryOp: "UnaryOp",
	Compare: "Compare", SensorCall: "SensorCall", Assign: "Assign", MotorOn: "MotorOn",
	MotorOff: "MotorOff", MotorCoast: "MotorCoast", PlayTone: "PlayTone", Display: "Display",
	ClearScreen: "ClearScreen", Wait: "Wait", If: "If", Repeat: "Repeat", Forever: "Forever",
}

func (t NodeType) String() string {
	if t >= 0 && t < nodeTypeCount {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// IsExpr reports whether nodes of this type produce a value.
func (t NodeType) IsExpr() bool { return t >= Number && t <= SensorCall }

// Node represents a node in the Abstract Syntax Tree
type Node struct {
	Type NodeType
	Tok  token.Token
	Data interface{}
}

// SensorKind is the sensor named by a sensor-read call.
type SensorKind int

const (
	SensorTouch SensorKind = iota
	SensorLight
	SensorSound
	SensorUltrasonic
)

func (k SensorKind) String() string {
	switch k {
	case SensorTouch:
		return "touch"
	case SensorLight:
		return "light"
	case SensorSound:
		return "sound"
	case SensorUltrasonic:
		return "ultrasonic"
	}
	return "unknown sensor"
}

// --- Node Data Structs ---
type NumberNode struct{ Value int64 }
type StringNode struct{ Value string }
type IdentNode struct{ Name string }
type BinaryOpNode struct{ Op token.Type; Left, Right *Node }
type UnaryOpNode struct{ Op token.Type; Expr *Node }
type CompareNode struct{ Op token.Type; Left, Right *Node }

// SensorCallNode reads a sensor. Port is 1-based, as written in the source.
type SensorCallNode struct {
	Sensor SensorKind
	Port   int
}
type AssignNode struct{ Name string; Value *Node }

// Motor ports are 0 (A), 1 (B) and 2 (C).
type MotorOnNode struct{ Port int; Power *Node }
type MotorOffNode struct{ Port int }
type MotorCoastNode struct{ Port int }
type PlayToneNode struct{ Freq, Duration *Node }
type DisplayNode struct{ Text, Line *Node }
type ClearScreenNode struct{}
type WaitNode struct{ Ms *Node }
type IfNode struct {
	Cond     *Node
	ThenBody []*Node
	ElseBody []*Node
	HasElse  bool
}
type RepeatNode struct{ Count *Node; Body []*Node }
type ForeverNode struct{ Body []*Node }

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, data interface{}) *Node {
	return &Node{Type: nodeType, Tok: tok, Data: data}
}

func NewNumber(tok token.Token, value int64) *Node {
	return newNode(tok, Number, NumberNode{Value: value})
}
func NewString(tok token.Token, value string) *Node {
	return newNode(tok, String, StringNode{Value: value})
}
func NewIdent(tok token.Token, name string) *Node {
	return newNode(tok, Ident, IdentNode{Name: name})
}
func NewBinaryOp(tok token.Token, op token.Type, left, right *Node) *Node {
	return newNode(tok, BinaryOp, BinaryOpNode{Op: op, Left: left, Right: right})
}
func NewUnaryOp(tok token.Token, op token.Type, expr *Node) *Node {
	return newNode(tok, UnaryOp, UnaryOpNode{Op: op, Expr: expr})
}
func NewCompare(tok token.Token, op token.Type, left, right *Node) *Node {
	return newNode(tok, Compare, CompareNode{Op: op, Left: left, Right: right})
}
func NewSensorCall(tok token.Token, sensor SensorKind, port int) *Node {
	return newNode(tok, SensorCall, SensorCallNode{Sensor: sensor, Port: port})
}
func NewAssign(tok token.Token, name string, value *Node) *Node {
	return newNode(tok, Assign, AssignNode{Name: name, Value: value})
}
func NewMotorOn(tok token.Token, port int, power *Node) *Node {
	return newNode(tok, MotorOn, MotorOnNode{Port: port, Power: power})
}
func NewMotorOff(tok token.Token, port int) *Node {
	return newNode(tok, MotorOff, MotorOffNode{Port: port})
}
func NewMotorCoast(tok token.Token, port int) *Node {
	return newNode(tok, MotorCoast, MotorCoastNode{Port: port})
}
func NewPlayTone(tok token.Token, freq, duration *Node) *Node {
	return newNode(tok, PlayTone, PlayToneNode{Freq: freq, Duration: duration})
}
func NewDisplay(tok token.Token, text, line *Node) *Node {
	return newNode(tok, Display, DisplayNode{Text: text, Line: line})
}
func NewClearScreen(tok token.Token) *Node {
	return newNode(tok, ClearScreen, ClearScreenNode{})
}
func NewWait(tok token.Token, ms *Node) *Node {
	return newNode(tok, Wait, WaitNode{Ms: ms})
}
func NewIf(tok token.Token, cond *Node, thenBody, elseBody []*Node, hasElse bool) *Node {
	return newNode(tok, If, IfNode{Cond: cond, ThenBody: thenBody, ElseBody: elseBody, HasElse: hasElse})
}
func NewRepeat(tok token.Token, count *Node, body []*Node) *Node {
	return newNode(tok, Repeat, RepeatNode{Count: count, Body: body})
}
func NewForever(tok token.Token, body []*Node) *Node {
	return newNode(tok, Forever, ForeverNode{Body: body})
}

// Children returns the direct sub-nodes of n in source order.
func Children(n *Node) []*Node {
	if n == nil {
		return nil
	}
	switch d := n.Data.(type) {
	case BinaryOpNode:
		return []*Node{d.Left, d.Right}
	case UnaryOpNode:
		return []*Node{d.Expr}
	case CompareNode:
		return []*Node{d.Left, d.Right}
	case AssignNode:
		return []*Node{d.Value}
	case MotorOnNode:
		return []*Node{d.Power}
	case PlayToneNode:
		return []*Node{d.Freq, d.Duration}
	case DisplayNode:
		return []*Node{d.Text, d.Line}
	case WaitNode:
		return []*Node{d.Ms}
	case IfNode:
		out := append([]*Node{d.Cond}, d.ThenBody...)
		return append(out, d.ElseBody...)
	case RepeatNode:
		return append([]*Node{d.Count}, d.Body...)
	case ForeverNode:
		return append([]*Node(nil), d.Body...)
	}
	return nil
}

// Walk calls fn for every node reachable from stmts in source order,
// parents before children. Returning false skips the node's children.
func Walk(stmts []*Node, fn func(*Node) bool) {
	for _, s := range stmts {
		if s == nil || !fn(s) {
			continue
		}
		Walk(Children(s), fn)
	}
}
