package token

import "fmt"

type Type int

const (
	EOF Type = iota
	Newline
	Number
	String
	Ident

	// Keywords
	If
	Else
	End
	Repeat
	Forever
	And
	Or
	Not
	Motor
	Touch
	Light
	Sound
	Ultrasonic
	On
	Off
	Coast
	PlayTone
	Display
	ClearScreen
	Wait
	PortA
	PortB
	PortC

	// Punctuation
	LParen
	RParen
	Dot
	Colon
	Comma

	// Operators
	Eq
	Plus
	Minus
	Star
	Slash
	Rem
	EqEq
	Neq
	Lt
	Gt
	Lte
	Gte
)

// Kind is the coarse class of a token type.
type Kind int

const (
	KindEOF Kind = iota
	KindNewline
	KindNumber
	KindString
	KindIdent
	KindKeyword
	KindPunct
	KindOperator
)

var KeywordMap = map[string]Type{
	"if":           If,
	"else":         Else,
	"end":          End,
	"repeat":       Repeat,
	"forever":      Forever,
	"and":          And,
	"or":           Or,
	"not":          Not,
	"motor":        Motor,
	"touch":        Touch,
	"light":        Light,
	"sound":        Sound,
	"ultrasonic":   Ultrasonic,
	"on":           On,
	"off":          Off,
	"coast":        Coast,
	"play_tone":    PlayTone,
	"display":      Display,
	"clear_screen": ClearScreen,
	"wait":         Wait,
	"A":            PortA,
	"B":            PortB,
	"C":            PortC,
}

var punctStrings = map[Type]string{
	LParen: "(", RParen: ")", Dot: ".", Colon: ":", Comma: ",",
	Eq: "=", Plus: "+", Minus: "-", Star: "*", Slash: "/", Rem: "%",
	EqEq: "==", Neq: "!=", Lt: "<", Gt: ">", Lte: "<=", Gte: ">=",
}

// Reverse mapping from Type to the keyword string
var TypeStrings = make(map[Type]string)

func init() {
	for str, typ := range KeywordMap {
		TypeStrings[typ] = str
	}
	for typ, str := range punctStrings {
		TypeStrings[typ] = str
	}
}

func (t Type) Kind() Kind {
	switch {
	case t == EOF:
		return KindEOF
	case t == Newline:
		return KindNewline
	case t == Number:
		return KindNumber
	case t == String:
		return KindString
	case t == Ident:
		return KindIdent
	case t >= If && t <= PortC:
		return KindKeyword
	case t >= LParen && t <= Comma:
		return KindPunct
	default:
		return KindOperator
	}
}

// IsCompare reports whether t is one of the six comparison operators.
func (t Type) IsCompare() bool { return t >= EqEq && t <= Gte }

func (t Type) String() string {
	switch t {
	case EOF:
		return "end of input"
	case Newline:
		return "newline"
	case Number:
		return "number"
	case String:
		return "string"
	case Ident:
		return "identifier"
	}
	if s, ok := TypeStrings[t]; ok {
		return "'" + s + "'"
	}
	return fmt.Sprintf("token(%d)", int(t))
}

type Token struct {
	Type   Type
	Value  string
	Line   int
	Column int
	Len    int
}

// Describe renders the token the way error messages quote what was found.
func (t Token) Describe() string {
	switch t.Type {
	case Number:
		return "number " + t.Value
	case String:
		return fmt.Sprintf("string %q", t.Value)
	case Ident:
		return "identifier '" + t.Value + "'"
	}
	return t.Type.String()
}
