package parser

import (
	"strconv"

	"github.com/xplshn/nxtc/pkg/ast"
	"github.com/xplshn/nxtc/pkg/token"
	"github.com/xplshn/nxtc/pkg/util"
)

// Parser holds the state for the parsing process
type Parser struct {
	tokens   []token.Token
	pos      int
	current  token.Token
	previous token.Token
}

// bailout carries a grammar error from deep inside the descent back to Parse.
type bailout struct{ err error }

// NewParser creates and initializes a new Parser from a token stream
func NewParser(tokens []token.Token) *Parser {
	p := &Parser{tokens: tokens, pos: 0}
	if len(tokens) > 0 {
		p.current = p.tokens[0]
	}
	return p
}

// Parse is shorthand for NewParser(tokens).Parse().
func Parse(tokens []token.Token) ([]*ast.Node, error) {
	return NewParser(tokens).Parse()
}

// Parse consumes the whole token stream and returns the program's top-level statements.
func (p *Parser) Parse() (stmts []*ast.Node, err error) {
	if len(p.tokens) == 0 || p.tokens[len(p.tokens)-1].Type != token.EOF {
		return nil, util.Errorf(token.Token{}, "token stream is not terminated by end of input")
	}
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			stmts, err = nil, b.err
		}
	}()
	return p.parseBody(nil), nil
}

// Parser helpers
func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.previous = p.current
		p.pos++
		p.current = p.tokens[p.pos]
	}
}

func (p *Parser) check(tokType token.Type) bool {
	return p.current.Type == tokType
}

func (p *Parser) match(tokType token.Type) bool {
	if !p.check(tokType) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(tokType token.Type, context string) token.Token {
	if p.check(tokType) {
		p.advance()
		return p.previous
	}
	p.errorf(p.current, "expected %s %s, got %s", tokType, context, p.current.Describe())
	return p.current
}

func (p *Parser) errorf(tok token.Token, format string, args ...interface{}) {
	panic(bailout{util.Errorf(tok, format, args...)})
}

func (p *Parser) skipNewlines() {
	for p.match(token.Newline) {
	}
}

// parseBody parses statements until 'end', 'else' or end of input. opener is
// the token that opened the block, nil at top level.
func (p *Parser) parseBody(opener *token.Token) []*ast.Node {
	var stmts []*ast.Node
	for {
		p.skipNewlines()
		switch p.current.Type {
		case token.EOF:
			if opener != nil {
				p.errorf(p.current, "unexpected end of input, missing 'end' for %s on line %d", opener.Type, opener.Line)
			}
			return stmts
		case token.End, token.Else:
			if opener == nil {
				p.errorf(p.current, "%s without a matching block", p.current.Type)
			}
			return stmts
		}
		stmts = append(stmts, p.parseStmt())
	}
}

func (p *Parser) parseStmt() *ast.Node {
	var stmt *ast.Node
	switch p.current.Type {
	case token.Forever:
		stmt = p.parseForever()
	case token.Repeat:
		stmt = p.parseRepeat()
	case token.If:
		stmt = p.parseIf()
	case token.Motor:
		stmt = p.parseMotor()
	case token.PlayTone:
		tok := p.current
		p.advance()
		args := p.parseArgs(tok, 2)
		stmt = ast.NewPlayTone(tok, args[0], args[1])
	case token.Display:
		tok := p.current
		p.advance()
		args := p.parseArgs(tok, 2)
		stmt = ast.NewDisplay(tok, args[0], args[1])
	case token.ClearScreen:
		tok := p.current
		p.advance()
		p.parseArgs(tok, 0)
		stmt = ast.NewClearScreen(tok)
	case token.Wait:
		tok := p.current
		p.advance()
		args := p.parseArgs(tok, 1)
		stmt = ast.NewWait(tok, args[0])
	case token.Ident:
		stmt = p.parseAssignment()
	default:
		p.errorf(p.current, "unexpected %s at start of statement", p.current.Describe())
	}

	switch p.current.Type {
	case token.Newline, token.EOF, token.End, token.Else:
	default:
		p.errorf(p.current, "expected end of statement, got %s", p.current.Describe())
	}
	return stmt
}

func (p *Parser) parseForever() *ast.Node {
	tok := p.current
	p.advance()
	p.expect(token.Colon, "after 'forever'")
	body := p.parseBody(&tok)
	p.expect(token.End, "to close 'forever'")
	return ast.NewForever(tok, body)
}

func (p *Parser) parseRepeat() *ast.Node {
	tok := p.current
	p.advance()
	count := p.parseExpr()
	p.expect(token.Colon, "after repeat count")
	body := p.parseBody(&tok)
	p.expect(token.End, "to close 'repeat'")
	return ast.NewRepeat(tok, count, body)
}

func (p *Parser) parseIf() *ast.Node {
	tok := p.current
	p.advance()
	cond := p.parseCondition()
	p.expect(token.Colon, "after if condition")
	thenBody := p.parseBody(&tok)

	var elseBody []*ast.Node
	hasElse := false
	if p.match(token.Else) {
		hasElse = true
		p.match(token.Colon)
		elseBody = p.parseBody(&tok)
	}
	p.expect(token.End, "to close 'if'")
	return ast.NewIf(tok, cond, thenBody, elseBody, hasElse)
}

func (p *Parser) parseMotor() *ast.Node {
	tok := p.current
	p.advance()
	p.expect(token.LParen, "after 'motor'")

	var port int
	switch p.current.Type {
	case token.PortA:
		port = 0
	case token.PortB:
		port = 1
	case token.PortC:
		port = 2
	default:
		p.errorf(p.current, "invalid motor port %s, expected A, B or C", p.current.Describe())
	}
	p.advance()
	p.expect(token.RParen, "after motor port")
	p.expect(token.Dot, "after 'motor(...)'")

	method := p.current
	switch method.Type {
	case token.On:
		p.advance()
		args := p.parseArgs(method, 1)
		return ast.NewMotorOn(tok, port, args[0])
	case token.Off:
		p.advance()
		p.parseArgs(method, 0)
		return ast.NewMotorOff(tok, port)
	case token.Coast:
		p.advance()
		p.parseArgs(method, 0)
		return ast.NewMotorCoast(tok, port)
	}
	p.errorf(method, "expected 'on', 'off' or 'coast', got %s", method.Describe())
	return nil
}

// parseArgs parses a parenthesised argument list and checks its length.
func (p *Parser) parseArgs(callee token.Token, want int) []*ast.Node {
	p.expect(token.LParen, "after "+callee.Type.String())
	var args []*ast.Node
	if !p.check(token.RParen) {
		for {
			args = append(args, p.parseExpr())
			if !p.match(token.Comma) {
				break
			}
		}
	}
	p.expect(token.RParen, "to close the argument list")

	if len(args) != want {
		noun := "arguments"
		if want == 1 {
			noun = "argument"
		}
		p.errorf(callee, "%s takes %d %s, got %d", callee.Type, want, noun, len(args))
	}
	return args
}

func (p *Parser) parseAssignment() *ast.Node {
	tok := p.current
	p.advance()
	p.expect(token.Eq, "after variable name")
	return ast.NewAssign(tok, tok.Value, p.parseExpr())
}

func (p *Parser) parseCondition() *ast.Node {
	left := p.parseExpr()
	opTok := p.current
	if !opTok.Type.IsCompare() {
		p.errorf(opTok, "expected comparison operator in condition, got %s", opTok.Describe())
	}
	p.advance()
	right := p.parseExpr()
	if p.check(token.And) || p.check(token.Or) {
		p.errorf(p.current, "boolean connectives are not supported, use nested 'if' blocks")
	}
	return ast.NewCompare(opTok, opTok.Type, left, right)
}

func (p *Parser) parseExpr() *ast.Node {
	left := p.parseTerm()
	for p.check(token.Plus) || p.check(token.Minus) {
		opTok := p.current
		p.advance()
		left = ast.NewBinaryOp(opTok, opTok.Type, left, p.parseTerm())
	}
	return left
}

func (p *Parser) parseTerm() *ast.Node {
	left := p.parseFactor()
	for p.check(token.Star) || p.check(token.Slash) || p.check(token.Rem) {
		opTok := p.current
		p.advance()
		left = ast.NewBinaryOp(opTok, opTok.Type, left, p.parseFactor())
	}
	return left
}

func (p *Parser) parseFactor() *ast.Node {
	tok := p.current
	switch tok.Type {
	case token.Number:
		p.advance()
		return ast.NewNumber(tok, parseNumber(tok.Value))
	case token.String:
		p.advance()
		return ast.NewString(tok, tok.Value)
	case token.LParen:
		p.advance()
		expr := p.parseExpr()
		p.expect(token.RParen, "after expression")
		return expr
	case token.Minus:
		p.advance()
		// Only a bare number folds; -(5) stays a negation.
		if p.check(token.Number) {
			num := p.current
			p.advance()
			return ast.NewNumber(tok, -parseNumber(num.Value))
		}
		return ast.NewUnaryOp(tok, token.Minus, p.parseFactor())
	case token.Touch, token.Light, token.Sound, token.Ultrasonic:
		return p.parseSensorCall()
	case token.Ident:
		p.advance()
		return ast.NewIdent(tok, tok.Value)
	case token.Not, token.And, token.Or:
		p.errorf(tok, "boolean operator %s is not supported", tok.Type)
	}
	p.errorf(tok, "expected expression, got %s", tok.Describe())
	return nil
}

var sensorKinds = map[token.Type]ast.SensorKind{
	token.Touch:      ast.SensorTouch,
	token.Light:      ast.SensorLight,
	token.Sound:      ast.SensorSound,
	token.Ultrasonic: ast.SensorUltrasonic,
}

func (p *Parser) parseSensorCall() *ast.Node {
	tok := p.current
	p.advance()
	p.expect(token.LParen, "after "+tok.Type.String())
	portTok := p.expect(token.Number, "as sensor port")
	port := parseNumber(portTok.Value)
	if port < 1 || port > 4 {
		p.errorf(portTok, "sensor port must be 1-4, got %d", port)
	}
	p.expect(token.RParen, "after sensor port")
	return ast.NewSensorCall(tok, sensorKinds[tok.Type], int(port))
}

// parseNumber reads a literal the lexer has already validated.
func parseNumber(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
