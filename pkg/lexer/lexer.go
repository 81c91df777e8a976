package lexer

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/token"
	"github.com/xplshn/nxtc/pkg/util"
)

// Lexer scans one source line at a time. Statements never span lines, so a
// line is the natural unit for comment stripping and the Newline terminator.
type Lexer struct {
	lines  []string
	line   []rune
	lineNo int
	pos    int
	tokens []token.Token
	cfg    *config.Config
}

func NewLexer(source string, cfg *config.Config) *Lexer {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &Lexer{lines: strings.Split(source, "\n"), cfg: cfg}
}

// Tokenize turns source into a token slice that always ends with a Newline
// followed by EOF.
func Tokenize(source string, cfg *config.Config) ([]token.Token, error) {
	return NewLexer(source, cfg).Run()
}

func (l *Lexer) Run() ([]token.Token, error) {
	for i, raw := range l.lines {
		l.lineNo = i + 1
		l.line = []rune(strings.ReplaceAll(raw, "\r", ""))
		l.pos = 0
		if err := l.scanLine(); err != nil {
			return nil, err
		}
	}

	end := len(l.lines) + 1
	l.tokens = append(l.tokens,
		token.Token{Type: token.Newline, Line: end, Column: 1},
		token.Token{Type: token.EOF, Line: end, Column: 1},
	)
	return l.tokens, nil
}

func (l *Lexer) scanLine() error {
	l.line = []rune(strings.TrimRightFunc(string(l.line[:l.commentStart()]), unicode.IsSpace))
	if strings.TrimSpace(string(l.line)) == "" {
		return nil
	}

	for !l.isAtEnd() {
		ch := l.peek()
		if ch == ' ' || ch == '\t' {
			l.advance()
			continue
		}
		tok, err := l.next()
		if err != nil {
			return err
		}
		l.tokens = append(l.tokens, tok)
	}
	l.tokens = append(l.tokens, token.Token{Type: token.Newline, Line: l.lineNo, Column: len(l.line) + 1})
	return nil
}

// commentStart finds the first '#' that is not inside a string literal.
func (l *Lexer) commentStart() int {
	inString := false
	for i, ch := range l.line {
		switch {
		case ch == '"':
			inString = !inString
		case ch == '#' && !inString:
			return i
		}
	}
	return len(l.line)
}

func (l *Lexer) next() (token.Token, error) {
	start := l.pos
	ch := l.peek()

	if unicode.IsDigit(ch) || (ch == '-' && unicode.IsDigit(l.peekNext()) && l.minusStartsLiteral()) {
		return l.numberLiteral(start)
	}
	if unicode.IsLetter(ch) || ch == '_' {
		return l.identifierOrKeyword(start), nil
	}

	l.advance()
	switch ch {
	case '"':
		return l.stringLiteral(start)
	case '(': return l.makeToken(token.LParen, "", start), nil
	case ')': return l.makeToken(token.RParen, "", start), nil
	case '.': return l.makeToken(token.Dot, "", start), nil
	case ':': return l.makeToken(token.Colon, "", start), nil
	case ',': return l.makeToken(token.Comma, "", start), nil
	case '+': return l.makeToken(token.Plus, "", start), nil
	case '-': return l.makeToken(token.Minus, "", start), nil
	case '*': return l.makeToken(token.Star, "", start), nil
	case '/': return l.makeToken(token.Slash, "", start), nil
	case '%': return l.makeToken(token.Rem, "", start), nil
	case '=': return l.matchThen('=', token.EqEq, token.Eq, start), nil
	case '<': return l.matchThen('=', token.Lte, token.Lt, start), nil
	case '>': return l.matchThen('=', token.Gte, token.Gt, start), nil
	case '!':
		if l.match('=') {
			return l.makeToken(token.Neq, "", start), nil
		}
	}

	return token.Token{}, util.Errorf(l.makeToken(token.EOF, "", start), "unexpected character '%c'", ch)
}

// minusStartsLiteral reports whether a '-' directly before a digit belongs to
// the number: only when the previous token cannot end an expression.
func (l *Lexer) minusStartsLiteral() bool {
	if len(l.tokens) == 0 {
		return true
	}
	prev := l.tokens[len(l.tokens)-1].Type
	switch prev.Kind() {
	case token.KindOperator, token.KindKeyword:
		return true
	}
	return prev == token.LParen || prev == token.Comma || prev == token.Colon
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.line[l.pos]
}

func (l *Lexer) peekNext() rune {
	if l.pos+1 >= len(l.line) {
		return 0
	}
	return l.line[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() {
		return 0
	}
	ch := l.line[l.pos]
	l.pos++
	return ch
}

func (l *Lexer) match(expected rune) bool {
	if l.isAtEnd() || l.line[l.pos] != expected {
		return false
	}
	l.pos++
	return true
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.line) }

func (l *Lexer) makeToken(tokType token.Type, value string, start int) token.Token {
	return token.Token{
		Type: tokType, Value: value,
		Line: l.lineNo, Column: start + 1, Len: l.pos - start,
	}
}

func (l *Lexer) matchThen(expected rune, whenMatched, otherwise token.Type, start int) token.Token {
	if l.match(expected) {
		return l.makeToken(whenMatched, "", start)
	}
	return l.makeToken(otherwise, "", start)
}

func (l *Lexer) identifierOrKeyword(start int) token.Token {
	for unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_' {
		l.advance()
	}
	value := string(l.line[start:l.pos])
	if tokType, isKeyword := token.KeywordMap[value]; isKeyword {
		return l.makeToken(tokType, value, start)
	}
	return l.makeToken(token.Ident, value, start)
}

func (l *Lexer) numberLiteral(start int) (token.Token, error) {
	if l.peek() == '-' {
		l.advance()
	}
	for unicode.IsDigit(l.peek()) {
		l.advance()
	}

	valueStr := string(l.line[start:l.pos])
	tok := l.makeToken(token.Number, valueStr, start)
	val, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return tok, util.Errorf(tok, "number literal %s is too large", valueStr)
		}
		return tok, util.Errorf(tok, "invalid number literal %s", valueStr)
	}
	if val > math.MaxInt32 || val < math.MinInt32 {
		util.Warn(l.cfg, config.WarnOverflow, tok, "integer constant %s does not fit in 32 bits and will be truncated", valueStr)
	}
	tok.Value = strconv.FormatInt(val, 10)
	return tok, nil
}

func (l *Lexer) stringLiteral(start int) (token.Token, error) {
	for !l.isAtEnd() {
		if l.advance() == '"' {
			return l.makeToken(token.String, string(l.line[start+1:l.pos-1]), start), nil
		}
	}
	return token.Token{}, util.Errorf(l.makeToken(token.String, "", start), "unterminated string")
}
