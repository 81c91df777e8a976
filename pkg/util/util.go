package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/token"
)

// Kind classifies a compile failure.
type Kind int

const (
	KindSyntax Kind = iota
	KindType
	KindValue
	KindLimit
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax error"
	case KindType:
		return "type error"
	case KindValue:
		return "internal error"
	case KindLimit:
		return "limit exceeded"
	case KindIO:
		return "i/o error"
	}
	return "error"
}

// Sentinels for errors.Is; they match any CompileError of the same kind.
var (
	ErrSyntax = &CompileError{Kind: KindSyntax}
	ErrType   = &CompileError{Kind: KindType}
	ErrValue  = &CompileError{Kind: KindValue}
	ErrLimit  = &CompileError{Kind: KindLimit}
	ErrIO     = &CompileError{Kind: KindIO}
)

// CompileError is the error type of every stage of the compiler.
// Tok is the zero token when no source position applies.
type CompileError struct {
	Kind Kind
	Tok  token.Token
	Msg  string
	Err  error
}

func (e *CompileError) Error() string {
	if e.Tok.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Tok.Line, e.Msg)
	}
	return e.Msg
}

func (e *CompileError) Unwrap() error { return e.Err }

func (e *CompileError) Is(target error) bool {
	t, ok := target.(*CompileError)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

// Errorf builds a syntax error located at tok.
func Errorf(tok token.Token, format string, args ...interface{}) error {
	return &CompileError{Kind: KindSyntax, Tok: tok, Msg: fmt.Sprintf(format, args...)}
}

// TypeErrorf builds a semantic error located at tok.
func TypeErrorf(tok token.Token, format string, args ...interface{}) error {
	return &CompileError{Kind: KindType, Tok: tok, Msg: fmt.Sprintf(format, args...)}
}

// ValueErrorf reports a broken generator invariant.
func ValueErrorf(tok token.Token, format string, args ...interface{}) error {
	return &CompileError{Kind: KindValue, Tok: tok, Msg: fmt.Sprintf(format, args...)}
}

// LimitErrorf reports a value that does not fit the container format.
func LimitErrorf(format string, args ...interface{}) error {
	return &CompileError{Kind: KindLimit, Msg: fmt.Sprintf(format, args...)}
}

// IOError wraps a failure writing or reading an image.
func IOError(err error, format string, args ...interface{}) error {
	return &CompileError{Kind: KindIO, Msg: fmt.Sprintf(format, args...) + ": " + err.Error(), Err: err}
}

// Warn forwards a warning to the configured sink if the warning is enabled.
func Warn(cfg *config.Config, wt config.Warning, tok token.Token, format string, args ...interface{}) {
	if cfg == nil || !cfg.IsWarningEnabled(wt) || cfg.WarningSink == nil {
		return
	}
	cfg.WarningSink(wt, tok, fmt.Sprintf(format, args...))
}

// SourceFileRecord tracks the name and content of the source being compiled.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

// Reporter renders errors and warnings with the offending source line.
type Reporter struct {
	out   io.Writer
	file  SourceFileRecord
	color bool
}

func NewReporter(out io.Writer, file SourceFileRecord) *Reporter {
	r := &Reporter{out: out, file: file}
	if f, ok := out.(*os.File); ok && os.Getenv("NO_COLOR") == "" {
		r.color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return r
}

func (r *Reporter) paint(code, s string) string {
	if !r.color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// printErrorLine prints the source line and a caret indicating the error position
func (r *Reporter) printErrorLine(tok token.Token) {
	if tok.Line == 0 {
		return
	}

	content := r.file.Content
	lineNum := tok.Line
	lineStart := 0
	for i, ch := range content {
		if lineNum <= 1 {
			break
		}
		if ch == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}
	if lineNum > 1 {
		return
	}

	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(r.out, "  %s\n", strings.TrimRight(string(content[lineStart:lineEnd]), "\r"))
	if tok.Column < 1 {
		return
	}
	caret := "^"
	if tok.Len > 1 {
		caret += strings.Repeat("~", tok.Len-1)
	}
	fmt.Fprintf(r.out, "  %s%s\n", strings.Repeat(" ", tok.Column-1), r.paint("32", caret))
}

// Error prints err. Errors that carry a source position get the caret line.
func (r *Reporter) Error(err error) {
	var ce *CompileError
	if !errors.As(err, &ce) {
		fmt.Fprintf(r.out, "%s: %s %v\n", r.file.Name, r.paint("31", "error:"), err)
		return
	}
	fmt.Fprintf(r.out, "%s: %s %s\n", r.where(ce.Tok), r.paint("31", ce.Kind.String()+":"), ce.Msg)
	r.printErrorLine(ce.Tok)
}

func (r *Reporter) where(tok token.Token) string {
	if tok.Line == 0 {
		return r.file.Name
	}
	return fmt.Sprintf("%s:%d:%d", r.file.Name, tok.Line, tok.Column)
}

// Warning prints a formatted warning tagged with the switch that controls it.
func (r *Reporter) Warning(name string, tok token.Token, msg string) {
	fmt.Fprintf(r.out, "%s: %s %s [-W%s]\n", r.where(tok), r.paint("33", "warning:"), msg, name)
	r.printErrorLine(tok)
}

// Sink adapts the reporter to a config.WarningSink.
func (r *Reporter) Sink(cfg *config.Config) config.WarningSink {
	return func(w config.Warning, tok token.Token, msg string) {
		r.Warning(cfg.Warnings[w].Name, tok, msg)
	}
}
