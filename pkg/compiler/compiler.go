// Package compiler runs the whole pipeline: source text in, executable image
// out. Every call works on fresh state, so concurrent compilations are safe
// as long as they do not share a Config.
package compiler

import (
	"github.com/xplshn/nxtc/pkg/ast"
	"github.com/xplshn/nxtc/pkg/codegen"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/ir"
	"github.com/xplshn/nxtc/pkg/lexer"
	"github.com/xplshn/nxtc/pkg/parser"
	"github.com/xplshn/nxtc/pkg/rxe"
	"github.com/xplshn/nxtc/pkg/typeChecker"
)

// Parse tokenizes, parses and checks source.
func Parse(source string, cfg *config.Config) ([]*ast.Node, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	tokens, err := lexer.Tokenize(source, cfg)
	if err != nil {
		return nil, err
	}
	stmts, err := parser.Parse(tokens)
	if err != nil {
		return nil, err
	}
	if err := typeChecker.NewTypeChecker(cfg).Check(stmts); err != nil {
		return nil, err
	}
	return stmts, nil
}

// Compile lowers source to a program without serializing it.
func Compile(source string, cfg *config.Config) (*ir.Program, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	stmts, err := Parse(source, cfg)
	if err != nil {
		return nil, err
	}
	return codegen.NewContext(cfg).Generate(stmts)
}

// CompileToBytes returns the executable image for source.
func CompileToBytes(source string, cfg *config.Config) ([]byte, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	prog, err := Compile(source, cfg)
	if err != nil {
		return nil, err
	}
	return rxe.Encode(prog, cfg)
}

// CompileFile compiles source and writes the image to path, returning the
// image size in bytes. Nothing is written when compilation fails.
func CompileFile(source, path string, cfg *config.Config) (int, error) {
	image, err := CompileToBytes(source, cfg)
	if err != nil {
		return 0, err
	}
	if err := rxe.WriteFile(path, image); err != nil {
		return 0, err
	}
	return len(image), nil
}
