package typeChecker

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/lexer"
	"github.com/xplshn/nxtc/pkg/parser"
	"github.com/xplshn/nxtc/pkg/token"
	"github.com/xplshn/nxtc/pkg/util"
)

type warning struct {
	Name string
	Line int
}

func check(t *testing.T, cfg *config.Config, src string) ([]warning, error) {
	t.Helper()
	var got []warning
	cfg.WarningSink = func(w config.Warning, tok token.Token, msg string) {
		got = append(got, warning{cfg.Warnings[w].Name, tok.Line})
	}
	toks, err := lexer.Tokenize(src, cfg)
	if err != nil {
		t.Fatalf("Tokenize error: %v", err)
	}
	stmts, err := parser.Parse(toks)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return got, NewTypeChecker(cfg).Check(stmts)
}

func TestWarnings(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		extra bool
		want  []warning
	}{
		{"clean program", "x = 1\nwait(x)\nmotor(A).on(100)", false, nil},
		{"motor power range", "motor(A).on(150)\nmotor(B).on(-101)", false, []warning{{"range", 1}, {"range", 2}}},
		{"display line range", "display(\"a\", 9)\ndisplay(\"b\", 0)", false, []warning{{"range", 1}, {"range", 2}}},
		{"negative wait", "wait(-5)", false, []warning{{"range", 1}}},
		{"tone out of range", "play_tone(70000, 10)", false, []warning{{"range", 1}}},
		{"unreachable after forever", "forever:\n wait(1)\nend\nmotor(A).off()", false, []warning{{"unreachable-code", 4}}},
		{"sensor conflict", "a = touch(1)\nb = light(1)\nc = touch(1)", false, []warning{{"sensor-conflict", 2}}},
		{"read before assignment", "wait(t)\nt = 1", false, []warning{{"uninitialized", 1}}},
		{"zero repeat is quiet by default", "repeat 0:\nend", false, nil},
		{"zero repeat with extra", "repeat 0:\nend", true, []warning{{"extra", 1}}},
		{"division by zero with extra", "x = 4 / 0", true, []warning{{"extra", 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			cfg.SetWarning(config.WarnExtra, tt.extra)
			got, err := check(t, cfg, tt.src)
			if err != nil {
				t.Fatalf("Check error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("warnings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTypeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		flag string
	}{
		{"string assigned", "x = \"hi\"", ""},
		{"string as power", "motor(A).on(\"fast\")", ""},
		{"string in arithmetic display", "display(\"a\" + 1, 1)", ""},
		{"string as line", "display(\"a\", \"b\")", ""},
		{"string compared", "if x == \"a\":\nend", ""},
		{"numeric display disabled", "display(42, 1)", "-Fno-numeric-display"},
		{"strict vars", "x = y + 1", "-Fstrict-vars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			if tt.flag != "" {
				if err := cfg.ApplyFlag(tt.flag); err != nil {
					t.Fatal(err)
				}
			}
			_, err := check(t, cfg, tt.src)
			if !errors.Is(err, util.ErrType) {
				t.Errorf("expected type error, got %v", err)
			}
		})
	}
}

func TestNumericDisplayAllowed(t *testing.T) {
	if _, err := check(t, config.NewConfig(), "x = 3\ndisplay(x * 2, 4)"); err != nil {
		t.Errorf("numeric display rejected: %v", err)
	}
}

func TestSymbolsInOrder(t *testing.T) {
	cfg := config.NewConfig()
	var tc *TypeChecker
	toks, _ := lexer.Tokenize("b = 1\na = b\nwait(a + c)", cfg)
	stmts, err := parser.Parse(toks)
	if err != nil {
		t.Fatal(err)
	}
	tc = NewTypeChecker(cfg)
	if err := tc.Check(stmts); err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, s := range tc.Symbols() {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, names); diff != "" {
		t.Errorf("symbol order mismatch (-want +got):\n%s", diff)
	}
	if tc.symbols["c"].Assigned {
		t.Errorf("c should not be marked assigned")
	}
}
