package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/goforj/godump"
	"github.com/xplshn/nxtc/pkg/cli"
	"github.com/xplshn/nxtc/pkg/codegen"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/lexer"
	"github.com/xplshn/nxtc/pkg/parser"
	"github.com/xplshn/nxtc/pkg/rxe"
	"github.com/xplshn/nxtc/pkg/token"
	"github.com/xplshn/nxtc/pkg/typeChecker"
	"github.com/xplshn/nxtc/pkg/util"
)

func main() {
	app := cli.NewApp("nxtc")
	app.Synopsis = "[options] <input.nxt>"
	app.Description = "A compiler for a small robotics language. It turns motor, sensor, sound and display programs into executable images for the NXT brick."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/nxtc>"

	var (
		outFile       string
		formatVersion string
		toneVolume    int
		dumpCode      bool
		dumpAST       bool
		verify        bool
		quiet         bool
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "", "Place the output into <file>. Defaults to the input name cut to the brick's file name limit.", "file")
	fs.String(&formatVersion, "format-version", "", fmt.Sprintf("%d.%d", config.DefaultFormatMajor, config.DefaultFormatMinor), "Executable format version written to the header.", "major.minor")
	fs.Int(&toneVolume, "tone-volume", "", config.DefaultToneVolume, "Volume of play_tone, 0 (mute) to 4.", "level")
	fs.Bool(&dumpCode, "dump-code", "d", false, "Print the instruction listing and exit.")
	fs.Bool(&dumpAST, "dump-ast", "", false, "Pretty-print the syntax tree and exit.")
	fs.Bool(&verify, "verify", "", false, "Read the written image back and check it the way the loader does.")
	fs.Bool(&quiet, "quiet", "q", false, "Only print diagnostics.")

	cfg := config.NewConfig()
	warnings := fs.AddFlagGroup("Warning Flags", "W", "warning", warningEntries(cfg))
	features := fs.AddFlagGroup("Feature Flags", "F", "feature", featureEntries(cfg))

	app.Action = func(inputFiles []string) error {
		if len(inputFiles) != 1 {
			return fmt.Errorf("expected exactly one input file, got %d", len(inputFiles))
		}
		input := inputFiles[0]

		for i, e := range warnings.Entries {
			if e.Enabled || e.Disabled {
				cfg.SetWarning(config.Warning(i), e.Enabled)
			}
		}
		for i, e := range features.Entries {
			if e.Enabled || e.Disabled {
				cfg.SetFeature(config.Feature(i), e.Enabled)
			}
		}
		if err := cfg.SetFormatVersion(formatVersion); err != nil {
			return err
		}
		if toneVolume < 0 || toneVolume > 4 {
			return fmt.Errorf("tone volume %d out of range 0-4", toneVolume)
		}
		cfg.ToneVolume = uint8(toneVolume)

		step := func(format string, args ...interface{}) {
			if !quiet {
				fmt.Printf(format+"\n", args...)
			}
		}

		content, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("could not read file '%s': %w", input, err)
		}
		reporter := util.NewReporter(os.Stderr, util.SourceFileRecord{Name: input, Content: []rune(string(content))})
		cfg.WarningSink = reporter.Sink(cfg)
		fail := func(err error) error {
			reporter.Error(err)
			return err
		}

		if outFile == "" {
			var cut bool
			if outFile, cut = defaultOutputName(input, cfg.MaxDeviceName); cut {
				util.Warn(cfg, config.WarnFilename, token.Token{}, "output name cut to '%s' to fit the brick's %d character limit", filepath.Base(outFile), cfg.MaxDeviceName)
			}
		} else if base := strings.TrimSuffix(filepath.Base(outFile), filepath.Ext(outFile)); utf8.RuneCountInString(base) > cfg.MaxDeviceName {
			util.Warn(cfg, config.WarnFilename, token.Token{}, "output name '%s' is longer than the %d characters the brick accepts", filepath.Base(outFile), cfg.MaxDeviceName)
		}

		step("----------------------")
		step("Tokenizing '%s'...", input)
		tokens, err := lexer.Tokenize(string(content), cfg)
		if err != nil {
			return fail(err)
		}

		step("Parsing tokens into AST...")
		stmts, err := parser.Parse(tokens)
		if err != nil {
			return fail(err)
		}
		if dumpAST {
			fmt.Println(godump.DumpStr(stmts))
			return nil
		}

		step("Type checking...")
		if err := typeChecker.NewTypeChecker(cfg).Check(stmts); err != nil {
			return fail(err)
		}

		step("Generating code...")
		prog, err := codegen.NewContext(cfg).Generate(stmts)
		if err != nil {
			return fail(err)
		}

		backendName := "rxe"
		if dumpCode {
			backendName = "listing"
		}
		backend, err := codegen.NewBackend(backendName)
		if err != nil {
			return fail(err)
		}
		out, err := backend.Generate(prog, cfg)
		if err != nil {
			return fail(err)
		}
		if dumpCode {
			fmt.Print(out.String())
			return nil
		}

		step("Writing image '%s'...", outFile)
		image := out.Bytes()
		if err := rxe.WriteFile(outFile, image); err != nil {
			return fail(err)
		}

		if verify {
			step("Verifying image...")
			written, err := os.ReadFile(outFile)
			if err != nil {
				return fail(util.IOError(err, "cannot read back %s", outFile))
			}
			img, err := rxe.Decode(written)
			if err == nil {
				err = img.Verify()
			}
			if err != nil {
				return fail(err)
			}
			fmt.Fprintf(os.Stderr, "nxtc: info: %s passed the loader checks (%d entries, %d dope vectors)\n",
				outFile, len(img.Entries), len(img.DopeVectors))
		}

		step("----------------------")
		step("Done! %s (%d entries, %d code words, xxh64 %016x)",
			humanize.Bytes(uint64(len(image))), len(prog.Data.Entries), len(prog.Code), xxhash.Sum64(image))
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrHelp) {
			return
		}
		var ce *util.CompileError
		if !errors.As(err, &ce) && !errors.Is(err, cli.ErrUsage) {
			fmt.Fprintf(os.Stderr, "nxtc: %v\n", err)
		}
		os.Exit(1)
	}
}

// defaultOutputName is the input's base name cut to the device limit, with
// the executable extension. cut reports whether the name was shortened.
func defaultOutputName(input string, limit int) (name string, cut bool) {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if r := []rune(base); len(r) > limit {
		base, cut = string(r[:limit]), true
	}
	return filepath.Join(filepath.Dir(input), base+config.OutputExt), cut
}

func warningEntries(cfg *config.Config) []cli.FlagGroupEntry {
	entries := make([]cli.FlagGroupEntry, config.WarnCount)
	for i := config.Warning(0); i < config.WarnCount; i++ {
		info := cfg.Warnings[i]
		entries[i] = cli.FlagGroupEntry{Name: info.Name, Usage: info.Description, Default: info.Enabled}
	}
	return entries
}

func featureEntries(cfg *config.Config) []cli.FlagGroupEntry {
	entries := make([]cli.FlagGroupEntry, config.FeatCount)
	for i := config.Feature(0); i < config.FeatCount; i++ {
		info := cfg.Features[i]
		entries[i] = cli.FlagGroupEntry{Name: info.Name, Usage: info.Description, Default: info.Enabled}
	}
	return entries
}
