// gtest compiles every example program and compares the result against a
// recorded golden file (.<name>.json next to the source, or under --dir).
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/nxtc/pkg/cli"
	"github.com/xplshn/nxtc/pkg/codegen"
	"github.com/xplshn/nxtc/pkg/compiler"
	"github.com/xplshn/nxtc/pkg/config"
	"github.com/xplshn/nxtc/pkg/rxe"
	"github.com/xplshn/nxtc/pkg/token"
)

// Golden is what gets recorded for one program. Programs that are expected
// to be rejected record the error instead of an image.
type Golden struct {
	Flags    []string `json:"flags,omitempty"`
	Size     int      `json:"size,omitempty"`
	Hash     string   `json:"xxh64,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Listing  string   `json:"listing,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type FileTestResult struct {
	File     string        `json:"file"`
	Status   string        `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message  string        `json:"message,omitempty"`
	Diff     string        `json:"diff,omitempty"`
	Duration time.Duration `json:"duration"`
	Result   *Golden       `json:"result,omitempty"`
}

type TestSuiteResults map[string]*FileTestResult

var (
	generateGolden bool
	testFiles      string
	skipFiles      string
	outputJSON     string
	jobs           int
	verbose        bool
	jsonDir        string
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

// flagsDirective lets a program pick its own -W/-F switches.
const flagsDirective = "# nxtc:"

func main() {
	log.SetFlags(0)

	app := cli.NewApp("gtest")
	app.Synopsis = "[options]"
	app.Description = "Golden-file regression runner for the example programs."
	fs := app.FlagSet
	fs.Bool(&generateGolden, "generate-golden", "g", false, "Record golden files instead of comparing against them.")
	fs.String(&testFiles, "test-files", "", "examples/*.nxt", "Glob pattern(s) for files to test (space-separated).", "globs")
	fs.String(&skipFiles, "skip-files", "", "", "Files to skip (space-separated).", "files")
	fs.String(&outputJSON, "output", "o", ".test_results.json", "Output file for the JSON test report.", "file")
	fs.Int(&jobs, "jobs", "j", 4, "Number of parallel test jobs.", "n")
	fs.Bool(&verbose, "verbose", "v", false, "Print the compile time of every file.")
	fs.String(&jsonDir, "dir", "", "", "Directory to store/read golden JSON files (defaults to source file dir).", "dir")

	app.Action = func(args []string) error {
		// Images are written here so every run also goes through the loader check.
		tempDir, err := os.MkdirTemp("", "gtest-*")
		if err != nil {
			return fmt.Errorf("failed to create temp directory: %w", err)
		}
		defer os.RemoveAll(tempDir)
		setupInterruptHandler(tempDir)

		if len(args) > 0 {
			testFiles = strings.Join(args, " ")
		}
		files, err := expandGlobPatterns(testFiles)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no test files found matching %q", testFiles)
		}
		if generateGolden {
			return handleGenerateGolden(files, tempDir)
		}
		if hasFailures(handleRunTestSuite(files, tempDir)) {
			return errors.New("some tests failed")
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrHelp) {
			return
		}
		if !errors.Is(err, cli.ErrUsage) {
			log.Printf("%s[ERROR]%s %v\n", cRed, cNone, err)
		}
		os.Exit(1)
	}
}

func setupInterruptHandler(tempDir string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		fmt.Fprintf(os.Stderr, "\n%s[WARN]%s Interrupted. Cleaning up...\n", cYellow, cNone)
		os.RemoveAll(tempDir)
		os.Exit(1)
	}()
}

func getJSONPath(sourceFile string) string {
	jsonFileName := "." + filepath.Base(sourceFile) + ".json"
	if jsonDir != "" {
		return filepath.Join(jsonDir, jsonFileName)
	}
	return filepath.Join(filepath.Dir(sourceFile), jsonFileName)
}

func relPath(file string) string {
	if wd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(wd, file); err == nil {
			return rel
		}
	}
	return file
}

func hashFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

func handleGenerateGolden(files []string, tempDir string) error {
	for _, file := range files {
		golden, _, err := compileFile(file, tempDir)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		data, err := json.MarshalIndent(golden, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal golden data for %s: %w", file, err)
		}
		goldenFile := getJSONPath(file)
		if jsonDir != "" {
			if err := os.MkdirAll(jsonDir, 0755); err != nil {
				return err
			}
		}
		if err := os.WriteFile(goldenFile, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write golden file %s: %w", goldenFile, err)
		}
		if golden.Error != "" {
			fmt.Printf("%s[OK]%s Golden file generated: %s (expects %s%s%s)\n", cGreen, cNone, goldenFile, cYellow, golden.Error, cNone)
		} else {
			fmt.Printf("%s[OK]%s Golden file generated: %s (%s)\n", cGreen, cNone, goldenFile, humanize.Bytes(uint64(golden.Size)))
		}
	}
	return nil
}

func handleRunTestSuite(files []string, tempDir string) TestSuiteResults {
	skipped := make(map[string]bool)
	for _, f := range strings.Fields(skipFiles) {
		if abs, err := filepath.Abs(f); err == nil {
			skipped[abs] = true
		}
	}

	var wg sync.WaitGroup
	resultsChan := make(chan *FileTestResult, len(files))
	tasks := make(chan string, len(files))
	if jobs < 1 {
		jobs = 1
	}
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				resultsChan <- testFile(file, tempDir)
			}
		}()
	}

	// Identical sources are only compiled once.
	seenHashes := make(map[uint64]string)
	for _, file := range files {
		rel := relPath(file)
		if skipped[file] {
			resultsChan <- &FileTestResult{File: rel, Status: "SKIP", Message: "Skipped by user"}
			continue
		}
		hash, err := hashFile(file)
		if err != nil {
			resultsChan <- &FileTestResult{File: rel, Status: "ERROR", Message: fmt.Sprintf("Failed to hash file: %v", err)}
			continue
		}
		if original, ok := seenHashes[hash]; ok {
			resultsChan <- &FileTestResult{File: rel, Status: "SKIP", Message: fmt.Sprintf("Duplicate of %s", original)}
			continue
		}
		seenHashes[hash] = rel
		tasks <- file
	}
	close(tasks)

	wg.Wait()
	close(resultsChan)

	var results []*FileTestResult
	for r := range resultsChan {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].File < results[j].File })

	printSummary(results)
	return writeJSONReport(results)
}

func testFile(file, tempDir string) *FileTestResult {
	rel := relPath(file)
	goldenFile := getJSONPath(file)

	data, err := os.ReadFile(goldenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileTestResult{File: rel, Status: "SKIP", Message: "No golden file, run with --generate-golden"}
		}
		return &FileTestResult{File: rel, Status: "ERROR", Message: fmt.Sprintf("Failed to read golden file: %v", err)}
	}
	var want Golden
	if err := json.Unmarshal(data, &want); err != nil {
		return &FileTestResult{File: rel, Status: "ERROR", Message: fmt.Sprintf("Failed to parse golden file: %v", err)}
	}

	got, elapsed, err := compileFile(file, tempDir)
	if err != nil {
		return &FileTestResult{File: rel, Status: "ERROR", Message: err.Error(), Duration: elapsed}
	}
	result := &FileTestResult{File: rel, Duration: elapsed, Result: got}
	if diff := cmp.Diff(want, *got); diff != "" {
		result.Status = "FAIL"
		result.Message = "Output differs from golden file"
		result.Diff = diff
		return result
	}
	result.Status = "PASS"
	if got.Error != "" {
		result.Message = "Rejected as expected"
	} else {
		result.Message = fmt.Sprintf("Image matches (%s, xxh64 %s)", humanize.Bytes(uint64(got.Size)), got.Hash)
	}
	return result
}

// compileFile builds the golden record for one source. A compile error is a
// valid outcome and goes into the record; only tool failures are returned.
func compileFile(file, tempDir string) (*Golden, time.Duration, error) {
	source, err := os.ReadFile(file)
	if err != nil {
		return nil, 0, err
	}
	golden := &Golden{Flags: fileFlags(string(source))}
	cfg := config.NewConfig()
	for _, f := range golden.Flags {
		if err := cfg.ApplyFlag(f); err != nil {
			return nil, 0, fmt.Errorf("bad %s directive: %w", flagsDirective, err)
		}
	}
	cfg.WarningSink = func(w config.Warning, tok token.Token, msg string) {
		golden.Warnings = append(golden.Warnings, fmt.Sprintf("%d:%d: %s [-W%s]", tok.Line, tok.Column, msg, cfg.Warnings[w].Name))
	}

	start := time.Now()
	prog, err := compiler.Compile(string(source), cfg)
	if err != nil {
		golden.Error = err.Error()
		return golden, time.Since(start), nil
	}
	image, err := rxe.Encode(prog, cfg)
	if err != nil {
		golden.Error = err.Error()
		return golden, time.Since(start), nil
	}
	elapsed := time.Since(start)

	listing, err := codegen.NewListingBackend().Generate(prog, cfg)
	if err != nil {
		return nil, elapsed, err
	}
	golden.Listing = listing.String()
	golden.Size = len(image)
	golden.Hash = fmt.Sprintf("%016x", xxhash.Sum64(image))

	out := filepath.Join(tempDir, fmt.Sprintf("%016x%s", xxhash.Sum64String(file), config.OutputExt))
	if err := rxe.WriteFile(out, image); err != nil {
		return nil, elapsed, err
	}
	written, err := os.ReadFile(out)
	if err != nil {
		return nil, elapsed, err
	}
	img, err := rxe.Decode(written)
	if err == nil {
		err = img.Verify()
	}
	if err != nil {
		return nil, elapsed, fmt.Errorf("image fails the loader check: %w", err)
	}
	return golden, elapsed, nil
}

// fileFlags collects the switches named on "# nxtc:" lines.
func fileFlags(source string) []string {
	var flags []string
	for _, line := range strings.Split(source, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), flagsDirective); ok {
			flags = append(flags, strings.Fields(rest)...)
		}
	}
	return flags
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int
	var total time.Duration

	for _, result := range results {
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, result.File, cNone)

		switch result.Status {
		case "PASS":
			passed++
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, result.Message)
		case "FAIL":
			failed++
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, result.Message)
			fmt.Println(formatDiff(result.Diff))
		case "SKIP":
			skipped++
			fmt.Printf("  [%sSKIP%s] %s\n", cYellow, cNone, result.Message)
		case "ERROR":
			errored++
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, result.Message)
		}
		total += result.Duration
		if verbose && result.Duration > 0 {
			fmt.Printf("  compile: %s\n", formatDuration(result.Duration))
		}
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone, len(results))
	if compiled := passed + failed; compiled > 0 {
		fmt.Printf("Average compile time: %s\n", formatDuration(total/time.Duration(compiled)))
	}
}

func formatDiff(diff string) string {
	var b strings.Builder
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(strings.TrimSpace(line), "-"):
			b.WriteString(cRed + "    " + line + cNone + "\n")
		case strings.HasPrefix(strings.TrimSpace(line), "+"):
			b.WriteString(cGreen + "    " + line + cNone + "\n")
		default:
			b.WriteString("    " + line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeJSONReport(results []*FileTestResult) TestSuiteResults {
	resultsMap := make(TestSuiteResults, len(results))
	for _, r := range results {
		resultsMap[r.File] = r
	}

	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return resultsMap
	}

	outputFile := outputJSON
	if jsonDir != "" {
		if err := os.MkdirAll(jsonDir, 0755); err != nil {
			log.Printf("%s[ERROR]%s Failed to create dir %s: %v\n", cRed, cNone, jsonDir, err)
		}
		outputFile = filepath.Join(jsonDir, outputJSON)
	}

	if err := os.WriteFile(outputFile, jsonData, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, outputFile, err)
	} else {
		fmt.Printf("Full test report saved to %s\n", outputFile)
	}
	return resultsMap
}

func hasFailures(results TestSuiteResults) bool {
	for _, result := range results {
		if result.Status == "FAIL" || result.Status == "ERROR" {
			return true
		}
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			absFile, err := filepath.Abs(file)
			if err != nil {
				continue
			}
			if !seen[absFile] {
				if info, err := os.Stat(absFile); err == nil && info.Mode().IsRegular() {
					allFiles = append(allFiles, absFile)
					seen[absFile] = true
				}
			}
		}
	}
	return allFiles, nil
}
