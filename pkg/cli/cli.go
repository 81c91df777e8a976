// Package cli is a small flag parser with GNU-style long and short options,
// -W/-F style switch groups, and help pages wrapped to the terminal width.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"
)

var (
	// ErrHelp is returned by Run when --help was given and the help page printed.
	ErrHelp = errors.New("help requested")
	// ErrUsage wraps command line errors; Run has already reported them.
	ErrUsage = errors.New("usage")
)

type Value interface {
	String() string
	Set(string) error
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }

type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': %w", s, err)
	}
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }

type intValue struct{ p *int }

func (v *intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid number '%s': %w", s, err)
	}
	*v.p = n
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(*v.p) }

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
}

func (f *Flag) isBool() bool {
	_, ok := f.Value.(*boolValue)
	return ok
}

// FlagGroup is a family of switches sharing a prefix, like -W<warning> and
// -Wno-<warning>.
type FlagGroup struct {
	Name      string
	Prefix    string
	GroupType string
	Entries   []FlagGroupEntry
}

// FlagGroupEntry is one member of a group. After parsing, Enabled or
// Disabled is set when the corresponding switch appeared.
type FlagGroupEntry struct {
	Name     string
	Usage    string
	Default  bool
	Enabled  bool
	Disabled bool
}

type FlagSet struct {
	name       string
	flags      map[string]*Flag
	shorthands map[string]*Flag
	groups     []*FlagGroup
	args       []string
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:       name,
		flags:      make(map[string]*Flag),
		shorthands: make(map[string]*Flag),
	}
}

func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

func (f *FlagSet) String(p *string, name, shorthand, value, usage, expectedType string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, expectedType)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) Int(p *int, name, shorthand string, value int, usage, expectedType string) {
	*p = value
	f.Var(&intValue{p}, name, shorthand, usage, strconv.Itoa(value), expectedType)
}

func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" {
		panic("flag name cannot be empty")
	}
	if _, ok := f.flags[name]; ok {
		panic(fmt.Sprintf("flag redefined: %s", name))
	}
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ExpectedType: expectedType}
	f.flags[name] = flag
	if shorthand != "" {
		if _, ok := f.shorthands[shorthand]; ok {
			panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand))
		}
		f.shorthands[shorthand] = flag
	}
}

// AddFlagGroup registers a switch group. The returned group's entries record
// what the command line asked for once Parse has run.
func (f *FlagSet) AddFlagGroup(name, prefix, groupType string, entries []FlagGroupEntry) *FlagGroup {
	g := &FlagGroup{Name: name, Prefix: prefix, GroupType: groupType, Entries: entries}
	f.groups = append(f.groups, g)
	return g
}

// group switches are matched before short flags so that -Wall is not read
// as -W with the value "all"
func (f *FlagSet) parseGroupSwitch(arg string) (bool, error) {
	for _, g := range f.groups {
		if !strings.HasPrefix(arg, "-"+g.Prefix) || strings.HasPrefix(arg, "--") {
			continue
		}
		name := strings.TrimPrefix(arg, "-"+g.Prefix)
		enable := true
		if strings.HasPrefix(name, "no-") {
			name, enable = strings.TrimPrefix(name, "no-"), false
		}
		if name == "all" {
			for i := range g.Entries {
				g.Entries[i].Enabled, g.Entries[i].Disabled = enable, !enable
			}
			return true, nil
		}
		for i := range g.Entries {
			if g.Entries[i].Name == name {
				g.Entries[i].Enabled, g.Entries[i].Disabled = enable, !enable
				return true, nil
			}
		}
		return true, fmt.Errorf("unknown %s '%s' in %s", g.GroupType, name, arg)
	}
	return false, nil
}

func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
			continue
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		}

		if ok, err := f.parseGroupSwitch(arg); ok {
			if err != nil {
				return err
			}
			continue
		}

		long := strings.HasPrefix(arg, "--")
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		var flag *Flag
		if long {
			flag = f.flags[name]
		} else if flag = f.flags[name]; flag == nil {
			// -ofile and -o file
			flag = f.shorthands[arg[1:2]]
			name, value, hasValue = arg[1:2], arg[2:], len(arg) > 2
		}
		if flag == nil {
			if long {
				return fmt.Errorf("unknown flag: --%s", name)
			}
			return fmt.Errorf("unknown shorthand flag: -%s", name)
		}

		switch {
		case hasValue:
		case flag.isBool():
			value = ""
		case i+1 < len(arguments):
			i++
			value = arguments[i]
		default:
			return fmt.Errorf("flag needs an argument: %s", arg)
		}
		if err := flag.Value.Set(value); err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
	}
	return nil
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	FlagSet     *FlagSet
	Action      func(args []string) error
	Stdout      io.Writer
	Stderr      io.Writer
}

func NewApp(name string) *App {
	return &App{
		Name:    name,
		FlagSet: NewFlagSet(name),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Run parses arguments and invokes Action with the remaining operands.
func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information.")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintf(a.Stderr, "%s: %v\n", a.Name, err)
		a.writeUsage(a.Stderr)
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if help {
		a.writeHelp(a.Stdout)
		return ErrHelp
	}
	if a.Action != nil {
		return a.Action(a.FlagSet.Args())
	}
	return nil
}

func (a *App) optionFlags() []*Flag {
	var flags []*Flag
	for _, flag := range a.FlagSet.flags {
		flags = append(flags, flag)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags
}

func formatFlag(flag *Flag) string {
	var sb strings.Builder
	if flag.Shorthand != "" {
		fmt.Fprintf(&sb, "-%s, ", flag.Shorthand)
	}
	fmt.Fprintf(&sb, "--%s", flag.Name)
	if !flag.isBool() && flag.ExpectedType != "" {
		fmt.Fprintf(&sb, " <%s>", flag.ExpectedType)
	}
	return sb.String()
}

type helpLine struct{ left, usage, right string }

func (a *App) writeUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s %s\n", a.Name, a.Synopsis)
	fmt.Fprintf(w, "Run '%s --help' for all available options.\n", a.Name)
}

func (a *App) writeHelp(w io.Writer) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage: %s %s\n", a.Name, a.Synopsis)
	if a.Description != "" {
		sb.WriteString("\n")
		for _, line := range wrapText(a.Description, terminalWidth()-4) {
			fmt.Fprintf(&sb, "    %s\n", line)
		}
	}

	var opts []helpLine
	for _, flag := range a.optionFlags() {
		right := ""
		if !flag.isBool() && flag.DefValue != "" {
			right = fmt.Sprintf("|%s|", flag.DefValue)
		}
		opts = append(opts, helpLine{formatFlag(flag), flag.Usage, right})
	}
	sections := [][]helpLine{opts}
	titles := []string{"Options"}

	for _, g := range a.FlagSet.groups {
		lines := []helpLine{
			{fmt.Sprintf("-%s<%s>", g.Prefix, g.GroupType), fmt.Sprintf("Enable a specific %s.", g.GroupType), ""},
			{fmt.Sprintf("-%sno-<%s>", g.Prefix, g.GroupType), fmt.Sprintf("Disable a specific %s.", g.GroupType), ""},
		}
		entries := append([]FlagGroupEntry(nil), g.Entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		for _, e := range entries {
			mark := "|-|"
			if e.Default {
				mark = "|x|"
			}
			lines = append(lines, helpLine{e.Name, e.Usage, mark})
		}
		sections = append(sections, lines)
		titles = append(titles, g.Name)
	}

	leftWidth := 0
	for _, lines := range sections {
		for _, l := range lines {
			if len(l.left) > leftWidth {
				leftWidth = len(l.left)
			}
		}
	}
	width := terminalWidth()
	for i, lines := range sections {
		fmt.Fprintf(&sb, "\n%s\n", titles[i])
		for _, l := range lines {
			writeEntry(&sb, l, leftWidth, width)
		}
	}
	if len(a.Authors) > 0 || a.Repository != "" {
		sb.WriteString("\n")
		if len(a.Authors) > 0 {
			fmt.Fprintf(&sb, "    Written by %s and contributors.\n", strings.Join(a.Authors, ", "))
		}
		if a.Repository != "" {
			fmt.Fprintf(&sb, "    For more details refer to %s\n", a.Repository)
		}
	}
	io.WriteString(w, sb.String())
}

func writeEntry(sb *strings.Builder, l helpLine, leftWidth, termWidth int) {
	const indent = "    "
	usageWidth := termWidth - len(indent) - leftWidth - 1 - len(l.right) - 2
	if usageWidth < 10 {
		usageWidth = 10
	}
	lines := wrapText(l.usage, usageWidth)
	if len(lines) == 0 {
		lines = []string{""}
	}
	if l.right != "" {
		fmt.Fprintf(sb, "%s%-*s %-*s  %s\n", indent, leftWidth, l.left, usageWidth, lines[0], l.right)
	} else {
		fmt.Fprintf(sb, "%s%-*s %s\n", indent, leftWidth, l.left, lines[0])
	}
	for _, rest := range lines[1:] {
		fmt.Fprintf(sb, "%s%s %s\n", indent, strings.Repeat(" ", leftWidth), rest)
	}
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	if width < 40 {
		return 40
	}
	return width
}

func wrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	var line strings.Builder
	for _, word := range words {
		if line.Len() > 0 && line.Len()+1+len(word) > maxWidth {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	return append(lines, line.String())
}
