package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/nxtc/pkg/token"
)

type Feature int

const (
	FeatNumericDisplay Feature = iota
	FeatStrictVars
	FeatCount
)

type Warning int

const (
	WarnOverflow Warning = iota
	WarnRange
	WarnUnreachableCode
	WarnSensorConflict
	WarnUninitialized
	WarnFilename
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

// WarningSink receives every enabled warning raised during a compilation.
type WarningSink func(w Warning, tok token.Token, msg string)

const (
	DefaultFormatMajor = 0
	DefaultFormatMinor = 5
	// Oldest file format minor version the firmware VM still loads.
	OldestFormatMinor = 4
	DefaultToneVolume = 3
	// Device file names are limited to 15 characters plus the extension.
	DefaultMaxDeviceName = 15
	OutputExt            = ".rxe"
)

// Config is the per-compilation configuration. It is not safe to mutate
// while a compilation that uses it is running.
type Config struct {
	Features      map[Feature]Info
	Warnings      map[Warning]Info
	FeatureMap    map[string]Feature
	WarningMap    map[string]Warning
	FormatMajor   uint8
	FormatMinor   uint8
	ToneVolume    uint8
	MaxDeviceName int
	WarningSink   WarningSink
}

func NewConfig() *Config {
	cfg := &Config{
		Features:      make(map[Feature]Info),
		Warnings:      make(map[Warning]Info),
		FeatureMap:    make(map[string]Feature),
		WarningMap:    make(map[string]Warning),
		FormatMajor:   DefaultFormatMajor,
		FormatMinor:   DefaultFormatMinor,
		ToneVolume:    DefaultToneVolume,
		MaxDeviceName: DefaultMaxDeviceName,
	}

	features := map[Feature]Info{
		FeatNumericDisplay: {"numeric-display", true, "Allow display() of numeric expressions (converted to text at runtime)."},
		FeatStrictVars:     {"strict-vars", false, "Reject reads of variables that are never assigned."},
	}

	warnings := map[Warning]Info{
		WarnOverflow:        {"overflow", true, "Warn when an integer literal does not fit in a signed 32-bit slot."},
		WarnRange:           {"range", true, "Warn on literal motor power, display line or wait duration out of range."},
		WarnUnreachableCode: {"unreachable-code", true, "Warn about statements that follow a forever loop."},
		WarnSensorConflict:  {"sensor-conflict", true, "Warn when one sensor port is read as two different sensor kinds."},
		WarnUninitialized:   {"uninitialized", true, "Warn when a variable is read before it is assigned."},
		WarnFilename:        {"filename", true, "Warn when the output name is too long for the brick's file system."},
		WarnExtra:           {"extra", false, "Enable extra miscellaneous warnings (e.g. repeat counts that never run)."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// SetAllWarnings is what -Wall and -Wno-all do.
func (c *Config) SetAllWarnings(enabled bool) {
	for i := Warning(0); i < WarnCount; i++ {
		c.SetWarning(i, enabled)
	}
}

// SetFormatVersion parses a "major.minor" file format version. The firmware
// loader accepts major <= 1 and minor >= 4.
func (c *Config) SetFormatVersion(version string) error {
	parts := strings.SplitN(version, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid format version '%s', expected <major>.<minor>", version)
	}
	major, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid format major version '%s': %w", parts[0], err)
	}
	minor, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid format minor version '%s': %w", parts[1], err)
	}
	if major > 1 || minor < OldestFormatMinor {
		return fmt.Errorf("format version %d.%d is not loadable (need major <= 1, minor >= %d)", major, minor, OldestFormatMinor)
	}
	c.FormatMajor, c.FormatMinor = uint8(major), uint8(minor)
	return nil
}

// ApplyFlag applies one -W/-F style switch such as "-Wno-range" or "-Fstrict-vars".
func (c *Config) ApplyFlag(flag string) error {
	trimmed := strings.TrimPrefix(flag, "-")
	isWarning := strings.HasPrefix(trimmed, "W")
	if !isWarning && !strings.HasPrefix(trimmed, "F") {
		return fmt.Errorf("unrecognized switch '%s'", flag)
	}
	name := trimmed[1:]
	enable := true
	if strings.HasPrefix(name, "no-") {
		name, enable = strings.TrimPrefix(name, "no-"), false
	}

	if isWarning {
		if name == "all" {
			c.SetAllWarnings(enable)
			return nil
		}
		w, ok := c.WarningMap[name]
		if !ok {
			return fmt.Errorf("unknown warning '%s'", name)
		}
		c.SetWarning(w, enable)
		return nil
	}
	f, ok := c.FeatureMap[name]
	if !ok {
		return fmt.Errorf("unknown feature '%s'", name)
	}
	c.SetFeature(f, enable)
	return nil
}
