// Package config threads the simulator's run-wide configuration through
// the call graph as an explicit object, replacing the reference loader's
// global error sinks and debug-mask globals. One Context is built per
// process invocation from CLI flags, environment variables, and
// (optionally) a YAML defaults file, then passed by value/pointer to
// every component.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DebugChannel names one RTLD_DEBUG diagnostic channel.
type DebugChannel string

const (
	DebugFiles    DebugChannel = "files"
	DebugSymbols  DebugChannel = "symbols"
	DebugVersions DebugChannel = "versions"
	DebugBindings DebugChannel = "bindings"
	DebugScopes   DebugChannel = "scopes"
)

// DebugMask is a set of DebugChannel values.
type DebugMask map[DebugChannel]bool

func (m DebugMask) Has(c DebugChannel) bool { return m != nil && m[c] }

func parseDebugMask(s string) DebugMask {
	mask := make(DebugMask)
	if s == "" {
		return mask
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "all" {
			mask[DebugFiles] = true
			mask[DebugSymbols] = true
			mask[DebugVersions] = true
			mask[DebugBindings] = true
			mask[DebugScopes] = true
			continue
		}
		if part != "" {
			mask[DebugChannel(part)] = true
		}
	}
	return mask
}

// Context is the explicit configuration object threaded through every
// component.
type Context struct {
	Sysroot          string
	LibraryPaths     []string
	TargetPaths      bool
	LDPreload        []string
	DebugMask        DebugMask
	DynamicWeak      bool
	LDWarn           bool
	TracePrelinking  string // object-name filter; empty string with TraceEnabled false means ldd mode
	TraceEnabled     bool
	Verbose          bool
	Quiet            bool
}

// fileDefaults mirrors the subset of Context a YAML defaults file may
// populate; explicit flags and environment variables always win.
type fileDefaults struct {
	LibraryPaths []string `yaml:"library_paths"`
	LDPreload    []string `yaml:"ld_preload"`
	DynamicWeak  bool     `yaml:"dynamic_weak"`
}

// LoadDefaultsFile reads an optional YAML defaults file. A path that cannot
// be read is an error; callers only invoke this when --config was given.
func LoadDefaultsFile(path string) (*fileDefaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading defaults file %s: %w", path, err)
	}
	var fd fileDefaults
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("config: parsing defaults file %s: %w", path, err)
	}
	return &fd, nil
}

// splitPathList splits a colon- or semicolon-separated path list, the way
// the reference tool's string_to_path does, stripping empty entries and
// trailing slashes.
func splitPathList(s string) []string {
	if s == "" {
		return nil
	}
	sep := ":"
	if strings.Contains(s, ";") {
		sep = ";"
	}
	var out []string
	for _, p := range strings.Split(s, sep) {
		p = strings.TrimRight(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FromEnv builds the environment-variable-derived portion of a Context
//. CLI flags layered on top of this should overwrite, not merge,
// fields the user explicitly set (Sysroot, TargetPaths); list fields like
// LibraryPaths are appended to.
func FromEnv() Context {
	var c Context
	c.Sysroot = os.Getenv("PRELINK_SYSROOT")
	if tp, ok := os.LookupEnv("RTLD_TRACE_PRELINKING"); ok {
		c.TraceEnabled = true
		c.TracePrelinking = tp
	}
	c.LDWarn = os.Getenv("RTLD_WARN") != ""
	c.DebugMask = parseDebugMask(os.Getenv("RTLD_DEBUG"))
	if dw, err := strconv.ParseBool(os.Getenv("LD_DYNAMIC_WEAK")); err == nil {
		c.DynamicWeak = dw
	}
	return c
}

// ApplyFileDefaults merges in fields from a YAML defaults file; it never
// overwrites values already set on c from flags/env (additive merge).
func (c *Context) ApplyFileDefaults(fd *fileDefaults) {
	if fd == nil {
		return
	}
	c.LibraryPaths = append(c.LibraryPaths, fd.LibraryPaths...)
	c.LDPreload = append(c.LDPreload, fd.LDPreload...)
	if !c.DynamicWeak {
		c.DynamicWeak = fd.DynamicWeak
	}
}

// SplitLibraryPath parses the --library-path flag value.
func SplitLibraryPath(s string) []string { return splitPathList(s) }

// SplitLDPreload parses the --ld-preload flag value.
func SplitLDPreload(s string) []string { return splitPathList(s) }
