package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDebugMask(t *testing.T) {
	mask := parseDebugMask("files,bindings")
	if !mask.Has(DebugFiles) || !mask.Has(DebugBindings) {
		t.Errorf("mask %v should contain files and bindings", mask)
	}
	if mask.Has(DebugVersions) {
		t.Error("mask should not contain versions")
	}

	all := parseDebugMask("all")
	for _, c := range []DebugChannel{DebugFiles, DebugSymbols, DebugVersions, DebugBindings, DebugScopes} {
		if !all.Has(c) {
			t.Errorf("\"all\" mask missing channel %s", c)
		}
	}

	empty := parseDebugMask("")
	if empty.Has(DebugFiles) {
		t.Error("empty string should produce an empty mask")
	}
}

func TestSplitPathList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/lib:/usr/lib", []string{"/lib", "/usr/lib"}},
		{"/lib/;/usr/lib/", []string{"/lib", "/usr/lib"}},
		{"/lib::/usr/lib", []string{"/lib", "/usr/lib"}},
	}
	for _, c := range cases {
		got := splitPathList(c.in)
		if !stringSliceEqual(got, c.want) {
			t.Errorf("splitPathList(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PRELINK_SYSROOT", "/sysroot")
	t.Setenv("RTLD_TRACE_PRELINKING", "libfoo.so")
	t.Setenv("RTLD_WARN", "1")
	t.Setenv("RTLD_DEBUG", "files,scopes")
	t.Setenv("LD_DYNAMIC_WEAK", "true")

	c := FromEnv()
	if c.Sysroot != "/sysroot" {
		t.Errorf("Sysroot = %q, want /sysroot", c.Sysroot)
	}
	if !c.TraceEnabled || c.TracePrelinking != "libfoo.so" {
		t.Errorf("trace fields = (%v, %q), want (true, libfoo.so)", c.TraceEnabled, c.TracePrelinking)
	}
	if !c.LDWarn {
		t.Error("LDWarn should be true when RTLD_WARN is set to any nonempty value")
	}
	if !c.DebugMask.Has(DebugFiles) || !c.DebugMask.Has(DebugScopes) {
		t.Errorf("DebugMask = %v, want files and scopes set", c.DebugMask)
	}
	if !c.DynamicWeak {
		t.Error("DynamicWeak should be true")
	}
}

func TestFromEnvTraceDisabledWhenUnset(t *testing.T) {
	c := FromEnv()
	if c.TraceEnabled {
		t.Error("TraceEnabled must be false when RTLD_TRACE_PRELINKING is unset")
	}
}

func TestLoadDefaultsFileAndApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.yaml")
	content := "library_paths:\n  - /opt/lib\nld_preload:\n  - libpreload.so\ndynamic_weak: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fd, err := LoadDefaultsFile(path)
	if err != nil {
		t.Fatalf("LoadDefaultsFile: %v", err)
	}

	var c Context
	c.ApplyFileDefaults(fd)
	if len(c.LibraryPaths) != 1 || c.LibraryPaths[0] != "/opt/lib" {
		t.Errorf("LibraryPaths = %v, want [/opt/lib]", c.LibraryPaths)
	}
	if len(c.LDPreload) != 1 || c.LDPreload[0] != "libpreload.so" {
		t.Errorf("LDPreload = %v, want [libpreload.so]", c.LDPreload)
	}
	if !c.DynamicWeak {
		t.Error("DynamicWeak should be true from file defaults")
	}
}

func TestApplyFileDefaultsNeverOverwritesExplicitDynamicWeak(t *testing.T) {
	c := Context{DynamicWeak: true}
	c.ApplyFileDefaults(&fileDefaults{DynamicWeak: false})
	if !c.DynamicWeak {
		t.Error("an explicitly-set true DynamicWeak must not be clobbered by a false file default")
	}
}

func TestLoadDefaultsFileMissing(t *testing.T) {
	if _, err := LoadDefaultsFile("/nonexistent/defaults.yaml"); err == nil {
		t.Error("LoadDefaultsFile should error on a missing file")
	}
}
