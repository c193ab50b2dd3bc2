package vfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPassthroughWithNoSysroot(t *testing.T) {
	fs := New("")
	host, err := fs.HostPath("/etc/ld.so.conf")
	if err != nil {
		t.Fatalf("HostPath: %v", err)
	}
	if host != "/etc/ld.so.conf" {
		t.Errorf("HostPath with no sysroot = %q, want identity", host)
	}
	if got := fs.UnsysrootPath("/etc/ld.so.conf"); got != "/etc/ld.so.conf" {
		t.Errorf("UnsysrootPath with no sysroot = %q, want identity", got)
	}
}

func TestHostPathUnderSysroot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "lib", "libc.so.6"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := New(root)
	host, err := fs.HostPath("/lib/libc.so.6")
	if err != nil {
		t.Fatalf("HostPath: %v", err)
	}
	want := filepath.Clean(root) + "/lib/libc.so.6"
	if host != want {
		t.Errorf("HostPath = %q, want %q", host, want)
	}
}

func TestUnsysrootPathRoundTrip(t *testing.T) {
	root := t.TempDir()
	fs := New(root)
	host := filepath.Clean(root) + "/usr/lib/libfoo.so"
	if got := fs.UnsysrootPath(host); got != "/usr/lib/libfoo.so" {
		t.Errorf("UnsysrootPath(%q) = %q, want /usr/lib/libfoo.so", host, got)
	}
}

func TestCanonicalizeFollowsRelativeSymlink(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "lib", "libc-2.31.so"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("libc-2.31.so", filepath.Join(root, "lib", "libc.so.6")); err != nil {
		t.Fatal(err)
	}

	fs := New(root)
	host, err := fs.HostPath("/lib/libc.so.6")
	if err != nil {
		t.Fatalf("HostPath: %v", err)
	}
	want := filepath.Clean(root) + "/lib/libc-2.31.so"
	if host != want {
		t.Errorf("HostPath through symlink = %q, want %q", host, want)
	}
}

func TestCanonicalizeRefusesEscapeAboveSysroot(t *testing.T) {
	root := t.TempDir()
	fs := New(root)
	host, err := fs.HostPath("/../../etc/passwd")
	if err != nil {
		t.Fatalf("HostPath: %v", err)
	}
	if filepath.Clean(host) == "/etc/passwd" {
		t.Errorf("HostPath must not escape the sysroot, got %q", host)
	}
}

func TestExistsAndAccess(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "present"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs := New(root)
	if !fs.Exists("/present") {
		t.Error("Exists should report true for a file that exists under the sysroot")
	}
	if fs.Exists("/absent") {
		t.Error("Exists should report false for a file that does not exist")
	}
}
