// Package vfs interposes on filesystem calls under an optional sysroot
// prefix, canonicalizing paths as if a chroot were in effect, bounded by
// MAXSYMLINKS hops. When no sysroot is configured every call passes
// straight through to the real filesystem. Grounded on
// original_source/trunk/src/wrap-file.c (wrap_open/wrap_access/
// wrap_readlink/sysroot_file_name), reworked from open-addressed C
// wrappers that rewrite a path string into a small Go type with methods.
package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// MaxSymlinks bounds canonicalization hops.
const MaxSymlinks = 20

// FS is the sysroot-aware filesystem wrapper. The zero value is a pass-
// through FS with no sysroot.
type FS struct {
	Sysroot string // cleaned, absolute; empty means no sysroot
}

// New creates an FS rooted at sysroot ("" for passthrough).
func New(sysroot string) *FS {
	if sysroot == "" {
		return &FS{}
	}
	abs, err := filepath.Abs(sysroot)
	if err != nil {
		abs = sysroot
	}
	return &FS{Sysroot: filepath.Clean(abs)}
}

// HostPath canonicalizes a simulator-visible path to the real host path the
// wrapped calls should operate on. With no sysroot this is the identity.
func (fs *FS) HostPath(name string) (string, error) {
	if fs.Sysroot == "" {
		return name, nil
	}
	return fs.canonicalize(name)
}

// UnsysrootPath strips the sysroot prefix back off a host path, the
// inverse of HostPath's prefixing; a path outside the sysroot is returned
// unchanged.
func (fs *FS) UnsysrootPath(hostPath string) string {
	if fs.Sysroot == "" {
		return hostPath
	}
	if strings.HasPrefix(hostPath, fs.Sysroot) {
		rest := hostPath[len(fs.Sysroot):]
		if rest == "" {
			return "/"
		}
		if rest[0] == '/' {
			return rest
		}
	}
	return hostPath
}

// canonicalize walks name's path components under the sysroot, resolving
// symlinks encountered along the way as if Sysroot were the filesystem
// root, refusing to let ".." escape above it, and bounding total symlink
// hops at MaxSymlinks.
func (fs *FS) canonicalize(name string) (string, error) {
	if !filepath.IsAbs(name) {
		name = "/" + name
	}
	parts := strings.Split(filepath.Clean(name), "/")

	resolved := "" // accumulated path, relative to sysroot, always starting with "/"
	hops := 0

	var walk func(remaining []string) error
	walk = func(remaining []string) error {
		for len(remaining) > 0 {
			comp := remaining[0]
			remaining = remaining[1:]
			switch comp {
			case "", ".":
				continue
			case "..":
				if resolved != "" {
					resolved = resolved[:strings.LastIndex(resolved, "/")]
				}
				continue
			}

			candidate := resolved + "/" + comp
			full := fs.Sysroot + candidate

			info, err := os.Lstat(full)
			if err != nil {
				// Component doesn't exist (yet); accept it literally and
				// let the caller's open/stat fail with its own error.
				resolved = candidate
				continue
			}
			if info.Mode()&os.ModeSymlink == 0 {
				resolved = candidate
				continue
			}

			hops++
			if hops > MaxSymlinks {
				return fmt.Errorf("vfs: too many levels of symbolic links resolving %q", name)
			}
			target, err := os.Readlink(full)
			if err != nil {
				return err
			}
			if filepath.IsAbs(target) {
				resolved = ""
				if err := walk(strings.Split(filepath.Clean(target), "/")); err != nil {
					return err
				}
			} else {
				joined := filepath.Clean(resolved + "/" + target)
				if err := walk(strings.Split(joined, "/")); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(parts); err != nil {
		return "", err
	}
	if resolved == "" {
		resolved = "/"
	}
	return fs.Sysroot + resolved, nil
}

// Open opens name, sysroot-relative if a sysroot is configured.
func (fs *FS) Open(name string) (*os.File, error) {
	host, err := fs.HostPath(name)
	if err != nil {
		return nil, err
	}
	return os.Open(host)
}

// Stat stats name, sysroot-relative.
func (fs *FS) Stat(name string) (os.FileInfo, error) {
	host, err := fs.HostPath(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(host)
}

// Access implements POSIX access(2) semantics (F_OK/R_OK/W_OK/X_OK) via
// golang.org/x/sys/unix, sysroot-relative. os.Stat alone cannot
// distinguish "exists but unreadable" from "doesn't exist", which the
// path resolver's acceptance test needs precisely.
func (fs *FS) Access(name string, mode uint32) error {
	host, err := fs.HostPath(name)
	if err != nil {
		return err
	}
	return unix.Access(host, mode)
}

// Readlink reads the symlink at name, sysroot-relative.
func (fs *FS) Readlink(name string) (string, error) {
	host, err := fs.HostPath(name)
	if err != nil {
		return "", err
	}
	return os.Readlink(host)
}

// Exists reports whether name exists (F_OK), sysroot-relative.
func (fs *FS) Exists(name string) bool {
	return fs.Access(name, unix.F_OK) == nil
}
