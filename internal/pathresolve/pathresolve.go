// Package pathresolve implements SONAME-to-path resolution with the exact
// precedence order, dynamic-string-token substitution, and sysroot
// awareness a real dynamic loader uses. Grounded on
// original_source/src/ld-libs.c's find_lib_in_path/find_lib_by_soname and
// string_to_path.
package pathresolve

import (
	"debug/elf"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sjnewbury/ldsim/internal/config"
	"github.com/sjnewbury/ldsim/internal/machine"
	"github.com/sjnewbury/ldsim/internal/vfs"
)

// Referrer is the subset of an in-progress Object the resolver needs about
// the object requesting a dependency.
type Referrer struct {
	Path    string   // the referrer's own canonical path, for diagnostics
	RPath   []string // DT_RPATH entries, already token-raw (unsubstituted)
	RunPath []string // DT_RUNPATH entries, already token-raw
	// LoaderChain holds, outermost first, DT_RPATH entries inherited from
	// the referrer's loaders, token-raw like RPath; Resolve substitutes
	// them. internal/graph fills it with the direct requester's DT_RPATH
	// only.
	LoaderChain []string
}

// Result is the outcome of resolving one SONAME.
type Result struct {
	Path  string // canonical, sysroot-relative path; empty if NotFound
	Via   string // which precedence rule matched, for diagnostics
	Found bool
}

// Resolver resolves SONAMEs against a run's Context.
type Resolver struct {
	Cfg        *config.Context
	FS         *vfs.FS
	RootDir    string // dirname of the root object; $ORIGIN always expands to this
	Machine    machine.Machine
	Class      elf.Class
	Interp     string // PT_INTERP path found on the root executable, "" if none
	ConfDirs   []string // parsed /etc/ld.so.conf directories
}

// substituteTokens applies $ORIGIN/$PLATFORM/$LIB substitution repeatedly
// until no tokens remain.
func substituteTokens(s, origin string, libdir machine.LibDir) string {
	replacements := map[string]string{
		"$ORIGIN":    origin,
		"${ORIGIN}":  origin,
		"$PLATFORM":  "",
		"${PLATFORM}": "",
		"$LIB":       libdir.String(),
		"${LIB}":     libdir.String(),
	}
	for {
		changed := false
		for tok, val := range replacements {
			if strings.Contains(s, tok) {
				s = strings.ReplaceAll(s, tok, val)
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return s
}

// Resolve implements the dynamic linker's path-resolution precedence chain. soname is the raw
// DT_NEEDED string as written in the referrer's dynamic section.
func (r *Resolver) Resolve(soname string, ref Referrer) Result {
	libdir := machine.DefaultLibDir(r.Machine, r.Class)
	// $ORIGIN always expands to dirname(root), set once from the top-level
	// file, not the referencing object's own directory: a dependency's
	// RPATH/RUNPATH is substituted against the same global value the real
	// loader computes once at process start.
	origin := r.RootDir

	// 1. Literal path.
	if strings.Contains(soname, "/") {
		if p, ok := r.accept(soname); ok {
			return Result{Path: p, Via: "literal", Found: true}
		}
		return Result{Via: "literal"}
	}

	// 2. Dynamic-linker SONAME via PT_INTERP.
	if machine.IsDynamicLinkerSONAME(soname) && r.Interp != "" {
		if p, ok := r.accept(r.Interp); ok {
			return Result{Path: p, Via: "interp", Found: true}
		}
	}

	// 3. DT_RPATH, only if referrer has no DT_RUNPATH; walk the loader
	// chain outward-in (ancestors first, per spec's "upward through its
	// loaders").
	if len(ref.RunPath) == 0 {
		var dirs []string
		for _, d := range ref.LoaderChain {
			dirs = append(dirs, substituteTokens(d, origin, libdir))
		}
		for _, d := range ref.RPath {
			dirs = append(dirs, substituteTokens(d, origin, libdir))
		}
		if p, ok := r.searchDirs(dirs, soname); ok {
			return Result{Path: p, Via: "rpath", Found: true}
		}
	}

	// 4. LD_LIBRARY_PATH / --library-path.
	if p, ok := r.searchDirs(r.Cfg.LibraryPaths, soname); ok {
		return Result{Path: p, Via: "library-path", Found: true}
	}

	// 5. DT_RUNPATH of the referencing object only.
	if len(ref.RunPath) > 0 {
		var dirs []string
		for _, d := range ref.RunPath {
			dirs = append(dirs, substituteTokens(d, origin, libdir))
		}
		if p, ok := r.searchDirs(dirs, soname); ok {
			return Result{Path: p, Via: "runpath", Found: true}
		}
	}

	// 6. ld.so.conf directories plus fixed per-class defaults.
	dirs := append([]string{}, r.ConfDirs...)
	dirs = append(dirs, machine.DefaultSearchDirs(libdir)...)
	if p, ok := r.searchDirs(dirs, soname); ok {
		return Result{Path: p, Via: "default", Found: true}
	}

	return Result{}
}

func (r *Resolver) searchDirs(dirs []string, soname string) (string, bool) {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		candidate := filepath.Join(d, soname)
		if p, ok := r.accept(candidate); ok {
			return p, true
		}
	}
	return "", false
}

// accept applies the acceptance test: the file must exist,
// parse as ELF, and match class and machine (SPARC variants equivalent).
func (r *Resolver) accept(path string) (string, bool) {
	if !r.FS.Exists(path) {
		return "", false
	}
	host, err := r.FS.HostPath(path)
	if err != nil {
		return "", false
	}
	f, err := elf.Open(host)
	if err != nil {
		return "", false
	}
	defer f.Close()

	if f.Class != r.Class {
		return "", false
	}
	m := machine.FromELF(f.Machine, f.Class)
	if !machine.Equivalent(m, r.Machine) {
		return "", false
	}
	return path, true
}

// LoadLDSOConf parses /etc/ld.so.conf: newline-separated
// directories, '#' comments, trailing whitespace stripped, blank lines
// ignored. Returns nil, nil if the file does not exist.
func LoadLDSOConf(fs *vfs.FS, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	var dirs []string
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, rerr := f.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	for _, line := range strings.Split(string(buf), "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimRight(line, " \t\r")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dirs = append(dirs, line)
	}
	return dirs, nil
}

// DirnameOrDot returns filepath.Dir(p), defaulting to "." for an empty p,
// matching the resolver's $ORIGIN fallback behavior.
func DirnameOrDot(p string) string {
	if p == "" {
		return "."
	}
	return filepath.Dir(p)
}

// TokenError wraps a substitution failure for a malformed RPATH entry.
func TokenError(raw string) error {
	return fmt.Errorf("pathresolve: unresolved dynamic string token in %q", raw)
}
