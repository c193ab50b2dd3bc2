// Package emit formats ldd-style and RTLD_TRACE_PRELINKING-style textual
// output, including the relocation walker's lookup/conflict
// lines. Grounded on original_source/src/ld-libs.c's
// process_one_dso, whose printf format strings this package reproduces.
package emit

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/sjnewbury/ldsim/internal/machine"
	"github.com/sjnewbury/ldsim/internal/model"
	"github.com/sjnewbury/ldsim/internal/reloc"
	"github.com/sjnewbury/ldsim/internal/vfs"
)

// Mode selects the output format.
type Mode int

const (
	ModeLDD Mode = iota
	ModeTracePrelinking
)

// Emitter renders one file's result to w.
type Emitter struct {
	W           io.Writer
	Mode        Mode
	FS          *vfs.FS
	TargetPaths bool // --target-paths: print sysroot-relative paths verbatim
}

func (e *Emitter) displayPath(p string) string {
	if e.TargetPaths || e.FS == nil || e.FS.Sysroot == "" || p == "" || p[0] != '/' {
		return p
	}
	return e.FS.Sysroot + p
}

func hexWidth(class elf.Class) int {
	if class == elf.ELFCLASS64 {
		return 16
	}
	return 8
}

// EmitLDD writes ldd-style output for objs.
func (e *Emitter) EmitLDD(objs *model.LoadedObjects) {
	root := objs.Root()
	width := hexWidth(root.Class)

	if len(root.NeededNames) == 0 {
		if root.Interp == "" {
			fmt.Fprint(e.W, "\tnot a dynamic executable\n")
		} else {
			fmt.Fprint(e.W, "\tstatically linked\n")
		}
		return
	}

	for i, obj := range objs.Objects {
		if i == 0 {
			continue
		}
		if obj.IsDynamicLinker() {
			if obj.Placeholder {
				continue
			}
			fmt.Fprintf(e.W, "\t%s (0x%0*x)\n", e.displayPath(obj.Path), width, obj.MapStart)
			continue
		}
		if obj.Placeholder {
			fmt.Fprintf(e.W, "\t%s => not found\n", obj.SONAME)
			continue
		}
		fmt.Fprintf(e.W, "\t%s => %s (0x%0*x)\n", obj.SONAME, e.displayPath(obj.Path), width, obj.MapStart)
	}
}

// EmitTracePrelinking writes trace-prelink-style output:
// includes the root, widens to (addr, offset) pairs with an optional
// TLS suffix, then the relocation walker's lookup/conflict lines.
func (e *Emitter) EmitTracePrelinking(objs *model.LoadedObjects, lines []reloc.LookupLine) {
	root := objs.Root()
	width := hexWidth(root.Class)

	for _, obj := range objs.Objects {
		if obj.Placeholder {
			fmt.Fprintf(e.W, "\t%s => not found\n", obj.SONAME)
			continue
		}
		name := obj.SONAME
		if obj.Kind == model.KindExecutable || obj.IsDynamicLinker() {
			name = e.displayPath(obj.Path)
			fmt.Fprintf(e.W, "\t%s (0x%0*x, 0x%0*x)%s\n", name, width, obj.MapStart, width, uint64(0), tlsSuffix(obj, width))
			continue
		}
		fmt.Fprintf(e.W, "\t%s => %s (0x%0*x, 0x%0*x)%s\n",
			name, e.displayPath(obj.Path), width, obj.MapStart, width, uint64(0), tlsSuffix(obj, width))
	}

	for _, l := range lines {
		e.emitLookupLine(l, width)
	}
}

func tlsSuffix(obj *model.Object, width int) string {
	if !obj.TLS.Present || obj.TLS.Blocksize == 0 {
		return ""
	}
	return fmt.Sprintf(" TLS(0x%x, 0x%0*x)", obj.TLS.ModID, width, uint64(obj.TLS.Offset))
}

// emitLookupLine renders one relocation-walk result exactly per spec
// §4.9's format:
//
//	lookup 0xUUUUUUUU 0xSSSSSSSS -> 0xMMMMMMMM 0xVVVVVVVV /C NAME
//
// with "conflict" substituted for "lookup" and "x 0xM2 0xV2 " inserted
// before the final "/C NAME" when a conflict was detected.
func (e *Emitter) emitLookupLine(l reloc.LookupLine, width int) {
	verb := "lookup"
	if l.Conflict {
		verb = "conflict"
	}
	fmt.Fprintf(e.W, "%s 0x%0*x 0x%0*x -> 0x%0*x 0x%0*x ",
		verb, width, l.RefAddr, width, l.RefValue, width, l.DefMapAddr, width, l.DefValue)
	if l.Conflict {
		fmt.Fprintf(e.W, "x 0x%0*x 0x%0*x ", width, l.AltMapAddr, width, l.AltValue)
	}
	fmt.Fprintf(e.W, "/%d %s\n", classDigit(l.Class), l.Name)
}

func classDigit(c machine.RelocClass) int { return int(c) }
