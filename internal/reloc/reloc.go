// Package reloc walks each loaded object's relocation tables in reverse
// load order, running a global-scope and a local-scope symbol lookup for
// each external reference and emitting a conflict record when they
// disagree. Grounded on original_source/src/ld-libs.c's
// do_rel_section/do_relocs/handle_relocs.
package reloc

import (
	"debug/elf"
	"fmt"

	"github.com/google/uuid"

	"github.com/sjnewbury/ldsim/internal/lookup"
	"github.com/sjnewbury/ldsim/internal/machine"
	"github.com/sjnewbury/ldsim/internal/model"
	"github.com/sjnewbury/ldsim/internal/trace"
)

// LookupLine is one emitted "lookup"/"conflict" trace line (the
// output format), independent of the final text rendering done by
// package emit.
type LookupLine struct {
	RefAddr    uint64
	RefValue   uint64
	DefMapAddr uint64
	DefValue   uint64
	Class      machine.RelocClass
	Name       string

	Conflict    bool
	AltMapAddr  uint64
	AltValue    uint64
}

// Walker runs the relocation walk for a fully populated LoadedObjects.
type Walker struct {
	Objs   *model.LoadedObjects
	Engine *lookup.Engine

	// TracePrelinkFilter restricts emitted lines to the object whose
	// filename matches this value; empty means no filter (conflicts and
	// TLS lines are always emitted regardless).
	TracePrelinkFilter string

	// RunID tags every trace.Event produced by this walk. A zero UUID is
	// fine; Sink is only called when non-nil.
	RunID uuid.UUID
	// Sink, if set, receives one enriched trace.Event per emitted
	// LookupLine, in walk order; a conflicting line's event carries the
	// conflict tag.
	Sink func(trace.Event)
}

// cacheKey is the (symbol index, reloc class) short-circuit kept per
// object rather than process-wide: a cache surviving across unrelated
// object walks would let a stale lookup from one object leak into the
// next.
type cacheKey struct {
	symIdx int
	class  machine.RelocClass
}

// Walk processes every loaded object in reverse load order (the dynamic
// linker, if present, is always walked last regardless of its position in
// the list) and returns the ordered lookup/conflict lines plus any
// conflict records produced.
func (w *Walker) Walk() ([]LookupLine, []model.ConflictRecord) {
	order := w.reverseOrderWithLinkerLast()

	var lines []LookupLine
	var conflicts []model.ConflictRecord

	for _, idx := range order {
		obj := w.Objs.Get(idx)
		if obj.Placeholder {
			continue
		}
		cache := make(map[cacheKey]*lookup.Result)

		entries := obj.RelTables
		if obj.MIPSSymTabNo > 0 {
			entries = append(append([]model.RelEntry{}, entries...), synthesizeMIPSGOT(obj)...)
		}

		for _, rel := range entries {
			if rel.SymIdx == 0 {
				continue
			}
			if int(rel.SymIdx) >= len(obj.Syms) {
				continue
			}
			sym := obj.Syms[rel.SymIdx]
			if sym.Bind == elf.STB_LOCAL {
				continue
			}

			class := machine.RelocClassOf(obj.Machine, rel.Type)
			isTLS := sym.Info == elf.STT_TLS
			if isTLS {
				class = machine.RelocClass(4) // TLS forced to class 4 for output
			}

			key := cacheKey{symIdx: int(rel.SymIdx), class: class}
			var globalResult *lookup.Result
			if cached, ok := cache[key]; ok {
				globalResult = cached
			} else {
				r := w.Engine.Lookup(sym.Name, idx, int(rel.SymIdx),
					[][]model.ObjIndex{w.Objs.Root().LocalScope},
					lookup.VersionRequirement{}, class, lookup.Flags{}, 0, false)
				globalResult = &r
				cache[key] = globalResult
			}

			line := LookupLine{
				RefAddr:    rel.Offset,
				RefValue:   sym.Value,
				Class:      class,
				Name:       sym.Name,
			}
			if globalResult.Found {
				line.DefMapAddr = w.Objs.Get(globalResult.Object).MapStart
				line.DefValue = globalResult.Sym.Value
			}

			localDiffers := !sameScope(obj.LocalScope, w.Objs.Root().LocalScope)
			if localDiffers {
				localResult := w.Engine.Lookup(sym.Name, idx, int(rel.SymIdx),
					[][]model.ObjIndex{obj.LocalScope},
					lookup.VersionRequirement{}, class, lookup.Flags{}, 0, false)

				if disagree(globalResult, &localResult) && globalResult.Found && localResult.Found {
					line.Conflict = true
					line.AltMapAddr = w.Objs.Get(localResult.Object).MapStart
					line.AltValue = localResult.Sym.Value
					conflicts = append(conflicts, model.ConflictRecord{
						RefObject:     idx,
						RefSymIdx:     int(rel.SymIdx),
						Name:          sym.Name,
						PrimaryObject: globalResult.Object,
						PrimaryValue:  globalResult.Sym.Value,
						HasAlt:        true,
						AltObject:     localResult.Object,
						AltValue:      localResult.Sym.Value,
					})
				}
			}

			if w.shouldEmit(obj, line) {
				lines = append(lines, line)
				w.emitTrace(line)
			}
		}
	}

	return lines, conflicts
}

// emitTrace turns an emitted LookupLine into a trace.Event and hands it to
// Sink, tagged and enriched the same way the rest of the package annotates
// a lookup (the conflict bit becomes the #conflict tag).
func (w *Walker) emitTrace(line LookupLine) {
	if w.Sink == nil {
		return
	}
	detail := fmt.Sprintf("class=%d", line.Class)
	e := trace.NewEvent(w.RunID, "reloc", line.Name, detail)
	if line.Conflict {
		e.Annotate("class", "COPY")
		e.AddTag(trace.Conflict)
	}
	trace.DefaultEnricher(e)
	w.Sink(*e)
}

func sameScope(a, b []model.ObjIndex) bool {
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

func disagree(a, b *lookup.Result) bool {
	if a.Found != b.Found {
		return true
	}
	if !a.Found {
		return false
	}
	return a.Object != b.Object || a.Sym != b.Sym
}

// shouldEmit implements the trace-prelink output gate: emit when the
// trace-prelink filter is unset, matches this object, or the class is
// TLS/PROTECTED_DATA (class >= 4).
func (w *Walker) shouldEmit(obj *model.Object, line LookupLine) bool {
	if w.TracePrelinkFilter == "" {
		return true
	}
	if obj.SONAME == w.TracePrelinkFilter || obj.Path == w.TracePrelinkFilter {
		return true
	}
	return line.Class >= 4
}

// reverseOrderWithLinkerLast produces the walk order: every object in
// reverse load-list order, except the dynamic linker object (if any),
// which is always moved to the very end regardless of its list position.
func (w *Walker) reverseOrderWithLinkerLast() []model.ObjIndex {
	var linker model.ObjIndex
	hasLinker := false
	var rest []model.ObjIndex

	for i := len(w.Objs.Objects) - 1; i >= 0; i-- {
		obj := w.Objs.Objects[i]
		if obj.IsDynamicLinker() && !hasLinker {
			linker = model.ObjIndex(i)
			hasLinker = true
			continue
		}
		rest = append(rest, model.ObjIndex(i))
	}
	if hasLinker {
		rest = append(rest, linker)
	}
	return rest
}

// synthesizeMIPSGOT builds the virtual R_MIPS_REL32 relocations over the
// global GOT entries [DT_MIPS_GOTSYM, DT_MIPS_SYMTABNO) that MIPS never
// writes as ordinary reloc-table entries (grounded on
// original_source/src/arch-mips.c).
func synthesizeMIPSGOT(obj *model.Object) []model.RelEntry {
	const rMIPSRel32 = 3
	var out []model.RelEntry
	for i := obj.MIPSGotSym; i < obj.MIPSSymTabNo; i++ {
		out = append(out, model.RelEntry{SymIdx: i, Type: rMIPSRel32})
	}
	return out
}
