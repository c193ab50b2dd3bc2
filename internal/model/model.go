// Package model defines the simulator's data model: objects, the
// loaded-object list, link maps, version tables, the unique-symbol table
// and conflict records. Objects are addressed by dense
// integer index into a LoadedObjects arena rather than by pointer, so that
// the loader/needed/local_scope back-references the reference algorithms
// rely on become plain index slices instead of cyclic pointer graphs.
package model

import (
	"debug/elf"

	"github.com/sjnewbury/ldsim/internal/machine"
)

// ObjIndex is a dense index into a LoadedObjects arena. Index 0 is always
// the root object.
type ObjIndex int

// ObjKind distinguishes executables, ordinary libraries, and objects
// inserted only as a runtime-loaded placeholder.
type ObjKind int

const (
	KindExecutable ObjKind = iota
	KindLibrary
	KindRuntimeLoaded
)

// VersionEntry is one slot of an object's version table.
type VersionEntry struct {
	Name     string
	Hash     uint32
	Filename string // nonempty only for required (Verneed) entries
	Hidden   bool
	Weak     bool // VER_FLG_WEAK on the Vernaux entry (requirement only, not fatal if unmet)
}

// TLSParams holds the PT_TLS-derived static parameters of an object, before
// modid/offset assignment.
type TLSParams struct {
	Present           bool
	Blocksize         uint64
	Align             uint64
	FirstbyteOffset   uint64 // p_vaddr & (p_align - 1)
	ModID             uint64 // assigned by the TLS layout engine, dense 1..k
	Offset            int64  // assigned by the TLS layout engine
}

// HashTable holds a SysV (.hash) symbol hash table.
type HashTable struct {
	Present  bool
	NBuckets uint32
	Buckets  []uint32
	Chain    []uint32
}

// GNUHashTable holds a GNU-hash (.gnu.hash) symbol hash table.
type GNUHashTable struct {
	Present       bool
	NBuckets      uint32
	SymBias       uint32 // index of the first symbol covered by the hash
	BloomShift    uint32
	BloomMaskWords uint64 // number of uint words in Bloom, power of two
	Bloom         []uint64
	Buckets       []uint32
	ChainZero     []uint32 // chain values for symbols >= SymBias
}

// Sym is the subset of an ELF symbol-table entry the lookup/reloc engines
// need, already normalized across ELF32/ELF64.
type Sym struct {
	Name    string
	Value   uint64
	Size    uint64
	Info    elf.SymType
	Bind    elf.SymBind
	Other   elf.SymVis // full st_other byte, not just the visibility bits (e.g. STO_MIPS_PLT lives at 0x8)
	Shndx   elf.SectionIndex
	VerNdx  int16 // raw Versym entry for this symbol, or -1 if no Versym
}

// RelEntry is one normalized relocation table entry.
type RelEntry struct {
	Offset  uint64
	SymIdx  uint32
	Type    uint32
	Addend  int64
	HasAddend bool
}

// Object is a loaded shared object or executable.
type Object struct {
	Index ObjIndex

	Path       string // canonical filesystem path; empty for placeholders
	SONAME     string // declared SONAME, or the NEEDED/positional name if absent
	NeededName string // the name this object was requested as, from the referrer's DT_NEEDED
	Kind       ObjKind

	Class     elf.Class
	Data      elf.Data
	Machine   machine.Machine
	ELF       *elf.File // kept open through graph-build and link-map population; closed after trace emission
	Placeholder bool // true if path resolution failed; no ELF data available
	ErrNo     error

	RPath       []string
	RunPath     []string
	Interp      string   // PT_INTERP content, root object only
	NeededNames []string // raw DT_NEEDED strings this object declares, in order

	Syms    []Sym
	Hash    HashTable
	GNUHash GNUHashTable

	Versym   []int16 // per-symbol version index, parallel to Syms; nil if no DT_VERSYM
	Versions []VersionEntry

	TLS TLSParams

	// Needed holds, in DT_NEEDED declaration order, the indices this
	// object depends on (resolved objects only; placeholders still get
	// an index so the edge is preserved for output purposes).
	Needed []ObjIndex

	// LocalScope is the transitive closure used for lookups *from* this
	// object: for the root, every loaded object in load order; for all
	// others, the object itself followed by its transitive needed
	// closure, load-order stable.
	LocalScope []ObjIndex

	// MapStart is the simulated load address (l_map_start).
	MapStart uint64

	// RelTables holds this object's relocation tables, already merged
	// from DT_REL, DT_RELA, and DT_JMPREL, in file order (REL/RELA
	// first, JMPREL last). MIPS synthetic global-GOT entries are not
	// stored here; internal/reloc synthesizes them at walk time.
	RelTables []RelEntry

	// MIPSGotSym / MIPSLocalGotNo / MIPSSymTabNo cache the MIPS-specific
	// dynamic tags needed to synthesize global-GOT relocations.
	MIPSGotSym     uint32
	MIPSLocalGotNo uint32
	MIPSSymTabNo   uint32
}

// IsDynamicLinker reports whether this object is (or stands in for) the
// process's PT_INTERP interpreter.
func (o *Object) IsDynamicLinker() bool {
	return o.Kind == KindRuntimeLoaded && machine.IsDynamicLinkerSONAME(o.SONAME)
}

// LoadedObjects is the ordered loaded-object list: index 0 is
// always the root.
type LoadedObjects struct {
	Objects []*Object
	// ByCanonicalPath and BySONAME back-index already-placed objects for
	// the graph builder's de-duplication rule.
	ByCanonicalPath map[string]ObjIndex
	BySONAME        map[string]ObjIndex
}

func NewLoadedObjects() *LoadedObjects {
	return &LoadedObjects{
		ByCanonicalPath: make(map[string]ObjIndex),
		BySONAME:        make(map[string]ObjIndex),
	}
}

func (l *LoadedObjects) Add(o *Object) ObjIndex {
	idx := ObjIndex(len(l.Objects))
	o.Index = idx
	l.Objects = append(l.Objects, o)
	if o.Path != "" {
		l.ByCanonicalPath[o.Path] = idx
	}
	if o.SONAME != "" {
		l.BySONAME[o.SONAME] = idx
	}
	return idx
}

func (l *LoadedObjects) Get(i ObjIndex) *Object { return l.Objects[i] }

func (l *LoadedObjects) Root() *Object { return l.Objects[0] }

// Lookup finds an already-placed object matching by canonical path, by
// SONAME, or by the name it was requested under: the three keys an
// already-loaded dependency can be recognized by.
func (l *LoadedObjects) Lookup(canonicalPath, soname, neededName string) (ObjIndex, bool) {
	if canonicalPath != "" {
		if idx, ok := l.ByCanonicalPath[canonicalPath]; ok {
			return idx, true
		}
	}
	if soname != "" {
		if idx, ok := l.BySONAME[soname]; ok {
			return idx, true
		}
	}
	if neededName != "" {
		for _, o := range l.Objects {
			if o.NeededName == neededName || o.SONAME == neededName {
				return o.Index, true
			}
		}
	}
	return 0, false
}

// UniqueSymEntry is one slot of the process-wide STB_GNU_UNIQUE table.
type UniqueSymEntry struct {
	HashVal uint32
	Name    string
	Sym     *Sym
	MapIdx  ObjIndex
}

// UniqueSymbolTable is the process-wide open-addressing hash table for
// STB_GNU_UNIQUE symbols, resized by the prime sequence
// 7,13,31,... when load factor exceeds 3/4.
type UniqueSymbolTable struct {
	slots []*UniqueSymEntry
	count int
}

var primeSizes = []int{7, 13, 31, 61, 127, 251, 509, 1021, 2039, 4093, 8191,
	16381, 32749, 65521, 131071, 262139, 524287, 1048573, 2097143,
	4194301, 8388593, 16777213, 33554393, 67108859, 134217689,
	268435399, 536870909, 1073741789, 2147483647, 4294967291}

func NewUniqueSymbolTable() *UniqueSymbolTable {
	return &UniqueSymbolTable{slots: make([]*UniqueSymEntry, primeSizes[0])}
}

func nextPrimeSize(after int) int {
	for _, p := range primeSizes {
		if p > after {
			return p
		}
	}
	return primeSizes[len(primeSizes)-1]
}

// LoadFactor returns count/capacity.
func (t *UniqueSymbolTable) LoadFactor() float64 {
	return float64(t.count) / float64(len(t.slots))
}

// Lookup returns the interned entry for name, if any.
func (t *UniqueSymbolTable) Lookup(hashVal uint32, name string) (*UniqueSymEntry, bool) {
	n := len(t.slots)
	i := int(hashVal) % n
	step := 1 + int(hashVal)%(n-1)
	for tries := 0; tries < n; tries++ {
		e := t.slots[i]
		if e == nil {
			return nil, false
		}
		if e.HashVal == hashVal && e.Name == name {
			return e, true
		}
		i = (i + step) % n
	}
	return nil, false
}

// Insert interns a new unique-symbol entry, resizing first if the load
// factor would exceed 3/4.
func (t *UniqueSymbolTable) Insert(e *UniqueSymEntry) {
	if float64(t.count+1)/float64(len(t.slots)) > 0.75 {
		t.resize()
	}
	n := len(t.slots)
	i := int(e.HashVal) % n
	step := 1 + int(e.HashVal)%(n-1)
	for {
		if t.slots[i] == nil {
			t.slots[i] = e
			t.count++
			return
		}
		i = (i + step) % n
	}
}

func (t *UniqueSymbolTable) resize() {
	old := t.slots
	t.slots = make([]*UniqueSymEntry, nextPrimeSize(len(old)))
	t.count = 0
	for _, e := range old {
		if e != nil {
			t.Insert(e)
		}
	}
}

// ConflictRecord is produced when the global and local-scope lookups for a
// reference disagree.
type ConflictRecord struct {
	RefObject ObjIndex
	RefSymIdx int
	Name      string

	PrimaryObject ObjIndex
	PrimaryValue  uint64

	HasAlt   bool
	AltObject ObjIndex
	AltValue  uint64
}

// Result groups per-run counters (missing dependencies, fatal error). No
// package in this module fills or reads it: cmd/ldsim takes the
// missing-dependency count from graph.Builder.Build and exits 127 when the
// total is nonzero.
type Result struct {
	MissingDependencies int
	Fatal               error
}
