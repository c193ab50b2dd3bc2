// Package linkmap populates the per-object link map consumed by the lookup
// and relocation-walker engines: symbol table, hash tables (GNU and/or
// SysV), Verneed/Verdef/Versym, TLS PT_TLS parameters, and the assignment
// of a simulated load address. Grounded on
// original_source/src/rtld/dl-object.c (link-map population) and
// original_source/src/ld-libs.c's create_ldlibs_link_map for the
// l_map_start sentinel/advance scheme.
package linkmap

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/sjnewbury/ldsim/internal/model"
)

// mapStartSentinel is the simulated load-address starting point, matching
// original_source/src/ld-libs.c's 0xdead0000 exactly.
const mapStartSentinel = 0xdead0000

// mapStartStep is the fixed per-object advance the original source uses
// (0x1000), rather than a page-aligned object size; simulated addresses
// don't need to reflect each object's real mapped size to be useful.
const mapStartStep = 0x1000

// Populate fills in the link-map fields of every non-placeholder object in
// objs, in load order, assigning MapStart as it goes.
func Populate(objs *model.LoadedObjects) error {
	mapStart := uint64(mapStartSentinel)
	for _, o := range objs.Objects {
		if o.Placeholder || o.ELF == nil {
			continue
		}
		if err := populateOne(o); err != nil {
			return fmt.Errorf("linkmap: %s: %w", o.Path, err)
		}
		o.MapStart = mapStart
		mapStart += mapStartStep
	}
	return nil
}

func populateOne(o *model.Object) error {
	f := o.ELF

	if err := populateSymbols(o, f); err != nil {
		return err
	}
	populateHash(o, f)
	populateGNUHash(o, f)
	populateVersym(o, f)
	populateTLS(o, f)
	populateRelocs(o, f)
	populateMIPSGot(o, f)
	return nil
}

// populateSymbols reads .dynsym into o.Syms, preserving index order so
// Versym/hash-chain indices line up.
func populateSymbols(o *model.Object, f *elf.File) error {
	syms, err := f.DynamicSymbols()
	if err != nil {
		// A shared object with no dynamic symbol table is unusual but not
		// fatal for our purposes (e.g. a placeholder-like stripped stub).
		return nil
	}
	// debug/elf's DynamicSymbols skips the reserved STN_UNDEF(0) entry;
	// reinstate it so symbol-table indices used by hash chains and
	// Versym line up with the ELF file's own numbering.
	o.Syms = make([]model.Sym, 0, len(syms)+1)
	o.Syms = append(o.Syms, model.Sym{VerNdx: -1})
	for _, s := range syms {
		o.Syms = append(o.Syms, model.Sym{
			Name:   s.Name,
			Value:  s.Value,
			Size:   s.Size,
			Info:   elf.ST_TYPE(s.Info),
			Bind:   elf.ST_BIND(s.Info),
			Other:  elf.SymVis(s.Other),
			Shndx:  s.Section,
			VerNdx: -1,
		})
	}
	return nil
}

func sectionByType(f *elf.File, t elf.SectionType) *elf.Section {
	for _, s := range f.Sections {
		if s.Type == t {
			return s
		}
	}
	return nil
}

func dynTagValue(f *elf.File, tag elf.DynTag) (uint64, bool) {
	vals, err := f.DynValue(tag)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// populateHash parses a SysV .hash table if DT_HASH is present.
func populateHash(o *model.Object, f *elf.File) {
	sec := sectionByType(f, elf.SHT_HASH)
	if sec == nil {
		return
	}
	data, err := sec.Data()
	if err != nil || len(data) < 8 {
		return
	}
	bo := byteOrder(f)
	nbuckets := bo.Uint32(data[0:4])
	nchain := bo.Uint32(data[4:8])
	need := 8 + 4*int(nbuckets) + 4*int(nchain)
	if need > len(data) {
		return
	}
	buckets := make([]uint32, nbuckets)
	for i := range buckets {
		buckets[i] = bo.Uint32(data[8+4*i:])
	}
	chain := make([]uint32, nchain)
	base := 8 + 4*int(nbuckets)
	for i := range chain {
		chain[i] = bo.Uint32(data[base+4*i:])
	}
	o.Hash = model.HashTable{Present: true, NBuckets: nbuckets, Buckets: buckets, Chain: chain}
}

// populateGNUHash parses a .gnu.hash table if DT_GNU_HASH is present.
// Section type SHT_GNU_HASH isn't always distinguishable via debug/elf's
// enum on older toolchains, so this also matches by section name.
func populateGNUHash(o *model.Object, f *elf.File) {
	var sec *elf.Section
	for _, s := range f.Sections {
		if s.Name == ".gnu.hash" {
			sec = s
			break
		}
	}
	if sec == nil {
		return
	}
	data, err := sec.Data()
	if err != nil || len(data) < 16 {
		return
	}
	bo := byteOrder(f)
	nbuckets := bo.Uint32(data[0:4])
	symbias := bo.Uint32(data[4:8])
	bloomWords := bo.Uint32(data[8:12])
	bloomShift := bo.Uint32(data[12:16])

	wordSize := 4
	if f.Class == elf.ELFCLASS64 {
		wordSize = 8
	}
	off := 16
	bloom := make([]uint64, bloomWords)
	for i := range bloom {
		if wordSize == 8 {
			bloom[i] = bo.Uint64(data[off+8*i:])
		} else {
			bloom[i] = uint64(bo.Uint32(data[off+4*i:]))
		}
	}
	off += wordSize * int(bloomWords)

	buckets := make([]uint32, nbuckets)
	for i := range buckets {
		buckets[i] = bo.Uint32(data[off+4*i:])
	}
	off += 4 * int(nbuckets)

	// Chain covers symbols [symbias, nsyms); nsyms is derived from the
	// already-populated symbol table.
	nsyms := len(o.Syms)
	var chainZero []uint32
	if nsyms > int(symbias) {
		chainZero = make([]uint32, nsyms-int(symbias))
		for i := range chainZero {
			base := off + 4*i
			if base+4 > len(data) {
				break
			}
			chainZero[i] = bo.Uint32(data[base:])
		}
	}

	o.GNUHash = model.GNUHashTable{
		Present:        true,
		NBuckets:       nbuckets,
		SymBias:        symbias,
		BloomShift:     bloomShift,
		BloomMaskWords: uint64(bloomWords),
		Bloom:          bloom,
		Buckets:        buckets,
		ChainZero:      chainZero,
	}
}

func populateVersym(o *model.Object, f *elf.File) {
	var sec *elf.Section
	for _, s := range f.Sections {
		if s.Name == ".gnu.version" {
			sec = s
			break
		}
	}
	if sec == nil {
		return
	}
	data, err := sec.Data()
	if err != nil {
		return
	}
	bo := byteOrder(f)
	n := len(data) / 2
	versyms := make([]int16, n)
	for i := 0; i < n; i++ {
		versyms[i] = int16(bo.Uint16(data[2*i:]))
	}
	o.Versym = versyms
	for i := range o.Syms {
		if i < len(versyms) {
			o.Syms[i].VerNdx = versyms[i]
		}
	}
}

func populateTLS(o *model.Object, f *elf.File) {
	for _, p := range f.Progs {
		if p.Type == elf.PT_TLS {
			align := p.Align
			if align == 0 {
				align = 1
			}
			o.TLS = model.TLSParams{
				Present:         true,
				Blocksize:       p.Memsz,
				Align:           align,
				FirstbyteOffset: p.Vaddr & (align - 1),
			}
			return
		}
	}
}

func populateRelocs(o *model.Object, f *elf.File) {
	bo := byteOrder(f)
	is64 := f.Class == elf.ELFCLASS64

	appendSection := func(sec *elf.Section, rela bool) {
		if sec == nil {
			return
		}
		data, err := sec.Data()
		if err != nil {
			return
		}
		entsize := 8
		if rela {
			entsize = 12
		}
		if is64 {
			entsize *= 2
		}
		for off := 0; off+entsize <= len(data); off += entsize {
			var e model.RelEntry
			if is64 {
				e.Offset = bo.Uint64(data[off:])
				info := bo.Uint64(data[off+8:])
				e.SymIdx = uint32(info >> 32)
				e.Type = uint32(info)
				if rela {
					e.HasAddend = true
					e.Addend = int64(bo.Uint64(data[off+16:]))
				}
			} else {
				e.Offset = uint64(bo.Uint32(data[off:]))
				info := bo.Uint32(data[off+4:])
				e.SymIdx = info >> 8
				e.Type = info & 0xff
				if rela {
					e.HasAddend = true
					e.Addend = int64(int32(bo.Uint32(data[off+8:])))
				}
			}
			o.RelTables = append(o.RelTables, e)
		}
	}

	for _, s := range f.Sections {
		switch s.Type {
		case elf.SHT_REL:
			appendSection(s, false)
		case elf.SHT_RELA:
			appendSection(s, true)
		}
	}
	// DT_JMPREL (.rel.plt/.rela.plt) is already covered by the SHT_REL/
	// SHT_RELA scan above since it is backed by a normal section; it is
	// appended last because section iteration order in debug/elf follows
	// the file's section header table, which conventionally places
	// .rel.plt/.rela.plt after the main .rel.dyn/.rela.dyn section.
}

func populateMIPSGot(o *model.Object, f *elf.File) {
	gotsym, ok1 := dynTagValue(f, elf.DynTag(0x70000013)) // DT_MIPS_GOTSYM
	localgotno, ok2 := dynTagValue(f, elf.DynTag(0x7000000a)) // DT_MIPS_LOCAL_GOTNO
	symtabno, ok3 := dynTagValue(f, elf.DynTag(0x70000011)) // DT_MIPS_SYMTABNO
	if !ok1 || !ok2 || !ok3 {
		return
	}
	o.MIPSGotSym = uint32(gotsym)
	o.MIPSLocalGotNo = uint32(localgotno)
	o.MIPSSymTabNo = uint32(symtabno)
}

func byteOrder(f *elf.File) binary.ByteOrder {
	if f.Data == elf.ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
