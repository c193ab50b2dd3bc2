// Package tlslayout assigns l_tls_modid and l_tls_offset over the ordered
// search list per the architecture's ABI. Follows rtld_determine_tlsoffsets
// (the free-gap-packing formulation), preferred here over the older
// bump-allocator variant some dynamic linker trees carry.
package tlslayout

import (
	"fmt"

	"github.com/sjnewbury/ldsim/internal/machine"
	"github.com/sjnewbury/ldsim/internal/model"
)

// Assign runs the TLS layout algorithm over objs in load-list order for
// the given machine. It returns an error only if some object has TLS and
// the machine's ABI variant is unsupported.
func Assign(objs *model.LoadedObjects, m machine.Machine) error {
	info := machine.TLSInfoFor(m)

	hasTLS := false
	for _, o := range objs.Objects {
		if !o.Placeholder && o.TLS.Present && o.TLS.Blocksize > 0 {
			hasTLS = true
			break
		}
	}
	if !hasTLS {
		return nil
	}
	if info.Variant == machine.TLSUnsupported {
		return fmt.Errorf("tlslayout: machine has no TLS ABI table but an object requires static TLS")
	}

	if info.Variant == machine.TCBAtTP {
		assignTCBAtTP(objs)
	} else {
		assignDTVAtTP(objs, info.TCBSize)
	}
	return nil
}

func roundup(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// assignTCBAtTP implements the x86/x86_64/SPARC downward-growing variant
// exactly per dl-tls.c's TLS_TCB_AT_TP branch: l_tls_offset is stored as
// the plain roundup result (off), not negated, matching
// original_source/src/rtld/dl-tls.c's `map->l_tls_offset = off;`. The
// offset grows toward the TCB from above despite the stored value being
// positive; callers computing an actual TP-relative address subtract it.
func assignTCBAtTP(objs *model.LoadedObjects) {
	var offset, freetop, freebottom uint64
	modid := uint64(1)

	for _, o := range objs.Objects {
		if o.Placeholder || !o.TLS.Present || o.TLS.Blocksize == 0 {
			continue
		}
		o.TLS.ModID = modid
		modid++

		blocksize := o.TLS.Blocksize
		align := o.TLS.Align
		if align == 0 {
			align = 1
		}
		firstbyte := (-o.TLS.FirstbyteOffset) & (align - 1)

		if freebottom-freetop >= blocksize {
			off := roundup(freetop+blocksize-firstbyte, align) + firstbyte
			if off <= freebottom {
				freetop = off
				o.TLS.Offset = int64(off)
				continue
			}
		}

		off := roundup(offset+blocksize-firstbyte, align) + firstbyte
		if off > offset+blocksize+(freebottom-freetop) {
			freetop = offset
			freebottom = off - blocksize
		}
		offset = off
		o.TLS.Offset = int64(off)
	}
}

// assignDTVAtTP implements the ARM/AArch64/PPC/MIPS/RISC-V/etc.
// upward-growing variant per dl-tls.c's TLS_DTV_AT_TP branch: the mirror
// image of assignTCBAtTP with the gap [freebottom, freetop) growing up
// from tcb_size instead of down from 0. firstbyte is
// (-FirstbyteOffset) & (align-1), as in assignTCBAtTP. off is computed as
// roundup(x+firstbyte, align) - firstbyte, which already equals dl-tls.c's
// off - firstbyte, so it is stored as the offset unchanged.
func assignDTVAtTP(objs *model.LoadedObjects, tcbSize uint64) {
	offset := tcbSize
	var freetop, freebottom uint64 // gap is [freebottom, freetop)
	modid := uint64(1)

	for _, o := range objs.Objects {
		if o.Placeholder || !o.TLS.Present || o.TLS.Blocksize == 0 {
			continue
		}
		o.TLS.ModID = modid
		modid++

		blocksize := o.TLS.Blocksize
		align := o.TLS.Align
		if align == 0 {
			align = 1
		}
		firstbyte := (-o.TLS.FirstbyteOffset) & (align - 1)

		if freetop-freebottom >= blocksize {
			off := roundup(freebottom+firstbyte, align) - firstbyte
			if off >= freebottom && off+blocksize <= freetop {
				freebottom = off + blocksize
				o.TLS.Offset = int64(off)
				continue
			}
		}

		off := roundup(offset+firstbyte, align) - firstbyte
		if off+blocksize > offset+blocksize+(freetop-freebottom) {
			freebottom = offset
			freetop = off
		}
		offset = off + blocksize
		o.TLS.Offset = int64(off)
	}
}
