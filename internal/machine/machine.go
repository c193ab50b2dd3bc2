// Package machine holds the per-architecture tables the simulator needs:
// reloc-type classification, TLS ABI variant, dynamic-linker SONAMEs and
// default library search directories. Each concern that the reference
// loader expresses as per-machine C source (arch-*.c) becomes one case of
// the switches below, keyed by a Machine tag rather than by a vtable of
// function pointers.
package machine

import "debug/elf"

// Machine tags the architectures the simulator understands. Unknown
// e_machine values map to Unknown, which is a valid value everywhere except
// the TLS layout engine (unsupported machines only fail when an
// object actually carries TLS).
type Machine int

const (
	Unknown Machine = iota
	I386
	X86_64
	ARM
	AArch64
	PPC
	PPC64
	MIPS
	MIPS64
	RISCV
	SPARC
	SPARC64
)

// FromELF maps a debug/elf machine constant (and class, for the 32-on-64
// families) to a Machine tag.
func FromELF(m elf.Machine, class elf.Class) Machine {
	switch m {
	case elf.EM_386:
		return I386
	case elf.EM_X86_64:
		return X86_64
	case elf.EM_ARM:
		return ARM
	case elf.EM_AARCH64:
		return AArch64
	case elf.EM_PPC:
		return PPC
	case elf.EM_PPC64:
		return PPC64
	case elf.EM_MIPS:
		if class == elf.ELFCLASS64 {
			return MIPS64
		}
		return MIPS
	case elf.EM_RISCV:
		return RISCV
	case elf.EM_SPARC, elf.EM_SPARC32PLUS:
		return SPARC
	case elf.EM_SPARCV9:
		return SPARC64
	default:
		return Unknown
	}
}

// Equivalent reports whether two machine tags should be treated as
// interchangeable for ELF-acceptance purposes. FromELF already folds
// SPARC32PLUS into SPARC; Equivalent additionally pairs SPARC with
// SPARC64, so callers don't need to special-case either.
func Equivalent(a, b Machine) bool {
	if a == b {
		return true
	}
	return (a == SPARC && b == SPARC64) || (a == SPARC64 && b == SPARC)
}

// RelocClass is the reloc-type → class oracle result.
type RelocClass int

const (
	ClassNone RelocClass = 0
	ClassPLT  RelocClass = 1
	ClassCopy RelocClass = 2
	// ClassProtectedData triggers the protected-visibility re-lookup path.
	ClassProtectedData RelocClass = 4
)

// RelocClassOf implements the per-machine class_of(reloc_type) oracle.
// Grounded on original_source/src/arch-aarch64.c's aarch64_reloc_class and
// the equivalent per-arch tables for the other machines in the same file
// family (arch-i386.c, arch-arm.c, arch-mips.c, arch-ppc*.c).
func RelocClassOf(m Machine, relType uint32) RelocClass {
	switch m {
	case AArch64:
		switch relType {
		case 1024 /* R_AARCH64_COPY */ :
			return ClassCopy
		case 1026 /* R_AARCH64_JUMP_SLOT */ :
			return ClassPLT
		case 1028, 1029, 1030, 1031 /* TLS_DTPMOD64..TLSDESC */ :
			return ClassPLT
		default:
			return ClassNone
		}
	case X86_64:
		switch relType {
		case 5 /* R_X86_64_COPY */ :
			return ClassCopy
		case 7 /* R_X86_64_JUMP_SLOT */ :
			return ClassPLT
		case 16, 17, 18, 36 /* TLS reloc types */ :
			return ClassPLT
		default:
			return ClassNone
		}
	case I386:
		switch relType {
		case 21 /* R_386_COPY */ :
			return ClassCopy
		case 7 /* R_386_JMP_SLOT */ :
			return ClassPLT
		case 14, 15, 20, 36, 37 /* TLS reloc types */ :
			return ClassPLT
		default:
			return ClassNone
		}
	case ARM:
		switch relType {
		case 20 /* R_ARM_COPY */ :
			return ClassCopy
		case 22 /* R_ARM_JUMP_SLOT */ :
			return ClassPLT
		case 17, 18, 19, 96 /* TLS reloc types */ :
			return ClassPLT
		default:
			return ClassNone
		}
	case PPC, PPC64:
		switch relType {
		case 19 /* R_PPC_COPY */ :
			return ClassCopy
		case 21 /* R_PPC_JMP_SLOT */ :
			return ClassPLT
		default:
			return ClassNone
		}
	case MIPS, MIPS64:
		return mipsRelocClass(relType)
	default:
		return ClassNone
	}
}

// mipsRelocClass implements arch-mips.c's mips_reloc_class: MIPS has no
// architectural COPY/JUMP_SLOT relocation in the ordinary reloc stream
// (synthetic R_MIPS_REL32 entries over the global GOT are handled
// separately by the reloc walker), so every regular entry classifies as
// ClassNone except the handful below.
func mipsRelocClass(relType uint32) RelocClass {
	switch relType {
	case 126 /* R_MIPS_COPY */ :
		return ClassCopy
	case 127 /* R_MIPS_JUMP_SLOT */ :
		return ClassPLT
	default:
		return ClassNone
	}
}

// TLSVariant distinguishes the two static-TLS layout algorithms.
type TLSVariant int

const (
	TLSUnsupported TLSVariant = iota
	TCBAtTP
	DTVAtTP
)

// TLSInfo bundles what the TLS layout engine needs to know about a machine:
// which variant it uses, and (for DTV-at-TP) the fixed TCB size reserved
// before offset 0.
type TLSInfo struct {
	Variant TLSVariant
	TCBSize uint64
}

func TLSInfoFor(m Machine) TLSInfo {
	switch m {
	case I386, X86_64, SPARC, SPARC64:
		return TLSInfo{Variant: TCBAtTP}
	case ARM:
		return TLSInfo{Variant: DTVAtTP, TCBSize: 8}
	case AArch64:
		return TLSInfo{Variant: DTVAtTP, TCBSize: 16}
	case PPC, PPC64:
		return TLSInfo{Variant: DTVAtTP, TCBSize: 0}
	case MIPS, MIPS64:
		return TLSInfo{Variant: DTVAtTP, TCBSize: 0}
	case RISCV:
		return TLSInfo{Variant: DTVAtTP, TCBSize: 0}
	default:
		return TLSInfo{Variant: TLSUnsupported}
	}
}

// LibDir names the $LIB substitution and the default-search-dir family for
// a machine (64-bit / n32 / x32 / default dir sets).
type LibDir int

const (
	Lib LibDir = iota
	Lib32
	Lib64
	LibX32
)

func (d LibDir) String() string {
	switch d {
	case Lib32:
		return "lib32"
	case Lib64:
		return "lib64"
	case LibX32:
		return "libx32"
	default:
		return "lib"
	}
}

// DefaultLibDir picks the $LIB value and default search-directory family
// for a (machine, class) pair.
func DefaultLibDir(m Machine, class elf.Class) LibDir {
	if class == elf.ELFCLASS64 {
		return Lib64
	}
	return Lib
}

// DefaultSearchDirs returns the fixed fallback directories
// for a given library-dir family, most specific first.
func DefaultSearchDirs(d LibDir) []string {
	switch d {
	case Lib64:
		return []string{"/lib64/tls", "/lib64", "/usr/lib64/tls", "/usr/lib64"}
	case Lib32:
		return []string{"/lib32/tls", "/lib32", "/usr/lib32/tls", "/usr/lib32"}
	case LibX32:
		return []string{"/libx32/tls", "/libx32", "/usr/libx32/tls", "/usr/libx32"}
	default:
		return []string{"/lib/tls", "/lib", "/usr/lib/tls", "/usr/lib"}
	}
}

// dynamicLinkerNames is the known set of dynamic-linker SONAMEs (spec
// §4.1 item 2), grounded on original_source/src/ld-libs.c's
// is_ldso_soname.
var dynamicLinkerNames = map[string]bool{
	"ld-linux.so.2":         true,
	"ld-linux-x86-64.so.2":  true,
	"ld-linux-aarch64.so.1": true,
	"ld-linux-armhf.so.3":   true,
	"ld-linux-ia64.so.2":    true,
	"ld64.so.1":             true,
	"ld64.so.2":             true,
	"ld.so.1":               true,
	"ld-linux-mipsn8.so.1":  true,
	"ld-linux-riscv64-lp64d.so.1": true,
}

// IsDynamicLinkerSONAME reports whether name is a known ld.so SONAME.
func IsDynamicLinkerSONAME(name string) bool {
	return dynamicLinkerNames[name]
}
