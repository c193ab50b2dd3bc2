package machine

import (
	"debug/elf"
	"testing"
)

func TestFromELF(t *testing.T) {
	cases := []struct {
		m     elf.Machine
		class elf.Class
		want  Machine
	}{
		{elf.EM_386, elf.ELFCLASS32, I386},
		{elf.EM_X86_64, elf.ELFCLASS64, X86_64},
		{elf.EM_AARCH64, elf.ELFCLASS64, AArch64},
		{elf.EM_MIPS, elf.ELFCLASS32, MIPS},
		{elf.EM_MIPS, elf.ELFCLASS64, MIPS64},
		{elf.EM_SPARCV9, elf.ELFCLASS64, SPARC64},
		{elf.Machine(0xffff), elf.ELFCLASS64, Unknown},
	}
	for _, c := range cases {
		if got := FromELF(c.m, c.class); got != c.want {
			t.Errorf("FromELF(%v, %v) = %v, want %v", c.m, c.class, got, c.want)
		}
	}
}

func TestEquivalentSPARC(t *testing.T) {
	if !Equivalent(SPARC, SPARC64) {
		t.Error("SPARC and SPARC64 should be equivalent for ELF acceptance")
	}
	if !Equivalent(SPARC64, SPARC) {
		t.Error("Equivalent should be symmetric")
	}
	if Equivalent(SPARC, X86_64) {
		t.Error("unrelated machines must not be equivalent")
	}
	if !Equivalent(X86_64, X86_64) {
		t.Error("a machine is always equivalent to itself")
	}
}

func TestRelocClassOf(t *testing.T) {
	cases := []struct {
		m    Machine
		typ  uint32
		want RelocClass
	}{
		{X86_64, 5, ClassCopy},
		{X86_64, 7, ClassPLT},
		{X86_64, 1, ClassNone},
		{I386, 21, ClassCopy},
		{I386, 7, ClassPLT},
		{AArch64, 1024, ClassCopy},
		{AArch64, 1026, ClassPLT},
		{MIPS, 126, ClassCopy},
		{MIPS, 127, ClassPLT},
		{MIPS, 3, ClassNone},
		{Unknown, 1, ClassNone},
	}
	for _, c := range cases {
		if got := RelocClassOf(c.m, c.typ); got != c.want {
			t.Errorf("RelocClassOf(%v, %d) = %v, want %v", c.m, c.typ, got, c.want)
		}
	}
}

func TestTLSInfoForVariants(t *testing.T) {
	tcb := []Machine{I386, X86_64, SPARC, SPARC64}
	for _, m := range tcb {
		if info := TLSInfoFor(m); info.Variant != TCBAtTP {
			t.Errorf("TLSInfoFor(%v).Variant = %v, want TCBAtTP", m, info.Variant)
		}
	}
	dtv := []Machine{ARM, AArch64, PPC, PPC64, MIPS, MIPS64, RISCV}
	for _, m := range dtv {
		if info := TLSInfoFor(m); info.Variant != DTVAtTP {
			t.Errorf("TLSInfoFor(%v).Variant = %v, want DTVAtTP", m, info.Variant)
		}
	}
	if info := TLSInfoFor(Unknown); info.Variant != TLSUnsupported {
		t.Errorf("TLSInfoFor(Unknown).Variant = %v, want TLSUnsupported", info.Variant)
	}
	if got := TLSInfoFor(AArch64).TCBSize; got != 16 {
		t.Errorf("AArch64 TCBSize = %d, want 16", got)
	}
}

func TestDefaultLibDirAndSearchDirs(t *testing.T) {
	if d := DefaultLibDir(X86_64, elf.ELFCLASS64); d != Lib64 {
		t.Errorf("DefaultLibDir(64-bit) = %v, want Lib64", d)
	}
	if d := DefaultLibDir(I386, elf.ELFCLASS32); d != Lib {
		t.Errorf("DefaultLibDir(32-bit) = %v, want Lib", d)
	}
	if s := Lib64.String(); s != "lib64" {
		t.Errorf("Lib64.String() = %q, want lib64", s)
	}
	dirs := DefaultSearchDirs(Lib64)
	if len(dirs) == 0 || dirs[0] != "/lib64/tls" {
		t.Errorf("DefaultSearchDirs(Lib64) = %v, want to start with /lib64/tls", dirs)
	}
}

func TestIsDynamicLinkerSONAME(t *testing.T) {
	if !IsDynamicLinkerSONAME("ld-linux-x86-64.so.2") {
		t.Error("ld-linux-x86-64.so.2 must be recognized as a dynamic linker SONAME")
	}
	if IsDynamicLinkerSONAME("libc.so.6") {
		t.Error("libc.so.6 must not be recognized as a dynamic linker SONAME")
	}
}
