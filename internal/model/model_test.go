package model

import "testing"

func TestLoadedObjectsAddAndLookup(t *testing.T) {
	objs := NewLoadedObjects()
	root := &Object{Path: "/bin/app", SONAME: "", NeededName: ""}
	idx := objs.Add(root)
	if idx != 0 {
		t.Fatalf("root index = %d, want 0", idx)
	}
	if objs.Root() != root {
		t.Fatal("Root() must return the first-added object")
	}

	lib := &Object{Path: "/lib/libc.so.6", SONAME: "libc.so.6", NeededName: "libc.so.6"}
	libIdx := objs.Add(lib)

	if got, ok := objs.Lookup("/lib/libc.so.6", "", ""); !ok || got != libIdx {
		t.Errorf("Lookup by canonical path = (%v, %v), want (%v, true)", got, ok, libIdx)
	}
	if got, ok := objs.Lookup("", "libc.so.6", ""); !ok || got != libIdx {
		t.Errorf("Lookup by SONAME = (%v, %v), want (%v, true)", got, ok, libIdx)
	}
	if _, ok := objs.Lookup("/nowhere", "", ""); ok {
		t.Error("Lookup for an unplaced path must fail")
	}
}

func TestLoadedObjectsLookupByNeededName(t *testing.T) {
	objs := NewLoadedObjects()
	objs.Add(&Object{Path: "/bin/app"})
	placeholder := &Object{SONAME: "libfoo.so.1", NeededName: "libfoo.so.1", Placeholder: true}
	idx := objs.Add(placeholder)

	got, ok := objs.Lookup("", "", "libfoo.so.1")
	if !ok || got != idx {
		t.Errorf("Lookup by needed name = (%v, %v), want (%v, true)", got, ok, idx)
	}
}

func TestIsDynamicLinker(t *testing.T) {
	o := &Object{Kind: KindRuntimeLoaded, SONAME: "ld-linux-x86-64.so.2"}
	if !o.IsDynamicLinker() {
		t.Error("object with a known ld.so SONAME and KindRuntimeLoaded must report IsDynamicLinker")
	}
	notLinker := &Object{Kind: KindLibrary, SONAME: "ld-linux-x86-64.so.2"}
	if notLinker.IsDynamicLinker() {
		t.Error("a KindLibrary object must never report IsDynamicLinker even with a linker-like SONAME")
	}
}

func TestUniqueSymbolTableInsertAndLookup(t *testing.T) {
	tbl := NewUniqueSymbolTable()
	sym := &Sym{Name: "_ZTV1A"}
	tbl.Insert(&UniqueSymEntry{HashVal: 42, Name: "_ZTV1A", Sym: sym, MapIdx: 3})

	entry, ok := tbl.Lookup(42, "_ZTV1A")
	if !ok {
		t.Fatal("expected to find the just-inserted entry")
	}
	if entry.MapIdx != 3 || entry.Sym != sym {
		t.Errorf("looked-up entry = %+v, want MapIdx=3 and matching Sym pointer", entry)
	}

	if _, ok := tbl.Lookup(42, "_ZTV1B"); ok {
		t.Error("lookup with matching hash but different name must miss")
	}
}

func TestUniqueSymbolTableResizesUnderLoad(t *testing.T) {
	tbl := NewUniqueSymbolTable()
	initialCap := len(tbl.slots)

	for i := 0; i < initialCap; i++ {
		tbl.Insert(&UniqueSymEntry{HashVal: uint32(i * 97), Name: string(rune('a' + i%26))})
	}

	if len(tbl.slots) <= initialCap {
		t.Errorf("table did not grow past initial capacity %d after %d inserts", initialCap, initialCap)
	}
	if tbl.LoadFactor() > 0.75 {
		t.Errorf("load factor %f exceeds 3/4 after resize", tbl.LoadFactor())
	}
}

func TestNextPrimeSize(t *testing.T) {
	if got := nextPrimeSize(7); got != 13 {
		t.Errorf("nextPrimeSize(7) = %d, want 13", got)
	}
	if got := nextPrimeSize(primeSizes[len(primeSizes)-1]); got != primeSizes[len(primeSizes)-1] {
		t.Errorf("nextPrimeSize beyond table end should saturate at the largest prime")
	}
}
