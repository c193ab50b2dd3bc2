package tlslayout

import (
	"testing"

	"github.com/sjnewbury/ldsim/internal/machine"
	"github.com/sjnewbury/ldsim/internal/model"
)

func newTLSObject(blocksize, align, firstbyte uint64) *model.Object {
	return &model.Object{
		TLS: model.TLSParams{Present: true, Blocksize: blocksize, Align: align, FirstbyteOffset: firstbyte},
	}
}

func TestAssignNoopWhenNoTLS(t *testing.T) {
	objs := model.NewLoadedObjects()
	objs.Add(&model.Object{})
	objs.Add(&model.Object{})
	if err := Assign(objs, machine.Unknown); err != nil {
		t.Fatalf("Assign with no TLS objects should never error, got %v", err)
	}
}

func TestAssignErrorsOnUnsupportedMachineWithTLS(t *testing.T) {
	objs := model.NewLoadedObjects()
	objs.Add(newTLSObject(16, 8, 0))
	if err := Assign(objs, machine.Unknown); err == nil {
		t.Error("Assign must error when TLS is present but the machine has no TLS ABI")
	}
}

func TestAssignTCBAtTPAssignsDenseModuleIDs(t *testing.T) {
	objs := model.NewLoadedObjects()
	// Scenario D's worked example: A(blocksize=16,align=8) -> B(blocksize=32,align=16)
	// on x86-64 gives A.tls_offset=16, B.tls_offset=48.
	a := newTLSObject(16, 8, 0)
	b := newTLSObject(32, 16, 0)
	objs.Add(a)
	objs.Add(b)

	if err := Assign(objs, machine.X86_64); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.TLS.ModID != 1 || b.TLS.ModID != 2 {
		t.Errorf("ModIDs = (%d, %d), want (1, 2) in load order", a.TLS.ModID, b.TLS.ModID)
	}
	if a.TLS.Offset != 16 || b.TLS.Offset != 48 {
		t.Errorf("Offsets = (%d, %d), want (16, 48)", a.TLS.Offset, b.TLS.Offset)
	}
}

func TestAssignTCBAtTPSkipsPlaceholdersAndEmptyBlocks(t *testing.T) {
	objs := model.NewLoadedObjects()
	real := newTLSObject(16, 8, 0)
	objs.Add(real)
	objs.Add(&model.Object{Placeholder: true, TLS: model.TLSParams{Present: true, Blocksize: 32}})
	objs.Add(&model.Object{TLS: model.TLSParams{Present: true, Blocksize: 0}})

	if err := Assign(objs, machine.X86_64); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if real.TLS.ModID != 1 {
		t.Errorf("ModID = %d, want 1 (placeholder and zero-size objects must not consume module IDs)", real.TLS.ModID)
	}
}

func TestAssignDTVAtTPOffsetsGrowUpwardPastTCB(t *testing.T) {
	objs := model.NewLoadedObjects()
	a := newTLSObject(16, 8, 0)
	objs.Add(a)

	if err := Assign(objs, machine.AArch64); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.TLS.ModID != 1 {
		t.Errorf("ModID = %d, want 1", a.TLS.ModID)
	}
	// AArch64 reserves a 16-byte TCB before TLS data starts.
	if a.TLS.Offset < 16 {
		t.Errorf("DTV-at-TP offset %d should be at or past the 16-byte AArch64 TCB", a.TLS.Offset)
	}
}

func TestAssignDTVAtTPStoresOffsetMinusFirstbyte(t *testing.T) {
	objs := model.NewLoadedObjects()
	// A nonzero firstbyte forces the stored offset to diverge from the raw
	// roundup result, a detail that's easy to get backwards.
	a := newTLSObject(20, 16, 4)
	objs.Add(a)

	if err := Assign(objs, machine.ARM); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	// firstbyte = -4 & 15 = 12. dl-tls.c rounds tcbSize(8) up to 16, bumps
	// it to 32 because 16-8 < firstbyte, and stores off - firstbyte = 20.
	want := int64(roundup(8+12, 16)) - 12
	if a.TLS.Offset != want {
		t.Errorf("Offset = %d, want %d (off - firstbyte)", a.TLS.Offset, want)
	}
}

func TestRoundup(t *testing.T) {
	if got := roundup(10, 8); got != 16 {
		t.Errorf("roundup(10, 8) = %d, want 16", got)
	}
	if got := roundup(16, 8); got != 16 {
		t.Errorf("roundup(16, 8) = %d, want 16", got)
	}
	if got := roundup(5, 1); got != 5 {
		t.Errorf("roundup(5, 1) = %d, want 5", got)
	}
	if got := roundup(5, 0); got != 5 {
		t.Errorf("roundup(5, 0) = %d, want 5 (align<=1 is identity)", got)
	}
}
