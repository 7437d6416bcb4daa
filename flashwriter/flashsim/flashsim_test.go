package flashsim

import (
	"bytes"
	"testing"

	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/flashwriter"
)

func TestPatchWritesAndSkipsUnchanged(t *testing.T) {
	sim := New(map[flashmap.Region][]byte{
		flashmap.Kernel: make([]byte, flashwriter.SectorSize*2),
	})

	data := bytes.Repeat([]byte{0xAB}, flashwriter.SectorSize)
	if err := sim.Patch(flashmap.Kernel, 0, 0, data); err != nil {
		t.Fatal(err)
	}
	if sim.ErasedSectors != 1 {
		t.Fatalf("expected 1 erased sector, got %d", sim.ErasedSectors)
	}

	// Re-patching identical contents should be skipped.
	if err := sim.Patch(flashmap.Kernel, 0, 0, data); err != nil {
		t.Fatal(err)
	}
	if sim.SkippedSectors != 1 {
		t.Fatalf("expected 1 skipped sector, got %d", sim.SkippedSectors)
	}

	got := sim.Region(flashmap.Kernel)
	if !bytes.Equal(got[:flashwriter.SectorSize], data) {
		t.Fatal("written data does not match")
	}
}

func TestPatchRejectsUnaligned(t *testing.T) {
	sim := New(map[flashmap.Region][]byte{
		flashmap.Loader: make([]byte, flashwriter.SectorSize),
	})
	if err := sim.Patch(flashmap.Loader, 0, 1, []byte{0x01}); err == nil {
		t.Fatal("expected error on unaligned patch")
	}
}

func TestPatchRejectsOverflow(t *testing.T) {
	sim := New(map[flashmap.Region][]byte{
		flashmap.Loader: make([]byte, flashwriter.SectorSize),
	})
	if err := sim.Patch(flashmap.Loader, 0, 0, make([]byte, flashwriter.SectorSize*2)); err == nil {
		t.Fatal("expected error on region overflow")
	}
}

func TestPatchUnknownRegion(t *testing.T) {
	sim := New(nil)
	if err := sim.Patch(flashmap.Gateware, 0, 0, []byte{1}); err == nil {
		t.Fatal("expected error for unregistered region")
	}
}

func TestStagingWriteProtectBlocksPatch(t *testing.T) {
	sim := New(map[flashmap.Region][]byte{
		flashmap.Staging: make([]byte, flashwriter.SectorSize),
	})

	if err := sim.SetStagingWriteProtect(true); err != nil {
		t.Fatal(err)
	}

	data := bytes.Repeat([]byte{0x01}, flashwriter.SectorSize)
	if err := sim.Patch(flashmap.Staging, 0, 0, data); err == nil {
		t.Fatal("expected error while staging is write-protected")
	}

	if err := sim.SetStagingWriteProtect(false); err != nil {
		t.Fatal(err)
	}
	if err := sim.Patch(flashmap.Staging, 0, 0, data); err != nil {
		t.Fatalf("Patch after unprotect: %v", err)
	}
}
