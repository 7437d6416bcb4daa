package gateware_test

import (
	"encoding/binary"
	"testing"

	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/gateware"
)

func TestReadMetadataRoundTrip(t *testing.T) {
	region := make([]byte, flashmap.SelfSigOffset)

	binary.LittleEndian.PutUint32(region[flashmap.MetadataOffset:], 0x20260115)
	copy(region[flashmap.MetadataOffset+4:], []byte("v1.2.3"))

	m, err := gateware.ReadMetadata(region)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if m.DateCode != 0x20260115 {
		t.Errorf("DateCode = 0x%x, want 0x20260115", m.DateCode)
	}
	if m.VersionString() != "v1.2.3" {
		t.Errorf("VersionString = %q, want %q", m.VersionString(), "v1.2.3")
	}
}

func TestReadMetadataRejectsShortRegion(t *testing.T) {
	if _, err := gateware.ReadMetadata(make([]byte, flashmap.MetadataOffset)); err == nil {
		t.Fatal("expected error for a region too short to hold the metadata record")
	}
}
