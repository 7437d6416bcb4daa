// Package gateware provides read-only accessors over the plaintext
// regions of a gateware image that sit alongside its encrypted payload:
// the build metadata record at flashmap.MetadataOffset, and the
// live-vs-staging region selector used by both the metadata reader and
// the multi-signer check.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package gateware

import (
	"encoding/binary"
	"fmt"

	"github.com/usbarmory/rootkeys-core/flashmap"
)

// Selector chooses which physical copy of the gateware a read accesses:
// the live, currently-booted image, or the staging mirror a pending
// update is assembled into before it replaces the live image.
type Selector int

const (
	Boot Selector = iota
	Staging
)

func (s Selector) String() string {
	if s == Staging {
		return "staging"
	}
	return "boot"
}

// MetadataSize is the on-flash size of a Metadata record: a build date
// code plus a short free-form version tag.
const MetadataSize = 4 + 16

// Metadata is the plaintext build-identification record stored at
// flashmap.MetadataOffset, read but never written by this core (the
// record is produced by the build pipeline that assembles the gateware
// image, not by the re-signing core itself).
type Metadata struct {
	DateCode uint32
	Version  [16]byte
}

// ReadMetadata parses the Metadata record out of region (the live
// gateware or the staging mirror), matching the layout the build pipeline
// writes at flashmap.MetadataOffset.
func ReadMetadata(region []byte) (Metadata, error) {
	var m Metadata

	start := flashmap.MetadataOffset
	end := start + MetadataSize
	if end > len(region) {
		return m, fmt.Errorf("gateware: region too short to hold metadata (need %d bytes at offset 0x%x)", MetadataSize, start)
	}

	buf := region[start:end]
	m.DateCode = binary.LittleEndian.Uint32(buf[0:4])
	copy(m.Version[:], buf[4:4+16])

	return m, nil
}

// VersionString returns the version tag trimmed of trailing NUL padding.
func (m Metadata) VersionString() string {
	n := len(m.Version)
	for n > 0 && m.Version[n-1] == 0 {
		n--
	}
	return string(m.Version[:n])
}
