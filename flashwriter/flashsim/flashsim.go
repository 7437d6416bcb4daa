// Package flashsim implements flashwriter.Writer over in-memory byte
// buffers, standing in for the real flash-writer collaborator so the
// orchestrator can be exercised end to end without hardware, with the same
// 4 KiB-aligned erase-then-program contract.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package flashsim

import (
	"fmt"
	"sync"

	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/flashwriter"
)

// Sim is an in-memory flashwriter.Writer. Each region is backed by its own
// byte slice, sized by the caller.
type Sim struct {
	mu sync.Mutex

	regions map[flashmap.Region][]byte

	// ErasedSectors counts sectors actually erased+programmed, excluding
	// ones skipped because their contents were already correct.
	ErasedSectors int
	// SkippedSectors counts sectors left untouched because the requested
	// contents already matched (wear-aware skip).
	SkippedSectors int

	stagingProtected bool
}

// New creates a simulated flash writer with the given regions pre-sized
// (and, for non-empty seed data, pre-populated).
func New(seed map[flashmap.Region][]byte) *Sim {
	regions := make(map[flashmap.Region][]byte, len(seed))
	for r, data := range seed {
		buf := make([]byte, len(data))
		copy(buf, data)
		regions[r] = buf
	}
	return &Sim{regions: regions}
}

// Region returns a copy of the current contents of a region.
func (s *Sim) Region(r flashmap.Region) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, len(s.regions[r]))
	copy(out, s.regions[r])
	return out
}

// Patch implements flashwriter.Writer. base+offset must be aligned to
// flashwriter.SectorSize, and the write must not cross a region boundary
// set by New.
func (s *Sim) Patch(region flashmap.Region, base, offset uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if region == flashmap.Staging && s.stagingProtected {
		return fmt.Errorf("flashsim: staging region is write-protected")
	}

	buf, ok := s.regions[region]
	if !ok {
		return fmt.Errorf("flashsim: unknown region %s", region)
	}

	start := base + offset
	if (start % flashwriter.SectorSize) != 0 {
		return fmt.Errorf("flashsim: unaligned patch at 0x%x", start)
	}
	if int(start)+len(data) > len(buf) {
		return fmt.Errorf("flashsim: patch at 0x%x length %d overflows region %s (size %d)", start, len(data), region, len(buf))
	}

	for off := 0; off < len(data); off += flashwriter.SectorSize {
		end := off + flashwriter.SectorSize
		if end > len(data) {
			end = len(data)
		}

		sectorStart := int(start) + off
		sectorEnd := sectorStart + (end - off)

		if bytesEqual(buf[sectorStart:sectorEnd], data[off:end]) {
			s.SkippedSectors++
			continue
		}

		copy(buf[sectorStart:sectorEnd], data[off:end])
		s.ErasedSectors++
	}

	return nil
}

// SetStagingWriteProtect implements rootkeys.StagingProtector: while
// protect is true, Patch calls against flashmap.Staging are rejected,
// mirroring the real flash writer's write-protect toggle the orchestrator
// engages for the duration of a key operation.
func (s *Sim) SetStagingWriteProtect(protect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stagingProtected = protect
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
