// Package flashwriter defines the external flash-mutation contract this
// core drives: a patch-style write interface with sector-erase semantics,
// region-aware since the core writes into four distinct memory-mapped
// ranges.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package flashwriter

import "github.com/usbarmory/rootkeys-core/flashmap"

// SectorSize is the smallest erase granularity the flash writer supports;
// every Patch call's (base+offset) must be aligned to it.
const SectorSize = 4096

// Writer performs a 4 KiB-aligned erase-then-program of data at the given
// region-relative offset. Implementations are expected to be wear-aware:
// a sector whose contents would not change is left unerased.
type Writer interface {
	Patch(region flashmap.Region, base, offset uint32, data []byte) error
}
