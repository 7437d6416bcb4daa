// Package flashmap describes the flash layout this core mutates: the four
// memory-mapped regions (gateware, staging, loader, kernel) and the
// signature block persisted at the start of loader/kernel and at the
// gateware's self-sign offset.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package flashmap

import (
	"encoding/binary"
	"fmt"
)

// Region names one of the four memory-mapped flash ranges this core reads
// or mutates.
type Region int

const (
	Gateware Region = iota
	Staging
	Loader
	Kernel
)

func (r Region) String() string {
	switch r {
	case Gateware:
		return "gateware"
	case Staging:
		return "staging"
	case Loader:
		return "loader"
	case Kernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// Gateware-internal absolute byte offsets.
const (
	// MetadataOffset is where the plaintext MetadataInFlash record lives.
	MetadataOffset = 0x27_6000
	// CSRCSVOffset is where the plaintext CSR CSV record begins.
	CSRCSVOffset = 0x27_7000
	// SelfSigOffset is the start of the gateware's own signature record,
	// and also the length of the signed gateware body.
	SelfSigOffset = 0x27_F000
)

// SigBlockSize is the reserved signature-block size at the start of the
// loader and kernel regions (one erase sector).
const SigBlockSize = 0x1000

// SignatureVersion is the only signature record version this core emits or
// accepts.
const SignatureVersion = 1

// SignatureSize is the on-flash size, in bytes, of a SignatureInFlash
// record: u32 version + u32 signed_len + 64-byte signature.
const SignatureSize = 4 + 4 + 64

// SignatureInFlash is the fixed-layout signature record persisted at the
// start of loader, kernel, and at the gateware's SelfSigOffset.
type SignatureInFlash struct {
	Version   uint32
	SignedLen uint32
	Signature [64]byte
}

// MarshalBinary encodes the record in the on-flash wire format.
func (s SignatureInFlash) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SignatureSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.Version)
	binary.LittleEndian.PutUint32(buf[4:8], s.SignedLen)
	copy(buf[8:], s.Signature[:])
	return buf, nil
}

// UnmarshalBinary decodes a record from its on-flash wire format.
func (s *SignatureInFlash) UnmarshalBinary(buf []byte) error {
	if len(buf) < SignatureSize {
		return fmt.Errorf("flashmap: signature record too short: %d bytes", len(buf))
	}
	s.Version = binary.LittleEndian.Uint32(buf[0:4])
	s.SignedLen = binary.LittleEndian.Uint32(buf[4:8])
	copy(s.Signature[:], buf[8:8+64])
	return nil
}
