// Package bitflip implements the bit-order reversal used throughout the
// bitstream oracle: the Xilinx configuration engine consumes bits MSB-first
// per byte, while the AES engine this core drives processes bytes LSB-first
// per bit. Every word that crosses that boundary is bit-flipped.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package bitflip

import "fmt"

// Flip reverses each 4-byte group of src as one 32-bit string and writes
// the result into dst: the bits of every byte are reversed and the four
// bytes are written in reverse order, so the LSB of the first byte becomes
// the MSB of the last. len(src) and len(dst) must be equal and a multiple
// of 4.
func Flip(src, dst []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("bitflip: src and dst length mismatch (%d != %d)", len(src), len(dst))
	}
	if len(src)%4 != 0 {
		return fmt.Errorf("bitflip: length %d is not a multiple of 4", len(src))
	}

	for i := 0; i < len(src); i += 4 {
		word := uint32(src[i]) | uint32(src[i+1])<<8 | uint32(src[i+2])<<16 | uint32(src[i+3])<<24

		word = ((word >> 1) & 0x55555555) | ((word & 0x55555555) << 1)
		word = ((word >> 2) & 0x33333333) | ((word & 0x33333333) << 2)
		word = ((word >> 4) & 0x0F0F0F0F) | ((word & 0x0F0F0F0F) << 4)

		dst[i+0] = byte(word >> 24)
		dst[i+1] = byte(word >> 16)
		dst[i+2] = byte(word >> 8)
		dst[i+3] = byte(word)
	}

	return nil
}

// Bytes is a convenience wrapper around Flip that allocates and returns the
// flipped buffer, panicking on a malformed length (a programmer error, since
// callers control their own buffer sizes).
func Bytes(src []byte) []byte {
	dst := make([]byte, len(src))
	if err := Flip(src, dst); err != nil {
		panic(err)
	}
	return dst
}

