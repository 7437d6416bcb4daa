// Package oracle implements an AES-CBC codec bound to a Xilinx 7-series
// configuration bitstream: it locates the IV and ciphertext, decrypts
// arbitrary aligned windows, and re-encrypts whole erase-sectors while
// patching the eFuse/BBRAM boot-source bit and the KEYROM-bearing frames.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package oracle

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/usbarmory/rootkeys-core/bitflip"
	"github.com/usbarmory/rootkeys-core/bits"
)

// Oracle is a value object bound to a specific source bitstream and a pair
// of AES-256 keys, one to decrypt with and one to re-encrypt to.
type Oracle struct {
	source []byte

	decCipher cipher.Block
	encCipher cipher.Block

	iv [AESBlockSize]byte

	ciphertextOffset int
	ciphertextLen    int

	type2AbsoluteOffset   int
	type2CiphertextOffset int
	type2Count            uint32

	decFromKey KeySource
	encToKey   KeySource
}

// IV returns the oracle's bit-flipped initialization vector, the CBC
// chaining value that begins both Decrypt and EncryptSector. Callers
// driving a multi-sector copy (package copier) thread the chaining value
// between calls explicitly, since there is no memory-mapped flash here to
// read just-written ciphertext back from.
func (o *Oracle) IV() [AESBlockSize]byte { return o.iv }

// New constructs an oracle bound to bitstream, scanning its plaintext header
// for the IV and ciphertext-length command words, decrypting the first
// kilobyte to validate the supplied key and locate the type-2 configuration
// data, and recovering the current eFuse/BBRAM boot-source setting.
func New(decKey, encKey [32]byte, bitstream []byte) (*Oracle, error) {
	decCipher, err := aes.NewCipher(decKey[:])
	if err != nil {
		return nil, fmt.Errorf("oracle: dec key: %w", err)
	}
	encCipher, err := aes.NewCipher(encKey[:])
	if err != nil {
		return nil, fmt.Errorf("oracle: enc key: %w", err)
	}

	ivPos := -1
	ciphertextOffset := -1
	ciphertextLen := -1

	for pos := 0; pos+4 <= len(bitstream); pos++ {
		cwd := binary.BigEndian.Uint32(bitstream[pos : pos+4])
		if cwd == ivCmd {
			ivPos = pos + 4
		}
		if cwd == ciphertextCmd {
			lenPos := pos + 4
			if lenPos+4 > len(bitstream) {
				return nil, fmt.Errorf("%w: ciphertext length word truncated", ErrAlignment)
			}
			words := binary.BigEndian.Uint32(bitstream[lenPos : lenPos+4])
			ciphertextLen = int(words) * 4
			ciphertextOffset = lenPos + 4
			break
		}
	}

	if ivPos < 0 || ciphertextOffset < 0 {
		return nil, fmt.Errorf("%w: IV or ciphertext command word not found", ErrAlignment)
	}
	if ciphertextOffset%AESBlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext offset 0x%x is not 16-byte aligned", ErrAlignment, ciphertextOffset)
	}
	if ciphertextOffset+ciphertextLen > len(bitstream) {
		return nil, fmt.Errorf("%w: ciphertext region overruns bitstream", ErrAlignment)
	}
	if ivPos+AESBlockSize > len(bitstream) {
		return nil, fmt.Errorf("%w: IV truncated", ErrAlignment)
	}

	var iv [AESBlockSize]byte
	if err := bitflip.Flip(bitstream[ivPos:ivPos+AESBlockSize], iv[:]); err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}

	o := &Oracle{
		source:           bitstream,
		decCipher:        decCipher,
		encCipher:        encCipher,
		iv:               iv,
		ciphertextOffset: ciphertextOffset,
		ciphertextLen:    ciphertextLen,
	}

	first := make([]byte, 1024)
	if _, err := o.Decrypt(0, first); err != nil {
		return nil, err
	}

	for _, b := range first[saneRangeStart:saneRangeEnd] {
		if b != sanePatternByte {
			return nil, fmt.Errorf("%w: fpga key rejected, sanity pattern mismatch", ErrKey)
		}
	}

	found := false
	var flip [4]byte
	var cwd uint32
	matchPos := 0
	for pos := type2SearchStart; pos+4 <= len(first); pos += 4 {
		if err := bitflip.Flip(first[pos:pos+4], flip[:]); err != nil {
			return nil, fmt.Errorf("oracle: %w", err)
		}
		w := binary.BigEndian.Uint32(flip[:])
		if (w & type2OpcodeMask) == type2OpcodeValue {
			found = true
			cwd = w
			matchPos = pos
			break
		}
	}
	if !found || matchPos > type2SearchLimit {
		return nil, fmt.Errorf("%w: type-2 opcode not found within %d bytes", ErrKey, type2SearchLimit)
	}
	o.type2Count = cwd & type2CountMask
	o.type2CiphertextOffset = matchPos + 4
	o.type2AbsoluteOffset = o.type2CiphertextOffset + ciphertextOffset

	ctl0Enc, err := scanFlippedWord(first, ctl0CmdFlip)
	if err != nil {
		return nil, err
	}
	if bits.Get(&ctl0Enc, 31) {
		o.decFromKey = EFuse
	} else {
		o.decFromKey = BBRAM
	}
	o.encToKey = o.decFromKey

	return o, nil
}

// scanFlippedWord scans plaintext 32-bit words for cmd (compared in its
// already-flipped representation) and returns the bit-flipped value of the
// word immediately following it.
func scanFlippedWord(pt []byte, cmd uint32) (uint32, error) {
	for pos := 0; pos+8 <= len(pt); pos += 4 {
		word := binary.BigEndian.Uint32(pt[pos : pos+4])
		if word != cmd {
			continue
		}
		var flipped [4]byte
		if err := bitflip.Flip(pt[pos+4:pos+8], flipped[:]); err != nil {
			return 0, fmt.Errorf("oracle: %w", err)
		}
		return binary.BigEndian.Uint32(flipped[:]), nil
	}
	return 0, fmt.Errorf("%w: command word not found while scanning for boot source", ErrKey)
}

// CiphertextOffset returns the absolute byte offset where the ciphertext
// begins.
func (o *Oracle) CiphertextOffset() int { return o.ciphertextOffset }

// CiphertextLen returns the length of the ciphertext region, in bytes.
func (o *Oracle) CiphertextLen() int { return o.ciphertextLen }

// Type2CiphertextOffset returns the type-2 opcode's position relative to
// the start of ciphertext.
func (o *Oracle) Type2CiphertextOffset() int { return o.type2CiphertextOffset }

// Type2Count returns the number of type-2 configuration words.
func (o *Oracle) Type2Count() uint32 { return o.type2Count }

// SourceKeyType returns the boot-key source recovered from the bound
// bitstream.
func (o *Oracle) SourceKeyType() KeySource { return o.decFromKey }

// SetTargetKeyType selects the boot-key source the oracle will re-encrypt
// to. By default it matches the source bitstream's own setting.
func (o *Oracle) SetTargetKeyType(k KeySource) { o.encToKey = k }

// TargetKeyType returns the boot-key source the oracle will re-encrypt to.
func (o *Oracle) TargetKeyType() KeySource { return o.encToKey }

// ciphertext returns the bound bitstream's ciphertext sub-slice.
func (o *Oracle) ciphertext() []byte {
	return o.source[o.ciphertextOffset : o.ciphertextOffset+o.ciphertextLen]
}

// Decrypt decrypts ciphertext starting at the 16-byte-aligned offset
// fromCT, writing as many bytes as fit in out, and returns the number of
// bytes actually produced (a short read at the end of ciphertext is not an
// error). The returned plaintext is not bit-flipped back; callers must
// bit-flip it when interpreting command words.
func (o *Oracle) Decrypt(fromCT int, out []byte) (int, error) {
	if fromCT%AESBlockSize != 0 {
		return 0, fmt.Errorf("%w: decrypt offset 0x%x is not 16-byte aligned", ErrAlignment, fromCT)
	}

	ct := o.ciphertext()
	index := fromCT
	produced := 0

	var chain, flippedChain, flippedBlock, plainBlock [AESBlockSize]byte

	for produced < len(out) {
		if index+AESBlockSize > len(ct) {
			break
		}

		if index == 0 {
			chain = o.iv
		} else {
			if err := bitflip.Flip(ct[index-AESBlockSize:index], flippedChain[:]); err != nil {
				return produced, fmt.Errorf("oracle: %w", err)
			}
			chain = flippedChain
		}

		if err := bitflip.Flip(ct[index:index+AESBlockSize], flippedBlock[:]); err != nil {
			return produced, fmt.Errorf("oracle: %w", err)
		}
		o.decCipher.Decrypt(plainBlock[:], flippedBlock[:])

		n := AESBlockSize
		if remaining := len(out) - produced; remaining < n {
			n = remaining
		}
		for i := 0; i < n; i++ {
			out[produced+i] = plainBlock[i] ^ chain[i]
		}

		produced += n
		index += AESBlockSize
	}

	return produced, nil
}
