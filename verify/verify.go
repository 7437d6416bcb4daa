// Package verify re-reads a freshly re-encrypted bitstream, recomputes the
// two-pass SHA-256 HMAC construction package copier streams while writing,
// and compares the result against the stored tail in constant time.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package verify

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/usbarmory/rootkeys-core/bitflip"
	"github.com/usbarmory/rootkeys-core/oracle"
)

// sectorSize is the stride the verifier decrypts in; it need not match the
// flash erase-sector size since this package never writes.
const sectorSize = 4096

// Bitstream recomputes the two-pass HMAC embedded in o's bound bitstream
// and compares it against the stored value, returning a non-nil error
// (wrapping oracle.ErrAlignment or ErrIntegrity) on any discrepancy.
func Bitstream(o *oracle.Oracle) error {
	ciphertextLen := o.CiphertextLen()

	hashStop := ciphertextLen - oracle.HMACTailReserved - oracle.HMACFinalHashArea
	if hashStop < 0 {
		return fmt.Errorf("%w: ciphertext too short to hold the HMAC trailer", oracle.ErrAlignment)
	}

	preamble := make([]byte, 64)
	if _, err := o.Decrypt(0, preamble); err != nil {
		return fmt.Errorf("verify: decrypt preamble: %w", err)
	}

	var hmacCode [oracle.HMACLen]byte
	for i := 0; i < oracle.HMACLen; i++ {
		hmacCode[i] = preamble[i] ^ preamble[oracle.HMACLen+i]
	}

	h1 := sha256.New()
	for from := 0; from < hashStop; from += sectorSize {
		n := sectorSize
		if from+n > ciphertextLen {
			n = ciphertextLen - from
		}

		pt := make([]byte, n)
		if _, err := o.Decrypt(from, pt); err != nil {
			return fmt.Errorf("verify: decrypt at 0x%x: %w", from, err)
		}

		hashN := n
		if from+hashN > hashStop {
			hashN = hashStop - from
		}
		if hashN <= 0 {
			break
		}

		flipped := make([]byte, hashN)
		if err := bitflip.Flip(pt[:hashN], flipped); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		h1.Write(flipped)
	}
	h1sum := h1.Sum(nil)

	var maskedStored, mask [oracle.HMACLen]byte
	for i := range mask {
		mask[i] = oracle.HMACMaskByte
	}
	for i := range maskedStored {
		maskedStored[i] = hmacCode[i] ^ oracle.HMACMaskByte
	}

	h2 := sha256.New()
	h2.Write(bitflip.Bytes(maskedStored[:]))
	h2.Write(bitflip.Bytes(mask[:]))
	h2.Write(h1sum)
	want := h2.Sum(nil)

	tailFrom := ciphertextLen - oracle.HMACLen
	tail := make([]byte, oracle.HMACLen)
	if _, err := o.Decrypt(tailFrom, tail); err != nil {
		return fmt.Errorf("verify: decrypt tail: %w", err)
	}
	gotFlipped := bitflip.Bytes(tail)

	if subtle.ConstantTimeCompare(gotFlipped, want) != 1 {
		return fmt.Errorf("%w: bitstream HMAC mismatch", ErrIntegrity)
	}

	return nil
}
