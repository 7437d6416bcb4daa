package oracle

import (
	"encoding/binary"
	"fmt"

	"github.com/usbarmory/rootkeys-core/bitflip"
)

// EncryptSector re-encrypts a whole erase-sector worth of plaintext,
// starting at the ciphertext-relative offset fromCT, writing bit-flipped
// AES-256-CBC ciphertext into out.
//
// fromCT <= 0 selects the header/first sector, chaining from the oracle's
// IV; otherwise chaining continues from chainIn, the value returned as
// chainOut by the call that encrypted the immediately preceding sector.
// Callers (package copier) invoke EncryptSector on successive,
// monotonically increasing sector boundaries, except when redoing the
// final sector for the HMAC-tail rewrite, which supplies the same chainIn
// it used the first time. EncryptSector is a pure function of (fromCT,
// chainIn, pt) and holds no chaining state of its own.
//
// fromCT < 0 additionally means out must hold room for the plaintext
// header, which is copied verbatim ahead of the ciphertext, and the
// CTL0/MASK boot-source command words embedded in that header (and in the
// to-be-encrypted plaintext itself) are patched in place to match
// o.TargetKeyType().
//
// pt is mutated in place where the boot-source bits need patching before
// encryption; the caller must not reuse it as a reference copy afterward.
func (o *Oracle) EncryptSector(fromCT int, chainIn [AESBlockSize]byte, pt []byte, out []byte) (chainOut [AESBlockSize]byte, err error) {
	if len(pt)%AESBlockSize != 0 {
		return chainOut, fmt.Errorf("%w: plaintext length must be a multiple of %d", ErrAlignment, AESBlockSize)
	}

	outStart := 0
	if fromCT < 0 {
		if len(out) != len(pt)+o.ciphertextOffset {
			return chainOut, fmt.Errorf("%w: header sector output must reserve room for the plaintext header", ErrAlignment)
		}

		copy(out[:o.ciphertextOffset], o.source[:o.ciphertextOffset])
		outStart = o.ciphertextOffset

		patches := 0
		for pos := 0; pos+8 <= o.ciphertextOffset && patches < 2; pos += 4 {
			cwd := binary.BigEndian.Uint32(out[pos : pos+4])
			if cwd != ctl0Cmd && cwd != maskCmd {
				continue
			}
			pos += 4
			switch o.encToKey {
			case BBRAM:
				out[pos] &^= keySourceMSBBit
			case EFuse:
				out[pos] |= keySourceMSBBit
			}
			patches++
		}

		if err := patchFlippedCtl0(pt, type2SearchStart, o.encToKey); err != nil && err != errCtl0NotFound {
			return chainOut, err
		}
	} else if len(out) != len(pt) {
		return chainOut, fmt.Errorf("%w: input and output length must match", ErrAlignment)
	}

	chain := chainIn
	if fromCT <= 0 {
		chain = o.iv
	}

	secondPassThreshold := int32(o.type2Count)*4 + int32(o.type2CiphertextOffset)
	secondPassThreshold = (secondPassThreshold & 0x7FFF_F000) - 0x1000
	if int32(fromCT) > secondPassThreshold {
		if err := patchFlippedCtl0(pt, 0, o.encToKey); err != nil && err != errCtl0NotFound {
			return chainOut, err
		}
	}

	var tmp, flipped [AESBlockSize]byte
	for off := 0; off+AESBlockSize <= len(pt); off += AESBlockSize {
		for i := 0; i < AESBlockSize; i++ {
			tmp[i] = pt[off+i] ^ chain[i]
		}
		o.encCipher.Encrypt(tmp[:], tmp[:])
		chain = tmp

		if err := bitflip.Flip(tmp[:], flipped[:]); err != nil {
			return chainOut, fmt.Errorf("oracle: %w", err)
		}
		copy(out[outStart+off:outStart+off+AESBlockSize], flipped[:])
	}

	return chain, nil
}

var errCtl0NotFound = fmt.Errorf("%w: ctl0 flip command word not found in sector", ErrKey)

// patchFlippedCtl0 scans plaintext for the flipped CTL0 command word
// starting at startPos, and patches bit 0 of byte 3 of the following 4-byte
// value to match keySource. It patches at most one occurrence.
func patchFlippedCtl0(pt []byte, startPos int, keySource KeySource) error {
	for pos := startPos; pos+8 <= len(pt); pos += 4 {
		cwd := binary.BigEndian.Uint32(pt[pos : pos+4])
		if cwd != ctl0CmdFlip {
			continue
		}
		valPos := pos + 4
		switch keySource {
		case BBRAM:
			pt[valPos+3] &^= ctl0FlipLSBBit
		case EFuse:
			pt[valPos+3] |= ctl0FlipLSBBit
		}
		return nil
	}
	return errCtl0NotFound
}
