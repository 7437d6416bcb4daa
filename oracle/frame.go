package oracle

import "github.com/usbarmory/rootkeys-core/keyrom"

// ciphertextOffsetToFrame converts a ciphertext-relative byte offset into
// its (frame, word-in-frame) coordinates, with the type-2 configuration
// data as the frame-numbering origin.
func (o *Oracle) ciphertextOffsetToFrame(offset int) (frame, wordInFrame int) {
	type2Offset := offset - o.type2CiphertextOffset
	frame = type2Offset / (frameStrideWords * 4)
	frameOffset := type2Offset - frame*frameStrideWords*4
	return frame, frameOffset / 4
}

// patchFirstFrame and patchLastFrame bound the contiguous run of
// configuration frames that carry the 256-word KEYROM image, one KEYROM
// word per frame word in frame order. Which frames those are is fixed by
// the place-and-route of the gateware build, not by the bitstream wire
// format; the window starts past the command words at the head of the
// configuration data, which must never be patched over.
const (
	patchFirstFrame = 3
	patchLastFrame  = patchFirstFrame + (keyrom.Words+frameStrideWords-1)/frameStrideWords - 1
)

// shouldPatch is a tight range check over the KEYROM-bearing frame window,
// in place of a table lookup.
func shouldPatch(frame int) bool {
	return frame >= patchFirstFrame && frame <= patchLastFrame
}

// patchFrame returns the replacement big-endian word for (frame,
// wordInFrame) drawn from img, plus a same-width dummy value the caller
// XORs into a running accumulator on every call, patch or not, so that the
// patch loop's timing does not depend on which frames actually carry
// KEYROM data.
//
// ok is false when (frame, wordInFrame) does not map to any of the 256
// KEYROM words, in which case the caller leaves the ciphertext word
// untouched.
func patchFrame(frame, wordInFrame int, img *keyrom.Image) (patch uint32, dummy uint32, ok bool) {
	flat := (frame-patchFirstFrame)*frameStrideWords + wordInFrame
	if flat < 0 || flat >= keyrom.Words {
		return 0, dummyPatchValue, false
	}
	return img[flat], dummyPatchValue, true
}

// dummyPatchValue is XORed into the constant-time accumulator in place of a
// real patch word whenever patchFrame declines to patch, so every iteration
// of the patch loop performs the same XOR regardless of outcome.
const dummyPatchValue = 0x5A5A5A5A

// PatchWordAt returns the replacement for the 4-byte-aligned
// ciphertext-relative offset off, drawn from the staged KEYROM image, plus
// the dummy accumulator value the caller must XOR in whether or not a patch
// occurred. ok is false when off falls outside the KEYROM-bearing frame
// window, in which case the word is left untouched.
func (o *Oracle) PatchWordAt(off int, img *keyrom.Image) (patch uint32, dummy uint32, ok bool) {
	frame, wordInFrame := o.ciphertextOffsetToFrame(off)
	if !shouldPatch(frame) {
		return 0, dummyPatchValue, false
	}
	return patchFrame(frame, wordInFrame, img)
}
