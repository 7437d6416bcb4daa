package signer

import (
	"crypto/sha512"
	"fmt"
	"io"

	"filippo.io/edwards25519"

	"github.com/usbarmory/rootkeys-core/internal/fontstream"
)

// StreamingSign is a hand-rolled deterministic Ed25519 construction: two
// SHA-512 passes, over (nonce || loaderBody || font-stream) and then over
// (R || pubkey || loaderBody || font-stream), built directly
// on filippo.io/edwards25519's scalar/point arithmetic. Neither
// crypto/ed25519 nor golang.org/x/crypto/ed25519 exposes a hash-then-sign
// entry point that can be interleaved with a second, externally supplied
// data stream between the nonce-priming hash and the challenge hash; the
// loader body lives in one process and the font-glyph data it must also
// cover lives in another, reached only through a restartable bulk-read
// channel.
//
// seed is the 32-byte Ed25519 seed; pubkey is the matching public key,
// used verbatim in the second hash rather than recomputed. font is
// restarted between the two passes; fontLen is the total number of font
// bytes streamed in either pass, for the caller to fold into the record's
// signed length.
func StreamingSign(seed [32]byte, pubkey [32]byte, loaderBody []byte, font fontstream.Source) (sig [64]byte, fontLen int, err error) {
	expanded := sha512.Sum512(seed[:])

	a, err := edwards25519.NewScalar().SetBytesWithClamping(expanded[:32])
	if err != nil {
		return sig, 0, fmt.Errorf("signer: clamp scalar: %w", err)
	}
	nonce := expanded[32:64]

	h1 := sha512.New()
	h1.Write(nonce)
	h1.Write(loaderBody)
	n1, err := streamFont(h1, font)
	if err != nil {
		return sig, 0, fmt.Errorf("signer: hash pass 1: %w", err)
	}

	r, err := edwards25519.NewScalar().SetUniformBytes(h1.Sum(nil))
	if err != nil {
		return sig, 0, fmt.Errorf("signer: reduce r: %w", err)
	}
	R := edwards25519.NewIdentityPoint().ScalarBaseMult(r)

	font.Restart()

	h2 := sha512.New()
	h2.Write(R.Bytes())
	h2.Write(pubkey[:])
	h2.Write(loaderBody)
	n2, err := streamFont(h2, font)
	if err != nil {
		return sig, 0, fmt.Errorf("signer: hash pass 2: %w", err)
	}
	if n2 != n1 {
		return sig, 0, fmt.Errorf("signer: font stream length changed between passes (%d != %d)", n1, n2)
	}

	k, err := edwards25519.NewScalar().SetUniformBytes(h2.Sum(nil))
	if err != nil {
		return sig, 0, fmt.Errorf("signer: reduce k: %w", err)
	}

	s := edwards25519.NewScalar().MultiplyAdd(k, a, r)

	copy(sig[:32], R.Bytes())
	copy(sig[32:], s.Bytes())

	return sig, n1, nil
}

// streamFont writes font's bytes into w, reading until a short (or empty)
// chunk signals end-of-stream. Restarting the source between passes is the
// caller's responsibility.
func streamFont(w io.Writer, font fontstream.Source) (int, error) {
	total := 0
	for {
		chunk, full := font.Next()
		if len(chunk) > 0 {
			if _, err := w.Write(chunk); err != nil {
				return total, err
			}
			total += len(chunk)
		}
		if !full {
			return total, nil
		}
	}
}
