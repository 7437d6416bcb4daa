// Package signer provides ordinary Ed25519 signing for the kernel and
// gateware regions, the hand-rolled two-pass streaming Ed25519
// construction the loader region requires (see streaming.go), and the
// multi-signer check used to validate a gateware image against any of its
// three candidate public keys.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package signer

import "crypto/ed25519"

// Sign computes an ordinary (non-streaming) Ed25519 signature over
// message: standard crypto/ed25519 keypair derivation from a 32-byte seed,
// the same derivation the loader's streaming signer (streaming.go)
// re-implements by hand for its restartable two-pass hash.
func Sign(seed [32]byte, message []byte) [64]byte {
	priv := ed25519.NewKeyFromSeed(seed[:])
	sig := ed25519.Sign(priv, message)
	var out [64]byte
	copy(out[:], sig)
	return out
}

// VerifyStrict reports whether sig is a valid Ed25519 signature over
// message under pub. crypto/ed25519.Verify already rejects non-canonical
// signature encodings.
func VerifyStrict(pub [32]byte, message []byte, sig [64]byte) bool {
	return ed25519.Verify(pub[:], message, sig[:])
}

// CheckResult is the outcome of CheckGatewareSignature, one value per
// trust tier plus Invalid.
type CheckResult int

const (
	Invalid CheckResult = iota
	SelfSignOk
	ThirdPartyOk
	DevKeyOk
)

func (r CheckResult) String() string {
	switch r {
	case SelfSignOk:
		return "self-sign-ok"
	case ThirdPartyOk:
		return "third-party-ok"
	case DevKeyOk:
		return "dev-key-ok"
	default:
		return "invalid"
	}
}

// CheckGatewareSignature tries each of the three KEYROM public-key slots
// in order (self-sign, third-party, developer), skipping any that are all
// zero, and returns the first kind whose key verifies sig over body, or
// Invalid if none do.
func CheckGatewareSignature(selfsign, thirdparty, developer [32]byte, body []byte, sig [64]byte) CheckResult {
	candidates := []struct {
		key  [32]byte
		kind CheckResult
	}{
		{selfsign, SelfSignOk},
		{thirdparty, ThirdPartyOk},
		{developer, DevKeyOk},
	}

	for _, c := range candidates {
		if allZero(c.key[:]) {
			continue
		}
		if VerifyStrict(c.key, body, sig) {
			return c.kind
		}
	}

	return Invalid
}

func allZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}
