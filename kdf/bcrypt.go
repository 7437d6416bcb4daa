package kdf

import (
	"fmt"

	"golang.org/x/crypto/blowfish"
)

// bcryptMagic is the fixed 24-byte ciphertext ("OrpheanBeholderScryDoubt")
// that the bcrypt construction repeatedly encrypts.
var bcryptMagic = []byte("OrpheanBeholderScryDoubt")

// bcryptRaw implements the core bcrypt key-derivation construction (Provos
// & Mazières) and returns its raw 24-byte output.
//
// golang.org/x/crypto/bcrypt only exposes an API that generates its own
// random salt and returns a base64-encoded modular crypt string
// (GenerateFromPassword / CompareHashAndPassword); it has no entry point
// for a caller-supplied salt and raw hash output, and the salt here is
// derived from the device pepper, not random. This function is therefore
// built directly on golang.org/x/crypto/blowfish's salted key schedule
// (NewSaltedCipher/ExpandKey), the same primitive x/crypto/bcrypt itself
// is implemented on.
func bcryptRaw(cost int, salt [SaltLen]byte, password []byte) ([RawHashLen]byte, error) {
	var out [RawHashLen]byte

	if cost < 4 || cost > 31 {
		return out, fmt.Errorf("kdf: bcrypt cost %d out of range [4,31]", cost)
	}
	if len(password) == 0 {
		return out, fmt.Errorf("kdf: empty password")
	}
	if len(password) > 72 {
		password = password[:72]
	}

	key := make([]byte, 0, len(password)+1)
	key = append(key, password...)
	key = append(key, 0)

	c, err := blowfish.NewSaltedCipher(key, salt[:])
	if err != nil {
		return out, fmt.Errorf("kdf: blowfish salted cipher: %w", err)
	}

	rounds := uint64(1) << uint(cost)
	for i := uint64(0); i < rounds; i++ {
		blowfish.ExpandKey(key, c)
		blowfish.ExpandKey(salt[:], c)
	}

	cipherData := append([]byte(nil), bcryptMagic...)
	for i := 0; i < len(cipherData); i += 8 {
		block := cipherData[i : i+8]
		for j := 0; j < 64; j++ {
			c.Encrypt(block, block)
		}
	}

	copy(out[:], cipherData)
	return out, nil
}
