// Package pwcache implements the process-local, zeroizable region holding
// hashed boot/update passphrases and the recovered FPGA key.
//
// The backing page is never reinterpreted through unsafe pointer casts;
// all access goes through the typed view methods on Page, and Purge (one
// password type's slots) and Zeroize (the whole page) are the only ways to
// clear it.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package pwcache

import "runtime"

// PageSize is the fixed size of the backing allocation, one flash/MMU page.
const PageSize = 4096

// HashLen is the length, in bytes, of a stored hashed passphrase or the
// recovered FPGA key.
const HashLen = 32

// field layout within the page
const (
	offHashedBootPW      = 0
	offHashedBootPWValid = offHashedBootPW + HashLen
	offHashedUpdatePW    = offHashedBootPWValid + 4
	offHashedUpdateValid = offHashedUpdatePW + HashLen
	offFPGAKey           = offHashedUpdateValid + 4
	offFPGAKeyValid      = offFPGAKey + HashLen
)

// PasswordType distinguishes the boot passphrase from the update
// passphrase; it also discriminates the KDF salt.
type PasswordType int

const (
	Boot PasswordType = iota + 1
	Update
)

// Page is the fixed-layout backing store. Its zero value is a valid, empty
// cache: every valid flag is zero and every hash is all-zero bytes.
type Page struct {
	buf [PageSize]byte
}

func (p *Page) valid(off int) bool {
	return p.buf[off] != 0 || p.buf[off+1] != 0 || p.buf[off+2] != 0 || p.buf[off+3] != 0
}

func (p *Page) setValid(off int, v bool) {
	var b byte
	if v {
		b = 1
	}
	p.buf[off], p.buf[off+1], p.buf[off+2], p.buf[off+3] = b, 0, 0, 0
}

// HashedBootPassword returns the cached boot-passphrase hash and whether it
// is valid.
func (p *Page) HashedBootPassword() (hash [HashLen]byte, ok bool) {
	copy(hash[:], p.buf[offHashedBootPW:offHashedBootPW+HashLen])
	return hash, p.valid(offHashedBootPWValid)
}

// SetHashedBootPassword stores a new boot-passphrase hash and marks it valid.
func (p *Page) SetHashedBootPassword(hash [HashLen]byte) {
	copy(p.buf[offHashedBootPW:offHashedBootPW+HashLen], hash[:])
	p.setValid(offHashedBootPWValid, true)
}

// HashedUpdatePassword returns the cached update-passphrase hash and whether
// it is valid.
func (p *Page) HashedUpdatePassword() (hash [HashLen]byte, ok bool) {
	copy(hash[:], p.buf[offHashedUpdatePW:offHashedUpdatePW+HashLen])
	return hash, p.valid(offHashedUpdateValid)
}

// SetHashedUpdatePassword stores a new update-passphrase hash and marks it
// valid.
func (p *Page) SetHashedUpdatePassword(hash [HashLen]byte) {
	copy(p.buf[offHashedUpdatePW:offHashedUpdatePW+HashLen], hash[:])
	p.setValid(offHashedUpdateValid, true)
}

// FPGAKey returns the cached, recovered FPGA key and whether it is valid.
func (p *Page) FPGAKey() (key [HashLen]byte, ok bool) {
	copy(key[:], p.buf[offFPGAKey:offFPGAKey+HashLen])
	return key, p.valid(offFPGAKeyValid)
}

// SetFPGAKey stores the recovered FPGA key and marks it valid.
func (p *Page) SetFPGAKey(key [HashLen]byte) {
	copy(p.buf[offFPGAKey:offFPGAKey+HashLen], key[:])
	p.setValid(offFPGAKeyValid, true)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// Prevent the compiler from treating the preceding writes as dead
	// stores, since nothing else observably reads this slice again.
	runtime.KeepAlive(b)
}

// Purge zeroizes the slot(s) for the given password type. Purging Update
// also zeroizes the cached FPGA key, which only an unlocked update
// passphrase can recover.
func (p *Page) Purge(t PasswordType) {
	switch t {
	case Boot:
		zero(p.buf[offHashedBootPW:offHashedBootPWValid+4])
	case Update:
		zero(p.buf[offHashedUpdatePW:offHashedUpdateValid+4])
		zero(p.buf[offFPGAKey:offFPGAKeyValid+4])
	}
}

// Zeroize clears the entire page, every slot and valid flag at once.
func (p *Page) Zeroize() {
	zero(p.buf[:])
}
