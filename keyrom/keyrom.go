// Package keyrom models the on-die 256×32-bit KEYROM register file and its
// in-RAM staging mirror.
//
// The staging mirror is zero except while a key operation is in progress
// and is owned exclusively by the orchestrator, which hands the components
// that need it a snapshot of its Image by pointer.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package keyrom

import (
	"encoding/binary"
	"runtime"

	"github.com/usbarmory/rootkeys-core/bits"
)

// Words is the number of 32-bit registers in the KEYROM.
const Words = 256

// Named offsets, in 32-bit words.
const (
	FPGAKey          = 0x00 // 8 words
	SelfsignPrivkey  = 0x08 // 8 words
	SelfsignPubkey   = 0x10 // 8 words
	DeveloperPubkey  = 0x18 // 8 words
	ThirdpartyPubkey = 0x20 // 8 words
	UserKey          = 0x28 // 8 words
	Pepper           = 0xF8 // 4 words
	FPGAMinRev       = 0xFC
	LoaderMinRev     = 0xFD
	Config           = 0xFF
)

// KeyWords is the number of 32-bit words spanned by every 256-bit key
// field (FPGA_KEY, SELFSIGN_PRIVKEY, SELFSIGN_PUBKEY, DEVELOPER_PUBKEY,
// THIRDPARTY_PUBKEY, USER_KEY).
const KeyWords = 8

// PepperWords is the number of 32-bit words spanned by PEPPER.
const PepperWords = 4

// CONFIG is a bit-packed record; INITIALIZED (bit 27) is the only field
// this core writes.
var (
	FieldInitialized = bits.NewField(1, 27)
)

// Device is the KEYROM CSR register contract: a single-cycle 256-entry
// 32-bit register file addressed by a write-only ADDRESS register and read
// through a DATA register. Words are big-endian when reinterpreted as byte
// streams.
type Device interface {
	ReadWord(addr uint8) uint32
	WriteWord(addr uint8, val uint32)
}

// Image is a 256-word KEYROM snapshot, either the live hardware contents or
// the in-RAM staging mirror.
type Image [Words]uint32

// Staging is the in-RAM mirror of the hardware KEYROM, explicitly
// zeroizable.
type Staging struct {
	img Image
}

// LoadFromDevice copies the live hardware KEYROM into the staging mirror.
func (s *Staging) LoadFromDevice(dev Device) {
	for i := 0; i < Words; i++ {
		s.img[i] = dev.ReadWord(uint8(i))
	}
}

// CommitToDevice writes the entire staged image back to hardware.
func (s *Staging) CommitToDevice(dev Device) {
	for i := 0; i < Words; i++ {
		dev.WriteWord(uint8(i), s.img[i])
	}
}

// Image returns a copy of the staged 256-word image.
func (s *Staging) Image() Image {
	return s.img
}

// Word reads a single 32-bit word.
func (s *Staging) Word(offset int) uint32 {
	return s.img[offset]
}

// SetWord writes a single 32-bit word.
func (s *Staging) SetWord(offset int, val uint32) {
	s.img[offset] = val
}

// readKey256 reads a KeyWords-wide field as 32 big-endian bytes.
func readKey256(img *Image, offset int) [32]byte {
	var out [32]byte
	for i := 0; i < KeyWords; i++ {
		binary.BigEndian.PutUint32(out[i*4:], img[offset+i])
	}
	return out
}

func writeKey256(img *Image, offset int, key [32]byte) {
	for i := 0; i < KeyWords; i++ {
		img[offset+i] = binary.BigEndian.Uint32(key[i*4 : i*4+4])
	}
}

// Key reads any of the 256-bit key fields (FPGA_KEY, SELFSIGN_PRIVKEY,
// SELFSIGN_PUBKEY, DEVELOPER_PUBKEY, THIRDPARTY_PUBKEY, USER_KEY).
func (s *Staging) Key(offset int) [32]byte {
	return readKey256(&s.img, offset)
}

// SetKey writes any of the 256-bit key fields.
func (s *Staging) SetKey(offset int, key [32]byte) {
	writeKey256(&s.img, offset, key)
}

// PepperBytes reads PEPPER as 16 big-endian bytes.
func (s *Staging) PepperBytes() [16]byte {
	var out [16]byte
	for i := 0; i < PepperWords; i++ {
		binary.BigEndian.PutUint32(out[i*4:], s.img[Pepper+i])
	}
	return out
}

// SetPepperBytes writes PEPPER from 16 big-endian bytes, as generated by
// the device TRNG during key initialization.
func (s *Staging) SetPepperBytes(p [16]byte) {
	for i := 0; i < PepperWords; i++ {
		s.img[Pepper+i] = binary.BigEndian.Uint32(p[i*4 : i*4+4])
	}
}

// PepperFromDevice reads PEPPER directly from hardware, without staging
// the rest of the KEYROM image; the salt path uses it once a device is
// already initialized.
func PepperFromDevice(dev Device) [16]byte {
	var out [16]byte
	for i := 0; i < PepperWords; i++ {
		binary.BigEndian.PutUint32(out[i*4:], dev.ReadWord(uint8(Pepper+i)))
	}
	return out
}

// KeyFromDevice reads any of the 256-bit key fields directly from
// hardware, without staging the rest of the KEYROM image.
func KeyFromDevice(dev Device, offset int) [32]byte {
	var out [32]byte
	for i := 0; i < KeyWords; i++ {
		binary.BigEndian.PutUint32(out[i*4:], dev.ReadWord(uint8(offset+i)))
	}
	return out
}

// Initialized reports whether CONFIG.INITIALIZED is set.
func (s *Staging) Initialized() bool {
	return FieldInitialized.Get(s.img[Config]) != 0
}

// SetInitialized sets CONFIG.INITIALIZED, the only CONFIG field this core
// ever writes.
func (s *Staging) SetInitialized() {
	s.img[Config] = FieldInitialized.Set(s.img[Config], 1)
}

// Zeroize clears the staging mirror. Called on every procedure exit path.
func (s *Staging) Zeroize() {
	for i := range s.img {
		s.img[i] = 0
	}
	runtime.KeepAlive(s)
}
