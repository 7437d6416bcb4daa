// Package testbitstream builds synthetic Xilinx-bitstream-shaped fixtures
// for the oracle, copier, verify, and orchestrator test suites: a minimal
// plaintext header plus an AES-256-CBC, bit-flipped ciphertext body that
// satisfies the oracle's key-sanity and type-2-opcode checks, so those
// tests can exercise multi-sector decrypt/patch/encrypt pipelines without
// a real FPGA bitstream.
package testbitstream

import (
	"crypto/aes"

	"github.com/usbarmory/rootkeys-core/bitflip"
)

// Wire command words, mirrored from package oracle (unexported there).
const (
	ctl0Cmd       uint32 = 0x3000_A001
	maskCmd       uint32 = 0x3000_C001
	ivCmd         uint32 = 0x3001_6004
	ciphertextCmd uint32 = 0x3003_4001
	ctl0CmdFlip   uint32 = 0x8005_000C
	sanePattern   byte   = 0x6C
)

// HeaderLen is the fixed plaintext header length this builder emits.
const HeaderLen = 48

// TypeTwoOffset is the ciphertext-relative offset of the type-2 opcode
// word this builder always emits at.
const TypeTwoOffset = 64

// CTL0FlipOffset is the ciphertext-relative offset of the CTL0 flip-marker
// word this builder always emits at.
const CTL0FlipOffset = 72

// Options configures Build.
type Options struct {
	Key            [32]byte // AES-256 key the ciphertext is encrypted with
	IV             [16]byte // internal (unflipped) initialization vector
	KeySourceEfuse bool     // boot key source recorded in CTL0 / the flip marker
	Sectors        int      // number of 4KiB ciphertext sectors to emit (>=1)
	HMACCode       [32]byte // the HMAC code the first 64 plaintext bytes recover
	Type2Count     uint32   // type-2 configuration word count
}

// Result is a built fixture.
type Result struct {
	Bitstream        []byte
	CiphertextOffset int
	CiphertextLen    int
	Plaintext        []byte // the decrypted (un-flipped, AES-domain) ciphertext plaintext
}

func be32(w uint32) [4]byte {
	return [4]byte{byte(w >> 24), byte(w >> 16), byte(w >> 8), byte(w)}
}

// Build constructs a fixture per opts.
func Build(opts Options) (Result, error) {
	sectors := opts.Sectors
	if sectors < 1 {
		sectors = 1
	}
	ciphertextLen := sectors * 4096

	type2Count := opts.Type2Count
	if type2Count == 0 {
		type2Count = 24
	}

	pt := make([]byte, ciphertextLen)

	var mask [32]byte
	for i := range mask {
		mask[i] = sanePattern
	}
	for i := 0; i < 32; i++ {
		pt[i] = opts.HMACCode[i] ^ mask[i]
	}
	copy(pt[32:64], mask[:])

	// Type-2 opcode word: stored pre-flipped, since oracle.New bit-flips
	// each scanned word before comparing it against the opcode mask.
	type2Word := be32(0x4000_0000 | (type2Count & 0x03FF_FFFF))
	copy(pt[TypeTwoOffset:TypeTwoOffset+4], bitflip.Bytes(type2Word[:]))

	// CTL0 flip marker: compared in raw (unflipped) form by the oracle,
	// with only the value that follows it bit-flipped back. In the
	// flipped value the key-source bit (unflipped MSB) lands in bit 0 of
	// the last byte.
	flipCmd := be32(ctl0CmdFlip)
	copy(pt[CTL0FlipOffset:CTL0FlipOffset+4], flipCmd[:])

	if opts.KeySourceEfuse {
		pt[CTL0FlipOffset+7] = 0x01
	}

	for i := CTL0FlipOffset + 8; i < len(pt); i++ {
		pt[i] = byte(i * 31)
	}

	header := make([]byte, HeaderLen)
	c := be32(ctl0Cmd)
	copy(header[0:4], c[:])
	if opts.KeySourceEfuse {
		header[4] = 0x80
	}
	m := be32(maskCmd)
	copy(header[8:12], m[:])
	if opts.KeySourceEfuse {
		header[12] = 0x80
	}
	ivc := be32(ivCmd)
	copy(header[16:20], ivc[:])
	copy(header[20:36], bitflip.Bytes(opts.IV[:]))
	cc := be32(ciphertextCmd)
	copy(header[40:44], cc[:])
	lw := be32(uint32(ciphertextLen / 4))
	copy(header[44:48], lw[:])

	block, err := aes.NewCipher(opts.Key[:])
	if err != nil {
		return Result{}, err
	}

	ct := make([]byte, ciphertextLen)
	chain := opts.IV
	var tmp [16]byte
	for off := 0; off < ciphertextLen; off += 16 {
		for i := 0; i < 16; i++ {
			tmp[i] = pt[off+i] ^ chain[i]
		}
		block.Encrypt(tmp[:], tmp[:])
		chain = tmp
		copy(ct[off:off+16], bitflip.Bytes(tmp[:]))
	}

	bitstream := make([]byte, 0, HeaderLen+ciphertextLen)
	bitstream = append(bitstream, header...)
	bitstream = append(bitstream, ct...)

	return Result{
		Bitstream:        bitstream,
		CiphertextOffset: HeaderLen,
		CiphertextLen:    ciphertextLen,
		Plaintext:        pt,
	}, nil
}
