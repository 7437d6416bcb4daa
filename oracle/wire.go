package oracle

// Bitstream wire constants, big-endian 32-bit command words. The _FLIP
// variant is the bit-reversed representation of the CTL0 write command, the
// form it takes inside the encrypted (bit-flipped) payload.
const (
	ctl0Cmd          uint32 = 0x3000_A001
	maskCmd          uint32 = 0x3000_C001
	ivCmd            uint32 = 0x3001_6004
	ciphertextCmd    uint32 = 0x3003_4001
	ctl0CmdFlip      uint32 = 0x8005_000C
	type2OpcodeMask  uint32 = 0xE000_0000
	type2OpcodeValue uint32 = 0x4000_0000
	type2CountMask   uint32 = 0x03FF_FFFF
)

// Key-source bit positions: the CTL0 value's MSB selects eFuse over BBRAM.
// In the plaintext header that is bit 7 of the value's first byte; in the
// flipped payload representation it lands in bit 0 of the value's last
// byte.
const (
	keySourceMSBBit byte = 0x80
	ctl0FlipLSBBit  byte = 0x01
)

// AESBlockSize is the AES block size used throughout the oracle.
const AESBlockSize = 16

// sanePatternByte fills bytes 32..64 of a correctly decrypted payload and
// is the sole indication that the supplied AES key is right.
const sanePatternByte = 0x6C

const (
	saneRangeStart = 32
	saneRangeEnd   = 64
)

// type2SearchStart is where the type-2 opcode scan begins, just past the
// HMAC preamble.
const type2SearchStart = 64

// type2SearchLimit bounds how far the type-2 opcode scan may run before the
// key is rejected; the opcode is normally found within the first 200 bytes.
const type2SearchLimit = 1000

// frameStrideWords is the number of 32-bit words per Xilinx 7-series
// configuration frame.
const frameStrideWords = 101

// HMACTailReserved and HMACFinalHashArea are the trailing pad and
// final-hash area sizes native to the Xilinx 7-series bitstream format.
const (
	HMACTailReserved  = 320
	HMACFinalHashArea = 160
)

// HMACMaskByte is the constant inner/outer pad XOR byte of the bitstream's
// two-pass HMAC construction.
const HMACMaskByte = 0x3A

// HMACLen is the length of the bitstream's embedded HMAC code and of each
// SHA-256 hash in its two-pass construction.
const HMACLen = 32

// KeySource is the FPGA boot key source selected by the CTL0 register.
type KeySource int

const (
	BBRAM KeySource = iota
	EFuse
)

func (k KeySource) String() string {
	if k == EFuse {
		return "efuse"
	}
	return "bbram"
}
