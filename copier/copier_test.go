package copier_test

import (
	"bytes"
	"testing"

	"github.com/usbarmory/rootkeys-core/bitflip"
	"github.com/usbarmory/rootkeys-core/copier"
	"github.com/usbarmory/rootkeys-core/internal/testbitstream"
	"github.com/usbarmory/rootkeys-core/keyrom"
	"github.com/usbarmory/rootkeys-core/oracle"
)

// memSink is a plain in-memory Sink, standing in for a region-bound
// flashwriter.Writer: it just needs to land bytes at the right absolute
// offset, without flash's sector-alignment constraints.
type memSink struct {
	buf []byte
}

func (m *memSink) Patch(offset uint32, data []byte) error {
	copy(m.buf[offset:], data)
	return nil
}

func fixtureKey(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestCopyRoundTrip(t *testing.T) {
	srcKey := fixtureKey(0x10)
	dstKey := fixtureKey(0x20)

	var hmacCode [32]byte
	for i := range hmacCode {
		hmacCode[i] = byte(i)
	}

	fx, err := testbitstream.Build(testbitstream.Options{
		Key:      srcKey,
		Sectors:  4,
		HMACCode: hmacCode,
	})
	if err != nil {
		t.Fatal(err)
	}

	src, err := oracle.New(srcKey, srcKey, fx.Bitstream)
	if err != nil {
		t.Fatalf("New(src): %v", err)
	}

	dstBitstream := make([]byte, len(fx.Bitstream))
	copy(dstBitstream, fx.Bitstream)
	dst, err := oracle.New(srcKey, dstKey, dstBitstream)
	if err != nil {
		t.Fatalf("New(dst): %v", err)
	}

	var img keyrom.Image
	img[0] = 0xAABBCCDD // within the KEYROM-bearing frame range

	sink := &memSink{buf: make([]byte, len(fx.Bitstream))}
	copy(sink.buf, fx.Bitstream) // header bytes outside copier's write range carry over

	h2, err := copier.Copy(src, dst, &img, sink, nil)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}

	reread, err := oracle.New(dstKey, dstKey, sink.buf)
	if err != nil {
		t.Fatalf("New(reread): %v", err)
	}

	got := make([]byte, reread.CiphertextLen())
	if _, err := reread.Decrypt(0, got); err != nil {
		t.Fatalf("Decrypt(reread): %v", err)
	}

	// The first 32 bytes (hmac_opad_stored) and the sanity-pattern mask
	// must survive the copy untouched.
	if !bytes.Equal(got[:64], fx.Plaintext[:64]) {
		t.Fatalf("preamble mismatch after copy")
	}

	// The trailing 32 bytes of plaintext hold bitflip(h2); un-flip and
	// compare against the HMAC Copy returned.
	tail := got[len(got)-32:]
	unflipped := make([]byte, 32)
	if err := bitflip.Flip(tail, unflipped); err != nil {
		t.Fatalf("bitflip: %v", err)
	}
	if !bytes.Equal(unflipped, h2[:]) {
		t.Fatalf("trailing HMAC mismatch: got %x, want %x", unflipped, h2[:])
	}
}
