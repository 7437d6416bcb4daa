package rootkeys_test

import (
	"testing"

	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/flashwriter/flashsim"
	"github.com/usbarmory/rootkeys-core/gateware"
	"github.com/usbarmory/rootkeys-core/internal/fontstream"
	"github.com/usbarmory/rootkeys-core/internal/testbitstream"
	"github.com/usbarmory/rootkeys-core/kdf"
	"github.com/usbarmory/rootkeys-core/keyrom"
	"github.com/usbarmory/rootkeys-core/oracle"
	"github.com/usbarmory/rootkeys-core/pwcache"
	"github.com/usbarmory/rootkeys-core/rootkeys"
	"github.com/usbarmory/rootkeys-core/signer"
)

// fakeKeyromDevice is a plain in-memory stand-in for the hardware KEYROM
// CSR: a 256-entry 32-bit register file addressed by ReadWord / WriteWord.
type fakeKeyromDevice struct {
	words [keyrom.Words]uint32
}

func (d *fakeKeyromDevice) ReadWord(addr uint8) uint32 { return d.words[addr] }
func (d *fakeKeyromDevice) WriteWord(addr uint8, val uint32) {
	d.words[addr] = val
}

// seqRNG is a deterministic, non-cryptographic "TRNG" stand-in: an
// infinite byte source whose output is reproducible across test runs so
// fixtures built with it are deterministic.
type seqRNG struct {
	x uint32
}

func (r *seqRNG) Read(p []byte) (int, error) {
	for i := range p {
		r.x = r.x*1103515245 + 12345
		p[i] = byte(r.x >> 16)
	}
	return len(p), nil
}

func nullKey() [32]byte { return [32]byte{} }

// gatewareRegionSize is the full gateware region length the orchestrator
// assumes, signature record included. The encrypted-bitstream fixture only
// occupies the first few sectors; the remainder stands in for the
// plaintext metadata/CSR space and is zero-filled.
const gatewareRegionSize = flashmap.SelfSigOffset + flashmap.SignatureSize

// newFixture builds a structurally valid gateware bitstream
// (factory-encrypted to the null key) embedded at the start of a
// full-length gateware region, a same-sized staging region for InitKeys'
// backup step, and loader/kernel regions each large enough to hold a
// signature block plus a short body.
func newFixture(t *testing.T) (*flashsim.Sim, *fakeKeyromDevice) {
	t.Helper()

	var hmacCode [32]byte
	for i := range hmacCode {
		hmacCode[i] = byte(i * 7)
	}

	fx, err := testbitstream.Build(testbitstream.Options{
		Key:      nullKey(),
		Sectors:  4,
		HMACCode: hmacCode,
	})
	if err != nil {
		t.Fatalf("testbitstream.Build: %v", err)
	}

	gateware := make([]byte, gatewareRegionSize)
	copy(gateware, fx.Bitstream)

	loader := make([]byte, flashmap.SigBlockSize+1024)
	kernel := make([]byte, flashmap.SigBlockSize+1024)
	for i := range loader[flashmap.SigBlockSize:] {
		loader[flashmap.SigBlockSize+i] = byte(i)
	}
	for i := range kernel[flashmap.SigBlockSize:] {
		kernel[flashmap.SigBlockSize+i] = byte(i * 3)
	}

	sim := flashsim.New(map[flashmap.Region][]byte{
		flashmap.Gateware: gateware,
		flashmap.Staging:  make([]byte, gatewareRegionSize),
		flashmap.Loader:   loader,
		flashmap.Kernel:   kernel,
	})

	dev := &fakeKeyromDevice{}
	// FPGA_KEY starts at the null key, matching the gateware's own
	// factory encryption.
	for i := 0; i < keyrom.KeyWords; i++ {
		dev.words[keyrom.FPGAKey+i] = 0
	}

	return sim, dev
}

func newOrchestrator(sim *flashsim.Sim, dev *fakeKeyromDevice, font fontstream.Source) *rootkeys.Orchestrator {
	cfg := rootkeys.DefaultConfig()
	return rootkeys.New(cfg, dev, sim, &seqRNG{x: 1}, font, nil, nil, nil)
}

// TestInitKeysAgainstNullKey: after InitKeys, the gateware's first 64
// plaintext bytes decrypt cleanly under the unchanged FPGA key, recovered
// by unmasking KEYROM FPGA_KEY with the hashed update passphrase (the
// 0x6C sanity pattern the oracle itself checks on construction), and the
// self-signed gateware signature verifies.
func TestInitKeysAgainstNullKey(t *testing.T) {
	sim, dev := newFixture(t)
	font := fontstream.NewBuffer([]byte("glyph-data"))
	o := newOrchestrator(sim, dev, font)

	if err := o.InitKeys("correct horse", "battery staple"); err != nil {
		t.Fatalf("InitKeys: %v", err)
	}

	hashedUpdatePW, err := deriveHash(dev, "battery staple")
	if err != nil {
		t.Fatalf("derive update hash: %v", err)
	}
	encFPGAKey := readKey(dev, keyrom.FPGAKey)
	fpgaKey := xor(encFPGAKey, hashedUpdatePW)

	gw := sim.Region(flashmap.Gateware)
	oc, err := oracle.New(fpgaKey, fpgaKey, gw)
	if err != nil {
		t.Fatalf("oracle.New after InitKeys: %v", err)
	}
	if oc.SourceKeyType() != oracle.BBRAM {
		t.Fatalf("unexpected key source %v", oc.SourceKeyType())
	}

	pub := readKey(dev, keyrom.SelfsignPubkey)
	sigBuf := gw[flashmap.SelfSigOffset : flashmap.SelfSigOffset+flashmap.SignatureSize]
	var rec flashmap.SignatureInFlash
	if err := rec.UnmarshalBinary(sigBuf); err != nil {
		t.Fatalf("unmarshal gateware signature: %v", err)
	}
	if !signer.VerifyStrict(pub, gw[:flashmap.SelfSigOffset], rec.Signature) {
		t.Fatal("gateware self-signature did not verify")
	}

	// The plaintext metadata/CSR span must be copied through from the
	// staging backup rather than left as whatever the in-place
	// re-encryption happened to leave there.
	staging := sim.Region(flashmap.Staging)
	gotMeta := gw[flashmap.MetadataOffset:flashmap.SelfSigOffset]
	wantMeta := staging[flashmap.MetadataOffset:flashmap.SelfSigOffset]
	for i := range wantMeta {
		if gotMeta[i] != wantMeta[i] {
			t.Fatalf("metadata passthrough mismatch at byte %d: got %x, want %x", i, gotMeta[i], wantMeta[i])
		}
	}

	kernel := sim.Region(flashmap.Kernel)
	var kernelRec flashmap.SignatureInFlash
	if err := kernelRec.UnmarshalBinary(kernel[:flashmap.SignatureSize]); err != nil {
		t.Fatalf("unmarshal kernel signature: %v", err)
	}
	if kernelRec.SignedLen != uint32(len(kernel)-flashmap.SigBlockSize) {
		t.Fatalf("kernel signed_len = %d, want %d", kernelRec.SignedLen, len(kernel)-flashmap.SigBlockSize)
	}
	if !signer.VerifyStrict(pub, kernel[flashmap.SigBlockSize:], kernelRec.Signature) {
		t.Fatal("kernel signature did not verify")
	}
}

// TestUpdateGatewarePreservesKeySource: a staged update shipped encrypted
// to the null key is re-encrypted to the device key while the
// destination's original eFuse/BBRAM boot source is preserved, even though
// the update's own disposable CTL0 bits say otherwise.
func TestUpdateGatewarePreservesKeySource(t *testing.T) {
	sim, dev := newFixture(t)
	font := fontstream.NewBuffer([]byte("glyph-data"))
	o := newOrchestrator(sim, dev, font)

	if err := o.InitKeys("correct horse", "battery staple"); err != nil {
		t.Fatalf("InitKeys: %v", err)
	}

	// Build a staged update shipped encrypted to the null key, recording
	// EFuse in its own (soon-to-be-overridden) CTL0 bits.
	var hmacCode [32]byte
	for i := range hmacCode {
		hmacCode[i] = byte(i * 11)
	}
	update, err := testbitstream.Build(testbitstream.Options{
		Key:            nullKey(),
		Sectors:        4,
		HMACCode:       hmacCode,
		KeySourceEfuse: true,
	})
	if err != nil {
		t.Fatalf("testbitstream.Build(update): %v", err)
	}
	if err := sim.Patch(flashmap.Staging, 0, 0, update.Bitstream); err != nil {
		t.Fatalf("seed staging update: %v", err)
	}

	if err := o.Unlock(pwcache.Update, "battery staple"); err != nil {
		t.Fatalf("re-unlock update password: %v", err)
	}

	if err := o.UpdateGateware(); err != nil {
		t.Fatalf("UpdateGateware: %v", err)
	}

	hashedUpdatePW, err := deriveHash(dev, "battery staple")
	if err != nil {
		t.Fatalf("derive update hash: %v", err)
	}
	fpgaKey := xor(readKey(dev, keyrom.FPGAKey), hashedUpdatePW)

	gw := sim.Region(flashmap.Gateware)
	oc, err := oracle.New(fpgaKey, fpgaKey, gw)
	if err != nil {
		t.Fatalf("oracle.New after UpdateGateware: %v", err)
	}
	if oc.SourceKeyType() != oracle.BBRAM {
		t.Fatalf("boot key source changed by update: got %v, want bbram", oc.SourceKeyType())
	}
}

// TestSignXousSignsKernel: after SignXous, the kernel's committed
// SignatureInFlash record decodes version=1 and the expected signed
// length, and verifies against the device's own public key.
func TestSignXousSignsKernel(t *testing.T) {
	sim, dev := newFixture(t)
	font := fontstream.NewBuffer([]byte("glyph-data"))
	o := newOrchestrator(sim, dev, font)

	if err := o.InitKeys("correct horse", "battery staple"); err != nil {
		t.Fatalf("InitKeys: %v", err)
	}
	if err := o.Unlock(pwcache.Update, "battery staple"); err != nil {
		t.Fatalf("re-unlock update password: %v", err)
	}

	if err := o.SignXous(); err != nil {
		t.Fatalf("SignXous: %v", err)
	}

	pub := readKey(dev, keyrom.SelfsignPubkey)
	kernel := sim.Region(flashmap.Kernel)
	var rec flashmap.SignatureInFlash
	if err := rec.UnmarshalBinary(kernel[:flashmap.SignatureSize]); err != nil {
		t.Fatalf("unmarshal kernel signature: %v", err)
	}
	if rec.Version != flashmap.SignatureVersion {
		t.Fatalf("version = %d, want %d", rec.Version, flashmap.SignatureVersion)
	}
	if rec.SignedLen != uint32(len(kernel)-flashmap.SigBlockSize) {
		t.Fatalf("signed_len = %d, want %d", rec.SignedLen, len(kernel)-flashmap.SigBlockSize)
	}
	if !signer.VerifyStrict(pub, kernel[flashmap.SigBlockSize:], rec.Signature) {
		t.Fatal("kernel signature did not verify")
	}
}

// TestUpdateGatewareRequiresUnlockedUpdatePassword exercises the error
// path taken when the operator's passphrase is unset going into an update.
func TestUpdateGatewareRequiresUnlockedUpdatePassword(t *testing.T) {
	sim, dev := newFixture(t)
	font := fontstream.NewBuffer([]byte("glyph-data"))
	o := newOrchestrator(sim, dev, font)

	if err := o.InitKeys("correct horse", "battery staple"); err != nil {
		t.Fatalf("InitKeys: %v", err)
	}

	// No Unlock call since InitKeys' own cleanup purged the cache
	// (DefaultConfig's AlwaysPurge retention policy).
	if err := o.UpdateGateware(); err == nil {
		t.Fatal("expected error when update passphrase is not unlocked")
	}
}

// TestCheckGatewareSignatureAfterInit: the freshly provisioned gateware
// verifies under the device's own self-sign key, while the staging backup
// still carries the unsigned factory image.
func TestCheckGatewareSignatureAfterInit(t *testing.T) {
	sim, dev := newFixture(t)
	font := fontstream.NewBuffer([]byte("glyph-data"))
	o := newOrchestrator(sim, dev, font)

	if err := o.InitKeys("correct horse", "battery staple"); err != nil {
		t.Fatalf("InitKeys: %v", err)
	}

	got, err := o.CheckGatewareSignature(gateware.Boot)
	if err != nil {
		t.Fatalf("CheckGatewareSignature: %v", err)
	}
	if got != signer.SelfSignOk {
		t.Fatalf("CheckGatewareSignature = %v, want SelfSignOk", got)
	}

	got, err = o.CheckGatewareSignature(gateware.Staging)
	if err != nil {
		t.Fatalf("CheckGatewareSignature(staging): %v", err)
	}
	if got != signer.Invalid {
		t.Fatalf("CheckGatewareSignature(staging) = %v, want Invalid", got)
	}
}

// ---- test helpers reaching into the device/keyrom state directly ----

func readKey(dev *fakeKeyromDevice, offset int) [32]byte {
	var out [32]byte
	for i := 0; i < keyrom.KeyWords; i++ {
		w := dev.words[offset+i]
		out[i*4+0] = byte(w >> 24)
		out[i*4+1] = byte(w >> 16)
		out[i*4+2] = byte(w >> 8)
		out[i*4+3] = byte(w)
	}
	return out
}

func xor(a, b [32]byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// deriveHash re-derives the KDF hash a test independently expects the
// orchestrator to have cached, using the device's own post-InitKeys pepper,
// so the test never needs to reach into the orchestrator's private
// PasswordCache.
func deriveHash(dev *fakeKeyromDevice, password string) ([32]byte, error) {
	pepper := keyrom.PepperFromDevice(dev)
	return kdf.Derive(kdf.DefaultCost, pepper, pwcache.Update, password)
}
