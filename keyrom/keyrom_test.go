package keyrom

import "testing"

type fakeDevice struct {
	words [Words]uint32
}

func (d *fakeDevice) ReadWord(addr uint8) uint32       { return d.words[addr] }
func (d *fakeDevice) WriteWord(addr uint8, val uint32) { d.words[addr] = val }

func TestLoadCommitRoundTrip(t *testing.T) {
	var dev fakeDevice
	dev.words[Pepper] = 0x11223344

	var s Staging
	s.LoadFromDevice(&dev)

	if got := s.Word(Pepper); got != 0x11223344 {
		t.Fatalf("got %#x, want %#x", got, 0x11223344)
	}

	s.SetWord(Pepper, 0xAABBCCDD)
	s.CommitToDevice(&dev)

	if dev.words[Pepper] != 0xAABBCCDD {
		t.Fatalf("device word not updated, got %#x", dev.words[Pepper])
	}
}

func TestKeyFieldRoundTrip(t *testing.T) {
	var s Staging
	var key [32]byte
	for i := range key {
		key[i] = byte(i + 1)
	}

	s.SetKey(FPGAKey, key)
	if got := s.Key(FPGAKey); got != key {
		t.Fatalf("key round trip mismatch: got %x, want %x", got, key)
	}

	// Big-endian within the word: the first byte of the key
	// lands in the most significant byte of the first word.
	if first := s.Word(FPGAKey); first>>24 != uint32(key[0]) {
		t.Fatalf("key not packed big-endian: word %#x, first key byte %#x", first, key[0])
	}
}

func TestPepperBytesRoundTrip(t *testing.T) {
	var s Staging
	var p [16]byte
	for i := range p {
		p[i] = byte(0x10 + i)
	}

	s.SetPepperBytes(p)
	if got := s.PepperBytes(); got != p {
		t.Fatalf("pepper round trip mismatch: got %x, want %x", got, p)
	}
}

func TestPepperFromDeviceMatchesStagingLoad(t *testing.T) {
	var dev fakeDevice
	for i := 0; i < PepperWords; i++ {
		dev.words[Pepper+i] = uint32(0x1000 + i)
	}

	var s Staging
	s.LoadFromDevice(&dev)

	if got, want := PepperFromDevice(&dev), s.PepperBytes(); got != want {
		t.Fatalf("PepperFromDevice() = %x, want %x (from staged load)", got, want)
	}
}

func TestSetInitializedOnlyTouchesConfigBit27(t *testing.T) {
	var s Staging
	s.SetWord(Config, 0xFFFFFFFF&^(1<<27))

	if s.Initialized() {
		t.Fatal("fresh CONFIG word unexpectedly reports initialized")
	}

	s.SetInitialized()

	if !s.Initialized() {
		t.Fatal("SetInitialized did not set CONFIG.INITIALIZED")
	}
	if s.Word(Config) != 0xFFFFFFFF {
		t.Fatalf("SetInitialized touched other CONFIG bits: got %#x", s.Word(Config))
	}
}

func TestZeroizeClearsWholeImage(t *testing.T) {
	var s Staging
	s.SetWord(FPGAKey, 0xDEADBEEF)
	s.SetWord(Config, 1<<27)

	s.Zeroize()

	img := s.Image()
	for i, w := range img {
		if w != 0 {
			t.Fatalf("word %d not zeroized: %#x", i, w)
		}
	}
}
