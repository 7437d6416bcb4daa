package pwcache

import "testing"

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestEmptyPageInvalid(t *testing.T) {
	var p Page

	if _, ok := p.HashedBootPassword(); ok {
		t.Fatal("fresh page reports boot password valid")
	}
	if _, ok := p.HashedUpdatePassword(); ok {
		t.Fatal("fresh page reports update password valid")
	}
	if _, ok := p.FPGAKey(); ok {
		t.Fatal("fresh page reports fpga key valid")
	}
}

func TestSetAndRead(t *testing.T) {
	var p Page
	var h [HashLen]byte
	for i := range h {
		h[i] = byte(i + 1)
	}

	p.SetHashedBootPassword(h)
	got, ok := p.HashedBootPassword()
	if !ok || got != h {
		t.Fatalf("got %x ok=%v, want %x", got, ok, h)
	}

	p.SetFPGAKey(h)
	got, ok = p.FPGAKey()
	if !ok || got != h {
		t.Fatalf("fpga key round trip failed")
	}
}

func TestPurgeUpdateClearsFPGAKey(t *testing.T) {
	var p Page
	var h [HashLen]byte
	h[0] = 0xAA

	p.SetHashedUpdatePassword(h)
	p.SetFPGAKey(h)

	p.Purge(Update)

	if _, ok := p.HashedUpdatePassword(); ok {
		t.Fatal("update password still valid after purge")
	}
	if _, ok := p.FPGAKey(); ok {
		t.Fatal("fpga key still valid after update purge")
	}
}

func TestPurgeBootLeavesUpdate(t *testing.T) {
	var p Page
	var h [HashLen]byte
	h[0] = 0xBB

	p.SetHashedBootPassword(h)
	p.SetHashedUpdatePassword(h)

	p.Purge(Boot)

	if _, ok := p.HashedBootPassword(); ok {
		t.Fatal("boot password still valid after purge")
	}
	if _, ok := p.HashedUpdatePassword(); !ok {
		t.Fatal("update password unexpectedly cleared by boot purge")
	}
}

func TestZeroizeClearsWholePage(t *testing.T) {
	var p Page
	var h [HashLen]byte
	h[0] = 0xCC

	p.SetHashedBootPassword(h)
	p.SetHashedUpdatePassword(h)
	p.SetFPGAKey(h)

	p.Zeroize()

	if !allZero(p.buf[:]) {
		t.Fatal("page not fully zeroized")
	}
}
