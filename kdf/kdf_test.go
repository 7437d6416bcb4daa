package kdf

import (
	"testing"

	"github.com/usbarmory/rootkeys-core/pwcache"
)

func testPepper() [SaltLen]byte {
	var p [SaltLen]byte
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func TestDeriveDeterministic(t *testing.T) {
	pepper := testPepper()

	a, err := Derive(4, pepper, pwcache.Boot, "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Derive(4, pepper, pwcache.Boot, "correct horse")
	if err != nil {
		t.Fatal(err)
	}

	if a != b {
		t.Fatal("derivation is not deterministic for identical inputs")
	}
}

func TestDeriveDiffersByType(t *testing.T) {
	pepper := testPepper()

	boot, err := Derive(4, pepper, pwcache.Boot, "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	update, err := Derive(4, pepper, pwcache.Update, "correct horse")
	if err != nil {
		t.Fatal(err)
	}

	if boot == update {
		t.Fatal("boot and update passphrase hashes collided for the same plaintext")
	}

	diff := 0
	for i := range boot {
		if boot[i] != update[i] {
			diff++
		}
	}
	// Avalanche: flipping the type discriminant should change most bytes,
	// not just leave a narrow diff trail.
	if diff < OutLen/2 {
		t.Fatalf("only %d/%d bytes differ between boot/update hashes, want avalanche", diff, OutLen)
	}
}

func TestDeriveDiffersByPassword(t *testing.T) {
	pepper := testPepper()

	a, err := Derive(4, pepper, pwcache.Boot, "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Derive(4, pepper, pwcache.Boot, "correct Horse")
	if err != nil {
		t.Fatal(err)
	}

	if a == b {
		t.Fatal("single-character password change produced identical hash")
	}
}

func TestDeriveRejectsEmptyPassword(t *testing.T) {
	pepper := testPepper()

	if _, err := Derive(4, pepper, pwcache.Boot, ""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestDeriveRejectsBadCost(t *testing.T) {
	pepper := testPepper()

	if _, err := Derive(100, pepper, pwcache.Boot, "x"); err == nil {
		t.Fatal("expected error for out-of-range cost")
	}
}
