// Package rootkeys implements the three top-level root-key procedures —
// InitKeys, UpdateGateware, SignXous — sequencing the KDF, KEYROM staging,
// the bitstream oracle, copier, verifier, and signer, driving every flash
// mutation through an external Flash collaborator and reporting progress
// through a progress.Reporter.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package rootkeys

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/internal/fontstream"
	"github.com/usbarmory/rootkeys-core/kdf"
	"github.com/usbarmory/rootkeys-core/keyrom"
	"github.com/usbarmory/rootkeys-core/progress"
	"github.com/usbarmory/rootkeys-core/pwcache"
)

// ErrFlash reports that the external flash writer rejected a patch. The
// other fatal error kinds are oracle.ErrAlignment, oracle.ErrKey, and
// verify.ErrIntegrity, reused directly rather than re-declared here.
var ErrFlash = errors.New("rootkeys: flash error")

// Config holds the orchestrator tunables and the per-region flash base
// addresses flashwriter.Writer.Patch expects.
type Config struct {
	// BcryptCost is the KDF's bcrypt cost factor; kdf.DefaultCost of 7
	// matches what this system has always shipped with.
	BcryptCost int

	// GatewareBase, StagingBase, LoaderBase, KernelBase are the absolute
	// flash addresses flashwriter.Writer.Patch's base parameter expects
	// for each region.
	GatewareBase, StagingBase, LoaderBase, KernelBase uint32

	// BootPasswordRetention and UpdatePasswordRetention govern whether
	// the cached hashes survive a successful procedure. Error paths
	// purge both regardless of policy.
	BootPasswordRetention   pwcache.RetentionPolicy
	UpdatePasswordRetention pwcache.RetentionPolicy
}

// DefaultConfig returns a Config with the KDF's documented default cost and
// an always-purge retention policy for both passphrases; callers override
// fields as needed for their flash layout.
func DefaultConfig() Config {
	return Config{
		BcryptCost:              kdf.DefaultCost,
		BootPasswordRetention:   pwcache.AlwaysPurge,
		UpdatePasswordRetention: pwcache.AlwaysPurge,
	}
}

// Orchestrator sequences the KDF, staging, oracle, copier, verifier, and
// signer into the three top-level procedures. It owns the process-local
// password cache and KEYROM staging mirror, neither of which is ever
// shared, and is not safe for concurrent use: exactly one operation may be
// in flight per instance.
type Orchestrator struct {
	cfg Config

	dev   keyrom.Device
	flash Flash
	rng   RNG
	font  fontstream.Source

	interlock NameServiceInterlock
	suspend   SuspendInhibitor
	report    progress.Reporter

	staging keyrom.Staging
	pcache  pwcache.Page
}

// New constructs an Orchestrator. interlock, suspend, and report may be
// nil, in which case they default to no-ops; font may be nil if the caller
// never intends to call InitKeys or SignXous (UpdateGateware never signs
// the loader).
func New(cfg Config, dev keyrom.Device, flash Flash, rng RNG, font fontstream.Source, interlock NameServiceInterlock, suspend SuspendInhibitor, report progress.Reporter) *Orchestrator {
	if interlock == nil {
		interlock = NoopInterlock{}
	}
	if suspend == nil {
		suspend = NoopSuspend{}
	}
	if report == nil {
		report = progress.Noop{}
	}
	return &Orchestrator{
		cfg:       cfg,
		dev:       dev,
		flash:     flash,
		rng:       rng,
		font:      font,
		interlock: interlock,
		suspend:   suspend,
		report:    report,
	}
}

func (o *Orchestrator) base(region flashmap.Region) uint32 {
	switch region {
	case flashmap.Gateware:
		return o.cfg.GatewareBase
	case flashmap.Staging:
		return o.cfg.StagingBase
	case flashmap.Loader:
		return o.cfg.LoaderBase
	case flashmap.Kernel:
		return o.cfg.KernelBase
	default:
		return 0
	}
}

// Unlock hashes password through the KDF and caches the result, so a later
// UpdateGateware or SignXous call can find it valid. InitKeys hashes its
// own boot/update passwords internally, since nothing is cached the first
// time a device is provisioned.
func (o *Orchestrator) Unlock(t pwcache.PasswordType, password string) error {
	hash, err := kdf.Derive(o.cfg.BcryptCost, o.salt(), t, password)
	if err != nil {
		return fmt.Errorf("rootkeys: %w", err)
	}
	switch t {
	case pwcache.Boot:
		o.pcache.SetHashedBootPassword(hash)
	case pwcache.Update:
		o.pcache.SetHashedUpdatePassword(hash)
	default:
		return fmt.Errorf("rootkeys: unknown password type %d", t)
	}
	return nil
}

// salt returns the device pepper, read from the staging mirror while a key
// operation is in progress (InitKeys fills it with TRNG output before
// hashing either passphrase), or from hardware once the device is already
// initialized.
func (o *Orchestrator) salt() [kdf.SaltLen]byte {
	if o.isInitialized() {
		return keyrom.PepperFromDevice(o.dev)
	}
	return o.staging.PepperBytes()
}

// isInitialized reads CONFIG.INITIALIZED directly from hardware, never
// from the staging mirror, which is zero except mid-procedure.
func (o *Orchestrator) isInitialized() bool {
	return keyrom.FieldInitialized.Get(o.dev.ReadWord(keyrom.Config)) != 0
}

// cleanup runs on every return from InitKeys, UpdateGateware, or SignXous:
// release the suspend inhibitor, clear the staging write-protect, and
// zeroize the staging mirror and the password cache (on error,
// unconditionally; on success, per the configured retention policy).
func (o *Orchestrator) cleanup(errp *error) {
	_ = o.suspend.SetSuspendable(true)
	if sp, ok := o.flash.(StagingProtector); ok {
		_ = sp.SetStagingWriteProtect(false)
	}

	if *errp != nil {
		o.pcache.Purge(pwcache.Boot)
		o.pcache.Purge(pwcache.Update)
	} else {
		if o.cfg.BootPasswordRetention == pwcache.AlwaysPurge {
			o.pcache.Purge(pwcache.Boot)
		}
		if o.cfg.UpdatePasswordRetention == pwcache.AlwaysPurge {
			o.pcache.Purge(pwcache.Update)
		}
	}

	o.staging.Zeroize()
}

func xor32(a, b [32]byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// zeroize32 clears a 32-byte secret (a derived seed or key) before its
// stack frame unwinds.
func zeroize32(b *[32]byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
