package rootkeys

import (
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/usbarmory/rootkeys-core/copier"
	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/keyrom"
	"github.com/usbarmory/rootkeys-core/oracle"
	"github.com/usbarmory/rootkeys-core/pwcache"
	"github.com/usbarmory/rootkeys-core/signer"
	"github.com/usbarmory/rootkeys-core/verify"
)

// InitKeys provisions a device shipped with a plaintext (null-key) FPGA
// bitstream for the first time: it stages a fresh pepper and an Ed25519
// keypair, masks the recovered FPGA key and the new signing key with the
// update passphrase's hash, re-encrypts the live gateware to the
// (unchanged) device key while patching the staged KEYROM into its
// configuration frames, and signs the kernel, loader, and gateware.
func (o *Orchestrator) InitKeys(bootPassword, updatePassword string) (err error) {
	defer o.cleanup(&err)

	if ierr := o.interlock.WaitForTrustedInit(); ierr != nil {
		return fmt.Errorf("rootkeys: %w", ierr)
	}
	if serr := o.suspend.SetSuspendable(false); serr != nil {
		return fmt.Errorf("rootkeys: %w", serr)
	}

	o.report.UpdateText("init-keys")
	o.report.SetPercentage(0)

	// Mirror the hardware KEYROM, then provision PEPPER from the TRNG.
	o.staging.LoadFromDevice(o.dev)
	var pepper [16]byte
	if _, rerr := io.ReadFull(o.rng, pepper[:]); rerr != nil {
		return fmt.Errorf("rootkeys: rng: %w", rerr)
	}
	o.staging.SetPepperBytes(pepper)

	// Cache the plaintext FPGA key — the device-unique key this device
	// was provisioned with at manufacture — before it gets masked below.
	fpgaKey := o.staging.Key(keyrom.FPGAKey)
	o.pcache.SetFPGAKey(fpgaKey)

	// Build the source oracle against the live gateware now: this fails
	// fast with KeyError if the hardware FPGA key doesn't actually match
	// the gateware's own encryption, before any further state changes.
	liveGateware := o.flash.Region(flashmap.Gateware)
	srcOracle, serr := oracle.New(fpgaKey, fpgaKey, liveGateware)
	if serr != nil {
		return fmt.Errorf("rootkeys: %w", serr)
	}

	if herr := o.Unlock(pwcache.Boot, bootPassword); herr != nil {
		return herr
	}
	if herr := o.Unlock(pwcache.Update, updatePassword); herr != nil {
		return herr
	}
	hashedUpdatePW, _ := o.pcache.HashedUpdatePassword()

	pub, priv, kerr := ed25519.GenerateKey(o.rng)
	if kerr != nil {
		return fmt.Errorf("rootkeys: generate keypair: %w", kerr)
	}
	var seed [32]byte
	copy(seed[:], priv.Seed())
	defer zeroize32(&seed)
	var pubkey [32]byte
	copy(pubkey[:], pub)

	// Mask FPGA_KEY and SELFSIGN_PRIVKEY with the hashed update
	// passphrase; install SELFSIGN_PUBKEY verbatim; install a fresh TRNG
	// USER_KEY, left un-masked since nothing here consumes it — a future
	// consumer must XOR it with the hashed boot passphrase on first use.
	o.staging.SetKey(keyrom.FPGAKey, xor32(fpgaKey, hashedUpdatePW))
	o.staging.SetKey(keyrom.SelfsignPrivkey, xor32(seed, hashedUpdatePW))
	o.staging.SetKey(keyrom.SelfsignPubkey, pubkey)

	var userKey [32]byte
	if _, rerr := io.ReadFull(o.rng, userKey[:]); rerr != nil {
		return fmt.Errorf("rootkeys: rng: %w", rerr)
	}
	o.staging.SetKey(keyrom.UserKey, userKey)

	o.staging.SetInitialized()

	// Commit the fully-populated staging mirror to hardware in one pass.
	// Every word not touched above still holds the value LoadFromDevice
	// mirrored at the top of this procedure, so re-writing the whole
	// image is equivalent to writing only the changed fields.
	o.staging.CommitToDevice(o.dev)

	// Sign kernel and loader in memory now; they are committed only after
	// the gateware re-encryption has been verified, ahead of the gateware's
	// own signature, which covers gateware bytes [0, SelfSigOffset) only.
	kernelSig, loaderSig, serr := o.signKernelAndLoader(seed, pubkey)
	if serr != nil {
		return serr
	}

	// Back the live gateware up before mutating it in place, then
	// write-protect the backup so nothing can corrupt the recovery copy
	// while the in-place re-encryption of the live gateware is under
	// way. The protect must engage after the backup write, whose
	// destination is the staging region itself.
	if berr := o.backupRegion(flashmap.Staging, liveGateware); berr != nil {
		return berr
	}
	if sp, ok := o.flash.(StagingProtector); ok {
		if perr := sp.SetStagingWriteProtect(true); perr != nil {
			return fmt.Errorf("rootkeys: %w", perr)
		}
	}

	dstOracle, derr := oracle.New(fpgaKey, fpgaKey, liveGateware)
	if derr != nil {
		return fmt.Errorf("rootkeys: %w", derr)
	}

	img := o.staging.Image()
	sink := regionSink{flash: o.flash, region: flashmap.Gateware, base: o.base(flashmap.Gateware)}
	if _, cerr := copier.Copy(srcOracle, dstOracle, &img, sink, o.report); cerr != nil {
		return fmt.Errorf("rootkeys: %w", cerr)
	}

	if merr := o.copyPlaintextRegion(flashmap.Staging, flashmap.Gateware); merr != nil {
		return merr
	}

	rereadGateware := o.flash.Region(flashmap.Gateware)
	verifyOracle, verr := oracle.New(fpgaKey, fpgaKey, rereadGateware)
	if verr != nil {
		return fmt.Errorf("rootkeys: %w", verr)
	}
	if verr := verify.Bitstream(verifyOracle); verr != nil {
		return fmt.Errorf("rootkeys: %w", verr)
	}

	if cerr := o.commitSignature(flashmap.Kernel, 0, kernelSig.sig, kernelSig.signedLen); cerr != nil {
		return cerr
	}
	if cerr := o.commitSignature(flashmap.Loader, 0, loaderSig.sig, loaderSig.signedLen); cerr != nil {
		return cerr
	}

	kernelRegion := o.flash.Region(flashmap.Kernel)
	if len(kernelRegion) <= flashmap.SigBlockSize {
		return fmt.Errorf("%w: kernel region too short", oracle.ErrAlignment)
	}
	if !signer.VerifyStrict(pubkey, kernelRegion[flashmap.SigBlockSize:], kernelSig.sig) {
		return fmt.Errorf("rootkeys: %w: kernel self-signature", verify.ErrIntegrity)
	}

	gwSig := signer.Sign(seed, rereadGateware[:flashmap.SelfSigOffset])
	if cerr := o.commitSignature(flashmap.Gateware, uint32(flashmap.SelfSigOffset), gwSig, uint32(flashmap.SelfSigOffset)); cerr != nil {
		return cerr
	}

	o.report.SetPercentage(100)
	return nil
}
