package rootkeys

import (
	"fmt"

	"github.com/usbarmory/rootkeys-core/copier"
	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/keyrom"
	"github.com/usbarmory/rootkeys-core/oracle"
	"github.com/usbarmory/rootkeys-core/signer"
	"github.com/usbarmory/rootkeys-core/verify"
)

// nullKey is the all-zero AES-256 key a new gateware update ships
// encrypted to before this core re-encrypts it to the device key.
var nullKey [32]byte

// UpdateGateware re-encrypts a freshly staged gateware update to this
// device's own key, preserving its existing eFuse/BBRAM boot-key source,
// then re-signs the result. The caller must have already called
// Unlock(pwcache.Update, ...) to recover the device key; an update
// attempted without it fails with oracle.ErrKey.
func (o *Orchestrator) UpdateGateware() (err error) {
	defer o.cleanup(&err)

	if ierr := o.interlock.WaitForTrustedInit(); ierr != nil {
		return fmt.Errorf("rootkeys: %w", ierr)
	}
	if serr := o.suspend.SetSuspendable(false); serr != nil {
		return fmt.Errorf("rootkeys: %w", serr)
	}
	if sp, ok := o.flash.(StagingProtector); ok {
		if perr := sp.SetStagingWriteProtect(true); perr != nil {
			return fmt.Errorf("rootkeys: %w", perr)
		}
	}

	o.report.UpdateText("update-gateware")
	o.report.SetPercentage(0)

	hashedUpdatePW, ok := o.pcache.HashedUpdatePassword()
	if !ok {
		return fmt.Errorf("%w: update passphrase not unlocked", oracle.ErrKey)
	}

	// Sensitive data is populated from the live KEYROM, unchanged.
	o.staging.LoadFromDevice(o.dev)

	fpgaKey := xor32(o.staging.Key(keyrom.FPGAKey), hashedUpdatePW)
	seed := xor32(o.staging.Key(keyrom.SelfsignPrivkey), hashedUpdatePW)
	defer zeroize32(&seed)

	stagedUpdate := o.flash.Region(flashmap.Staging)
	srcOracle, serr := oracle.New(nullKey, fpgaKey, stagedUpdate)
	if serr != nil {
		return fmt.Errorf("rootkeys: %w", serr)
	}

	liveGateware := o.flash.Region(flashmap.Gateware)
	dstOracle, derr := oracle.New(fpgaKey, fpgaKey, liveGateware)
	if derr != nil {
		return fmt.Errorf("rootkeys: %w", derr)
	}
	// The destination oracle preserves the device's existing boot-key
	// source rather than whatever the update's own disposable,
	// null-key-encrypted CTL0 bits happen to carry.
	dstOracle.SetTargetKeyType(dstOracle.SourceKeyType())

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

	gwSig := signer.Sign(seed, rereadGateware[:flashmap.SelfSigOffset])
	if cerr := o.commitSignature(flashmap.Gateware, uint32(flashmap.SelfSigOffset), gwSig, uint32(flashmap.SelfSigOffset)); cerr != nil {
		return cerr
	}

	o.report.SetPercentage(100)
	return nil
}
