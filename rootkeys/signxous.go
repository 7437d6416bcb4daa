package rootkeys

import (
	"fmt"

	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/keyrom"
	"github.com/usbarmory/rootkeys-core/oracle"
	"github.com/usbarmory/rootkeys-core/pwcache"
	"github.com/usbarmory/rootkeys-core/signer"
	"github.com/usbarmory/rootkeys-core/verify"
)

// signSelfTestMessage is the fixed 22-byte string SignXous signs and
// verifies locally before trusting the derived keypair with the kernel and
// loader.
const signSelfTestMessage = "rootkeys self-test msg"

// SignXous (re-)signs the kernel and loader regions with the device's
// existing Ed25519 keypair, without touching the gateware. The caller must
// have already called Unlock(pwcache.Update, ...); the derived keypair is
// sanity-checked against a short self-test message before it is trusted
// with either region, and the update passphrase is purged if that check
// fails.
func (o *Orchestrator) SignXous() (err error) {
	defer o.cleanup(&err)

	if ierr := o.interlock.WaitForTrustedInit(); ierr != nil {
		return fmt.Errorf("rootkeys: %w", ierr)
	}
	if serr := o.suspend.SetSuspendable(false); serr != nil {
		return fmt.Errorf("rootkeys: %w", serr)
	}

	o.report.UpdateText("sign-xous")
	o.report.SetPercentage(0)

	hashedUpdatePW, ok := o.pcache.HashedUpdatePassword()
	if !ok {
		return fmt.Errorf("%w: update passphrase not unlocked", oracle.ErrKey)
	}

	o.staging.LoadFromDevice(o.dev)
	seed := xor32(o.staging.Key(keyrom.SelfsignPrivkey), hashedUpdatePW)
	defer zeroize32(&seed)
	pubkey := o.staging.Key(keyrom.SelfsignPubkey)

	testSig := signer.Sign(seed, []byte(signSelfTestMessage))
	if !signer.VerifyStrict(pubkey, []byte(signSelfTestMessage), testSig) {
		o.pcache.Purge(pwcache.Update)
		return fmt.Errorf("%w: derived keypair failed self-test verification", oracle.ErrKey)
	}
	o.report.SetPercentage(20)

	kernelSig, loaderSig, serr := o.signKernelAndLoader(seed, pubkey)
	if serr != nil {
		return serr
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

	o.report.SetPercentage(100)
	return nil
}
