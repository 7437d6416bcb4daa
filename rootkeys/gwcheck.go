package rootkeys

import (
	"fmt"

	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/gateware"
	"github.com/usbarmory/rootkeys-core/keyrom"
	"github.com/usbarmory/rootkeys-core/oracle"
	"github.com/usbarmory/rootkeys-core/signer"
)

func gatewareRegion(sel gateware.Selector) flashmap.Region {
	if sel == gateware.Staging {
		return flashmap.Staging
	}
	return flashmap.Gateware
}

// CheckGatewareSignature reads the signature record at the selected
// region's self-sign offset and tries the KEYROM public keys against it in
// trust order (self-sign, third-party, developer), skipping any slot that
// is all zero. It returns signer.Invalid, without error, for a record that
// fails to verify under every populated key or carries an unknown version.
func (o *Orchestrator) CheckGatewareSignature(sel gateware.Selector) (signer.CheckResult, error) {
	data := o.flash.Region(gatewareRegion(sel))
	if len(data) < flashmap.SelfSigOffset+flashmap.SignatureSize {
		return signer.Invalid, fmt.Errorf("%w: %s region too short for a signature check", oracle.ErrAlignment, gatewareRegion(sel))
	}

	var rec flashmap.SignatureInFlash
	if err := rec.UnmarshalBinary(data[flashmap.SelfSigOffset:]); err != nil {
		return signer.Invalid, fmt.Errorf("rootkeys: %w", err)
	}
	if rec.Version != flashmap.SignatureVersion {
		return signer.Invalid, nil
	}
	if rec.SignedLen == 0 || int(rec.SignedLen) > flashmap.SelfSigOffset {
		return signer.Invalid, nil
	}

	selfsign := keyrom.KeyFromDevice(o.dev, keyrom.SelfsignPubkey)
	thirdparty := keyrom.KeyFromDevice(o.dev, keyrom.ThirdpartyPubkey)
	developer := keyrom.KeyFromDevice(o.dev, keyrom.DeveloperPubkey)

	return signer.CheckGatewareSignature(selfsign, thirdparty, developer, data[:rec.SignedLen], rec.Signature), nil
}

// GatewareMetadata reads the plaintext build-identification record of the
// selected region.
func (o *Orchestrator) GatewareMetadata(sel gateware.Selector) (gateware.Metadata, error) {
	return gateware.ReadMetadata(o.flash.Region(gatewareRegion(sel)))
}
