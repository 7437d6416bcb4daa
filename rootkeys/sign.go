package rootkeys

import (
	"fmt"

	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/oracle"
	"github.com/usbarmory/rootkeys-core/signer"
)

// signedRecord pairs a signature with the signed length a SignatureInFlash
// record stores alongside it; the length is interpreted per region.
type signedRecord struct {
	sig       [64]byte
	signedLen uint32
}

// signKernelAndLoader signs the kernel body and the loader body plus font
// stream with the given seed, shared by InitKeys and SignXous. Neither
// signature is committed to flash here; callers decide the commit order.
func (o *Orchestrator) signKernelAndLoader(seed, pubkey [32]byte) (kernel, loader signedRecord, err error) {
	kernelRegion := o.flash.Region(flashmap.Kernel)
	if len(kernelRegion) <= flashmap.SigBlockSize {
		return kernel, loader, fmt.Errorf("%w: kernel region too short to sign", oracle.ErrAlignment)
	}
	kernel.sig = signer.Sign(seed, kernelRegion[flashmap.SigBlockSize:])
	kernel.signedLen = uint32(len(kernelRegion) - flashmap.SigBlockSize)

	loaderRegion := o.flash.Region(flashmap.Loader)
	if len(loaderRegion) <= flashmap.SigBlockSize {
		return kernel, loader, fmt.Errorf("%w: loader region too short to sign", oracle.ErrAlignment)
	}
	loaderBody := loaderRegion[flashmap.SigBlockSize:]

	if o.font == nil {
		return kernel, loader, fmt.Errorf("rootkeys: no font stream configured for loader signing")
	}
	o.font.Restart()

	sig, fontLen, err := signer.StreamingSign(seed, pubkey, loaderBody, o.font)
	if err != nil {
		return kernel, loader, fmt.Errorf("rootkeys: %w", err)
	}
	loader.sig = sig
	loader.signedLen = uint32(len(loaderBody) + fontLen + 8)

	return kernel, loader, nil
}
