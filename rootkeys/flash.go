package rootkeys

import (
	"fmt"

	"github.com/usbarmory/rootkeys-core/flashmap"
)

// regionSink adapts Flash into a copier.Sink bound to one region and base
// address, so package copier never needs to know about region selection.
type regionSink struct {
	flash  Flash
	region flashmap.Region
	base   uint32
}

func (s regionSink) Patch(offset uint32, data []byte) error {
	if err := s.flash.Patch(s.region, s.base, offset, data); err != nil {
		return fmt.Errorf("%w: %v", ErrFlash, err)
	}
	return nil
}

// backupRegion copies data verbatim into dst; the live gateware is mutated
// only after this recovery copy lands in the staging region.
func (o *Orchestrator) backupRegion(dst flashmap.Region, data []byte) error {
	if err := o.flash.Patch(dst, o.base(dst), 0, data); err != nil {
		return fmt.Errorf("%w: %v", ErrFlash, err)
	}
	return nil
}

// copyPlaintextRegion patches the plaintext metadata and CSR CSV records
// straight from src into dst, unchanged. A region shorter than
// flashmap.SelfSigOffset carries no plaintext records to copy, so the copy
// is skipped rather than treated as an error.
func (o *Orchestrator) copyPlaintextRegion(src, dst flashmap.Region) error {
	srcBytes := o.flash.Region(src)

	start, end := flashmap.MetadataOffset, flashmap.SelfSigOffset
	if end > len(srcBytes) {
		return nil
	}

	if err := o.flash.Patch(dst, o.base(dst), uint32(start), srcBytes[start:end]); err != nil {
		return fmt.Errorf("%w: %v", ErrFlash, err)
	}
	return nil
}

// commitSignature persists a SignatureInFlash record at region's start
// (loader, kernel) or at the gateware's SelfSigOffset.
func (o *Orchestrator) commitSignature(region flashmap.Region, offset uint32, sig [64]byte, signedLen uint32) error {
	rec := flashmap.SignatureInFlash{
		Version:   flashmap.SignatureVersion,
		SignedLen: signedLen,
		Signature: sig,
	}
	buf, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("rootkeys: %w", err)
	}
	if err := o.flash.Patch(region, o.base(region), offset, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrFlash, err)
	}
	return nil
}
