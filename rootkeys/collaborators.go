package rootkeys

import (
	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/flashwriter"
)

// RNG is the external TRNG collaborator: an infinite byte source that
// never errors. It satisfies io.Reader so it can be handed directly to
// crypto/ed25519.GenerateKey and other stdlib entry points that want a
// random source.
type RNG interface {
	Read(p []byte) (n int, err error)
}

// NameServiceInterlock blocks until the rest of the system has finished
// trusted initialization.
type NameServiceInterlock interface {
	WaitForTrustedInit() error
}

// SuspendInhibitor disables or re-enables system suspend; it is held for
// the life of each procedure.
type SuspendInhibitor interface {
	SetSuspendable(enabled bool) error
}

// StagingProtector optionally write-protects the staging region for the
// duration of a procedure. A Flash implementation that doesn't support it
// is simply used without the extra guard; flashsim.Sim implements it.
type StagingProtector interface {
	SetStagingWriteProtect(protect bool) error
}

// Regions is the read side of the flash-mapped layout this core inspects:
// an absolute, whole-region byte view, keyed the same way
// flashwriter.Writer is.
type Regions interface {
	Region(r flashmap.Region) []byte
}

// Flash is the combined read/write flash contract the orchestrator is
// constructed with. flashsim.Sim satisfies it directly; a real hardware
// driver would back Region with a memory-mapped read and Patch with a
// sector erase-then-program.
type Flash interface {
	Regions
	flashwriter.Writer
}

// NoopInterlock never blocks, for callers with no name-service collaborator.
type NoopInterlock struct{}

func (NoopInterlock) WaitForTrustedInit() error { return nil }

// NoopSuspend does nothing, for callers with no suspend/resume daemon.
type NoopSuspend struct{}

func (NoopSuspend) SetSuspendable(bool) error { return nil }
