package pwcache

// RetentionPolicy governs whether a cached passphrase hash survives a
// procedure's successful completion.
type RetentionPolicy int

const (
	// AlwaysPurge zeroizes the slot at the end of every procedure that
	// used it, successful or not.
	AlwaysPurge RetentionPolicy = iota
	// AlwaysKeep leaves a successfully-used slot in place so a
	// subsequent procedure in the same session does not have to ask
	// for the passphrase again. Error paths still purge regardless of
	// policy.
	AlwaysKeep
)
