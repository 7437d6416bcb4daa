package verify

import "errors"

// ErrIntegrity reports that the verifier rejected the post-write bitstream:
// the recomputed HMAC did not match the one embedded in its tail.
var ErrIntegrity = errors.New("rootkeys: integrity error")
