package oracle

import "errors"

// ErrAlignment reports an on-flash layout violation of the 16-byte or
// 4 KiB alignment assumptions the codec depends on.
var ErrAlignment = errors.New("rootkeys: alignment error")

// ErrKey reports that the supplied AES key was rejected, either because the
// 0x6C sanity pattern failed to decrypt correctly or because the type-2
// opcode could not be located within the expected window.
var ErrKey = errors.New("rootkeys: key error")
