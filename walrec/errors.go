package walrec

import "errors"

// ErrInvalidLog signals structural corruption: a checksum or magic
// mismatch, an out-of-range anchor, or an unexpected file's presence or
// absence. It is always fatal to the operation that surfaces it.
var ErrInvalidLog = errors.New("wal: invalid log")

// ErrNotFound signals that a named file is absent. It is an internal
// control-flow signal used during bootstrap and is never surfaced to a
// caller of the LogManager's public operations.
var ErrNotFound = errors.New("wal: file not found")

// ErrIO tags a transient filesystem failure. Callers should use
// errors.Is(err, ErrIO) to distinguish it from ErrInvalidLog; where an
// underlying os error exists, its text is included in the message (it is
// not itself wrapped).
var ErrIO = errors.New("wal: io error")

