package sftp

import (
	"errors"
	"syscall"
)

// isEPIPE reports whether err is (or wraps) EPIPE, the write-side signal
// that the child closed its stdin -- spec §4.2 "BrokenPipe when write
// fails with EPIPE".
func isEPIPE(err error) bool {
	return errors.Is(err, syscall.EPIPE)
}

// isConnReset reports whether err is (or wraps) ECONNRESET, spec §4.2
// "ConnectionReset when read returns ECONNRESET". A pipe to a local
// subprocess won't normally produce this, but the session may also be
// driven over a TCP-backed ReadWriteCloser in tests or alternate
// launchers, so the check is kept general.
func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET)
}
