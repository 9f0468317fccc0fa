package sftp

import (
	"errors"
	"fmt"

	"github.com/holger24/afd-sftp/ulog"
)

// SSH_FX_* status codes, draft-ietf-secsh-filexfer through v6, plus the
// OpenSSH/v6 extensions the draft added late (lock-range, etc). Spec §6:
// "the full set from the protocol (SSH_FX_OK through
// SSH_FX_NO_MATCHING_BYTE_RANGE_LOCK)".
const (
	SSH_FX_OK                          = 0
	SSH_FX_EOF                         = 1
	SSH_FX_NO_SUCH_FILE                = 2
	SSH_FX_PERMISSION_DENIED           = 3
	SSH_FX_FAILURE                     = 4
	SSH_FX_BAD_MESSAGE                 = 5
	SSH_FX_NO_CONNECTION               = 6
	SSH_FX_CONNECTION_LOST             = 7
	SSH_FX_OP_UNSUPPORTED              = 8
	SSH_FX_INVALID_HANDLE              = 9
	SSH_FX_NO_SUCH_PATH                = 10
	SSH_FX_FILE_ALREADY_EXISTS         = 11
	SSH_FX_WRITE_PROTECT               = 12
	SSH_FX_NO_MEDIA                    = 13
	SSH_FX_NO_SPACE_ON_FILESYSTEM      = 14
	SSH_FX_QUOTA_EXCEEDED              = 15
	SSH_FX_UNKNOWN_PRINCIPAL           = 16
	SSH_FX_LOCK_CONFLICT               = 17
	SSH_FX_DIR_NOT_EMPTY               = 18
	SSH_FX_NOT_A_DIRECTORY             = 19
	SSH_FX_INVALID_FILENAME            = 20
	SSH_FX_LINK_LOOP                   = 21
	SSH_FX_CANNOT_DELETE               = 22
	SSH_FX_INVALID_PARAMETER           = 23
	SSH_FX_FILE_IS_A_DIRECTORY         = 24
	SSH_FX_BYTE_RANGE_LOCK_CONFLICT    = 25
	SSH_FX_BYTE_RANGE_LOCK_REFUSED     = 26
	SSH_FX_DELETE_PENDING              = 27
	SSH_FX_FILE_CORRUPT                = 28
	SSH_FX_OWNER_GROUP_UNSUPPORTED     = 29
	SSH_FX_INVALID_PRINCIPLE_NAME      = 30
	SSH_FX_NOT_EXISTING                = 31
	SSH_FX_NO_MATCHING_BYTE_RANGE_LOCK = 32
)

// internal kinds, surfaced alongside the protocol codes per spec §6
var (
	// ErrIncorrect marks a protocol-framing failure: truncated message,
	// oversized length prefix, or an unexpected reply type. Spec §7
	// "Protocol-framing" kind; does not latch pipeBroken.
	ErrIncorrect = errors.New("sftp: incorrect")

	// ErrSimulation names the simulation-mode error kind; no operation
	// in this package returns it.
	ErrSimulation = errors.New("sftp: simulation mode")

	// ErrEOF mirrors SSH_FX_EOF for callers that prefer errors.Is.
	ErrEOF = errors.New("sftp: EOF")

	// ErrPipeBroken is returned once the pipeBroken latch is set; every
	// outbound call after that point short-circuits to this error.
	ErrPipeBroken = errors.New("sftp: pipe broken")

	// ErrDoSingleReads is the pipelined-read engine's signal that a
	// short, non-final DATA reply was seen and the caller should finish
	// that byte range with unpipelined single reads (spec §4.6
	// multi_read_catch).
	ErrDoSingleReads = errors.New("sftp: do single reads")

	// ErrTooManyOutstandingReplies is returned by the router when the
	// deferred-reply ring is already at its cap and yet another
	// mismatched reply arrives (spec §4.3 step 3).
	ErrTooManyOutstandingReplies = errors.New("sftp: too many outstanding replies")

	errShortPacket = errors.New("sftp: short packet")
	errLongString  = errors.New("sftp: string/frame exceeds session limit")
)

// sentinel errors for the common SSH_FX_* codes, so callers can use
// errors.Is(err, sftp.ErrNoSuchFile) instead of comparing codes by hand.
var (
	ErrNoSuchFile        = &StatusError{Code: SSH_FX_NO_SUCH_FILE, Msg: "no such file"}
	ErrPermissionDenied  = &StatusError{Code: SSH_FX_PERMISSION_DENIED, Msg: "permission denied"}
	ErrFailure           = &StatusError{Code: SSH_FX_FAILURE, Msg: "failure"}
	ErrBadMessage        = &StatusError{Code: SSH_FX_BAD_MESSAGE, Msg: "bad message"}
	ErrOpUnsupported     = &StatusError{Code: SSH_FX_OP_UNSUPPORTED, Msg: "operation unsupported"}
	ErrFileAlreadyExists = &StatusError{Code: SSH_FX_FILE_ALREADY_EXISTS, Msg: "file already exists"}
)

// StatusError wraps a non-OK SSH_FX_* status reply. Spec §4.6: "Non-zero
// status codes are returned to the caller as the protocol code itself
// (so callers can match SSH_FX_NO_SUCH_FILE etc.)".
type StatusError struct {
	Code uint32
	Msg  string
	Lang string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("sftp: status %d", e.Code)
	}
	return fmt.Sprintf("sftp: %s (status %d)", e.Msg, e.Code)
}

// Is lets errors.Is(err, sftp.ErrNoSuchFile) match any *StatusError with
// the same Code, regardless of the server-supplied message text.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// FramingError marks a protocol-framing failure (spec §7): an oversized
// length prefix, a truncated attribute payload, or an unexpected reply
// type. Unlike StatusError, this never comes from the server's own
// SSH_FX_* vocabulary.
type FramingError struct {
	reason string
}

func (e *FramingError) Error() string { return "sftp: framing error: " + e.reason }

func (e *FramingError) Unwrap() error { return ErrIncorrect }

func framingErrorf(format string, args ...any) *FramingError {
	return &FramingError{reason: fmt.Sprintf(format, args...)}
}

// decodeStatus decodes an SSH_FXP_STATUS payload (u32 code, string
// message, string lang_tag -- the last two optional pre-v3 draft
// revisions but always sent by real servers) and turns a non-OK code
// into an error, per spec §4.6.
func decodeStatus(payload []byte) error {
	code, rest, err := getUint32(payload)
	if err != nil {
		return framingErrorf("status payload: %s", err)
	}
	if code == SSH_FX_OK {
		return nil
	}
	msg := ""
	lang := ""
	if len(rest) > 0 {
		if m, r2, err := getString(rest, uint32(len(rest))); err == nil {
			msg = m
			rest = r2
			if l, _, err := getString(rest, uint32(len(rest))); err == nil {
				lang = l
			}
		}
	}
	if code == SSH_FX_EOF {
		return ErrEOF
	}
	return &StatusError{Code: code, Msg: msg, Lang: lang}
}

// ulogWarnWriteAck logs a write acknowledgement that came back non-OK
// while opportunistically draining the pending-write window; the error
// itself is not returned to the caller that issued that particular
// write (only the write they're actually waiting on surfaces an error),
// so it is logged rather than dropped silently.
func ulogWarnWriteAck(id uint32, err error) {
	ulog.DebugfFor("sftp", "write ack for request %d came back non-OK: %s", id, err)
}
