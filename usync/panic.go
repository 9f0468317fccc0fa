package usync

import (
	"github.com/holger24/afd-sftp/uerr"
	"github.com/holger24/afd-sftp/ulog"
)

//
// Use in a defer func when sending on or closing a chan that might be
// closed: defer func() { usync.IgnoreClosedChanPanic(recover()) }()
//
// Return true if the recovered panic is due to a closed chan, false if
// there was no panic.  Any other panic is re-raised.
//
func IgnoreClosedChanPanic(recovered interface{}) (ignored bool) {
	return uerr.IfClosedChanPanic(recovered)
}

//
// Use directly with defer (no outer func) to ignore a closed chan panic.
//
// Use: defer usync.BareIgnoreClosedChanPanic()
//
func BareIgnoreClosedChanPanic() {
	IgnoreClosedChanPanic(recover())
}

//
// Ignore any panics.  Prefer IgnorePanicIn instead.
//
// Use: defer usync.IgnorePanic()
//
func IgnorePanic() {
	recover()
}

//
// Ignore any panics in activity().
//
func IgnorePanicIn(activity func()) {
	defer func() { recover() }()
	activity()
}

//
// Capture any panics in activity().
//
func CapturePanicIn(activity func()) (captured interface{}) {
	defer func() { captured = recover() }()
	activity()
	return
}

//
// Log any panics.
//
// Use: defer usync.LogPanic(msg)
//
func LogPanic(msg string) {
	if it := recover(); it != nil {
		if 0 != len(msg) {
			ulog.Printf("PANIC: %s: %s", msg, it)
		} else {
			ulog.Printf("PANIC: %s", it)
		}
	}
}

//
// Log any panics in activity().
//
func LogPanicIn(msg string, activity func()) {
	defer func() {
		if it := recover(); it != nil {
			if 0 != len(msg) {
				ulog.Printf("PANIC: %s: %s", msg, it)
			} else {
				ulog.Printf("PANIC: %s", it)
			}
		}
	}()
	activity()
}

//
// Log any panics and exit the program.
//
// Use: defer usync.FatalPanic(msg)
//
func FatalPanic(msg string) {
	if it := recover(); it != nil {
		if 0 != len(msg) {
			ulog.Fatalf("PANIC: %s: %s", msg, it)
		} else {
			ulog.Fatalf("PANIC: %s", it)
		}
	}
}
