package sftp

import (
	"io"
	"net"
	"time"

	"github.com/holger24/afd-sftp/uerr"
)

// transportResult classifies the outcome of a timed pipe operation, per
// spec §4.2.
type transportResult int

const (
	transportOK transportResult = iota
	transportTimeout
	transportPipeClosed
	transportConnReset
	transportBrokenPipe
)

// pipeTransport wraps the duplex connection to the child ssh process.
// Every call uses a deadline-bounded blocking read or write, mirroring
// the spec's "single-descriptor readiness wait with a configurable
// transfer timeout" (§4.2). Go's os.File/net.Conn deadlines are the
// idiomatic stand-in for the original's alarm+longjmp pair (Design
// Note §9: "a systems-language rewrite should instead set non-blocking
// mode on the pipe, use a readiness wait with timeout").
type pipeTransport struct {
	rw      io.ReadWriteCloser
	timeout time.Duration // per-call transfer timeout; 0 means no deadline
}

// deadliner is implemented by the launcher's *childPipe (ssh's stdio
// pipes), *os.File (the /dev/null of simulation mode) and net.Conn
// (net.Pipe in tests), which is all this transport ever wraps.
type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

func (t *pipeTransport) deadline() time.Time {
	if t.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(t.timeout)
}

// writeAll writes buf in its entirety, looping on partial writes
// ("Partial writes advance and retry", spec §4.2).
func (t *pipeTransport) writeAll(buf []byte) (transportResult, error) {
	if d, ok := t.rw.(deadliner); ok {
		_ = d.SetWriteDeadline(t.deadline())
	}
	written := 0
	for written < len(buf) {
		n, err := t.rw.Write(buf[written:])
		written += n
		if err != nil {
			return classifyWriteErr(err)
		}
	}
	return transportOK, nil
}

// readExact reads exactly n bytes into buf, looping on partial reads
// until satisfied or a terminal error occurs (spec §4.2).
func (t *pipeTransport) readExact(buf []byte, n int) (transportResult, error) {
	if d, ok := t.rw.(deadliner); ok {
		_ = d.SetReadDeadline(t.deadline())
	}
	read := 0
	for read < n {
		m, err := t.rw.Read(buf[read:n])
		read += m
		if err != nil {
			if m > 0 && err == io.EOF {
				// short final read reporting EOF alongside data: treat
				// as a normal partial read and let the next iteration
				// surface the EOF condition.
				continue
			}
			return classifyReadErr(err, read)
		}
	}
	return transportOK, nil
}

func classifyWriteErr(err error) (transportResult, error) {
	if isTimeout(err) {
		return transportTimeout, uerr.Chainf(err, "sftp transport: write timeout")
	}
	if isEPIPE(err) {
		return transportBrokenPipe, uerr.Chainf(err, "sftp transport: broken pipe")
	}
	return transportPipeClosed, uerr.Chainf(err, "sftp transport: write failed")
}

func classifyReadErr(err error, readSoFar int) (transportResult, error) {
	if isTimeout(err) {
		return transportTimeout, uerr.Chainf(err, "sftp transport: read timeout")
	}
	if isConnReset(err) {
		return transportConnReset, uerr.Chainf(err, "sftp transport: connection reset")
	}
	if err == io.EOF && readSoFar == 0 {
		return transportPipeClosed, io.EOF
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return transportPipeClosed, uerr.Chainf(err, "sftp transport: short read")
	}
	return transportPipeClosed, uerr.Chainf(err, "sftp transport: read failed")
}

func isTimeout(err error) bool {
	if e, ok := err.(net.Error); ok {
		return e.Timeout()
	}
	return false
}
