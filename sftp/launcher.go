package sftp

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/holger24/afd-sftp/uerr"
	"github.com/holger24/afd-sftp/uexec"
	"github.com/holger24/afd-sftp/usync"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"
)

// Launcher spawns the transport-level child process and reaps it on
// Quit. Spec §4.8: "connect... spawns ssh via the external helper,
// obtains a pid and a bidirectional pipe". Pulled out behind an
// interface (rather than hardcoding exec.Command) so tests can supply
// an in-process fake server without actually forking ssh.
type Launcher interface {
	// Launch starts the child and returns its pid plus a duplex stream
	// wired to the child's stdin/stdout.
	Launch(ctx context.Context, host string, port int, user string, extra []string) (pid int, rw pipeReadWriteCloser, err error)

	// Reap waits up to grace for the child to exit on its own, then
	// escalates to SIGTERM and finally SIGKILL (spec §8 scenario 5:
	// "bounded wait then SIGKILL fallback").
	Reap(ctx context.Context, pid int, grace time.Duration) error
}

// pipeReadWriteCloser is the minimal surface Session.transport needs;
// *childPipe and net.Conn (for tests) both satisfy it. Both also
// happen to implement deadliner (transport.go), which is how the
// per-call transport timeout reaches a live ssh child.
type pipeReadWriteCloser interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// FingerprintVerifier is an ssh.HostKeyCallback-shaped hook for the
// application-level host-key pinning check described for connect()'s
// fingerprint parameter (spec §1/§4.8). Callers who want pinning
// against a known_hosts file wire this to
// golang.org/x/crypto/ssh/knownhosts.New(...) directly; DefaultLauncher
// builds one itself from a plain SHA256 fingerprint string when
// Verifier is nil and Fingerprint is set.
type FingerprintVerifier func(hostname string, remote net.Addr, key ssh.PublicKey) error

// DefaultLauncher spawns a real `ssh` subprocess in "-s sftp" subsystem
// mode, grounded on uexec.Child's pipe wiring (uexec/uexec.go AddPipe,
// Start, Wait) rather than stdlib os/exec directly, matching the
// teacher's own process-spawning idiom throughout the `u` packages.
type DefaultLauncher struct {
	// SSHPath overrides the ssh binary; defaults to "ssh" (resolved via
	// PATH, same as uexec.Child.Start).
	SSHPath string

	// SSHOptions are appended verbatim as "-o key=value" style args
	// before the destination, e.g. ["ConnectTimeout=10"].
	SSHOptions []string

	// Fingerprint, if set, is the expected SHA256 host-key fingerprint
	// (the "SHA256:...." form ssh-keygen -lf prints). Checked by
	// Verifier, or by a default SHA256-string comparison if Verifier
	// is nil. ssh itself performs its own known_hosts checking; this is
	// an additional application-level check some embedders want (spec
	// §1 mentions fingerprint as a connect() parameter).
	Fingerprint string

	// Verifier, if set, overrides the default Fingerprint comparison
	// with a caller-supplied check (e.g. golang.org/x/crypto/ssh/knownhosts).
	Verifier FingerprintVerifier

	child *uexec.Child
}

// childPipe adapts a Launch()ed uexec.Child's stdin/stdout pipes into a
// single io.ReadWriteCloser for pipeTransport.
type childPipe struct {
	child *uexec.Child
}

func (p *childPipe) Read(b []byte) (int, error) {
	return p.child.ParentIo[uexec.STDOUT].Read(b)
}

func (p *childPipe) Write(b []byte) (int, error) {
	return p.child.ParentIo[uexec.STDIN].Write(b)
}

func (p *childPipe) Close() error {
	p.child.CloseParentIo()
	return nil
}

// SetReadDeadline/SetWriteDeadline forward to the underlying os.Pipe
// fds so pipeTransport's per-call timeout (spec §4.2) actually reaches
// a live ssh child -- both stdin and stdout are pollable os.Pipe ends,
// which support deadlines same as any net.Conn.
func (p *childPipe) SetReadDeadline(t time.Time) error {
	return p.child.ParentIo[uexec.STDOUT].SetReadDeadline(t)
}

func (p *childPipe) SetWriteDeadline(t time.Time) error {
	return p.child.ParentIo[uexec.STDIN].SetWriteDeadline(t)
}

// verifyFingerprint performs a throwaway SSH handshake (auth is never
// expected to succeed) purely to obtain the server's host key and run
// it past Verifier/Fingerprint, before the real ssh subprocess ever
// starts. A no-op when neither is configured.
func (l *DefaultLauncher) verifyFingerprint(host string, port int) error {
	if l.Fingerprint == "" && l.Verifier == nil {
		return nil
	}
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var verifyErr error
	cfg := &ssh.ClientConfig{
		User:    "sftp-fingerprint-probe",
		Auth:    []ssh.AuthMethod{ssh.Password("")},
		Timeout: 10 * time.Second,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if l.Verifier != nil {
				verifyErr = l.Verifier(hostname, remote, key)
				return verifyErr
			}
			if got := ssh.FingerprintSHA256(key); got != l.Fingerprint {
				verifyErr = fmt.Errorf("sftp: host key fingerprint %s does not match expected %s", got, l.Fingerprint)
			}
			return verifyErr
		},
	}

	conn, _ := ssh.Dial("tcp", addr, cfg)
	if conn != nil {
		_ = conn.Close()
	}
	if verifyErr != nil {
		return uerr.Chainf(verifyErr, "sftp: host key verification failed for %s", addr)
	}
	// Any error past the host-key check itself (auth always fails here
	// since no real credentials are offered) is expected and ignored.
	return nil
}

// Launch spawns `ssh [-p port] [-o opt]... [extra]... [user@]host -s sftp`
// (-p only for a port other than 0 or 22), matching
// the standard way an SFTP client hands off to OpenSSH's sftp-server
// subsystem (the spec's "external helper", §1/§4.8).
func (l *DefaultLauncher) Launch(
	ctx context.Context, host string, port int, user string, extra []string,
) (int, pipeReadWriteCloser, error) {

	if err := l.verifyFingerprint(host, port); err != nil {
		return 0, nil, err
	}

	sshPath := l.SSHPath
	if sshPath == "" {
		sshPath = "ssh"
	}
	dest := host
	if user != "" {
		dest = user + "@" + host
	}

	args := []string{sshPath}
	if port != 0 && port != 22 {
		args = append(args, "-p", strconv.Itoa(port))
	}
	for _, opt := range l.SSHOptions {
		args = append(args, "-o", opt)
	}
	args = append(args, extra...)
	args = append(args, dest, "-s", "sftp")

	c := uexec.NewChild(args...)
	c.Context = ctx
	if err := c.AddPipe(uexec.STDIN); err != nil {
		return 0, nil, uerr.Chainf(err, "sftp: wiring child stdin")
	}
	if err := c.AddPipe(uexec.STDOUT); err != nil {
		c.Close()
		return 0, nil, uerr.Chainf(err, "sftp: wiring child stdout")
	}
	if err := c.SetDevNull(uexec.STDERR); err != nil {
		c.Close()
		return 0, nil, uerr.Chainf(err, "sftp: wiring child stderr")
	}
	if err := c.Start(); err != nil {
		c.Close()
		return 0, nil, uerr.Chainf(err, "sftp: starting %s", sshPath)
	}
	l.child = c
	return c.Process.Pid, &childPipe{child: c}, nil
}

// Reap waits up to grace for the ssh child to exit, escalating to
// SIGTERM then SIGKILL (spec §8 scenario 5) via golang.org/x/sys/unix,
// the same signal-escalation idiom restic's process-foreground helper
// uses (restic/internal/backend/util/foreground_unix.go). The bounded
// wait is implemented with usync.AwaitTrue polling unix.Kill(pid, 0)
// -- the standard liveness probe on a process this session owns.
func (l *DefaultLauncher) Reap(ctx context.Context, pid int, grace time.Duration) error {
	alive := func() bool {
		return unix.Kill(pid, 0) == nil
	}

	if grace > 0 {
		if ok := usync.AwaitTrue(grace, 0, func() bool { return !alive() }); !ok {
			_ = unix.Kill(pid, unix.SIGTERM)
			usync.AwaitTrue(grace, 0, func() bool { return !alive() })
		}
	}
	if alive() {
		_ = unix.Kill(pid, unix.SIGKILL)
	}

	if l.child != nil {
		_ = l.child.Wait()
	} else if proc, err := os.FindProcess(pid); err == nil {
		_, _ = proc.Wait()
	}
	return nil
}

// openDevNull opens /dev/null for read/write, used as the transport
// stand-in in simulation mode (spec §4.8 "Simulation mode ... requires
// no network access").
func openDevNull() (pipeReadWriteCloser, error) {
	f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("sftp: opening %s: %w", os.DevNull, err)
	}
	return f, nil
}
