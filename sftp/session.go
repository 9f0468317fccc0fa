package sftp

import (
	"context"
	"fmt"
	"time"

	"github.com/holger24/afd-sftp/ulog"
	"github.com/holger24/afd-sftp/uerr"
	"github.com/holger24/afd-sftp/usync"
)

// defaultMaxPacket is the smallest size every compliant SFTP server
// must support (spec §4.5 "buffer sizing"; also the teacher's
// WithMaxPacket default of 32768).
const defaultMaxPacket = 1 << 15

// maxWorkBufferCeiling is the hard ceiling the working buffer is
// allowed to grow to, regardless of what limits@openssh.com or a
// malformed length prefix might otherwise request (spec §4.1/§4.3).
const maxWorkBufferCeiling = 16 * 1024 * 1024

// maxOpenHandlesCeiling bounds how large the negotiated max-open-
// handles limit is allowed to shrink the reply ring to; see
// replyRing.init.
const maxOpenHandlesCeiling = maxReplyRingCeiling

// extensionSet records which recognised OpenSSH/draft extensions the
// server advertised, per spec §3 ("booleans or version numbers").
type extensionSet struct {
	posixRename bool
	statVFS     bool
	fstatVFS    bool
	hardlink    bool
	fsync       bool
	lsetstat    bool
	limits      bool
	expandPath  bool
	copyData    bool
	supported2  bool
	unknown     int
}

// supported2Caps is the decoded "supported2" extension payload, present
// only on the rare v6-leaning server that advertises it. Spec §4.5:
// "decoded defensively with per-field length checks because v6
// deployments are uncommon and the draft was never ratified."
type supported2Caps struct {
	attrMask       uint32
	attrBits       uint32
	openFlags      uint32
	accessMask     uint32
	maxReadSize    uint32
	openBlockVec   uint16
	blockVec       uint16
	extensionNames []string
}

// sessionLimits holds the effective limits, adopted from
// limits@openssh.com when advertised (spec §4.5).
type sessionLimits struct {
	maxPacketLength  uint64
	maxReadLength    uint64
	maxWriteLength   uint64
	maxOpenHandles   uint64
}

// Session is the client-side state machine for one logical SFTP
// transfer, per spec §3. All I/O is blocking and the session is meant
// to be driven from a single goroutine at a time (see SPEC_FULL.md §5.1
// for why this is a documented rather than a mutex-enforced invariant).
type Session struct {
	version    uint32
	extensions extensionSet
	supported2 *supported2Caps
	limits     sessionLimits

	nextID uint32 // wrapping u32 request-id counter

	workBuf []byte // reusable send/receive buffer, grown on demand

	cwd *string // absolute path as returned by REALPATH, or nil

	fileHandle []byte // opaque; nil if no file open
	dirHandle  []byte // opaque; nil if no dir open
	fileOffset uint64

	nameBuf       []nameEntry // buffered READDIR entries not yet returned
	nameBufPos    int
	dirEOF        bool
	readdirPacket uint64 // incremented per READDIR round-trip

	replies       replyRing
	pendingWrites pendingWriteSet
	pendingReads  pendingReadSet

	writeBlocksize int // blocksize used to size the pending-write window

	readWindow struct {
		current  int
		lowWater int
		max      int
		blocksize int
		totalReads int
		issuedReads int
		bytesDelivered uint64
	}

	lastStat *Attrs

	debugLevel int

	pipeBroken  usync.AtomicBool
	timeoutFlag *usync.AtomicBool // may be shared with the embedding engine

	transport *pipeTransport

	launcher Launcher
	pid      int

	simulation bool
}

// Options configures Connect, grounded on the teacher's functional-
// option ClientOption pattern (usftp/client.go).
type Options struct {
	Port        int
	User        string
	KeepAlive   time.Duration
	Timeout     time.Duration // per-call transport timeout
	DebugLevel  int
	Simulation  bool
	Launcher    Launcher            // defaults to DefaultLauncher
	TimeoutFlag *usync.AtomicBool   // shared latch; a private one is used if nil
	SSHOptions  []string            // extra args passed to the ssh child
	Fingerprint string              // expected SHA256 host-key fingerprint; see FingerprintVerifier
	Verifier    FingerprintVerifier // overrides the default Fingerprint comparison
}

// Connect spawns the ssh subprocess (or, in simulation mode, opens
// /dev/null) and negotiates the protocol version and extensions. Spec
// §4.8: "connect(hostname, port, protocol, options, keep_alive, user,
// fingerprint, passwd, debug) spawns ssh via the external helper,
// obtains a pid and a bidirectional pipe, performs login, sends INIT,
// and negotiates."
//
// Password/fingerprint login itself is the out-of-scope ssh_login
// collaborator (spec §1); this client only ever hands the launcher a
// host/port/user and, if set, a FingerprintVerifier.
func Connect(ctx context.Context, host string, opts Options) (*Session, error) {
	s := &Session{
		version:    clientMaxVersion,
		debugLevel: opts.DebugLevel,
		simulation: opts.Simulation,
	}
	if opts.TimeoutFlag != nil {
		s.timeoutFlag = opts.TimeoutFlag
	} else {
		s.timeoutFlag = &usync.AtomicBool{}
	}
	s.workBuf = make([]byte, defaultMaxPacket)
	s.pendingWrites.init(1) // resized once OPEN negotiates a blocksize

	if s.simulation {
		return connectSimulated(s), nil
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher = &DefaultLauncher{Fingerprint: opts.Fingerprint, Verifier: opts.Verifier}
	}
	s.launcher = launcher

	pid, rw, err := launcher.Launch(ctx, host, opts.Port, opts.User, opts.SSHOptions)
	if err != nil {
		return nil, uerr.Chainf(err, "sftp: launching ssh for %s", host)
	}
	s.pid = pid
	s.transport = &pipeTransport{rw: rw, timeout: opts.Timeout}

	if err := s.negotiate(ctx, clientMaxVersion); err != nil {
		_ = rw.Close()
		return nil, uerr.Chainf(err, "sftp: negotiating with %s", host)
	}

	if opts.KeepAlive > 0 {
		// the spec notes "a no-op if the underlying ssh configured
		// ServerAliveInterval already covers keepalive" (§4.6 noop); a
		// keepalive interval is recorded for the embedding engine to
		// drive via Noop, not run as a background goroutine here,
		// since the session is single-threaded cooperative (spec §5).
		ulog.DebugfFor("sftp", "keepalive interval %s configured; drive via Noop", opts.KeepAlive)
	}

	return s, nil
}

// connectSimulated preconfigures plausible capability values and binds
// the transport to /dev/null, per spec §4.8's simulation mode.
func connectSimulated(s *Session) *Session {
	s.version = clientMaxVersion
	s.extensions = extensionSet{
		posixRename: true, statVFS: true, fstatVFS: true, hardlink: true,
		fsync: true, lsetstat: true, limits: true, expandPath: true, copyData: true,
	}
	s.limits = sessionLimits{
		maxPacketLength: defaultMaxPacket,
		maxReadLength:   defaultMaxPacket,
		maxWriteLength:  defaultMaxPacket,
		maxOpenHandles:  maxOpenHandlesCeiling,
	}
	s.replies.init(uint32(maxOpenHandlesCeiling))
	devNull, err := openDevNull()
	if err == nil {
		s.transport = &pipeTransport{rw: devNull}
	}
	return s
}

// maxFrameLength is the session's current ceiling on an incoming
// frame's length prefix (spec §4.1 "Readers validate that length <=
// session.max_msg_length").
func (s *Session) maxFrameLength() uint32 {
	if s.limits.maxPacketLength > 0 && s.limits.maxPacketLength < maxWorkBufferCeiling {
		return uint32(s.limits.maxPacketLength)
	}
	return maxWorkBufferCeiling
}

// growWorkBuf grows the reusable working buffer to at least n bytes,
// capped by maxWorkBufferCeiling (spec §3 "a reusable send/receive
// buffer whose capacity is grown on demand up to a hard ceiling").
func (s *Session) growWorkBuf(n int) {
	if n <= len(s.workBuf) {
		return
	}
	newCap := len(s.workBuf) * 2
	if newCap < n {
		newCap = n
	}
	if newCap > maxWorkBufferCeiling {
		newCap = maxWorkBufferCeiling
	}
	grown := make([]byte, newCap)
	s.workBuf = grown
}

// allocID returns the next request id, a monotonically increasing
// wrapping u32 counter (spec §3).
func (s *Session) allocID() uint32 {
	s.nextID++
	return s.nextID
}

// Version reports the negotiated protocol version (spec §6 "a
// version() accessor").
func (s *Session) Version() uint32 { return s.version }

// Features reports the negotiated capability summary (spec §6 "a
// features() accessor returning the negotiated capability summary").
type Features struct {
	PosixRename bool
	StatVFS     bool
	FStatVFS    bool
	HardLink    bool
	Fsync       bool
	LSetStat    bool
	Limits      bool
	ExpandPath  bool
	CopyData    bool
	Supported2  bool
	Unknown     int
}

func (s *Session) Features() Features {
	return Features{
		PosixRename: s.extensions.posixRename,
		StatVFS:     s.extensions.statVFS,
		FStatVFS:    s.extensions.fstatVFS,
		HardLink:    s.extensions.hardlink,
		Fsync:       s.extensions.fsync,
		LSetStat:    s.extensions.lsetstat,
		Limits:      s.extensions.limits,
		ExpandPath:  s.extensions.expandPath,
		CopyData:    s.extensions.copyData,
		Supported2:  s.extensions.supported2,
		Unknown:     s.extensions.unknown,
	}
}

// BlocksizeChanged is returned by SetBlocksize when the caller must
// re-read the effective blocksize after clamping (spec §6).
var BlocksizeChanged = fmt.Errorf("sftp: blocksize changed")

// SetBlocksize negotiates the desired I/O blocksize, clamping against
// the advertised max packet length and regrowing the working buffer if
// needed (spec §6 "a set_blocksize(desired) negotiator").
func (s *Session) SetBlocksize(desired int) (effective int, err error) {
	max := int(s.limits.maxPacketLength)
	if max <= 0 {
		max = defaultMaxPacket
	}
	// leave room for the 9-byte SFTP header plus WRITE/READ framing
	usable := max - 32
	if usable < 1 {
		usable = 1
	}
	effective = desired
	changed := false
	if effective > usable {
		effective = usable
		changed = true
	}
	if effective < 1 {
		effective = 1024
		changed = true
	}
	s.growWorkBuf(effective + 64)
	if changed {
		return effective, BlocksizeChanged
	}
	return effective, nil
}

// Quit tears the session down per spec §3: closes any open dir handle
// (unless timed out or pipe-broken), frees all buffered replies, closes
// the pipe, and reaps the child with a bounded wait then SIGKILL
// fallback.
func (s *Session) Quit(ctx context.Context) error {
	if s.simulation {
		if s.transport != nil {
			_ = s.transport.rw.Close()
		}
		return nil
	}

	if !s.timeoutFlag.IsSet() && !s.pipeBroken.IsSet() && s.dirHandle != nil {
		_, _ = s.CloseDir()
	}

	s.replies.slots = nil
	s.fileHandle = nil
	s.dirHandle = nil

	var closeErr error
	if s.transport != nil {
		closeErr = s.transport.rw.Close()
	}

	if s.launcher != nil && s.pid != 0 {
		grace := 2 * time.Second
		if s.timeoutFlag.IsSet() {
			grace = 0 // spec §5: "limits its waitpid wait to one iteration"
		}
		if err := s.launcher.Reap(ctx, s.pid, grace); err != nil {
			ulog.Warnf("sftp: reap pid %d: %s", s.pid, err)
		}
	}
	return closeErr
}
