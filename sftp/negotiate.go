package sftp

import (
	"context"

	"github.com/holger24/afd-sftp/ulog"
)

// negotiate performs the INIT/VERSION exchange and extension discovery,
// grounded on usftp/conn.go's Start() (same INIT-send, VERSION-read,
// extension-pair-loop shape) but synchronous and extended for v4-v6
// plus the OpenSSH extensions the teacher never negotiated (spec §4.5).
func (s *Session) negotiate(ctx context.Context, wantVersion uint32) error {
	buf := make([]byte, 0, 64)
	buf = putUint32(buf, 0) // length placeholder
	buf = append(buf, sshFxpInit)
	buf = putUint32(buf, wantVersion)
	patchLength(buf)

	if res, err := s.transport.writeAll(buf); err != nil {
		s.onTransportResult(res)
		return err
	}

	id, typ, payload, err := s.readFrame()
	if err != nil {
		return err
	}
	if typ != sshFxpVersion {
		return framingErrorf("expected VERSION, got packet type %d", typ)
	}

	// INIT/VERSION exchange has no request id (spec §4.5): the u32 that
	// readFrame decodes as an id is the server's version, and payload
	// holds only the extension pairs.
	version, rest := id, payload
	if version < minVersion {
		return framingErrorf("server version %d below minimum supported %d", version, minVersion)
	}
	s.version = version
	if s.version > wantVersion {
		s.version = wantVersion
	}

	for len(rest) > 0 {
		name, r2, err := getString(rest, s.maxFrameLength())
		if err != nil {
			break // tolerate a malformed trailing extension pair
		}
		data, r3, err := getString(r2, s.maxFrameLength())
		if err != nil {
			break
		}
		rest = r3
		s.recordExtension(name, data)
	}

	if s.extensions.limits {
		if err := s.fetchLimits(ctx); err != nil {
			ulog.DebugfFor("sftp", "limits@openssh.com query failed, using defaults: %s", err)
		}
	}
	if s.limits.maxPacketLength == 0 {
		s.limits.maxPacketLength = defaultMaxPacket
	}
	s.replies.init(uint32(s.limits.maxOpenHandles))

	return nil
}

// recordExtension updates extensions/supported2 for one (name, data)
// extension pair from VERSION, per spec §4.5's "booleans or version
// numbers" capability summary.
func (s *Session) recordExtension(name, data string) {
	switch name {
	case "posix-rename@openssh.com":
		s.extensions.posixRename = true
	case "statvfs@openssh.com":
		s.extensions.statVFS = true
	case "fstatvfs@openssh.com":
		s.extensions.fstatVFS = true
	case "hardlink@openssh.com":
		s.extensions.hardlink = true
	case "fsync@openssh.com":
		s.extensions.fsync = true
	case "lsetstat@openssh.com":
		s.extensions.lsetstat = true
	case "limits@openssh.com":
		s.extensions.limits = true
	case "expand-path@openssh.com":
		s.extensions.expandPath = true
	case "copy-data":
		s.extensions.copyData = true
	case "supported2":
		s.extensions.supported2 = true
		s.decodeSupported2([]byte(data))
	default:
		s.extensions.unknown++
		ulog.DebugfFor("sftp", "unrecognised extension %q advertised", name)
	}
}

// decodeSupported2 parses the rarely-seen "supported2" extension data,
// defensively per-field since the draft was never ratified (spec §4.5).
func (s *Session) decodeSupported2(data []byte) {
	caps := &supported2Caps{}
	b := data
	var err error
	if caps.attrMask, b, err = getUint32(b); err != nil {
		return
	}
	if caps.attrBits, b, err = getUint32(b); err != nil {
		return
	}
	if caps.openFlags, b, err = getUint32(b); err != nil {
		return
	}
	if caps.accessMask, b, err = getUint32(b); err != nil {
		return
	}
	if caps.maxReadSize, b, err = getUint32(b); err != nil {
		return
	}
	if caps.openBlockVec, b, err = getUint16(b); err != nil {
		return
	}
	if caps.blockVec, b, err = getUint16(b); err != nil {
		return
	}
	nameCount, b, err := getUint32(b)
	if err != nil {
		return
	}
	for i := uint32(0); i < nameCount && len(b) > 0; i++ {
		var name string
		name, b, err = getString(b, s.maxFrameLength())
		if err != nil {
			break
		}
		caps.extensionNames = append(caps.extensionNames, name)
	}
	s.supported2 = caps
}

// fetchLimits issues the limits@openssh.com extended request and adopts
// the server's reported ceilings, clamped to this client's own hard
// ceilings (spec §4.5 "adopted when advertised").
func (s *Session) fetchLimits(ctx context.Context) error {
	id := s.allocID()
	buf := make([]byte, 0, 64)
	buf = putUint32(buf, 0)
	buf = append(buf, sshFxpExtended)
	buf = putUint32(buf, id)
	buf = putString(buf, "limits@openssh.com")
	patchLength(buf)

	if res, err := s.transport.writeAll(buf); err != nil {
		s.onTransportResult(res)
		return err
	}
	typ, payload, err := s.getReply(id)
	if err != nil {
		return err
	}
	if typ == sshFxpStatus {
		return decodeStatus(payload)
	}
	if typ != sshFxpExtendedReply {
		return framingErrorf("expected EXTENDED_REPLY for limits, got type %d", typ)
	}

	maxPacketLength, rest, err := getUint64(payload)
	if err != nil {
		return framingErrorf("limits payload: %s", err)
	}
	maxReadLength, rest, err := getUint64(rest)
	if err != nil {
		return framingErrorf("limits payload: %s", err)
	}
	maxWriteLength, rest, err := getUint64(rest)
	if err != nil {
		return framingErrorf("limits payload: %s", err)
	}
	maxOpenHandles, _, err := getUint64(rest)
	if err != nil {
		return framingErrorf("limits payload: %s", err)
	}

	if maxPacketLength > 0 {
		s.limits.maxPacketLength = maxPacketLength
	}
	if maxReadLength > 0 {
		s.limits.maxReadLength = maxReadLength
	}
	if maxWriteLength > 0 {
		s.limits.maxWriteLength = maxWriteLength
	}
	if maxOpenHandles > 0 && maxOpenHandles < maxOpenHandlesCeiling {
		s.limits.maxOpenHandles = maxOpenHandles
	} else {
		s.limits.maxOpenHandles = maxOpenHandlesCeiling
	}
	return nil
}

// patchLength backfills the u32 length prefix now that buf holds the
// whole frame (type + id + payload), per spec §4.1 framing.
func patchLength(buf []byte) {
	n := uint32(len(buf) - 4)
	buf[0] = byte(n >> 24)
	buf[1] = byte(n >> 16)
	buf[2] = byte(n >> 8)
	buf[3] = byte(n)
}
