// Package sftp is a client-side implementation of the SSH File Transfer
// Protocol (drafts 3 through 6, plus the common OpenSSH extensions),
// tunnelled over the stdin/stdout pipes of a locally spawned ssh
// subprocess.
//
// A Session drives one logical transfer per connection: there is no
// multiplexing of several logical transfers over one child process, and
// no attempt to implement the server side. See SPEC_FULL.md for how this
// diverges from github.com/pkg/sftp, which takes the opposite,
// concurrent-by-default approach.
package sftp

import (
	"encoding/binary"
)

// protocol packet types, draft-ietf-secsh-filexfer
const (
	sshFxpInit          = 1
	sshFxpVersion       = 2
	sshFxpOpen          = 3
	sshFxpClose         = 4
	sshFxpRead          = 5
	sshFxpWrite         = 6
	sshFxpLstat         = 7
	sshFxpFstat         = 8
	sshFxpSetstat       = 9
	sshFxpFsetstat      = 10
	sshFxpOpendir       = 11
	sshFxpReaddir       = 12
	sshFxpRemove        = 13
	sshFxpMkdir         = 14
	sshFxpRmdir         = 15
	sshFxpRealpath      = 16
	sshFxpStat          = 17
	sshFxpRename        = 18
	sshFxpReadlink      = 19
	sshFxpSymlink       = 20
	sshFxpLink          = 21 // v6 hard link
	sshFxpStatus        = 101
	sshFxpHandle        = 102
	sshFxpData          = 103
	sshFxpName          = 104
	sshFxpAttrs         = 105
	sshFxpExtended      = 200
	sshFxpExtendedReply = 201
)

// SFTP_OPEN flags, v3 semantics
const (
	sshFxfRead   = 0x00000001
	sshFxfWrite  = 0x00000002
	sshFxfAppend = 0x00000004
	sshFxfCreat  = 0x00000008
	sshFxfTrunc  = 0x00000010
	sshFxfExcl   = 0x00000020
)

// v5/v6 ACCESS mask bits (a small subset actually used by this client)
const (
	aceReadData        = 0x00000001
	aceWriteData       = 0x00000002
	aceAppendData      = 0x00000004
	aceDeleteChild     = 0x00000040
	aceDelete          = 0x00010000
	aceReadAttributes  = 0x00000080
	aceWriteAttributes = 0x00000100
)

// v5/v6 OPEN flags (distinct bitfield from v3's)
const (
	sshFxfAccessDisposition = 0x00000007
	sshFxfCreateNew         = 0x00000000
	sshFxfCreateTruncate    = 0x00000001
	sshFxfOpenExisting      = 0x00000002
	sshFxfOpenOrCreate      = 0x00000003
	sshFxfTruncateExisting  = 0x00000004
	sshFxfAppendData        = 0x00000008
)

// maximum protocol version this client negotiates down to; the spec
// names this the "compiled-in maximum version" (§1 Non-goals).
const clientMaxVersion = 6

const minVersion = 3

func putUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

func putUint32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}

func putUint64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

func putString(b []byte, s string) []byte {
	b = putUint32(b, uint32(len(s)))
	return append(b, s...)
}

func putBytes(b []byte, v []byte) []byte {
	b = putUint32(b, uint32(len(v)))
	return append(b, v...)
}

// getUint16 reads a big-endian u16, validating there are enough bytes.
func getUint16(b []byte) (v uint16, rest []byte, err error) {
	if len(b) < 2 {
		return 0, nil, errShortPacket
	}
	return binary.BigEndian.Uint16(b), b[2:], nil
}

func getUint32(b []byte) (v uint32, rest []byte, err error) {
	if len(b) < 4 {
		return 0, nil, errShortPacket
	}
	return binary.BigEndian.Uint32(b), b[4:], nil
}

func getUint64(b []byte) (v uint64, rest []byte, err error) {
	if len(b) < 8 {
		return 0, nil, errShortPacket
	}
	return binary.BigEndian.Uint64(b), b[8:], nil
}

// getString reads a u32-length-prefixed string, validating against
// maxLen (the session's negotiated max message length, per spec §4.1:
// "Readers validate that length <= session.max_msg_length").
func getString(b []byte, maxLen uint32) (s string, rest []byte, err error) {
	n, rest, err := getUint32(b)
	if err != nil {
		return "", nil, err
	}
	if maxLen != 0 && n > maxLen {
		return "", nil, errLongString
	}
	if uint64(n) > uint64(len(rest)) {
		return "", nil, errShortPacket
	}
	return string(rest[:n]), rest[n:], nil
}

func getBytes(b []byte, maxLen uint32) (v []byte, rest []byte, err error) {
	n, rest, err := getUint32(b)
	if err != nil {
		return nil, nil, err
	}
	if maxLen != 0 && n > maxLen {
		return nil, nil, errLongString
	}
	if uint64(n) > uint64(len(rest)) {
		return nil, nil, errShortPacket
	}
	cp := make([]byte, n)
	copy(cp, rest[:n])
	return cp, rest[n:], nil
}
