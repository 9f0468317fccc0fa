package sftp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyRingPutTakeCompacts(t *testing.T) {
	var r replyRing
	r.init(0)

	require.NoError(t, r.put(1, sshFxpStatus, []byte{1}))
	require.NoError(t, r.put(2, sshFxpStatus, []byte{2}))
	assert.Equal(t, 2, r.len())

	slot, ok := r.take(1)
	require.True(t, ok)
	assert.Equal(t, uint8(sshFxpStatus), slot.typ)
	assert.Equal(t, 1, r.len())

	_, ok = r.take(1)
	assert.False(t, ok)

	slot2, ok := r.take(2)
	require.True(t, ok)
	assert.Equal(t, []byte{2}, slot2.payload)
	assert.Equal(t, 0, r.len())
}

func TestReplyRingRespectsServerAdvertisedCeiling(t *testing.T) {
	var r replyRing
	r.init(2)
	require.NoError(t, r.put(1, sshFxpStatus, nil))
	require.NoError(t, r.put(2, sshFxpStatus, nil))
	err := r.put(3, sshFxpStatus, nil)
	assert.ErrorIs(t, err, ErrTooManyOutstandingReplies)
}

func TestReplyRingDefaultCeiling(t *testing.T) {
	var r replyRing
	r.init(0)
	assert.Equal(t, maxReplyRingCeiling, r.cap)
}

// newTestSession builds a Session wired to one end of an in-memory
// pipe, with the other end handed back for a fake-server goroutine to
// drive -- the same shape as the teacher's the_client_test.go driving
// a real process, minus the process.
func newTestSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	s := &Session{
		version: clientMaxVersion,
		workBuf: make([]byte, defaultMaxPacket),
	}
	s.transport = &pipeTransport{rw: clientSide, timeout: 5 * time.Second}
	s.replies.init(0)
	s.pendingWrites.init(4)
	return s, serverSide
}

// TestInterleavedRepliesAreBufferedAndReused exercises spec §8 scenario
// 6: two READ requests R1/R2 issued, server answers R2 then R1;
// get_reply(R1) must buffer R2 without losing it, and a later
// get_reply(R2) must find it already buffered.
func TestInterleavedRepliesAreBufferedAndReused(t *testing.T) {
	s, server := newTestSession(t)
	defer server.Close()

	r1 := s.allocID()
	r2 := s.allocID()

	go func() {
		writeFrame(server, r2, sshFxpStatus, statusOKPayload())
		writeFrame(server, r1, sshFxpStatus, statusOKPayload())
	}()

	typ, _, err := s.getReply(r1)
	require.NoError(t, err)
	assert.Equal(t, uint8(sshFxpStatus), typ)
	assert.Equal(t, 1, s.replies.len(), "R2's reply should be buffered")

	typ, _, err = s.getReply(r2)
	require.NoError(t, err)
	assert.Equal(t, uint8(sshFxpStatus), typ)
	assert.Equal(t, 0, s.replies.len())
}

func writeFrame(conn net.Conn, id uint32, typ uint8, payload []byte) {
	body := make([]byte, 0, 9+len(payload))
	body = putUint32(body, 0)
	body = append(body, typ)
	body = putUint32(body, id)
	body = append(body, payload...)
	patchLength(body)
	_, _ = conn.Write(body)
}

func statusOKPayload() []byte {
	var b []byte
	b = putUint32(b, SSH_FX_OK)
	b = putString(b, "")
	b = putString(b, "")
	return b
}
