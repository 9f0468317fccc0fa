package sftp

import (
	"context"
	"net"
	"testing"

	"github.com/holger24/afd-sftp/usync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriteThenCloseDrainsExactlyOneAckPerWrite exercises spec §8
// scenario 1: N writes followed by close_file must advance file_offset
// by the sum of block sizes and drain exactly N acknowledgements.
func TestWriteThenCloseDrainsExactlyOneAckPerWrite(t *testing.T) {
	s, server := newTestSession(t)
	defer server.Close()

	s.fileHandle = []byte("h")
	s.writeBlocksize = 4000
	s.pendingWrites.init(maxPendingWrites)

	acked := make(chan uint32, 8)
	go fakeStatusOKResponder(server, acked)

	blocks := [][]byte{make([]byte, 4000), make([]byte, 4000), make([]byte, 2000)}
	for _, b := range blocks {
		require.NoError(t, s.Write(b))
	}
	assert.EqualValues(t, 10000, s.fileOffset)

	require.NoError(t, s.Flush())
	assert.True(t, s.pendingWrites.empty())

	close(acked)
	count := 0
	for range acked {
		count++
	}
	assert.Equal(t, 3, count)
}

// fakeStatusOKResponder reads frames off server and answers every one
// with STATUS(OK), echoing back the observed request id on acked. Each
// answer is written from its own goroutine: net.Pipe has no buffering,
// and pipelined writes send further requests before reading any ack.
func fakeStatusOKResponder(conn net.Conn, acked chan<- uint32) {
	for {
		var hdr [4]byte
		if _, err := readFull(conn, hdr[:]); err != nil {
			return
		}
		length := uint32(hdr[0])<<24 | uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3])
		body := make([]byte, length)
		if _, err := readFull(conn, body); err != nil {
			return
		}
		id := uint32(body[1])<<24 | uint32(body[2])<<16 | uint32(body[3])<<8 | uint32(body[4])
		select {
		case acked <- id:
		default:
		}
		go writeFrame(conn, id, sshFxpStatus, statusOKPayload())
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

// TestWriteEPIPELatchesPipeBroken exercises spec §8 scenario 5: once
// the transport observes a broken pipe, pipe_broken latches and every
// subsequent call short-circuits.
func TestWriteEPIPELatchesPipeBroken(t *testing.T) {
	s, server := newTestSession(t)
	server.Close() // simulate the child having already exited

	s.fileHandle = []byte("h")
	s.writeBlocksize = 4096
	s.pendingWrites.init(4)

	err := s.Write(make([]byte, 10))
	require.Error(t, err)

	assert.True(t, s.pipeBroken.IsSet())

	err = s.Write(make([]byte, 10))
	assert.ErrorIs(t, err, ErrPipeBroken)

	_, err = s.Stat(".")
	assert.ErrorIs(t, err, ErrPipeBroken)
}

// TestQuitSkipsCloseDirWhenTimedOut exercises spec §5 cancellation:
// quit() skips sending CLOSE for the dir handle when timeout_flag is
// latched. The fake server below never answers, so if the skip logic
// regressed and Quit tried to send CLOSE anyway, the blocking write on
// this unbuffered net.Pipe would hang the test instead of returning.
func TestQuitSkipsCloseDirWhenTimedOut(t *testing.T) {
	s, server := newTestSession(t)
	defer server.Close()

	s.timeoutFlag = &usync.AtomicBool{}
	s.timeoutFlag.Set()
	s.dirHandle = []byte("dh")

	require.NoError(t, s.Quit(context.Background()))
}

func TestSetBlocksizeClampsToMaxPacket(t *testing.T) {
	s := &Session{limits: sessionLimits{maxPacketLength: 1024}, workBuf: make([]byte, 64)}
	eff, err := s.SetBlocksize(4096)
	assert.ErrorIs(t, err, BlocksizeChanged)
	assert.Less(t, eff, 1024)
	assert.GreaterOrEqual(t, len(s.workBuf), eff)
}

func TestGrowWorkBufRespectsCeiling(t *testing.T) {
	s := &Session{workBuf: make([]byte, 16)}
	s.growWorkBuf(1 << 30)
	assert.Equal(t, maxWorkBufferCeiling, len(s.workBuf))
}
