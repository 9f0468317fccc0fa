package sftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	var b []byte
	b = putUint16(b, 0xBEEF)
	b = putUint32(b, 0xDEADBEEF)
	b = putUint64(b, 0x0102030405060708)
	b = putString(b, "hello")
	b = putBytes(b, []byte{1, 2, 3})

	u16, rest, err := getUint16(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), u16)

	u32, rest, err := getUint32(rest)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	u64, rest, err := getUint64(rest)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u64)

	s, rest, err := getString(rest, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	v, rest, err := getBytes(rest, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, v)
	assert.Empty(t, rest)
}

func TestGetStringRejectsOversizedLength(t *testing.T) {
	var b []byte
	b = putString(b, "this string is definitely too long for the cap")
	_, _, err := getString(b, 4)
	assert.ErrorIs(t, err, errLongString)
}

func TestGetUint32ShortPacket(t *testing.T) {
	_, _, err := getUint32([]byte{1, 2})
	assert.ErrorIs(t, err, errShortPacket)
}

func TestGetStringShortPacketOnTruncatedBody(t *testing.T) {
	var b []byte
	b = putUint32(b, 10) // claims 10 bytes, supplies none
	_, _, err := getString(b, 0)
	assert.ErrorIs(t, err, errShortPacket)
}
