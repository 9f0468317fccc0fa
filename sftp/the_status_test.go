package sftp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStatusOK(t *testing.T) {
	var b []byte
	b = putUint32(b, SSH_FX_OK)
	b = putString(b, "")
	b = putString(b, "")
	err := decodeStatus(b)
	assert.NoError(t, err)
}

func TestDecodeStatusNoSuchFile(t *testing.T) {
	var b []byte
	b = putUint32(b, SSH_FX_NO_SUCH_FILE)
	b = putString(b, "no such file")
	b = putString(b, "")
	err := decodeStatus(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSuchFile))
	assert.False(t, errors.Is(err, ErrPermissionDenied))
}

func TestDecodeStatusEOFUsesSentinel(t *testing.T) {
	var b []byte
	b = putUint32(b, SSH_FX_EOF)
	err := decodeStatus(b)
	assert.ErrorIs(t, err, ErrEOF)
}

func TestStatusErrorIsMatchesOnCodeNotMessage(t *testing.T) {
	a := &StatusError{Code: SSH_FX_FAILURE, Msg: "alpha"}
	b := &StatusError{Code: SSH_FX_FAILURE, Msg: "beta"}
	assert.True(t, errors.Is(a, b))

	c := &StatusError{Code: SSH_FX_PERMISSION_DENIED, Msg: "alpha"}
	assert.False(t, errors.Is(a, c))
}

func TestFramingErrorUnwrapsToIncorrect(t *testing.T) {
	err := framingErrorf("oversized frame %d", 99999)
	assert.ErrorIs(t, err, ErrIncorrect)
	assert.Contains(t, err.Error(), "oversized frame 99999")
}
