package sftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAttrsV3(t *testing.T) {
	var b []byte
	b = putUint32(b, attrSize|attrUidGid|attrPermissions|attrAcModTime)
	b = putUint64(b, 12345)
	b = putUint32(b, 1000) // uid
	b = putUint32(b, 1000) // gid
	b = putUint32(b, 0100644)
	b = putUint32(b, 111) // atime
	b = putUint32(b, 222) // mtime

	a, rest, ok, err := decodeAttrs(b, 3, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, rest)
	assert.EqualValues(t, 12345, a.Size)
	assert.EqualValues(t, 1000, a.Uid)
	assert.EqualValues(t, 1000, a.Gid)
	assert.EqualValues(t, 0100644, a.Permissions)
	assert.EqualValues(t, 111, a.Atime)
	assert.EqualValues(t, 222, a.Mtime)
	assert.False(t, a.IsDir())
}

func TestDecodeAttrsV4DirectoryType(t *testing.T) {
	var b []byte
	b = putUint32(b, attrSize)
	b = append(b, sshFileXferTypeDirectory)
	b = putUint64(b, 4096)

	a, rest, ok, err := decodeAttrs(b, 4, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, rest)
	assert.True(t, a.IsDir())
	assert.EqualValues(t, 4096, a.Size)
}

func TestDecodeAttrsShortBufferStopsEarlyWithoutError(t *testing.T) {
	var b []byte
	b = putUint32(b, attrSize)
	b = append(b, []byte{0, 0}...) // truncated size field

	a, _, ok, err := decodeAttrs(b, 3, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotNil(t, a)
}

func TestDecodeAttrsV4OwnerGroupResolvesNumericFallback(t *testing.T) {
	var b []byte
	b = putUint32(b, attrOwnerGroup)
	b = append(b, sshFileXferTypeRegular)
	b = putString(b, "definitely-not-a-real-user-xyz")
	b = putString(b, "definitely-not-a-real-group-xyz")

	a, _, ok, err := decodeAttrs(b, 4, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "definitely-not-a-real-user-xyz", a.Owner)
	assert.Equal(t, "definitely-not-a-real-group-xyz", a.Group)
}

func TestDecodeAttrsV6CtimeAndUntranslatedNameDoNotAlias(t *testing.T) {
	var b []byte
	b = putUint32(b, attrCtime|attrUntranslatedNam)
	b = append(b, sshFileXferTypeRegular)
	b = putUint64(b, 999) // ctime
	b = putString(b, "untranslated")

	a, rest, ok, err := decodeAttrs(b, 6, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, rest)
	assert.EqualValues(t, 999, a.Ctime)
}

func TestEncodeAttrsOutPermissionsOnly(t *testing.T) {
	b := encodeAttrsOut(nil, 3, &Attrs{Permissions: 0755}, attrsWant{permissions: true})
	flags, rest, err := getUint32(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(attrPermissions), flags)
	perm, _, err := getUint32(rest)
	require.NoError(t, err)
	assert.EqualValues(t, 0755, perm)
}

func TestEncodeAttrsOutTimesV3VsV4(t *testing.T) {
	a := &Attrs{Atime: 10, Mtime: 20}

	v3 := encodeAttrsOut(nil, 3, a, attrsWant{times: true})
	flags, rest, _ := getUint32(v3)
	assert.Equal(t, uint32(attrAcModTime), flags)
	at, rest, _ := getUint32(rest)
	mt, _, _ := getUint32(rest)
	assert.EqualValues(t, 10, at)
	assert.EqualValues(t, 20, mt)

	v4 := encodeAttrsOut(nil, 4, a, attrsWant{times: true})
	flags4, rest4, _ := getUint32(v4)
	assert.Equal(t, uint32(attrAccessTime|attrModifyTime), flags4)
	at64, rest4, _ := getUint64(rest4)
	mt64, _, _ := getUint64(rest4)
	assert.EqualValues(t, 10, at64)
	assert.EqualValues(t, 20, mt64)
}
