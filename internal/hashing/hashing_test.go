package hashing

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestHashBytes(t *testing.T) {
	data := []byte("hello world")

	h, err := HashBytes(AlgorithmMD5, data)
	require.NoError(t, err)
	assert.Equal(t, Hash{Algorithm: "md5", Value: md5Hex(data)}, h)

	h, err = HashBytes("SHA-256", data)
	require.NoError(t, err)
	assert.Equal(t, Hash{Algorithm: "sha256", Value: sha256Hex(data)}, h)

	_, err = HashBytes("crc32", data)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestHashFileEmpty(t *testing.T) {
	path := writeTempFile(t, nil)
	h, err := HashFile(AlgorithmMD5, path)
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", h.Value)
}

func TestDetermineForHashesOK(t *testing.T) {
	data := []byte("some file content")
	path := writeTempFile(t, data)

	status, err := DetermineForHashes([]Hash{
		{Algorithm: "md5", Value: md5Hex(data)},
		{Algorithm: "SHA-256", Value: sha256Hex(data)},
	}, path)
	require.NoError(t, err)

	assert.Equal(t, StatusOK, status.Status)
	assert.True(t, status.HasAValidHash())
	assert.NoError(t, status.Err())
	assert.Len(t, status.Local, 2)
	assert.Equal(t, path+" "+md5Hex(data)+" md5 OK", status.StatusLine())
}

func TestDetermineForHashesFailed(t *testing.T) {
	path := writeTempFile(t, []byte("actual"))

	status, err := DetermineForHashes([]Hash{
		{Algorithm: "md5", Value: md5Hex([]byte("expected"))},
	}, path)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, status.Status)
	assert.False(t, status.HasAValidHash())

	var mismatch *HashMismatchError
	require.ErrorAs(t, status.Err(), &mismatch)
	assert.Equal(t, path, mismatch.Path)
	assert.Contains(t, status.StatusLine(), "FAILED")
}

func TestDetermineForHashesWarning(t *testing.T) {
	data := []byte("content")
	path := writeTempFile(t, data)

	status, err := DetermineForHashes([]Hash{
		{Algorithm: "md5", Value: md5Hex(data)},
		{Algorithm: "md5", Value: md5Hex([]byte("other"))},
	}, path)
	require.NoError(t, err)

	assert.Equal(t, StatusWarning, status.Status)
	assert.True(t, status.HasAValidHash())
	assert.NoError(t, status.Err())
	// The file is only hashed once per algorithm.
	assert.Len(t, status.Local, 1)
	assert.Contains(t, status.StatusLine(), "WARNING")
}

func TestDetermineForHashesNoSupportedAlgorithm(t *testing.T) {
	path := writeTempFile(t, []byte("content"))

	_, err := DetermineForHashes([]Hash{{Algorithm: "crc32", Value: "abc"}}, path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSupportedHash))

	_, err = DetermineForHashes(nil, path)
	assert.ErrorIs(t, err, ErrNoSupportedHash)
}

func TestDetermineForHashesIgnoresUnsupported(t *testing.T) {
	data := []byte("content")
	path := writeTempFile(t, data)

	status, err := DetermineForHashes([]Hash{
		{Algorithm: "crc32", Value: "abc"},
		{Algorithm: "MD5", Value: md5Hex(data)},
	}, path)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status.Status)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "OK", StatusOK.String())
	assert.Equal(t, "WARNING", StatusWarning.String())
	assert.Equal(t, "FAILED", StatusFailed.String())
}
