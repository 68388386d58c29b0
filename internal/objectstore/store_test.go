package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	return New(bucket)
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// writeChunks stores data in chunkSize pieces, last chunk first.
func writeChunks(t *testing.T, s *Store, uploadID string, data []byte, chunkSize int) {
	t.Helper()
	ctx := context.Background()
	var pieces [][]byte
	for off := 0; off < len(data); off += chunkSize {
		pieces = append(pieces, data[off:min(off+chunkSize, len(data))])
	}
	for i := len(pieces) - 1; i >= 0; i-- {
		info, err := s.WriteChunk(ctx, uploadID, i+1, bytes.NewReader(pieces[i]))
		require.NoError(t, err)
		assert.Equal(t, int64(len(pieces[i])), info.Size)
		assert.Equal(t, md5Hex(pieces[i]), info.Hash.Value)
	}
}

func TestWriteCompleteAndRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	data := testData(1000)

	writeChunks(t, s, "u1", data, 300)

	m, err := s.Complete(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), m.TotalSize)
	assert.Equal(t, md5Hex(data), m.Hash.Value)
	require.Len(t, m.Chunks, 4)
	assert.Equal(t, int64(900), m.Chunks[3].Offset)
	assert.Equal(t, int64(100), m.Chunks[3].Size)

	r, err := s.NewRangeReader(ctx, "u1", 0, -1)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, data, got)
}

func TestRangeAcrossChunks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	data := testData(1000)
	writeChunks(t, s, "u1", data, 300)
	_, err := s.Complete(ctx, "u1")
	require.NoError(t, err)

	tests := []struct {
		offset, length int64
	}{
		{0, 1},
		{250, 100},
		{299, 2},
		{550, 400},
		{999, 1},
		{900, 500}, // clipped to the end
	}
	for _, tt := range tests {
		r, err := s.NewRangeReader(ctx, "u1", tt.offset, tt.length)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		r.Close()

		end := min(tt.offset+tt.length, int64(len(data)))
		assert.Equal(t, data[tt.offset:end], got, "range %d+%d", tt.offset, tt.length)
	}

	_, err = s.NewRangeReader(ctx, "u1", 1001, 1)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestCompleteMissingChunk(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.WriteChunk(ctx, "u1", 1, bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	_, err = s.WriteChunk(ctx, "u1", 3, bytes.NewReader([]byte("c")))
	require.NoError(t, err)

	_, err = s.Complete(ctx, "u1")
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = s.Complete(ctx, "empty")
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestZeroByteUpload(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	info, err := s.WriteChunk(ctx, "u1", 1, bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", info.Hash.Value)

	m, err := s.Complete(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, m.TotalSize)
	assert.Len(t, m.Chunks, 1)
}

func TestWriteAfterComplete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	writeChunks(t, s, "u1", []byte("hello"), 5)
	_, err := s.Complete(ctx, "u1")
	require.NoError(t, err)

	_, err = s.WriteChunk(ctx, "u1", 2, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, ErrCompleted)

	m, err := s.Complete(ctx, "u1")
	assert.ErrorIs(t, err, ErrCompleted)
	assert.Equal(t, int64(5), m.TotalSize)
}

func TestManifestNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Manifest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateAndDelete(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	s := New(bucket)

	writeChunks(t, s, "u1", testData(100), 40)
	_, err := s.Complete(ctx, "u1")
	require.NoError(t, err)

	res, err := s.Validate(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 3, res.ChunkCount)

	require.NoError(t, bucket.Delete(ctx, "uploads/u1/chunk-000002"))
	require.NoError(t, bucket.WriteAll(ctx, "uploads/u1/chunk-000003", []byte("x"), nil))

	res, err = s.Validate(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 1, res.MissingChunks)
	assert.Equal(t, 1, res.SizeMismatches)

	require.NoError(t, s.Delete(ctx, "u1"))
	_, err = s.Manifest(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenByURL(t *testing.T) {
	s, err := Open(context.Background(), "mem://")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.WriteChunk(context.Background(), "u1", 1, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
}
