package upload

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/devserver"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWatcher struct {
	mu      sync.Mutex
	bytes   int64
	items   int
	started int
	done    int
}

func (w *recordingWatcher) TransferringItem(_ string, n int, b int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items += n
	w.bytes += b
}

func (w *recordingWatcher) StartWaiting() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started++
}

func (w *recordingWatcher) DoneWaiting() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done++
}

func newUploader(env *testutils.DevEnv, w *recordingWatcher) *Uploader {
	return New(Options{
		Connection:          env.Connection,
		BytesPerChunk:       10,
		Workers:             3,
		ConsistencyInterval: time.Millisecond,
		Watcher:             w,
	})
}

func TestUploadFiles(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{Auth: "token"})
	dir := t.TempDir()

	contents := map[string][]byte{
		"small.txt": []byte("tiny"),
		"multi.bin": testutils.GenerateTestData(t, 95),
		"empty.txt": {},
	}
	var items []Item
	for name, data := range contents {
		items = append(items, Item{
			Path:      testutils.WriteTestFile(t, dir, name, data),
			ProjectID: "p1",
		})
	}

	w := &recordingWatcher{}
	report, err := newUploader(env, w).Upload(ctx, items)
	require.NoError(t, err)
	require.Len(t, report.Sent, len(contents))

	for _, sent := range report.Sent {
		want := contents[sent.Name]
		got, err := env.Server.ReadFile(ctx, sent.FileID)
		require.NoError(t, err)
		assert.Equal(t, want, got, sent.Name)

		wantHash, err := hashing.HashBytes(hashing.AlgorithmMD5, want)
		require.NoError(t, err)
		assert.Equal(t, wantHash, sent.Hash)
		assert.Equal(t, 1, sent.Version)
	}

	assert.Equal(t, 3, w.items)
	assert.Equal(t, int64(99), w.bytes)
	assert.Equal(t, int64(99), report.TotalBytes())
	// 1 + 10 + 1 chunks
	assert.Equal(t, 12, env.Server.Stats().ChunkURLs)
}

func TestZeroByteUploadRequestsOneChunk(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	path := testutils.WriteTestFile(t, t.TempDir(), "empty", nil)

	report, err := newUploader(env, &recordingWatcher{}).Upload(ctx, []Item{{Path: path, ProjectID: "p1"}})
	require.NoError(t, err)
	require.Len(t, report.Sent, 1)

	stats := env.Server.Stats()
	assert.Equal(t, 1, stats.ChunkURLs)
	assert.Equal(t, 1, stats.ChunkSends)
	assert.Equal(t, 1, stats.CompleteUploads)

	f, ok := env.Server.File(report.Sent[0].FileID)
	require.True(t, ok)
	assert.Equal(t, int64(0), f.Size())
}

func TestForbiddenChunkURLIsReissued(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	env.Server.SetFaults(devserver.Faults{ForbiddenChunkSends: 1})
	path := testutils.WriteTestFile(t, t.TempDir(), "a.txt", []byte("0123456789"))

	report, err := newUploader(env, &recordingWatcher{}).Upload(ctx, []Item{{Path: path, ProjectID: "p1"}})
	require.NoError(t, err)
	require.Len(t, report.Sent, 1)

	stats := env.Server.Stats()
	assert.Equal(t, 2, stats.ChunkURLs)
	assert.Equal(t, 2, stats.ChunkSends)
}

func TestForbiddenRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	env.Server.SetFaults(devserver.Faults{ForbiddenChunkSends: 100})
	path := testutils.WriteTestFile(t, t.TempDir(), "a.txt", []byte("0123456789"))

	report, err := newUploader(env, &recordingWatcher{}).Upload(ctx, []Item{{Path: path, ProjectID: "p1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ddsapi.ErrForbidden)
	assert.Empty(t, report.Sent)

	// the first URL plus two reissues
	assert.Equal(t, 3, env.Server.Stats().ChunkURLs)
	assert.Equal(t, 0, env.Server.Stats().CompleteUploads)
}

func TestDroppedChunkSendsAreRetried(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	env.Server.SetFaults(devserver.Faults{DroppedChunkSends: 3})
	path := testutils.WriteTestFile(t, t.TempDir(), "a.txt", []byte("0123456789"))

	report, err := newUploader(env, &recordingWatcher{}).Upload(ctx, []Item{{Path: path, ProjectID: "p1"}})
	require.NoError(t, err)
	require.Len(t, report.Sent, 1)

	stats := env.Server.Stats()
	assert.Equal(t, 1, stats.ChunkURLs)
	assert.Equal(t, 4, stats.ChunkSends)
}

func TestNotConsistentWaitIsReported(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	env.Server.SetFaults(devserver.Faults{NotConsistent: 3})
	path := testutils.WriteTestFile(t, t.TempDir(), "a.txt", []byte("0123456789"))

	w := &recordingWatcher{}
	_, err := newUploader(env, w).Upload(ctx, []Item{{Path: path, ProjectID: "p1"}})
	require.NoError(t, err)

	assert.Equal(t, 1, w.started)
	assert.Equal(t, 1, w.done)
	assert.Equal(t, 4, env.Server.Stats().ChunkURLs)
}

func TestUploadNewVersion(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	existing, err := env.Server.AddFile(ctx, "p1", "a.txt", []byte("old"))
	require.NoError(t, err)

	path := testutils.WriteTestFile(t, t.TempDir(), "a.txt", []byte("new contents"))
	report, err := newUploader(env, &recordingWatcher{}).Upload(ctx, []Item{{
		Path:         path,
		ProjectID:    "p1",
		RemoteFileID: existing.ID,
	}})
	require.NoError(t, err)
	require.Len(t, report.Sent, 1)
	assert.Equal(t, existing.ID, report.Sent[0].FileID)
	assert.Equal(t, 2, report.Sent[0].Version)

	got, err := env.Server.ReadFile(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("new contents"), got)
}

func TestUploadMissingFile(t *testing.T) {
	env := testutils.StartDevServer(t, devserver.Options{})
	_, err := newUploader(env, &recordingWatcher{}).Upload(context.Background(), []Item{{Path: "/does/not/exist"}})
	assert.Error(t, err)
	assert.Equal(t, 0, env.Server.Stats().CreateUploads)
}

func TestReportWrite(t *testing.T) {
	r := &Report{Sent: []Sent{{
		Path:   "data/a.txt",
		FileID: "f1",
		Size:   2048,
		Hash:   hashing.Hash{Algorithm: "md5", Value: "abc"},
	}}}
	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"SENT", "FILENAME", "ID", "SIZE", "HASH"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"data/a.txt", "f1", "2.00", "KB", "md5:abc"}, strings.Fields(lines[1]))
}

func TestPathData(t *testing.T) {
	dir := t.TempDir()
	path := testutils.WriteTestFile(t, dir, "notes.txt", []byte("hello world, plain text"))

	pd, err := NewPathData(path)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", pd.Name)
	assert.Equal(t, int64(23), pd.Size)
	assert.True(t, strings.HasPrefix(pd.ContentType, "text/plain"), pd.ContentType)

	chunk, err := pd.ReadChunk(1, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("d, plain t"), chunk)

	chunk, err = pd.ReadChunk(2, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("ext"), chunk)

	_, err = pd.ReadChunk(3, 10)
	assert.Error(t, err)

	_, err = NewPathData(dir)
	assert.Error(t, err)
}
