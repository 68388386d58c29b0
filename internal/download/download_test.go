package download

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/chunking"
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
	reverts int
}

func (w *recordingWatcher) TransferringItem(_ string, n int, b int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items += n
	w.bytes += b
	if b < 0 {
		w.reverts++
	}
}

func (w *recordingWatcher) StartWaiting() {}
func (w *recordingWatcher) DoneWaiting()  {}

func newDownloader(env *testutils.DevEnv, w *recordingWatcher, opts Options) *Downloader {
	opts.Connection = env.Connection
	if opts.Workers == 0 {
		opts.Workers = 3
	}
	if opts.FetchRetryWait == 0 {
		opts.FetchRetryWait = time.Millisecond
	}
	opts.Watcher = w
	return New(opts)
}

func seed(t *testing.T, env *testutils.DevEnv, dir, name string, data []byte) Item {
	t.Helper()
	f, err := env.Server.AddFile(context.Background(), "p1", name, data)
	require.NoError(t, err)
	return ItemForFile(f, dir)
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestDownloadFiles(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{Auth: "token"})
	dir := t.TempDir()

	contents := map[string][]byte{
		"small.txt":   []byte("hello"),
		"ranges.bin":  testutils.GenerateTestData(t, 50),
		"empty.txt":   {},
		"nested.data": testutils.GenerateTestData(t, 14),
	}
	var items []Item
	for name, data := range contents {
		items = append(items, seed(t, env, dir, name, data))
	}

	w := &recordingWatcher{}
	report, err := newDownloader(env, w, Options{BytesPerRange: 7}).Download(ctx, items)
	require.NoError(t, err)
	require.Len(t, report.Files, len(items))

	for _, f := range report.Files {
		assert.Equal(t, StateGood, f.State, f.Item.Name)
		assert.Equal(t, hashing.StatusOK, f.Hash.Status)
		assert.Equal(t, contents[f.Item.Name], readFile(t, f.Item.LocalPath), f.Item.Name)
	}

	// 1 + 8 + 0 + 2 ranges
	assert.Equal(t, 11, env.Server.Stats().RangeGets)
	assert.Equal(t, 4, w.items)
	assert.Equal(t, int64(69), w.bytes)
	assert.Zero(t, w.reverts)
}

func TestSmallFileDownloadsAsSingleRange(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	item := seed(t, env, t.TempDir(), "hundred.bin", testutils.GenerateTestData(t, 100))

	d := newDownloader(env, &recordingWatcher{}, Options{Workers: 8})
	assert.Equal(t, []chunking.Range{{Start: 0, End: 99}}, d.Ranges(100))

	_, err := d.Download(ctx, []Item{item})
	require.NoError(t, err)
	assert.Equal(t, 1, env.Server.Stats().RangeGets)
}

func TestPartialRangesAreRetried(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	data := []byte("0123456789")
	item := seed(t, env, t.TempDir(), "a.txt", data)
	env.Server.SetFaults(devserver.Faults{ShortReads: 2})

	w := &recordingWatcher{}
	report, err := newDownloader(env, w, Options{}).Download(ctx, []Item{item})
	require.NoError(t, err)
	assert.Equal(t, StateGood, report.Files[0].State)
	assert.Equal(t, data, readFile(t, item.LocalPath))

	assert.Equal(t, 3, env.Server.Stats().RangeGets)
	assert.Equal(t, 2, w.reverts)
	assert.Equal(t, int64(len(data)), w.bytes)
}

func TestRetryCapFailsOnlyThatFile(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	dir := t.TempDir()
	bad := seed(t, env, dir, "bad.txt", []byte("0123456789"))
	good := seed(t, env, dir, "good.txt", []byte("abcdef"))
	env.Server.SetFaults(devserver.Faults{ShortReads: 3})

	report, err := newDownloader(env, &recordingWatcher{}, Options{Workers: 1, FetchRetryTimes: 2}).
		Download(ctx, []Item{bad, good})
	require.Error(t, err)
	assert.True(t, IsFilesFailed(err))
	assert.ErrorIs(t, err, ErrPartialChunk)
	assert.Contains(t, err.Error(), "read 5 of 10 bytes")

	var cde *ChunkDownloadError
	require.ErrorAs(t, err, &cde)
	assert.Equal(t, int64(5), cde.Actual)
	assert.Equal(t, int64(10), cde.Expected)

	require.Len(t, report.Files, 2)
	assert.Equal(t, StateError, report.Files[0].State)
	assert.Equal(t, StateGood, report.Files[1].State)
	assert.Equal(t, []byte("abcdef"), readFile(t, good.LocalPath))
}

func TestTooLargeRange(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	item := seed(t, env, t.TempDir(), "a.txt", []byte("0123456789"))

	env.Server.SetFaults(devserver.Faults{LongReads: 1})
	_, err := newDownloader(env, &recordingWatcher{}, Options{}).Download(ctx, []Item{item})
	require.NoError(t, err)

	env.Server.SetFaults(devserver.Faults{LongReads: 1})
	os.Remove(item.LocalPath)
	_, err = newDownloader(env, &recordingWatcher{}, Options{FetchRetryTimes: -1}).Download(ctx, []Item{item})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLargeChunk)
	assert.Contains(t, err.Error(), "of 10 bytes")
}

func TestExpiredURLIsRefreshed(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	item := seed(t, env, t.TempDir(), "a.txt", []byte("0123456789"))
	env.Server.SetFaults(devserver.Faults{ExpiredFileURLs: 2})

	report, err := newDownloader(env, &recordingWatcher{}, Options{}).Download(ctx, []Item{item})
	require.NoError(t, err)
	assert.Equal(t, StateGood, report.Files[0].State)
	assert.Equal(t, 3, env.Server.Stats().FileURLs)
}

func TestExpiredURLRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	item := seed(t, env, t.TempDir(), "a.txt", []byte("0123456789"))
	env.Server.SetFaults(devserver.Faults{ExpiredFileURLs: 100})

	report, err := newDownloader(env, &recordingWatcher{}, Options{ExpiredURLRetryTimes: 1}).Download(ctx, []Item{item})
	require.Error(t, err)
	assert.ErrorIs(t, err, ddsapi.ErrExpiredURL)
	assert.Equal(t, StateError, report.Files[0].State)
	assert.Equal(t, 2, env.Server.Stats().FileURLs)
}

func TestAlreadyComplete(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	dir := t.TempDir()
	data := []byte("already here")
	item := seed(t, env, dir, "a.txt", data)
	testutils.WriteTestFile(t, dir, "a.txt", data)

	w := &recordingWatcher{}
	report, err := newDownloader(env, w, Options{}).Download(ctx, []Item{item})
	require.NoError(t, err)
	assert.Equal(t, StateAlreadyComplete, report.Files[0].State)
	assert.Zero(t, env.Server.Stats().RangeGets)
	assert.Zero(t, env.Server.Stats().FileURLs)
	assert.Equal(t, 1, w.items)
}

func TestStaleLocalFileIsReplaced(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	dir := t.TempDir()
	item := seed(t, env, dir, "a.txt", []byte("short"))
	testutils.WriteTestFile(t, dir, "a.txt", []byte("a much longer stale local copy"))

	report, err := newDownloader(env, &recordingWatcher{}, Options{}).Download(ctx, []Item{item})
	require.NoError(t, err)
	assert.Equal(t, StateGood, report.Files[0].State)
	assert.Equal(t, []byte("short"), readFile(t, item.LocalPath))
}

func TestHashFailureDoesNotAbortSiblings(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	dir := t.TempDir()

	corrupt := seed(t, env, dir, "corrupt.txt", []byte("data"))
	corrupt.Hashes = []hashing.Hash{{Algorithm: hashing.AlgorithmMD5, Value: "00000000000000000000000000000000"}}
	fine := seed(t, env, dir, "fine.txt", []byte("more data"))

	report, err := newDownloader(env, &recordingWatcher{}, Options{}).Download(ctx, []Item{corrupt, fine})
	require.Error(t, err)

	var ffe *FilesFailedError
	require.True(t, errors.As(err, &ffe))
	require.Len(t, ffe.Failed, 1)
	assert.Equal(t, corrupt.LocalPath, ffe.Failed[0].Item.LocalPath)
	assert.Equal(t, hashing.StatusFailed, ffe.Failed[0].Hash.Status)

	assert.Equal(t, StateGood, report.Files[1].State)
}

func TestConflictingHashesWarnButSucceed(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	f, err := env.Server.AddFile(ctx, "p1", "a.txt", []byte("data"),
		hashing.Hash{Algorithm: hashing.AlgorithmSHA256, Value: "not-the-sha"})
	require.NoError(t, err)
	item := ItemForFile(f, t.TempDir())

	report, err := newDownloader(env, &recordingWatcher{}, Options{}).Download(ctx, []Item{item})
	require.NoError(t, err)
	assert.Equal(t, StateGood, report.Files[0].State)
	assert.Equal(t, hashing.StatusWarning, report.Files[0].Hash.Status)
}

func TestZeroSizeFileMakesNoRangeRequest(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartDevServer(t, devserver.Options{})
	dir := t.TempDir()
	item := seed(t, env, dir, filepath.Join("sub", "empty"), nil)

	report, err := newDownloader(env, &recordingWatcher{}, Options{}).Download(ctx, []Item{item})
	require.NoError(t, err)
	assert.Equal(t, StateGood, report.Files[0].State)
	assert.Zero(t, env.Server.Stats().RangeGets)

	info, err := os.Stat(item.LocalPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestDownloadCancelled(t *testing.T) {
	env := testutils.StartDevServer(t, devserver.Options{})
	item := seed(t, env, t.TempDir(), "a.txt", []byte("0123456789"))
	env.Server.SetFaults(devserver.Faults{ShortReads: 100})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newDownloader(env, &recordingWatcher{}, Options{FetchRetryTimes: 1000, FetchRetryWait: time.Second}).
		Download(ctx, []Item{item})
	require.Error(t, err)
	assert.False(t, IsFilesFailed(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReportWrite(t *testing.T) {
	r := &Report{Files: []FileStatus{
		{Item: Item{LocalPath: "a.txt", Size: 10}, State: StateGood},
		{Item: Item{LocalPath: "b.txt", Size: 3}, State: StateError, Err: errors.New("boom")},
	}}
	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"STATUS", "FILENAME", "SIZE", "DETAIL"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"GOOD", "a.txt", "10", "B"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"ERROR", "b.txt", "3", "B", "boom"}, strings.Fields(lines[2]))
	assert.Len(t, r.Failed(), 1)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ALREADY_COMPLETE", StateAlreadyComplete.String())
	assert.Equal(t, "EXPIRED_URL", StateExpiredURL.String())
	assert.True(t, StateError.Terminal())
	assert.False(t, StateExpiredURL.Terminal())
}
