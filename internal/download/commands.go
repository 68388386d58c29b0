package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/chunking"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
	"github.com/Duke-GCB/DukeDSClient-sub000/pkg/parallel"
	"github.com/rs/zerolog"
)

const copyBufferSize = 64 * 1024

// Progress messages sent from range workers to the controller.
type (
	bytesMoved struct {
		bytes int64
	}
	stateChanged struct {
		state State
	}
)

// fileState is owned by the controller goroutine.
type fileState struct {
	item      Item
	state     State
	pending   int
	verifying bool
	hash      *hashing.FileHashStatus
	err       error
}

func (fs *fileState) fail(err error) {
	if fs.err == nil {
		fs.err = err
	}
	fs.state = StateError
}

func (fs *fileState) status() FileStatus {
	return FileStatus{Item: fs.item, State: fs.state, Hash: fs.hash, Err: fs.err}
}

// rangeContext is the copied input of one DownloadRange task.
type rangeContext struct {
	conn      ddsapi.Connection
	urls      *urlCache
	item      Item
	rng       chunking.Range
	retry     retrySettings
	messenger parallel.Messenger
	logger    zerolog.Logger
	skip      bool
}

type retrySettings struct {
	fetchRetryTimes      int
	fetchRetryWait       time.Duration
	expiredURLRetryTimes int
}

// rangeResult is what a DownloadRange task reports. Range failures are
// results, not task errors, so they never abort sibling files.
type rangeResult struct {
	err error
}

// DownloadRangeCommand downloads one byte range of a file into place.
type DownloadRangeCommand struct {
	parallel.BaseCommand
	d    *Downloader
	file *fileState
	rng  chunking.Range
}

func (c *DownloadRangeCommand) CreateContext(m parallel.Messenger) any {
	if c.file.state == StateNew {
		c.file.state = StateDownloading
	}
	return rangeContext{
		conn:      c.d.opts.Connection,
		urls:      c.d.urls,
		item:      c.file.item,
		rng:       c.rng,
		retry:     c.d.retry,
		messenger: m,
		logger:    c.d.logger,
		skip:      c.file.state == StateError,
	}
}

func (c *DownloadRangeCommand) Run(ctx context.Context, taskContext any) (any, error) {
	rc := taskContext.(rangeContext)
	if rc.skip {
		return rangeResult{}, nil
	}
	client := ddsapi.NewClient(rc.conn)
	client.SetLogger(rc.logger)
	w := &rangeWorker{rangeContext: rc, client: client}
	err := w.download(ctx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return rangeResult{err: err}, nil
}

func (c *DownloadRangeCommand) OnMessage(data any) {
	switch msg := data.(type) {
	case bytesMoved:
		c.d.watcher.TransferringItem(c.file.item.Name, 0, msg.bytes)
	case stateChanged:
		if c.file.state != StateError {
			c.file.state = msg.state
		}
	}
}

func (c *DownloadRangeCommand) AfterRun(result any) {
	c.file.pending--
	if r := result.(rangeResult); r.err != nil {
		c.file.fail(r.err)
	}
}

// rangeWorker runs on a worker goroutine.
type rangeWorker struct {
	rangeContext
	client *ddsapi.Client
}

// download fetches the range, retrying partial and too-large reads. Each
// retry reverts the progress reported by the failed attempt.
func (w *rangeWorker) download(ctx context.Context) error {
	retries := 0
	for {
		read, err := w.fetchOnce(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrPartialChunk) && !errors.Is(err, ErrTooLargeChunk) {
			return err
		}
		if read > 0 {
			w.messenger.Send(bytesMoved{bytes: -read})
		}
		if retries >= w.retry.fetchRetryTimes {
			return err
		}
		retries++
		w.logger.Warn().Err(err).Int("retry", retries).Msg("retrying range download")
		if err := sleep(ctx, w.retry.fetchRetryWait); err != nil {
			return err
		}
	}
}

// fetchOnce issues one ranged GET, refreshing the signed URL when it has
// expired, and returns how many bytes it wrote.
func (w *rangeWorker) fetchOnce(ctx context.Context) (int64, error) {
	resp, err := w.open(ctx)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.Start >= 0 && resp.Start != w.rng.Start {
		return 0, fmt.Errorf("range %s of %s: server returned data starting at %d", w.rng, w.item.LocalPath, resp.Start)
	}

	f, err := os.OpenFile(w.item.LocalPath, os.O_WRONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	expected := w.rng.Size()
	var actual int64
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if actual+int64(n) > expected {
				return actual, &ChunkDownloadError{
					Kind: ErrTooLargeChunk, Path: w.item.LocalPath, Range: w.rng,
					Actual: actual + int64(n), Expected: expected,
				}
			}
			if _, err := f.WriteAt(buf[:n], w.rng.Start+actual); err != nil {
				return actual, fmt.Errorf("write %s: %w", w.item.LocalPath, err)
			}
			actual += int64(n)
			w.messenger.Send(bytesMoved{bytes: int64(n)})
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return actual, &ChunkDownloadError{
				Kind: ErrPartialChunk, Path: w.item.LocalPath, Range: w.rng,
				Actual: actual, Expected: expected,
			}
		}
	}
	if actual < expected {
		return actual, &ChunkDownloadError{
			Kind: ErrPartialChunk, Path: w.item.LocalPath, Range: w.rng,
			Actual: actual, Expected: expected,
		}
	}
	return actual, nil
}

// open starts the ranged GET. An expired URL is refreshed and retried up to
// the expired URL retry limit.
func (w *rangeWorker) open(ctx context.Context) (*ddsapi.RangeResponse, error) {
	u, err := w.urls.get(ctx, w.client, w.item.FileID)
	if err != nil {
		return nil, err
	}
	for expired := 0; ; expired++ {
		resp, err := w.client.ReceiveExternal(ctx, u, w.rng)
		if err == nil {
			if expired > 0 {
				w.messenger.Send(stateChanged{state: StateDownloading})
			}
			return resp, nil
		}
		if !errors.Is(err, ddsapi.ErrExpiredURL) || expired >= w.retry.expiredURLRetryTimes {
			return nil, fmt.Errorf("range %s of %s: %w", w.rng, w.item.LocalPath, err)
		}
		w.messenger.Send(stateChanged{state: StateExpiredURL})
		w.logger.Info().Str("file", w.item.Name).Msg("download url expired, requesting a new one")
		if u, err = w.urls.refresh(ctx, w.client, w.item.FileID, u); err != nil {
			return nil, err
		}
	}
}

// verifyResult is what a VerifyFile task reports.
type verifyResult struct {
	status *hashing.FileHashStatus
	err    error
}

// VerifyFileCommand hashes a downloaded file and compares it with the
// hashes the service reported.
type VerifyFileCommand struct {
	parallel.BaseCommand
	d    *Downloader
	file *fileState
}

func (c *VerifyFileCommand) CreateContext(parallel.Messenger) any {
	return c.file.item
}

func (c *VerifyFileCommand) Run(_ context.Context, taskContext any) (any, error) {
	item := taskContext.(Item)
	status, err := hashing.DetermineForHashes(item.Hashes, item.LocalPath)
	return verifyResult{status: status, err: err}, nil
}

func (c *VerifyFileCommand) AfterRun(result any) {
	r := result.(verifyResult)
	fs := c.file
	switch {
	case r.err != nil:
		fs.fail(fmt.Errorf("verify %s: %w", fs.item.LocalPath, r.err))
	case r.status.Err() != nil:
		fs.hash = r.status
		fs.fail(r.status.Err())
	default:
		fs.hash = r.status
		fs.state = StateGood
		c.d.watcher.TransferringItem(fs.item.Name, 1, 0)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
