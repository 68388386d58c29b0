package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/chunking"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/progress"
	"github.com/Duke-GCB/DukeDSClient-sub000/pkg/parallel"
	"github.com/rs/zerolog"
)

// Item is one remote file to download.
type Item struct {
	FileID    string
	Name      string
	Size      int64
	Hashes    []hashing.Hash
	LocalPath string
}

// ItemForFile returns the Item that downloads f into dir.
func ItemForFile(f *ddsapi.File, dir string) Item {
	return Item{
		FileID:    f.ID,
		Name:      f.Name,
		Size:      f.Size(),
		Hashes:    f.Hashes(),
		LocalPath: filepath.Join(dir, f.Name),
	}
}

// Options configures a Downloader.
type Options struct {
	// Connection is copied into every task; workers build their own clients.
	Connection ddsapi.Connection

	// Workers bounds concurrent range downloads.
	// Default: 1
	Workers int

	// BytesPerRange overrides the range size. Zero splits each file evenly
	// across Workers with a floor of chunking.MinDownloadChunkSize.
	BytesPerRange int64

	// FetchRetryTimes is how many times a partial or too large range is
	// retried.
	// Default: 5
	FetchRetryTimes int

	// FetchRetryWait is the pause before retrying a range.
	// Default: 20s
	FetchRetryWait time.Duration

	// ExpiredURLRetryTimes is how many fresh URLs a range may request after
	// its URL expires.
	// Default: 5
	ExpiredURLRetryTimes int

	// Watcher receives progress. Default: progress.Discard
	Watcher progress.Watcher

	Logger *zerolog.Logger
}

// Downloader fetches files from the data service.
type Downloader struct {
	opts    Options
	retry   retrySettings
	watcher progress.Watcher
	logger  zerolog.Logger
	urls    *urlCache
}

// New returns a Downloader.
func New(opts Options) *Downloader {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.FetchRetryTimes == 0 {
		opts.FetchRetryTimes = 5
	}
	if opts.FetchRetryWait == 0 {
		opts.FetchRetryWait = 20 * time.Second
	}
	if opts.ExpiredURLRetryTimes == 0 {
		opts.ExpiredURLRetryTimes = 5
	}
	if opts.Watcher == nil {
		opts.Watcher = progress.Discard
	}
	d := &Downloader{
		opts: opts,
		retry: retrySettings{
			fetchRetryTimes:      max(opts.FetchRetryTimes, 0),
			fetchRetryWait:       opts.FetchRetryWait,
			expiredURLRetryTimes: max(opts.ExpiredURLRetryTimes, 0),
		},
		watcher: opts.Watcher,
		logger:  zerolog.Nop(),
	}
	if opts.Logger != nil {
		d.logger = *opts.Logger
	}
	return d
}

// Ranges returns the byte ranges size bytes are fetched in.
func (d *Downloader) Ranges(size int64) []chunking.Range {
	per := d.opts.BytesPerRange
	if per <= 0 {
		per = chunking.DownloadBytesPerChunk(size, d.opts.Workers)
	}
	return chunking.ByteRanges(size, per)
}

// Download fetches every item. Files are attempted independently; if any
// fails the returned error is a *FilesFailedError and the report still
// covers every file. Cancelling ctx or a worker panic aborts the run.
func (d *Downloader) Download(ctx context.Context, items []Item) (*Report, error) {
	d.urls = newURLCache()
	e := parallel.NewExecutor(d.opts.Workers, parallel.WithLogger(d.logger))
	defer e.Close()

	nextID := 0
	add := func(cmd parallel.Command) error {
		nextID++
		return e.AddTask(&parallel.Task{ID: nextID, WaitForTaskID: parallel.NoParent, Command: cmd}, nil)
	}

	files := make([]*fileState, len(items))
	for i, item := range items {
		fs := &fileState{item: item, state: StateNew}
		files[i] = fs

		if d.alreadyComplete(fs) {
			continue
		}
		if err := prepareFile(item.LocalPath, item.Size); err != nil {
			fs.fail(err)
			continue
		}
		if item.Size == 0 {
			if err := add(&VerifyFileCommand{d: d, file: fs}); err != nil {
				return nil, err
			}
			continue
		}
		ranges := d.Ranges(item.Size)
		fs.pending = len(ranges)
		for _, r := range ranges {
			if err := add(&DownloadRangeCommand{d: d, file: fs, rng: r}); err != nil {
				return nil, err
			}
		}
	}

	d.logger.Info().Int("files", len(items)).Int("workers", d.opts.Workers).Msg("starting download")
	for !e.IsDone() {
		finished, err := e.WaitForTasks(ctx)
		if err != nil {
			return newReport(files), fmt.Errorf("download: %w", err)
		}
		for _, f := range finished {
			rc, ok := f.Task.Command.(*DownloadRangeCommand)
			if !ok || rc.file.pending > 0 || rc.file.verifying || rc.file.state == StateError {
				continue
			}
			rc.file.verifying = true
			if err := add(&VerifyFileCommand{d: d, file: rc.file}); err != nil {
				return nil, err
			}
		}
	}

	report := newReport(files)
	if failed := report.Failed(); len(failed) > 0 {
		return report, &FilesFailedError{Failed: failed}
	}
	return report, nil
}

// alreadyComplete marks fs ALREADY_COMPLETE when a valid local copy exists.
func (d *Downloader) alreadyComplete(fs *fileState) bool {
	info, err := os.Stat(fs.item.LocalPath)
	if err != nil || info.IsDir() || info.Size() != fs.item.Size {
		return false
	}
	status, err := hashing.DetermineForHashes(fs.item.Hashes, fs.item.LocalPath)
	if err != nil || !status.HasAValidHash() {
		return false
	}
	fs.state = StateAlreadyComplete
	fs.hash = status
	d.watcher.TransferringItem(fs.item.Name, 1, fs.item.Size)
	d.logger.Debug().Str("file", fs.item.LocalPath).Msg("already downloaded")
	return true
}

// prepareFile creates path at exactly size bytes. Growing the file leaves
// a sparse hole for the range writers to fill.
func prepareFile(path string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("size %s: %w", path, err)
	}
	return f.Close()
}

// IsFilesFailed reports whether err is a per-file download failure rather
// than an aborted run.
func IsFilesFailed(err error) bool {
	var ffe *FilesFailedError
	return errors.As(err, &ffe)
}
