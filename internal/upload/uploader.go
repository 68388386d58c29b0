package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/consistency"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/progress"
	"github.com/Duke-GCB/DukeDSClient-sub000/pkg/parallel"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultBytesPerChunk is the chunk size used when Options leaves it unset.
const DefaultBytesPerChunk int64 = 100 * 1024 * 1024

// Options configures an Uploader.
type Options struct {
	// Connection is copied into every task; workers build their own clients.
	Connection ddsapi.Connection

	// BytesPerChunk is the size of each uploaded chunk.
	// Default: DefaultBytesPerChunk
	BytesPerChunk int64

	// Workers bounds concurrent tasks and concurrent chunk sends.
	// Default: 1
	Workers int

	// HashAlgorithm for chunk and whole-file hashes.
	// Default: md5
	HashAlgorithm string

	// ConsistencyInterval is the wait between not-consistent retries.
	// Default: consistency.DefaultInterval
	ConsistencyInterval time.Duration

	// ConsistencyMaxWait bounds the not-consistent wait. Zero waits forever.
	ConsistencyMaxWait time.Duration

	// ForbiddenRetryTimes is how many fresh URLs a chunk may request after
	// its signed URL is rejected with 403. Negative disables the retry.
	// Default: 2
	ForbiddenRetryTimes int

	// Watcher receives progress. Default: progress.Discard
	Watcher progress.Watcher

	Logger *zerolog.Logger
}

// settings is the immutable input copied into every worker.
type settings struct {
	conn                ddsapi.Connection
	bytesPerChunk       int64
	workers             int
	hashAlgorithm       string
	consistencyInterval time.Duration
	consistencyMaxWait  time.Duration
	forbiddenRetryTimes int
	logger              zerolog.Logger
	sem                 *semaphore.Weighted
}

// Item is one local file to upload.
type Item struct {
	Path string

	// Parent is the project or folder the file is created in.
	Parent ddsapi.Parent

	ProjectID string

	// RemoteFileID, when set, makes the upload a new version of that file.
	RemoteFileID string
}

// Uploader sends files to the data service.
type Uploader struct {
	settings settings
	watcher  progress.Watcher
	logger   zerolog.Logger

	sent []Sent
}

// New returns an Uploader.
func New(opts Options) *Uploader {
	if opts.BytesPerChunk <= 0 {
		opts.BytesPerChunk = DefaultBytesPerChunk
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.HashAlgorithm == "" {
		opts.HashAlgorithm = hashing.DefaultAlgorithm
	}
	if opts.ConsistencyInterval <= 0 {
		opts.ConsistencyInterval = consistency.DefaultInterval
	}
	if opts.ForbiddenRetryTimes == 0 {
		opts.ForbiddenRetryTimes = 2
	}
	if opts.Watcher == nil {
		opts.Watcher = progress.Discard
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Uploader{
		settings: settings{
			conn:                opts.Connection,
			bytesPerChunk:       opts.BytesPerChunk,
			workers:             opts.Workers,
			hashAlgorithm:       opts.HashAlgorithm,
			consistencyInterval: opts.ConsistencyInterval,
			consistencyMaxWait:  opts.ConsistencyMaxWait,
			forbiddenRetryTimes: max(opts.ForbiddenRetryTimes, 0),
			logger:              logger,
			sem:                 semaphoreFor(opts.Workers),
		},
		watcher: opts.Watcher,
		logger:  logger,
	}
}

// Upload sends every item and returns a report of what was sent. The first
// failure stops the run; the report then lists the files sent before it.
func (u *Uploader) Upload(ctx context.Context, items []Item) (*Report, error) {
	u.sent = nil
	runner := parallel.NewRunner(u.settings.workers, parallel.WithLogger(u.logger))

	for _, item := range items {
		data, err := NewPathData(item.Path)
		if err != nil {
			return nil, err
		}
		if item.Parent.ID == "" {
			item.Parent = ddsapi.Parent{Kind: ddsapi.KindProject, ID: item.ProjectID}
		}
		u.addChain(runner, Session{
			ProjectID:    item.ProjectID,
			Parent:       item.Parent,
			RemoteFileID: item.RemoteFileID,
			Data:         *data,
		})
	}

	u.logger.Info().Int("files", len(items)).Int("workers", u.settings.workers).Msg("starting upload")
	err := runner.Run(ctx)
	report := &Report{Sent: u.sent}
	if err != nil {
		return report, fmt.Errorf("upload: %w", err)
	}
	return report, nil
}

func (u *Uploader) addChain(r *parallel.Runner, s Session) {
	id := r.Add(parallel.NoParent, &CreateUploadCommand{baseCommand{u: u, session: s}})
	id = r.Add(id, &SendChunksCommand{baseCommand{u: u}})
	id = r.Add(id, &CompleteUploadCommand{baseCommand{u: u}})
	r.Add(id, &CreateFileCommand{baseCommand{u: u}})
}

// TotalSize returns the bytes items will send.
func TotalSize(items []Item) (int64, error) {
	var total int64
	for _, item := range items {
		data, err := NewPathData(item.Path)
		if err != nil {
			return 0, err
		}
		total += data.Size
	}
	return total, nil
}
