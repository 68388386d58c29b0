package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/chunking"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/consistency"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
	"github.com/Duke-GCB/DukeDSClient-sub000/pkg/parallel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Session is handed from each task in a file's chain to the next.
type Session struct {
	UploadID     string
	ProjectID    string
	Parent       ddsapi.Parent
	RemoteFileID string
	Data         PathData
	Hash         hashing.Hash
}

// Sent describes a file that finished uploading.
type Sent struct {
	Name    string
	Path    string
	FileID  string
	Version int
	Size    int64
	Hash    hashing.Hash
}

// Progress messages sent from workers to the controller.
type (
	chunkSent struct {
		name  string
		bytes int64
	}
	waitingChanged struct {
		waiting bool
	}
)

// messengerMonitor forwards consistency waits to the controller.
type messengerMonitor struct {
	m parallel.Messenger
}

func (mm messengerMonitor) StartWaiting() { mm.m.Send(waitingChanged{waiting: true}) }
func (mm messengerMonitor) DoneWaiting()  { mm.m.Send(waitingChanged{waiting: false}) }

// workerContext is the copied input every upload task runs with.
type workerContext struct {
	settings  settings
	session   Session
	messenger parallel.Messenger
}

func (wc workerContext) client() *ddsapi.Client {
	c := ddsapi.NewClient(wc.settings.conn)
	c.SetLogger(wc.settings.logger)
	return c
}

func (wc workerContext) waiter() *consistency.Waiter {
	return consistency.NewWaiter(messengerMonitor{wc.messenger}, consistency.Options{
		Interval: wc.settings.consistencyInterval,
		MaxWait:  wc.settings.consistencyMaxWait,
		Logger:   &wc.settings.logger,
	})
}

// baseCommand carries the session between tasks and relays worker messages.
type baseCommand struct {
	u       *Uploader
	session Session
}

func (c *baseCommand) BeforeRun(parentResult any) {
	if s, ok := parentResult.(Session); ok {
		c.session = s
	}
}

func (c *baseCommand) CreateContext(m parallel.Messenger) any {
	return workerContext{settings: c.u.settings, session: c.session, messenger: m}
}

func (c *baseCommand) AfterRun(any) {}

func (c *baseCommand) OnMessage(data any) {
	switch msg := data.(type) {
	case chunkSent:
		c.u.watcher.TransferringItem(msg.name, 0, msg.bytes)
	case waitingChanged:
		if msg.waiting {
			c.u.watcher.StartWaiting()
		} else {
			c.u.watcher.DoneWaiting()
		}
	}
}

// CreateUploadCommand hashes the file and creates the remote upload.
type CreateUploadCommand struct{ baseCommand }

func (c *CreateUploadCommand) Run(ctx context.Context, taskContext any) (any, error) {
	wc := taskContext.(workerContext)
	s := wc.session

	hash, err := s.Data.Hash(wc.settings.hashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", s.Data.Path, err)
	}
	s.Hash = hash

	up, err := wc.client().CreateUpload(ctx, s.ProjectID, ddsapi.CreateUploadRequest{
		Name:        s.Data.Name,
		ContentType: s.Data.ContentType,
		Size:        s.Data.Size,
		Hash:        hash,
		Chunked:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create upload for %s: %w", s.Data.Path, err)
	}
	s.UploadID = up.ID
	return s, nil
}

// SendChunksCommand sends every chunk of the file across work parcels.
type SendChunksCommand struct{ baseCommand }

func (c *SendChunksCommand) Run(ctx context.Context, taskContext any) (any, error) {
	wc := taskContext.(workerContext)
	s := wc.session
	numChunks := chunking.NumChunks(wc.settings.bytesPerChunk, s.Data.Size)

	g, gctx := errgroup.WithContext(ctx)
	for _, parcel := range chunking.WorkParcels(wc.settings.workers, numChunks) {
		g.Go(func() error {
			sender := &chunkSender{
				wc:     wc,
				client: wc.client(),
				waiter: wc.waiter(),
			}
			for i := parcel.Index; i < parcel.Index+parcel.Count; i++ {
				if err := sender.send(gctx, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

// chunkSender sends the chunks of one work parcel with its own client.
type chunkSender struct {
	wc     workerContext
	client *ddsapi.Client
	waiter *consistency.Waiter
}

func (cs *chunkSender) send(ctx context.Context, index int) error {
	s := cs.wc.session
	sem := cs.wc.settings.sem
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	data, err := s.Data.ReadChunk(index, cs.wc.settings.bytesPerChunk)
	if err != nil {
		return err
	}
	hash, err := hashing.HashBytes(cs.wc.settings.hashAlgorithm, data)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		info, err := cs.createChunkURL(ctx, index, data, hash)
		if err != nil {
			return err
		}
		err = cs.client.SendExternal(ctx, *info, data)
		if err == nil {
			cs.wc.messenger.Send(chunkSent{name: s.Data.Name, bytes: int64(len(data))})
			return nil
		}
		if errors.Is(err, ddsapi.ErrForbidden) && attempt < cs.wc.settings.forbiddenRetryTimes {
			cs.wc.settings.logger.Info().Str("file", s.Data.Name).Int("chunk", index+1).Msg("chunk url rejected, requesting a new one")
			continue
		}
		return fmt.Errorf("send chunk %d of %s: %w", index+1, s.Data.Path, err)
	}
}

func (cs *chunkSender) createChunkURL(ctx context.Context, index int, data []byte, hash hashing.Hash) (*ddsapi.URLInfo, error) {
	uploadID := cs.wc.session.UploadID
	info, err := consistency.Call(ctx, cs.waiter, func(ctx context.Context) (*ddsapi.URLInfo, error) {
		return cs.client.CreateUploadURL(ctx, uploadID, ddsapi.ChunkURLRequest{
			Number: index + 1,
			Size:   int64(len(data)),
			Hash:   hash,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create url for chunk %d of %s: %w", index+1, cs.wc.session.Data.Path, err)
	}
	return info, nil
}

// CompleteUploadCommand finalises the upload with the whole-file hash.
type CompleteUploadCommand struct{ baseCommand }

func (c *CompleteUploadCommand) Run(ctx context.Context, taskContext any) (any, error) {
	wc := taskContext.(workerContext)
	s := wc.session
	client := wc.client()
	_, err := consistency.Call(ctx, wc.waiter(), func(ctx context.Context) (*ddsapi.Upload, error) {
		return client.CompleteUpload(ctx, s.UploadID, ddsapi.CompleteUploadRequest{Hash: s.Hash})
	})
	if err != nil {
		return nil, fmt.Errorf("complete upload of %s: %w", s.Data.Path, err)
	}
	return s, nil
}

// CreateFileCommand creates the remote file, or a new version of it when
// the session names an existing file.
type CreateFileCommand struct{ baseCommand }

func (c *CreateFileCommand) Run(ctx context.Context, taskContext any) (any, error) {
	wc := taskContext.(workerContext)
	s := wc.session
	client := wc.client()
	f, err := consistency.Call(ctx, wc.waiter(), func(ctx context.Context) (*ddsapi.File, error) {
		if s.RemoteFileID != "" {
			return client.UpdateFile(ctx, s.RemoteFileID, s.UploadID)
		}
		return client.CreateFile(ctx, s.Parent, s.UploadID)
	})
	if err != nil {
		return nil, fmt.Errorf("create file for %s: %w", s.Data.Path, err)
	}
	return Sent{
		Name:    s.Data.Name,
		Path:    s.Data.Path,
		FileID:  f.ID,
		Version: f.CurrentVersion.Version,
		Size:    s.Data.Size,
		Hash:    s.Hash,
	}, nil
}

func (c *CreateFileCommand) AfterRun(result any) {
	sent := result.(Sent)
	c.u.sent = append(c.u.sent, sent)
	c.u.watcher.TransferringItem(sent.Name, 1, 0)
}

// semaphoreFor bounds concurrent chunk sends across every file in a run.
func semaphoreFor(workers int) *semaphore.Weighted {
	return semaphore.NewWeighted(int64(max(workers, 1)))
}
