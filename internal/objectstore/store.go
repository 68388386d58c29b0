package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
	"github.com/rs/zerolog"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

var (
	// ErrNotFound is returned for unknown uploads or missing manifests.
	ErrNotFound = errors.New("objectstore: not found")

	// ErrIncomplete is returned by Complete when chunks are missing.
	ErrIncomplete = errors.New("objectstore: upload is missing chunks")

	// ErrCompleted is returned when writing to an upload that was completed.
	ErrCompleted = errors.New("objectstore: upload already completed")

	// ErrInvalidRange is returned for ranges outside the stored data.
	ErrInvalidRange = errors.New("objectstore: invalid range")
)

const chunkPrefix = "chunk-"

// ChunkInfo describes a stored chunk. Number is 1-based.
type ChunkInfo struct {
	Number int          `json:"number"`
	Object string       `json:"object"`
	Offset int64        `json:"offset"`
	Size   int64        `json:"size"`
	Hash   hashing.Hash `json:"hash"`
}

// Manifest describes a completed upload.
type Manifest struct {
	UploadID    string       `json:"upload_id"`
	TotalSize   int64        `json:"total_size"`
	Hash        hashing.Hash `json:"hash"`
	Chunks      []ChunkInfo  `json:"chunks"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Store keeps chunks and manifests in a bucket.
type Store struct {
	bucket    *blob.Bucket
	ownBucket bool
	logger    zerolog.Logger
}

// New wraps an open bucket. The caller keeps ownership of bucket.
func New(bucket *blob.Bucket) *Store {
	return &Store{bucket: bucket, logger: zerolog.Nop()}
}

// Open opens the bucket at bucketURL. Close releases it.
func Open(ctx context.Context, bucketURL string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("objectstore: open bucket: %w", err)
	}
	s := New(bucket)
	s.ownBucket = true
	return s, nil
}

// SetLogger sets the logger.
func (s *Store) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// Close releases the bucket if the store opened it.
func (s *Store) Close() error {
	if s.ownBucket {
		return s.bucket.Close()
	}
	return nil
}

func uploadPrefix(uploadID string) string {
	return "uploads/" + uploadID + "/"
}

func chunkObject(number int) string {
	return fmt.Sprintf("%s%06d", chunkPrefix, number)
}

func manifestPath(uploadID string) string {
	return uploadPrefix(uploadID) + "manifest.json"
}

// WriteChunk stores the data read from r as chunk number of uploadID and
// returns its size and md5 hash.
func (s *Store) WriteChunk(ctx context.Context, uploadID string, number int, r io.Reader) (ChunkInfo, error) {
	if number < 1 {
		return ChunkInfo{}, fmt.Errorf("objectstore: chunk number %d must be at least 1", number)
	}
	if ok, err := s.bucket.Exists(ctx, manifestPath(uploadID)); err != nil {
		return ChunkInfo{}, fmt.Errorf("objectstore: check manifest: %w", err)
	} else if ok {
		return ChunkInfo{}, ErrCompleted
	}

	object := chunkObject(number)
	path := uploadPrefix(uploadID) + object

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := s.bucket.NewWriter(wctx, path, nil)
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("objectstore: create chunk writer: %w", err)
	}

	h, _ := hashing.NewHashUtil(hashing.DefaultAlgorithm)
	n, err := io.Copy(io.MultiWriter(w, hashWriter{h}), r)
	if err != nil {
		// Cancelling before Close aborts the write.
		cancel()
		w.Close()
		return ChunkInfo{}, fmt.Errorf("objectstore: write chunk %d: %w", number, err)
	}
	if err := w.Close(); err != nil {
		return ChunkInfo{}, fmt.Errorf("objectstore: close chunk %d: %w", number, err)
	}

	s.logger.Debug().Str("upload", uploadID).Int("chunk", number).Int64("size", n).Msg("stored chunk")
	return ChunkInfo{Number: number, Object: object, Size: n, Hash: h.Hash()}, nil
}

type hashWriter struct{ h *hashing.HashUtil }

func (w hashWriter) Write(p []byte) (int, error) {
	w.h.AddChunk(p)
	return len(p), nil
}

// Chunks lists the chunks stored for uploadID in number order. Offsets and
// hashes are not filled in.
func (s *Store) Chunks(ctx context.Context, uploadID string) ([]ChunkInfo, error) {
	prefix := uploadPrefix(uploadID) + chunkPrefix
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})

	var chunks []ChunkInfo
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("objectstore: list chunks: %w", err)
		}
		number, err := strconv.Atoi(strings.TrimPrefix(obj.Key, prefix))
		if err != nil {
			continue
		}
		chunks = append(chunks, ChunkInfo{
			Number: number,
			Object: chunkObject(number),
			Size:   obj.Size,
		})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Number < chunks[j].Number })
	return chunks, nil
}

// Complete checks that chunks 1..N are stored, hashes the whole upload and
// writes its manifest.
func (s *Store) Complete(ctx context.Context, uploadID string) (*Manifest, error) {
	if m, err := s.Manifest(ctx, uploadID); err == nil {
		return m, ErrCompleted
	}

	chunks, err := s.Chunks(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks stored for %s", ErrIncomplete, uploadID)
	}

	m := &Manifest{UploadID: uploadID, Chunks: chunks}
	whole, _ := hashing.NewHashUtil(hashing.DefaultAlgorithm)
	for i := range m.Chunks {
		c := &m.Chunks[i]
		if c.Number != i+1 {
			return nil, fmt.Errorf("%w: expected chunk %d, found %d", ErrIncomplete, i+1, c.Number)
		}
		c.Offset = m.TotalSize
		m.TotalSize += c.Size

		chunkHash, _ := hashing.NewHashUtil(hashing.DefaultAlgorithm)
		if err := s.copyObject(ctx, uploadPrefix(uploadID)+c.Object, hashWriter{whole}, hashWriter{chunkHash}); err != nil {
			return nil, err
		}
		c.Hash = chunkHash.Hash()
	}
	m.Hash = whole.Hash()
	m.CompletedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("objectstore: marshal manifest: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, manifestPath(uploadID), data, nil); err != nil {
		return nil, fmt.Errorf("objectstore: write manifest: %w", err)
	}
	return m, nil
}

func (s *Store) copyObject(ctx context.Context, path string, dst ...io.Writer) error {
	r, err := s.bucket.NewReader(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("objectstore: open %s: %w", path, err)
	}
	defer r.Close()
	if _, err := io.Copy(io.MultiWriter(dst...), r); err != nil {
		return fmt.Errorf("objectstore: read %s: %w", path, err)
	}
	return nil
}

// Manifest returns the manifest of a completed upload.
func (s *Store) Manifest(ctx context.Context, uploadID string) (*Manifest, error) {
	data, err := s.bucket.ReadAll(ctx, manifestPath(uploadID))
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: manifest for %s", ErrNotFound, uploadID)
		}
		return nil, fmt.Errorf("objectstore: read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("objectstore: unmarshal manifest: %w", err)
	}
	return &m, nil
}

// Delete removes an upload's chunks and manifest.
func (s *Store) Delete(ctx context.Context, uploadID string) error {
	iter := s.bucket.List(&blob.ListOptions{Prefix: uploadPrefix(uploadID)})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("objectstore: list %s: %w", uploadID, err)
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil && !isNotExist(err) {
			return fmt.Errorf("objectstore: delete %s: %w", obj.Key, err)
		}
	}
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
