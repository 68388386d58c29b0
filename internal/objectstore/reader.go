package objectstore

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// RangeReader reads a byte range of a completed upload across chunk objects.
type RangeReader struct {
	ctx    context.Context
	bucket *blob.Bucket
	prefix string
	parts  []rangePart

	current io.ReadCloser
	closed  bool
}

type rangePart struct {
	object string
	offset int64 // within the chunk
	length int64
}

// NewRangeReader opens length bytes of uploadID starting at offset. A
// negative length reads to the end. Chunk objects are opened lazily.
func (s *Store) NewRangeReader(ctx context.Context, uploadID string, offset, length int64) (*RangeReader, error) {
	m, err := s.Manifest(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > m.TotalSize {
		return nil, fmt.Errorf("%w: offset %d of %d bytes", ErrInvalidRange, offset, m.TotalSize)
	}
	if length < 0 || offset+length > m.TotalSize {
		length = m.TotalSize - offset
	}

	r := &RangeReader{ctx: ctx, bucket: s.bucket, prefix: uploadPrefix(uploadID)}
	end := offset + length
	for _, c := range m.Chunks {
		cEnd := c.Offset + c.Size
		if cEnd <= offset || c.Offset >= end {
			continue
		}
		start := max(offset, c.Offset)
		stop := min(end, cEnd)
		r.parts = append(r.parts, rangePart{
			object: c.Object,
			offset: start - c.Offset,
			length: stop - start,
		})
	}
	return r, nil
}

// Read reads data from the current chunk, opening the next one as needed.
func (r *RangeReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}

	for {
		if r.current != nil {
			n, err := r.current.Read(p)
			if err == io.EOF {
				r.current.Close()
				r.current = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		if len(r.parts) == 0 {
			return 0, io.EOF
		}
		part := r.parts[0]
		r.parts = r.parts[1:]

		reader, err := r.bucket.NewRangeReader(r.ctx, r.prefix+part.object, part.offset, part.length, nil)
		if err != nil {
			return 0, fmt.Errorf("objectstore: open %s: %w", part.object, err)
		}
		r.current = reader
	}
}

// Close closes the reader and releases resources.
func (r *RangeReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.current != nil {
		return r.current.Close()
	}
	return nil
}
