package objectstore

import (
	"context"
	"fmt"
)

// ValidationResult contains the results of validating a completed upload.
type ValidationResult struct {
	Valid          bool     // true if all chunks exist and sizes match
	TotalSize      int64    // total size from manifest
	ChunkCount     int      // number of chunks in manifest
	MissingChunks  int      // number of chunks that don't exist
	SizeMismatches int      // number of chunks with wrong size
	Errors         []string // detailed error messages
}

// Validate checks that every chunk listed in an upload's manifest still
// exists with the recorded size. It reads attributes only, not data.
//
// Missing chunks or size mismatches are reported in the result with
// Valid=false rather than returned as errors.
func (s *Store) Validate(ctx context.Context, uploadID string) (*ValidationResult, error) {
	m, err := s.Manifest(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:      true,
		TotalSize:  m.TotalSize,
		ChunkCount: len(m.Chunks),
		Errors:     make([]string, 0),
	}

	for _, c := range m.Chunks {
		path := uploadPrefix(uploadID) + c.Object

		attrs, err := s.bucket.Attributes(ctx, path)
		if err != nil {
			if isNotExist(err) {
				result.Valid = false
				result.MissingChunks++
				result.Errors = append(result.Errors, fmt.Sprintf("chunk %d missing: %s", c.Number, path))
				continue
			}
			return nil, fmt.Errorf("objectstore: check chunk %d: %w", c.Number, err)
		}

		if attrs.Size != c.Size {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("chunk %d size mismatch: expected %d, got %d", c.Number, c.Size, attrs.Size))
		}
	}

	return result, nil
}
