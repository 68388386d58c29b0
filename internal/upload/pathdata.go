package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/chunking"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
	"github.com/gabriel-vasile/mimetype"
)

// PathData describes a local file about to be uploaded.
type PathData struct {
	Path        string
	Name        string
	Size        int64
	ContentType string
}

// NewPathData stats path and detects its content type.
func NewPathData(path string) (*PathData, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect content type of %s: %w", path, err)
	}
	return &PathData{
		Path:        path,
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: mtype.String(),
	}, nil
}

// Hash returns the whole-file hash.
func (p *PathData) Hash(alg string) (hashing.Hash, error) {
	return hashing.HashFile(alg, p.Path)
}

// ReadChunk returns the bytes of chunk index (0-based) for chunkSize chunks.
func (p *PathData) ReadChunk(index int, chunkSize int64) ([]byte, error) {
	offset := chunking.ChunkOffset(index, chunkSize)
	if offset > p.Size || (offset == p.Size && p.Size > 0) {
		return nil, fmt.Errorf("chunk %d starts past the end of %s", index, p.Path)
	}
	n := min(chunkSize, p.Size-offset)

	f, err := os.Open(p.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(f, offset, n), buf); err != nil {
		return nil, fmt.Errorf("read chunk %d of %s: %w", index, p.Path, err)
	}
	return buf, nil
}
