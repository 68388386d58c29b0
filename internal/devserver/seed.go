package devserver

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/chunking"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
	"github.com/google/uuid"
)

// seedChunkSize is the chunk size used when seeding files directly.
const seedChunkSize = 1 << 20

// AddFile stores data as a new file in projectID without going through the
// HTTP upload protocol. Extra hashes are reported alongside the stored md5,
// which lets callers seed files whose recorded hashes disagree.
func (s *Server) AddFile(ctx context.Context, projectID, name string, data []byte, extra ...hashing.Hash) (*ddsapi.File, error) {
	id := uuid.NewString()
	size := int64(len(data))
	n := chunking.NumChunks(seedChunkSize, size)
	for i := range n {
		start := chunking.ChunkOffset(i, seedChunkSize)
		end := min(start+seedChunkSize, size)
		if _, err := s.store.WriteChunk(ctx, id, i+1, bytes.NewReader(data[start:end])); err != nil {
			return nil, fmt.Errorf("devserver: seed %s: %w", name, err)
		}
	}
	m, err := s.store.Complete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("devserver: seed %s: %w", name, err)
	}

	u := &upload{
		ID:        id,
		ProjectID: projectID,
		Name:      name,
		Size:      size,
		Hash:      m.Hash,
		Manifest:  m,
		Hashes:    append([]hashing.Hash{m.Hash}, extra...),
	}
	f := &file{
		ID:        uuid.NewString(),
		Name:      name,
		Parent:    ddsapi.Parent{Kind: ddsapi.KindProject, ID: projectID},
		ProjectID: projectID,
		Versions:  []string{id},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[u.ID] = u
	s.files[f.ID] = f
	v := s.fileView(f)
	return &v, nil
}

// File returns the current state of a file.
func (s *Server) File(id string) (*ddsapi.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, false
	}
	v := s.fileView(f)
	return &v, true
}

// Files returns every file the server knows about.
func (s *Server) Files() []ddsapi.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ddsapi.File, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, s.fileView(f))
	}
	return out
}

// ReadFile returns the current contents of a file.
func (s *Server) ReadFile(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	f, ok := s.files[id]
	var uploadID string
	if ok {
		uploadID = f.Versions[len(f.Versions)-1]
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("devserver: file %s not found", id)
	}
	r, err := s.store.NewRangeReader(ctx, uploadID, 0, -1)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
