package devserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/chunking"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/objectstore"
	"github.com/google/uuid"
)

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	var req ddsapi.CreateUploadRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid upload request: "+err.Error(), "")
		return
	}
	if req.Name == "" || req.Size < 0 {
		writeError(w, http.StatusBadRequest, "", "name and a non-negative size are required", "")
		return
	}
	u := &upload{
		ID:          uuid.NewString(),
		ProjectID:   r.PathValue("project"),
		Name:        req.Name,
		ContentType: req.ContentType,
		Size:        req.Size,
		Hash:        normalize(req.Hash),
		Expected:    make(map[int]ddsapi.ChunkURLRequest),
	}

	s.mu.Lock()
	s.stats.CreateUploads++
	s.uploads[u.ID] = u
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, s.uploadView(u))
}

func (s *Server) uploadView(u *upload) ddsapi.Upload {
	v := ddsapi.Upload{
		ID:          u.ID,
		Name:        u.Name,
		ContentType: u.ContentType,
		Size:        u.Size,
		Hashes:      u.Hashes,
		Project:     &ddsapi.Ref{ID: u.ProjectID},
		Status:      &ddsapi.UploadStatus{},
	}
	if u.Manifest != nil {
		v.Status.Completed = u.Manifest.CompletedAt.Format(time.RFC3339)
	}
	return v
}

func (s *Server) lookupUpload(w http.ResponseWriter, r *http.Request) (*upload, bool) {
	s.mu.Lock()
	u, ok := s.uploads[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "", "upload not found", "")
	}
	return u, ok
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookupUpload(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.uploadView(u))
}

func (s *Server) handleChunkURL(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookupUpload(w, r)
	if !ok {
		return
	}
	var req ddsapi.ChunkURLRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid chunk request: "+err.Error(), "")
		return
	}
	if req.Number < 1 || req.Size < 0 {
		writeError(w, http.StatusBadRequest, "", fmt.Sprintf("invalid chunk number %d or size %d", req.Number, req.Size), "")
		return
	}

	s.mu.Lock()
	s.stats.ChunkURLs++
	if take(&s.faults.NotConsistent) {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, ddsapi.CodeResourceNotConsistent, "resource not consistent", "try again later")
		return
	}
	if u.Manifest != nil {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "", "upload already completed", "")
		return
	}
	req.Hash = normalize(req.Hash)
	u.Expected[req.Number] = req
	token := uuid.NewString()
	s.chunkTokens[token] = &chunkToken{UploadID: u.ID, Number: req.Number}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, ddsapi.URLInfo{
		HTTPVerb:    s.opts.ChunkVerb,
		Host:        baseURL(r),
		URL:         "/storage/chunks/" + token,
		HTTPHeaders: map[string]string{"Content-Type": "application/octet-stream"},
	})
}

func (s *Server) handleChunkSend(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.stats.ChunkSends++
	tok, ok := s.chunkTokens[r.PathValue("token")]
	forbidden := take(&s.faults.ForbiddenChunkSends)
	drop := !forbidden && take(&s.faults.DroppedChunkSends)
	if ok && !forbidden && !drop {
		if tok.Used {
			ok = false
		} else {
			tok.Used = true
		}
	}
	var expected ddsapi.ChunkURLRequest
	if ok {
		expected = s.uploads[tok.UploadID].Expected[tok.Number]
	}
	s.mu.Unlock()

	if drop {
		hijackAndClose(w)
		return
	}
	if forbidden || !ok {
		http.Error(w, "Request has expired", http.StatusForbidden)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if int64(len(data)) != expected.Size {
		http.Error(w, fmt.Sprintf("chunk %d: got %d bytes, expected %d", tok.Number, len(data), expected.Size), http.StatusBadRequest)
		return
	}
	if expected.Hash.Value != "" {
		got, err := hashing.HashBytes(expected.Hash.Algorithm, data)
		if err == nil && got.Value != expected.Hash.Value {
			http.Error(w, fmt.Sprintf("chunk %d: hash %s does not match %s", tok.Number, got.Value, expected.Hash.Value), http.StatusBadRequest)
			return
		}
	}
	if _, err := s.store.WriteChunk(r.Context(), tok.UploadID, tok.Number, bytes.NewReader(data)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection dropped", http.StatusBadGateway)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookupUpload(w, r)
	if !ok {
		return
	}
	var req ddsapi.CompleteUploadRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid complete request: "+err.Error(), "")
		return
	}
	s.mu.Lock()
	s.stats.CompleteUploads++
	s.mu.Unlock()

	m, err := s.store.Complete(r.Context(), u.ID)
	switch {
	case errors.Is(err, objectstore.ErrCompleted):
		writeError(w, http.StatusBadRequest, "", "upload already completed", "")
		return
	case errors.Is(err, objectstore.ErrIncomplete):
		writeError(w, http.StatusBadRequest, "", err.Error(), "send every chunk before completing")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "", err.Error(), "")
		return
	}
	if m.TotalSize != u.Size {
		writeError(w, http.StatusBadRequest, "", fmt.Sprintf("upload has %d bytes, expected %d", m.TotalSize, u.Size), "")
		return
	}
	reported := normalize(req.Hash)
	if reported.Algorithm == m.Hash.Algorithm && reported.Value != m.Hash.Value {
		writeError(w, http.StatusBadRequest, "", fmt.Sprintf("hash %s does not match stored %s", reported.Value, m.Hash.Value), "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u.Manifest = m
	u.Hashes = []hashing.Hash{m.Hash}
	if reported.Value != "" && reported.Algorithm != m.Hash.Algorithm {
		u.Hashes = append(u.Hashes, reported)
	}
	writeJSON(w, http.StatusOK, s.uploadView(u))
}

// completedUpload returns the upload named by ref if it has been completed.
// Must be called with s.mu held.
func (s *Server) completedUpload(ref ddsapi.Ref) (*upload, error) {
	u, ok := s.uploads[ref.ID]
	if !ok {
		return nil, fmt.Errorf("upload %s not found", ref.ID)
	}
	if u.Manifest == nil {
		return nil, fmt.Errorf("upload %s is not complete", ref.ID)
	}
	return u, nil
}

func (s *Server) fileView(f *file) ddsapi.File {
	u := s.uploads[f.Versions[len(f.Versions)-1]]
	return ddsapi.File{
		ID:      f.ID,
		Name:    f.Name,
		Parent:  f.Parent,
		Project: ddsapi.Ref{ID: f.ProjectID},
		CurrentVersion: ddsapi.FileVersion{
			ID:      fmt.Sprintf("%s-v%d", f.ID, len(f.Versions)),
			Version: len(f.Versions),
			Upload:  s.uploadView(u),
		},
	}
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	var req ddsapi.CreateFileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid file request: "+err.Error(), "")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.CreateFiles++
	u, err := s.completedUpload(req.Upload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error(), "")
		return
	}
	projectID := u.ProjectID
	if req.Parent.Kind == ddsapi.KindProject {
		projectID = req.Parent.ID
	}
	f := &file{
		ID:        uuid.NewString(),
		Name:      u.Name,
		Parent:    req.Parent,
		ProjectID: projectID,
		Versions:  []string{u.ID},
	}
	s.files[f.ID] = f
	writeJSON(w, http.StatusCreated, s.fileView(f))
}

func (s *Server) handleUpdateFile(w http.ResponseWriter, r *http.Request) {
	var req ddsapi.UpdateFileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid file request: "+err.Error(), "")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.UpdateFiles++
	f, ok := s.files[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "", "file not found", "")
		return
	}
	u, err := s.completedUpload(req.Upload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error(), "")
		return
	}
	f.Versions = append(f.Versions, u.ID)
	f.Name = u.Name
	writeJSON(w, http.StatusOK, s.fileView(f))
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "", "file not found", "")
		return
	}
	writeJSON(w, http.StatusOK, s.fileView(f))
}

func (s *Server) handleFileURL(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FileURLs++
	f, ok := s.files[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "", "file not found", "")
		return
	}
	token := uuid.NewString()
	s.fileTokens[token] = &fileToken{
		UploadID: f.Versions[len(f.Versions)-1],
		Expires:  time.Now().Add(s.opts.FileURLTTL),
	}
	writeJSON(w, http.StatusOK, ddsapi.URLInfo{
		HTTPVerb: http.MethodGet,
		Host:     baseURL(r),
		URL:      "/storage/files/" + token,
	})
}

func (s *Server) handleAPIToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentKey string `json:"agent_key"`
		UserKey  string `json:"user_key"`
	}
	if err := decode(r, &req); err != nil || req.AgentKey == "" || req.UserKey == "" {
		writeError(w, http.StatusBadRequest, "", "agent_key and user_key are required", "")
		return
	}
	token := s.opts.Auth
	if token == "" {
		token = "dev-" + uuid.NewString()
	}
	writeJSON(w, http.StatusCreated, ddsapi.APIToken{
		Token:     token,
		ExpiresOn: time.Now().Add(2 * time.Hour).Unix(),
	})
}

func (s *Server) handleRangeGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.stats.RangeGets++
	tok, ok := s.fileTokens[r.PathValue("token")]
	expired := !ok || time.Now().After(tok.Expires) || take(&s.faults.ExpiredFileURLs)
	var m *objectstore.Manifest
	if !expired {
		m = s.uploads[tok.UploadID].Manifest
	}
	s.mu.Unlock()

	if expired {
		http.Error(w, "Request has expired", http.StatusForbidden)
		return
	}

	rng := chunking.Range{Start: 0, End: m.TotalSize - 1}
	status := http.StatusOK
	if h := r.Header.Get("Range"); h != "" {
		parsed, err := parseRange(h, m.TotalSize)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", m.TotalSize))
			http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		}
		rng = parsed
		status = http.StatusPartialContent
	}

	length := rng.Size()
	var extra int64
	s.mu.Lock()
	if take(&s.faults.ShortReads) {
		length /= 2
	} else if take(&s.faults.LongReads) {
		extra = 10
	}
	s.mu.Unlock()

	body, err := s.store.NewRangeReader(r.Context(), tok.UploadID, rng.Start, length)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer body.Close()

	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, m.TotalSize))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(length+extra, 10))
	w.WriteHeader(status)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn().Err(err).Msg("range copy failed")
		return
	}
	if extra > 0 {
		w.Write(bytes.Repeat([]byte{0}, int(extra)))
	}
}

// parseRange accepts a single "bytes=a-b" or "bytes=a-" range.
func parseRange(h string, size int64) (chunking.Range, error) {
	rng, ok := strings.CutPrefix(h, "bytes=")
	if !ok || strings.Contains(rng, ",") {
		return chunking.Range{}, fmt.Errorf("unsupported range %q", h)
	}
	startStr, endStr, ok := strings.Cut(rng, "-")
	if !ok {
		return chunking.Range{}, fmt.Errorf("unsupported range %q", h)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return chunking.Range{}, fmt.Errorf("unsupported range %q", h)
	}
	end := size - 1
	if endStr != "" {
		if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
			return chunking.Range{}, fmt.Errorf("unsupported range %q", h)
		}
	}
	if end >= size {
		end = size - 1
	}
	if start < 0 || start > end {
		return chunking.Range{}, fmt.Errorf("range %q not satisfiable for %d bytes", h, size)
	}
	return chunking.Range{Start: start, End: end}, nil
}
