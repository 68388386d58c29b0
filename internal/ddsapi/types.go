package ddsapi

import "github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"

// Parent kinds.
const (
	KindProject = "dds-project"
	KindFolder  = "dds-folder"
	KindFile    = "dds-file"
)

// Parent identifies the project or folder a file lives in.
type Parent struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// CreateUploadRequest is the body of a create upload call.
type CreateUploadRequest struct {
	Name        string       `json:"name"`
	ContentType string       `json:"content_type"`
	Size        int64        `json:"size"`
	Hash        hashing.Hash `json:"hash"`
	Chunked     bool         `json:"chunked"`
}

// Upload is a remote upload resource.
type Upload struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ContentType string         `json:"content_type,omitempty"`
	Size        int64          `json:"size"`
	Hashes      []hashing.Hash `json:"hashes,omitempty"`
	Project     *Ref           `json:"project,omitempty"`
	Status      *UploadStatus  `json:"status,omitempty"`
}

// UploadStatus reports where an upload is in its lifecycle.
type UploadStatus struct {
	Initiated   string `json:"initiated_on,omitempty"`
	Completed   string `json:"completed_on,omitempty"`
	ErrorOn     string `json:"error_on,omitempty"`
	ErrorReason string `json:"error_message,omitempty"`
}

// Ref is a bare reference to another resource.
type Ref struct {
	ID string `json:"id"`
}

// ChunkURLRequest asks for a signed URL for one chunk. Number is 1-based.
type ChunkURLRequest struct {
	Number int          `json:"number"`
	Size   int64        `json:"size"`
	Hash   hashing.Hash `json:"hash"`
}

// CompleteUploadRequest finalises an upload with the whole file hash.
type CompleteUploadRequest struct {
	Hash hashing.Hash `json:"hash"`
}

// URLInfo describes a signed storage URL.
type URLInfo struct {
	HTTPVerb    string            `json:"http_verb"`
	Host        string            `json:"host"`
	URL         string            `json:"url"`
	HTTPHeaders map[string]string `json:"http_headers,omitempty"`
}

// FullURL returns Host + URL.
func (u URLInfo) FullURL() string {
	return u.Host + u.URL
}

// CreateFileRequest creates a file from a completed upload.
type CreateFileRequest struct {
	Parent Parent `json:"parent"`
	Upload Ref    `json:"upload"`
}

// UpdateFileRequest creates a new version of a file from a completed upload.
type UpdateFileRequest struct {
	Upload Ref `json:"upload"`
}

// File is a remote file and its current version.
type File struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Parent         Parent      `json:"parent"`
	Project        Ref         `json:"project"`
	CurrentVersion FileVersion `json:"current_version"`
}

// FileVersion is one version of a file.
type FileVersion struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Upload  Upload `json:"upload"`
}

// Size returns the size of the current version.
func (f *File) Size() int64 {
	return f.CurrentVersion.Upload.Size
}

// Hashes returns the hashes of the current version.
func (f *File) Hashes() []hashing.Hash {
	return f.CurrentVersion.Upload.Hashes
}

// APIToken is returned when exchanging agent and user keys.
type APIToken struct {
	Token     string `json:"api_token"`
	ExpiresOn int64  `json:"expires_on"`
}
