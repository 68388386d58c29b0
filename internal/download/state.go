package download

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/chunking"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
)

// State is where a file is in the download lifecycle.
type State int

const (
	StateNew State = iota
	StateDownloading
	StateGood
	StateAlreadyComplete
	StateExpiredURL
	StateError
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateDownloading:
		return "DOWNLOADING"
	case StateGood:
		return "GOOD"
	case StateAlreadyComplete:
		return "ALREADY_COMPLETE"
	case StateExpiredURL:
		return "EXPIRED_URL"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateGood || s == StateAlreadyComplete || s == StateError
}

var (
	// ErrPartialChunk means a range response ended before every byte arrived.
	ErrPartialChunk = errors.New("partial chunk download")

	// ErrTooLargeChunk means a range response carried more bytes than asked for.
	ErrTooLargeChunk = errors.New("too large chunk download")
)

// ChunkDownloadError reports how many bytes a range read against how many
// it expected. It matches ErrPartialChunk or ErrTooLargeChunk.
type ChunkDownloadError struct {
	Kind     error
	Path     string
	Range    chunking.Range
	Actual   int64
	Expected int64
}

func (e *ChunkDownloadError) Error() string {
	return fmt.Sprintf("%s: range %s of %s: read %d of %d bytes", e.Kind, e.Range, e.Path, e.Actual, e.Expected)
}

func (e *ChunkDownloadError) Unwrap() error {
	return e.Kind
}

// FileStatus is the outcome for one file.
type FileStatus struct {
	Item  Item
	State State
	Hash  *hashing.FileHashStatus
	Err   error
}

// OK reports whether the file ended with a valid local copy.
func (s FileStatus) OK() bool {
	switch s.State {
	case StateAlreadyComplete:
		return true
	case StateGood:
		return s.Hash == nil || s.Hash.HasAValidHash()
	}
	return false
}

// FilesFailedError is returned when at least one file did not download.
type FilesFailedError struct {
	Failed []FileStatus
}

func (e *FilesFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "download failed for %d file(s)", len(e.Failed))
	for _, f := range e.Failed {
		fmt.Fprintf(&b, "\n  %s: %v", f.Item.LocalPath, f.Err)
	}
	return b.String()
}

// Unwrap returns the per-file errors.
func (e *FilesFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}
