package hashing

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSupportedHash is returned when none of the expected hashes use an
// algorithm that can be computed locally, so the file cannot be validated.
var ErrNoSupportedHash = errors.New("hashing: no supported hash algorithm")

// Status is the outcome of comparing remote hashes with a local file.
type Status int

const (
	// StatusOK means every supported remote hash matched.
	StatusOK Status = iota
	// StatusWarning means some hashes matched and some did not. The data
	// service can carry conflicting hashes for one file, so this is not
	// treated as corruption.
	StatusWarning
	// StatusFailed means no remote hash matched.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusFailed:
		return "FAILED"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// HashMismatchError is returned by FileHashStatus.Err for failed files.
type HashMismatchError struct {
	Path     string
	Expected []Hash
	Actual   []Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash validation failed for %s: expected %s, got %s",
		e.Path, formatHashes(e.Expected), formatHashes(e.Actual))
}

// FileHashStatus records how a local file compares to its remote hashes.
type FileHashStatus struct {
	Path       string
	Status     Status
	Matched    []Hash // remote hashes equal to the local value
	Mismatched []Hash // remote hashes that differ from the local value
	Local      []Hash // locally computed hashes, one per supported algorithm
}

// HasAValidHash reports whether at least one remote hash matched.
func (s *FileHashStatus) HasAValidHash() bool {
	return s.Status == StatusOK || s.Status == StatusWarning
}

// Err returns a *HashMismatchError when the file failed validation.
func (s *FileHashStatus) Err() error {
	if s.Status != StatusFailed {
		return nil
	}
	return &HashMismatchError{Path: s.Path, Expected: s.Mismatched, Actual: s.Local}
}

// StatusLine returns a one line summary suitable for a status table.
func (s *FileHashStatus) StatusLine() string {
	h := s.reportedHash()
	line := fmt.Sprintf("%s %s %s %s", s.Path, h.Value, h.Algorithm, s.Status)
	if s.Status == StatusWarning {
		line += fmt.Sprintf(" (conflicting hashes: %s)", formatHashes(s.Mismatched))
	}
	return line
}

func (s *FileHashStatus) reportedHash() Hash {
	if len(s.Matched) > 0 {
		return s.Matched[0]
	}
	if len(s.Mismatched) > 0 {
		return s.Mismatched[0]
	}
	return Hash{}
}

// DetermineForHashes hashes the file at path once per supported algorithm
// found in expected and compares every supported expected hash against it.
func DetermineForHashes(expected []Hash, path string) (*FileHashStatus, error) {
	status := &FileHashStatus{Path: path}
	local := make(map[string]Hash)

	for _, remote := range expected {
		if !IsSupported(remote.Algorithm) {
			continue
		}
		alg := NormalizeAlgorithm(remote.Algorithm)
		computed, ok := local[alg]
		if !ok {
			var err error
			computed, err = HashFile(alg, path)
			if err != nil {
				return nil, err
			}
			local[alg] = computed
			status.Local = append(status.Local, computed)
		}
		if strings.EqualFold(computed.Value, remote.Value) {
			status.Matched = append(status.Matched, remote)
		} else {
			status.Mismatched = append(status.Mismatched, remote)
		}
	}

	switch {
	case len(status.Matched) == 0 && len(status.Mismatched) == 0:
		return nil, fmt.Errorf("%w for %s in %s", ErrNoSupportedHash, path, formatHashes(expected))
	case len(status.Mismatched) == 0:
		status.Status = StatusOK
	case len(status.Matched) == 0:
		status.Status = StatusFailed
	default:
		status.Status = StatusWarning
	}
	return status, nil
}

func formatHashes(hashes []Hash) string {
	parts := make([]string, len(hashes))
	for i, h := range hashes {
		parts[i] = h.Algorithm + ":" + h.Value
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
