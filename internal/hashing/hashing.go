// Package hashing computes content hashes and verifies downloaded files
// against the hashes reported by the data service.
package hashing

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Supported algorithm names, as sent on the wire.
const (
	AlgorithmMD5    = "md5"
	AlgorithmSHA256 = "sha256"
)

// DefaultAlgorithm is used for chunk and whole-file hashes on upload.
const DefaultAlgorithm = AlgorithmMD5

// ErrUnsupportedAlgorithm is returned when asked to hash with an unknown algorithm.
var ErrUnsupportedAlgorithm = errors.New("hashing: unsupported algorithm")

// Hash is an algorithm/value pair.
type Hash struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// NormalizeAlgorithm maps spellings such as "MD5" or "SHA-256" to the
// canonical lower case names.
func NormalizeAlgorithm(alg string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(alg)), "-", "")
}

// IsSupported reports whether alg can be computed locally.
func IsSupported(alg string) bool {
	switch NormalizeAlgorithm(alg) {
	case AlgorithmMD5, AlgorithmSHA256:
		return true
	}
	return false
}

func newHash(alg string) (hash.Hash, error) {
	switch NormalizeAlgorithm(alg) {
	case AlgorithmMD5:
		return md5.New(), nil
	case AlgorithmSHA256:
		return sha256.New(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
}

// HashUtil accumulates a hash over chunks or whole files.
type HashUtil struct {
	alg string
	h   hash.Hash
}

// NewHashUtil returns a HashUtil for alg.
func NewHashUtil(alg string) (*HashUtil, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	return &HashUtil{alg: NormalizeAlgorithm(alg), h: h}, nil
}

// AddChunk adds a block of memory to the hash.
func (u *HashUtil) AddChunk(chunk []byte) {
	u.h.Write(chunk)
}

// AddFile adds the entire contents of the file at path to the hash.
func (u *HashUtil) AddFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(u.h, f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// Hash returns the algorithm and hex digest accumulated so far.
func (u *HashUtil) Hash() Hash {
	return Hash{Algorithm: u.alg, Value: hex.EncodeToString(u.h.Sum(nil))}
}

// HashBytes hashes data with alg.
func HashBytes(alg string, data []byte) (Hash, error) {
	u, err := NewHashUtil(alg)
	if err != nil {
		return Hash{}, err
	}
	u.AddChunk(data)
	return u.Hash(), nil
}

// HashFile hashes the file at path with alg.
func HashFile(alg, path string) (Hash, error) {
	u, err := NewHashUtil(alg)
	if err != nil {
		return Hash{}, err
	}
	if err := u.AddFile(path); err != nil {
		return Hash{}, err
	}
	return u.Hash(), nil
}
