// Package testutils provides shared test infrastructure: deterministic test
// data, a dev server harness and, behind the integration build tag, a MinIO
// container.
package testutils

import (
	"bytes"
	"crypto/rand"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/devserver"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/objectstore"
	"gocloud.dev/blob/memblob"
)

// GenerateTestData generates test data of the given size.
// For files <= 10MB, uses deterministic pattern. For larger files, uses random data.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 251)
		}
	} else {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
	}
	return data
}

// WriteTestFile writes data to name inside dir and returns the path.
func WriteTestFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// DevEnv is a dev server running over an in-memory bucket.
type DevEnv struct {
	Server     *devserver.Server
	HTTP       *httptest.Server
	Store      *objectstore.Store
	Connection ddsapi.Connection
}

// StartDevServer starts a dev server on an in-memory bucket. The returned
// connection uses millisecond waits so retry paths run quickly.
func StartDevServer(t *testing.T, opts devserver.Options) *DevEnv {
	t.Helper()
	store := objectstore.New(memblob.OpenBucket(nil))
	return StartDevServerWithStore(t, store, opts)
}

// StartDevServerWithStore starts a dev server backed by store.
func StartDevServerWithStore(t *testing.T, store *objectstore.Store, opts devserver.Options) *DevEnv {
	t.Helper()
	srv := devserver.New(store, opts)
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		hs.Close()
		store.Close()
	})
	return &DevEnv{
		Server:     srv,
		HTTP:       hs,
		Store:      store,
		Connection: FastConnection(hs.URL+devserver.APIPrefix, opts.Auth),
	}
}

// FastConnection returns a connection to baseURL with every wait shortened
// to a millisecond.
func FastConnection(baseURL, auth string) ddsapi.Connection {
	conn := ddsapi.DefaultConnection(baseURL, auth)
	conn.ConnectionRetryWait = time.Millisecond
	conn.ServiceDownWait = time.Millisecond
	conn.SendRetryWait = time.Millisecond
	conn.ReceiveRetryBackoff = time.Millisecond
	conn.ReceiveRetryMaxBackoff = 5 * time.Millisecond
	return conn
}

// CompareReaderToData compares reader output with expected data in chunks.
// This is memory-efficient for large files.
func CompareReaderToData(t *testing.T, reader io.Reader, expected []byte) {
	t.Helper()

	chunkSize := 1024 * 1024 // 1MB
	buf := make([]byte, chunkSize)
	offset := 0

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read more data than expected: offset=%d, n=%d, expected len=%d",
					offset, n, len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}

	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
