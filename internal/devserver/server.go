package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/hashing"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/objectstore"
	"github.com/rs/zerolog"
)

// APIPrefix is the path prefix of the control plane routes.
const APIPrefix = "/api/v1"

// Faults counts how many more times each failure should be injected.
type Faults struct {
	// NotConsistent answers chunk URL requests with resource_not_consistent.
	NotConsistent int
	// ServiceDown answers control plane calls with 503.
	ServiceDown int
	// ForbiddenChunkSends rejects chunk sends with 403.
	ForbiddenChunkSends int
	// DroppedChunkSends closes the connection without answering a chunk send.
	DroppedChunkSends int
	// ExpiredFileURLs rejects ranged GETs with 403 as if the URL expired.
	ExpiredFileURLs int
	// ShortReads returns half of the requested range.
	ShortReads int
	// LongReads returns more bytes than requested.
	LongReads int
}

// Stats counts the requests the server has handled.
type Stats struct {
	CreateUploads   int
	ChunkURLs       int
	ChunkSends      int
	CompleteUploads int
	CreateFiles     int
	UpdateFiles     int
	FileURLs        int
	RangeGets       int
}

// Options configures a Server.
type Options struct {
	// Auth, when set, must match the Authorization header.
	Auth string

	// ChunkVerb is the verb handed out for chunk URLs.
	// Default: PUT
	ChunkVerb string

	// FileURLTTL is how long a download URL stays valid.
	// Default: 1h
	FileURLTTL time.Duration

	// Logger receives a debug event per request.
	Logger *zerolog.Logger
}

type upload struct {
	ID          string
	ProjectID   string
	Name        string
	ContentType string
	Size        int64
	Hash        hashing.Hash
	Expected    map[int]ddsapi.ChunkURLRequest
	Manifest    *objectstore.Manifest
	Hashes      []hashing.Hash
}

type file struct {
	ID        string
	Name      string
	Parent    ddsapi.Parent
	ProjectID string
	Versions  []string // upload ids, oldest first
}

type chunkToken struct {
	UploadID string
	Number   int
	Used     bool
}

type fileToken struct {
	UploadID string
	Expires  time.Time
}

// Server serves the control plane and storage routes.
type Server struct {
	store  *objectstore.Store
	opts   Options
	logger zerolog.Logger
	mux    *http.ServeMux

	mu          sync.Mutex
	uploads     map[string]*upload
	files       map[string]*file
	chunkTokens map[string]*chunkToken
	fileTokens  map[string]*fileToken
	faults      Faults
	stats       Stats
}

// New returns a Server storing data in store.
func New(store *objectstore.Store, opts Options) *Server {
	if opts.ChunkVerb == "" {
		opts.ChunkVerb = http.MethodPut
	}
	if opts.FileURLTTL == 0 {
		opts.FileURLTTL = time.Hour
	}
	s := &Server{
		store:       store,
		opts:        opts,
		logger:      zerolog.Nop(),
		uploads:     make(map[string]*upload),
		files:       make(map[string]*file),
		chunkTokens: make(map[string]*chunkToken),
		fileTokens:  make(map[string]*fileToken),
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST "+APIPrefix+"/projects/{project}/uploads", s.api(s.handleCreateUpload))
	s.mux.HandleFunc("GET "+APIPrefix+"/uploads/{id}", s.api(s.handleGetUpload))
	s.mux.HandleFunc("PUT "+APIPrefix+"/uploads/{id}/chunks", s.api(s.handleChunkURL))
	s.mux.HandleFunc("PUT "+APIPrefix+"/uploads/{id}/complete", s.api(s.handleComplete))
	s.mux.HandleFunc("POST "+APIPrefix+"/files", s.api(s.handleCreateFile))
	s.mux.HandleFunc("GET "+APIPrefix+"/files/{id}", s.api(s.handleGetFile))
	s.mux.HandleFunc("PUT "+APIPrefix+"/files/{id}", s.api(s.handleUpdateFile))
	s.mux.HandleFunc("GET "+APIPrefix+"/files/{id}/url", s.api(s.handleFileURL))
	s.mux.HandleFunc("POST "+APIPrefix+"/software_agents/api_token", s.handleAPIToken)

	s.mux.HandleFunc("PUT /storage/chunks/{token}", s.handleChunkSend)
	s.mux.HandleFunc("POST /storage/chunks/{token}", s.handleChunkSend)
	s.mux.HandleFunc("GET /storage/files/{token}", s.handleRangeGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
	s.mux.ServeHTTP(w, r)
}

// SetFaults replaces the pending fault counts.
func (s *Server) SetFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// Faults returns the fault counts not yet consumed.
func (s *Server) Faults() Faults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults
}

// Stats returns a snapshot of the request counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// take consumes one injection of a fault. Must be called with s.mu held.
func take(n *int) bool {
	if *n > 0 {
		*n--
		return true
	}
	return false
}

// api wraps control plane handlers with auth and the service down fault.
func (s *Server) api(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Auth != "" && r.Header.Get("Authorization") != s.opts.Auth {
			writeError(w, http.StatusUnauthorized, "", "invalid or missing auth token", "check your ddsclient config")
			return
		}
		s.mu.Lock()
		down := take(&s.faults.ServiceDown)
		s.mu.Unlock()
		if down {
			writeError(w, http.StatusServiceUnavailable, "", "service down for maintenance", "")
			return
		}
		h(w, r)
	}
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, reason, suggestion string) {
	writeJSON(w, status, map[string]string{
		"error":      http.StatusText(status),
		"code":       code,
		"reason":     reason,
		"suggestion": suggestion,
	})
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func normalize(h hashing.Hash) hashing.Hash {
	return hashing.Hash{Algorithm: hashing.NormalizeAlgorithm(h.Algorithm), Value: strings.ToLower(h.Value)}
}
