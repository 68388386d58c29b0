package ddsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is reported in the User-Agent header.
const Version = "3.0.0"

// UserAgent is sent with every control plane request.
var UserAgent = "DukeDSClient/" + Version

// ServiceDownMessage is passed to the status func while the service is down.
const ServiceDownMessage = "Duke Data Service is currently unavailable (%s). " +
	"The operation will be retried automatically and will complete once the service is available."

// Connection holds the immutable parameters needed to build a Client.
type Connection struct {
	// BaseURL of the control plane, without a trailing slash.
	BaseURL string

	// Auth is sent as the Authorization header.
	Auth string

	// Timeout for individual requests. Zero disables the client timeout.
	// Default: 0
	Timeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// ConnectionRetryTimes is the number of attempts for idempotent
	// control plane calls that fail to connect.
	// Default: 5
	ConnectionRetryTimes int

	// ConnectionRetryWait is the pause between those attempts.
	// Default: 1s
	ConnectionRetryWait time.Duration

	// ServiceDownWait is the pause between attempts while the service
	// answers 503.
	// Default: 60s
	ServiceDownWait time.Duration

	// SendPutRetryTimes is the number of attempts for a chunk PUT.
	// Default: 4
	SendPutRetryTimes int

	// SendRetryWait is the pause between chunk PUT attempts.
	// Default: 20s
	SendRetryWait time.Duration

	// ReceiveRetryAttempts is the number of retries for ranged GETs that hit
	// a connection failure or a 5xx.
	// Default: 5
	ReceiveRetryAttempts int

	// ReceiveRetryBackoff is the initial backoff for ranged GET retries.
	// Default: 1s
	ReceiveRetryBackoff time.Duration

	// ReceiveRetryMaxBackoff caps the ranged GET backoff.
	// Default: 30s
	ReceiveRetryMaxBackoff time.Duration

	// NewTransport builds the transport for each new session. Nil uses a
	// tuned *http.Transport.
	NewTransport func() http.RoundTripper
}

// DefaultConnection returns a Connection with default retry settings.
func DefaultConnection(baseURL, auth string) Connection {
	return Connection{
		BaseURL:                strings.TrimSuffix(baseURL, "/"),
		Auth:                   auth,
		MaxIdleConnsPerHost:    100,
		ConnectionRetryTimes:   5,
		ConnectionRetryWait:    time.Second,
		ServiceDownWait:        60 * time.Second,
		SendPutRetryTimes:      4,
		SendRetryWait:          20 * time.Second,
		ReceiveRetryAttempts:   5,
		ReceiveRetryBackoff:    time.Second,
		ReceiveRetryMaxBackoff: 30 * time.Second,
	}
}

// Client is a data service client. It is safe for concurrent use.
type Client struct {
	conn   Connection
	logger zerolog.Logger
	status func(string)

	mu   sync.Mutex
	http *http.Client
}

// NewClient creates a client with a fresh session.
func NewClient(conn Connection) *Client {
	c := &Client{conn: conn, logger: zerolog.Nop()}
	c.http = c.newSession()
	return c
}

// SetLogger sets the logger.
func (c *Client) SetLogger(l zerolog.Logger) {
	c.logger = l
}

// SetStatusFunc sets the function told about service outages. It is called
// with a message when an outage starts and with "" when it ends.
func (c *Client) SetStatusFunc(fn func(msg string)) {
	c.status = fn
}

// Connection returns the parameters the client was built from.
func (c *Client) Connection() Connection {
	return c.conn
}

func (c *Client) newSession() *http.Client {
	var rt http.RoundTripper
	if c.conn.NewTransport != nil {
		rt = c.conn.NewTransport()
	} else {
		idle := c.conn.MaxIdleConnsPerHost
		if idle <= 0 {
			idle = 100
		}
		rt = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: idle,
			MaxIdleConns:        idle * 2,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true, // ranged reads need raw bytes
		}
	}
	return &http.Client{Transport: rt, Timeout: c.conn.Timeout}
}

// RecreateSession replaces the underlying HTTP client so a poisoned
// connection is not reused.
func (c *Client) RecreateSession() {
	next := c.newSession()
	c.mu.Lock()
	prev := c.http
	c.http = next
	c.mu.Unlock()
	prev.CloseIdleConnections()
}

func (c *Client) session() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.http
}

// call sends a JSON request to the control plane and decodes the response
// into out. 503 responses are retried until the context ends.
func (c *Client) call(ctx context.Context, method, suffix string, in, out any) error {
	outage := false
	defer func() {
		if outage && c.status != nil {
			c.status("")
		}
	}()

	for {
		err := c.callOnce(ctx, method, suffix, in, out)
		if err == nil || !errors.Is(err, ErrServiceDown) {
			return err
		}
		if !outage {
			outage = true
			c.logger.Warn().Str("path", suffix).Msg("data service is down, waiting")
			if c.status != nil {
				c.status(fmt.Sprintf(ServiceDownMessage, time.Now().UTC().Format(time.RFC3339)))
			}
		}
		if err := sleep(ctx, c.conn.ServiceDownWait); err != nil {
			return err
		}
	}
}

func (c *Client) callOnce(ctx context.Context, method, suffix string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, suffix, err)
		}
	}

	attempts := 1
	if method != http.MethodPost && c.conn.ConnectionRetryTimes > 1 {
		attempts = c.conn.ConnectionRetryTimes
	}

	var resp *http.Response
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.conn.BaseURL+suffix, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", UserAgent)
		if c.conn.Auth != "" {
			req.Header.Set("Authorization", c.conn.Auth)
		}

		resp, err = c.session().Do(req)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= attempts {
			return fmt.Errorf("%w: %s %s: %w", ErrConnection, method, suffix, err)
		}
		c.logger.Debug().Err(err).Int("attempt", attempt).Str("path", suffix).Msg("connection failed, retrying")
		if err := sleep(ctx, c.conn.ConnectionRetryWait); err != nil {
			return err
		}
		c.RecreateSession()
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Total-Pages") != "" {
		return fmt.Errorf("%s %s: %w", method, suffix, ErrUnexpectedPaging)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newDataServiceError(resp, method, suffix)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, suffix, err)
	}
	return nil
}

// CreateUpload creates a chunked upload in a project.
func (c *Client) CreateUpload(ctx context.Context, projectID string, req CreateUploadRequest) (*Upload, error) {
	req.Chunked = true
	var up Upload
	if err := c.call(ctx, http.MethodPost, "/projects/"+projectID+"/uploads", req, &up); err != nil {
		return nil, err
	}
	return &up, nil
}

// CreateUploadURL requests a signed URL for one chunk of an upload.
func (c *Client) CreateUploadURL(ctx context.Context, uploadID string, req ChunkURLRequest) (*URLInfo, error) {
	var info URLInfo
	if err := c.call(ctx, http.MethodPut, "/uploads/"+uploadID+"/chunks", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CompleteUpload tells the service every chunk has been sent.
func (c *Client) CompleteUpload(ctx context.Context, uploadID string, req CompleteUploadRequest) (*Upload, error) {
	var up Upload
	if err := c.call(ctx, http.MethodPut, "/uploads/"+uploadID+"/complete", req, &up); err != nil {
		return nil, err
	}
	return &up, nil
}

// GetUpload returns an upload.
func (c *Client) GetUpload(ctx context.Context, uploadID string) (*Upload, error) {
	var up Upload
	if err := c.call(ctx, http.MethodGet, "/uploads/"+uploadID, nil, &up); err != nil {
		return nil, err
	}
	return &up, nil
}

// CreateFile creates a new file from a completed upload.
func (c *Client) CreateFile(ctx context.Context, parent Parent, uploadID string) (*File, error) {
	var f File
	req := CreateFileRequest{Parent: parent, Upload: Ref{ID: uploadID}}
	if err := c.call(ctx, http.MethodPost, "/files", req, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdateFile creates a new version of an existing file from a completed upload.
func (c *Client) UpdateFile(ctx context.Context, fileID, uploadID string) (*File, error) {
	var f File
	req := UpdateFileRequest{Upload: Ref{ID: uploadID}}
	if err := c.call(ctx, http.MethodPut, "/files/"+fileID, req, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFile returns a file and its current version.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.call(ctx, http.MethodGet, "/files/"+fileID, nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFileURL returns a signed URL for downloading a file.
func (c *Client) GetFileURL(ctx context.Context, fileID string) (*URLInfo, error) {
	var info URLInfo
	if err := c.call(ctx, http.MethodGet, "/files/"+fileID+"/url", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetAPIToken exchanges agent and user keys for an auth token.
func (c *Client) GetAPIToken(ctx context.Context, agentKey, userKey string) (*APIToken, error) {
	var tok APIToken
	req := map[string]string{"agent_key": agentKey, "user_key": userKey}
	if err := c.call(ctx, http.MethodPost, "/software_agents/api_token", req, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.conn.ReceiveRetryBackoff * time.Duration(1<<uint(attempt-1))
	if c.conn.ReceiveRetryMaxBackoff > 0 && backoff > c.conn.ReceiveRetryMaxBackoff {
		backoff = c.conn.ReceiveRetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))
	return sleep(ctx, jitter)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
