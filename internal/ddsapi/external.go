package ddsapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/chunking"
)

// RangeResponse is the body of a ranged GET against a signed URL.
type RangeResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	// Start is the first byte the server says it returned, or -1 if it did
	// not send Content-Range.
	Start int64
}

// SendExternal sends chunk to a signed URL.
//
// PUT is retried on connection failure up to Connection.SendPutRetryTimes
// attempts, sleeping Connection.SendRetryWait and recreating the session
// between attempts. POST is sent once. A 403 returns an error matching
// ErrForbidden; the URL is one-time so the caller must request another.
func (c *Client) SendExternal(ctx context.Context, u URLInfo, chunk []byte) error {
	verb := strings.ToUpper(u.HTTPVerb)
	switch verb {
	case http.MethodPut, http.MethodPost:
	default:
		return fmt.Errorf("send external: unsupported http verb %q", u.HTTPVerb)
	}

	attempts := 1
	if verb == http.MethodPut && c.conn.SendPutRetryTimes > 1 {
		attempts = c.conn.SendPutRetryTimes
	}

	for attempt := 1; ; attempt++ {
		err := c.sendOnce(ctx, verb, u, chunk)
		if err == nil || !errors.Is(err, ErrConnection) || ctx.Err() != nil {
			return err
		}
		if attempt >= attempts {
			return err
		}

		if attempt == 1 {
			c.logger.Warn().Err(err).Str("host", u.Host).Msg("retrying chunk upload to host")
		} else {
			c.logger.Debug().Err(err).Int("attempt", attempt).Str("host", u.Host).Msg("retrying chunk upload")
		}
		if err := sleep(ctx, c.conn.SendRetryWait); err != nil {
			return err
		}
		c.RecreateSession()
	}
}

func (c *Client) sendOnce(ctx context.Context, verb string, u URLInfo, chunk []byte) error {
	req, err := http.NewRequestWithContext(ctx, verb, u.FullURL(), bytes.NewReader(chunk))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range u.HTTPHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.session().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrConnection, verb, u.Host, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrForbidden, newExternalError(resp, verb, u.Host))
	default:
		return newExternalError(resp, verb, u.Host)
	}
}

// ReceiveExternal starts a ranged GET against a signed URL. The caller must
// close the returned body.
//
// Connection failures and 5xx responses are retried with exponential
// backoff. A 401 or 403 returns an error matching ErrExpiredURL.
func (c *Client) ReceiveExternal(ctx context.Context, u URLInfo, r chunking.Range) (*RangeResponse, error) {
	if verb := strings.ToUpper(u.HTTPVerb); verb != "" && verb != http.MethodGet {
		return nil, fmt.Errorf("receive external: unsupported http verb %q", u.HTTPVerb)
	}

	var lastErr error
	for attempt := 0; attempt <= c.conn.ReceiveRetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.FullURL(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		for k, v := range u.HTTPHeaders {
			req.Header.Set(k, v)
		}
		req.Header.Set("Range", r.Header())

		resp, err := c.session().Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: GET %s: %w", ErrConnection, u.Host, err)
			continue
		}

		// Server errors are retryable
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: %d %s", ErrServerError, resp.StatusCode, resp.Status)
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusPartialContent:
		case http.StatusUnauthorized, http.StatusForbidden:
			ext := newExternalError(resp, http.MethodGet, u.Host)
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %w", ErrExpiredURL, ext)
		default:
			ext := newExternalError(resp, http.MethodGet, u.Host)
			resp.Body.Close()
			return nil, ext
		}

		start := int64(-1)
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			s, _, _, err := ParseContentRange(cr)
			if err != nil {
				resp.Body.Close()
				return nil, err
			}
			start = s
		}
		return &RangeResponse{Body: resp.Body, ContentLength: resp.ContentLength, Start: start}, nil
	}

	return nil, fmt.Errorf("range request failed after %d attempts: %w", c.conn.ReceiveRetryAttempts+1, lastErr)
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
