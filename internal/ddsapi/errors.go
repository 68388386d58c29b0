package ddsapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/consistency"
)

// Common errors.
var (
	ErrNotFound     = errors.New("ddsapi: resource not found")
	ErrForbidden    = errors.New("ddsapi: access forbidden")
	ErrUnauthorized = errors.New("ddsapi: unauthorized")
	ErrServiceDown  = errors.New("ddsapi: service down")
	ErrServerError  = errors.New("ddsapi: server error")
	ErrConnection   = errors.New("ddsapi: connection failed")
	ErrExpiredURL   = errors.New("ddsapi: signed url expired")

	// ErrUnexpectedPaging is returned when a single item call carries
	// paging headers, which points at an incompatible service version.
	ErrUnexpectedPaging = errors.New("ddsapi: unexpected paging data in single item response")

	// ErrResourceNotConsistent is the not-yet-consistent signal, shared with
	// the consistency package so its Waiter recognises it.
	ErrResourceNotConsistent = consistency.ErrNotConsistent
)

// CodeResourceNotConsistent is the error code the service sends with a 404
// when a resource exists but has not yet converged.
const CodeResourceNotConsistent = "resource_not_consistent"

// DataServiceError is a non-2xx response from the control plane.
type DataServiceError struct {
	StatusCode int
	Method     string
	URLSuffix  string
	Reason     string
	Suggestion string
	Code       string
}

func (e *DataServiceError) Error() string {
	msg := fmt.Sprintf("error %d on %s %s", e.StatusCode, e.Method, e.URLSuffix)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Suggestion != "" {
		msg += " (suggestion: " + e.Suggestion + ")"
	}
	return msg
}

// Is maps the status code and error code onto the package sentinels.
func (e *DataServiceError) Is(target error) bool {
	switch target {
	case ErrResourceNotConsistent:
		return e.notConsistent()
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound && !e.notConsistent()
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrServiceDown:
		return e.StatusCode == http.StatusServiceUnavailable
	case ErrServerError:
		return e.StatusCode >= 500
	}
	return false
}

func (e *DataServiceError) notConsistent() bool {
	return e.StatusCode == http.StatusNotFound && e.Code == CodeResourceNotConsistent
}

type errorBody struct {
	Error      string `json:"error"`
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion"`
	Code       string `json:"code"`
}

// newDataServiceError reads the error body of resp, which may or may not be JSON.
func newDataServiceError(resp *http.Response, method, suffix string) *DataServiceError {
	e := &DataServiceError{StatusCode: resp.StatusCode, Method: method, URLSuffix: suffix}

	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &body); err == nil {
		e.Reason = body.Reason
		if e.Reason == "" {
			e.Reason = body.Error
		}
		e.Suggestion = body.Suggestion
		e.Code = body.Code
	}
	if resp.StatusCode == http.StatusInternalServerError && e.Reason == "" {
		e.Reason = "Internal Server Error"
		e.Suggestion = "Contact DDS support."
	}
	return e
}

// ExternalError is a non-2xx response from a signed storage URL.
type ExternalError struct {
	StatusCode int
	Method     string
	Host       string
	Body       string
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s to %s failed with status %d: %s", e.Method, e.Host, e.StatusCode, e.Body)
}

func newExternalError(resp *http.Response, method, host string) *ExternalError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	return &ExternalError{StatusCode: resp.StatusCode, Method: method, Host: host, Body: string(raw)}
}
