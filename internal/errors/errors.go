package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinels shared across the store, service and API layers.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = stderrors.New("not found")

	// ErrUnauthorized indicates a missing or invalid session.
	ErrUnauthorized = stderrors.New("unauthorized")

	// ErrForbidden indicates a valid session acting outside its own tenant.
	ErrForbidden = stderrors.New("forbidden")

	// ErrNotConnected indicates the user has no credential for an integration.
	ErrNotConnected = stderrors.New("integration not connected")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = stderrors.New("already exists")
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// ErrMissingEnv is returned when a required secret or setting is empty.
// It is never retried and always maps to a 500.
type ErrMissingEnv struct {
	Names []string
}

func (e *ErrMissingEnv) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Names, ", "))
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Validation errors

// ErrValidation describes a rejected request input.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

// Upstream errors

// ErrUpstream is a non-auth, non-rate-limit failure returned by a third-party API.
type ErrUpstream struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ErrUpstream) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Transient reports whether the failure is a 5xx worth surfacing as partial progress.
func (e *ErrUpstream) Transient() bool {
	return e.StatusCode >= 500
}

// RateLimitError is a 429 from a third-party API. It is never retried
// automatically; RetryAfter is surfaced to the client.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return "rate limit"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Service != "" {
		return e.Service + " rate limit exceeded"
	}
	return "rate limit exceeded"
}

// DefaultRetryAfter is used when a 429 carries no usable Retry-After header.
const DefaultRetryAfter = 30 * time.Second

// RateLimitFromHeaders builds a RateLimitError from a Retry-After header given
// as delay-seconds or an HTTP date.
func RateLimitFromHeaders(service string, headers http.Header, now time.Time) *RateLimitError {
	return &RateLimitError{
		Service:    service,
		RetryAfter: parseRetryAfter(headers.Get("Retry-After"), now),
	}
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return DefaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return DefaultRetryAfter
}
