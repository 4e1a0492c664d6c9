package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestConfigErrors(t *testing.T) {
	notFound := &ErrConfigNotFound{Path: "/tmp/config.yaml"}
	if !strings.Contains(notFound.Error(), "config file not found") {
		t.Fatalf("unexpected error message: %s", notFound.Error())
	}
	if !strings.Contains(notFound.Error(), notFound.Path) {
		t.Fatalf("expected path in error message: %s", notFound.Error())
	}

	base := errors.New("bad yaml")
	parse := &ErrConfigParse{Err: base}
	if !strings.Contains(parse.Error(), "failed to parse YAML") {
		t.Fatalf("unexpected parse message: %s", parse.Error())
	}
	if !errors.Is(parse, base) {
		t.Fatalf("expected unwrap to base error")
	}

	validation := &ErrConfigValidation{Err: base}
	if !strings.Contains(validation.Error(), "config validation failed") {
		t.Fatalf("unexpected validation message: %s", validation.Error())
	}
	if !errors.Is(validation, base) {
		t.Fatalf("expected unwrap to base error")
	}

	missing := &ErrMissingEnv{Names: []string{"FORTNOX_CLIENT_ID", "CRON_SECRET"}}
	if !strings.Contains(missing.Error(), "FORTNOX_CLIENT_ID, CRON_SECRET") {
		t.Fatalf("unexpected missing env message: %s", missing.Error())
	}
}

func TestDatabaseErrors(t *testing.T) {
	base := errors.New("db")

	op := &ErrDatabaseOpen{Path: "/tmp/db.sqlite", Err: base}
	if !strings.Contains(op.Error(), "failed to open database") {
		t.Fatalf("unexpected open message: %s", op.Error())
	}
	if !errors.Is(op, base) {
		t.Fatalf("expected unwrap to base error")
	}

	migration := &ErrDatabaseMigration{Version: 2, Err: base}
	if !strings.Contains(migration.Error(), "database migration 2 failed") {
		t.Fatalf("unexpected migration message: %s", migration.Error())
	}

	query := &ErrDatabaseQuery{Operation: "select", Err: base}
	if !strings.Contains(query.Error(), "database query failed") {
		t.Fatalf("unexpected query message: %s", query.Error())
	}
	if !errors.Is(query, base) {
		t.Fatalf("expected unwrap to base error")
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("load credential: %w", ErrNotFound)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected ErrNotFound through wrap")
	}
	if errors.Is(wrapped, ErrNotConnected) {
		t.Fatalf("sentinels must be distinct")
	}
}

func TestValidationAndUpstream(t *testing.T) {
	v := &ErrValidation{Field: "email", Message: "invalid format"}
	if v.Error() != "email: invalid format" {
		t.Fatalf("unexpected validation message: %s", v.Error())
	}
	if (&ErrValidation{Message: "bad"}).Error() != "bad" {
		t.Fatalf("expected bare message without field")
	}

	up := &ErrUpstream{Service: "fortnox", StatusCode: 503}
	if !up.Transient() {
		t.Fatalf("5xx should be transient")
	}
	if (&ErrUpstream{Service: "fortnox", StatusCode: 400}).Transient() {
		t.Fatalf("4xx should not be transient")
	}
	if !strings.Contains(up.Error(), "fortnox returned status 503") {
		t.Fatalf("unexpected upstream message: %s", up.Error())
	}
}

func TestRateLimitFromHeaders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	h := http.Header{}
	h.Set("Retry-After", "12")
	if got := RateLimitFromHeaders("fortnox", h, now).RetryAfter; got != 12*time.Second {
		t.Fatalf("expected 12s, got %v", got)
	}

	h.Set("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat))
	if got := RateLimitFromHeaders("fortnox", h, now).RetryAfter; got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}

	h.Set("Retry-After", "soon")
	if got := RateLimitFromHeaders("google", h, now).RetryAfter; got != DefaultRetryAfter {
		t.Fatalf("expected default, got %v", got)
	}

	err := RateLimitFromHeaders("google", http.Header{}, now)
	if err.Error() != "google rate limit exceeded" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var rl *RateLimitError
	if !errors.As(fmt.Errorf("page 2: %w", err), &rl) {
		t.Fatalf("expected errors.As to find RateLimitError")
	}
}
