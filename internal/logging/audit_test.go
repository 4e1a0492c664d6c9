package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestAuditEventLifecycle(t *testing.T) {
	event := NewAuditEvent(IntegrationConnected, "connect", StatusSuccess).
		WithUserID("user").
		WithIPAddress("127.0.0.1").
		WithResource("fortnox").
		WithDetails(map[string]interface{}{"k": "v"}).
		WithDetails(map[string]interface{}{"n": 1})

	if event.ID == "" || event.Timestamp.IsZero() {
		t.Fatalf("expected id and timestamp to be generated")
	}
	if event.UserID != "user" || event.IPAddress != "127.0.0.1" || event.Resource != "fortnox" {
		t.Fatalf("expected user, ip and resource to be set")
	}
	if len(event.Details) != 2 {
		t.Fatalf("expected details to merge, got %v", event.Details)
	}
	if event.Severity != SeverityInfo {
		t.Fatalf("unexpected severity %s", event.Severity)
	}

	event.WithError("boom")
	if event.Status != StatusFailure || event.ErrorMessage != "boom" {
		t.Fatalf("expected failure with message")
	}
	if event.Severity != SeverityWarning {
		t.Fatalf("expected failure to raise severity, got %s", event.Severity)
	}

	if !strings.Contains(event.ToJSON(), `"event_type":"INTEGRATION_CONNECTED"`) {
		t.Fatalf("expected json output to contain event type: %s", event.ToJSON())
	}
}

func TestLogAuditSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogAuditSink(NewLogger(WithOutput(&buf), WithLevel(LevelInfo)))
	ctx := WithCorrelationID(context.Background(), "req-1")

	sink.Record(ctx, NewAuditEvent(TestPostsDeleted, "delete test posts", StatusSuccess).WithUserID("u1"))
	entry := decodeLastLog(t, buf.Bytes())
	if entry["audit"] != true || entry["event_type"] != string(TestPostsDeleted) {
		t.Fatalf("unexpected audit entry: %v", entry)
	}
	if entry["user_id"] != "u1" || entry["correlation_id"] != "req-1" {
		t.Fatalf("expected user and correlation id: %v", entry)
	}
	if entry["level"] != "info" {
		t.Fatalf("expected info level, got %v", entry["level"])
	}

	sink.Record(ctx, NewAuditEvent(IntegrationConnected, "connect", StatusSuccess).WithError("state expired"))
	entry = decodeLastLog(t, buf.Bytes())
	if entry["level"] != "warn" || entry["error"] != "state expired" {
		t.Fatalf("expected failed event at warn: %v", entry)
	}

	sink.Record(ctx, nil)
}

func TestLogAuditSink_NilLogger(t *testing.T) {
	NewLogAuditSink(nil).Record(context.Background(), NewAuditEvent(SyncRun, "sync", StatusSuccess))
}
