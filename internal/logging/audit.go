package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Integration lifecycle
	IntegrationConnected    AuditEventType = "INTEGRATION_CONNECTED"
	IntegrationDisconnected AuditEventType = "INTEGRATION_DISCONNECTED"
	CredentialsBackfilled   AuditEventType = "CREDENTIALS_BACKFILLED"

	// Data changes
	SyncRun          AuditEventType = "SYNC_RUN"
	ContentPublished AuditEventType = "CONTENT_PUBLISHED"
	TestPostsDeleted AuditEventType = "TEST_POSTS_DELETED"

	// Scheduled work
	ReportsDispatched AuditEventType = "REPORTS_DISPATCHED"
)

// AuditSeverity represents the severity level of an audit event
type AuditSeverity string

const (
	SeverityInfo    AuditSeverity = "info"
	SeverityWarning AuditSeverity = "warning"
	SeverityError   AuditSeverity = "error"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusFailure AuditStatus = "failure"
)

// AuditEvent records who changed what.
type AuditEvent struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    AuditEventType         `json:"event_type"`
	Severity     AuditSeverity          `json:"severity"`
	UserID       string                 `json:"user_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource,omitempty"`
	Status       AuditStatus            `json:"status"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// NewAuditEvent creates a new audit event with a generated ID and timestamp
func NewAuditEvent(eventType AuditEventType, action string, status AuditStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  SeverityInfo,
		Action:    action,
		Status:    status,
	}
}

// WithUserID sets the user ID for the audit event
func (e *AuditEvent) WithUserID(userID string) *AuditEvent {
	e.UserID = userID
	return e
}

// WithIPAddress sets the IP address for the audit event
func (e *AuditEvent) WithIPAddress(ipAddress string) *AuditEvent {
	e.IPAddress = ipAddress
	return e
}

// WithResource sets the resource for the audit event
func (e *AuditEvent) WithResource(resource string) *AuditEvent {
	e.Resource = resource
	return e
}

// WithDetails merges details into the event.
func (e *AuditEvent) WithDetails(details map[string]interface{}) *AuditEvent {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithError marks the event failed.
func (e *AuditEvent) WithError(errorMessage string) *AuditEvent {
	e.ErrorMessage = errorMessage
	e.Status = StatusFailure
	if e.Severity == "" || e.Severity == SeverityInfo {
		e.Severity = SeverityWarning
	}
	return e
}

// ToJSON converts the audit event to a JSON string
func (e *AuditEvent) ToJSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal audit event: %v"}`, err)
	}
	return string(data)
}

// AuditSink receives audit events.
type AuditSink interface {
	Record(ctx context.Context, event *AuditEvent)
}

// LogAuditSink writes audit events as structured log lines tagged audit=true.
type LogAuditSink struct {
	logger *Logger
}

var _ AuditSink = (*LogAuditSink)(nil)

// NewLogAuditSink creates a sink on logger.
func NewLogAuditSink(logger *Logger) *LogAuditSink {
	if logger == nil {
		logger = NewNop()
	}
	return &LogAuditSink{logger: logger}
}

// Record logs the event; failures are logged at warn.
func (s *LogAuditSink) Record(ctx context.Context, e *AuditEvent) {
	if e == nil {
		return
	}
	fields := []interface{}{
		"audit", true,
		"audit_id", e.ID,
		"event_type", string(e.EventType),
		"action", e.Action,
		"status", string(e.Status),
	}
	if e.UserID != "" {
		fields = append(fields, "user_id", e.UserID)
	}
	if e.IPAddress != "" {
		fields = append(fields, "ip_address", e.IPAddress)
	}
	if e.Resource != "" {
		fields = append(fields, "resource", e.Resource)
	}
	if len(e.Details) > 0 {
		fields = append(fields, "details", e.Details)
	}
	if e.Status == StatusFailure {
		fields = append(fields, "error", e.ErrorMessage)
		s.logger.WarnWithContext(ctx, "audit event", fields...)
		return
	}
	s.logger.InfoWithContext(ctx, "audit event", fields...)
}
