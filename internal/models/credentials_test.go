package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialBlob_UnmarshalShapes(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		access  string
		refresh string
		expires time.Time
	}{
		{
			name:    "snake case rfc3339",
			in:      `{"access_token":"a","refresh_token":"r","expires_at":"2026-01-02T03:04:05Z"}`,
			access:  "a",
			refresh: "r",
			expires: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{
			name:    "camel case unix seconds",
			in:      `{"accessToken":"a","refreshToken":"r","expiresAt":1767323045}`,
			access:  "a",
			refresh: "r",
			expires: time.Unix(1767323045, 0).UTC(),
		},
		{
			name:    "unix millis as string",
			in:      `{"refresh_token":"r","expires_at":"1767323045000"}`,
			refresh: "r",
			expires: time.UnixMilli(1767323045000).UTC(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b CredentialBlob
			require.NoError(t, json.Unmarshal([]byte(tt.in), &b))
			assert.Equal(t, tt.access, b.AccessToken)
			assert.Equal(t, tt.refresh, b.RefreshToken)
			require.NotNil(t, b.ExpiresAt)
			assert.True(t, tt.expires.Equal(*b.ExpiresAt))
		})
	}
}

func TestCredentialBlob_PreservesExtraKeys(t *testing.T) {
	var b CredentialBlob
	require.NoError(t, json.Unmarshal([]byte(`{"access_token":"a","expires_at":null,"scope":"invoice customer"}`), &b))
	assert.Nil(t, b.ExpiresAt)

	b.AccessToken = "b"
	out, err := json.Marshal(b)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "b", m["access_token"])
	assert.Equal(t, "invoice customer", m["scope"])
	_, hasExpiry := m["expires_at"]
	assert.False(t, hasExpiry)
}

func TestCredentialBlob_SnakeCaseWinsOverCamelCase(t *testing.T) {
	in := []byte(`{"accessToken":"camel-a","access_token":"snake-a","refreshToken":"camel-r",` +
		`"refresh_token":"snake-r","expiresAt":1767323045,"expires_at":"2026-06-01T00:00:00Z"}`)

	// Map iteration order varies between runs; the result must not.
	for i := 0; i < 50; i++ {
		var b CredentialBlob
		require.NoError(t, json.Unmarshal(in, &b))
		assert.Equal(t, "snake-a", b.AccessToken)
		assert.Equal(t, "snake-r", b.RefreshToken)
		require.NotNil(t, b.ExpiresAt)
		assert.True(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).Equal(*b.ExpiresAt))
		assert.Empty(t, b.Extra, "aliases are not carried as extras")
	}

	var b CredentialBlob
	require.NoError(t, json.Unmarshal([]byte(`{"access_token":null,"accessToken":"camel-a"}`), &b))
	assert.Equal(t, "camel-a", b.AccessToken, "an empty snake_case key defers to camelCase")
}

func TestCredentialBlob_RejectsGarbage(t *testing.T) {
	var b CredentialBlob
	assert.Error(t, json.Unmarshal([]byte(`{"expires_at":"next tuesday"}`), &b))
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &b))
}

func TestCredentialRecord_Status(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	var nilRecord *CredentialRecord
	assert.Equal(t, TokenStatusMissing, nilRecord.Status(now))
	assert.Equal(t, TokenStatusMissing, (&CredentialRecord{}).Status(now))
	assert.Equal(t, TokenStatusExpired, (&CredentialRecord{RefreshToken: "r"}).Status(now))
	assert.Equal(t, TokenStatusExpired, (&CredentialRecord{AccessToken: "a", ExpiresAt: &past}).Status(now))
	assert.Equal(t, TokenStatusValid, (&CredentialRecord{AccessToken: "a", ExpiresAt: &future}).Status(now))

	blobOnly := &CredentialRecord{Settings: &CredentialBlob{AccessToken: "a", ExpiresAt: &future}}
	assert.Equal(t, TokenStatusValid, blobOnly.Status(now))
}

func TestParseService(t *testing.T) {
	s, err := ParseService("Fortnox")
	require.NoError(t, err)
	assert.Equal(t, ServiceFortnox, s)

	s, err = ParseService("search-console")
	require.NoError(t, err)
	assert.Equal(t, ServiceGoogle, s)

	_, err = ParseService("stripe")
	assert.Error(t, err)
}

func TestCronJob_AdvanceAndValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &CronJob{
		UserID:     "u1",
		ReportType: ReportInvoiceSummary,
		Recipients: []string{"owner@example.com"},
		Interval:   24 * time.Hour,
		Enabled:    true,
		NextRunAt:  now.Add(-72 * time.Hour),
	}
	require.NoError(t, job.Validate())
	assert.True(t, job.Due(now))

	job.Advance(now)
	assert.Equal(t, now.Add(24*time.Hour), job.NextRunAt)
	assert.False(t, job.Due(now))

	job.Recipients = []string{"not-an-address"}
	assert.Error(t, job.Validate())

	job.Recipients = []string{"owner@example.com"}
	job.ReportType = "weekly_digest"
	assert.Error(t, job.Validate())
}

func TestInvoice_Overdue(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.True(t, Invoice{Balance: 100, DueDate: "2026-03-01"}.Overdue(now))
	assert.False(t, Invoice{Balance: 0, DueDate: "2026-03-01"}.Overdue(now))
	assert.False(t, Invoice{Balance: 100, DueDate: "2026-03-01", Cancelled: true}.Overdue(now))
	assert.False(t, Invoice{Balance: 100, DueDate: "2026-03-20"}.Overdue(now))
	assert.True(t, Invoice{Balance: 0}.Paid())
}
