package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Service identifies an external integration a user can connect.
type Service string

const (
	ServiceFortnox Service = "fortnox"
	ServiceGoogle  Service = "google"
)

// ParseService validates a path or CLI value.
func ParseService(s string) (Service, error) {
	switch Service(strings.ToLower(strings.TrimSpace(s))) {
	case ServiceFortnox:
		return ServiceFortnox, nil
	case ServiceGoogle, "search-console":
		return ServiceGoogle, nil
	default:
		return "", fmt.Errorf("unknown integration %q", s)
	}
}

// TokenStatus is the machine-readable hint returned to clients on auth failures.
type TokenStatus string

const (
	TokenStatusValid         TokenStatus = "valid"
	TokenStatusExpired       TokenStatus = "expired"
	TokenStatusMissing       TokenStatus = "missing"
	TokenStatusRefreshFailed TokenStatus = "refresh_failed"
)

// CredentialRecord is the persisted OAuth material for one (user, service) pair.
// Flat columns are authoritative; Settings is the legacy blob kept only until backfilled.
type CredentialRecord struct {
	UserID       string          `json:"user_id"`
	Service      Service         `json:"service"`
	AccessToken  string          `json:"access_token,omitempty"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	Settings     *CredentialBlob `json:"settings_data,omitempty"`
	// RawSettings keeps a settings_data value that did not decode. Stores
	// write it back unchanged so nothing is lost before an operator looks.
	RawSettings   string    `json:"-"`
	SettingsError string    `json:"settings_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasBlob reports whether the record still carries the legacy settings blob.
func (r *CredentialRecord) HasBlob() bool {
	return r != nil && (r.Settings != nil || r.RawSettings != "")
}

// BlobUnreadable reports whether settings_data is present but failed to decode.
func (r *CredentialRecord) BlobUnreadable() bool {
	return r != nil && r.Settings == nil && r.RawSettings != ""
}

// SetSettingsData decodes a settings_data column value. A value that does not
// decode leaves Settings nil and is kept in RawSettings with the reason, so
// the flat columns stay usable.
func (r *CredentialRecord) SetSettingsData(data []byte) {
	r.Settings, r.RawSettings, r.SettingsError = nil, "", ""
	if len(data) == 0 || string(data) == "null" {
		return
	}
	var b CredentialBlob
	if err := json.Unmarshal(data, &b); err != nil {
		r.RawSettings = string(data)
		r.SettingsError = err.Error()
		return
	}
	r.Settings = &b
}

// Status summarises the record for the integration status endpoint.
func (r *CredentialRecord) Status(now time.Time) TokenStatus {
	if r == nil {
		return TokenStatusMissing
	}
	access := r.AccessToken
	expires := r.ExpiresAt
	if r.Settings != nil {
		if access == "" {
			access = r.Settings.AccessToken
		}
		if expires == nil {
			expires = r.Settings.ExpiresAt
		}
	}
	if access == "" {
		if r.RefreshToken == "" && (r.Settings == nil || r.Settings.RefreshToken == "") {
			return TokenStatusMissing
		}
		return TokenStatusExpired
	}
	if expires != nil && !expires.After(now) {
		return TokenStatusExpired
	}
	return TokenStatusValid
}

// CredentialBlob is the legacy JSON shape stored in settings_data.
// Keys it does not understand are preserved across a rewrite.
type CredentialBlob struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Extra        map[string]json.RawMessage
}

// UnmarshalJSON accepts snake_case or camelCase keys and an expiry given as
// RFC 3339, unix seconds or unix milliseconds. When both spellings carry a
// value the snake_case one wins.
func (b *CredentialBlob) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("settings_data: %w", err)
	}

	*b = CredentialBlob{}
	var err error
	if b.AccessToken, err = blobString(raw, "access_token", "accessToken"); err != nil {
		return err
	}
	if b.RefreshToken, err = blobString(raw, "refresh_token", "refreshToken"); err != nil {
		return err
	}
	if b.ExpiresAt, err = blobTime(raw, "expires_at", "expiresAt"); err != nil {
		return err
	}
	if len(raw) > 0 {
		b.Extra = raw
	}
	return nil
}

// blobString takes every alias out of raw and returns the first non-empty one.
func blobString(raw map[string]json.RawMessage, keys ...string) (string, error) {
	var out string
	for _, k := range keys {
		v, ok := raw[k]
		delete(raw, k)
		if !ok || out != "" {
			continue
		}
		if err := decodeOptionalString(v, &out); err != nil {
			return "", fmt.Errorf("settings_data.%s: %w", k, err)
		}
	}
	return out, nil
}

func blobTime(raw map[string]json.RawMessage, keys ...string) (*time.Time, error) {
	var out *time.Time
	for _, k := range keys {
		v, ok := raw[k]
		delete(raw, k)
		if !ok || out != nil {
			continue
		}
		t, err := ParseFlexibleTime(v)
		if err != nil {
			return nil, fmt.Errorf("settings_data.%s: %w", k, err)
		}
		out = t
	}
	return out, nil
}

// MarshalJSON writes the canonical snake_case keys plus any preserved extras.
func (b CredentialBlob) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(b.Extra)+3)
	for k, v := range b.Extra {
		out[k] = v
	}
	if b.AccessToken != "" {
		out["access_token"] = b.AccessToken
	}
	if b.RefreshToken != "" {
		out["refresh_token"] = b.RefreshToken
	}
	if b.ExpiresAt != nil {
		out["expires_at"] = b.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(out)
}

// Empty reports whether the blob carries no token fields.
func (b *CredentialBlob) Empty() bool {
	return b == nil || (b.AccessToken == "" && b.RefreshToken == "" && b.ExpiresAt == nil)
}

func decodeOptionalString(raw json.RawMessage, dst *string) error {
	if string(raw) == "null" {
		*dst = ""
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// ParseFlexibleTime decodes null, an RFC 3339 string, a numeric string, or a
// JSON number. Numbers above 1e12 are treated as milliseconds.
func ParseFlexibleTime(raw json.RawMessage) (*time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` {
		return nil, nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
			t = t.UTC()
			return &t, nil
		}
		s = str
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("unrecognised timestamp %q", s)
	}
	var t time.Time
	if n > 1e12 {
		t = time.UnixMilli(int64(n)).UTC()
	} else {
		t = time.Unix(int64(n), 0).UTC()
	}
	return &t, nil
}
