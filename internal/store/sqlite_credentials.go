package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

const credentialColumns = `user_id, service, access_token, refresh_token, expires_at, settings_data, created_at, updated_at`

// GetCredential loads the record for (userID, service).
func (s *SQLiteStore) GetCredential(ctx context.Context, userID string, service models.Service) (*models.CredentialRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+`
		FROM integration_credentials WHERE user_id = ? AND service = ?
	`, userID, string(service))

	rec, err := scanCredential(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get credential", Err: err}
	}
	s.warnUnreadableBlob(ctx, rec)
	return rec, nil
}

// SaveCredential inserts or replaces the record for (UserID, Service).
// A nil Settings clears the legacy blob column unless RawSettings holds an
// unreadable value.
func (s *SQLiteStore) SaveCredential(ctx context.Context, rec *models.CredentialRecord) error {
	if rec == nil {
		return nil
	}
	blob, err := encodeBlob(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integration_credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, service) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			settings_data = excluded.settings_data,
			updated_at = excluded.updated_at
	`, rec.UserID, string(rec.Service), rec.AccessToken, rec.RefreshToken, nullTime(rec.ExpiresAt), blob, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save credential", Err: err}
	}
	return nil
}

// DeleteCredential removes the record. Deleting a missing record returns ErrNotFound.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, userID string, service models.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM integration_credentials WHERE user_id = ? AND service = ?`, userID, string(service))
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete credential", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// ListCredentials returns records ordered by user and service.
func (s *SQLiteStore) ListCredentials(ctx context.Context, service models.Service) ([]*models.CredentialRecord, error) {
	query := `SELECT ` + credentialColumns + ` FROM integration_credentials`
	var args []interface{}
	if service != "" {
		query += ` WHERE service = ?`
		args = append(args, string(service))
	}
	query += ` ORDER BY user_id, service`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list credentials", Err: err}
	}
	defer rows.Close()

	var out []*models.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan credential", Err: err}
		}
		s.warnUnreadableBlob(ctx, rec)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list credentials", Err: err}
	}
	return out, nil
}

func (s *SQLiteStore) warnUnreadableBlob(ctx context.Context, rec *models.CredentialRecord) {
	if rec.BlobUnreadable() {
		s.logger.WarnWithContext(ctx, "unreadable settings_data ignored",
			"user_id", rec.UserID, "service", string(rec.Service), "error", rec.SettingsError)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredential(row rowScanner) (*models.CredentialRecord, error) {
	var (
		rec       models.CredentialRecord
		service   string
		expiresAt sql.NullTime
		blob      sql.NullString
	)
	if err := row.Scan(&rec.UserID, &service, &rec.AccessToken, &rec.RefreshToken, &expiresAt, &blob, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Service = models.Service(service)
	rec.ExpiresAt = timePtr(expiresAt)
	if blob.Valid {
		rec.SetSettingsData([]byte(blob.String))
	}
	return &rec, nil
}

// encodeBlob returns the settings_data value to write. An unreadable blob is
// written back as it was read.
func encodeBlob(rec *models.CredentialRecord) (interface{}, error) {
	if rec.BlobUnreadable() {
		return rec.RawSettings, nil
	}
	if rec.Settings == nil {
		return nil, nil
	}
	data, err := json.Marshal(rec.Settings)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
