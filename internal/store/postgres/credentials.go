package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

// GetCredential selects the record for (userID, service).
func (s *Store) GetCredential(ctx context.Context, userID string, service models.Service) (*models.CredentialRecord, error) {
	const q = `
SELECT user_id, service, access_token, refresh_token, expires_at, settings_data, created_at, updated_at
FROM integration_credentials WHERE user_id=$1 AND service=$2`
	rec, err := scanCredential(s.Pool.QueryRow(ctx, q, userID, string(service)))
	if isNoRows(err) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get credential", Err: err}
	}
	return rec, nil
}

// SaveCredential upserts on (user_id, service).
func (s *Store) SaveCredential(ctx context.Context, rec *models.CredentialRecord) error {
	if rec == nil {
		return nil
	}
	blob, err := encodeBlob(rec)
	if err != nil {
		return err
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	const q = `
INSERT INTO integration_credentials (user_id, service, access_token, refresh_token, expires_at, settings_data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, service) DO UPDATE SET
  access_token = EXCLUDED.access_token,
  refresh_token = EXCLUDED.refresh_token,
  expires_at = EXCLUDED.expires_at,
  settings_data = EXCLUDED.settings_data,
  updated_at = EXCLUDED.updated_at`
	_, err = s.Pool.Exec(ctx, q, rec.UserID, string(rec.Service), rec.AccessToken, rec.RefreshToken,
		timestamptz(rec.ExpiresAt), blob, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save credential", Err: err}
	}
	return nil
}

// DeleteCredential removes the record; a missing record yields ErrNotFound.
func (s *Store) DeleteCredential(ctx context.Context, userID string, service models.Service) error {
	const q = `DELETE FROM integration_credentials WHERE user_id=$1 AND service=$2`
	tag, err := s.Pool.Exec(ctx, q, userID, string(service))
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete credential", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// ListCredentials returns all records, optionally filtered by service.
func (s *Store) ListCredentials(ctx context.Context, service models.Service) ([]*models.CredentialRecord, error) {
	const q = `
SELECT user_id, service, access_token, refresh_token, expires_at, settings_data, created_at, updated_at
FROM integration_credentials WHERE ($1 = '' OR service = $1)
ORDER BY user_id, service`
	rows, err := s.Pool.Query(ctx, q, string(service))
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
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*models.CredentialRecord, error) {
	var (
		rec       models.CredentialRecord
		service   string
		expiresAt pgtype.Timestamptz
		blob      []byte
	)
	if err := row.Scan(&rec.UserID, &service, &rec.AccessToken, &rec.RefreshToken, &expiresAt, &blob, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Service = models.Service(service)
	rec.ExpiresAt = timePtr(expiresAt)
	rec.SetSettingsData(blob)
	return &rec, nil
}

// encodeBlob keeps an unreadable blob byte for byte.
func encodeBlob(rec *models.CredentialRecord) ([]byte, error) {
	if rec.BlobUnreadable() {
		return []byte(rec.RawSettings), nil
	}
	if rec.Settings == nil {
		return nil, nil
	}
	return json.Marshal(rec.Settings)
}
