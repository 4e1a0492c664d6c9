package credentials

import (
	"context"
	"fmt"

	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/store"
)

// BackfillChange describes one record the backfill touched.
type BackfillChange struct {
	UserID  string
	Service models.Service
	// Filled lists the flat columns copied from the blob.
	Filled []string
	// Dropped counts unrecognised blob keys discarded with the blob.
	Dropped int
	// Error is set when the blob could not be decoded; such records are left as is.
	Error string
}

// BackfillReport summarises a backfill run.
type BackfillReport struct {
	Scanned    int
	Migrated   int
	Unreadable int
	DryRun     bool
	Changes    []BackfillChange
}

// Backfiller moves legacy settings_data blobs into the flat columns.
type Backfiller struct {
	store  store.CredentialStore
	logger *logging.Logger
}

// NewBackfiller creates a Backfiller. A nil logger discards output.
func NewBackfiller(s store.CredentialStore, logger *logging.Logger) *Backfiller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Backfiller{store: s, logger: logger}
}

// Run copies every blob field into an empty flat column and clears the blob.
// Non-empty flat columns are never overwritten, so a second run is a no-op.
// Blobs that do not decode are reported and left in place.
// service "" covers all integrations.
func (b *Backfiller) Run(ctx context.Context, service models.Service, dryRun bool) (*BackfillReport, error) {
	records, err := b.store.ListCredentials(ctx, service)
	if err != nil {
		return nil, err
	}

	report := &BackfillReport{Scanned: len(records), DryRun: dryRun}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !rec.HasBlob() {
			continue
		}
		if rec.BlobUnreadable() {
			report.Unreadable++
			report.Changes = append(report.Changes, BackfillChange{
				UserID: rec.UserID, Service: rec.Service, Error: rec.SettingsError,
			})
			b.logger.WarnWithContext(ctx, "backfill skipped unreadable settings_data",
				"user_id", rec.UserID, "service", string(rec.Service), "error", rec.SettingsError)
			continue
		}

		change := BackfillChange{UserID: rec.UserID, Service: rec.Service, Dropped: len(rec.Settings.Extra)}
		blob := rec.Settings
		if rec.AccessToken == "" && blob.AccessToken != "" {
			rec.AccessToken = blob.AccessToken
			change.Filled = append(change.Filled, "access_token")
		}
		if rec.RefreshToken == "" && blob.RefreshToken != "" {
			rec.RefreshToken = blob.RefreshToken
			change.Filled = append(change.Filled, "refresh_token")
		}
		if rec.ExpiresAt == nil && blob.ExpiresAt != nil {
			rec.ExpiresAt = blob.ExpiresAt
			change.Filled = append(change.Filled, "expires_at")
		}
		rec.Settings = nil

		report.Changes = append(report.Changes, change)
		report.Migrated++

		if dryRun {
			b.logger.InfoWithContext(ctx, "backfill dry run",
				"user_id", rec.UserID, "service", string(rec.Service), "filled", len(change.Filled))
			continue
		}
		if err := b.store.SaveCredential(ctx, rec); err != nil {
			return report, fmt.Errorf("backfill %s/%s: %w", rec.UserID, rec.Service, err)
		}
		b.logger.InfoWithContext(ctx, "credential backfilled",
			"user_id", rec.UserID, "service", string(rec.Service), "filled", len(change.Filled))
	}
	return report, nil
}
