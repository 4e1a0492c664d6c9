package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

func TestStateSigner_RoundTrip(t *testing.T) {
	s := NewStateSigner("state-secret", 5*time.Minute)
	now := fixedNow
	s.now = func() time.Time { return now }

	raw, err := s.Sign("user-1", models.ServiceFortnox)
	require.NoError(t, err)

	userID, err := s.Verify(raw, models.ServiceFortnox)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	var verr *errors.ErrValidation
	_, err = s.Verify(raw, models.ServiceGoogle)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "state", verr.Field)

	now = fixedNow.Add(6 * time.Minute)
	_, err = s.Verify(raw, models.ServiceFortnox)
	require.ErrorAs(t, err, &verr)
}

func TestStateSigner_RejectsForeignSignature(t *testing.T) {
	a := NewStateSigner("secret-a", 0)
	b := NewStateSigner("secret-b", 0)

	raw, err := a.Sign("user-1", models.ServiceGoogle)
	require.NoError(t, err)

	_, err = b.Verify(raw, models.ServiceGoogle)
	var verr *errors.ErrValidation
	require.ErrorAs(t, err, &verr)

	_, err = b.Verify("", models.ServiceGoogle)
	require.ErrorAs(t, err, &verr)
}

func TestStateSigner_MissingSecret(t *testing.T) {
	s := NewStateSigner("", 0)
	_, err := s.Sign("u", models.ServiceFortnox)
	var missing *errors.ErrMissingEnv
	require.ErrorAs(t, err, &missing)
}
