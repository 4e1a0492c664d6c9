package credentials

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
)

const stateIssuer = "crmhub-oauth"

type stateClaims struct {
	Service string `json:"svc"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies the OAuth state parameter so the callback
// can recover the user without a server-side session.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner creates a signer. ttl <= 0 means ten minutes.
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns an HS256 token binding userID to service.
func (s *StateSigner) Sign(userID string, service models.Service) (string, error) {
	if len(s.secret) == 0 {
		return "", &errors.ErrMissingEnv{Names: []string{"integrations.state_secret"}}
	}
	now := s.now()
	claims := stateClaims{
		Service: string(service),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks signature, expiry and service and returns the user ID.
func (s *StateSigner) Verify(raw string, service models.Service) (string, error) {
	if len(s.secret) == 0 {
		return "", &errors.ErrMissingEnv{Names: []string{"integrations.state_secret"}}
	}
	if raw == "" {
		return "", &errors.ErrValidation{Field: "state", Message: "is required"}
	}

	var claims stateClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", &errors.ErrValidation{Field: "state", Message: fmt.Sprintf("invalid or expired: %v", err)}
	}
	if claims.Service != string(service) {
		return "", &errors.ErrValidation{Field: "state", Message: "was issued for another integration"}
	}
	if claims.Subject == "" {
		return "", &errors.ErrValidation{Field: "state", Message: "has no subject"}
	}
	return claims.Subject, nil
}
