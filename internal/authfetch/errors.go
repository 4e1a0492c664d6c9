package authfetch

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/crmhub/crmhub/internal/models"
)

// ReconnectRequiredError ends a session that could not obtain a working
// token. Callers surface it as 401 with TokenStatus so the client can prompt
// the user to reconnect.
type ReconnectRequiredError struct {
	Service models.Service
	Status  models.TokenStatus
	Err     error
}

func (e *ReconnectRequiredError) Error() string {
	msg := fmt.Sprintf("please reconnect to %s", e.Service)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReconnectRequiredError) Unwrap() error {
	return e.Err
}

// UnauthorizedFunc reports whether a response means the access token was refused.
type UnauthorizedFunc func(statusCode int, body []byte) bool

var fortnoxInvalidTokenCodes = map[int64]bool{
	2000310: true,
	2000311: true,
	2001101: true,
}

// FortnoxUnauthorized treats 401 and the ErrorInformation codes for an invalid
// or expired token as unauthorized.
func FortnoxUnauthorized(statusCode int, body []byte) bool {
	if statusCode == http.StatusUnauthorized {
		return true
	}
	if statusCode < 400 || len(body) == 0 {
		return false
	}
	var payload struct {
		ErrorInformation struct {
			Code json.Number `json:"code"`
		} `json:"ErrorInformation"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return false
	}
	code, err := payload.ErrorInformation.Code.Int64()
	return err == nil && fortnoxInvalidTokenCodes[code]
}

// GoogleUnauthorized treats 401 and error.status UNAUTHENTICATED as unauthorized.
func GoogleUnauthorized(statusCode int, body []byte) bool {
	if statusCode == http.StatusUnauthorized {
		return true
	}
	if statusCode < 400 || len(body) == 0 {
		return false
	}
	var payload struct {
		Error struct {
			Status string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return false
	}
	return payload.Error.Status == "UNAUTHENTICATED"
}

// UnauthorizedFor returns the detector for a service.
func UnauthorizedFor(service models.Service) UnauthorizedFunc {
	switch service {
	case models.ServiceFortnox:
		return FortnoxUnauthorized
	case models.ServiceGoogle:
		return GoogleUnauthorized
	default:
		return func(statusCode int, _ []byte) bool { return statusCode == http.StatusUnauthorized }
	}
}
