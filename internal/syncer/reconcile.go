// Package syncer mirrors provider customers and invoices into local storage
// without duplicating rows or clobbering locally corrected data.
package syncer

import (
	"context"
	stderrors "errors"
	"regexp"
	"strings"

	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/store"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks like local@domain.tld.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Action is what reconciliation did with one incoming record.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// MergeCustomer copies incoming provider fields onto local. Provider values
// win, except that a blank or invalid incoming email never replaces a valid
// local one. It reports whether local changed.
func MergeCustomer(local *models.Customer, incoming models.Customer) bool {
	changed := false
	set := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}

	if incoming.CustomerNumber != "" {
		set(&local.CustomerNumber, incoming.CustomerNumber)
	}
	set(&local.Name, incoming.Name)
	set(&local.Phone, incoming.Phone)
	set(&local.OrgNumber, incoming.OrgNumber)
	set(&local.Address, incoming.Address)
	set(&local.ZipCode, incoming.ZipCode)
	set(&local.City, incoming.City)
	set(&local.Country, incoming.Country)

	switch {
	case ValidEmail(incoming.Email):
		set(&local.Email, incoming.Email)
	case ValidEmail(local.Email):
		// keep the valid local value
	default:
		set(&local.Email, "")
	}
	return changed
}

// Reconciler upserts one incoming customer at a time.
type Reconciler struct {
	store store.CustomerStore
}

// NewReconciler creates a Reconciler.
func NewReconciler(s store.CustomerStore) *Reconciler {
	return &Reconciler{store: s}
}

// Reconcile matches incoming by customer number, then by exact name against a
// local row that has no number yet, and creates a row when neither matches.
func (r *Reconciler) Reconcile(ctx context.Context, incoming models.Customer) (Action, *models.Customer, error) {
	incoming.CustomerNumber = strings.TrimSpace(incoming.CustomerNumber)
	incoming.Name = strings.TrimSpace(incoming.Name)
	incoming.Email = strings.TrimSpace(incoming.Email)
	if incoming.CustomerNumber == "" && incoming.Name == "" {
		return "", nil, &errors.ErrValidation{Field: "customer", Message: "has neither number nor name"}
	}

	local, err := r.match(ctx, incoming)
	if err != nil {
		return "", nil, err
	}

	if local == nil {
		created := incoming
		created.ID = ""
		if !ValidEmail(created.Email) {
			created.Email = ""
		}
		if err := r.store.SaveCustomer(ctx, &created); err != nil {
			return "", nil, err
		}
		return ActionCreated, &created, nil
	}

	if !MergeCustomer(local, incoming) {
		return ActionUnchanged, local, nil
	}
	if err := r.store.SaveCustomer(ctx, local); err != nil {
		return "", nil, err
	}
	return ActionUpdated, local, nil
}

func (r *Reconciler) match(ctx context.Context, incoming models.Customer) (*models.Customer, error) {
	if incoming.CustomerNumber != "" {
		c, err := r.store.FindCustomerByNumber(ctx, incoming.WorkspaceID, incoming.CustomerNumber)
		if err == nil {
			return c, nil
		}
		if !stderrors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
	}
	if incoming.Name != "" {
		c, err := r.store.FindUnnumberedCustomerByName(ctx, incoming.WorkspaceID, incoming.Name)
		if err == nil {
			return c, nil
		}
		if !stderrors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}
