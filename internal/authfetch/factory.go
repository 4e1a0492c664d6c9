package authfetch

import (
	"fmt"

	"github.com/crmhub/crmhub/internal/models"
)

// Factory builds per-action sessions that share a loader, refreshers and options.
type Factory struct {
	loader     TokenLoader
	refreshers map[models.Service]TokenRefresher
	opts       []SessionOption
}

// NewFactory creates a Factory.
func NewFactory(loader TokenLoader, refreshers map[models.Service]TokenRefresher, opts ...SessionOption) *Factory {
	return &Factory{loader: loader, refreshers: refreshers, opts: opts}
}

// Session starts a new session for the user's action.
func (f *Factory) Session(userID string, service models.Service, opts ...SessionOption) (*Session, error) {
	r, ok := f.refreshers[service]
	if !ok {
		return nil, fmt.Errorf("no refresher registered for %s", service)
	}
	all := make([]SessionOption, 0, len(f.opts)+len(opts))
	all = append(all, f.opts...)
	all = append(all, opts...)
	return NewSession(userID, service, f.loader, r, all...), nil
}
