package health

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/webrelay/pkg/attachments"
	"mercator-hq/webrelay/pkg/providers"
)

// BackendCheck reports an adapter unhealthy after repeated upstream
// failures or when its last credential refresh failed. A credential that is
// merely expired is healthy: the next request refreshes it.
func BackendCheck(a providers.Adapter) CheckFunc {
	return func(context.Context) error {
		if err := a.Credential().LastError(); err != nil {
			return fmt.Errorf("credential refresh failed: %w", err)
		}
		if !a.IsHealthy() {
			return errors.New("backend is failing requests")
		}
		return nil
	}
}

// StoreCheck reports the attachment record store unhealthy when a lookup
// fails.
func StoreCheck(store attachments.Store) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := store.Get(ctx, "health", "0"); err != nil {
			return fmt.Errorf("attachment store: %w", err)
		}
		return nil
	}
}

// RegisterBackends adds an optional "backend:<name>" check per adapter.
func (c *Checker) RegisterBackends(adapters []providers.Adapter) {
	for _, a := range adapters {
		c.RegisterOptional("backend:"+a.Name(), BackendCheck(a))
	}
}
