// Package tenant resolves the isolated org context a request runs in.
package tenant

import "context"

// Store is the identity/org backing store. OrgForUser returns "" with a nil
// error when the user has no membership row.
type Store interface {
	OrgForUser(ctx context.Context, userID string) (string, error)
	UserRoles(ctx context.Context, userID string) ([]string, error)
	FeatureFlags(ctx context.Context, orgID string) (map[string]bool, error)
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve maps a user to their org. Users without an explicit membership are
// their own tenant (single-tenant mode), so resolution only fails when the
// store itself does.
func (r *Resolver) Resolve(ctx context.Context, userID string) (string, error) {
	orgID, err := r.store.OrgForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if orgID != "" {
		return orgID, nil
	}
	return userID, nil
}

// Capabilities loads the user's role set.
func (r *Resolver) Capabilities(ctx context.Context, userID string) ([]string, error) {
	return r.store.UserRoles(ctx, userID)
}

// Flags loads the org's feature flags.
func (r *Resolver) Flags(ctx context.Context, orgID string) (map[string]bool, error) {
	return r.store.FeatureFlags(ctx, orgID)
}
