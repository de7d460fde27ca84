package permissions

import (
	"context"

	"github.com/morezero/app-gateway/pkg/db"
	"github.com/morezero/app-gateway/pkg/dispatcher"
)

// Store grants permission groups recorded in the permission_grants table.
type Store struct {
	repo *db.PermissionRepository
}

// NewStore creates a Store over repo.
func NewStore(repo *db.PermissionRepository) *Store {
	return &Store{repo: repo}
}

// CheckPermission looks the grant up in the database.
func (s *Store) CheckPermission(ctx context.Context, caller dispatcher.RequestContext, group string) (bool, error) {
	if caller.AppID == "" {
		return false, nil
	}
	return s.repo.HasGrant(ctx, caller.AppID, group)
}
