package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
)

const permissionsLogPrefix = "db:permissions"

// PermissionRepository reads and writes app permission grants.
type PermissionRepository struct {
	q Querier
}

// NewPermissionRepository creates a new PermissionRepository.
func NewPermissionRepository(q Querier) *PermissionRepository {
	return &PermissionRepository{q: q}
}

// HasGrant reports whether appID holds group.
func (r *PermissionRepository) HasGrant(ctx context.Context, appID, group string) (bool, error) {
	var one int
	err := r.q.QueryRow(ctx,
		`SELECT 1 FROM permission_grants WHERE app_id = $1 AND permission_group = $2 LIMIT 1`,
		appID, group).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s - HasGrant app=%s group=%s: %w", permissionsLogPrefix, appID, group, err)
	}
	return true, nil
}

// Grants returns the groups held by appID, sorted.
func (r *PermissionRepository) Grants(ctx context.Context, appID string) ([]string, error) {
	rows, err := r.q.Query(ctx,
		`SELECT permission_group FROM permission_grants WHERE app_id = $1 ORDER BY permission_group`, appID)
	if err != nil {
		return nil, fmt.Errorf("%s - Grants app=%s: %w", permissionsLogPrefix, appID, err)
	}
	groups, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - Grants scan app=%s: %w", permissionsLogPrefix, appID, err)
	}
	return groups, nil
}

// Grant gives appID the group. Granting twice is a no-op.
func (r *PermissionRepository) Grant(ctx context.Context, appID, group string) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO permission_grants (app_id, permission_group) VALUES ($1, $2)
		 ON CONFLICT (app_id, permission_group) DO NOTHING`, appID, group)
	if err != nil {
		return fmt.Errorf("%s - Grant app=%s group=%s: %w", permissionsLogPrefix, appID, group, err)
	}
	return nil
}

// Revoke removes the group from appID and reports whether a grant existed.
func (r *PermissionRepository) Revoke(ctx context.Context, appID, group string) (bool, error) {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM permission_grants WHERE app_id = $1 AND permission_group = $2`, appID, group)
	if err != nil {
		return false, fmt.Errorf("%s - Revoke app=%s group=%s: %w", permissionsLogPrefix, appID, group, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SeedGrants grants every app its listed groups and returns how many grant statements ran.
func (r *PermissionRepository) SeedGrants(ctx context.Context, grants map[string][]string) (int, error) {
	apps := make([]string, 0, len(grants))
	for app := range grants {
		apps = append(apps, app)
	}
	sort.Strings(apps)

	n := 0
	for _, app := range apps {
		for _, group := range grants[app] {
			if err := r.Grant(ctx, app, group); err != nil {
				return n, err
			}
			n++
		}
	}
	slog.Info(fmt.Sprintf("%s - Seeded %d grants for %d apps", permissionsLogPrefix, n, len(apps)))
	return n, nil
}
