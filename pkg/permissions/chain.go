package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/app-gateway/pkg/dispatcher"
)

const chainLogPrefix = "permissions:chain"

// Chain grants when any of its checkers grants.
type Chain []dispatcher.PermissionChecker

// CheckPermission asks each checker in order. Checker errors are logged and skipped;
// if no checker grants and every checker failed, the joined errors are returned.
func (c Chain) CheckPermission(ctx context.Context, caller dispatcher.RequestContext, group string) (bool, error) {
	var errs []error
	for i, checker := range c {
		ok, err := checker.CheckPermission(ctx, caller, group)
		if err != nil {
			slog.Debug(fmt.Sprintf("%s - checker %d app=%s group=%s: %v", chainLogPrefix, i, caller.AppID, group, err))
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	if len(c) > 0 && len(errs) == len(c) {
		return false, errors.Join(errs...)
	}
	return false, nil
}
