package bootstrap

import (
	"context"
	"fmt"

	"inbox_server/config"
	"inbox_server/pkg/logger"
)

// RunRenew re-registers the Gmail watch for every stored credential once and
// returns an error when any user failed.
func RunRenew(ctx context.Context, cfg *config.Config) error {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := deps.WatchService.RenewAll(ctx)
	if err != nil {
		return err
	}
	for email, ferr := range report.Failed {
		logger.WithField("email", email).WithError(ferr).Warn("[RunRenew] renewal failed")
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("watch renewal failed for %d of %d users", len(report.Failed), report.Total)
	}
	logger.Info("[RunRenew] renewed %d watches", report.Renewed)
	return nil
}
