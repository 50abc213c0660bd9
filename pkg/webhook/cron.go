package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hq-analytics/hqbridge/pkg/observability"
)

const purgeTimeout = time.Minute

// ScheduleTokenCleanup registers an hourly purge of expired and revoked
// tokens on the given cron scheduler
func ScheduleTokenCleanup(c *cron.Cron, tokens *TokenStore, log *observability.Logger) error {
	_, err := c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()

		n, err := tokens.PurgeExpired(ctx)
		if err != nil {
			log.WithError(err).Error("token purge failed")
			return
		}
		if n > 0 {
			log.WithField("purged", n).Info("purged expired webhook tokens")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule token cleanup: %w", err)
	}
	return nil
}
