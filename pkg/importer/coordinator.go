package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// markerTTL bounds how long a stale marker can block imports if the
// process dies without cleaning up
const markerTTL = 24 * time.Hour

// Coordinator tracks in-progress imports in redis
type Coordinator struct {
	redis *redis.Client
}

// NewCoordinator creates a coordinator on the given redis client
func NewCoordinator(client *redis.Client) *Coordinator {
	return &Coordinator{redis: client}
}

func progressKey(domain, datasourceID string) string {
	return fmt.Sprintf("%s_%s_import_task_id", domain, datasourceID)
}

// TaskID returns the running import's task handle for a datasource, or
// empty when none is marked
func (c *Coordinator) TaskID(ctx context.Context, domain, datasourceID string) (string, error) {
	taskID, err := c.redis.Get(ctx, progressKey(domain, datasourceID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read import marker: %w", err)
	}
	return taskID, nil
}

// MarkInProgress records a queued import's task handle
func (c *Coordinator) MarkInProgress(ctx context.Context, domain, datasourceID, taskID string) error {
	if err := c.redis.Set(ctx, progressKey(domain, datasourceID), taskID, markerTTL).Err(); err != nil {
		return fmt.Errorf("failed to set import marker: %w", err)
	}
	return nil
}

// MarkComplete clears a datasource's import marker
func (c *Coordinator) MarkComplete(ctx context.Context, domain, datasourceID string) error {
	if err := c.redis.Del(ctx, progressKey(domain, datasourceID)).Err(); err != nil {
		return fmt.Errorf("failed to clear import marker: %w", err)
	}
	return nil
}
