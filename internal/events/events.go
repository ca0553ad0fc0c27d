package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Orochidara23000/Game-Downloader/internal/download"
	"github.com/Orochidara23000/Game-Downloader/internal/logger"
)

const (
	// Pub/sub channels: one firehose plus a per-app channel.
	channelAll       = "downloads:events"
	channelPerAppFmt = "downloads:events:%s"

	publishTimeout = 2 * time.Second
)

// Publisher pushes job snapshots to Redis pub/sub. The engine only emits
// events; whoever subscribes owns delivery and retention.
type Publisher struct {
	client *redis.Client
	log    *logger.Logger
}

// NewPublisher connects to Redis at redisURL and verifies the connection.
func NewPublisher(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Publisher{
		client: client,
		log:    logger.Default().WithComponent("events"),
	}, nil
}

// Client returns the underlying Redis client, e.g. for health checks.
func (p *Publisher) Client() *redis.Client {
	return p.client
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// JobUpdated implements download.Notifier. Publish failures are logged and
// dropped; a slow or absent sink must never stall a supervisor.
func (p *Publisher) JobUpdated(snap download.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		p.log.Error(context.Background(), "failed to marshal job event", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, channelAll, data).Err(); err != nil {
		p.log.Warn(ctx, "failed to publish job event", map[string]interface{}{
			"app_id": snap.AppID,
			"error":  err.Error(),
		})
		return
	}
	_ = p.client.Publish(ctx, fmt.Sprintf(channelPerAppFmt, snap.AppID), data).Err()
}
