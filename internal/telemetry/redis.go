package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redisutil "github.com/coderunner/execd/utils/redis"
)

const activeSessionsKey = "execd:active_sessions"

// RedisGauge publishes the recorder's live active-session count to a
// shared Redis key, so a cross-process view of "how many sessions are
// connected right now" survives a single instance's restart. This is
// additive to the in-memory Snapshot(), which remains authoritative for
// the process it runs in.
type RedisGauge struct {
	client *redisutil.RedisClient
	logger *slog.Logger
}

// NewRedisGauge wraps an already-connected Redis client.
func NewRedisGauge(client *redisutil.RedisClient, logger *slog.Logger) *RedisGauge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGauge{client: client, logger: logger}
}

// Publish writes the current active-session count. Call periodically
// (e.g. alongside the pool sweeper) or on every SessionConnected /
// SessionDisconnected transition.
func (g *RedisGauge) Publish(ctx context.Context, count int) {
	if g == nil || g.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := g.client.Client().Set(ctx, activeSessionsKey, count, 5*time.Minute).Err(); err != nil {
		g.logger.Warn("failed to publish active-session gauge to redis", slog.String("error", err.Error()))
	}
}

// Read fetches the last published active-session count, for a
// multi-instance admin view. Returns ok=false if the key has expired or
// Redis is unreachable; the error is logged, not returned, matching this
// package's telemetry-failures-never-fatal policy.
func (g *RedisGauge) Read(ctx context.Context) (int, bool) {
	if g == nil || g.client == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	val, err := g.client.Client().Get(ctx, activeSessionsKey).Int()
	if err != nil {
		if err != goredis.Nil {
			g.logger.Warn("failed to read active-session gauge from redis", slog.String("error", err.Error()))
		}
		return 0, false
	}
	return val, true
}

// completedExecutionsStream is the Redis Stream completed-job events are
// published to, mirroring the XAdd-based event publication pattern used
// elsewhere in this codebase for cross-service notification.
const completedExecutionsStream = "execd:completed_executions"

// PublishCompletion pushes one completed job's summary onto a Redis
// Stream so an external consumer (e.g. a dashboard or audit sink) can
// react without polling the admin HTTP surface.
func (g *RedisGauge) PublishCompletion(ctx context.Context, sd StageDurations) {
	if g == nil || g.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := g.client.Client().XAdd(ctx, &goredis.XAddArgs{
		Stream: completedExecutionsStream,
		Values: map[string]interface{}{
			"session":  sd.SessionID,
			"language": sd.Language,
			"outcome":  sd.Outcome,
			"totalMs":  fmt.Sprintf("%.3f", float64(sd.Total.Microseconds())/1000.0),
		},
	}).Err()
	if err != nil {
		g.logger.Warn("failed to publish completed-execution event",
			slog.String("error", err.Error()), slog.String("session", sd.SessionID))
	}
}
