package telemetry

import (
	"context"
	"testing"
	"time"
)

// RedisGauge's Publish/Read/PublishCompletion all require a live Redis
// connection to exercise meaningfully; what's unit-testable without one is
// the nil-receiver and nil-client degrade paths used when the process
// started without EXECD_ENABLE_REDIS_GAUGE or Redis was unreachable.

func TestRedisGaugeNilReceiverIsSafe(t *testing.T) {
	var g *RedisGauge
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	g.Publish(ctx, 5)
	if _, ok := g.Read(ctx); ok {
		t.Fatal("expected Read on a nil gauge to report ok=false")
	}
	g.PublishCompletion(ctx, StageDurations{})
}

func TestRedisGaugeNilClientIsSafe(t *testing.T) {
	g := NewRedisGauge(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	g.Publish(ctx, 5)
	if _, ok := g.Read(ctx); ok {
		t.Fatal("expected Read with no client to report ok=false")
	}
}
