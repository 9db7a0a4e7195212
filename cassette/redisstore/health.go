package redisstore

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// HealthCheck reports the store's Redis server to healthcheck.New.
type HealthCheck struct {
	name   string
	client redis.UniversalClient
}

// HealthCheck is named "redis" when name is empty.
func (s *Store) HealthCheck(name string) *HealthCheck {
	if name == "" {
		name = "redis"
	}
	return &HealthCheck{name: name, client: s.client}
}

func (h *HealthCheck) HealthChecks() (name string, ready, live func(ctx context.Context) error) {
	return h.name, h.ready, nil
}

func (h *HealthCheck) ready(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%s health check failed on ping: %w", h.name, err)
	}
	return nil
}
