package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type HealthCheck struct {
	Name string
	DB   *sqlx.DB
}

func (h *HealthCheck) HealthChecks() (name string, ready, live func(ctx context.Context) error) {
	return h.Name, h.ready, nil
}

// ready pings the database and runs a trivial query, which catches a pool that can connect
// but not execute.
func (h *HealthCheck) ready(ctx context.Context) error {
	if err := h.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%s health check failed on ping: %w", h.Name, err)
	}
	var one int
	if err := h.DB.GetContext(ctx, &one, `SELECT 1`); err != nil {
		return fmt.Errorf("%s health check failed on select: %w", h.Name, err)
	}
	return nil
}
