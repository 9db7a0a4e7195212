// Package recontext derives contexts that keep the parent's values, the o11y provider
// among them, but drop its deadline and cancellation. A fresh bound is always required.
package recontext

import (
	"context"
	"time"
)

// WithNewDeadline ignores any cancellation or deadline of parent and applies deadline.
func WithNewDeadline(parent context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	return context.WithDeadline(context.WithoutCancel(parent), deadline)
}

// WithNewTimeout ignores any cancellation or deadline of parent and applies timeout.
func WithNewTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
