package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more event for key fits into the window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
}
