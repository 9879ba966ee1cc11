// Package ratelimit counts per-key requests in fixed windows.
package ratelimit

import (
	"context"
	"time"
)

// DefaultWindow is the issue-creation window.
const DefaultWindow = 24 * time.Hour

type Decision struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
