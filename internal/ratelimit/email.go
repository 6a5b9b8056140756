package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docflowhq/docflow/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyEmailProvider = "email:send:provider:%s"

// EmailLimiter throttles outbound email per provider so a fast queue cannot
// exceed a provider's send quota. Without redis it degrades to allow-all;
// the providers' own parallelism caps then remain the only brake.
type EmailLimiter struct {
	enabled bool

	bucket *TokenBucket
	rates  map[string]int
	window time.Duration
}

func NewEmailLimiter(cfg config.Config, client *redis.Client) *EmailLimiter {
	if client == nil || len(cfg.Email.Rates) == 0 {
		return &EmailLimiter{}
	}
	window := cfg.Email.RateWindow
	if window <= 0 {
		window = time.Second
	}
	return &EmailLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rates:   cfg.Email.Rates,
		window:  window,
	}
}

func (l *EmailLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow consumes one send slot for the provider. Unknown providers are not
// throttled.
func (l *EmailLimiter) Allow(ctx context.Context, provider string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	limit, ok := l.rates[provider]
	if !ok || limit <= 0 {
		return Result{Allowed: true}, nil
	}

	rate := float64(limit) / l.window.Seconds()
	return l.bucket.Allow(ctx, fmt.Sprintf(keyEmailProvider, provider), rate, limit)
}
