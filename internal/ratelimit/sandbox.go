package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/devflow-ai/devflow/internal/errkind"
)

// SandboxCreation rate-limits sandbox session creation with a token
// bucket, tolerating bursts while backing off under sustained load. The
// caller is expected to retry with its own exponential backoff per
// spec.md §4.B; this limiter's job is only to surface the distinct
// "rate limited" error kind.
type SandboxCreation struct {
	limiter *rate.Limiter
}

// NewSandboxCreation constructs a limiter permitting rps sustained
// creations per second with a burst capacity of burst.
func NewSandboxCreation(rps float64, burst int) *SandboxCreation {
	return &SandboxCreation{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reserves one token immediately, returning errkind.RateLimited if
// none is available.
func (s *SandboxCreation) Allow() error {
	if !s.limiter.Allow() {
		return errkind.RateLimited
	}
	return nil
}

// Wait blocks until a token is available or ctx is cancelled.
func (s *SandboxCreation) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}
