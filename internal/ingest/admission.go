package ingest

import (
	"context"
	"net/http"

	"github.com/krishnamouli8/vantage/pkg/apperror"
	"github.com/krishnamouli8/vantage/pkg/ratelimit"
)

// Admission wraps a ratelimit.Limiter with the ingest-specific identity
// rule: X-API-Key when auth is enabled, else remote address. A whole batch
// drains exactly one token regardless of its sample count, and the check
// and drain happen atomically so a batch is never partially rejected.
type Admission struct {
	limiter     ratelimit.Limiter
	authEnabled bool
}

// NewAdmission wraps limiter (nil disables admission control entirely).
func NewAdmission(limiter ratelimit.Limiter, authEnabled bool) *Admission {
	return &Admission{limiter: limiter, authEnabled: authEnabled}
}

// Identity extracts the admission-control key for r.
func (a *Admission) Identity(r *http.Request) string {
	if a.authEnabled {
		if key := r.Header.Get("X-API-Key"); key != "" {
			return key
		}
	}
	return r.RemoteAddr
}

// Allow checks and drains one token for identity. Returns apperror.ErrOverloaded
// when the bucket is empty.
func (a *Admission) Allow(ctx context.Context, identity string) error {
	if a.limiter == nil {
		return nil
	}

	ok, err := a.limiter.Allow(ctx, identity)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "rate limiter failure")
	}
	if !ok {
		return apperror.ErrOverloaded
	}
	return nil
}

// RetryAfterSeconds returns the seconds a rejected caller should wait,
// derived from the limiter's reported reset time when available.
func (a *Admission) RetryAfterSeconds(ctx context.Context, identity string) int {
	if a.limiter == nil {
		return 60
	}
	info, err := a.limiter.GetInfo(ctx, identity)
	if err != nil || info == nil {
		return 60
	}
	secs := int(info.RetryAfter.Seconds())
	if secs <= 0 {
		secs = 60
	}
	return secs
}
