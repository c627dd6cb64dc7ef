package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	apperrors "github.com/nijaru/yt-mentions/errors"
	"github.com/nijaru/yt-mentions/utils"
	"golang.org/x/time/rate"
)

func Chain(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			handler = middlewares[i](handler)
		}
	}
	return handler
}

// RateLimiter rejects requests once the token bucket is empty.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows burst requests at once, refilled one token per interval.
func NewRateLimiter(interval time.Duration, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow() {
			GetLogger(r.Context()).Warn("Rate limit exceeded")
			utils.RespondWithError(w, apperrors.RateLimitExceeded("RateLimiter"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err := apperrors.Internal("Recovery", fmt.Errorf("%v", rec), "Internal server error")
				GetLogger(r.Context()).WithError(err).
					WithField("stack", string(debug.Stack())).
					Error("Panic recovered")
				utils.RespondWithError(w, err)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Timeout bounds the request context. Long searches rely on the server write
// timeout being at least as long.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
