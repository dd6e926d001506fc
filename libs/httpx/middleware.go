package httpx

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

type StackOptions struct {
	BodyLimit      string
	RequestTimeout time.Duration
	CORSOrigins    []string
	// PerMinute enables the in-process limiter when no shared limiter is wired.
	PerMinute int
}

// Stack returns the common middleware every service mounts, in order.
func Stack(opts StackOptions) []echo.MiddlewareFunc {
	if opts.BodyLimit == "" {
		opts.BodyLimit = "1M"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	stack := []echo.MiddlewareFunc{
		middleware.Recover(),
		RequestID(),
		middleware.BodyLimit(opts.BodyLimit),
		middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{Timeout: opts.RequestTimeout}),
	}
	if len(opts.CORSOrigins) > 0 {
		stack = append(stack, middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: opts.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, RequestIDHeader, "Idempotency-Key"},
			MaxAge:       int((10 * time.Minute).Seconds()),
		}))
	}
	if opts.PerMinute > 0 {
		stack = append(stack, middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(float64(opts.PerMinute) / 60),
				Burst:     opts.PerMinute,
				ExpiresIn: 3 * time.Minute,
			},
		)))
	}
	return stack
}
