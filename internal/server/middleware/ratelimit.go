package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/dashbite/apigw/internal/model"
)

// RateLimitByIP limits requests per client IP to requestsPerMinute in fixed
// one-minute windows, regardless of API key. counter holds the state; pass
// nil to use httprate's built-in store.
func RateLimitByIP(requestsPerMinute int, counter httprate.LimitCounter) func(http.Handler) http.Handler {
	opts := []httprate.Option{
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, model.ErrTypeIPRateLimited,
				"Too many requests from this address", nil)
		}),
	}
	if counter != nil {
		opts = append(opts, httprate.WithLimitCounter(counter))
	}
	return httprate.Limit(requestsPerMinute, time.Minute, opts...)
}
