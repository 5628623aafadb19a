package middleware

import (
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned for requests arriving faster than the
// configured rate.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit enforces a token-bucket limit across all requests passing
// through the chain. Tokens refill at r per second up to burst; a request
// with no token available fails with ErrRateLimited, which terminates its
// connection.
//
// The limiter lives in the outer closure so it is shared by every request;
// a per-request limiter would start each request with a full bucket.
func RateLimit[Request, Reply any](r float64, burst int) Middleware[Request, Reply] {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Handler[Request, Reply]) Handler[Request, Reply] {
		return func(req *Request) (Reply, error) {
			if !limiter.Allow() {
				var zero Reply
				return zero, ErrRateLimited
			}
			return next(req)
		}
	}
}
