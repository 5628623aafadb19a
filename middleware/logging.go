package middleware

import (
	"time"

	"go.uber.org/zap"
)

// Logging records the duration and outcome of each request. Successful
// requests log at debug level, failures at error level.
func Logging[Request, Reply any](logger *zap.Logger) Middleware[Request, Reply] {
	return func(next Handler[Request, Reply]) Handler[Request, Reply] {
		return func(req *Request) (Reply, error) {
			start := time.Now()
			reply, err := next(req)
			if err != nil {
				logger.Error("request failed",
					zap.Duration("duration", time.Since(start)),
					zap.Error(err),
				)
			} else {
				logger.Debug("request served",
					zap.Duration("duration", time.Since(start)),
				)
			}
			return reply, err
		}
	}
}
