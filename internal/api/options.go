package api

import "time"

// Option configures a Handler.
type Option func(*handlerOptions)

type handlerOptions struct {
	heartbeat time.Duration
}

func defaultHandlerOptions() handlerOptions {
	return handlerOptions{heartbeat: 15 * time.Second}
}

// WithHeartbeat sets how often idle event streams send a keepalive comment.
func WithHeartbeat(d time.Duration) Option {
	return func(o *handlerOptions) {
		if d > 0 {
			o.heartbeat = d
		}
	}
}
