package engine

import (
	"context"
	"time"

	"github.com/picklr-io/splunk-stack/internal/logging"
)

// DefaultTimeout is the default per-resource operation timeout.
const DefaultTimeout = 30 * time.Minute

// ParseTimeout reads a resource's timeout ("20m"). Empty or invalid values
// fall back to DefaultTimeout.
func ParseTimeout(s string) time.Duration {
	if s == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		logging.Warn("ignoring invalid timeout", "timeout", s)
		return DefaultTimeout
	}
	return d
}

// WithTimeout wraps a context with a per-resource timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
