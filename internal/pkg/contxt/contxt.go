package contxt

import (
	"context"
	"time"
)

// WithTimeout derives a per-operation context from parent. The cancel func
// must be called by the caller; deferring it at the call site releases the
// timer as soon as the operation returns.
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
