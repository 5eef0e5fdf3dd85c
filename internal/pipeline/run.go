package pipeline

import (
	"context"
	"time"
)

// sleepWithContext sleeps for d unless the context is cancelled first.
// Returns false when cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
