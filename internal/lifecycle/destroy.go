// ABOUTME: Destruction protocol driver
// ABOUTME: Begins destruction, polls readiness and finishes teardown
package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// DefaultPollInterval is how often Destroy checks readiness
const DefaultPollInterval = 10 * time.Millisecond

// Destroyable is an object that must wait for in-flight work before it is
// torn down
type Destroyable interface {
	BeginDestroy()
	IsReadyForFinishDestroy() bool
	FinishDestroy() error
}

// Destroy runs the full destruction sequence, polling readiness every
// interval until ctx is done
func Destroy(ctx context.Context, d Destroyable, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	d.BeginDestroy()

	if !d.IsReadyForFinishDestroy() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

	wait:
		for {
			select {
			case <-ctx.Done():
				return fmt.Errorf("gave up waiting to finish destroy: %w", ctx.Err())
			case <-ticker.C:
				if d.IsReadyForFinishDestroy() {
					break wait
				}
			}
		}
	}

	return d.FinishDestroy()
}
