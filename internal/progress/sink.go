package progress

import "context"

// Sink consumes queue snapshots. Implementations may be invoked from the
// queue's stats goroutine concurrently with worker activity.
type Sink interface {
	Consume(ctx context.Context, snap Snapshot) error
}
