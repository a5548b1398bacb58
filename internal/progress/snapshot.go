package progress

import (
	"fmt"
	"math"
	"time"
)

// Snapshot is a point-in-time view of one queue run.
type Snapshot struct {
	Queue     string
	Consumed  int64
	Produced  int64
	Remaining int
	Elapsed   time.Duration
	// Throughput is consumed jobs per second.
	Throughput float64
	// ETC estimates the time left to drain Remaining at Throughput.
	ETC   time.Duration
	Final bool
}

// Compute derives throughput and ETC from the raw counters.
func Compute(queue string, consumed, produced int64, remaining int, elapsed time.Duration) Snapshot {
	snap := Snapshot{
		Queue:     queue,
		Consumed:  consumed,
		Produced:  produced,
		Remaining: remaining,
		Elapsed:   elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		snap.Throughput = math.Round(float64(consumed)/secs*100) / 100
	}
	if snap.Throughput > 0 {
		snap.ETC = time.Duration(float64(remaining) / snap.Throughput * float64(time.Second)).Round(time.Second)
	}
	return snap
}

func (s Snapshot) String() string {
	return fmt.Sprintf("Total %d consumed (Elapsed: %s, Speed: %.2f/s, Remaining: %d, ETC: %s)",
		s.Consumed, s.Elapsed.Round(time.Second), s.Throughput, s.Remaining, s.ETC)
}
