package queue

import (
	"time"

	"github.com/JakeFAU/price-harvester/internal/browser"
	"github.com/JakeFAU/price-harvester/internal/progress"
)

const (
	defaultPollInterval           = 100 * time.Millisecond
	defaultMaxConsecutiveFailures = 100
)

// Options configures a Queue.
type Options struct {
	Name      string
	Producers int
	Consumers int
	// PollInterval is how long a consumer waits between checks.
	PollInterval time.Duration
	// MaxConsecutiveFailures is the failure streak a consumer tolerates;
	// one more failure stops it.
	MaxConsecutiveFailures int
	// StatsInterval is the snapshot period. Zero or negative disables
	// periodic snapshots; the final snapshot is still emitted.
	StatsInterval time.Duration
	// JobTimeout bounds a single Consume call when positive.
	JobTimeout time.Duration
	Browser    browser.Options
	StatsSinks []progress.Sink
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "queue"
	}
	if o.Producers <= 0 {
		o.Producers = 1
	}
	if o.Consumers <= 0 {
		o.Consumers = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	return o
}
