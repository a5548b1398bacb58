package queue

import "context"

// Producer enumerates jobs and hands them to the queue through w.Push.
type Producer interface {
	Produce(ctx context.Context, w *Worker) error
}

// Consumer turns one job into output.
type Consumer interface {
	Consume(ctx context.Context, w *Worker, job Job) error
}

// Initializer is an optional hook run before a worker starts.
type Initializer interface {
	Initialize(ctx context.Context, w *Worker) error
}

// Finalizer is an optional hook run after a worker stops, whatever the outcome.
type Finalizer interface {
	Finalize(ctx context.Context, w *Worker) error
}

// ProducerFactory builds the producer for the index-th producer worker.
type ProducerFactory func(index int) Producer

// ConsumerFactory builds the consumer for the index-th consumer worker.
type ConsumerFactory func(index int) Consumer

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, w *Worker) error

// Produce calls f.
func (f ProducerFunc) Produce(ctx context.Context, w *Worker) error { return f(ctx, w) }

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, w *Worker, job Job) error

// Consume calls f.
func (f ConsumerFunc) Consume(ctx context.Context, w *Worker, job Job) error { return f(ctx, w, job) }
