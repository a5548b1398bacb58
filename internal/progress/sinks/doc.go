// Package sinks implements concrete progress consumers: structured logging and
// Prometheus gauges. Each satisfies progress.Sink.
package sinks
