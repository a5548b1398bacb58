// Package progress computes periodic queue statistics and fans them out to
// pluggable sinks such as structured logs or Prometheus gauges.
package progress
