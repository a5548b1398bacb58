// Package sink holds the destinations flushed price batches are delivered to.
// Each subpackage implements crawler.Sink for one backend.
package sink
