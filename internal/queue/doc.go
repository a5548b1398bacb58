// Package queue runs producer and consumer workers over a shared in-memory job
// list. A Queue owns the jobs and a lazily launched browser shared by its
// workers, detects when production is finished and the list is drained, and
// reports progress snapshots while it runs.
package queue
